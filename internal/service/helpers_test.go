package service

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository/sqlstore"
)

// =========================================================================
// FAKES AND HELPERS
// =========================================================================

// fakeImageStore keeps objects in memory so tests can assert on what was
// written and deleted.
type fakeImageStore struct {
	mu      sync.Mutex
	objects map[string][]byte
	types   map[string]string
	deleted []string
	putErr  error
}

func newFakeImageStore() *fakeImageStore {
	return &fakeImageStore{
		objects: make(map[string][]byte),
		types:   make(map[string]string),
	}
}

func (f *fakeImageStore) Put(_ context.Context, key string, data []byte, contentType string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.putErr != nil {
		return f.putErr
	}
	f.objects[key] = data
	f.types[key] = contentType
	return nil
}

func (f *fakeImageStore) Delete(_ context.Context, key string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.objects, key)
	f.deleted = append(f.deleted, key)
	return nil
}

func (f *fakeImageStore) URL(key string) string { return "/media/" + key }

// testEnv wires every service against a fresh in-memory database.
type testEnv struct {
	db          *sqlstore.DB
	users       *UserService
	auth        *AuthService
	signer      *auth.TokenSigner
	tags        *AttributeService
	ingredients *AttributeService
	recipes     *RecipeService
	images      *fakeImageStore
}

func newTestEnv(t *testing.T) *testEnv {
	t.Helper()

	db, err := sqlstore.New(context.Background(), sqlstore.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	signer, err := auth.NewTokenSigner("test-secret-at-least-16-chars!!", 0)
	require.NoError(t, err)

	images := newFakeImageStore()
	users := NewUserService(db.Users(), auth.NewPasswordServiceForTest(4), logger)

	return &testEnv{
		db:          db,
		users:       users,
		auth:        NewAuthService(users, db.Users(), db.Tokens(), signer, logger),
		signer:      signer,
		tags:        NewAttributeService(db.Attributes(), model.KindTag, logger),
		ingredients: NewAttributeService(db.Attributes(), model.KindIngredient, logger),
		recipes:     NewRecipeService(db.Recipes(), db.Attributes(), images, logger),
		images:      images,
	}
}

func (e *testEnv) register(t *testing.T, email string) *model.User {
	t.Helper()
	u, err := e.users.Register(context.Background(), email, "secret", "Test")
	require.NoError(t, err)
	return u
}

func ptr[T any](v T) *T { return &v }
