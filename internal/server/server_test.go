package server

import (
	"bytes"
	"context"
	"encoding/json"
	"image"
	"image/png"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sakif/recipe-api/internal/auth"
	"github.com/sakif/recipe-api/internal/config"
	"github.com/sakif/recipe-api/internal/repository/sqlstore"
	"github.com/sakif/recipe-api/internal/service"
	"github.com/sakif/recipe-api/internal/storage"
)

// =========================================================================
// TEST HARNESS
// =========================================================================

type fakeGitHub struct{ user *auth.GitHubUser }

func (f *fakeGitHub) AuthURL(state string) string {
	return "https://github.example/authorize?state=" + state
}

func (f *fakeGitHub) Exchange(_ context.Context, code string) (*auth.GitHubUser, error) {
	if code != "good-code" {
		return nil, io.ErrUnexpectedEOF
	}
	return f.user, nil
}

type testServer struct {
	*Server
	db *sqlstore.DB
}

// newTestServer wires the real router against an in-memory database and a
// local image store in a temp dir.
func newTestServer(t *testing.T) *testServer {
	t.Helper()
	ctx := context.Background()

	cfg := config.Default()
	cfg.Database.DSN = ":memory:"
	cfg.Media.Dir = t.TempDir()
	cfg.Auth.TokenSecret = "server-test-secret-0123456789"

	db, err := sqlstore.New(ctx, sqlstore.SQLite, ":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	signer, err := auth.NewTokenSigner(cfg.Auth.TokenSecret, 0)
	require.NoError(t, err)
	images, err := storage.NewLocalStore(cfg.Media.Dir, cfg.Media.URL)
	require.NoError(t, err)

	logger := slog.New(slog.NewTextHandler(io.Discard, nil))
	s, err := newServer(cfg, deps{
		db:        db,
		images:    images,
		media:     images.Handler(),
		signer:    signer,
		passwords: auth.NewPasswordServiceForTest(4),
		github:    &fakeGitHub{user: &auth.GitHubUser{ID: 7, Login: "octo", Email: "octo@mail.com"}},
	}, logger)
	require.NoError(t, err)

	return &testServer{Server: s, db: db}
}

// do sends a request through the router. body is JSON-encoded unless it is
// already an io.Reader.
func (ts *testServer) do(t *testing.T, method, path, token string, body any) *httptest.ResponseRecorder {
	t.Helper()

	var reader io.Reader
	switch b := body.(type) {
	case nil:
	case io.Reader:
		reader = b
	default:
		raw, err := json.Marshal(b)
		require.NoError(t, err)
		reader = bytes.NewReader(raw)
	}

	req := httptest.NewRequest(method, path, reader)
	if reader != nil && req.Header.Get("Content-Type") == "" {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Token "+token)
	}
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

// signup registers email with password "secret" and returns its token.
func (ts *testServer) signup(t *testing.T, email string) string {
	t.Helper()

	rr := ts.do(t, http.MethodPost, "/user/create", "", map[string]string{
		"email": email, "password": "secret", "name": "Test",
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	rr = ts.do(t, http.MethodPost, "/user/token", "", map[string]string{
		"email": email, "password": "secret",
	})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	return decode[map[string]string](t, rr)["token"]
}

func decode[T any](t *testing.T, rr *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rr.Body.Bytes(), &v), rr.Body.String())
	return v
}

type recipeJSON struct {
	ID          int64   `json:"id"`
	Title       string  `json:"title"`
	TimeMinutes int     `json:"time_minutes"`
	Price       string  `json:"price"`
	Link        string  `json:"link"`
	Tags        []int64 `json:"tags"`
	Ingredients []int64 `json:"ingredients"`
}

type attrJSON struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func (ts *testServer) createTag(t *testing.T, token, path, name string) int64 {
	t.Helper()
	rr := ts.do(t, http.MethodPost, path, token, map[string]string{"name": name})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[attrJSON](t, rr).ID
}

func (ts *testServer) createRecipe(t *testing.T, token string, body map[string]any) recipeJSON {
	t.Helper()
	rr := ts.do(t, http.MethodPost, "/recipe/recipes", token, body)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	return decode[recipeJSON](t, rr)
}

// =========================================================================
// AUTH
// =========================================================================

func TestProtectedRoutesRequireToken(t *testing.T) {
	ts := newTestServer(t)

	routes := []struct{ method, path string }{
		{http.MethodGet, "/user/me"},
		{http.MethodPatch, "/user/me"},
		{http.MethodDelete, "/user/token"},
		{http.MethodGet, "/recipe/tags"},
		{http.MethodPost, "/recipe/tags"},
		{http.MethodGet, "/recipe/ingredients"},
		{http.MethodPost, "/recipe/ingredients"},
		{http.MethodGet, "/recipe/recipes"},
		{http.MethodPost, "/recipe/recipes"},
		{http.MethodGet, "/recipe/recipes/1"},
		{http.MethodPut, "/recipe/recipes/1"},
		{http.MethodPatch, "/recipe/recipes/1"},
		{http.MethodDelete, "/recipe/recipes/1"},
		{http.MethodPost, "/recipe/recipes/1/upload-image"},
	}

	for _, token := range []string{"", "not-a-real-token"} {
		for _, rt := range routes {
			t.Run(rt.method+" "+rt.path+" token="+token, func(t *testing.T) {
				rr := ts.do(t, rt.method, rt.path, token, nil)
				assert.Equal(t, http.StatusUnauthorized, rr.Code)
				assert.NotEmpty(t, rr.Header().Get("WWW-Authenticate"))
			})
		}
	}
}

func TestUserEndpoints(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodPost, "/user/create", "", map[string]string{
		"email": "Bob@Mail.com", "password": "secret", "name": "Bob",
	})
	require.Equal(t, http.StatusCreated, rr.Code)
	assert.JSONEq(t, `{"email":"bob@mail.com","name":"Bob"}`, rr.Body.String())

	t.Run("duplicate email is 400", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/user/create", "", map[string]string{
			"email": "bob@mail.com", "password": "secret",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)
		assert.Contains(t, decode[map[string]any](t, rr)["fields"], "email")
	})

	t.Run("short password is 400 and persists nothing", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/user/create", "", map[string]string{
			"email": "short@mail.com", "password": "pw",
		})
		assert.Equal(t, http.StatusBadRequest, rr.Code)

		_, err := ts.db.Users().GetByEmail(context.Background(), "short@mail.com")
		assert.Error(t, err)
	})

	t.Run("bad credentials are 400", func(t *testing.T) {
		for _, body := range []map[string]string{
			{"email": "bob@mail.com", "password": "wrong-one"},
			{"email": "nobody@mail.com", "password": "secret"},
			{"email": "bob@mail.com", "password": ""},
		} {
			rr := ts.do(t, http.MethodPost, "/user/token", "", body)
			assert.Equal(t, http.StatusBadRequest, rr.Code)
			assert.NotContains(t, rr.Body.String(), "token\":\"")
		}
	})

	rr = ts.do(t, http.MethodPost, "/user/token", "", map[string]string{
		"email": "bob@mail.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	token := decode[map[string]string](t, rr)["token"]
	require.NotEmpty(t, token)

	t.Run("me", func(t *testing.T) {
		rr := ts.do(t, http.MethodGet, "/user/me", token, nil)
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"email":"bob@mail.com","name":"Bob"}`, rr.Body.String())
	})

	t.Run("POST me is 405", func(t *testing.T) {
		rr := ts.do(t, http.MethodPost, "/user/me", token, map[string]string{})
		assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	})

	t.Run("PATCH me", func(t *testing.T) {
		rr := ts.do(t, http.MethodPatch, "/user/me", token, map[string]string{
			"name": "Robert", "password": "new-secret",
		})
		require.Equal(t, http.StatusOK, rr.Code)
		assert.JSONEq(t, `{"email":"bob@mail.com","name":"Robert"}`, rr.Body.String())

		rr = ts.do(t, http.MethodPost, "/user/token", "", map[string]string{
			"email": "bob@mail.com", "password": "new-secret",
		})
		assert.Equal(t, http.StatusOK, rr.Code)
	})
}

func TestUserEndpoints_FormEncoded(t *testing.T) {
	ts := newTestServer(t)

	form := url.Values{"email": {"form@mail.com"}, "password": {"secret"}, "name": {"Form"}}
	req := httptest.NewRequest(http.MethodPost, "/user/create", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())

	form = url.Values{"email": {"form@mail.com"}, "password": {"secret"}}
	req = httptest.NewRequest(http.MethodPost, "/user/token", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rr = httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
}

func TestLogout(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")

	rr := ts.do(t, http.MethodDelete, "/user/token", token, nil)
	require.Equal(t, http.StatusNoContent, rr.Code)

	rr = ts.do(t, http.MethodGet, "/user/me", token, nil)
	assert.Equal(t, http.StatusUnauthorized, rr.Code)
}

func TestTokenReissueInvalidatesOldToken(t *testing.T) {
	ts := newTestServer(t)
	first := ts.signup(t, "bob@mail.com")

	rr := ts.do(t, http.MethodPost, "/user/token", "", map[string]string{
		"email": "bob@mail.com", "password": "secret",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	second := decode[map[string]string](t, rr)["token"]

	assert.Equal(t, http.StatusUnauthorized, ts.do(t, http.MethodGet, "/user/me", first, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, "/user/me", second, nil).Code)

	// The Bearer scheme is accepted too.
	req := httptest.NewRequest(http.MethodGet, "/user/me", nil)
	req.Header.Set("Authorization", "Bearer "+second)
	rec := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestGitHubSignIn(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/user/github/login", "", nil)
	require.Equal(t, http.StatusTemporaryRedirect, rr.Code)
	cookies := rr.Result().Cookies()
	require.Len(t, cookies, 1)
	state := cookies[0].Value
	assert.Contains(t, rr.Header().Get("Location"), "state="+state)

	callback := func(state, code string, cookie *http.Cookie) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, "/user/github/callback?state="+state+"&code="+code, nil)
		if cookie != nil {
			req.AddCookie(cookie)
		}
		rec := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rec, req)
		return rec
	}

	assert.Equal(t, http.StatusBadRequest, callback(state, "good-code", nil).Code, "missing cookie")
	assert.Equal(t, http.StatusBadRequest, callback("forged", "good-code", cookies[0]).Code, "state mismatch")
	assert.Equal(t, http.StatusUnauthorized, callback(state, "bad-code", cookies[0]).Code, "exchange failure")

	rr = callback(state, "good-code", cookies[0])
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	token := decode[map[string]string](t, rr)["token"]

	rr = ts.do(t, http.MethodGet, "/user/me", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"email":"octo@mail.com","name":"octo"}`, rr.Body.String())
}

// =========================================================================
// TAGS AND INGREDIENTS
// =========================================================================

func TestAttributes_ScopedAndOrdered(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.signup(t, "bob@mail.com")
	eve := ts.signup(t, "eve@mail.com")

	for _, path := range []string{"/recipe/tags", "/recipe/ingredients"} {
		t.Run(path, func(t *testing.T) {
			ts.createTag(t, bob, path, "Apple")
			ts.createTag(t, bob, path, "Cherry")
			ts.createTag(t, eve, path, "Banana")

			rr := ts.do(t, http.MethodGet, path, bob, nil)
			require.Equal(t, http.StatusOK, rr.Code)
			got := decode[[]attrJSON](t, rr)
			require.Len(t, got, 2)
			assert.Equal(t, "Cherry", got[0].Name)
			assert.Equal(t, "Apple", got[1].Name)

			rr = ts.do(t, http.MethodPost, path, bob, map[string]string{"name": ""})
			assert.Equal(t, http.StatusBadRequest, rr.Code)
		})
	}
}

// =========================================================================
// RECIPES
// =========================================================================

func TestRecipe_Cheesecake(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")

	created := ts.createRecipe(t, token, map[string]any{
		"title": "Cheesecake", "time_minutes": 30, "price": 5.00,
	})

	rr := ts.do(t, http.MethodGet, "/recipe/recipes/"+itoa(created.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[map[string]any](t, rr)
	assert.Equal(t, "Cheesecake", got["title"])
	assert.EqualValues(t, 30, got["time_minutes"])
	assert.Equal(t, "5.00", got["price"])
	assert.Equal(t, []any{}, got["tags"])
	assert.Equal(t, []any{}, got["ingredients"])
	assert.Nil(t, got["image"])
}

func TestRecipe_ResponseShapes(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	vegan := ts.createTag(t, token, "/recipe/tags", "Vegan")
	salt := ts.createTag(t, token, "/recipe/ingredients", "Salt")

	created := ts.createRecipe(t, token, map[string]any{
		"title": "Soup", "time_minutes": 10, "price": "2.50",
		"tags": []int64{vegan}, "ingredients": []int64{salt},
	})
	assert.Equal(t, []int64{vegan}, created.Tags)
	assert.Equal(t, []int64{salt}, created.Ingredients)

	rr := ts.do(t, http.MethodGet, "/recipe/recipes/"+itoa(created.ID), token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	detail := decode[struct {
		Tags        []attrJSON `json:"tags"`
		Ingredients []attrJSON `json:"ingredients"`
	}](t, rr)
	assert.Equal(t, []attrJSON{{ID: vegan, Name: "Vegan"}}, detail.Tags)
	assert.Equal(t, []attrJSON{{ID: salt, Name: "Salt"}}, detail.Ingredients)

	rr = ts.do(t, http.MethodGet, "/recipe/recipes", token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	list := decode[[]recipeJSON](t, rr)
	require.Len(t, list, 1)
	assert.Equal(t, []int64{vegan}, list[0].Tags)
}

func TestRecipe_Validation(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.signup(t, "bob@mail.com")
	eve := ts.signup(t, "eve@mail.com")
	eveTag := ts.createTag(t, eve, "/recipe/tags", "Hers")

	cases := []struct {
		name  string
		body  any
		field string
	}{
		{"missing title", map[string]any{"time_minutes": 1, "price": 1}, "title"},
		{"negative time", map[string]any{"title": "x", "time_minutes": -1, "price": 1}, "time_minutes"},
		{"price too big", map[string]any{"title": "x", "time_minutes": 1, "price": "1000.00"}, "price"},
		{"time too big", map[string]any{"title": "x", "time_minutes": 1 << 40, "price": 1}, "time_minutes"},
		{"null title", map[string]any{"title": nil, "time_minutes": 1, "price": 1}, "title"},
		{"null price", map[string]any{"title": "x", "time_minutes": 1, "price": nil}, "price"},
		{"someone else's tag", map[string]any{"title": "x", "time_minutes": 1, "price": 1, "tags": []int64{eveTag}}, "tags"},
		{"malformed json", strings.NewReader(`{"title":`), ""},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.do(t, http.MethodPost, "/recipe/recipes", bob, tc.body)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			if tc.field != "" {
				assert.Contains(t, decode[map[string]any](t, rr)["fields"], tc.field)
			}
		})
	}
}

func TestRecipe_PatchRejectsNullAndOverflow(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	created := ts.createRecipe(t, token, map[string]any{"title": "Pie", "time_minutes": 40, "price": "7.00"})
	path := "/recipe/recipes/" + itoa(created.ID)

	for _, body := range []string{`{"title": null}`, `{"time_minutes": null}`, `{"time_minutes": 1099511627776}`} {
		rr := ts.do(t, http.MethodPatch, path, token, strings.NewReader(body))
		assert.Equal(t, http.StatusBadRequest, rr.Code, body)
	}

	rr := ts.do(t, http.MethodGet, path, token, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	got := decode[recipeJSON](t, rr)
	assert.Equal(t, "Pie", got.Title)
	assert.Equal(t, 40, got.TimeMinutes)
}

// sendForm posts form-encoded values through the router.
func (ts *testServer) sendForm(t *testing.T, method, path, token string, form url.Values) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set("Authorization", "Token "+token)
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func TestRecipe_FormEncoded(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	vegan := ts.createTag(t, token, "/recipe/tags", "Vegan")
	quick := ts.createTag(t, token, "/recipe/tags", "Quick")
	salt := ts.createTag(t, token, "/recipe/ingredients", "Salt")

	rr := ts.sendForm(t, http.MethodPost, "/recipe/recipes", token, url.Values{
		"title":        {"Pie"},
		"time_minutes": {"10"},
		"price":        {"2.50"},
		"tags":         {itoa(vegan), itoa(quick)},
		"ingredients":  {itoa(salt)},
	})
	require.Equal(t, http.StatusCreated, rr.Code, rr.Body.String())
	created := decode[recipeJSON](t, rr)
	assert.Equal(t, "Pie", created.Title)
	assert.Equal(t, 10, created.TimeMinutes)
	assert.Equal(t, "2.50", created.Price)
	assert.ElementsMatch(t, []int64{vegan, quick}, created.Tags)
	assert.Equal(t, []int64{salt}, created.Ingredients)

	path := "/recipe/recipes/" + itoa(created.ID)
	rr = ts.sendForm(t, http.MethodPatch, path, token, url.Values{"title": {"Apple pie"}, "tags": {""}})
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	patched := decode[recipeJSON](t, rr)
	assert.Equal(t, "Apple pie", patched.Title)
	assert.Empty(t, patched.Tags)
	assert.Equal(t, []int64{salt}, patched.Ingredients)

	cases := []struct {
		name  string
		form  url.Values
		field string
	}{
		{"time not a number", url.Values{"title": {"x"}, "time_minutes": {"ten"}, "price": {"1"}}, "time_minutes"},
		{"bad price", url.Values{"title": {"x"}, "time_minutes": {"1"}, "price": {"1.234"}}, "price"},
		{"bad tag id", url.Values{"title": {"x"}, "time_minutes": {"1"}, "price": {"1"}, "tags": {"one"}}, "tags"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			rr := ts.sendForm(t, http.MethodPost, "/recipe/recipes", token, tc.form)
			require.Equal(t, http.StatusBadRequest, rr.Code, rr.Body.String())
			assert.Contains(t, decode[map[string]any](t, rr)["fields"], tc.field)
		})
	}
}

func TestRecipe_PutClearsPatchKeeps(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	tag := ts.createTag(t, token, "/recipe/tags", "Dessert")

	created := ts.createRecipe(t, token, map[string]any{
		"title": "Pie", "time_minutes": 40, "price": "7.00", "tags": []int64{tag},
	})
	path := "/recipe/recipes/" + itoa(created.ID)

	rr := ts.do(t, http.MethodPatch, path, token, map[string]any{"title": "Apple pie"})
	require.Equal(t, http.StatusOK, rr.Code)
	patched := decode[recipeJSON](t, rr)
	assert.Equal(t, "Apple pie", patched.Title)
	assert.Equal(t, []int64{tag}, patched.Tags)
	assert.Equal(t, "7.00", patched.Price)

	rr = ts.do(t, http.MethodPut, path, token, map[string]any{
		"title": "Plain pie", "time_minutes": 25, "price": "6.00",
	})
	require.Equal(t, http.StatusOK, rr.Code)
	put := decode[recipeJSON](t, rr)
	assert.Equal(t, "Plain pie", put.Title)
	assert.Equal(t, 25, put.TimeMinutes)
	assert.Empty(t, put.Tags)

	rr = ts.do(t, http.MethodPut, path, token, map[string]any{"title": "Only title"})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecipe_Filters(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.signup(t, "bob@mail.com")
	eve := ts.signup(t, "eve@mail.com")

	vegan := ts.createTag(t, bob, "/recipe/tags", "Vegan")
	quick := ts.createTag(t, bob, "/recipe/tags", "Quick")
	salt := ts.createTag(t, bob, "/recipe/ingredients", "Salt")
	eveVegan := ts.createTag(t, eve, "/recipe/tags", "Vegan")

	a := ts.createRecipe(t, bob, map[string]any{"title": "A", "time_minutes": 1, "price": 1, "tags": []int64{vegan}, "ingredients": []int64{salt}})
	b := ts.createRecipe(t, bob, map[string]any{"title": "B", "time_minutes": 1, "price": 1, "tags": []int64{vegan, quick}})
	ts.createRecipe(t, bob, map[string]any{"title": "C", "time_minutes": 1, "price": 1})
	ts.createRecipe(t, eve, map[string]any{"title": "E", "time_minutes": 1, "price": 1, "tags": []int64{eveVegan}})

	ids := func(query string) []int64 {
		rr := ts.do(t, http.MethodGet, "/recipe/recipes"+query, bob, nil)
		require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
		var out []int64
		for _, r := range decode[[]recipeJSON](t, rr) {
			out = append(out, r.ID)
		}
		return out
	}

	assert.Equal(t, []int64{b.ID, a.ID}, ids("?tags="+itoa(vegan)+","+itoa(quick)), "OR within a set, no duplicates")
	assert.Equal(t, []int64{a.ID}, ids("?tags="+itoa(vegan)+"&ingredients="+itoa(salt)), "AND across sets")
	assert.Empty(t, ids("?tags="+itoa(eveVegan)), "another user's tag matches none of mine")
	assert.Len(t, ids(""), 3)

	rr := ts.do(t, http.MethodGet, "/recipe/recipes?tags=1,abc", bob, nil)
	assert.Equal(t, http.StatusBadRequest, rr.Code)
}

func TestRecipe_OwnerIsolation(t *testing.T) {
	ts := newTestServer(t)
	bob := ts.signup(t, "bob@mail.com")
	eve := ts.signup(t, "eve@mail.com")

	mine := ts.createRecipe(t, bob, map[string]any{"title": "Mine", "time_minutes": 1, "price": 1})
	path := "/recipe/recipes/" + itoa(mine.ID)

	rr := ts.do(t, http.MethodGet, "/recipe/recipes", eve, nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `[]`, rr.Body.String())

	for _, method := range []string{http.MethodGet, http.MethodPatch, http.MethodDelete} {
		rr := ts.do(t, method, path, eve, map[string]any{"title": "stolen"})
		assert.Equal(t, http.StatusNotFound, rr.Code, method)
	}

	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/recipe/recipes/abc", bob, nil).Code)
	assert.Equal(t, http.StatusOK, ts.do(t, http.MethodGet, path, bob, nil).Code)
}

func TestRecipe_Delete(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	r := ts.createRecipe(t, token, map[string]any{"title": "Gone", "time_minutes": 1, "price": 1})
	path := "/recipe/recipes/" + itoa(r.ID)

	require.Equal(t, http.StatusNoContent, ts.do(t, http.MethodDelete, path, token, nil).Code)
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, path, token, nil).Code)
}

// =========================================================================
// IMAGES
// =========================================================================

func pngBytes(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 10, 10))))
	return buf.Bytes()
}

func multipartBody(t *testing.T, field string, data []byte) (io.Reader, string) {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile(field, "upload.png")
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	return &buf, mw.FormDataContentType()
}

func (ts *testServer) upload(t *testing.T, token string, id int64, field string, data []byte) *httptest.ResponseRecorder {
	t.Helper()
	body, contentType := multipartBody(t, field, data)
	req := httptest.NewRequest(http.MethodPost, "/recipe/recipes/"+itoa(id)+"/upload-image", body)
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Authorization", "Token "+token)
	rr := httptest.NewRecorder()
	ts.Handler().ServeHTTP(rr, req)
	return rr
}

func TestUploadImage(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	r := ts.createRecipe(t, token, map[string]any{"title": "Photo", "time_minutes": 1, "price": 1})

	rr := ts.upload(t, token, r.ID, "image", pngBytes(t))
	require.Equal(t, http.StatusOK, rr.Code, rr.Body.String())
	got := decode[struct {
		ID    int64  `json:"id"`
		Image string `json:"image"`
	}](t, rr)
	assert.Equal(t, r.ID, got.ID)
	assert.True(t, strings.HasPrefix(got.Image, "/media/uploads/recipe/"), got.Image)
	assert.True(t, strings.HasSuffix(got.Image, ".png"), got.Image)

	// The image is served back by the media route, without auth.
	rr = ts.do(t, http.MethodGet, got.Image, "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Equal(t, pngBytes(t), rr.Body.Bytes())

	// Directory listings are off.
	assert.Equal(t, http.StatusNotFound, ts.do(t, http.MethodGet, "/media/uploads/recipe/", "", nil).Code)

	// The detail view carries the same URL.
	rr = ts.do(t, http.MethodGet, "/recipe/recipes/"+itoa(r.ID), token, nil)
	assert.Equal(t, got.Image, decode[map[string]any](t, rr)["image"])
}

func TestUploadImage_Rejects(t *testing.T) {
	ts := newTestServer(t)
	token := ts.signup(t, "bob@mail.com")
	other := ts.signup(t, "eve@mail.com")
	r := ts.createRecipe(t, token, map[string]any{"title": "Photo", "time_minutes": 1, "price": 1})

	assert.Equal(t, http.StatusBadRequest, ts.upload(t, token, r.ID, "image", []byte("not an image")).Code)
	assert.Equal(t, http.StatusBadRequest, ts.upload(t, token, r.ID, "file", pngBytes(t)).Code, "wrong field name")
	assert.Equal(t, http.StatusNotFound, ts.upload(t, other, r.ID, "image", pngBytes(t)).Code)

	rr := ts.do(t, http.MethodPost, "/recipe/recipes/"+itoa(r.ID)+"/upload-image", token, map[string]string{})
	assert.Equal(t, http.StatusBadRequest, rr.Code, "not multipart")
}

// =========================================================================
// ADMIN, HEALTH, FALLBACKS
// =========================================================================

func TestAdmin(t *testing.T) {
	ts := newTestServer(t)
	ts.signup(t, "plain@mail.com")

	ctx := context.Background()
	users := newUserServiceForTest(ts)
	_, err := users.ProvisionSuperuser(ctx, "admin@mail.com", "secret")
	require.NoError(t, err)

	get := func(path, email, password string) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodGet, path, nil)
		if email != "" {
			req.SetBasicAuth(email, password)
		}
		rr := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rr, req)
		return rr
	}

	assert.Equal(t, http.StatusUnauthorized, get("/admin/users", "", "").Code)
	assert.Equal(t, http.StatusUnauthorized, get("/admin/users", "admin@mail.com", "wrong-password").Code)
	assert.Equal(t, http.StatusForbidden, get("/admin/users", "plain@mail.com", "secret").Code)

	rr := get("/admin/users", "admin@mail.com", "secret")
	require.Equal(t, http.StatusOK, rr.Code)
	assert.Contains(t, rr.Header().Get("Content-Type"), "text/html")
	assert.Contains(t, rr.Body.String(), "plain@mail.com")

	assert.Equal(t, http.StatusOK, get("/admin/users/new", "admin@mail.com", "secret").Code)
	assert.Equal(t, http.StatusOK, get("/admin/static/admin.css", "admin@mail.com", "secret").Code)
	assert.Equal(t, http.StatusNotFound, get("/admin/users/999", "admin@mail.com", "secret").Code)

	post := func(path string, form url.Values) *httptest.ResponseRecorder {
		req := httptest.NewRequest(http.MethodPost, path, strings.NewReader(form.Encode()))
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.SetBasicAuth("admin@mail.com", "secret")
		rr := httptest.NewRecorder()
		ts.Handler().ServeHTTP(rr, req)
		return rr
	}

	rr = post("/admin/users/new", url.Values{
		"email": {"Staff@Mail.com"}, "name": {"Staff"}, "password": {"secret"},
		"is_active": {"true"}, "is_staff": {"true"},
	})
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())

	created, err := ts.db.Users().GetByEmail(ctx, "staff@mail.com")
	require.NoError(t, err)
	assert.True(t, created.IsStaff)
	assert.True(t, created.IsActive)

	rr = post("/admin/users/new", url.Values{"email": {"bad"}, "password": {"secret"}})
	assert.Equal(t, http.StatusBadRequest, rr.Code)
	assert.Contains(t, rr.Body.String(), "email")

	// Unchecked boxes deactivate the user.
	rr = post("/admin/users/"+itoa(created.ID), url.Values{"email": {"staff@mail.com"}, "name": {"Staff"}})
	require.Equal(t, http.StatusSeeOther, rr.Code, rr.Body.String())
	updated, err := ts.db.Users().GetByID(ctx, created.ID)
	require.NoError(t, err)
	assert.False(t, updated.IsActive)
	assert.False(t, updated.IsStaff)
}

func TestHealthAndFallbacks(t *testing.T) {
	ts := newTestServer(t)

	rr := ts.do(t, http.MethodGet, "/healthz", "", nil)
	require.Equal(t, http.StatusOK, rr.Code)
	assert.JSONEq(t, `{"status":"ok"}`, rr.Body.String())

	rr = ts.do(t, http.MethodGet, "/nope", "", nil)
	assert.Equal(t, http.StatusNotFound, rr.Code)
	assert.Equal(t, "not_found", decode[map[string]any](t, rr)["error"])

	rr = ts.do(t, http.MethodGet, "/user/create", "", nil)
	assert.Equal(t, http.StatusMethodNotAllowed, rr.Code)
	assert.Equal(t, "method_not_allowed", decode[map[string]any](t, rr)["error"])
}

func itoa(id int64) string { return strconv.FormatInt(id, 10) }

func newUserServiceForTest(ts *testServer) *service.UserService {
	return service.NewUserService(ts.db.Users(), auth.NewPasswordServiceForTest(4), slog.New(slog.NewTextHandler(io.Discard, nil)))
}
