package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

// compile-time check that *UserStore implements repository.UserRepository
var _ repository.UserRepository = (*UserStore)(nil)

var userColumns = []string{
	"id", "email", "name", "password_hash",
	"is_active", "is_staff", "is_superuser",
	"created_at", "updated_at",
}

// UserStore is the users table. Obtain it with DB.Users().
type UserStore struct{ db *DB }

// Users returns the user repository backed by this database.
func (db *DB) Users() *UserStore { return &UserStore{db: db} }

// Create inserts user and fills in its ID and timestamps.
// A duplicate email is reported as apperror.ErrConflict.
func (s *UserStore) Create(ctx context.Context, user *model.User) error {
	now := time.Now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now

	q := s.db.sb.Insert("users").
		Columns("email", "name", "password_hash", "is_active", "is_staff", "is_superuser", "created_at", "updated_at").
		Values(user.Email, user.Name, user.PasswordHash, user.IsActive, user.IsStaff, user.IsSuperuser, user.CreatedAt, user.UpdatedAt).
		Suffix("RETURNING id")

	if err := get(ctx, s.db.conn, &user.ID, q); err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", "user with this email already exists")
		}
		return fmt.Errorf("sqlstore: inserting user %q: %w", user.Email, err)
	}
	return nil
}

// GetByID returns apperror.ErrNotFound if no user has that ID.
func (s *UserStore) GetByID(ctx context.Context, id int64) (*model.User, error) {
	return s.getOne(ctx, squirrel.Eq{"id": id}, id)
}

// GetByEmail looks up a user by exact (already normalised) email.
func (s *UserStore) GetByEmail(ctx context.Context, email string) (*model.User, error) {
	return s.getOne(ctx, squirrel.Eq{"email": email}, email)
}

func (s *UserStore) getOne(ctx context.Context, where squirrel.Eq, key any) (*model.User, error) {
	var u model.User
	q := s.db.sb.Select(userColumns...).From("users").Where(where)
	if err := get(ctx, s.db.conn, &u, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("user", key)
		}
		return nil, fmt.Errorf("sqlstore: getting user %v: %w", key, err)
	}
	return &u, nil
}

// List returns every user, oldest first. Used by the admin pages.
func (s *UserStore) List(ctx context.Context) ([]model.User, error) {
	users := []model.User{}
	q := s.db.sb.Select(userColumns...).From("users").OrderBy("id")
	if err := selectAll(ctx, s.db.conn, &users, q); err != nil {
		return nil, fmt.Errorf("sqlstore: listing users: %w", err)
	}
	return users, nil
}

// Update writes every mutable column of user.
func (s *UserStore) Update(ctx context.Context, user *model.User) error {
	user.UpdatedAt = time.Now().UTC()

	q := s.db.sb.Update("users").SetMap(map[string]any{
		"email":         user.Email,
		"name":          user.Name,
		"password_hash": user.PasswordHash,
		"is_active":     user.IsActive,
		"is_staff":      user.IsStaff,
		"is_superuser":  user.IsSuperuser,
		"updated_at":    user.UpdatedAt,
	}).Where(squirrel.Eq{"id": user.ID})

	n, err := exec(ctx, s.db.conn, q)
	if err != nil {
		if isUniqueViolation(err) {
			return apperror.Conflict("email", "user with this email already exists")
		}
		return fmt.Errorf("sqlstore: updating user %d: %w", user.ID, err)
	}
	if n == 0 {
		return apperror.NotFound("user", user.ID)
	}
	return nil
}
