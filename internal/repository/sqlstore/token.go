package sqlstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/jmoiron/sqlx"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

var _ repository.TokenRepository = (*TokenStore)(nil)

// TokenStore is the auth_tokens table. Obtain it with DB.Tokens().
type TokenStore struct{ db *DB }

// Tokens returns the token repository backed by this database.
func (db *DB) Tokens() *TokenStore { return &TokenStore{db: db} }

// Replace deletes the user's previous token (if any) and stores the new one
// in the same transaction.
func (s *TokenStore) Replace(ctx context.Context, token *model.AuthToken) error {
	token.CreatedAt = time.Now().UTC()

	return s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		del := s.db.sb.Delete("auth_tokens").Where(squirrel.Eq{"user_id": token.UserID})
		if _, err := exec(ctx, tx, del); err != nil {
			return fmt.Errorf("sqlstore: removing token of user %d: %w", token.UserID, err)
		}

		ins := s.db.sb.Insert("auth_tokens").
			Columns("token", "user_id", "created_at").
			Values(token.Key, token.UserID, token.CreatedAt)
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("sqlstore: storing token of user %d: %w", token.UserID, err)
		}
		return nil
	})
}

// GetByKey returns apperror.ErrNotFound for unknown keys.
func (s *TokenStore) GetByKey(ctx context.Context, key string) (*model.AuthToken, error) {
	var t model.AuthToken
	q := s.db.sb.Select("token", "user_id", "created_at").
		From("auth_tokens").
		Where(squirrel.Eq{"token": key})

	if err := get(ctx, s.db.conn, &t, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("token", "<redacted>")
		}
		return nil, fmt.Errorf("sqlstore: getting token: %w", err)
	}
	return &t, nil
}

// DeleteByUser removes the user's token. Deleting a missing token is not an
// error: logout is idempotent.
func (s *TokenStore) DeleteByUser(ctx context.Context, userID int64) error {
	q := s.db.sb.Delete("auth_tokens").Where(squirrel.Eq{"user_id": userID})
	if _, err := exec(ctx, s.db.conn, q); err != nil {
		return fmt.Errorf("sqlstore: deleting token of user %d: %w", userID, err)
	}
	return nil
}
