package sqlstore

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"

	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
)

var _ repository.AttributeRepository = (*AttributeStore)(nil)

// AttributeStore serves both the tags and ingredients tables; the
// model.AttributeKind argument picks which one.
type AttributeStore struct{ db *DB }

// Attributes returns the tag/ingredient repository backed by this database.
func (db *DB) Attributes() *AttributeStore { return &AttributeStore{db: db} }

// Create inserts attr. attr.UserID must already be set to the owner.
func (s *AttributeStore) Create(ctx context.Context, kind model.AttributeKind, attr *model.Attribute) error {
	attr.CreatedAt = time.Now().UTC()

	q := s.db.sb.Insert(kind.Table()).
		Columns("user_id", "name", "created_at").
		Values(attr.UserID, attr.Name, attr.CreatedAt).
		Suffix("RETURNING id")

	if err := get(ctx, s.db.conn, &attr.ID, q); err != nil {
		return fmt.Errorf("sqlstore: inserting %s %q: %w", kind, attr.Name, err)
	}
	return nil
}

// List returns the user's attributes ordered by name, Z to A.
func (s *AttributeStore) List(ctx context.Context, kind model.AttributeKind, userID int64) ([]model.Attribute, error) {
	attrs := []model.Attribute{}
	q := s.db.sb.Select("id", "user_id", "name", "created_at").
		From(kind.Table()).
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("name DESC", "id DESC")

	if err := selectAll(ctx, s.db.conn, &attrs, q); err != nil {
		return nil, fmt.Errorf("sqlstore: listing %ss of user %d: %w", kind, userID, err)
	}
	return attrs, nil
}

// ListByIDs returns the user's attributes whose id is in ids.
func (s *AttributeStore) ListByIDs(ctx context.Context, kind model.AttributeKind, userID int64, ids []int64) ([]model.Attribute, error) {
	attrs := []model.Attribute{}
	if len(ids) == 0 {
		return attrs, nil
	}

	q := s.db.sb.Select("id", "user_id", "name", "created_at").
		From(kind.Table()).
		Where(squirrel.Eq{"user_id": userID, "id": ids}).
		OrderBy("id")

	if err := selectAll(ctx, s.db.conn, &attrs, q); err != nil {
		return nil, fmt.Errorf("sqlstore: loading %ss of user %d: %w", kind, userID, err)
	}
	return attrs, nil
}
