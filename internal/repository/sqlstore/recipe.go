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

var _ repository.RecipeRepository = (*RecipeStore)(nil)

var recipeColumns = []string{
	"id", "user_id", "title", "time_minutes", "price_cents",
	"link", "image", "created_at", "updated_at",
}

// RecipeStore is the recipes table plus its two join tables.
type RecipeStore struct{ db *DB }

// Recipes returns the recipe repository backed by this database.
func (db *DB) Recipes() *RecipeStore { return &RecipeStore{db: db} }

// Create inserts the recipe row and its tag/ingredient links atomically.
func (s *RecipeStore) Create(ctx context.Context, recipe *model.Recipe) error {
	now := time.Now().UTC()
	recipe.CreatedAt = now
	recipe.UpdatedAt = now

	return s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		q := s.db.sb.Insert("recipes").
			Columns("user_id", "title", "time_minutes", "price_cents", "link", "image", "created_at", "updated_at").
			Values(recipe.UserID, recipe.Title, recipe.TimeMinutes, int64(recipe.Price), recipe.Link, recipe.Image, recipe.CreatedAt, recipe.UpdatedAt).
			Suffix("RETURNING id")

		if err := get(ctx, tx, &recipe.ID, q); err != nil {
			return fmt.Errorf("sqlstore: inserting recipe %q: %w", recipe.Title, err)
		}
		return s.writeLinks(ctx, tx, recipe)
	})
}

// GetByID returns the recipe only if userID owns it; otherwise NotFound.
func (s *RecipeStore) GetByID(ctx context.Context, userID, id int64) (*model.Recipe, error) {
	var r model.Recipe
	q := s.db.sb.Select(recipeColumns...).
		From("recipes").
		Where(squirrel.Eq{"id": id, "user_id": userID})

	if err := get(ctx, s.db.conn, &r, q); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, apperror.NotFound("recipe", id)
		}
		return nil, fmt.Errorf("sqlstore: getting recipe %d: %w", id, err)
	}

	list := []model.Recipe{r}
	if err := s.loadLinks(ctx, list); err != nil {
		return nil, err
	}
	return &list[0], nil
}

// List returns the user's recipes, newest first.
//
// FILTERS:
// Each non-empty id set in filter adds
//
//	id IN (SELECT recipe_id FROM <join table> WHERE <attr>_id IN (...))
//
// A subquery rather than a JOIN keeps each recipe to one row no matter how
// many of the requested ids it carries.
func (s *RecipeStore) List(ctx context.Context, userID int64, filter model.RecipeFilter) ([]model.Recipe, error) {
	q := s.db.sb.Select(recipeColumns...).
		From("recipes").
		Where(squirrel.Eq{"user_id": userID}).
		OrderBy("id DESC")

	for _, f := range []struct {
		kind model.AttributeKind
		ids  []int64
	}{
		{model.KindTag, filter.TagIDs},
		{model.KindIngredient, filter.IngredientIDs},
	} {
		if len(f.ids) == 0 {
			continue
		}
		table, column := f.kind.LinkTable()
		sub, args, err := squirrel.Select("recipe_id").
			From(table).
			Where(squirrel.Eq{column: f.ids}).
			ToSql()
		if err != nil {
			return nil, fmt.Errorf("sqlstore: building %s filter: %w", f.kind, err)
		}
		q = q.Where("id IN ("+sub+")", args...)
	}

	recipes := []model.Recipe{}
	if err := selectAll(ctx, s.db.conn, &recipes, q); err != nil {
		return nil, fmt.Errorf("sqlstore: listing recipes of user %d: %w", userID, err)
	}
	if err := s.loadLinks(ctx, recipes); err != nil {
		return nil, err
	}
	return recipes, nil
}

// Update overwrites every column and both link sets. Ownership is checked by
// the WHERE clause before any link is touched.
func (s *RecipeStore) Update(ctx context.Context, recipe *model.Recipe) error {
	recipe.UpdatedAt = time.Now().UTC()

	return s.db.withTx(ctx, func(tx *sqlx.Tx) error {
		q := s.db.sb.Update("recipes").SetMap(map[string]any{
			"title":        recipe.Title,
			"time_minutes": recipe.TimeMinutes,
			"price_cents":  int64(recipe.Price),
			"link":         recipe.Link,
			"image":        recipe.Image,
			"updated_at":   recipe.UpdatedAt,
		}).Where(squirrel.Eq{"id": recipe.ID, "user_id": recipe.UserID})

		n, err := exec(ctx, tx, q)
		if err != nil {
			return fmt.Errorf("sqlstore: updating recipe %d: %w", recipe.ID, err)
		}
		if n == 0 {
			return apperror.NotFound("recipe", recipe.ID)
		}

		for _, kind := range []model.AttributeKind{model.KindTag, model.KindIngredient} {
			table, _ := kind.LinkTable()
			del := s.db.sb.Delete(table).Where(squirrel.Eq{"recipe_id": recipe.ID})
			if _, err := exec(ctx, tx, del); err != nil {
				return fmt.Errorf("sqlstore: clearing %s links of recipe %d: %w", kind, recipe.ID, err)
			}
		}
		return s.writeLinks(ctx, tx, recipe)
	})
}

// Delete removes the recipe; its link rows go with it (ON DELETE CASCADE).
func (s *RecipeStore) Delete(ctx context.Context, userID, id int64) error {
	q := s.db.sb.Delete("recipes").Where(squirrel.Eq{"id": id, "user_id": userID})
	n, err := exec(ctx, s.db.conn, q)
	if err != nil {
		return fmt.Errorf("sqlstore: deleting recipe %d: %w", id, err)
	}
	if n == 0 {
		return apperror.NotFound("recipe", id)
	}
	return nil
}

func (s *RecipeStore) writeLinks(ctx context.Context, tx *sqlx.Tx, recipe *model.Recipe) error {
	for _, l := range []struct {
		kind model.AttributeKind
		ids  []int64
	}{
		{model.KindTag, recipe.TagIDs},
		{model.KindIngredient, recipe.IngredientIDs},
	} {
		if len(l.ids) == 0 {
			continue
		}
		table, column := l.kind.LinkTable()
		ins := s.db.sb.Insert(table).Columns("recipe_id", column)
		for _, id := range l.ids {
			ins = ins.Values(recipe.ID, id)
		}
		if _, err := exec(ctx, tx, ins); err != nil {
			return fmt.Errorf("sqlstore: linking %ss to recipe %d: %w", l.kind, recipe.ID, err)
		}
	}
	return nil
}

type linkRow struct {
	RecipeID int64 `db:"recipe_id"`
	AttrID   int64 `db:"attr_id"`
}

// loadLinks fills TagIDs and IngredientIDs of every recipe in place with
// one query per join table.
func (s *RecipeStore) loadLinks(ctx context.Context, recipes []model.Recipe) error {
	if len(recipes) == 0 {
		return nil
	}

	ids := make([]int64, len(recipes))
	index := make(map[int64]int, len(recipes))
	for i := range recipes {
		ids[i] = recipes[i].ID
		index[recipes[i].ID] = i
		recipes[i].TagIDs = []int64{}
		recipes[i].IngredientIDs = []int64{}
	}

	for _, kind := range []model.AttributeKind{model.KindTag, model.KindIngredient} {
		table, column := kind.LinkTable()
		var rows []linkRow
		q := s.db.sb.Select("recipe_id", column+" AS attr_id").
			From(table).
			Where(squirrel.Eq{"recipe_id": ids}).
			OrderBy(column)

		if err := selectAll(ctx, s.db.conn, &rows, q); err != nil {
			return fmt.Errorf("sqlstore: loading %s links: %w", kind, err)
		}
		for _, row := range rows {
			r := &recipes[index[row.RecipeID]]
			if kind == model.KindTag {
				r.TagIDs = append(r.TagIDs, row.AttrID)
			} else {
				r.IngredientIDs = append(r.IngredientIDs, row.AttrID)
			}
		}
	}
	return nil
}
