package model

import "time"

// AttributeKind distinguishes the two per-user label catalogs attached to
// recipes. Tags and ingredients have the same shape (id, name, owner), so one
// struct and one repository serve both; the kind picks the table.
type AttributeKind string

const (
	KindTag        AttributeKind = "tag"
	KindIngredient AttributeKind = "ingredient"
)

// Table returns the database table holding attributes of this kind.
func (k AttributeKind) Table() string {
	switch k {
	case KindTag:
		return "tags"
	case KindIngredient:
		return "ingredients"
	}
	panic("model: unknown attribute kind " + string(k))
}

// LinkTable returns the recipe join table for this kind and the name of its
// foreign-key column.
func (k AttributeKind) LinkTable() (table, column string) {
	switch k {
	case KindTag:
		return "recipe_tags", "tag_id"
	case KindIngredient:
		return "recipe_ingredients", "ingredient_id"
	}
	panic("model: unknown attribute kind " + string(k))
}

// Attribute is a tag or an ingredient. Name is required; uniqueness is not
// enforced. UserID never changes after creation.
type Attribute struct {
	ID        int64     `db:"id"`
	UserID    int64     `db:"user_id"`
	Name      string    `db:"name"`
	CreatedAt time.Time `db:"created_at"`
}

// Recipe is a user-owned recipe. TagIDs and IngredientIDs are loaded from the
// join tables and are always non-nil after a repository read.
type Recipe struct {
	ID            int64     `db:"id"`
	UserID        int64     `db:"user_id"`
	Title         string    `db:"title"`
	TimeMinutes   int       `db:"time_minutes"`
	Price         Price     `db:"price_cents"`
	Link          string    `db:"link"`
	Image         string    `db:"image"` // storage key, empty when no image
	TagIDs        []int64   `db:"-"`
	IngredientIDs []int64   `db:"-"`
	CreatedAt     time.Time `db:"created_at"`
	UpdatedAt     time.Time `db:"updated_at"`
}

// RecipeDetail is a recipe with its associations expanded to full objects,
// used by the retrieve endpoint.
type RecipeDetail struct {
	Recipe
	Tags        []Attribute
	Ingredients []Attribute
}

// RecipeFilter narrows a recipe listing. Within one id set the match is OR;
// when both sets are given a recipe must match each of them.
type RecipeFilter struct {
	TagIDs        []int64
	IngredientIDs []int64
}
