// Package repository declares the storage interfaces the service layer
// depends on. The sqlstore package implements all of them.
//
// OWNER SCOPING:
// Every method on AttributeRepository and RecipeRepository takes the caller's
// user ID and applies it to the query itself (WHERE user_id = ?). A row owned
// by someone else is indistinguishable from a row that does not exist: both
// come back as apperror.ErrNotFound.
package repository

import (
	"context"

	"github.com/sakif/recipe-api/internal/model"
)

type UserRepository interface {
	Create(ctx context.Context, user *model.User) error
	GetByID(ctx context.Context, id int64) (*model.User, error)
	GetByEmail(ctx context.Context, email string) (*model.User, error)
	List(ctx context.Context) ([]model.User, error)
	Update(ctx context.Context, user *model.User) error
}

type TokenRepository interface {
	// Replace stores token, removing any earlier token of the same user.
	Replace(ctx context.Context, token *model.AuthToken) error
	GetByKey(ctx context.Context, key string) (*model.AuthToken, error)
	DeleteByUser(ctx context.Context, userID int64) error
}

type AttributeRepository interface {
	Create(ctx context.Context, kind model.AttributeKind, attr *model.Attribute) error
	List(ctx context.Context, kind model.AttributeKind, userID int64) ([]model.Attribute, error)
	// ListByIDs returns the caller's attributes among ids, ordered by id.
	// Ids that are missing or owned by another user are simply absent.
	ListByIDs(ctx context.Context, kind model.AttributeKind, userID int64, ids []int64) ([]model.Attribute, error)
}

type RecipeRepository interface {
	Create(ctx context.Context, recipe *model.Recipe) error
	GetByID(ctx context.Context, userID, id int64) (*model.Recipe, error)
	List(ctx context.Context, userID int64, filter model.RecipeFilter) ([]model.Recipe, error)
	// Update writes every column and replaces both association sets.
	Update(ctx context.Context, recipe *model.Recipe) error
	Delete(ctx context.Context, userID, id int64) error
}
