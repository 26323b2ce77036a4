package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"  // register GIF decoder
	_ "image/jpeg" // register JPEG decoder
	_ "image/png"  // register PNG decoder
	"log/slog"
	"math"
	"slices"
	"strings"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/repository"
	"github.com/sakif/recipe-api/internal/storage"
)

const (
	MaxTitleLength = 255
	MaxLinkLength  = 255
	MaxImageBytes  = 10 << 20 // 10 MiB

	// MaxTimeMinutes matches the INTEGER column both databases store it in.
	MaxTimeMinutes = math.MaxInt32
)

// RecipeInput is a create or update request. A nil field was not supplied.
//
// Create needs Title, TimeMinutes and Price. A full update (PUT) needs the
// same and resets every other nil field, which empties TagIDs and
// IngredientIDs. A partial update (PATCH) leaves nil fields alone.
type RecipeInput struct {
	Title         *string
	TimeMinutes   *int
	Price         *model.Price
	Link          *string
	TagIDs        *[]int64
	IngredientIDs *[]int64
}

// RecipeService manages a caller's recipes.
type RecipeService struct {
	recipes repository.RecipeRepository
	attrs   repository.AttributeRepository
	images  storage.ImageStore
	logger  *slog.Logger
}

func NewRecipeService(
	recipes repository.RecipeRepository,
	attrs repository.AttributeRepository,
	images storage.ImageStore,
	logger *slog.Logger,
) *RecipeService {
	return &RecipeService{
		recipes: recipes,
		attrs:   attrs,
		images:  images,
		logger:  logger,
	}
}

// List returns the caller's recipes, newest first, narrowed by filter.
func (s *RecipeService) List(ctx context.Context, caller *model.User, filter model.RecipeFilter) ([]model.Recipe, error) {
	recipes, err := s.recipes.List(ctx, caller.ID, filter)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: listing: %w", err)
	}
	return recipes, nil
}

// Create validates in and stores a recipe owned by caller.
func (s *RecipeService) Create(ctx context.Context, caller *model.User, in RecipeInput) (*model.Recipe, error) {
	recipe := &model.Recipe{UserID: caller.ID}
	if err := s.apply(ctx, caller, recipe, in, false); err != nil {
		return nil, err
	}

	if err := s.recipes.Create(ctx, recipe); err != nil {
		s.logger.Error("failed to create recipe", slog.Int64("userID", caller.ID), slog.Any("error", err))
		return nil, fmt.Errorf("service/recipe: creating: %w", err)
	}

	s.logger.Info("recipe created",
		slog.Int64("id", recipe.ID),
		slog.Int64("userID", caller.ID),
		slog.Int("tags", len(recipe.TagIDs)),
		slog.Int("ingredients", len(recipe.IngredientIDs)),
	)
	return recipe, nil
}

// Get returns the recipe with its tags and ingredients expanded. A recipe
// owned by someone else is reported as not found.
func (s *RecipeService) Get(ctx context.Context, caller *model.User, id int64) (*model.RecipeDetail, error) {
	recipe, err := s.recipes.GetByID(ctx, caller.ID, id)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: fetching %d: %w", id, err)
	}

	detail := &model.RecipeDetail{Recipe: *recipe}
	if detail.Tags, err = s.attrs.ListByIDs(ctx, model.KindTag, caller.ID, recipe.TagIDs); err != nil {
		return nil, fmt.Errorf("service/recipe: loading tags of %d: %w", id, err)
	}
	if detail.Ingredients, err = s.attrs.ListByIDs(ctx, model.KindIngredient, caller.ID, recipe.IngredientIDs); err != nil {
		return nil, fmt.Errorf("service/recipe: loading ingredients of %d: %w", id, err)
	}
	return detail, nil
}

// Update applies in to recipe id. partial selects PATCH semantics; see
// RecipeInput.
func (s *RecipeService) Update(ctx context.Context, caller *model.User, id int64, in RecipeInput, partial bool) (*model.Recipe, error) {
	recipe, err := s.recipes.GetByID(ctx, caller.ID, id)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: fetching %d: %w", id, err)
	}

	if !partial {
		if in.Link == nil {
			recipe.Link = ""
		}
		if in.TagIDs == nil {
			recipe.TagIDs = []int64{}
		}
		if in.IngredientIDs == nil {
			recipe.IngredientIDs = []int64{}
		}
	}
	if err := s.apply(ctx, caller, recipe, in, partial); err != nil {
		return nil, err
	}

	if err := s.recipes.Update(ctx, recipe); err != nil {
		return nil, fmt.Errorf("service/recipe: updating %d: %w", id, err)
	}

	s.logger.Info("recipe updated",
		slog.Int64("id", id),
		slog.Int64("userID", caller.ID),
		slog.Bool("partial", partial),
	)
	return recipe, nil
}

// Delete removes the recipe and then its image, if any. A failure to delete
// the image is logged, not returned: the recipe is already gone.
func (s *RecipeService) Delete(ctx context.Context, caller *model.User, id int64) error {
	recipe, err := s.recipes.GetByID(ctx, caller.ID, id)
	if err != nil {
		return fmt.Errorf("service/recipe: fetching %d: %w", id, err)
	}
	if err := s.recipes.Delete(ctx, caller.ID, id); err != nil {
		return fmt.Errorf("service/recipe: deleting %d: %w", id, err)
	}

	s.removeImage(ctx, recipe.Image)
	s.logger.Info("recipe deleted", slog.Int64("id", id), slog.Int64("userID", caller.ID))
	return nil
}

// AttachImage validates data as a JPEG, PNG or GIF image, stores it under a
// fresh key, points the recipe at it, and then removes the previous image.
func (s *RecipeService) AttachImage(ctx context.Context, caller *model.User, id int64, data []byte) (*model.Recipe, error) {
	recipe, err := s.recipes.GetByID(ctx, caller.ID, id)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: fetching %d: %w", id, err)
	}

	if len(data) == 0 {
		return nil, apperror.ValidationFailed("image", "no file was submitted")
	}
	if len(data) > MaxImageBytes {
		return nil, apperror.ValidationFailed("image",
			fmt.Sprintf("image must be %d MiB or smaller", MaxImageBytes>>20))
	}
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, apperror.ValidationFailed("image",
			"upload a valid image; the file you uploaded was either not an image or a corrupted image")
	}

	ext := format
	if format == "jpeg" {
		ext = "jpg"
	}
	key := storage.NewImageKey(ext)
	if err := s.images.Put(ctx, key, data, "image/"+format); err != nil {
		s.logger.Error("failed to store image", slog.Int64("recipeID", id), slog.Any("error", err))
		return nil, fmt.Errorf("service/recipe: storing image for %d: %w", id, err)
	}

	previous := recipe.Image
	recipe.Image = key
	if err := s.recipes.Update(ctx, recipe); err != nil {
		s.removeImage(ctx, key)
		return nil, fmt.Errorf("service/recipe: saving image of %d: %w", id, err)
	}
	s.removeImage(ctx, previous)

	s.logger.Info("recipe image attached",
		slog.Int64("id", id),
		slog.String("key", key),
		slog.Int("bytes", len(data)),
	)
	return recipe, nil
}

// ImageURL turns a stored image key into a URL, or "" for no image.
func (s *RecipeService) ImageURL(key string) string {
	if key == "" {
		return ""
	}
	return s.images.URL(key)
}

func (s *RecipeService) removeImage(ctx context.Context, key string) {
	if key == "" {
		return
	}
	if err := s.images.Delete(ctx, key); err != nil {
		s.logger.Warn("failed to remove image", slog.String("key", key), slog.Any("error", err))
	}
}

// apply validates in and copies it onto recipe. With partial=false Title,
// TimeMinutes and Price are required.
func (s *RecipeService) apply(ctx context.Context, caller *model.User, recipe *model.Recipe, in RecipeInput, partial bool) error {
	if !partial {
		switch {
		case in.Title == nil:
			return apperror.ValidationFailed("title", "this field is required")
		case in.TimeMinutes == nil:
			return apperror.ValidationFailed("time_minutes", "this field is required")
		case in.Price == nil:
			return apperror.ValidationFailed("price", "this field is required")
		}
	}

	if in.Title != nil {
		title := strings.TrimSpace(*in.Title)
		if title == "" {
			return apperror.ValidationFailed("title", "this field may not be blank")
		}
		if len(title) > MaxTitleLength {
			return apperror.ValidationFailed("title",
				fmt.Sprintf("title must be %d characters or less", MaxTitleLength))
		}
		recipe.Title = title
	}
	if in.TimeMinutes != nil {
		if *in.TimeMinutes < 0 {
			return apperror.ValidationFailed("time_minutes", "ensure this value is greater than or equal to 0")
		}
		if *in.TimeMinutes > MaxTimeMinutes {
			return apperror.ValidationFailed("time_minutes",
				fmt.Sprintf("ensure this value is less than or equal to %d", MaxTimeMinutes))
		}
		recipe.TimeMinutes = *in.TimeMinutes
	}
	if in.Price != nil {
		if *in.Price < 0 || *in.Price > model.MaxPrice {
			return apperror.ValidationFailed("price", "ensure the price is between 0.00 and 999.99")
		}
		recipe.Price = *in.Price
	}
	if in.Link != nil {
		link := strings.TrimSpace(*in.Link)
		if len(link) > MaxLinkLength {
			return apperror.ValidationFailed("link",
				fmt.Sprintf("link must be %d characters or less", MaxLinkLength))
		}
		recipe.Link = link
	}
	if in.TagIDs != nil {
		ids, err := s.ownedIDs(ctx, caller, model.KindTag, *in.TagIDs)
		if err != nil {
			return err
		}
		recipe.TagIDs = ids
	}
	if in.IngredientIDs != nil {
		ids, err := s.ownedIDs(ctx, caller, model.KindIngredient, *in.IngredientIDs)
		if err != nil {
			return err
		}
		recipe.IngredientIDs = ids
	}
	if recipe.TagIDs == nil {
		recipe.TagIDs = []int64{}
	}
	if recipe.IngredientIDs == nil {
		recipe.IngredientIDs = []int64{}
	}
	return nil
}

// ownedIDs de-duplicates ids and checks every one names an attribute of
// kind owned by caller. The result is sorted.
func (s *RecipeService) ownedIDs(ctx context.Context, caller *model.User, kind model.AttributeKind, ids []int64) ([]int64, error) {
	field := string(kind) + "s"

	unique := slices.Clone(ids)
	slices.Sort(unique)
	unique = slices.Compact(unique)
	if len(unique) == 0 {
		return []int64{}, nil
	}

	found, err := s.attrs.ListByIDs(ctx, kind, caller.ID, unique)
	if err != nil {
		return nil, fmt.Errorf("service/recipe: checking %s: %w", field, err)
	}

	owned := make(map[int64]bool, len(found))
	for _, a := range found {
		owned[a.ID] = true
	}
	for _, id := range unique {
		if !owned[id] {
			return nil, apperror.ValidationFailed(field,
				fmt.Sprintf("invalid pk %q - object does not exist", fmt.Sprint(id)))
		}
	}
	return unique, nil
}
