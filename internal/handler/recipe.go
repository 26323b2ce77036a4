package handler

import (
	"bytes"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/sakif/recipe-api/internal/apperror"
	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/service"
)

// RecipeHandler serves /recipe/recipes.
//
// RESPONSE SHAPES:
// The shape depends on the operation, not on the resource:
//   - list, create, update → recipeView (tag and ingredient ids)
//   - retrieve             → recipeDetailView (nested tags and ingredients, image URL)
//   - upload-image         → recipeImageView ({id, image})
type RecipeHandler struct {
	recipes *service.RecipeService
	logger  *slog.Logger
}

func NewRecipeHandler(recipes *service.RecipeService, logger *slog.Logger) *RecipeHandler {
	return &RecipeHandler{recipes: recipes, logger: logger}
}

type recipeView struct {
	ID          int64       `json:"id"`
	Title       string      `json:"title"`
	TimeMinutes int         `json:"time_minutes"`
	Price       model.Price `json:"price"`
	Link        string      `json:"link"`
	Tags        []int64     `json:"tags"`
	Ingredients []int64     `json:"ingredients"`
}

func newRecipeView(r *model.Recipe) recipeView {
	v := recipeView{
		ID:          r.ID,
		Title:       r.Title,
		TimeMinutes: r.TimeMinutes,
		Price:       r.Price,
		Link:        r.Link,
		Tags:        r.TagIDs,
		Ingredients: r.IngredientIDs,
	}
	if v.Tags == nil {
		v.Tags = []int64{}
	}
	if v.Ingredients == nil {
		v.Ingredients = []int64{}
	}
	return v
}

type recipeDetailView struct {
	ID          int64           `json:"id"`
	Title       string          `json:"title"`
	TimeMinutes int             `json:"time_minutes"`
	Price       model.Price     `json:"price"`
	Link        string          `json:"link"`
	Tags        []attributeView `json:"tags"`
	Ingredients []attributeView `json:"ingredients"`
	Image       *string         `json:"image"` // null when no image
}

type recipeImageView struct {
	ID    int64   `json:"id"`
	Image *string `json:"image"`
}

func (h *RecipeHandler) imageURL(key string) *string {
	if key == "" {
		return nil
	}
	u := h.recipes.ImageURL(key)
	return &u
}

// recipeRequest mirrors service.RecipeInput for JSON bodies. Pointers
// distinguish "not sent" from zero values, which PATCH relies on.
type recipeRequest struct {
	Title       *string      `json:"title"`
	TimeMinutes *int         `json:"time_minutes"`
	Price       *model.Price `json:"price"`
	Link        *string      `json:"link"`
	Tags        *[]int64     `json:"tags"`
	Ingredients *[]int64     `json:"ingredients"`
}

// notNullFields are the recipe fields an explicit null may not clear.
var notNullFields = []string{"title", "time_minutes", "price"}

// UnmarshalJSON rejects an explicit null on a required field. Without this
// check a null would decode to a nil pointer and look like an absent field.
func (req *recipeRequest) UnmarshalJSON(data []byte) error {
	type plain recipeRequest
	if err := json.Unmarshal(data, (*plain)(req)); err != nil {
		return err
	}

	var fields map[string]json.RawMessage
	if err := json.Unmarshal(data, &fields); err != nil {
		return err
	}
	for _, name := range notNullFields {
		if raw, ok := fields[name]; ok && bytes.Equal(bytes.TrimSpace(raw), []byte("null")) {
			return apperror.ValidationFailed(name, "this field may not be null")
		}
	}
	return nil
}

func (req recipeRequest) input() service.RecipeInput {
	return service.RecipeInput{
		Title:         req.Title,
		TimeMinutes:   req.TimeMinutes,
		Price:         req.Price,
		Link:          req.Link,
		TagIDs:        req.Tags,
		IngredientIDs: req.Ingredients,
	}
}

// recipeForm is the form-encoded counterpart of recipeRequest. Scalars stay
// strings until input() so that conversion errors name their field. Tags and
// ingredients are repeated fields ("tags=1&tags=2").
type recipeForm struct {
	Title       *string  `schema:"title"`
	TimeMinutes *string  `schema:"time_minutes"`
	Price       *string  `schema:"price"`
	Link        *string  `schema:"link"`
	Tags        []string `schema:"tags"`
	Ingredients []string `schema:"ingredients"`
}

func (f recipeForm) input() (service.RecipeInput, error) {
	in := service.RecipeInput{Title: f.Title, Link: f.Link}

	if f.TimeMinutes != nil {
		n, err := strconv.Atoi(strings.TrimSpace(*f.TimeMinutes))
		if err != nil {
			return in, apperror.ValidationFailed("time_minutes", "a valid integer is required")
		}
		in.TimeMinutes = &n
	}
	if f.Price != nil {
		p, err := model.ParsePrice(strings.TrimSpace(*f.Price))
		if err != nil {
			return in, apperror.ValidationFailed("price", err.Error())
		}
		in.Price = &p
	}

	var err error
	if in.TagIDs, err = formIDs("tags", f.Tags); err != nil {
		return in, err
	}
	if in.IngredientIDs, err = formIDs("ingredients", f.Ingredients); err != nil {
		return in, err
	}
	return in, nil
}

// decodeRecipe reads a recipe body sent as JSON or as a form.
func decodeRecipe(w http.ResponseWriter, r *http.Request) (service.RecipeInput, error) {
	if formMediaType(r) != "" {
		var form recipeForm
		if err := decodeBody(w, r, &form); err != nil {
			return service.RecipeInput{}, err
		}
		return form.input()
	}

	var req recipeRequest
	if err := decodeBody(w, r, &req); err != nil {
		return service.RecipeInput{}, err
	}
	return req.input(), nil
}

// HandleList returns the caller's recipes, newest first.
//
// HTTP: GET /recipe/recipes?tags=1,2&ingredients=3
//
// Within one parameter the ids are OR-ed; when both are given a recipe must
// match each.
func (h *RecipeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	var (
		filter model.RecipeFilter
		err    error
	)
	query := r.URL.Query()
	if filter.TagIDs, err = parseIDList("tags", query.Get("tags")); err != nil {
		writeError(w, h.logger, err)
		return
	}
	if filter.IngredientIDs, err = parseIDList("ingredients", query.Get("ingredients")); err != nil {
		writeError(w, h.logger, err)
		return
	}

	recipes, err := h.recipes.List(r.Context(), mustUser(r), filter)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	views := make([]recipeView, 0, len(recipes))
	for i := range recipes {
		views = append(views, newRecipeView(&recipes[i]))
	}
	writeJSON(w, http.StatusOK, views)
}

// HandleCreate stores a new recipe for the caller.
//
// HTTP: POST /recipe/recipes
// REQUEST BODY: {"title": "Cheesecake", "time_minutes": 30, "price": "5.00", "tags": [1, 2]}
// or the same fields form-encoded, with tags and ingredients repeated.
func (h *RecipeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	in, err := decodeRecipe(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	recipe, err := h.recipes.Create(r.Context(), mustUser(r), in)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, newRecipeView(recipe))
}

// HandleGet returns one recipe with its tags and ingredients expanded.
//
// HTTP: GET /recipe/recipes/{id}
func (h *RecipeHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "recipe")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	detail, err := h.recipes.Get(r.Context(), mustUser(r), id)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	writeJSON(w, http.StatusOK, recipeDetailView{
		ID:          detail.ID,
		Title:       detail.Title,
		TimeMinutes: detail.TimeMinutes,
		Price:       detail.Price,
		Link:        detail.Link,
		Tags:        newAttributeViews(detail.Tags),
		Ingredients: newAttributeViews(detail.Ingredients),
		Image:       h.imageURL(detail.Image),
	})
}

// HandleUpdate serves both PUT (full replace) and PATCH (partial update).
//
// HTTP: PUT /recipe/recipes/{id}, PATCH /recipe/recipes/{id}
//
// PUT needs title, time_minutes and price, and clears tags, ingredients and
// link when they are left out. PATCH changes only what is sent.
func (h *RecipeHandler) HandleUpdate(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "recipe")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	in, err := decodeRecipe(w, r)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	partial := r.Method == http.MethodPatch
	recipe, err := h.recipes.Update(r.Context(), mustUser(r), id, in, partial)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newRecipeView(recipe))
}

// HandleDelete removes a recipe and its image.
//
// HTTP: DELETE /recipe/recipes/{id}
func (h *RecipeHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "recipe")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	if err := h.recipes.Delete(r.Context(), mustUser(r), id); err != nil {
		writeError(w, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// HandleUploadImage attaches an image to a recipe, replacing any previous one.
//
// HTTP: POST /recipe/recipes/{id}/upload-image
// BODY: multipart/form-data with the file in field "image"
// RESPONSE: 200 {"id": 1, "image": "http://.../uploads/recipe/<uuid>.jpg"}
func (h *RecipeHandler) HandleUploadImage(w http.ResponseWriter, r *http.Request) {
	id, err := pathID(chi.URLParam(r, "id"), "recipe")
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	// Leave room for the multipart framing around the file itself.
	r.Body = http.MaxBytesReader(w, r.Body, service.MaxImageBytes+maxBodyBytes)
	if err := r.ParseMultipartForm(maxBodyBytes); err != nil {
		var maxErr *http.MaxBytesError
		if errors.As(err, &maxErr) {
			writeError(w, h.logger, apperror.ValidationFailed("image", "image is too large"))
			return
		}
		writeError(w, h.logger, apperror.ValidationFailed("image", "expected a multipart/form-data body"))
		return
	}
	defer r.MultipartForm.RemoveAll()

	file, _, err := r.FormFile("image")
	if err != nil {
		writeError(w, h.logger, apperror.ValidationFailed("image", "no file was submitted"))
		return
	}
	defer file.Close()

	// One byte over the limit is enough for the service to reject it.
	data, err := io.ReadAll(io.LimitReader(file, service.MaxImageBytes+1))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}

	recipe, err := h.recipes.AttachImage(r.Context(), mustUser(r), id, data)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, recipeImageView{ID: recipe.ID, Image: h.imageURL(recipe.Image)})
}
