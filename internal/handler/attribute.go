package handler

import (
	"log/slog"
	"net/http"

	"github.com/sakif/recipe-api/internal/model"
	"github.com/sakif/recipe-api/internal/service"
)

// AttributeHandler serves one attribute catalog: /recipe/tags or
// /recipe/ingredients. The server mounts one instance per kind.
type AttributeHandler struct {
	attrs  *service.AttributeService
	logger *slog.Logger
}

func NewAttributeHandler(attrs *service.AttributeService, logger *slog.Logger) *AttributeHandler {
	return &AttributeHandler{attrs: attrs, logger: logger.With(slog.String("kind", string(attrs.Kind())))}
}

type attributeView struct {
	ID   int64  `json:"id"`
	Name string `json:"name"`
}

func newAttributeViews(attrs []model.Attribute) []attributeView {
	views := make([]attributeView, 0, len(attrs))
	for _, a := range attrs {
		views = append(views, attributeView{ID: a.ID, Name: a.Name})
	}
	return views
}

// HandleList returns the caller's attributes, name descending.
//
// HTTP: GET /recipe/tags, GET /recipe/ingredients
func (h *AttributeHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	attrs, err := h.attrs.List(r.Context(), mustUser(r))
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, newAttributeViews(attrs))
}

type createAttributeRequest struct {
	Name string `json:"name" schema:"name"`
}

// HandleCreate adds an attribute owned by the caller.
//
// HTTP: POST /recipe/tags, POST /recipe/ingredients
// REQUEST BODY: {"name": "Vegan"}
func (h *AttributeHandler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	var req createAttributeRequest
	if err := decodeBody(w, r, &req); err != nil {
		writeError(w, h.logger, err)
		return
	}

	attr, err := h.attrs.Create(r.Context(), mustUser(r), req.Name)
	if err != nil {
		writeError(w, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, attributeView{ID: attr.ID, Name: attr.Name})
}
