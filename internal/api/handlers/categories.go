package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/categories"
)

// CategoriesHandler handles category-related endpoints.
type CategoriesHandler struct {
	svc *categories.Service
	log zerolog.Logger
}

// NewCategoriesHandler creates a new categories handler.
func NewCategoriesHandler(svc *categories.Service, log zerolog.Logger) *CategoriesHandler {
	return &CategoriesHandler{svc: svc, log: log}
}

// ListCategories handles GET /api/categories
func (h *CategoriesHandler) ListCategories(w http.ResponseWriter, r *http.Request) {
	cats, err := h.svc.List(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to list categories")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nonNil(cats))
}

// CreateCategory handles POST /api/categories
func (h *CategoriesHandler) CreateCategory(w http.ResponseWriter, r *http.Request) {
	var in categories.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.svc.Create(r.Context(), middleware.OwnerID(r.Context()), in)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to create category")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, c)
}

// UpdateCategory handles PUT /api/categories/{id}
func (h *CategoriesHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var in categories.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	c, err := h.svc.Update(r.Context(), middleware.OwnerID(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to update category")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, c)
}

// DeleteCategory handles DELETE /api/categories/{id}
func (h *CategoriesHandler) DeleteCategory(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Delete(r.Context(), middleware.OwnerID(r.Context()), id); err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to delete category")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "Category deleted", "id": id})
}

// nonNil keeps empty lists encoding as [] rather than null.
func nonNil[T any](s []T) []T {
	if s == nil {
		return []T{}
	}
	return s
}
