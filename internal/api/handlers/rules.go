package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/rules"
)

// RulesHandler handles rule-related endpoints.
type RulesHandler struct {
	svc *rules.Service
	log zerolog.Logger
}

// NewRulesHandler creates a new rules handler.
func NewRulesHandler(svc *rules.Service, log zerolog.Logger) *RulesHandler {
	return &RulesHandler{svc: svc, log: log}
}

// ListRules handles GET /api/rules
func (h *RulesHandler) ListRules(w http.ResponseWriter, r *http.Request) {
	list, err := h.svc.List(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to list rules")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nonNil(list))
}

// CreateRule handles POST /api/rules
func (h *RulesHandler) CreateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := h.svc.Create(r.Context(), middleware.OwnerID(r.Context()), in)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to create rule")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, rule)
}

// UpdateRule handles PUT /api/rules/{id}
func (h *RulesHandler) UpdateRule(w http.ResponseWriter, r *http.Request) {
	var in rules.Input
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	rule, err := h.svc.Update(r.Context(), middleware.OwnerID(r.Context()), mux.Vars(r)["id"], in)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to update rule")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rule)
}

// DeleteRule handles DELETE /api/rules/{id}
func (h *RulesHandler) DeleteRule(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]
	if err := h.svc.Delete(r.Context(), middleware.OwnerID(r.Context()), id); err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to delete rule")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "Rule deleted", "id": id})
}

// ExportRules handles GET /api/rules/export
func (h *RulesHandler) ExportRules(w http.ResponseWriter, r *http.Request) {
	exported, err := h.svc.Export(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to export rules")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]interface{}{
		"rules": nonNil(exported),
		"count": len(exported),
	})
}

// ImportRules handles POST /api/rules/import. The body is either the export
// envelope or a bare array of rules.
func (h *RulesHandler) ImportRules(w http.ResponseWriter, r *http.Request) {
	var raw json.RawMessage
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	var exported []rules.Exported
	if err := json.Unmarshal(raw, &exported); err != nil {
		var envelope struct {
			Rules []rules.Exported `json:"rules"`
		}
		if err := json.Unmarshal(raw, &envelope); err != nil {
			middleware.WriteError(w, http.StatusBadRequest, "Expected a list of rules")
			return
		}
		exported = envelope.Rules
	}

	res, err := h.svc.Import(r.Context(), middleware.OwnerID(r.Context()), exported)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to import rules")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}
