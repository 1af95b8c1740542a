package handlers

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// AccountsHandler handles account-related endpoints.
type AccountsHandler struct {
	store store.Store
	log   zerolog.Logger
}

// NewAccountsHandler creates a new accounts handler.
func NewAccountsHandler(s store.Store, log zerolog.Logger) *AccountsHandler {
	return &AccountsHandler{store: s, log: log}
}

// ListAccounts handles GET /api/accounts
func (h *AccountsHandler) ListAccounts(w http.ResponseWriter, r *http.Request) {
	accounts, err := h.store.ListAccounts(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to list accounts")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nonNil(accounts))
}

// CreateAccount handles POST /api/accounts
func (h *AccountsHandler) CreateAccount(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name        string             `json:"name"`
		Type        domain.AccountType `json:"account_type"`
		Institution string             `json:"institution"`
		LastFour    string             `json:"last_four"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	acc := domain.Account{
		ID:          uuid.NewString(),
		OwnerID:     middleware.OwnerID(r.Context()),
		Name:        strings.TrimSpace(req.Name),
		Type:        req.Type,
		Institution: strings.TrimSpace(req.Institution),
		LastFour:    strings.TrimSpace(req.LastFour),
		CreatedAt:   time.Now().UTC(),
	}
	if err := acc.Validate(); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	if err := h.store.InsertAccounts(r.Context(), []domain.Account{acc}); err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to create account")
		return
	}
	middleware.WriteJSON(w, http.StatusCreated, acc)
}
