package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"

	"cloud.google.com/go/civil"
	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/jobs"
	"github.com/dvloznov/spendalizer/internal/logger"
	"github.com/dvloznov/spendalizer/internal/store"
)

// TransactionsHandler handles transaction listing and categorization endpoints.
type TransactionsHandler struct {
	store     store.Reader
	resolver  *categorize.Resolver
	publisher jobs.Publisher
	log       zerolog.Logger
}

// NewTransactionsHandler creates a new transactions handler.
func NewTransactionsHandler(s store.Reader, resolver *categorize.Resolver, publisher jobs.Publisher, log zerolog.Logger) *TransactionsHandler {
	return &TransactionsHandler{store: s, resolver: resolver, publisher: publisher, log: log}
}

// ListTransactions handles GET /api/transactions
func (h *TransactionsHandler) ListTransactions(w http.ResponseWriter, r *http.Request) {
	filter, err := parseFilter(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	txns, err := h.store.ListTransactions(r.Context(), middleware.OwnerID(r.Context()), filter)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to query transactions")
		return
	}

	// Return array directly for frontend compatibility
	middleware.WriteJSON(w, http.StatusOK, nonNil(txns))
}

func parseFilter(r *http.Request) (store.TransactionFilter, error) {
	query := r.URL.Query()
	filter := store.TransactionFilter{
		AccountID:  query.Get("account_id"),
		CategoryID: query.Get("category_id"),
		Source:     domain.CategorySource(query.Get("source")),
	}
	if filter.Source != "" && !filter.Source.Valid() {
		return filter, fmt.Errorf("invalid source %q", filter.Source)
	}

	if v := query.Get("uncategorized"); v != "" {
		b, err := strconv.ParseBool(v)
		if err != nil {
			return filter, fmt.Errorf("invalid uncategorized %q", v)
		}
		filter.Uncategorized = b
	}

	for key, dst := range map[string]*civil.Date{"start_date": &filter.StartDate, "end_date": &filter.EndDate} {
		if v := query.Get(key); v != "" {
			d, err := civil.ParseDate(v)
			if err != nil {
				return filter, fmt.Errorf("invalid %s format", key)
			}
			*dst = d
		}
	}

	for key, dst := range map[string]*int{"limit": &filter.Limit, "offset": &filter.Offset} {
		if v := query.Get(key); v != "" {
			n, err := strconv.Atoi(v)
			if err != nil || n < 0 {
				return filter, fmt.Errorf("invalid %s %q", key, v)
			}
			*dst = n
		}
	}
	return filter, nil
}

// UpdateCategory handles PATCH /api/transactions/{id}/category
func (h *TransactionsHandler) UpdateCategory(w http.ResponseWriter, r *http.Request) {
	var req struct {
		CategoryID string `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	id := mux.Vars(r)["id"]
	n, err := h.resolver.AssignManual(r.Context(), middleware.OwnerID(r.Context()), []string{id}, req.CategoryID)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to update transaction category")
		return
	}
	if n == 0 {
		middleware.WriteError(w, http.StatusNotFound, "Transaction not found")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]string{"message": "Category updated", "id": id})
}

// BulkCategorize handles POST /api/transactions/bulk-categorize
func (h *TransactionsHandler) BulkCategorize(w http.ResponseWriter, r *http.Request) {
	var req struct {
		IDs        []string `json:"transaction_ids"`
		CategoryID string   `json:"category_id"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}
	if len(req.IDs) == 0 {
		middleware.WriteError(w, http.StatusBadRequest, "transaction_ids is required")
		return
	}

	n, err := h.resolver.AssignManual(r.Context(), middleware.OwnerID(r.Context()), req.IDs, req.CategoryID)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to categorize transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, map[string]int{"updated_count": n})
}

type bulkRequest struct {
	IDs               []string `json:"transaction_ids"`
	UncategorizedOnly bool     `json:"uncategorized_only"`
	Async             bool     `json:"async"`
}

func decodeBulk(r *http.Request) (bulkRequest, error) {
	var req bulkRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		return req, fmt.Errorf("invalid request body")
	}
	if len(req.IDs) == 0 && !req.UncategorizedOnly {
		return req, fmt.Errorf("transaction_ids is required unless uncategorized_only is set")
	}
	return req, nil
}

// BulkCategorizeByRules handles POST /api/transactions/bulk-categorize-by-rules
func (h *TransactionsHandler) BulkCategorizeByRules(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, categorize.TierRules)
}

// BulkCategorizeByAI handles POST /api/transactions/bulk-categorize-by-ai.
// With "async": true the run is queued and 202 is returned with the job id.
func (h *TransactionsHandler) BulkCategorizeByAI(w http.ResponseWriter, r *http.Request) {
	h.bulk(w, r, categorize.TierAI)
}

func (h *TransactionsHandler) bulk(w http.ResponseWriter, r *http.Request, tier categorize.Tier) {
	req, err := decodeBulk(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ctx := r.Context()
	ownerID := middleware.OwnerID(ctx)

	if req.Async {
		h.enqueue(w, r, tier, req)
		return
	}

	var res categorize.BulkResult
	if req.UncategorizedOnly {
		res, err = h.resolver.RecategorizeUncategorized(ctx, ownerID, []categorize.Tier{tier})
	} else {
		res, err = h.resolver.Recategorize(ctx, ownerID, req.IDs, []categorize.Tier{tier})
	}
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to categorize transactions")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

func (h *TransactionsHandler) enqueue(w http.ResponseWriter, r *http.Request, tier categorize.Tier, req bulkRequest) {
	if h.publisher == nil {
		middleware.WriteError(w, http.StatusServiceUnavailable, "Background jobs are not available")
		return
	}
	ctx := r.Context()

	job, err := jobs.NewJob(jobs.JobTypeRecategorize, middleware.OwnerID(ctx), jobs.RecategorizePayload{
		IDs:               req.IDs,
		Tiers:             []string{string(tier)},
		UncategorizedOnly: req.UncategorizedOnly,
	})
	if err == nil {
		err = h.publisher.Publish(ctx, job)
	}
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to enqueue categorization job")
		middleware.WriteError(w, http.StatusInternalServerError, "Failed to enqueue categorization job")
		return
	}

	log := logger.FromContext(ctx)
	log.Info().Str("job_id", job.JobID).Str("owner_id", job.OwnerID).Str("tier", string(tier)).Msg("Categorization job enqueued")
	middleware.WriteJSON(w, http.StatusAccepted, map[string]string{
		"job_id": job.JobID,
		"status": string(job.Status),
	})
}
