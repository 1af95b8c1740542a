package handlers

import (
	"fmt"
	"net/http"

	"cloud.google.com/go/civil"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/analytics"
	"github.com/dvloznov/spendalizer/internal/api/middleware"
)

// AnalyticsHandler handles dashboard aggregation endpoints.
type AnalyticsHandler struct {
	analytics *analytics.Service
	log       zerolog.Logger
}

// NewAnalyticsHandler creates a new analytics handler.
func NewAnalyticsHandler(svc *analytics.Service, log zerolog.Logger) *AnalyticsHandler {
	return &AnalyticsHandler{analytics: svc, log: log}
}

// Summary handles GET /api/analytics/summary
func (h *AnalyticsHandler) Summary(w http.ResponseWriter, r *http.Request) {
	rng, err := parseRange(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	sum, err := h.analytics.Summary(r.Context(), middleware.OwnerID(r.Context()), rng)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to compute summary")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, sum)
}

// SpendingOverTime handles GET /api/analytics/spending-over-time
func (h *AnalyticsHandler) SpendingOverTime(w http.ResponseWriter, r *http.Request) {
	rng, group, err := parseRangeAndGroup(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	rows, err := h.analytics.SpendingOverTime(r.Context(), middleware.OwnerID(r.Context()), rng, group)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to compute spending over time")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, rows)
}

// CategoryTrends handles GET /api/analytics/category-trends
func (h *AnalyticsHandler) CategoryTrends(w http.ResponseWriter, r *http.Request) {
	rng, group, err := parseRangeAndGroup(r)
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}

	trends, err := h.analytics.CategoryTrends(r.Context(), middleware.OwnerID(r.Context()), rng, group)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to compute category trends")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, trends)
}

func parseRange(r *http.Request) (analytics.Range, error) {
	var rng analytics.Range
	query := r.URL.Query()
	for key, dst := range map[string]*civil.Date{"start_date": &rng.Start, "end_date": &rng.End} {
		if v := query.Get(key); v != "" {
			d, err := civil.ParseDate(v)
			if err != nil {
				return rng, fmt.Errorf("invalid %s format", key)
			}
			*dst = d
		}
	}
	return rng, nil
}

func parseRangeAndGroup(r *http.Request) (analytics.Range, analytics.GroupBy, error) {
	rng, err := parseRange(r)
	if err != nil {
		return rng, "", err
	}
	group, err := analytics.ParseGroupBy(r.URL.Query().Get("group_by"))
	if err != nil {
		return rng, "", err
	}
	return rng, group, nil
}
