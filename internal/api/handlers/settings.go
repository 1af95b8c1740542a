package handlers

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/logger"
	"github.com/dvloznov/spendalizer/internal/maintenance"
	"github.com/dvloznov/spendalizer/internal/store"
)

// SettingsHandler handles backup, restore and data maintenance endpoints.
type SettingsHandler struct {
	serializer  *backup.Serializer
	reconciler  *backup.Reconciler
	maintenance *maintenance.Service
	store       store.Reader
	log         zerolog.Logger
}

// NewSettingsHandler creates a new settings handler.
func NewSettingsHandler(serializer *backup.Serializer, reconciler *backup.Reconciler, m *maintenance.Service, s store.Reader, log zerolog.Logger) *SettingsHandler {
	return &SettingsHandler{serializer: serializer, reconciler: reconciler, maintenance: m, store: s, log: log}
}

// Backup handles GET /api/settings/backup and streams the archive as a download.
func (h *SettingsHandler) Backup(w http.ResponseWriter, r *http.Request) {
	data, md, err := h.serializer.Archive(r.Context(), middleware.OwnerID(r.Context()), backup.KindManual)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to create backup")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", backup.DownloadName(md.CreatedAt)))
	w.Header().Set("Content-Length", fmt.Sprint(len(data)))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(data); err != nil {
		h.log.Error().Err(err).Msg("Failed to write backup response")
	}
}

// Restore handles POST /api/settings/restore (multipart field "file").
func (h *SettingsHandler) Restore(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r, "file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	ownerID := middleware.OwnerID(r.Context())

	start := time.Now()
	res, err := h.reconciler.Restore(r.Context(), ownerID, data)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Restore failed")
		return
	}

	log := logger.FromContext(r.Context())
	log.Info().
		Str("owner_id", ownerID).
		Str("file_name", filename).
		Dur("duration", time.Since(start)).
		Msg("Restore request completed")
	middleware.WriteJSON(w, http.StatusOK, res)
}

// DeleteAll handles POST /api/transactions/delete-all
func (h *SettingsHandler) DeleteAll(w http.ResponseWriter, r *http.Request) {
	var req maintenance.DeleteRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		middleware.WriteError(w, http.StatusBadRequest, "Invalid request body")
		return
	}

	res, err := h.maintenance.DeleteAll(r.Context(), middleware.OwnerID(r.Context()), req)
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to delete data")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, res)
}

// DataCheck handles GET /api/debug/data-check
func (h *SettingsHandler) DataCheck(w http.ResponseWriter, r *http.Request) {
	report, err := categories.DataCheck(r.Context(), h.store, middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to check data")
		return
	}
	if !report.Healthy() {
		log := logger.FromContext(r.Context())
		log.Error().
			Str("owner_id", report.OwnerID).
			Strs("orphaned_category_ids", report.OrphanedCategoryIDs).
			Msg("Orphaned category references found")
	}
	middleware.WriteJSON(w, http.StatusOK, report)
}
