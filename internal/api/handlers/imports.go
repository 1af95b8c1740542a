package handlers

import (
	"errors"
	"io"
	"net/http"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/pipeline"
	"github.com/dvloznov/spendalizer/internal/store"
)

// maxUploadBytes bounds statement and archive uploads.
const maxUploadBytes = 50 << 20

// ImportsHandler handles statement import endpoints.
type ImportsHandler struct {
	importer *pipeline.Importer
	store    store.Reader
	log      zerolog.Logger
}

// NewImportsHandler creates a new imports handler.
func NewImportsHandler(importer *pipeline.Importer, s store.Reader, log zerolog.Logger) *ImportsHandler {
	return &ImportsHandler{importer: importer, store: s, log: log}
}

// Import handles POST /api/import (multipart: file, account_id, data_source)
func (h *ImportsHandler) Import(w http.ResponseWriter, r *http.Request) {
	data, filename, err := readUpload(w, r, "file")
	if err != nil {
		middleware.WriteError(w, http.StatusBadRequest, err.Error())
		return
	}
	accountID := r.FormValue("account_id")
	if accountID == "" {
		middleware.WriteError(w, http.StatusBadRequest, "account_id is required")
		return
	}

	batch, err := h.importer.Import(r.Context(), pipeline.Request{
		OwnerID:    middleware.OwnerID(r.Context()),
		AccountID:  accountID,
		DataSource: r.FormValue("data_source"),
		FileName:   filename,
		Data:       data,
	})
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Import failed")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, batch)
}

// ListImports handles GET /api/imports
func (h *ImportsHandler) ListImports(w http.ResponseWriter, r *http.Request) {
	batches, err := h.store.ListImportBatches(r.Context(), middleware.OwnerID(r.Context()))
	if err != nil {
		middleware.WriteServiceError(w, h.log, err, "Failed to list imports")
		return
	}
	middleware.WriteJSON(w, http.StatusOK, nonNil(batches))
}

// readUpload returns the bytes and base name of the multipart file field.
func readUpload(w http.ResponseWriter, r *http.Request, field string) ([]byte, string, error) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)
	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		return nil, "", errors.New("invalid multipart form")
	}
	f, header, err := r.FormFile(field)
	if err != nil {
		return nil, "", errors.New(field + " is required")
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return nil, "", errors.New("failed to read " + field)
	}
	return data, filepath.Base(header.Filename), nil
}
