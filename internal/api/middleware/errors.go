package middleware

import (
	"errors"
	"net/http"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/jobs"
	"github.com/dvloznov/spendalizer/internal/maintenance"
	"github.com/dvloznov/spendalizer/internal/pipeline"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
)

var badRequest = []error{
	categories.ErrInvalidCategory,
	categorize.ErrInvalidCategory,
	rules.ErrInvalidRule,
	pipeline.ErrUnreadableFile,
	maintenance.ErrConfirmationMismatch,
	maintenance.ErrNothingSelected,
}

var conflict = []error{
	backup.ErrRestoreInProgress,
	categories.ErrCategoryInUse,
	categories.ErrDuplicateName,
}

// StatusFor maps a service error onto an HTTP status.
func StatusFor(err error) int {
	var verr *backup.ValidationError
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, store.ErrNotFound), errors.Is(err, jobs.ErrJobNotFound):
		return http.StatusNotFound
	case errors.Is(err, categories.ErrSystemCategory):
		return http.StatusForbidden
	}
	for _, target := range badRequest {
		if errors.Is(err, target) {
			return http.StatusBadRequest
		}
	}
	for _, target := range conflict {
		if errors.Is(err, target) {
			return http.StatusConflict
		}
	}
	return http.StatusInternalServerError
}

// WriteServiceError writes err with the status StatusFor picks. Client errors
// carry the error text; server errors are logged and answered with msg.
func WriteServiceError(w http.ResponseWriter, log zerolog.Logger, err error, msg string) {
	status := StatusFor(err)
	if status >= http.StatusInternalServerError {
		log.Error().Err(err).Msg(msg)
		WriteError(w, status, msg)
		return
	}
	log.Warn().Err(err).Int("status", status).Msg(msg)
	WriteError(w, status, err.Error())
}
