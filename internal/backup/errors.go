package backup

import (
	"errors"
	"fmt"
	"strings"
)

// ErrRestoreInProgress is returned when a restore for the same owner is
// already running in this process.
var ErrRestoreInProgress = errors.New("a restore is already in progress for this owner")

// ValidationError rejects an archive before any data is touched.
type ValidationError struct {
	Reasons []string
}

func (e *ValidationError) Error() string {
	return "invalid backup archive: " + strings.Join(e.Reasons, "; ")
}

func invalid(format string, args ...interface{}) *ValidationError {
	return &ValidationError{Reasons: []string{fmt.Sprintf(format, args...)}}
}
