package pipeline

import (
	"fmt"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// Row is one parsed statement line.
type Row struct {
	Line        int
	Date        civil.Date
	Description string
	Amount      decimal.Decimal // positive magnitude
	Direction   domain.Direction
}

// RowError is a statement line that could not be parsed.
type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("line %d: %v", e.Line, e.Err)
}

func (e RowError) Unwrap() error { return e.Err }

// ParseResult holds the rows of a statement file and the lines that failed.
type ParseResult struct {
	Rows   []Row
	Errors []RowError
}

// Request describes one statement import.
type Request struct {
	OwnerID    string
	AccountID  string
	DataSource string
	FileName   string
	Data       []byte
}
