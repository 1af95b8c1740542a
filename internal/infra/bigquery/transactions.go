package bigquery

import (
	"fmt"
	"math/big"
	"time"

	"cloud.google.com/go/bigquery"
	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
)

type TransactionRow struct {
	ID      string `bigquery:"id"`       // REQUIRED
	OwnerID string `bigquery:"owner_id"` // REQUIRED

	AccountID     string              `bigquery:"account_id"`      // REQUIRED
	ImportBatchID bigquery.NullString `bigquery:"import_batch_id"` // NULLABLE

	Date      civil.Date `bigquery:"date"`      // REQUIRED DATE
	Amount    *big.Rat   `bigquery:"amount"`    // REQUIRED NUMERIC, positive magnitude
	Direction string     `bigquery:"direction"` // REQUIRED

	Description string `bigquery:"description"` // REQUIRED STRING

	CategoryID bigquery.NullString  `bigquery:"category_id"` // NULLABLE
	Source     string               `bigquery:"source"`      // REQUIRED
	Confidence bigquery.NullFloat64 `bigquery:"confidence"`  // NULLABLE

	CreatedAt time.Time `bigquery:"created_at"` // REQUIRED
	UpdatedAt time.Time `bigquery:"updated_at"` // REQUIRED
}

// numeric converts a decimal into the *big.Rat BigQuery uses for NUMERIC.
func numeric(d decimal.Decimal) *big.Rat {
	return d.Rat()
}

func fromNumeric(r *big.Rat) (decimal.Decimal, error) {
	if r == nil {
		return decimal.Zero, nil
	}
	// NUMERIC has nine fractional digits
	return decimal.NewFromString(r.FloatString(9))
}

func transactionRow(t domain.Transaction) TransactionRow {
	row := TransactionRow{
		ID:            t.ID,
		OwnerID:       t.OwnerID,
		AccountID:     t.AccountID,
		ImportBatchID: nullString(t.ImportBatchID),
		Date:          t.Date,
		Amount:        numeric(t.Amount),
		Direction:     string(t.Direction),
		Description:   t.Description,
		CategoryID:    nullString(t.CategoryID),
		Source:        string(t.Source),
		CreatedAt:     t.CreatedAt,
		UpdatedAt:     t.UpdatedAt,
	}
	if t.Confidence != nil {
		row.Confidence = bigquery.NullFloat64{Float64: *t.Confidence, Valid: true}
	}
	return row
}

func (r TransactionRow) toDomain() (domain.Transaction, error) {
	amount, err := fromNumeric(r.Amount)
	if err != nil {
		return domain.Transaction{}, fmt.Errorf("transaction %s: amount: %w", r.ID, err)
	}
	t := domain.Transaction{
		ID:            r.ID,
		OwnerID:       r.OwnerID,
		AccountID:     r.AccountID,
		ImportBatchID: r.ImportBatchID.StringVal,
		Date:          r.Date,
		Amount:        amount,
		Direction:     domain.Direction(r.Direction),
		Description:   r.Description,
		CategoryID:    r.CategoryID.StringVal,
		Source:        domain.CategorySource(r.Source),
		CreatedAt:     r.CreatedAt.UTC(),
		UpdatedAt:     r.UpdatedAt.UTC(),
	}
	if r.Confidence.Valid {
		c := r.Confidence.Float64
		t.Confidence = &c
	}
	return t, nil
}

// AssignmentRow is one element of the UNNEST array used by category updates.
type AssignmentRow struct {
	TransactionID string               `bigquery:"transaction_id"`
	CategoryID    bigquery.NullString  `bigquery:"category_id"`
	Source        string               `bigquery:"source"`
	Confidence    bigquery.NullFloat64 `bigquery:"confidence"`
}
