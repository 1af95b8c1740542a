package domain

import (
	"fmt"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
)

// Direction tells whether money entered (CREDIT) or left (DEBIT) the account.
type Direction string

const (
	DirectionCredit Direction = "CREDIT"
	DirectionDebit  Direction = "DEBIT"
)

// Valid reports whether d is a known direction.
func (d Direction) Valid() bool {
	return d == DirectionCredit || d == DirectionDebit
}

// CategorySource records which tier produced a transaction's category.
type CategorySource string

const (
	SourceRule   CategorySource = "RULE"
	SourceAI     CategorySource = "AI"
	SourceManual CategorySource = "MANUAL"
	SourceNone   CategorySource = "NONE"
)

// Valid reports whether s is a known categorization source.
func (s CategorySource) Valid() bool {
	switch s {
	case SourceRule, SourceAI, SourceManual, SourceNone:
		return true
	}
	return false
}

// Transaction is one imported financial event.
// Amount is always a positive magnitude; Direction carries the sign.
type Transaction struct {
	ID            string          `json:"id"`
	OwnerID       string          `json:"user_id"`
	AccountID     string          `json:"account_id"`
	ImportBatchID string          `json:"import_batch_id,omitempty"`
	Date          civil.Date      `json:"date"`
	Amount        decimal.Decimal `json:"amount"`
	Direction     Direction       `json:"direction"`
	Description   string          `json:"description"`
	CategoryID    string          `json:"category_id,omitempty"`
	Source        CategorySource  `json:"categorisation_source"`
	Confidence    *float64        `json:"confidence_score,omitempty"`
	CreatedAt     time.Time       `json:"created_at"`
	UpdatedAt     time.Time       `json:"updated_at"`
}

// Categorized reports whether the transaction currently references a category.
func (t Transaction) Categorized() bool {
	return t.CategoryID != ""
}

// Validate checks the fields every stored transaction must carry.
func (t Transaction) Validate() error {
	if t.ID == "" {
		return fmt.Errorf("transaction id is required")
	}
	if t.AccountID == "" {
		return fmt.Errorf("transaction %s: account_id is required", t.ID)
	}
	if !t.Direction.Valid() {
		return fmt.Errorf("transaction %s: invalid direction %q", t.ID, t.Direction)
	}
	if t.Amount.IsNegative() {
		return fmt.Errorf("transaction %s: amount must be a positive magnitude", t.ID)
	}
	if !t.Source.Valid() {
		return fmt.Errorf("transaction %s: invalid categorisation_source %q", t.ID, t.Source)
	}
	if t.Source == SourceNone && t.CategoryID != "" {
		return fmt.Errorf("transaction %s: uncategorised transaction carries category %s", t.ID, t.CategoryID)
	}
	return nil
}
