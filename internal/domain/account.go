package domain

import (
	"fmt"
	"time"
)

// AccountType distinguishes bank accounts from credit cards.
type AccountType string

const (
	AccountBank       AccountType = "BANK"
	AccountCreditCard AccountType = "CREDIT_CARD"
)

// Valid reports whether t is a known account type.
func (t AccountType) Valid() bool {
	return t == AccountBank || t == AccountCreditCard
}

// Account is a user-owned bank account or card that statements are imported into.
type Account struct {
	ID          string      `json:"id"`
	OwnerID     string      `json:"user_id"`
	Name        string      `json:"name"`
	Type        AccountType `json:"account_type"`
	Institution string      `json:"institution"`
	LastFour    string      `json:"last_four,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// Validate checks structural invariants of an account record.
func (a Account) Validate() error {
	if a.ID == "" {
		return fmt.Errorf("account id is required")
	}
	if a.Name == "" {
		return fmt.Errorf("account %s: name is required", a.ID)
	}
	if !a.Type.Valid() {
		return fmt.Errorf("account %s: invalid account_type %q", a.ID, a.Type)
	}
	return nil
}

// ImportStatus is the terminal state of an import batch.
type ImportStatus string

const (
	ImportSuccess ImportStatus = "SUCCESS"
	ImportPartial ImportStatus = "PARTIAL"
	ImportFailed  ImportStatus = "FAILED"
)

// ImportBatch records the outcome of one statement import. Write-once.
type ImportBatch struct {
	ID             string       `json:"id"`
	OwnerID        string       `json:"user_id"`
	AccountID      string       `json:"account_id"`
	DataSource     string       `json:"data_source"`
	FileName       string       `json:"original_file_name"`
	ImportedAt     time.Time    `json:"imported_at"`
	TotalRows      int          `json:"total_rows"`
	SuccessCount   int          `json:"success_count"`
	DuplicateCount int          `json:"duplicate_count"`
	ErrorCount     int          `json:"error_count"`
	Status         ImportStatus `json:"status"`
	ErrorLog       string       `json:"error_log,omitempty"`
}

// Validate checks structural invariants of an import batch record.
func (b ImportBatch) Validate() error {
	if b.ID == "" {
		return fmt.Errorf("import batch id is required")
	}
	if b.TotalRows < 0 || b.SuccessCount < 0 || b.DuplicateCount < 0 || b.ErrorCount < 0 {
		return fmt.Errorf("import batch %s: negative row counts", b.ID)
	}
	return nil
}
