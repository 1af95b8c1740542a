package domain

import (
	"fmt"
	"strings"
	"time"
)

// CategoryType classifies a category for reporting.
// The TRANSFER_* variants refine TRANSFER by direction and counterparty.
type CategoryType string

const (
	CategoryIncome              CategoryType = "INCOME"
	CategoryExpense             CategoryType = "EXPENSE"
	CategoryTransfer            CategoryType = "TRANSFER"
	CategoryTransferInternalIn  CategoryType = "TRANSFER_INTERNAL_IN"
	CategoryTransferInternalOut CategoryType = "TRANSFER_INTERNAL_OUT"
	CategoryTransferExternalIn  CategoryType = "TRANSFER_EXTERNAL_IN"
	CategoryTransferExternalOut CategoryType = "TRANSFER_EXTERNAL_OUT"
)

// Valid reports whether t is a known category type.
func (t CategoryType) Valid() bool {
	switch t {
	case CategoryIncome, CategoryExpense, CategoryTransfer,
		CategoryTransferInternalIn, CategoryTransferInternalOut,
		CategoryTransferExternalIn, CategoryTransferExternalOut:
		return true
	}
	return false
}

// IsTransfer reports whether t is TRANSFER or one of its refinements.
func (t CategoryType) IsTransfer() bool {
	return strings.HasPrefix(string(t), string(CategoryTransfer))
}

// Category is either a system category (global, fixed id, no owner) or a
// user category (private to OwnerID).
type Category struct {
	ID       string       `json:"id"`
	Name     string       `json:"name"`
	Type     CategoryType `json:"type"`
	ParentID string       `json:"parent_category_id,omitempty"`
	IsSystem bool         `json:"is_system"`
	OwnerID  string       `json:"user_id,omitempty"`

	CreatedAt time.Time `json:"created_at"`
}

// VisibleTo reports whether ownerID may reference the category.
func (c Category) VisibleTo(ownerID string) bool {
	return c.IsSystem || c.OwnerID == ownerID
}

// Validate checks structural invariants of a category record.
func (c Category) Validate() error {
	if c.ID == "" {
		return fmt.Errorf("category id is required")
	}
	if strings.TrimSpace(c.Name) == "" {
		return fmt.Errorf("category %s: name is required", c.ID)
	}
	if !c.Type.Valid() {
		return fmt.Errorf("category %s: invalid type %q", c.ID, c.Type)
	}
	if c.IsSystem && c.OwnerID != "" {
		return fmt.Errorf("category %s: system category must not have an owner", c.ID)
	}
	if !c.IsSystem && c.OwnerID == "" {
		return fmt.Errorf("category %s: user category requires an owner", c.ID)
	}
	if c.ParentID == c.ID {
		return fmt.Errorf("category %s: category cannot be its own parent", c.ID)
	}
	return nil
}

// NameKey is the comparison key used for per-type name uniqueness.
func NameKey(t CategoryType, name string) string {
	return string(t) + "\x00" + strings.ToLower(strings.TrimSpace(name))
}
