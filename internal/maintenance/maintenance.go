// Package maintenance holds destructive owner-wide operations.
package maintenance

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// ConfirmationText must be supplied verbatim (case and surrounding space ignored).
const ConfirmationText = "DELETE ALL"

var (
	ErrConfirmationMismatch = errors.New("confirmation text does not match, type 'DELETE ALL'")
	ErrNothingSelected      = errors.New("select at least one data type to delete")
)

// DeleteRequest selects what DeleteAll removes.
type DeleteRequest struct {
	Confirmation string `json:"confirmation_text"`
	Transactions bool   `json:"delete_transactions"`
	Categories   bool   `json:"delete_categories"`
	Rules        bool   `json:"delete_rules"`
	Accounts     bool   `json:"delete_accounts"`
	Imports      bool   `json:"delete_imports"`
}

func (r DeleteRequest) scope() store.DeleteScope {
	return store.DeleteScope{
		Transactions:  r.Transactions,
		Categories:    r.Categories,
		Rules:         r.Rules,
		Accounts:      r.Accounts,
		ImportBatches: r.Imports,
	}
}

// DeleteResult reports what DeleteAll removed.
type DeleteResult struct {
	Deleted store.DeleteCounts `json:"deletion_results"`

	// Uncategorized counts kept transactions that pointed at a deleted user
	// category and were reset to NONE.
	Uncategorized int    `json:"uncategorized"`
	Message       string `json:"message"`
}

// Service runs maintenance operations.
type Service struct {
	store store.Store
	log   zerolog.Logger
}

// NewService creates a maintenance service.
func NewService(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log}
}

// DeleteAll removes the selected record sets of one owner. System categories
// are never removed. Deleting user categories while keeping transactions or
// rules resets the affected transactions to NONE and drops rules that target
// those categories, so no reference is left dangling.
func (s *Service) DeleteAll(ctx context.Context, ownerID string, req DeleteRequest) (DeleteResult, error) {
	var res DeleteResult
	if !strings.EqualFold(strings.TrimSpace(req.Confirmation), ConfirmationText) {
		return res, ErrConfirmationMismatch
	}
	scope := req.scope()
	if scope == (store.DeleteScope{}) {
		return res, ErrNothingSelected
	}

	err := s.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		var (
			droppedRules int
			err          error
		)
		if scope.Categories {
			if res.Uncategorized, droppedRules, err = s.detachUserCategories(ctx, tx, ownerID, scope); err != nil {
				return err
			}
		}

		counts, err := tx.DeleteOwnerData(ctx, ownerID, scope)
		if err != nil {
			return fmt.Errorf("deleting owner data: %w", err)
		}
		counts.Rules += droppedRules
		res.Deleted = counts
		return nil
	})
	if err != nil {
		return DeleteResult{}, fmt.Errorf("DeleteAll: %w", err)
	}

	res.Message = message(res.Deleted)
	s.log.Warn().
		Str("owner_id", ownerID).
		Int("transactions", res.Deleted.Transactions).
		Int("categories", res.Deleted.Categories).
		Int("rules", res.Deleted.Rules).
		Int("accounts", res.Deleted.Accounts).
		Int("import_batches", res.Deleted.ImportBatches).
		Int("uncategorized", res.Uncategorized).
		Msg("Owner data deleted")
	return res, nil
}

// detachUserCategories clears references to the owner's user categories from
// the record sets that survive scope.
func (s *Service) detachUserCategories(ctx context.Context, tx store.Store, ownerID string, scope store.DeleteScope) (uncategorized, droppedRules int, err error) {
	cats, err := tx.ListCategories(ctx, ownerID)
	if err != nil {
		return 0, 0, fmt.Errorf("listing categories: %w", err)
	}
	doomed := make(map[string]bool)
	for _, c := range cats {
		if !c.IsSystem && c.OwnerID == ownerID {
			doomed[c.ID] = true
		}
	}
	if len(doomed) == 0 {
		return 0, 0, nil
	}

	if !scope.Transactions {
		txns, err := tx.ListTransactions(ctx, ownerID, store.TransactionFilter{})
		if err != nil {
			return 0, 0, fmt.Errorf("listing transactions: %w", err)
		}
		var resets []store.CategoryAssignment
		for _, t := range txns {
			if doomed[t.CategoryID] {
				resets = append(resets, store.CategoryAssignment{TransactionID: t.ID, Source: domain.SourceNone})
			}
		}
		if len(resets) > 0 {
			if uncategorized, err = tx.UpdateTransactionCategories(ctx, ownerID, resets); err != nil {
				return 0, 0, fmt.Errorf("resetting transactions: %w", err)
			}
		}
	}

	if !scope.Rules {
		ownerRules, err := tx.ListRules(ctx, ownerID)
		if err != nil {
			return 0, 0, fmt.Errorf("listing rules: %w", err)
		}
		for _, r := range ownerRules {
			if !doomed[r.CategoryID] {
				continue
			}
			if err := tx.DeleteRule(ctx, ownerID, r.ID); err != nil {
				return 0, 0, fmt.Errorf("deleting rule %s: %w", r.ID, err)
			}
			droppedRules++
		}
	}
	return uncategorized, droppedRules, nil
}

func message(c store.DeleteCounts) string {
	var parts []string
	add := func(n int, what string) {
		if n > 0 {
			parts = append(parts, fmt.Sprintf("%d %s", n, what))
		}
	}
	add(c.Transactions, "transactions")
	add(c.Categories, "categories")
	add(c.Rules, "rules")
	add(c.Accounts, "accounts")
	add(c.ImportBatches, "import batches")
	if len(parts) == 0 {
		return "Nothing to delete"
	}
	return "Successfully deleted: " + strings.Join(parts, ", ")
}
