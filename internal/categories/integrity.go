package categories

import (
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Orphan is a category id referenced by transactions that does not resolve
// to a category visible to their owner.
type Orphan struct {
	CategoryID       string   `json:"category_id"`
	TransactionCount int      `json:"transaction_count"`
	TransactionIDs   []string `json:"transaction_ids"`
}

// IntegrityError reports orphaned category references. It indicates a bug in
// whichever path wrote the data and is never papered over.
type IntegrityError struct {
	OwnerID string
	Orphans []Orphan
}

func (e *IntegrityError) Error() string {
	ids := make([]string, len(e.Orphans))
	for i, o := range e.Orphans {
		ids[i] = o.CategoryID
	}
	return fmt.Sprintf("owner %s has transactions referencing %d unknown categories: %s",
		e.OwnerID, len(e.Orphans), strings.Join(ids, ", "))
}

// FindOrphans returns the category references in txns that do not resolve to
// a category in cats visible to ownerID. Sorted by category id.
func FindOrphans(ownerID string, txns []domain.Transaction, cats []domain.Category) []Orphan {
	known := make(map[string]bool, len(cats))
	for _, c := range cats {
		if c.VisibleTo(ownerID) {
			known[c.ID] = true
		}
	}

	byID := make(map[string]*Orphan)
	for _, t := range txns {
		if t.CategoryID == "" || known[t.CategoryID] {
			continue
		}
		o, ok := byID[t.CategoryID]
		if !ok {
			o = &Orphan{CategoryID: t.CategoryID}
			byID[t.CategoryID] = o
		}
		o.TransactionCount++
		o.TransactionIDs = append(o.TransactionIDs, t.ID)
	}

	out := make([]Orphan, 0, len(byID))
	for _, o := range byID {
		sort.Strings(o.TransactionIDs)
		out = append(out, *o)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CategoryID < out[j].CategoryID })
	return out
}

// CheckIntegrity returns an *IntegrityError when the owner's stored
// transactions reference unknown categories.
func CheckIntegrity(ctx context.Context, r store.Reader, ownerID string) error {
	txns, err := r.ListTransactions(ctx, ownerID, store.TransactionFilter{})
	if err != nil {
		return fmt.Errorf("CheckIntegrity: listing transactions: %w", err)
	}
	cats, err := r.ListCategories(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("CheckIntegrity: listing categories: %w", err)
	}
	if orphans := FindOrphans(ownerID, txns, cats); len(orphans) > 0 {
		return &IntegrityError{OwnerID: ownerID, Orphans: orphans}
	}
	return nil
}

// DataCheckReport is the diagnostic summary of one owner's data.
type DataCheckReport struct {
	OwnerID                  string                        `json:"user_id"`
	TotalTransactions        int                           `json:"total_transactions"`
	Categorized              int                           `json:"categorized"`
	Uncategorized            int                           `json:"uncategorized"`
	BySource                 map[domain.CategorySource]int `json:"by_source"`
	SystemCategories         int                           `json:"system_categories"`
	UserCategories           int                           `json:"user_categories"`
	Rules                    int                           `json:"rules"`
	Accounts                 int                           `json:"accounts"`
	OrphanedCategoryIDs      []string                      `json:"orphaned_category_ids"`
	OrphanedTransactionCount int                           `json:"orphaned_transaction_count"`
	Orphans                  []Orphan                      `json:"orphans"`
}

// Healthy reports whether no orphaned references were found.
func (r DataCheckReport) Healthy() bool {
	return len(r.Orphans) == 0
}

// DataCheck enumerates the owner's data and any orphaned category references.
func DataCheck(ctx context.Context, r store.Reader, ownerID string) (DataCheckReport, error) {
	report := DataCheckReport{
		OwnerID:             ownerID,
		BySource:            make(map[domain.CategorySource]int),
		OrphanedCategoryIDs: []string{},
		Orphans:             []Orphan{},
	}

	txns, err := r.ListTransactions(ctx, ownerID, store.TransactionFilter{})
	if err != nil {
		return report, fmt.Errorf("DataCheck: listing transactions: %w", err)
	}
	cats, err := r.ListCategories(ctx, ownerID)
	if err != nil {
		return report, fmt.Errorf("DataCheck: listing categories: %w", err)
	}
	rules, err := r.ListRules(ctx, ownerID)
	if err != nil {
		return report, fmt.Errorf("DataCheck: listing rules: %w", err)
	}
	accounts, err := r.ListAccounts(ctx, ownerID)
	if err != nil {
		return report, fmt.Errorf("DataCheck: listing accounts: %w", err)
	}

	report.TotalTransactions = len(txns)
	for _, t := range txns {
		if t.Categorized() {
			report.Categorized++
		} else {
			report.Uncategorized++
		}
		report.BySource[t.Source]++
	}
	for _, c := range cats {
		if c.IsSystem {
			report.SystemCategories++
		} else {
			report.UserCategories++
		}
	}
	report.Rules = len(rules)
	report.Accounts = len(accounts)

	for _, o := range FindOrphans(ownerID, txns, cats) {
		report.Orphans = append(report.Orphans, o)
		report.OrphanedCategoryIDs = append(report.OrphanedCategoryIDs, o.CategoryID)
		report.OrphanedTransactionCount += o.TransactionCount
	}
	return report, nil
}
