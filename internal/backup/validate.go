package backup

import (
	"fmt"
)

// maxReasons caps how many problems a ValidationError lists.
const maxReasons = 20

// Validate checks a decoded snapshot for internal consistency: record
// invariants, unique ids, counts matching metadata, and every reference
// resolving inside the archive.
func Validate(snap Snapshot) error {
	var reasons []string
	add := func(format string, args ...interface{}) {
		if len(reasons) < maxReasons {
			reasons = append(reasons, fmt.Sprintf(format, args...))
		}
	}

	md := snap.Metadata
	if md.Version < 1 || md.Version > FormatVersion {
		add("unsupported archive version %d", md.Version)
	}
	if md.OwnerID == "" {
		add("metadata has no user_id")
	}
	if got := snap.counts(); got != md.Counts {
		add("record counts %+v do not match metadata %+v", got, md.Counts)
	}

	categories := make(map[string]bool, len(snap.Categories))
	for _, c := range snap.Categories {
		if err := c.Validate(); err != nil {
			add("%s: %v", FileCategories, err)
			continue
		}
		if categories[c.ID] {
			add("%s: duplicate id %s", FileCategories, c.ID)
		}
		categories[c.ID] = true
	}
	for _, c := range snap.Categories {
		if c.ParentID != "" && !categories[c.ParentID] {
			add("%s: category %s has unknown parent %s", FileCategories, c.ID, c.ParentID)
		}
	}

	accounts := make(map[string]bool, len(snap.Accounts))
	for _, a := range snap.Accounts {
		if err := a.Validate(); err != nil {
			add("%s: %v", FileAccounts, err)
			continue
		}
		if accounts[a.ID] {
			add("%s: duplicate id %s", FileAccounts, a.ID)
		}
		accounts[a.ID] = true
	}

	batches := make(map[string]bool, len(snap.ImportBatches))
	for _, b := range snap.ImportBatches {
		if err := b.Validate(); err != nil {
			add("%s: %v", FileImportBatches, err)
			continue
		}
		if batches[b.ID] {
			add("%s: duplicate id %s", FileImportBatches, b.ID)
		}
		batches[b.ID] = true
		if b.AccountID != "" && !accounts[b.AccountID] {
			add("%s: batch %s references unknown account %s", FileImportBatches, b.ID, b.AccountID)
		}
	}

	rules := make(map[string]bool, len(snap.Rules))
	for _, r := range snap.Rules {
		if err := r.Validate(); err != nil {
			add("%s: %v", FileRules, err)
			continue
		}
		if rules[r.ID] {
			add("%s: duplicate id %s", FileRules, r.ID)
		}
		rules[r.ID] = true
		if !categories[r.CategoryID] {
			add("%s: rule %s references category %s not in archive", FileRules, r.ID, r.CategoryID)
		}
		if r.AccountID != "" && !accounts[r.AccountID] {
			add("%s: rule %s references unknown account %s", FileRules, r.ID, r.AccountID)
		}
	}

	txns := make(map[string]bool, len(snap.Transactions))
	for _, t := range snap.Transactions {
		if err := t.Validate(); err != nil {
			add("%s: %v", FileTransactions, err)
			continue
		}
		if txns[t.ID] {
			add("%s: duplicate id %s", FileTransactions, t.ID)
		}
		txns[t.ID] = true
		if t.CategoryID != "" && !categories[t.CategoryID] {
			add("%s: transaction %s references category %s not in archive", FileTransactions, t.ID, t.CategoryID)
		}
		if !accounts[t.AccountID] {
			add("%s: transaction %s references unknown account %s", FileTransactions, t.ID, t.AccountID)
		}
		if t.ImportBatchID != "" && !batches[t.ImportBatchID] {
			add("%s: transaction %s references unknown import batch %s", FileTransactions, t.ID, t.ImportBatchID)
		}
	}

	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}
