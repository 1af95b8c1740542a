// Package storetest holds the behaviour every store.Store backend must share.
package storetest

import (
	"context"
	"errors"
	"testing"
	"time"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Factory returns a fresh, empty store.
type Factory func(t *testing.T) store.Store

var base = time.Date(2024, 1, 1, 12, 0, 0, 0, time.UTC)

// SystemCategory builds a system category fixture.
func SystemCategory(id, name string, typ domain.CategoryType) domain.Category {
	return domain.Category{ID: id, Name: name, Type: typ, IsSystem: true, CreatedAt: base}
}

// UserCategory builds a user category fixture.
func UserCategory(id, owner, name string) domain.Category {
	return domain.Category{ID: id, Name: name, Type: domain.CategoryExpense, OwnerID: owner, CreatedAt: base}
}

// Account builds an account fixture.
func Account(id, owner string) domain.Account {
	return domain.Account{ID: id, OwnerID: owner, Name: "Account " + id, Type: domain.AccountBank, Institution: "Bank", CreatedAt: base}
}

// Txn builds an uncategorised debit transaction fixture.
func Txn(id, owner, account, desc string, day int, amount string) domain.Transaction {
	return domain.Transaction{
		ID:          id,
		OwnerID:     owner,
		AccountID:   account,
		Date:        civil.Date{Year: 2024, Month: time.March, Day: day},
		Amount:      decimal.RequireFromString(amount),
		Direction:   domain.DirectionDebit,
		Description: desc,
		Source:      domain.SourceNone,
		CreatedAt:   base,
		UpdatedAt:   base,
	}
}

// Rule builds an active CONTAINS rule fixture.
func Rule(id, owner, pattern, categoryID string, priority int, created time.Time) domain.Rule {
	return domain.Rule{
		ID:         id,
		OwnerID:    owner,
		Pattern:    pattern,
		MatchType:  domain.MatchContains,
		CategoryID: categoryID,
		Priority:   priority,
		Active:     true,
		CreatedAt:  created,
	}
}

// Run exercises the storage contract against stores produced by newStore.
func Run(t *testing.T, newStore Factory) {
	t.Run("InsertSystemCategoryIsInsertIfAbsent", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		inserted, err := s.InsertSystemCategory(ctx, SystemCategory("sys_food", "Food", domain.CategoryExpense))
		require.NoError(t, err)
		require.True(t, inserted)

		renamed := SystemCategory("sys_food", "Groceries", domain.CategoryExpense)
		inserted, err = s.InsertSystemCategory(ctx, renamed)
		require.NoError(t, err)
		require.False(t, inserted)

		got, err := s.GetCategory(ctx, "sys_food")
		require.NoError(t, err)
		require.Equal(t, "Food", got.Name)
		require.True(t, got.IsSystem)
	})

	t.Run("CategoriesVisibleToOwner", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.InsertSystemCategory(ctx, SystemCategory("sys_food", "Food", domain.CategoryExpense))
		require.NoError(t, err)
		require.NoError(t, s.InsertCategories(ctx, []domain.Category{
			UserCategory("c1", "alice", "Hobbies"),
			UserCategory("c2", "bob", "Pets"),
		}))

		cats, err := s.ListCategories(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, cats, 2)
		require.Equal(t, "Food", cats[0].Name)
		require.Equal(t, "Hobbies", cats[1].Name)

		sys, err := s.ListSystemCategories(ctx)
		require.NoError(t, err)
		require.Len(t, sys, 1)

		_, err = s.GetCategory(ctx, "missing")
		require.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("UpdateAndDeleteUserCategory", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		_, err := s.InsertSystemCategory(ctx, SystemCategory("sys_food", "Food", domain.CategoryExpense))
		require.NoError(t, err)
		require.NoError(t, s.InsertCategories(ctx, []domain.Category{UserCategory("c1", "alice", "Hobbies")}))

		c := UserCategory("c1", "alice", "Crafts")
		require.NoError(t, s.UpdateCategory(ctx, c))
		got, err := s.GetCategory(ctx, "c1")
		require.NoError(t, err)
		require.Equal(t, "Crafts", got.Name)

		// another owner cannot touch it
		require.True(t, errors.Is(s.DeleteCategory(ctx, "bob", "c1"), store.ErrNotFound))
		// system categories are not deletable
		require.True(t, errors.Is(s.DeleteCategory(ctx, "", "sys_food"), store.ErrNotFound))

		require.NoError(t, s.DeleteCategory(ctx, "alice", "c1"))
		_, err = s.GetCategory(ctx, "c1")
		require.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("RulesOrderedByPriorityThenCreation", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.InsertRules(ctx, []domain.Rule{
			Rule("r-b", "alice", "B", "sys_food", 10, base.Add(time.Hour)),
			Rule("r-a", "alice", "A", "sys_food", 10, base.Add(time.Hour)),
			Rule("r-low", "alice", "L", "sys_food", 1, base),
			Rule("r-high", "alice", "H", "sys_food", 50, base.Add(2*time.Hour)),
			Rule("r-old", "alice", "O", "sys_food", 10, base),
			Rule("r-bob", "bob", "X", "sys_food", 99, base),
		}))

		rules, err := s.ListRules(ctx, "alice")
		require.NoError(t, err)

		ids := make([]string, len(rules))
		for i, r := range rules {
			ids[i] = r.ID
		}
		require.Equal(t, []string{"r-high", "r-old", "r-a", "r-b", "r-low"}, ids)
	})

	t.Run("UpdateAndDeleteRule", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		r := Rule("r1", "alice", "ZOMATO", "sys_food", 10, base)
		require.NoError(t, s.InsertRules(ctx, []domain.Rule{r}))

		r.Active = false
		r.Priority = 20
		require.NoError(t, s.UpdateRule(ctx, r))

		rules, err := s.ListRules(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, rules, 1)
		require.False(t, rules[0].Active)
		require.Equal(t, 20, rules[0].Priority)

		require.True(t, errors.Is(s.DeleteRule(ctx, "bob", "r1"), store.ErrNotFound))
		require.NoError(t, s.DeleteRule(ctx, "alice", "r1"))
	})

	t.Run("TransactionsFilterAndOrder", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.InsertAccounts(ctx, []domain.Account{Account("acc1", "alice"), Account("acc2", "alice")}))
		t1 := Txn("t1", "alice", "acc1", "POS ZOMATO", 1, "10.50")
		t2 := Txn("t2", "alice", "acc1", "UBER", 3, "5")
		t3 := Txn("t3", "alice", "acc2", "SALARY", 2, "1000")
		t3.Direction = domain.DirectionCredit
		t3.CategoryID = "sys_food"
		t3.Source = domain.SourceManual
		require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{t1, t2, t3}))

		all, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, all, 3)
		require.Equal(t, "t2", all[0].ID)
		require.Equal(t, "t3", all[1].ID)
		require.Equal(t, "t1", all[2].ID)
		require.True(t, decimal.RequireFromString("10.5").Equal(all[2].Amount))
		require.Equal(t, civil.Date{Year: 2024, Month: time.March, Day: 1}, all[2].Date)

		byAccount, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{AccountID: "acc2"})
		require.NoError(t, err)
		require.Len(t, byAccount, 1)

		uncategorized, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{Uncategorized: true})
		require.NoError(t, err)
		require.Len(t, uncategorized, 2)

		manual, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{Source: domain.SourceManual})
		require.NoError(t, err)
		require.Len(t, manual, 1)

		byIDs, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{IDs: []string{"t1", "t3", "nope"}})
		require.NoError(t, err)
		require.Len(t, byIDs, 2)

		ranged, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{
			StartDate: civil.Date{Year: 2024, Month: time.March, Day: 2},
			EndDate:   civil.Date{Year: 2024, Month: time.March, Day: 3},
		})
		require.NoError(t, err)
		require.Len(t, ranged, 2)

		paged, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{Limit: 1, Offset: 1})
		require.NoError(t, err)
		require.Len(t, paged, 1)
		require.Equal(t, "t3", paged[0].ID)

		none, err := s.ListTransactions(ctx, "bob", store.TransactionFilter{})
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("UpdateTransactionCategoriesIsOwnerScoped", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{
			Txn("t1", "alice", "acc1", "A", 1, "1"),
			Txn("t2", "bob", "acc9", "B", 1, "1"),
		}))

		conf := 0.8
		n, err := s.UpdateTransactionCategories(ctx, "alice", []store.CategoryAssignment{
			{TransactionID: "t1", CategoryID: "sys_food", Source: domain.SourceAI, Confidence: &conf},
			{TransactionID: "t2", CategoryID: "sys_food", Source: domain.SourceAI},
		})
		require.NoError(t, err)
		require.Equal(t, 1, n)

		got, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
		require.NoError(t, err)
		require.Equal(t, "sys_food", got[0].CategoryID)
		require.Equal(t, domain.SourceAI, got[0].Source)
		require.NotNil(t, got[0].Confidence)
		require.InDelta(t, 0.8, *got[0].Confidence, 1e-9)

		other, err := s.ListTransactions(ctx, "bob", store.TransactionFilter{})
		require.NoError(t, err)
		require.Equal(t, domain.SourceNone, other[0].Source)
	})

	t.Run("TransactionExists", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		txn := Txn("t1", "alice", "acc1", "POS ZOMATO", 1, "10.50")
		require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{txn}))

		key := store.DuplicateKey{
			AccountID:   "acc1",
			Date:        txn.Date,
			Amount:      decimal.RequireFromString("10.5"),
			Direction:   domain.DirectionDebit,
			Description: "POS ZOMATO",
		}
		exists, err := s.TransactionExists(ctx, "alice", key)
		require.NoError(t, err)
		require.True(t, exists)

		exists, err = s.TransactionExists(ctx, "bob", key)
		require.NoError(t, err)
		require.False(t, exists)

		key.Direction = domain.DirectionCredit
		exists, err = s.TransactionExists(ctx, "alice", key)
		require.NoError(t, err)
		require.False(t, exists)
	})

	t.Run("ImportBatchesAndOwners", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)

		require.NoError(t, s.InsertAccounts(ctx, []domain.Account{Account("acc1", "alice"), Account("acc2", "bob")}))
		require.NoError(t, s.InsertImportBatch(ctx, domain.ImportBatch{
			ID: "b1", OwnerID: "alice", AccountID: "acc1", FileName: "old.csv",
			ImportedAt: base, TotalRows: 2, SuccessCount: 2, Status: domain.ImportSuccess,
		}))
		require.NoError(t, s.InsertImportBatch(ctx, domain.ImportBatch{
			ID: "b2", OwnerID: "alice", AccountID: "acc1", FileName: "new.csv",
			ImportedAt: base.Add(time.Hour), TotalRows: 3, SuccessCount: 1, DuplicateCount: 1, ErrorCount: 1,
			Status: domain.ImportPartial, ErrorLog: "row 3: bad date",
		}))

		batches, err := s.ListImportBatches(ctx, "alice")
		require.NoError(t, err)
		require.Len(t, batches, 2)
		require.Equal(t, "b2", batches[0].ID)
		require.Equal(t, domain.ImportPartial, batches[0].Status)
		require.Equal(t, "row 3: bad date", batches[0].ErrorLog)

		owners, err := s.ListOwners(ctx)
		require.NoError(t, err)
		require.Equal(t, []string{"alice", "bob"}, owners)

		acc, err := s.GetAccount(ctx, "alice", "acc1")
		require.NoError(t, err)
		require.Equal(t, "Account acc1", acc.Name)

		_, err = s.GetAccount(ctx, "alice", "acc2")
		require.True(t, errors.Is(err, store.ErrNotFound))
	})

	t.Run("DeleteOwnerDataLeavesSystemCategories", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		seedOwner(t, s, "alice")
		seedOwner(t, s, "bob")

		counts, err := s.DeleteOwnerData(ctx, "alice", store.DeleteScope{Transactions: true})
		require.NoError(t, err)
		require.Equal(t, store.DeleteCounts{Transactions: 2}, counts)

		counts, err = s.DeleteOwnerData(ctx, "alice", store.AllOwnerData)
		require.NoError(t, err)
		require.Equal(t, store.DeleteCounts{Categories: 1, Rules: 1, Accounts: 1, ImportBatches: 1}, counts)

		sys, err := s.ListSystemCategories(ctx)
		require.NoError(t, err)
		require.Len(t, sys, 1)

		bobTxns, err := s.ListTransactions(ctx, "bob", store.TransactionFilter{})
		require.NoError(t, err)
		require.Len(t, bobTxns, 2)
	})

	t.Run("RunInTx", func(t *testing.T) {
		ctx := context.Background()
		s := newStore(t)
		seedOwner(t, s, "alice")

		err := s.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
			if _, err := tx.DeleteOwnerData(ctx, "alice", store.AllOwnerData); err != nil {
				return err
			}
			return errors.New("boom")
		})
		require.EqualError(t, err, "boom")

		txns, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
		require.NoError(t, err)
		if s.Transactional() {
			require.Len(t, txns, 2, "failed transaction must roll back")
		}

		err = s.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
			return tx.InsertAccounts(ctx, []domain.Account{Account("acc-new", "alice")})
		})
		require.NoError(t, err)

		_, err = s.GetAccount(ctx, "alice", "acc-new")
		require.NoError(t, err)
	})
}

func seedOwner(t *testing.T, s store.Store, owner string) {
	t.Helper()
	ctx := context.Background()

	_, err := s.InsertSystemCategory(ctx, SystemCategory("sys_food", "Food", domain.CategoryExpense))
	require.NoError(t, err)

	acc := "acc-" + owner
	require.NoError(t, s.InsertAccounts(ctx, []domain.Account{Account(acc, owner)}))
	require.NoError(t, s.InsertCategories(ctx, []domain.Category{UserCategory("cat-"+owner, owner, "Mine")}))
	require.NoError(t, s.InsertRules(ctx, []domain.Rule{Rule("rule-"+owner, owner, "X", "cat-"+owner, 10, base)}))
	require.NoError(t, s.InsertImportBatch(ctx, domain.ImportBatch{
		ID: "batch-" + owner, OwnerID: owner, AccountID: acc, ImportedAt: base, Status: domain.ImportSuccess,
	}))

	t1 := Txn("t1-"+owner, owner, acc, "one", 1, "1")
	t2 := Txn("t2-"+owner, owner, acc, "two", 2, "2")
	t2.CategoryID = "cat-" + owner
	t2.Source = domain.SourceManual
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{t1, t2}))
}
