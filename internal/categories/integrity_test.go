package categories

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

func TestFindOrphans(t *testing.T) {
	cats := []domain.Category{
		storetest.SystemCategory("sys_food", "Food", domain.CategoryExpense),
		storetest.UserCategory("mine", "alice", "Mine"),
		storetest.UserCategory("theirs", "bob", "Theirs"),
	}

	t1 := storetest.Txn("t1", "alice", "a", "x", 1, "1")
	t1.CategoryID = "sys_food"
	t2 := storetest.Txn("t2", "alice", "a", "x", 1, "1")
	t2.CategoryID = "mine"
	t3 := storetest.Txn("t3", "alice", "a", "x", 1, "1")
	t3.CategoryID = "theirs"
	t4 := storetest.Txn("t4", "alice", "a", "x", 1, "1")
	t4.CategoryID = "gone"
	t5 := storetest.Txn("t5", "alice", "a", "x", 1, "1")
	t5.CategoryID = "gone"
	t6 := storetest.Txn("t6", "alice", "a", "x", 1, "1")

	orphans := FindOrphans("alice", []domain.Transaction{t5, t1, t2, t3, t4, t6}, cats)
	require.Equal(t, []Orphan{
		{CategoryID: "gone", TransactionCount: 2, TransactionIDs: []string{"t4", "t5"}},
		{CategoryID: "theirs", TransactionCount: 1, TransactionIDs: []string{"t3"}},
	}, orphans)
}

func TestCheckIntegrityAndDataCheck(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()

	_, err := s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food", "Food", domain.CategoryExpense))
	require.NoError(t, err)
	require.NoError(t, s.InsertCategories(ctx, []domain.Category{storetest.UserCategory("mine", "alice", "Mine")}))
	require.NoError(t, s.InsertAccounts(ctx, []domain.Account{storetest.Account("acc", "alice")}))

	ok := storetest.Txn("t1", "alice", "acc", "x", 1, "1")
	ok.CategoryID = "sys_food"
	ok.Source = domain.SourceRule
	plain := storetest.Txn("t2", "alice", "acc", "y", 2, "1")
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{ok, plain}))

	require.NoError(t, CheckIntegrity(ctx, s, "alice"))

	report, err := DataCheck(ctx, s, "alice")
	require.NoError(t, err)
	require.True(t, report.Healthy())
	require.Equal(t, 2, report.TotalTransactions)
	require.Equal(t, 1, report.Categorized)
	require.Equal(t, 1, report.Uncategorized)
	require.Equal(t, 1, report.BySource[domain.SourceRule])
	require.Equal(t, 1, report.SystemCategories)
	require.Equal(t, 1, report.UserCategories)
	require.Equal(t, 1, report.Accounts)

	bad := storetest.Txn("t3", "alice", "acc", "z", 3, "1")
	bad.CategoryID = "deleted"
	bad.Source = domain.SourceManual
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{bad}))

	err = CheckIntegrity(ctx, s, "alice")
	var integrityErr *IntegrityError
	require.True(t, errors.As(err, &integrityErr))
	require.Equal(t, "alice", integrityErr.OwnerID)
	require.Len(t, integrityErr.Orphans, 1)
	require.Contains(t, err.Error(), "deleted")

	report, err = DataCheck(ctx, s, "alice")
	require.NoError(t, err)
	require.False(t, report.Healthy())
	require.Equal(t, []string{"deleted"}, report.OrphanedCategoryIDs)
	require.Equal(t, 1, report.OrphanedTransactionCount)
}
