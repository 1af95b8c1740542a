package categories

import (
	"context"
	"errors"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

func newTestService(t *testing.T) (*Service, *inmemory.Store) {
	t.Helper()
	s := inmemory.NewStore()
	_, err := s.InsertSystemCategory(context.Background(), storetest.SystemCategory("sys_food", "Food", domain.CategoryExpense))
	require.NoError(t, err)
	return NewService(s, zerolog.Nop()), s
}

func TestService_CreateAndList(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	c, err := svc.Create(ctx, "alice", Input{Name: "  Coffee ", Type: domain.CategoryExpense, ParentID: "sys_food"})
	require.NoError(t, err)
	require.NotEmpty(t, c.ID)
	require.Equal(t, "Coffee", c.Name)
	require.Equal(t, "alice", c.OwnerID)
	require.False(t, c.IsSystem)

	cats, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, cats, 2)

	cats, err = svc.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, cats, 1)
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Create(ctx, "alice", Input{Name: "Coffee", Type: domain.CategoryExpense})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "alice", Input{Name: "coffee", Type: domain.CategoryExpense})
	require.True(t, errors.Is(err, ErrDuplicateName))

	// another owner may reuse the name
	_, err = svc.Create(ctx, "bob", Input{Name: "Coffee", Type: domain.CategoryExpense})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "alice", Input{Name: "", Type: domain.CategoryExpense})
	require.True(t, errors.Is(err, ErrInvalidCategory))

	_, err = svc.Create(ctx, "alice", Input{Name: "Loans", Type: "LOAN"})
	require.True(t, errors.Is(err, ErrInvalidCategory))

	_, err = svc.Create(ctx, "alice", Input{Name: "Orphan", Type: domain.CategoryExpense, ParentID: "missing"})
	require.True(t, errors.Is(err, ErrInvalidCategory))
}

func TestService_SingleLevelHierarchy(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	child, err := svc.Create(ctx, "alice", Input{Name: "Coffee", Type: domain.CategoryExpense, ParentID: "sys_food"})
	require.NoError(t, err)

	_, err = svc.Create(ctx, "alice", Input{Name: "Espresso", Type: domain.CategoryExpense, ParentID: child.ID})
	require.True(t, errors.Is(err, ErrInvalidCategory))
}

func TestService_SystemCategoriesAreReadOnly(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Update(ctx, "alice", "sys_food", Input{Name: "Eats", Type: domain.CategoryExpense})
	require.True(t, errors.Is(err, ErrSystemCategory))
	require.True(t, errors.Is(svc.Delete(ctx, "alice", "sys_food"), ErrSystemCategory))
}

func TestService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, s := newTestService(t)

	c, err := svc.Create(ctx, "alice", Input{Name: "Coffee", Type: domain.CategoryExpense})
	require.NoError(t, err)

	updated, err := svc.Update(ctx, "alice", c.ID, Input{Name: "Cafes", Type: domain.CategoryExpense})
	require.NoError(t, err)
	require.Equal(t, "Cafes", updated.Name)

	_, err = svc.Update(ctx, "bob", c.ID, Input{Name: "Mine now", Type: domain.CategoryExpense})
	require.True(t, errors.Is(err, store.ErrNotFound))

	txn := storetest.Txn("t1", "alice", "acc", "STARBUCKS", 1, "4.5")
	txn.CategoryID = c.ID
	txn.Source = domain.SourceManual
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{txn}))

	require.True(t, errors.Is(svc.Delete(ctx, "alice", c.ID), ErrCategoryInUse))

	_, err = s.UpdateTransactionCategories(ctx, "alice", []store.CategoryAssignment{{TransactionID: "t1", Source: domain.SourceNone}})
	require.NoError(t, err)

	require.NoError(t, s.InsertRules(ctx, []domain.Rule{storetest.Rule("r1", "alice", "STAR", c.ID, 10, txn.CreatedAt)}))
	require.True(t, errors.Is(svc.Delete(ctx, "alice", c.ID), ErrCategoryInUse))
	require.NoError(t, s.DeleteRule(ctx, "alice", "r1"))

	require.NoError(t, svc.Delete(ctx, "alice", c.ID))
	_, err = s.GetCategory(ctx, c.ID)
	require.True(t, errors.Is(err, store.ErrNotFound))
}
