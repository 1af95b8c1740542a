package rules

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

func newTestService(t *testing.T) (*Service, *inmemory.Store) {
	t.Helper()
	ctx := context.Background()
	s := inmemory.NewStore()

	_, err := s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food_dining", "Food & Dining", domain.CategoryExpense))
	require.NoError(t, err)
	require.NoError(t, s.InsertCategories(ctx, []domain.Category{
		storetest.UserCategory("alice-pets", "alice", "Pets"),
		storetest.UserCategory("bob-pets", "bob", "Pets"),
	}))
	require.NoError(t, s.InsertAccounts(ctx, []domain.Account{storetest.Account("alice-card", "alice")}))
	svc := NewService(s, zerolog.Nop())
	clock := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	return svc, s
}

func intPtr(v int) *int { return &v }

func TestService_CreateDefaults(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	r, err := svc.Create(ctx, "alice", Input{Pattern: " ZOMATO ", CategoryID: "sys_food_dining"})
	require.NoError(t, err)
	require.Equal(t, "ZOMATO", r.Pattern)
	require.Equal(t, domain.MatchContains, r.MatchType)
	require.Equal(t, domain.DefaultRulePriority, r.Priority)
	require.True(t, r.Active)

	list, err := svc.List(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, list, 1)
}

func TestService_CreateValidation(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	tests := []struct {
		name string
		in   Input
	}{
		{"empty pattern", Input{Pattern: " ", CategoryID: "sys_food_dining"}},
		{"bad regex", Input{Pattern: "((", MatchType: domain.MatchRegex, CategoryID: "sys_food_dining"}},
		{"unknown match type", Input{Pattern: "X", MatchType: "FUZZY", CategoryID: "sys_food_dining"}},
		{"missing category", Input{Pattern: "X", CategoryID: "nope"}},
		{"someone else's category", Input{Pattern: "X", CategoryID: "bob-pets"}},
		{"someone else's account", Input{Pattern: "X", CategoryID: "alice-pets", AccountID: "bob-card"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := svc.Create(ctx, "alice", tt.in)
			require.True(t, errors.Is(err, ErrInvalidRule), "got %v", err)
		})
	}

	_, err := svc.Create(ctx, "alice", Input{Pattern: "VET", CategoryID: "alice-pets", AccountID: "alice-card", Priority: intPtr(30)})
	require.NoError(t, err)
}

func TestService_UpdateAndDelete(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	r, err := svc.Create(ctx, "alice", Input{Pattern: "ZOMATO", CategoryID: "sys_food_dining"})
	require.NoError(t, err)

	off := false
	updated, err := svc.Update(ctx, "alice", r.ID, Input{Pattern: "SWIGGY", CategoryID: "sys_food_dining", Priority: intPtr(99), Active: &off})
	require.NoError(t, err)
	require.Equal(t, "SWIGGY", updated.Pattern)
	require.Equal(t, 99, updated.Priority)
	require.False(t, updated.Active)
	require.Equal(t, r.CreatedAt, updated.CreatedAt)

	_, err = svc.Update(ctx, "bob", r.ID, Input{Pattern: "X", CategoryID: "sys_food_dining"})
	require.True(t, errors.Is(err, store.ErrNotFound))

	require.True(t, errors.Is(svc.Delete(ctx, "bob", r.ID), store.ErrNotFound))
	require.NoError(t, svc.Delete(ctx, "alice", r.ID))
}

func TestService_ExportImportAcrossOwners(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	_, err := svc.Create(ctx, "alice", Input{Pattern: "ZOMATO", CategoryID: "sys_food_dining", Priority: intPtr(20)})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", Input{Pattern: "VET", CategoryID: "alice-pets"})
	require.NoError(t, err)
	_, err = svc.Create(ctx, "alice", Input{Pattern: "PETSHOP", CategoryID: "alice-pets", AccountID: "alice-card"})
	require.NoError(t, err)

	exported, err := svc.Export(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, exported, 3)
	require.Equal(t, "Food & Dining", exported[0].CategoryName)
	require.Equal(t, "Pets", exported[1].CategoryName)

	res, err := svc.Import(ctx, "bob", exported)
	require.NoError(t, err)
	// VET resolves to bob's own "Pets" by name; PETSHOP is scoped to alice's card
	require.Equal(t, 2, res.Imported)
	require.Equal(t, 1, res.Skipped)
	require.Len(t, res.Reasons, 1)

	bobRules, err := svc.List(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobRules, 2)
	require.Equal(t, "ZOMATO", bobRules[0].Pattern)
	require.Equal(t, "sys_food_dining", bobRules[0].CategoryID)
	require.Equal(t, "bob-pets", bobRules[1].CategoryID)
	for _, r := range bobRules {
		require.Equal(t, "bob", r.OwnerID)
		require.True(t, r.Active)
	}
}

func TestService_ImportSkipsUnknownCategories(t *testing.T) {
	ctx := context.Background()
	svc, _ := newTestService(t)

	res, err := svc.Import(ctx, "alice", []Exported{
		{Pattern: "X", CategoryID: "gone", CategoryName: "Gone"},
		{Pattern: "", CategoryID: "sys_food_dining"},
		{Pattern: "UBER", CategoryID: "sys_food_dining"},
	})
	require.NoError(t, err)
	require.Equal(t, 1, res.Imported)
	require.Equal(t, 2, res.Skipped)
}
