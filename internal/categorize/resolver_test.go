package categorize

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

const owner = "alice"

// mockAI is a mock implementation of ai.Categorizer
type mockAI struct {
	calls       atomic.Int32
	SuggestFunc func(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error)
}

func (m *mockAI) Suggest(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
	m.calls.Add(1)
	return m.SuggestFunc(ctx, req)
}

func alwaysSuggest(id string) *mockAI {
	return &mockAI{SuggestFunc: func(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
		return ai.Suggestion{CategoryID: id, Confidence: 0.9}, true, nil
	}}
}

func unavailableAI() *mockAI {
	return &mockAI{SuggestFunc: func(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
		<-ctx.Done()
		return ai.Suggestion{}, false, ctx.Err()
	}}
}

func setup(t *testing.T, categorizer ai.Categorizer) (*Resolver, *inmemory.Store) {
	t.Helper()
	ctx := context.Background()
	s := inmemory.NewStore()

	_, err := s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food_dining", "Food & Dining", domain.CategoryExpense))
	require.NoError(t, err)
	_, err = s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_transport", "Transport", domain.CategoryExpense))
	require.NoError(t, err)
	require.NoError(t, s.InsertCategories(ctx, []domain.Category{storetest.UserCategory("bob-only", "bob", "Bob")}))

	guard := ai.NewGuard(categorizer, 20*time.Millisecond, 0.5, zerolog.Nop())
	return NewResolver(s, rules.NewMatcher(zerolog.Nop()), guard, 4, zerolog.Nop()), s
}

func addRule(t *testing.T, s store.Store, id, pattern, categoryID string, priority int) {
	t.Helper()
	require.NoError(t, s.InsertRules(context.Background(), []domain.Rule{
		storetest.Rule(id, owner, pattern, categoryID, priority, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}))
}

func TestResolve_RuleMatch(t *testing.T) {
	r, s := setup(t, unavailableAI())
	addRule(t, s, "r1", "ZOMATO", "sys_food_dining", 10)

	txn := storetest.Txn("t1", owner, "acc", "POS ZOMATO BANGALORE", 1, "250")
	out, err := r.Resolve(context.Background(), owner, []domain.Transaction{txn})
	require.NoError(t, err)
	require.Len(t, out, 1)
	require.Equal(t, "sys_food_dining", out[0].CategoryID)
	require.Equal(t, domain.SourceRule, out[0].Source)
	require.Equal(t, "r1", out[0].RuleID)
	require.InDelta(t, 1.0, *out[0].Confidence, 1e-9)
}

func TestResolve_NoRuleAndAIUnavailable(t *testing.T) {
	r, s := setup(t, unavailableAI())
	addRule(t, s, "r1", "SWIGGY", "sys_food_dining", 10)

	txn := storetest.Txn("t1", owner, "acc", "POS ZOMATO BANGALORE", 1, "250")
	out, err := r.Resolve(context.Background(), owner, []domain.Transaction{txn})
	require.NoError(t, err)
	require.Empty(t, out[0].CategoryID)
	require.Equal(t, domain.SourceNone, out[0].Source)
	require.Nil(t, out[0].Confidence)
	require.False(t, out[0].Matched)
}

func TestResolve_TieringInvariant(t *testing.T) {
	fake := &mockAI{SuggestFunc: func(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
		if req.Description == "UBER TRIP" {
			return ai.Suggestion{CategoryID: "sys_transport", Confidence: 0.8}, true, nil
		}
		return ai.Suggestion{}, false, nil
	}}
	r, s := setup(t, fake)
	addRule(t, s, "r1", "ZOMATO", "sys_food_dining", 10)

	txns := []domain.Transaction{
		storetest.Txn("t1", owner, "acc", "POS ZOMATO", 1, "1"),
		storetest.Txn("t2", owner, "acc", "UBER TRIP", 2, "1"),
		storetest.Txn("t3", owner, "acc", "MYSTERY", 3, "1"),
	}
	out, err := r.Resolve(context.Background(), owner, txns)
	require.NoError(t, err)

	require.Equal(t, domain.SourceRule, out[0].Source)
	require.Equal(t, domain.SourceAI, out[1].Source)
	require.Equal(t, "sys_transport", out[1].CategoryID)
	require.Equal(t, domain.SourceNone, out[2].Source)

	// AI is not consulted once a rule matched
	require.Equal(t, int32(2), fake.calls.Load())

	Apply(txns, out)
	require.Equal(t, "sys_food_dining", txns[0].CategoryID)
	require.Equal(t, domain.SourceAI, txns[1].Source)
	require.NoError(t, txns[2].Validate())
}

func TestResolve_RuleTargetingInvisibleCategoryFallsThrough(t *testing.T) {
	r, s := setup(t, alwaysSuggest("sys_transport"))
	addRule(t, s, "r1", "ZOMATO", "bob-only", 10)

	out, err := r.Resolve(context.Background(), owner, []domain.Transaction{
		storetest.Txn("t1", owner, "acc", "POS ZOMATO", 1, "1"),
	})
	require.NoError(t, err)
	require.Equal(t, domain.SourceAI, out[0].Source)
	require.Equal(t, "sys_transport", out[0].CategoryID)
}

func TestResolve_ConcurrencyIsBounded(t *testing.T) {
	var inFlight, peak atomic.Int32
	fake := &mockAI{SuggestFunc: func(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
		n := inFlight.Add(1)
		defer inFlight.Add(-1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(5 * time.Millisecond)
		return ai.Suggestion{CategoryID: "sys_transport", Confidence: 0.9}, true, nil
	}}
	r, _ := setup(t, fake)

	var txns []domain.Transaction
	for i := 0; i < 20; i++ {
		txns = append(txns, storetest.Txn(string(rune('a'+i)), owner, "acc", "RIDE", 1, "1"))
	}
	out, err := r.Resolve(context.Background(), owner, txns)
	require.NoError(t, err)
	require.Len(t, out, 20)
	for i, o := range out {
		require.Equal(t, txns[i].ID, o.TransactionID)
		require.Equal(t, domain.SourceAI, o.Source)
	}
	require.LessOrEqual(t, peak.Load(), int32(4))
}

func TestRecategorize_OnlySelectedIDs(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t, unavailableAI())
	addRule(t, s, "r1", "ZOMATO", "sys_food_dining", 10)

	manual := storetest.Txn("manual", owner, "acc", "POS ZOMATO", 1, "1")
	manual.CategoryID = "sys_transport"
	manual.Source = domain.SourceManual
	untouched := storetest.Txn("untouched", owner, "acc", "POS ZOMATO", 2, "1")
	plain := storetest.Txn("plain", owner, "acc", "POS ZOMATO", 3, "1")
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{manual, untouched, plain}))

	res, err := r.Recategorize(ctx, owner, []string{"plain", "missing"}, []Tier{TierRules})
	require.NoError(t, err)
	require.Equal(t, 2, res.Requested)
	require.Equal(t, 1, res.Processed)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, []string{"missing"}, res.NotFound)
	require.Equal(t, 1, res.BySource[domain.SourceRule])

	got := byID(t, s)
	require.Equal(t, domain.SourceRule, got["plain"].Source)
	require.Equal(t, domain.SourceNone, got["untouched"].Source)
	require.Equal(t, domain.SourceManual, got["manual"].Source)

	// MANUAL transactions change only when explicitly selected
	res, err = r.Recategorize(ctx, owner, []string{"manual"}, []Tier{TierRules})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	got = byID(t, s)
	require.Equal(t, domain.SourceRule, got["manual"].Source)
	require.Equal(t, "sys_food_dining", got["manual"].CategoryID)
}

func TestRecategorize_NoMatchLeavesTransactionUnchanged(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t, unavailableAI())

	manual := storetest.Txn("manual", owner, "acc", "CORNER SHOP", 1, "1")
	manual.CategoryID = "sys_food_dining"
	manual.Source = domain.SourceManual
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{manual}))

	res, err := r.Recategorize(ctx, owner, []string{"manual"}, AllTiers)
	require.NoError(t, err)
	require.Zero(t, res.Updated)
	require.Equal(t, 1, res.Unchanged)
	require.Equal(t, domain.SourceManual, res.Outcomes[0].Source)

	got := byID(t, s)
	require.Equal(t, domain.SourceManual, got["manual"].Source)
	require.Equal(t, "sys_food_dining", got["manual"].CategoryID)
}

func TestRecategorize_AIOnlySkipsRules(t *testing.T) {
	ctx := context.Background()
	fake := alwaysSuggest("sys_transport")
	r, s := setup(t, fake)
	addRule(t, s, "r1", "ZOMATO", "sys_food_dining", 10)
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{storetest.Txn("t1", owner, "acc", "POS ZOMATO", 1, "1")}))

	res, err := r.Recategorize(ctx, owner, []string{"t1"}, []Tier{TierAI})
	require.NoError(t, err)
	require.Equal(t, 1, res.Updated)
	require.Equal(t, domain.SourceAI, byID(t, s)["t1"].Source)
}

func TestRecategorizeUncategorized_NeverTouchesManual(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t, alwaysSuggest("sys_transport"))

	manual := storetest.Txn("manual", owner, "acc", "X", 1, "1")
	manual.CategoryID = "sys_food_dining"
	manual.Source = domain.SourceManual
	none := storetest.Txn("none", owner, "acc", "Y", 2, "1")
	bobs := storetest.Txn("bobs", "bob", "acc", "Z", 2, "1")
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{manual, none, bobs}))

	res, err := r.RecategorizeUncategorized(ctx, owner, AllTiers)
	require.NoError(t, err)
	require.Equal(t, 1, res.Requested)
	require.Equal(t, 1, res.Updated)

	got := byID(t, s)
	require.Equal(t, domain.SourceManual, got["manual"].Source)
	require.Equal(t, "sys_food_dining", got["manual"].CategoryID)
	require.Equal(t, domain.SourceAI, got["none"].Source)
}

func TestAssignManual(t *testing.T) {
	ctx := context.Background()
	r, s := setup(t, unavailableAI())
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{
		storetest.Txn("t1", owner, "acc", "X", 1, "1"),
		storetest.Txn("t2", owner, "acc", "Y", 2, "1"),
	}))

	n, err := r.AssignManual(ctx, owner, []string{"t1", "t2", "nope"}, "sys_food_dining")
	require.NoError(t, err)
	require.Equal(t, 2, n)
	got := byID(t, s)
	require.Equal(t, domain.SourceManual, got["t1"].Source)
	require.Nil(t, got["t1"].Confidence)

	_, err = r.AssignManual(ctx, owner, []string{"t1"}, "bob-only")
	require.True(t, errors.Is(err, ErrInvalidCategory))

	n, err = r.AssignManual(ctx, owner, []string{"t2"}, "")
	require.NoError(t, err)
	require.Equal(t, 1, n)
	got = byID(t, s)
	require.Equal(t, domain.SourceNone, got["t2"].Source)
	require.Empty(t, got["t2"].CategoryID)
}

func TestParseTiers(t *testing.T) {
	tiers, err := ParseTiers("ai, RULES")
	require.NoError(t, err)
	require.Equal(t, []Tier{TierRules, TierAI}, tiers)

	_, err = ParseTiers("rules,magic")
	require.Error(t, err)

	_, err = ParseTiers(" , ")
	require.Error(t, err)
}

func byID(t *testing.T, s store.Store) map[string]domain.Transaction {
	t.Helper()
	txns, err := s.ListTransactions(context.Background(), owner, store.TransactionFilter{})
	require.NoError(t, err)
	out := make(map[string]domain.Transaction, len(txns))
	for _, txn := range txns {
		out[txn.ID] = txn
	}
	return out
}
