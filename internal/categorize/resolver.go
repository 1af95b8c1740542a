package categorize

import (
	"context"
	"errors"
	"fmt"

	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
)

// ErrInvalidCategory is returned when a manual assignment names a category
// the owner cannot see.
var ErrInvalidCategory = errors.New("category not found")

// Outcome is the result of resolving one transaction.
type Outcome struct {
	TransactionID string `json:"transaction_id"`
	Assignment

	// Matched is false when no requested tier produced a category.
	Matched bool `json:"matched"`

	// Changed reports whether the stored category or source differs afterwards.
	Changed bool `json:"changed"`
}

// Resolver runs the categorization tiers over transactions.
type Resolver struct {
	store       store.Store
	matcher     *rules.Matcher
	ai          *ai.Guard
	concurrency int
	log         zerolog.Logger
}

// NewResolver creates a resolver. concurrency bounds the number of
// transactions resolved at once, which bounds in-flight AI calls.
func NewResolver(s store.Store, m *rules.Matcher, g *ai.Guard, concurrency int, log zerolog.Logger) *Resolver {
	if concurrency < 1 {
		concurrency = 1
	}
	return &Resolver{store: s, matcher: m, ai: g, concurrency: concurrency, log: log}
}

// session holds everything loaded once per owner for a run.
type session struct {
	ownerID    string
	strategies []Strategy
	known      map[string]bool
}

func (r *Resolver) newSession(ctx context.Context, ownerID string, tiers []Tier) (*session, error) {
	cats, err := r.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("newSession: listing categories: %w", err)
	}
	known := make(map[string]bool, len(cats))
	for _, c := range cats {
		known[c.ID] = true
	}

	sess := &session{ownerID: ownerID, known: known}
	for _, t := range tiers {
		switch t {
		case TierRules:
			ownerRules, err := r.store.ListRules(ctx, ownerID)
			if err != nil {
				return nil, fmt.Errorf("newSession: listing rules: %w", err)
			}
			sess.strategies = append(sess.strategies, NewRuleStrategy(r.matcher, ownerRules))
		case TierAI:
			sess.strategies = append(sess.strategies, NewAIStrategy(r.ai, cats))
		default:
			return nil, fmt.Errorf("newSession: unknown tier %q", t)
		}
	}
	return sess, nil
}

// attempt runs the session's strategies in order and returns the first success.
func (r *Resolver) attempt(ctx context.Context, sess *session, txn domain.Transaction) (Assignment, bool) {
	for _, s := range sess.strategies {
		a, ok := s.Attempt(ctx, txn)
		if !ok {
			continue
		}
		if !sess.known[a.CategoryID] {
			r.log.Error().
				Str("owner_id", sess.ownerID).
				Str("transaction_id", txn.ID).
				Str("tier", string(s.Tier())).
				Str("rule_id", a.RuleID).
				Str("category_id", a.CategoryID).
				Msg("Strategy picked a category the owner cannot see; skipping tier")
			continue
		}
		return a, true
	}
	return Assignment{}, false
}

// resolveAll runs attempt over txns with bounded concurrency. Results keep input order.
func (r *Resolver) resolveAll(ctx context.Context, sess *session, txns []domain.Transaction) ([]Outcome, error) {
	out := make([]Outcome, len(txns))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(r.concurrency)
	for i := range txns {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			a, ok := r.attempt(gctx, sess, txns[i])
			out[i] = Outcome{TransactionID: txns[i].ID, Assignment: a, Matched: ok}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

// Resolve categorizes new transactions through every tier. Transactions no
// tier matches come back as Uncategorized. Nothing is persisted.
func (r *Resolver) Resolve(ctx context.Context, ownerID string, txns []domain.Transaction) ([]Outcome, error) {
	sess, err := r.newSession(ctx, ownerID, AllTiers)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	outcomes, err := r.resolveAll(ctx, sess, txns)
	if err != nil {
		return nil, fmt.Errorf("Resolve: %w", err)
	}
	for i := range outcomes {
		if !outcomes[i].Matched {
			outcomes[i].Assignment = Uncategorized
		}
		outcomes[i].Changed = true
	}
	return outcomes, nil
}

// Apply sets each transaction's category from the matching outcome.
func Apply(txns []domain.Transaction, outcomes []Outcome) {
	for i := range txns {
		a := outcomes[i].Assignment
		txns[i].CategoryID = a.CategoryID
		txns[i].Source = a.Source
		txns[i].Confidence = a.Confidence
	}
}

// BulkResult summarises a bulk run.
type BulkResult struct {
	Tiers     []Tier                        `json:"tiers"`
	Requested int                           `json:"requested"`
	Processed int                           `json:"processed"`
	Updated   int                           `json:"updated"`
	Unchanged int                           `json:"unchanged"`
	NotFound  []string                      `json:"not_found,omitempty"`
	BySource  map[domain.CategorySource]int `json:"by_source"`
	Outcomes  []Outcome                     `json:"outcomes"`
}

// Recategorize re-runs the requested tiers over exactly the transactions in
// ids. Explicitly selected transactions are eligible whatever their current
// source, MANUAL included. A transaction no requested tier matches keeps its
// current category.
func (r *Resolver) Recategorize(ctx context.Context, ownerID string, ids []string, tiers []Tier) (BulkResult, error) {
	res := BulkResult{Tiers: tiers, Requested: len(ids), BySource: make(map[domain.CategorySource]int)}
	if len(ids) == 0 {
		return res, nil
	}

	txns, err := r.store.ListTransactions(ctx, ownerID, store.TransactionFilter{IDs: ids})
	if err != nil {
		return res, fmt.Errorf("Recategorize: listing transactions: %w", err)
	}
	res.NotFound = missing(ids, txns)

	return r.recategorize(ctx, ownerID, txns, tiers, res)
}

// RecategorizeUncategorized re-runs the requested tiers over the owner's
// transactions whose source is NONE. MANUAL, RULE and AI transactions are
// never selected.
func (r *Resolver) RecategorizeUncategorized(ctx context.Context, ownerID string, tiers []Tier) (BulkResult, error) {
	res := BulkResult{Tiers: tiers, BySource: make(map[domain.CategorySource]int)}

	txns, err := r.store.ListTransactions(ctx, ownerID, store.TransactionFilter{Source: domain.SourceNone})
	if err != nil {
		return res, fmt.Errorf("RecategorizeUncategorized: listing transactions: %w", err)
	}
	res.Requested = len(txns)

	return r.recategorize(ctx, ownerID, txns, tiers, res)
}

func (r *Resolver) recategorize(ctx context.Context, ownerID string, txns []domain.Transaction, tiers []Tier, res BulkResult) (BulkResult, error) {
	sess, err := r.newSession(ctx, ownerID, tiers)
	if err != nil {
		return res, fmt.Errorf("recategorize: %w", err)
	}
	outcomes, err := r.resolveAll(ctx, sess, txns)
	if err != nil {
		return res, fmt.Errorf("recategorize: %w", err)
	}

	var updates []store.CategoryAssignment
	for i, o := range outcomes {
		if !o.Matched {
			// keep whatever the transaction had
			outcomes[i].Assignment = Assignment{
				CategoryID: txns[i].CategoryID,
				Source:     txns[i].Source,
				Confidence: txns[i].Confidence,
			}
			continue
		}
		res.BySource[o.Source]++
		if txns[i].CategoryID == o.CategoryID && txns[i].Source == o.Source {
			continue
		}
		outcomes[i].Changed = true
		updates = append(updates, store.CategoryAssignment{
			TransactionID: o.TransactionID,
			CategoryID:    o.CategoryID,
			Source:        o.Source,
			Confidence:    o.Confidence,
		})
	}

	if len(updates) > 0 {
		if _, err := r.store.UpdateTransactionCategories(ctx, ownerID, updates); err != nil {
			return res, fmt.Errorf("recategorize: updating transactions: %w", err)
		}
	}

	res.Processed = len(txns)
	res.Updated = len(updates)
	res.Unchanged = len(txns) - len(updates)
	res.Outcomes = outcomes

	r.log.Info().
		Str("owner_id", ownerID).
		Interface("tiers", tiers).
		Int("processed", res.Processed).
		Int("updated", res.Updated).
		Msg("Bulk categorization finished")
	return res, nil
}

// AssignManual sets categoryID on the owner's transactions with source MANUAL.
// An empty categoryID clears the category and sets source NONE.
func (r *Resolver) AssignManual(ctx context.Context, ownerID string, ids []string, categoryID string) (int, error) {
	source := domain.SourceNone
	if categoryID != "" {
		c, err := r.store.GetCategory(ctx, categoryID)
		if errors.Is(err, store.ErrNotFound) || (err == nil && !c.VisibleTo(ownerID)) {
			return 0, fmt.Errorf("AssignManual: %w: %s", ErrInvalidCategory, categoryID)
		}
		if err != nil {
			return 0, fmt.Errorf("AssignManual: %w", err)
		}
		source = domain.SourceManual
	}

	updates := make([]store.CategoryAssignment, 0, len(ids))
	for _, id := range ids {
		updates = append(updates, store.CategoryAssignment{TransactionID: id, CategoryID: categoryID, Source: source})
	}
	n, err := r.store.UpdateTransactionCategories(ctx, ownerID, updates)
	if err != nil {
		return 0, fmt.Errorf("AssignManual: updating transactions: %w", err)
	}

	r.log.Info().
		Str("owner_id", ownerID).
		Str("category_id", categoryID).
		Int("updated", n).
		Msg("Manual categorization applied")
	return n, nil
}

func missing(ids []string, found []domain.Transaction) []string {
	have := make(map[string]bool, len(found))
	for _, t := range found {
		have[t.ID] = true
	}
	var out []string
	for _, id := range ids {
		if !have[id] {
			out = append(out, id)
		}
	}
	return out
}
