package categorize

import (
	"context"
	"fmt"
	"strings"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/rules"
)

// Tier names a categorization strategy.
type Tier string

const (
	TierRules Tier = "rules"
	TierAI    Tier = "ai"
)

// AllTiers is the full resolution order.
var AllTiers = []Tier{TierRules, TierAI}

// ParseTiers parses a comma-separated tier list such as "rules,ai".
// Order in the input is ignored; tiers always run in AllTiers order.
func ParseTiers(s string) ([]Tier, error) {
	want := make(map[Tier]bool)
	for _, part := range strings.Split(s, ",") {
		part = strings.ToLower(strings.TrimSpace(part))
		if part == "" {
			continue
		}
		t := Tier(part)
		if t != TierRules && t != TierAI {
			return nil, fmt.Errorf("unknown tier %q", part)
		}
		want[t] = true
	}
	if len(want) == 0 {
		return nil, fmt.Errorf("no tiers given")
	}

	var out []Tier
	for _, t := range AllTiers {
		if want[t] {
			out = append(out, t)
		}
	}
	return out, nil
}

// Assignment is the category a strategy picked for a transaction.
type Assignment struct {
	CategoryID string                `json:"category_id,omitempty"`
	Source     domain.CategorySource `json:"categorisation_source"`
	Confidence *float64              `json:"confidence_score,omitempty"`
	RuleID     string                `json:"rule_id,omitempty"`
}

// Uncategorized is the assignment used when no strategy succeeds.
var Uncategorized = Assignment{Source: domain.SourceNone}

// Strategy is one categorization tier.
type Strategy interface {
	Tier() Tier
	Attempt(ctx context.Context, txn domain.Transaction) (Assignment, bool)
}

// RuleStrategy assigns the target category of the best matching rule.
type RuleStrategy struct {
	matcher *rules.Matcher
	rules   []domain.Rule
}

// NewRuleStrategy creates a rule tier over the owner's rules.
func NewRuleStrategy(m *rules.Matcher, ownerRules []domain.Rule) *RuleStrategy {
	return &RuleStrategy{matcher: m, rules: ownerRules}
}

func (s *RuleStrategy) Tier() Tier { return TierRules }

func (s *RuleStrategy) Attempt(ctx context.Context, txn domain.Transaction) (Assignment, bool) {
	r, ok := s.matcher.Match(s.rules, txn.Description, txn.AccountID)
	if !ok {
		return Assignment{}, false
	}
	confidence := 1.0
	return Assignment{
		CategoryID: r.CategoryID,
		Source:     domain.SourceRule,
		Confidence: &confidence,
		RuleID:     r.ID,
	}, true
}

// AIStrategy asks the guarded AI categorizer for a suggestion.
type AIStrategy struct {
	guard      *ai.Guard
	categories []domain.Category
}

// NewAIStrategy creates an AI tier that may pick from categories.
func NewAIStrategy(g *ai.Guard, categories []domain.Category) *AIStrategy {
	return &AIStrategy{guard: g, categories: categories}
}

func (s *AIStrategy) Tier() Tier { return TierAI }

func (s *AIStrategy) Attempt(ctx context.Context, txn domain.Transaction) (Assignment, bool) {
	sug, ok := s.guard.Suggest(ctx, ai.Request{
		OwnerID:     txn.OwnerID,
		Description: txn.Description,
		Amount:      txn.Amount,
		Direction:   txn.Direction,
		Categories:  s.categories,
	})
	if !ok {
		return Assignment{}, false
	}
	confidence := sug.Confidence
	return Assignment{
		CategoryID: sug.CategoryID,
		Source:     domain.SourceAI,
		Confidence: &confidence,
	}, true
}
