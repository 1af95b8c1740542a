package domain

import (
	"fmt"
	"strings"
	"time"
)

// MatchType selects how a rule pattern is compared with a description.
type MatchType string

const (
	MatchContains   MatchType = "CONTAINS"
	MatchStartsWith MatchType = "STARTS_WITH"
	MatchEndsWith   MatchType = "ENDS_WITH"
	MatchRegex      MatchType = "REGEX"
)

// Valid reports whether m is a known match type.
func (m MatchType) Valid() bool {
	switch m {
	case MatchContains, MatchStartsWith, MatchEndsWith, MatchRegex:
		return true
	}
	return false
}

// DefaultRulePriority is used when a rule is created without a priority.
const DefaultRulePriority = 10

// Rule maps descriptions matching Pattern onto CategoryID.
// Higher Priority wins. An empty AccountID applies the rule to every account.
type Rule struct {
	ID         string    `json:"id"`
	OwnerID    string    `json:"user_id"`
	Pattern    string    `json:"pattern"`
	MatchType  MatchType `json:"match_type"`
	AccountID  string    `json:"account_id,omitempty"`
	CategoryID string    `json:"category_id"`
	Priority   int       `json:"priority"`
	Active     bool      `json:"is_active"`
	CreatedAt  time.Time `json:"created_at"`
}

// AppliesTo reports whether the rule is active and scoped to accountID.
func (r Rule) AppliesTo(accountID string) bool {
	return r.Active && (r.AccountID == "" || r.AccountID == accountID)
}

// Validate checks structural invariants of a rule record.
// Regex syntax is not checked here; bad patterns degrade to non-matches.
func (r Rule) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("rule id is required")
	}
	if strings.TrimSpace(r.Pattern) == "" {
		return fmt.Errorf("rule %s: pattern is required", r.ID)
	}
	if !r.MatchType.Valid() {
		return fmt.Errorf("rule %s: invalid match_type %q", r.ID, r.MatchType)
	}
	if r.CategoryID == "" {
		return fmt.Errorf("rule %s: category_id is required", r.ID)
	}
	return nil
}
