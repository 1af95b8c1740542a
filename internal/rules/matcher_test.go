package rules

import (
	"bytes"
	"strings"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
)

func rule(id, pattern string, mt domain.MatchType, priority int) domain.Rule {
	return domain.Rule{
		ID:         id,
		OwnerID:    "alice",
		Pattern:    pattern,
		MatchType:  mt,
		CategoryID: "cat-" + id,
		Priority:   priority,
		Active:     true,
		CreatedAt:  time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestMatches_MatchTypes(t *testing.T) {
	m := NewMatcher(zerolog.Nop())

	tests := []struct {
		name        string
		rule        domain.Rule
		description string
		want        bool
	}{
		{"contains", rule("r", "zomato", domain.MatchContains, 10), "POS ZOMATO BANGALORE", true},
		{"contains miss", rule("r", "SWIGGY", domain.MatchContains, 10), "POS ZOMATO BANGALORE", false},
		{"starts with", rule("r", "pos", domain.MatchStartsWith, 10), "POS ZOMATO", true},
		{"starts with ignores leading space", rule("r", "POS", domain.MatchStartsWith, 10), "  POS ZOMATO", true},
		{"starts with miss", rule("r", "ZOMATO", domain.MatchStartsWith, 10), "POS ZOMATO", false},
		{"ends with", rule("r", "bangalore", domain.MatchEndsWith, 10), "POS ZOMATO BANGALORE", true},
		{"ends with miss", rule("r", "POS", domain.MatchEndsWith, 10), "POS ZOMATO BANGALORE", false},
		{"regex", rule("r", `^pos\s+zom`, domain.MatchRegex, 10), "POS ZOMATO", true},
		{"regex keeps escapes", rule("r", `\D+\d{4}$`, domain.MatchRegex, 10), "UPI REF 1234", true},
		{"regex miss", rule("r", `^UBER`, domain.MatchRegex, 10), "POS ZOMATO", false},
		{"invalid regex", rule("r", `ZOMATO(`, domain.MatchRegex, 10), "POS ZOMATO(", false},
		{"empty pattern", rule("r", "   ", domain.MatchContains, 10), "anything", false},
		{"pattern is trimmed", rule("r", " zomato ", domain.MatchContains, 10), "POS ZOMATO BLR", true},
		{"unknown match type", rule("r", "ZOMATO", "FUZZY", 10), "POS ZOMATO", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.want, m.Matches(tt.rule, tt.description))
		})
	}
}

func TestMatch_HighestPriorityWins(t *testing.T) {
	m := NewMatcher(zerolog.Nop())
	rules := []domain.Rule{
		rule("low", "ZOMATO", domain.MatchContains, 1),
		rule("high", "POS", domain.MatchStartsWith, 50),
		rule("mid", "BANGALORE", domain.MatchEndsWith, 10),
	}

	got, ok := m.Match(rules, "POS ZOMATO BANGALORE", "acc1")
	require.True(t, ok)
	require.Equal(t, "high", got.ID)
}

func TestMatch_TiesKeepInputOrder(t *testing.T) {
	m := NewMatcher(zerolog.Nop())
	rules := []domain.Rule{
		rule("other", "UBER", domain.MatchContains, 20),
		rule("first", "ZOMATO", domain.MatchContains, 10),
		rule("second", "POS", domain.MatchContains, 10),
		rule("third", "BANGALORE", domain.MatchContains, 10),
	}

	for i := 0; i < 20; i++ {
		got, ok := m.Match(rules, "POS ZOMATO BANGALORE", "acc1")
		require.True(t, ok)
		require.Equal(t, "first", got.ID)
	}

	// reversing the input reverses the tie winner
	reversed := []domain.Rule{rules[3], rules[2], rules[1], rules[0]}
	got, ok := m.Match(reversed, "POS ZOMATO BANGALORE", "acc1")
	require.True(t, ok)
	require.Equal(t, "third", got.ID)
}

func TestMatch_SkipsInactiveAndOtherAccounts(t *testing.T) {
	m := NewMatcher(zerolog.Nop())

	inactive := rule("inactive", "ZOMATO", domain.MatchContains, 100)
	inactive.Active = false
	scoped := rule("scoped", "ZOMATO", domain.MatchContains, 90)
	scoped.AccountID = "card"
	global := rule("global", "ZOMATO", domain.MatchContains, 10)

	rules := []domain.Rule{inactive, scoped, global}

	got, ok := m.Match(rules, "POS ZOMATO", "bank")
	require.True(t, ok)
	require.Equal(t, "global", got.ID)

	got, ok = m.Match(rules, "POS ZOMATO", "card")
	require.True(t, ok)
	require.Equal(t, "scoped", got.ID)
}

func TestMatch_InvalidRegexIsSkippedAndLoggedOnce(t *testing.T) {
	buf := &bytes.Buffer{}
	m := NewMatcher(zerolog.New(buf))

	rules := []domain.Rule{
		rule("broken", `[ZOMATO`, domain.MatchRegex, 100),
		rule("fallback", "ZOMATO", domain.MatchContains, 1),
	}

	for i := 0; i < 3; i++ {
		got, ok := m.Match(rules, "POS ZOMATO", "acc1")
		require.True(t, ok)
		require.Equal(t, "fallback", got.ID)
	}

	require.Equal(t, 1, strings.Count(buf.String(), "Invalid regex in rule"))
	require.Contains(t, buf.String(), `"rule_id":"broken"`)
}

func TestMatch_NoRules(t *testing.T) {
	_, ok := NewMatcher(zerolog.Nop()).Match(nil, "POS ZOMATO", "acc1")
	require.False(t, ok)
}

func TestMatch_DoesNotReorderCallerSlice(t *testing.T) {
	m := NewMatcher(zerolog.Nop())
	rules := []domain.Rule{
		rule("a", "X", domain.MatchContains, 1),
		rule("b", "X", domain.MatchContains, 5),
	}
	_, _ = m.Match(rules, "X", "acc")
	require.Equal(t, "a", rules[0].ID)
}

func TestValidatePattern(t *testing.T) {
	require.NoError(t, ValidatePattern(domain.MatchContains, "(("))
	require.NoError(t, ValidatePattern(domain.MatchRegex, `^UBER\s`))
	require.Error(t, ValidatePattern(domain.MatchRegex, `((`))
}
