package rules

import (
	"regexp"
	"sort"
	"strings"
	"sync"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/domain"
)

// Matcher selects the rule that categorizes a description.
// It is safe for concurrent use.
type Matcher struct {
	log zerolog.Logger

	mu sync.Mutex
	// compiled patterns keyed by pattern text; nil marks a pattern that failed to compile
	compiled map[string]*regexp.Regexp
}

// NewMatcher creates a new rule matcher
func NewMatcher(log zerolog.Logger) *Matcher {
	return &Matcher{log: log, compiled: make(map[string]*regexp.Regexp)}
}

// Match returns the first rule, in descending priority order, that is active,
// scoped to accountID, and matches description. Rules of equal priority keep
// their input order.
func (m *Matcher) Match(rules []domain.Rule, description, accountID string) (domain.Rule, bool) {
	ordered := make([]domain.Rule, 0, len(rules))
	for _, r := range rules {
		if r.AppliesTo(accountID) {
			ordered = append(ordered, r)
		}
	}
	sort.SliceStable(ordered, func(i, j int) bool {
		return ordered[i].Priority > ordered[j].Priority
	})

	for _, r := range ordered {
		if m.Matches(r, description) {
			return r, true
		}
	}
	return domain.Rule{}, false
}

// Matches reports whether r's pattern matches description. Comparison is
// case-insensitive. An empty pattern or an invalid regex never matches.
func (m *Matcher) Matches(r domain.Rule, description string) bool {
	pattern := strings.TrimSpace(r.Pattern)
	if pattern == "" {
		return false
	}

	switch r.MatchType {
	case domain.MatchContains:
		return strings.Contains(strings.ToLower(description), strings.ToLower(pattern))
	case domain.MatchStartsWith:
		return strings.HasPrefix(strings.ToLower(strings.TrimSpace(description)), strings.ToLower(pattern))
	case domain.MatchEndsWith:
		return strings.HasSuffix(strings.ToLower(strings.TrimSpace(description)), strings.ToLower(pattern))
	case domain.MatchRegex:
		re := m.regex(r, pattern)
		return re != nil && re.MatchString(description)
	default:
		m.log.Warn().
			Str("rule_id", r.ID).
			Str("match_type", string(r.MatchType)).
			Msg("Rule has unknown match type; skipping")
		return false
	}
}

func (m *Matcher) regex(r domain.Rule, pattern string) *regexp.Regexp {
	m.mu.Lock()
	defer m.mu.Unlock()

	if re, ok := m.compiled[pattern]; ok {
		return re
	}

	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		m.log.Warn().
			Err(err).
			Str("rule_id", r.ID).
			Str("owner_id", r.OwnerID).
			Str("pattern", pattern).
			Msg("Invalid regex in rule; treating as non-match")
		re = nil
	}
	m.compiled[pattern] = re
	return re
}

// ValidatePattern reports a compile error for REGEX rules so callers can
// reject them at write time. Other match types always validate.
func ValidatePattern(t domain.MatchType, pattern string) error {
	if t != domain.MatchRegex {
		return nil
	}
	_, err := regexp.Compile("(?i)" + strings.TrimSpace(pattern))
	return err
}
