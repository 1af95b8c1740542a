package rules

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// ErrInvalidRule wraps rule input validation failures.
var ErrInvalidRule = errors.New("invalid rule")

// Input carries the user-editable fields of a rule. Nil Priority and Active
// take their defaults.
type Input struct {
	Pattern    string           `json:"pattern"`
	MatchType  domain.MatchType `json:"match_type"`
	AccountID  string           `json:"account_id,omitempty"`
	CategoryID string           `json:"category_id"`
	Priority   *int             `json:"priority,omitempty"`
	Active     *bool            `json:"is_active,omitempty"`
}

// Exported is the portable form of a rule, annotated with its category name.
type Exported struct {
	Pattern      string           `json:"pattern"`
	MatchType    domain.MatchType `json:"match_type"`
	AccountID    string           `json:"account_id,omitempty"`
	CategoryID   string           `json:"category_id"`
	CategoryName string           `json:"category_name,omitempty"`
	Priority     int              `json:"priority"`
	Active       *bool            `json:"is_active,omitempty"`
}

// ImportResult reports the outcome of Import.
type ImportResult struct {
	Imported int      `json:"imported_count"`
	Skipped  int      `json:"skipped_count"`
	Reasons  []string `json:"skipped_reasons,omitempty"`
}

// Service manages an owner's categorization rules.
type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates a new rule service
func NewService(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the owner's rules in evaluation order.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	rules, err := s.store.ListRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return rules, nil
}

// Create adds a rule for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*domain.Rule, error) {
	r := domain.Rule{
		ID:        uuid.NewString(),
		OwnerID:   ownerID,
		Priority:  domain.DefaultRulePriority,
		Active:    true,
		CreatedAt: s.now(),
	}
	apply(&r, in)

	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.InsertRules(ctx, []domain.Rule{r}); err != nil {
		return nil, fmt.Errorf("Create: inserting rule: %w", err)
	}

	s.log.Info().Str("owner_id", ownerID).Str("rule_id", r.ID).Str("pattern", r.Pattern).Msg("Rule created")
	return &r, nil
}

// Update replaces the editable fields of an existing rule.
func (s *Service) Update(ctx context.Context, ownerID, id string, in Input) (*domain.Rule, error) {
	existing, err := s.get(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	r := *existing
	apply(&r, in)
	if err := s.validate(ctx, r); err != nil {
		return nil, err
	}
	if err := s.store.UpdateRule(ctx, r); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return &r, nil
}

// Delete removes a rule.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if err := s.store.DeleteRule(ctx, ownerID, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	return nil
}

// Export returns the owner's rules in portable form.
func (s *Service) Export(ctx context.Context, ownerID string) ([]Exported, error) {
	rules, err := s.store.ListRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Export: listing rules: %w", err)
	}
	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("Export: listing categories: %w", err)
	}
	names := make(map[string]string, len(cats))
	for _, c := range cats {
		names[c.ID] = c.Name
	}

	out := make([]Exported, 0, len(rules))
	for _, r := range rules {
		active := r.Active
		out = append(out, Exported{
			Pattern:      r.Pattern,
			MatchType:    r.MatchType,
			AccountID:    r.AccountID,
			CategoryID:   r.CategoryID,
			CategoryName: names[r.CategoryID],
			Priority:     r.Priority,
			Active:       &active,
		})
	}
	return out, nil
}

// Import creates fresh rules for ownerID. A rule whose category is not
// visible to the owner, by id or else by name, is skipped, as is a rule
// scoped to an account the owner does not hold.
func (s *Service) Import(ctx context.Context, ownerID string, exported []Exported) (ImportResult, error) {
	var res ImportResult

	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return res, fmt.Errorf("Import: listing categories: %w", err)
	}
	accounts, err := s.store.ListAccounts(ctx, ownerID)
	if err != nil {
		return res, fmt.Errorf("Import: listing accounts: %w", err)
	}

	byID := make(map[string]bool, len(cats))
	byName := make(map[string]string, len(cats))
	for _, c := range cats {
		byID[c.ID] = true
		key := strings.ToLower(strings.TrimSpace(c.Name))
		// the owner's own category wins over a system category of the same name
		if _, taken := byName[key]; !taken || !c.IsSystem {
			byName[key] = c.ID
		}
	}
	owned := make(map[string]bool, len(accounts))
	for _, a := range accounts {
		owned[a.ID] = true
	}

	// staggered created_at keeps the exported order among equal priorities
	now := s.now()
	var batch []domain.Rule
	for i, e := range exported {
		categoryID := e.CategoryID
		if !byID[categoryID] {
			categoryID = byName[strings.ToLower(strings.TrimSpace(e.CategoryName))]
		}
		if categoryID == "" {
			res.Skipped++
			res.Reasons = append(res.Reasons, fmt.Sprintf("rule %d (%q): category not found", i+1, e.Pattern))
			continue
		}
		if e.AccountID != "" && !owned[e.AccountID] {
			res.Skipped++
			res.Reasons = append(res.Reasons, fmt.Sprintf("rule %d (%q): account %s not found", i+1, e.Pattern, e.AccountID))
			continue
		}

		matchType := e.MatchType
		if matchType == "" {
			matchType = domain.MatchContains
		}
		priority := e.Priority
		if priority == 0 {
			priority = domain.DefaultRulePriority
		}
		active := e.Active == nil || *e.Active

		r := domain.Rule{
			ID:         uuid.NewString(),
			OwnerID:    ownerID,
			Pattern:    strings.TrimSpace(e.Pattern),
			MatchType:  matchType,
			AccountID:  e.AccountID,
			CategoryID: categoryID,
			Priority:   priority,
			Active:     active,
			CreatedAt:  now.Add(time.Duration(i) * time.Microsecond),
		}
		if err := r.Validate(); err != nil {
			res.Skipped++
			res.Reasons = append(res.Reasons, fmt.Sprintf("rule %d: %v", i+1, err))
			continue
		}
		batch = append(batch, r)
	}

	if len(batch) > 0 {
		if err := s.store.InsertRules(ctx, batch); err != nil {
			return res, fmt.Errorf("Import: inserting rules: %w", err)
		}
	}
	res.Imported = len(batch)

	s.log.Info().
		Str("owner_id", ownerID).
		Int("imported", res.Imported).
		Int("skipped", res.Skipped).
		Msg("Rules imported")
	return res, nil
}

func (s *Service) get(ctx context.Context, ownerID, id string) (*domain.Rule, error) {
	rules, err := s.store.ListRules(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("get: listing rules: %w", err)
	}
	for _, r := range rules {
		if r.ID == id {
			return &r, nil
		}
	}
	return nil, fmt.Errorf("rule %s: %w", id, store.ErrNotFound)
}

func (s *Service) validate(ctx context.Context, r domain.Rule) error {
	if err := r.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidRule, err)
	}
	if err := ValidatePattern(r.MatchType, r.Pattern); err != nil {
		return fmt.Errorf("%w: pattern does not compile: %v", ErrInvalidRule, err)
	}

	c, err := s.store.GetCategory(ctx, r.CategoryID)
	if errors.Is(err, store.ErrNotFound) || (err == nil && !c.VisibleTo(r.OwnerID)) {
		return fmt.Errorf("%w: category %s not found", ErrInvalidRule, r.CategoryID)
	}
	if err != nil {
		return fmt.Errorf("validate: %w", err)
	}

	if r.AccountID != "" {
		if _, err := s.store.GetAccount(ctx, r.OwnerID, r.AccountID); err != nil {
			if errors.Is(err, store.ErrNotFound) {
				return fmt.Errorf("%w: account %s not found", ErrInvalidRule, r.AccountID)
			}
			return fmt.Errorf("validate: %w", err)
		}
	}
	return nil
}

func apply(r *domain.Rule, in Input) {
	r.Pattern = strings.TrimSpace(in.Pattern)
	r.MatchType = in.MatchType
	if r.MatchType == "" {
		r.MatchType = domain.MatchContains
	}
	r.AccountID = in.AccountID
	r.CategoryID = in.CategoryID
	if in.Priority != nil {
		r.Priority = *in.Priority
	}
	if in.Active != nil {
		r.Active = *in.Active
	}
}
