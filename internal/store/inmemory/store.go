package inmemory

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

type state struct {
	categories map[string]domain.Category
	rules      map[string]domain.Rule
	accounts   map[string]domain.Account
	txns       map[string]domain.Transaction
	batches    map[string]domain.ImportBatch
}

func newState() *state {
	return &state{
		categories: make(map[string]domain.Category),
		rules:      make(map[string]domain.Rule),
		accounts:   make(map[string]domain.Account),
		txns:       make(map[string]domain.Transaction),
		batches:    make(map[string]domain.ImportBatch),
	}
}

func (s *state) clone() *state {
	c := newState()
	for k, v := range s.categories {
		c.categories[k] = v
	}
	for k, v := range s.rules {
		c.rules[k] = v
	}
	for k, v := range s.accounts {
		c.accounts[k] = v
	}
	for k, v := range s.txns {
		c.txns[k] = v
	}
	for k, v := range s.batches {
		c.batches[k] = v
	}
	return c
}

// Store is an in-memory implementation of store.Store.
// RunInTx works on a copy of the data and swaps it in only when fn succeeds.
type Store struct {
	mu   sync.RWMutex
	data *state
	inTx bool
}

// NewStore creates a new empty in-memory store
func NewStore() *Store {
	return &Store{data: newState()}
}

var _ store.Store = (*Store)(nil)

func (s *Store) Transactional() bool { return true }

func (s *Store) Close() error { return nil }

// RunInTx runs fn against a private copy of the data. The copy replaces the
// store's data only if fn returns nil. Other callers block until fn returns.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	if s.inTx {
		return fn(ctx, s)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	tx := &Store{data: s.data.clone(), inTx: true}
	if err := fn(ctx, tx); err != nil {
		return err
	}
	s.data = tx.data
	return nil
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Category
	for _, c := range s.data.categories {
		if c.VisibleTo(ownerID) {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListSystemCategories(ctx context.Context) ([]domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Category
	for _, c := range s.data.categories {
		if c.IsSystem {
			out = append(out, c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	c, ok := s.data.categories[id]
	if !ok {
		return nil, fmt.Errorf("category %s: %w", id, store.ErrNotFound)
	}
	return &c, nil
}

func (s *Store) ListRules(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Rule
	for _, r := range s.data.rules {
		if r.OwnerID == ownerID {
			out = append(out, r)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		a, b := out[i], out[j]
		if a.Priority != b.Priority {
			return a.Priority > b.Priority
		}
		if !a.CreatedAt.Equal(b.CreatedAt) {
			return a.CreatedAt.Before(b.CreatedAt)
		}
		return a.ID < b.ID
	})
	return out, nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Account
	for _, a := range s.data.accounts {
		if a.OwnerID == ownerID {
			out = append(out, a)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Name != out[j].Name {
			return out[i].Name < out[j].Name
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID, id string) (*domain.Account, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	a, ok := s.data.accounts[id]
	if !ok || a.OwnerID != ownerID {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	return &a, nil
}

func (s *Store) ListTransactions(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var ids map[string]bool
	if len(filter.IDs) > 0 {
		ids = make(map[string]bool, len(filter.IDs))
		for _, id := range filter.IDs {
			ids[id] = true
		}
	}

	var out []domain.Transaction
	for _, t := range s.data.txns {
		if t.OwnerID != ownerID || !matchesFilter(t, filter, ids) {
			continue
		}
		out = append(out, t)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Date != out[j].Date {
			return out[i].Date.After(out[j].Date)
		}
		return out[i].ID < out[j].ID
	})

	if filter.Offset > 0 {
		if filter.Offset >= len(out) {
			return nil, nil
		}
		out = out[filter.Offset:]
	}
	if filter.Limit > 0 && filter.Limit < len(out) {
		out = out[:filter.Limit]
	}
	return out, nil
}

func matchesFilter(t domain.Transaction, f store.TransactionFilter, ids map[string]bool) bool {
	if ids != nil && !ids[t.ID] {
		return false
	}
	if f.AccountID != "" && t.AccountID != f.AccountID {
		return false
	}
	if f.CategoryID != "" && t.CategoryID != f.CategoryID {
		return false
	}
	if f.Uncategorized && t.CategoryID != "" {
		return false
	}
	if f.Source != "" && t.Source != f.Source {
		return false
	}
	if f.StartDate.IsValid() && t.Date.Before(f.StartDate) {
		return false
	}
	if f.EndDate.IsValid() && t.Date.After(f.EndDate) {
		return false
	}
	return true
}

func (s *Store) ListImportBatches(ctx context.Context, ownerID string) ([]domain.ImportBatch, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ImportBatch
	for _, b := range s.data.batches {
		if b.OwnerID == ownerID {
			out = append(out, b)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].ImportedAt.Equal(out[j].ImportedAt) {
			return out[i].ImportedAt.After(out[j].ImportedAt)
		}
		return out[i].ID < out[j].ID
	})
	return out, nil
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	seen := make(map[string]bool)
	for _, a := range s.data.accounts {
		seen[a.OwnerID] = true
	}
	for _, t := range s.data.txns {
		seen[t.OwnerID] = true
	}

	out := make([]string, 0, len(seen))
	for o := range seen {
		out = append(out, o)
	}
	sort.Strings(out)
	return out, nil
}

func (s *Store) TransactionExists(ctx context.Context, ownerID string, key store.DuplicateKey) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	for _, t := range s.data.txns {
		if t.OwnerID == ownerID &&
			t.AccountID == key.AccountID &&
			t.Date == key.Date &&
			t.Direction == key.Direction &&
			t.Amount.Equal(key.Amount) &&
			strings.EqualFold(t.Description, key.Description) {
			return true, nil
		}
	}
	return false, nil
}

func (s *Store) InsertSystemCategory(ctx context.Context, c domain.Category) (bool, error) {
	if !c.IsSystem {
		return false, fmt.Errorf("InsertSystemCategory: category %s is not a system category", c.ID)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.categories[c.ID]; exists {
		return false, nil
	}
	s.data.categories[c.ID] = c
	return true, nil
}

func (s *Store) InsertCategories(ctx context.Context, categories []domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, c := range categories {
		if _, exists := s.data.categories[c.ID]; exists {
			return fmt.Errorf("InsertCategories: category %s already exists", c.ID)
		}
	}
	for _, c := range categories {
		s.data.categories[c.ID] = c
	}
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.categories[c.ID]
	if !ok || existing.IsSystem || existing.OwnerID != c.OwnerID {
		return fmt.Errorf("UpdateCategory: category %s: %w", c.ID, store.ErrNotFound)
	}
	c.IsSystem = false
	c.CreatedAt = existing.CreatedAt
	s.data.categories[c.ID] = c
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.categories[id]
	if !ok || existing.IsSystem || existing.OwnerID != ownerID {
		return fmt.Errorf("DeleteCategory: category %s: %w", id, store.ErrNotFound)
	}
	delete(s.data.categories, id)
	return nil
}

func (s *Store) InsertRules(ctx context.Context, rules []domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, r := range rules {
		if _, exists := s.data.rules[r.ID]; exists {
			return fmt.Errorf("InsertRules: rule %s already exists", r.ID)
		}
	}
	for _, r := range rules {
		s.data.rules[r.ID] = r
	}
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, r domain.Rule) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.rules[r.ID]
	if !ok || existing.OwnerID != r.OwnerID {
		return fmt.Errorf("UpdateRule: rule %s: %w", r.ID, store.ErrNotFound)
	}
	r.CreatedAt = existing.CreatedAt
	s.data.rules[r.ID] = r
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, ownerID, id string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.data.rules[id]
	if !ok || existing.OwnerID != ownerID {
		return fmt.Errorf("DeleteRule: rule %s: %w", id, store.ErrNotFound)
	}
	delete(s.data.rules, id)
	return nil
}

func (s *Store) InsertAccounts(ctx context.Context, accounts []domain.Account) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, a := range accounts {
		if _, exists := s.data.accounts[a.ID]; exists {
			return fmt.Errorf("InsertAccounts: account %s already exists", a.ID)
		}
	}
	for _, a := range accounts {
		s.data.accounts[a.ID] = a
	}
	return nil
}

func (s *Store) InsertTransactions(ctx context.Context, txns []domain.Transaction) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, t := range txns {
		if _, exists := s.data.txns[t.ID]; exists {
			return fmt.Errorf("InsertTransactions: transaction %s already exists", t.ID)
		}
	}
	for _, t := range txns {
		s.data.txns[t.ID] = t
	}
	return nil
}

func (s *Store) UpdateTransactionCategories(ctx context.Context, ownerID string, assignments []store.CategoryAssignment) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().UTC()
	updated := 0
	for _, a := range assignments {
		t, ok := s.data.txns[a.TransactionID]
		if !ok || t.OwnerID != ownerID {
			continue
		}
		t.CategoryID = a.CategoryID
		t.Source = a.Source
		t.Confidence = a.Confidence
		t.UpdatedAt = now
		s.data.txns[t.ID] = t
		updated++
	}
	return updated, nil
}

func (s *Store) InsertImportBatch(ctx context.Context, b domain.ImportBatch) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, exists := s.data.batches[b.ID]; exists {
		return fmt.Errorf("InsertImportBatch: batch %s already exists", b.ID)
	}
	s.data.batches[b.ID] = b
	return nil
}

func (s *Store) DeleteOwnerData(ctx context.Context, ownerID string, scope store.DeleteScope) (store.DeleteCounts, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var counts store.DeleteCounts
	if scope.Transactions {
		for id, t := range s.data.txns {
			if t.OwnerID == ownerID {
				delete(s.data.txns, id)
				counts.Transactions++
			}
		}
	}
	if scope.Categories {
		for id, c := range s.data.categories {
			if !c.IsSystem && c.OwnerID == ownerID {
				delete(s.data.categories, id)
				counts.Categories++
			}
		}
	}
	if scope.Rules {
		for id, r := range s.data.rules {
			if r.OwnerID == ownerID {
				delete(s.data.rules, id)
				counts.Rules++
			}
		}
	}
	if scope.Accounts {
		for id, a := range s.data.accounts {
			if a.OwnerID == ownerID {
				delete(s.data.accounts, id)
				counts.Accounts++
			}
		}
	}
	if scope.ImportBatches {
		for id, b := range s.data.batches {
			if b.OwnerID == ownerID {
				delete(s.data.batches, id)
				counts.ImportBatches++
			}
		}
	}
	return counts, nil
}
