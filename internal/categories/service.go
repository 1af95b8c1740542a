package categories

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

var (
	// ErrSystemCategory is returned when a caller tries to change a system category.
	ErrSystemCategory = errors.New("system categories are read-only")
	// ErrCategoryInUse is returned when deleting a category that is still referenced.
	ErrCategoryInUse = errors.New("category is in use")
	// ErrDuplicateName is returned when an owner already has a category with the name and type.
	ErrDuplicateName = errors.New("category name already exists")
	// ErrInvalidCategory wraps input validation failures.
	ErrInvalidCategory = errors.New("invalid category")
)

// Input carries the user-editable fields of a category.
type Input struct {
	Name     string              `json:"name"`
	Type     domain.CategoryType `json:"type"`
	ParentID string              `json:"parent_category_id,omitempty"`
}

// Service manages user categories.
type Service struct {
	store store.Store
	log   zerolog.Logger
	now   func() time.Time
}

// NewService creates a new category service
func NewService(s store.Store, log zerolog.Logger) *Service {
	return &Service{store: s, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// List returns the system categories plus the owner's own.
func (s *Service) List(ctx context.Context, ownerID string) ([]domain.Category, error) {
	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("List: %w", err)
	}
	return cats, nil
}

// Create adds a user category for ownerID.
func (s *Service) Create(ctx context.Context, ownerID string, in Input) (*domain.Category, error) {
	c := domain.Category{
		ID:        uuid.NewString(),
		Name:      strings.TrimSpace(in.Name),
		Type:      in.Type,
		ParentID:  in.ParentID,
		OwnerID:   ownerID,
		CreatedAt: s.now(),
	}
	if err := s.validate(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.InsertCategories(ctx, []domain.Category{c}); err != nil {
		return nil, fmt.Errorf("Create: inserting category: %w", err)
	}

	s.log.Info().Str("owner_id", ownerID).Str("category_id", c.ID).Str("name", c.Name).Msg("Category created")
	return &c, nil
}

// Update changes a user category's name, type, or parent.
func (s *Service) Update(ctx context.Context, ownerID, id string, in Input) (*domain.Category, error) {
	existing, err := s.owned(ctx, ownerID, id)
	if err != nil {
		return nil, err
	}

	c := *existing
	c.Name = strings.TrimSpace(in.Name)
	c.Type = in.Type
	c.ParentID = in.ParentID
	if err := s.validate(ctx, c); err != nil {
		return nil, err
	}
	if err := s.store.UpdateCategory(ctx, c); err != nil {
		return nil, fmt.Errorf("Update: %w", err)
	}
	return &c, nil
}

// Delete removes a user category that no transaction, rule, or child category references.
func (s *Service) Delete(ctx context.Context, ownerID, id string) error {
	if _, err := s.owned(ctx, ownerID, id); err != nil {
		return err
	}

	n, err := store.CountTransactionsUsingCategory(ctx, s.store, ownerID, id)
	if err != nil {
		return fmt.Errorf("Delete: counting transactions: %w", err)
	}
	if n > 0 {
		return fmt.Errorf("%w: %d transactions reference it", ErrCategoryInUse, n)
	}

	rules, err := s.store.ListRules(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("Delete: listing rules: %w", err)
	}
	for _, r := range rules {
		if r.CategoryID == id {
			return fmt.Errorf("%w: rule %s targets it", ErrCategoryInUse, r.ID)
		}
	}

	cats, err := s.store.ListCategories(ctx, ownerID)
	if err != nil {
		return fmt.Errorf("Delete: listing categories: %w", err)
	}
	for _, c := range cats {
		if c.ParentID == id {
			return fmt.Errorf("%w: category %s is its child", ErrCategoryInUse, c.ID)
		}
	}

	if err := s.store.DeleteCategory(ctx, ownerID, id); err != nil {
		return fmt.Errorf("Delete: %w", err)
	}
	s.log.Info().Str("owner_id", ownerID).Str("category_id", id).Msg("Category deleted")
	return nil
}

func (s *Service) owned(ctx context.Context, ownerID, id string) (*domain.Category, error) {
	c, err := s.store.GetCategory(ctx, id)
	if err != nil {
		return nil, err
	}
	if c.IsSystem {
		return nil, ErrSystemCategory
	}
	if c.OwnerID != ownerID {
		return nil, fmt.Errorf("category %s: %w", id, store.ErrNotFound)
	}
	return c, nil
}

func (s *Service) validate(ctx context.Context, c domain.Category) error {
	if err := c.Validate(); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidCategory, err)
	}

	cats, err := s.store.ListCategories(ctx, c.OwnerID)
	if err != nil {
		return fmt.Errorf("validate: listing categories: %w", err)
	}

	key := domain.NameKey(c.Type, c.Name)
	var parent *domain.Category
	for i, other := range cats {
		if other.ID == c.ID {
			continue
		}
		if !other.IsSystem && domain.NameKey(other.Type, other.Name) == key {
			return fmt.Errorf("%w: %q", ErrDuplicateName, c.Name)
		}
		if other.ID == c.ParentID {
			parent = &cats[i]
		}
	}

	if c.ParentID == "" {
		return nil
	}
	if parent == nil {
		return fmt.Errorf("%w: parent %s not found", ErrInvalidCategory, c.ParentID)
	}
	if parent.ParentID != "" {
		return fmt.Errorf("%w: parent %s is itself a subcategory", ErrInvalidCategory, c.ParentID)
	}
	for _, other := range cats {
		if other.ParentID == c.ID {
			return fmt.Errorf("%w: category with subcategories cannot have a parent", ErrInvalidCategory)
		}
	}
	return nil
}
