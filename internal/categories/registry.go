package categories

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// ErrDuplicateSystemCategory means two system categories share a name within one type.
var ErrDuplicateSystemCategory = errors.New("duplicate system category name")

// SeedResult reports what EnsureSystemCategories did.
type SeedResult struct {
	Inserted int `json:"inserted"`
	Existing int `json:"existing"`
}

// EnsureSystemCategories inserts every definition whose id is absent and
// leaves existing records untouched, even when the definition has drifted.
// It is safe to call on every start and from several processes at once.
func EnsureSystemCategories(ctx context.Context, s store.Store, defs []Definition, log zerolog.Logger) (SeedResult, error) {
	var res SeedResult
	now := time.Now().UTC()

	for _, d := range defs {
		inserted, err := s.InsertSystemCategory(ctx, d.Category(now))
		if err != nil {
			return res, fmt.Errorf("EnsureSystemCategories: inserting %s: %w", d.ID, err)
		}
		if inserted {
			res.Inserted++
			log.Info().Str("category_id", d.ID).Str("name", d.Name).Msg("Seeded system category")
		} else {
			res.Existing++
		}
	}

	existing, err := s.ListSystemCategories(ctx)
	if err != nil {
		return res, fmt.Errorf("EnsureSystemCategories: listing system categories: %w", err)
	}
	logDrift(existing, defs, log)

	if err := checkUniqueNames(existing); err != nil {
		return res, fmt.Errorf("EnsureSystemCategories: %w", err)
	}

	log.Info().
		Int("inserted", res.Inserted).
		Int("existing", res.Existing).
		Msg("System categories ensured")
	return res, nil
}

// checkUniqueNames fails when two system categories of the same type share a name.
func checkUniqueNames(cats []domain.Category) error {
	byKey := make(map[string][]string)
	for _, c := range cats {
		key := domain.NameKey(c.Type, c.Name)
		byKey[key] = append(byKey[key], c.ID)
	}

	var dups []string
	for _, c := range cats {
		ids := byKey[domain.NameKey(c.Type, c.Name)]
		if len(ids) > 1 && ids[0] == c.ID {
			dups = append(dups, fmt.Sprintf("%q (%s): %s", c.Name, c.Type, strings.Join(ids, ", ")))
		}
	}
	if len(dups) == 0 {
		return nil
	}
	sort.Strings(dups)
	return fmt.Errorf("%w: %s", ErrDuplicateSystemCategory, strings.Join(dups, "; "))
}

// logDrift warns about stored system categories whose name or type differs from
// the definition table. Drift is resolved by an explicit migration, never here.
func logDrift(existing []domain.Category, defs []Definition, log zerolog.Logger) {
	byID := make(map[string]domain.Category, len(existing))
	for _, c := range existing {
		byID[c.ID] = c
	}
	for _, d := range defs {
		c, ok := byID[d.ID]
		if !ok {
			continue
		}
		if c.Name != d.Name || c.Type != d.Type {
			log.Warn().
				Str("category_id", d.ID).
				Str("stored_name", c.Name).
				Str("defined_name", d.Name).
				Str("stored_type", string(c.Type)).
				Str("defined_type", string(d.Type)).
				Msg("System category differs from definition table; keeping stored record")
		}
	}
}
