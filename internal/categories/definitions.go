package categories

import (
	_ "embed"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/dvloznov/spendalizer/internal/domain"
)

//go:embed system_categories.json
var embeddedDefinitions []byte

// Definition is one row of the system category table.
type Definition struct {
	ID       string              `json:"id"`
	Name     string              `json:"name"`
	Type     domain.CategoryType `json:"type"`
	ParentID string              `json:"parent_category_id,omitempty"`
}

// Category converts the definition into a system category record.
func (d Definition) Category(createdAt time.Time) domain.Category {
	return domain.Category{
		ID:        d.ID,
		Name:      d.Name,
		Type:      d.Type,
		ParentID:  d.ParentID,
		IsSystem:  true,
		CreatedAt: createdAt,
	}
}

// LoadDefinitions reads the system category table from path, or the embedded
// table when path is empty.
func LoadDefinitions(path string) ([]Definition, error) {
	data := embeddedDefinitions
	if path != "" {
		var err error
		data, err = os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("LoadDefinitions: reading %s: %w", path, err)
		}
	}
	return ParseDefinitions(data)
}

// ParseDefinitions decodes and validates a system category table.
func ParseDefinitions(data []byte) ([]Definition, error) {
	var defs []Definition
	if err := json.Unmarshal(data, &defs); err != nil {
		return nil, fmt.Errorf("ParseDefinitions: decoding definitions: %w", err)
	}
	if err := validateDefinitions(defs); err != nil {
		return nil, err
	}
	return defs, nil
}

func validateDefinitions(defs []Definition) error {
	ids := make(map[string]Definition, len(defs))
	names := make(map[string]string, len(defs))

	for _, d := range defs {
		if err := d.Category(time.Time{}).Validate(); err != nil {
			return fmt.Errorf("validateDefinitions: %w", err)
		}
		if _, dup := ids[d.ID]; dup {
			return fmt.Errorf("validateDefinitions: duplicate id %s", d.ID)
		}
		key := domain.NameKey(d.Type, d.Name)
		if other, dup := names[key]; dup {
			return fmt.Errorf("validateDefinitions: %w: %q (%s) used by %s and %s",
				ErrDuplicateSystemCategory, d.Name, d.Type, other, d.ID)
		}
		ids[d.ID] = d
		names[key] = d.ID
	}

	for _, d := range defs {
		if d.ParentID == "" {
			continue
		}
		parent, ok := ids[d.ParentID]
		if !ok {
			return fmt.Errorf("validateDefinitions: %s: unknown parent %s", d.ID, d.ParentID)
		}
		if parent.ParentID != "" {
			return fmt.Errorf("validateDefinitions: %s: parent %s is itself a child", d.ID, d.ParentID)
		}
	}
	return nil
}
