package bigquery

import (
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/domain"
)

type CategoryRow struct {
	ID   string `bigquery:"id"`   // REQUIRED
	Name string `bigquery:"name"` // REQUIRED
	Type string `bigquery:"type"` // REQUIRED

	ParentID bigquery.NullString `bigquery:"parent_id"` // NULLABLE
	IsSystem bool                `bigquery:"is_system"` // REQUIRED
	OwnerID  bigquery.NullString `bigquery:"owner_id"`  // NULLABLE, empty for system categories

	CreatedAt time.Time `bigquery:"created_at"` // REQUIRED
}

func categoryRow(c domain.Category) CategoryRow {
	return CategoryRow{
		ID:        c.ID,
		Name:      c.Name,
		Type:      string(c.Type),
		ParentID:  nullString(c.ParentID),
		IsSystem:  c.IsSystem,
		OwnerID:   nullString(c.OwnerID),
		CreatedAt: c.CreatedAt,
	}
}

func (r CategoryRow) toDomain() domain.Category {
	return domain.Category{
		ID:        r.ID,
		Name:      r.Name,
		Type:      domain.CategoryType(r.Type),
		ParentID:  r.ParentID.StringVal,
		IsSystem:  r.IsSystem,
		OwnerID:   r.OwnerID.StringVal,
		CreatedAt: r.CreatedAt.UTC(),
	}
}

type RuleRow struct {
	ID        string `bigquery:"id"`         // REQUIRED
	OwnerID   string `bigquery:"owner_id"`   // REQUIRED
	Pattern   string `bigquery:"pattern"`    // REQUIRED
	MatchType string `bigquery:"match_type"` // REQUIRED

	AccountID  bigquery.NullString `bigquery:"account_id"`  // NULLABLE, empty applies to every account
	CategoryID string              `bigquery:"category_id"` // REQUIRED

	Priority  int64     `bigquery:"priority"`   // REQUIRED
	IsActive  bool      `bigquery:"is_active"`  // REQUIRED
	CreatedAt time.Time `bigquery:"created_at"` // REQUIRED
}

func ruleRow(r domain.Rule) RuleRow {
	return RuleRow{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Pattern:    r.Pattern,
		MatchType:  string(r.MatchType),
		AccountID:  nullString(r.AccountID),
		CategoryID: r.CategoryID,
		Priority:   int64(r.Priority),
		IsActive:   r.Active,
		CreatedAt:  r.CreatedAt,
	}
}

func (r RuleRow) toDomain() domain.Rule {
	return domain.Rule{
		ID:         r.ID,
		OwnerID:    r.OwnerID,
		Pattern:    r.Pattern,
		MatchType:  domain.MatchType(r.MatchType),
		AccountID:  r.AccountID.StringVal,
		CategoryID: r.CategoryID,
		Priority:   int(r.Priority),
		Active:     r.IsActive,
		CreatedAt:  r.CreatedAt.UTC(),
	}
}

func nullString(s string) bigquery.NullString {
	return bigquery.NullString{StringVal: s, Valid: s != ""}
}
