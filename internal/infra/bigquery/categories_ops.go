package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const categorySelect = `SELECT id, name, type, parent_id, is_system, owner_id, created_at FROM `

func (s *Store) listCategories(ctx context.Context, op, where string, params []bigquery.QueryParameter, order string) ([]domain.Category, error) {
	rows, err := readRows[CategoryRow](ctx, s, op, categorySelect+s.table(categoriesTable)+" WHERE "+where+" ORDER BY "+order, params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Category, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

// ListCategories returns system categories plus the owner's own.
func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error) {
	return s.listCategories(ctx, "ListCategories", "is_system OR owner_id = @owner_id",
		[]bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}, "name, id")
}

func (s *Store) ListSystemCategories(ctx context.Context) ([]domain.Category, error) {
	return s.listCategories(ctx, "ListSystemCategories", "is_system", nil, "id")
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	cats, err := s.listCategories(ctx, "GetCategory", "id = @id",
		[]bigquery.QueryParameter{{Name: "id", Value: id}}, "id")
	if err != nil {
		return nil, err
	}
	if len(cats) == 0 {
		return nil, fmt.Errorf("category %s: %w", id, store.ErrNotFound)
	}
	return &cats[0], nil
}

// InsertSystemCategory uses MERGE so the existence check and the insert are a
// single statement.
func (s *Store) InsertSystemCategory(ctx context.Context, c domain.Category) (bool, error) {
	if !c.IsSystem {
		return false, fmt.Errorf("InsertSystemCategory: category %s is not a system category", c.ID)
	}
	row := categoryRow(c)
	n, err := s.runDML(ctx, "InsertSystemCategory", `
		MERGE `+s.table(categoriesTable)+` T
		USING (SELECT @id AS id) S
		ON T.id = S.id
		WHEN NOT MATCHED THEN
		  INSERT (id, name, type, parent_id, is_system, owner_id, created_at)
		  VALUES (@id, @name, @type, @parent_id, TRUE, NULL, @created_at)
	`, []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "name", Value: row.Name},
		{Name: "type", Value: row.Type},
		{Name: "parent_id", Value: row.ParentID},
		{Name: "created_at", Value: row.CreatedAt},
	})
	if err != nil {
		return false, err
	}
	return n == 1, nil
}

func (s *Store) InsertCategories(ctx context.Context, categories []domain.Category) error {
	if len(categories) == 0 {
		return nil
	}
	rows := make([]CategoryRow, len(categories))
	for i, c := range categories {
		rows[i] = categoryRow(c)
	}
	_, err := s.runDML(ctx, "InsertCategories", `
		INSERT INTO `+s.table(categoriesTable)+` (id, name, type, parent_id, is_system, owner_id, created_at)
		SELECT id, name, type, parent_id, is_system, owner_id, created_at FROM UNNEST(@rows)
	`, []bigquery.QueryParameter{{Name: "rows", Value: rows}})
	return err
}

func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) error {
	row := categoryRow(c)
	n, err := s.runDML(ctx, "UpdateCategory", `
		UPDATE `+s.table(categoriesTable)+`
		SET name = @name, type = @type, parent_id = @parent_id
		WHERE id = @id AND NOT is_system AND owner_id = @owner_id
	`, []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "name", Value: row.Name},
		{Name: "type", Value: row.Type},
		{Name: "parent_id", Value: row.ParentID},
		{Name: "owner_id", Value: c.OwnerID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("UpdateCategory: category %s: %w", c.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteCategory(ctx context.Context, ownerID, id string) error {
	n, err := s.runDML(ctx, "DeleteCategory", `
		DELETE FROM `+s.table(categoriesTable)+`
		WHERE id = @id AND NOT is_system AND owner_id = @owner_id
	`, []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "owner_id", Value: ownerID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("DeleteCategory: category %s: %w", id, store.ErrNotFound)
	}
	return nil
}

func (s *Store) ListRules(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	rows, err := readRows[RuleRow](ctx, s, "ListRules", `
		SELECT id, owner_id, pattern, match_type, account_id, category_id, priority, is_active, created_at
		FROM `+s.table(rulesTable)+`
		WHERE owner_id = @owner_id
		ORDER BY priority DESC, created_at ASC, id ASC
	`, []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Rule, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) InsertRules(ctx context.Context, rules []domain.Rule) error {
	if len(rules) == 0 {
		return nil
	}
	rows := make([]RuleRow, len(rules))
	for i, r := range rules {
		rows[i] = ruleRow(r)
	}
	_, err := s.runDML(ctx, "InsertRules", `
		INSERT INTO `+s.table(rulesTable)+` (id, owner_id, pattern, match_type, account_id, category_id, priority, is_active, created_at)
		SELECT id, owner_id, pattern, match_type, account_id, category_id, priority, is_active, created_at FROM UNNEST(@rows)
	`, []bigquery.QueryParameter{{Name: "rows", Value: rows}})
	return err
}

func (s *Store) UpdateRule(ctx context.Context, r domain.Rule) error {
	row := ruleRow(r)
	n, err := s.runDML(ctx, "UpdateRule", `
		UPDATE `+s.table(rulesTable)+`
		SET pattern = @pattern, match_type = @match_type, account_id = @account_id,
		    category_id = @category_id, priority = @priority, is_active = @is_active
		WHERE id = @id AND owner_id = @owner_id
	`, []bigquery.QueryParameter{
		{Name: "id", Value: row.ID},
		{Name: "owner_id", Value: row.OwnerID},
		{Name: "pattern", Value: row.Pattern},
		{Name: "match_type", Value: row.MatchType},
		{Name: "account_id", Value: row.AccountID},
		{Name: "category_id", Value: row.CategoryID},
		{Name: "priority", Value: row.Priority},
		{Name: "is_active", Value: row.IsActive},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("UpdateRule: rule %s: %w", r.ID, store.ErrNotFound)
	}
	return nil
}

func (s *Store) DeleteRule(ctx context.Context, ownerID, id string) error {
	n, err := s.runDML(ctx, "DeleteRule", `
		DELETE FROM `+s.table(rulesTable)+` WHERE id = @id AND owner_id = @owner_id
	`, []bigquery.QueryParameter{
		{Name: "id", Value: id},
		{Name: "owner_id", Value: ownerID},
	})
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("DeleteRule: rule %s: %w", id, store.ErrNotFound)
	}
	return nil
}
