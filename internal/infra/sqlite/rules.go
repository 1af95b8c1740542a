package sqlite

import (
	"context"
	"fmt"

	"github.com/dvloznov/spendalizer/internal/domain"
)

const ruleColumns = `id, owner_id, pattern, match_type, account_id, category_id, priority, is_active, created_at`

func (s *Store) ListRules(ctx context.Context, ownerID string) ([]domain.Rule, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+ruleColumns+` FROM rules
		WHERE owner_id = ?
		ORDER BY priority DESC, created_at ASC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	defer rows.Close()

	var out []domain.Rule
	for rows.Next() {
		var (
			r         domain.Rule
			matchType string
			active    int
			createdAt string
		)
		if err := rows.Scan(&r.ID, &r.OwnerID, &r.Pattern, &matchType, &r.AccountID, &r.CategoryID, &r.Priority, &active, &createdAt); err != nil {
			return nil, fmt.Errorf("ListRules: scanning: %w", err)
		}
		r.MatchType = domain.MatchType(matchType)
		r.Active = active == 1
		if r.CreatedAt, err = parseTime(createdAt); err != nil {
			return nil, fmt.Errorf("ListRules: rule %s: %w", r.ID, err)
		}
		out = append(out, r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListRules: %w", err)
	}
	return out, nil
}

func (s *Store) InsertRules(ctx context.Context, rules []domain.Rule) error {
	err := s.batch(ctx, func(q querier) error {
		for _, r := range rules {
			_, err := q.ExecContext(ctx, `INSERT INTO rules(`+ruleColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				r.ID, r.OwnerID, r.Pattern, string(r.MatchType), r.AccountID, r.CategoryID, r.Priority, boolInt(r.Active), formatTime(r.CreatedAt))
			if err != nil {
				return fmt.Errorf("rule %s: %w", r.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InsertRules: %w", err)
	}
	return nil
}

func (s *Store) UpdateRule(ctx context.Context, r domain.Rule) error {
	res, err := s.q.ExecContext(ctx, `UPDATE rules
		SET pattern = ?, match_type = ?, account_id = ?, category_id = ?, priority = ?, is_active = ?
		WHERE id = ? AND owner_id = ?`,
		r.Pattern, string(r.MatchType), r.AccountID, r.CategoryID, r.Priority, boolInt(r.Active), r.ID, r.OwnerID)
	if err != nil {
		return fmt.Errorf("UpdateRule: %w", err)
	}
	return requireRow(res, "UpdateRule", "rule", r.ID)
}

func (s *Store) DeleteRule(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM rules WHERE id = ? AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("DeleteRule: %w", err)
	}
	return requireRow(res, "DeleteRule", "rule", id)
}
