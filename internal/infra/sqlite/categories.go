package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const categoryColumns = `id, name, type, parent_id, is_system, owner_id, created_at`

func scanCategory(row scanner) (domain.Category, error) {
	var (
		c         domain.Category
		typ       string
		isSystem  int
		createdAt string
	)
	if err := row.Scan(&c.ID, &c.Name, &typ, &c.ParentID, &isSystem, &c.OwnerID, &createdAt); err != nil {
		return c, err
	}
	c.Type = domain.CategoryType(typ)
	c.IsSystem = isSystem == 1
	ts, err := parseTime(createdAt)
	if err != nil {
		return c, fmt.Errorf("category %s: created_at: %w", c.ID, err)
	}
	c.CreatedAt = ts
	return c, nil
}

func (s *Store) queryCategories(ctx context.Context, query string, args ...interface{}) ([]domain.Category, error) {
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []domain.Category
	for rows.Next() {
		c, err := scanCategory(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *Store) ListCategories(ctx context.Context, ownerID string) ([]domain.Category, error) {
	out, err := s.queryCategories(ctx, `SELECT `+categoryColumns+` FROM categories
		WHERE is_system = 1 OR owner_id = ?
		ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListCategories: %w", err)
	}
	return out, nil
}

func (s *Store) ListSystemCategories(ctx context.Context) ([]domain.Category, error) {
	out, err := s.queryCategories(ctx, `SELECT `+categoryColumns+` FROM categories WHERE is_system = 1 ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("ListSystemCategories: %w", err)
	}
	return out, nil
}

func (s *Store) GetCategory(ctx context.Context, id string) (*domain.Category, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+categoryColumns+` FROM categories WHERE id = ?`, id)
	c, err := scanCategory(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("category %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetCategory: %w", err)
	}
	return &c, nil
}

// InsertSystemCategory relies on the primary key: INSERT OR IGNORE is a
// single statement, so concurrent seeders cannot both insert.
func (s *Store) InsertSystemCategory(ctx context.Context, c domain.Category) (bool, error) {
	if !c.IsSystem {
		return false, fmt.Errorf("InsertSystemCategory: category %s is not a system category", c.ID)
	}
	res, err := s.q.ExecContext(ctx, `INSERT OR IGNORE INTO categories(`+categoryColumns+`)
		VALUES (?, ?, ?, ?, 1, '', ?)`,
		c.ID, c.Name, string(c.Type), c.ParentID, formatTime(c.CreatedAt))
	if err != nil {
		return false, fmt.Errorf("InsertSystemCategory: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("InsertSystemCategory: rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *Store) InsertCategories(ctx context.Context, categories []domain.Category) error {
	err := s.batch(ctx, func(q querier) error {
		for _, c := range categories {
			_, err := q.ExecContext(ctx, `INSERT INTO categories(`+categoryColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				c.ID, c.Name, string(c.Type), c.ParentID, boolInt(c.IsSystem), c.OwnerID, formatTime(c.CreatedAt))
			if err != nil {
				return fmt.Errorf("category %s: %w", c.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InsertCategories: %w", err)
	}
	return nil
}

func (s *Store) UpdateCategory(ctx context.Context, c domain.Category) error {
	res, err := s.q.ExecContext(ctx, `UPDATE categories SET name = ?, type = ?, parent_id = ?
		WHERE id = ? AND is_system = 0 AND owner_id = ?`,
		c.Name, string(c.Type), c.ParentID, c.ID, c.OwnerID)
	if err != nil {
		return fmt.Errorf("UpdateCategory: %w", err)
	}
	return requireRow(res, "UpdateCategory", "category", c.ID)
}

func (s *Store) DeleteCategory(ctx context.Context, ownerID, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM categories WHERE id = ? AND is_system = 0 AND owner_id = ?`, id, ownerID)
	if err != nil {
		return fmt.Errorf("DeleteCategory: %w", err)
	}
	return requireRow(res, "DeleteCategory", "category", id)
}

func requireRow(res sql.Result, op, kind, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s: rows affected: %w", op, err)
	}
	if n == 0 {
		return fmt.Errorf("%s: %s %s: %w", op, kind, id, store.ErrNotFound)
	}
	return nil
}
