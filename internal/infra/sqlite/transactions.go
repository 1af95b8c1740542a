package sqlite

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/shopspring/decimal"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const transactionColumns = `id, owner_id, account_id, import_batch_id, date, amount, direction,
	description, category_id, source, confidence, created_at, updated_at`

func (s *Store) ListTransactions(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"owner_id = ?"}
	args := []interface{}{ownerID}

	if len(filter.IDs) > 0 {
		where = append(where, "id IN (?"+strings.Repeat(", ?", len(filter.IDs)-1)+")")
		for _, id := range filter.IDs {
			args = append(args, id)
		}
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = ?")
		args = append(args, filter.AccountID)
	}
	if filter.CategoryID != "" {
		where = append(where, "category_id = ?")
		args = append(args, filter.CategoryID)
	}
	if filter.Uncategorized {
		where = append(where, "category_id = ''")
	}
	if filter.Source != "" {
		where = append(where, "source = ?")
		args = append(args, string(filter.Source))
	}
	if filter.StartDate.IsValid() {
		where = append(where, "date >= ?")
		args = append(args, filter.StartDate.String())
	}
	if filter.EndDate.IsValid() {
		where = append(where, "date <= ?")
		args = append(args, filter.EndDate.String())
	}

	query := "SELECT " + transactionColumns + " FROM transactions WHERE " + strings.Join(where, " AND ") +
		" ORDER BY date DESC, id ASC"
	if filter.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, filter.Limit)
	} else if filter.Offset > 0 {
		query += " LIMIT -1"
	}
	if filter.Offset > 0 {
		query += " OFFSET ?"
		args = append(args, filter.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	defer rows.Close()

	var out []domain.Transaction
	for rows.Next() {
		t, err := scanTransaction(rows)
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, t)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListTransactions: %w", err)
	}
	return out, nil
}

func scanTransaction(row scanner) (domain.Transaction, error) {
	var (
		t                    domain.Transaction
		date, amount         string
		direction, source    string
		confidence           sql.NullFloat64
		createdAt, updatedAt string
	)
	if err := row.Scan(&t.ID, &t.OwnerID, &t.AccountID, &t.ImportBatchID, &date, &amount, &direction,
		&t.Description, &t.CategoryID, &source, &confidence, &createdAt, &updatedAt); err != nil {
		return t, fmt.Errorf("scanning: %w", err)
	}

	var err error
	if t.Date, err = civil.ParseDate(date); err != nil {
		return t, fmt.Errorf("transaction %s: date: %w", t.ID, err)
	}
	if t.Amount, err = decimal.NewFromString(amount); err != nil {
		return t, fmt.Errorf("transaction %s: amount: %w", t.ID, err)
	}
	if t.CreatedAt, err = parseTime(createdAt); err != nil {
		return t, fmt.Errorf("transaction %s: created_at: %w", t.ID, err)
	}
	if t.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return t, fmt.Errorf("transaction %s: updated_at: %w", t.ID, err)
	}
	t.Direction = domain.Direction(direction)
	t.Source = domain.CategorySource(source)
	if confidence.Valid {
		c := confidence.Float64
		t.Confidence = &c
	}
	return t, nil
}

func (s *Store) TransactionExists(ctx context.Context, ownerID string, key store.DuplicateKey) (bool, error) {
	var n int
	err := s.q.QueryRowContext(ctx, `SELECT COUNT(1) FROM transactions
		WHERE owner_id = ? AND account_id = ? AND date = ? AND amount = ? AND direction = ?
		  AND description = ? COLLATE NOCASE`,
		ownerID, key.AccountID, key.Date.String(), key.Amount.String(), string(key.Direction), key.Description).Scan(&n)
	if err != nil {
		return false, fmt.Errorf("TransactionExists: %w", err)
	}
	return n > 0, nil
}

func nullConfidence(c *float64) sql.NullFloat64 {
	if c == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *c, Valid: true}
}

func (s *Store) InsertTransactions(ctx context.Context, txns []domain.Transaction) error {
	err := s.batch(ctx, func(q querier) error {
		for _, t := range txns {
			_, err := q.ExecContext(ctx, `INSERT INTO transactions(`+transactionColumns+`)
				VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
				t.ID, t.OwnerID, t.AccountID, t.ImportBatchID, t.Date.String(), t.Amount.String(), string(t.Direction),
				t.Description, t.CategoryID, string(t.Source), nullConfidence(t.Confidence),
				formatTime(t.CreatedAt), formatTime(t.UpdatedAt))
			if err != nil {
				return fmt.Errorf("transaction %s: %w", t.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InsertTransactions: %w", err)
	}
	return nil
}

func (s *Store) UpdateTransactionCategories(ctx context.Context, ownerID string, assignments []store.CategoryAssignment) (int, error) {
	updated := 0
	now := formatTime(nowUTC())
	err := s.batch(ctx, func(q querier) error {
		for _, a := range assignments {
			res, err := q.ExecContext(ctx, `UPDATE transactions
				SET category_id = ?, source = ?, confidence = ?, updated_at = ?
				WHERE id = ? AND owner_id = ?`,
				a.CategoryID, string(a.Source), nullConfidence(a.Confidence), now, a.TransactionID, ownerID)
			if err != nil {
				return fmt.Errorf("transaction %s: %w", a.TransactionID, err)
			}
			n, err := res.RowsAffected()
			if err != nil {
				return fmt.Errorf("transaction %s: rows affected: %w", a.TransactionID, err)
			}
			updated += int(n)
		}
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("UpdateTransactionCategories: %w", err)
	}
	return updated, nil
}

func (s *Store) DeleteOwnerData(ctx context.Context, ownerID string, scope store.DeleteScope) (store.DeleteCounts, error) {
	var counts store.DeleteCounts
	steps := []struct {
		enabled bool
		query   string
		count   *int
	}{
		{scope.Transactions, `DELETE FROM transactions WHERE owner_id = ?`, &counts.Transactions},
		{scope.Rules, `DELETE FROM rules WHERE owner_id = ?`, &counts.Rules},
		{scope.Categories, `DELETE FROM categories WHERE owner_id = ? AND is_system = 0`, &counts.Categories},
		{scope.ImportBatches, `DELETE FROM import_batches WHERE owner_id = ?`, &counts.ImportBatches},
		{scope.Accounts, `DELETE FROM accounts WHERE owner_id = ?`, &counts.Accounts},
	}

	err := s.batch(ctx, func(q querier) error {
		for _, step := range steps {
			if !step.enabled {
				continue
			}
			res, err := q.ExecContext(ctx, step.query, ownerID)
			if err != nil {
				return err
			}
			n, err := res.RowsAffected()
			if err != nil {
				return err
			}
			*step.count = int(n)
		}
		return nil
	})
	if err != nil {
		return store.DeleteCounts{}, fmt.Errorf("DeleteOwnerData: %w", err)
	}
	return counts, nil
}
