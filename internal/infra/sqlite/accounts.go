package sqlite

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const accountColumns = `id, owner_id, name, type, institution, last_four, created_at`

func scanAccount(row scanner) (domain.Account, error) {
	var (
		a         domain.Account
		typ       string
		createdAt string
	)
	if err := row.Scan(&a.ID, &a.OwnerID, &a.Name, &typ, &a.Institution, &a.LastFour, &createdAt); err != nil {
		return a, err
	}
	a.Type = domain.AccountType(typ)
	ts, err := parseTime(createdAt)
	if err != nil {
		return a, fmt.Errorf("account %s: created_at: %w", a.ID, err)
	}
	a.CreatedAt = ts
	return a, nil
}

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE owner_id = ? ORDER BY name, id`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	defer rows.Close()

	var out []domain.Account
	for rows.Next() {
		a, err := scanAccount(rows)
		if err != nil {
			return nil, fmt.Errorf("ListAccounts: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListAccounts: %w", err)
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID, id string) (*domain.Account, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+accountColumns+` FROM accounts WHERE id = ? AND owner_id = ?`, id, ownerID)
	a, err := scanAccount(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("GetAccount: %w", err)
	}
	return &a, nil
}

func (s *Store) InsertAccounts(ctx context.Context, accounts []domain.Account) error {
	err := s.batch(ctx, func(q querier) error {
		for _, a := range accounts {
			_, err := q.ExecContext(ctx, `INSERT INTO accounts(`+accountColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?)`,
				a.ID, a.OwnerID, a.Name, string(a.Type), a.Institution, a.LastFour, formatTime(a.CreatedAt))
			if err != nil {
				return fmt.Errorf("account %s: %w", a.ID, err)
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("InsertAccounts: %w", err)
	}
	return nil
}

const batchColumns = `id, owner_id, account_id, data_source, file_name, imported_at,
	total_rows, success_count, duplicate_count, error_count, status, error_log`

func (s *Store) ListImportBatches(ctx context.Context, ownerID string) ([]domain.ImportBatch, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT `+batchColumns+` FROM import_batches
		WHERE owner_id = ?
		ORDER BY imported_at DESC, id ASC`, ownerID)
	if err != nil {
		return nil, fmt.Errorf("ListImportBatches: %w", err)
	}
	defer rows.Close()

	var out []domain.ImportBatch
	for rows.Next() {
		var (
			b          domain.ImportBatch
			importedAt string
			status     string
		)
		if err := rows.Scan(&b.ID, &b.OwnerID, &b.AccountID, &b.DataSource, &b.FileName, &importedAt,
			&b.TotalRows, &b.SuccessCount, &b.DuplicateCount, &b.ErrorCount, &status, &b.ErrorLog); err != nil {
			return nil, fmt.Errorf("ListImportBatches: scanning: %w", err)
		}
		b.Status = domain.ImportStatus(status)
		if b.ImportedAt, err = parseTime(importedAt); err != nil {
			return nil, fmt.Errorf("ListImportBatches: batch %s: %w", b.ID, err)
		}
		out = append(out, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("ListImportBatches: %w", err)
	}
	return out, nil
}

func (s *Store) InsertImportBatch(ctx context.Context, b domain.ImportBatch) error {
	_, err := s.q.ExecContext(ctx, `INSERT INTO import_batches(`+batchColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		b.ID, b.OwnerID, b.AccountID, b.DataSource, b.FileName, formatTime(b.ImportedAt),
		b.TotalRows, b.SuccessCount, b.DuplicateCount, b.ErrorCount, string(b.Status), b.ErrorLog)
	if err != nil {
		return fmt.Errorf("InsertImportBatch: batch %s: %w", b.ID, err)
	}
	return nil
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	rows, err := s.q.QueryContext(ctx, `SELECT owner_id FROM accounts
		UNION SELECT owner_id FROM transactions
		ORDER BY 1`)
	if err != nil {
		return nil, fmt.Errorf("ListOwners: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("ListOwners: scanning: %w", err)
		}
		out = append(out, id)
	}
	return out, rows.Err()
}
