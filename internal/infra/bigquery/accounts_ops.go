package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const accountSelect = `SELECT id, owner_id, name, type, institution, last_four, created_at FROM `

func (s *Store) ListAccounts(ctx context.Context, ownerID string) ([]domain.Account, error) {
	rows, err := readRows[AccountRow](ctx, s, "ListAccounts",
		accountSelect+s.table(accountsTable)+` WHERE owner_id = @owner_id ORDER BY name, id`,
		[]bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}})
	if err != nil {
		return nil, err
	}
	out := make([]domain.Account, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) GetAccount(ctx context.Context, ownerID, id string) (*domain.Account, error) {
	rows, err := readRows[AccountRow](ctx, s, "GetAccount",
		accountSelect+s.table(accountsTable)+` WHERE id = @id AND owner_id = @owner_id LIMIT 1`,
		[]bigquery.QueryParameter{
			{Name: "id", Value: id},
			{Name: "owner_id", Value: ownerID},
		})
	if err != nil {
		return nil, err
	}
	if len(rows) == 0 {
		return nil, fmt.Errorf("account %s: %w", id, store.ErrNotFound)
	}
	a := rows[0].toDomain()
	return &a, nil
}

func (s *Store) InsertAccounts(ctx context.Context, accounts []domain.Account) error {
	if len(accounts) == 0 {
		return nil
	}
	rows := make([]AccountRow, len(accounts))
	for i, a := range accounts {
		rows[i] = accountRow(a)
	}
	_, err := s.runDML(ctx, "InsertAccounts", `
		INSERT INTO `+s.table(accountsTable)+` (id, owner_id, name, type, institution, last_four, created_at)
		SELECT id, owner_id, name, type, institution, last_four, created_at FROM UNNEST(@rows)
	`, []bigquery.QueryParameter{{Name: "rows", Value: rows}})
	return err
}

func (s *Store) ListImportBatches(ctx context.Context, ownerID string) ([]domain.ImportBatch, error) {
	rows, err := readRows[ImportBatchRow](ctx, s, "ListImportBatches", `
		SELECT id, owner_id, account_id, data_source, file_name, imported_at,
		       total_rows, success_count, duplicate_count, error_count, status, error_log
		FROM `+s.table(importBatchesTable)+`
		WHERE owner_id = @owner_id
		ORDER BY imported_at DESC, id ASC
	`, []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}})
	if err != nil {
		return nil, err
	}
	out := make([]domain.ImportBatch, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.toDomain())
	}
	return out, nil
}

func (s *Store) InsertImportBatch(ctx context.Context, b domain.ImportBatch) error {
	_, err := s.runDML(ctx, "InsertImportBatch", `
		INSERT INTO `+s.table(importBatchesTable)+` (id, owner_id, account_id, data_source, file_name, imported_at,
		  total_rows, success_count, duplicate_count, error_count, status, error_log)
		SELECT id, owner_id, account_id, data_source, file_name, imported_at,
		  total_rows, success_count, duplicate_count, error_count, status, error_log
		FROM UNNEST(@rows)
	`, []bigquery.QueryParameter{{Name: "rows", Value: []ImportBatchRow{importBatchRow(b)}}})
	return err
}

func (s *Store) ListOwners(ctx context.Context) ([]string, error) {
	type ownerRow struct {
		OwnerID string `bigquery:"owner_id"`
	}
	rows, err := readRows[ownerRow](ctx, s, "ListOwners", `
		SELECT owner_id FROM `+s.table(accountsTable)+`
		UNION DISTINCT
		SELECT owner_id FROM `+s.table(transactionsTable)+`
		ORDER BY owner_id
	`, nil)
	if err != nil {
		return nil, err
	}
	out := make([]string, 0, len(rows))
	for _, r := range rows {
		out = append(out, r.OwnerID)
	}
	return out, nil
}
