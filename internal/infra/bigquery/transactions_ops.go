package bigquery

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

const transactionColumns = `id, owner_id, account_id, import_batch_id, date, amount, direction,
	description, category_id, source, confidence, created_at, updated_at`

// ListTransactions queries the owner's transactions matching filter, newest first.
func (s *Store) ListTransactions(ctx context.Context, ownerID string, filter store.TransactionFilter) ([]domain.Transaction, error) {
	where := []string{"owner_id = @owner_id"}
	params := []bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}}

	if len(filter.IDs) > 0 {
		where = append(where, "id IN UNNEST(@ids)")
		params = append(params, bigquery.QueryParameter{Name: "ids", Value: filter.IDs})
	}
	if filter.AccountID != "" {
		where = append(where, "account_id = @account_id")
		params = append(params, bigquery.QueryParameter{Name: "account_id", Value: filter.AccountID})
	}
	if filter.CategoryID != "" {
		where = append(where, "category_id = @category_id")
		params = append(params, bigquery.QueryParameter{Name: "category_id", Value: filter.CategoryID})
	}
	if filter.Uncategorized {
		where = append(where, "(category_id IS NULL OR category_id = '')")
	}
	if filter.Source != "" {
		where = append(where, "source = @source")
		params = append(params, bigquery.QueryParameter{Name: "source", Value: string(filter.Source)})
	}
	if filter.StartDate.IsValid() {
		where = append(where, "date >= @start_date")
		params = append(params, bigquery.QueryParameter{Name: "start_date", Value: filter.StartDate})
	}
	if filter.EndDate.IsValid() {
		where = append(where, "date <= @end_date")
		params = append(params, bigquery.QueryParameter{Name: "end_date", Value: filter.EndDate})
	}

	query := "SELECT " + transactionColumns + " FROM " + s.table(transactionsTable) +
		" WHERE " + strings.Join(where, " AND ") + " ORDER BY date DESC, id ASC"
	if filter.Limit > 0 || filter.Offset > 0 {
		limit := int64(math.MaxInt64)
		if filter.Limit > 0 {
			limit = int64(filter.Limit)
		}
		query += " LIMIT @limit OFFSET @offset"
		params = append(params,
			bigquery.QueryParameter{Name: "limit", Value: limit},
			bigquery.QueryParameter{Name: "offset", Value: int64(filter.Offset)},
		)
	}

	rows, err := readRows[TransactionRow](ctx, s, "ListTransactions", query, params)
	if err != nil {
		return nil, err
	}
	out := make([]domain.Transaction, 0, len(rows))
	for _, r := range rows {
		t, err := r.toDomain()
		if err != nil {
			return nil, fmt.Errorf("ListTransactions: %w", err)
		}
		out = append(out, t)
	}
	return out, nil
}

func (s *Store) TransactionExists(ctx context.Context, ownerID string, key store.DuplicateKey) (bool, error) {
	type countRow struct {
		N int64 `bigquery:"n"`
	}
	rows, err := readRows[countRow](ctx, s, "TransactionExists", `
		SELECT COUNT(1) AS n
		FROM `+s.table(transactionsTable)+`
		WHERE owner_id = @owner_id
		  AND account_id = @account_id
		  AND date = @date
		  AND amount = @amount
		  AND direction = @direction
		  AND LOWER(description) = LOWER(@description)
	`, []bigquery.QueryParameter{
		{Name: "owner_id", Value: ownerID},
		{Name: "account_id", Value: key.AccountID},
		{Name: "date", Value: key.Date},
		{Name: "amount", Value: numeric(key.Amount)},
		{Name: "direction", Value: string(key.Direction)},
		{Name: "description", Value: key.Description},
	})
	if err != nil {
		return false, err
	}
	return len(rows) > 0 && rows[0].N > 0, nil
}

func (s *Store) InsertTransactions(ctx context.Context, txns []domain.Transaction) error {
	if len(txns) == 0 {
		return nil
	}
	rows := make([]TransactionRow, len(txns))
	for i, t := range txns {
		rows[i] = transactionRow(t)
	}
	_, err := s.runDML(ctx, "InsertTransactions", `
		INSERT INTO `+s.table(transactionsTable)+` (`+transactionColumns+`)
		SELECT `+transactionColumns+` FROM UNNEST(@rows)
	`, []bigquery.QueryParameter{{Name: "rows", Value: rows}})
	return err
}

// UpdateTransactionCategories applies every assignment in one UPDATE.
func (s *Store) UpdateTransactionCategories(ctx context.Context, ownerID string, assignments []store.CategoryAssignment) (int, error) {
	if len(assignments) == 0 {
		return 0, nil
	}
	rows := make([]AssignmentRow, len(assignments))
	for i, a := range assignments {
		rows[i] = AssignmentRow{
			TransactionID: a.TransactionID,
			CategoryID:    nullString(a.CategoryID),
			Source:        string(a.Source),
		}
		if a.Confidence != nil {
			rows[i].Confidence = bigquery.NullFloat64{Float64: *a.Confidence, Valid: true}
		}
	}

	n, err := s.runDML(ctx, "UpdateTransactionCategories", `
		UPDATE `+s.table(transactionsTable)+` T
		SET category_id = A.category_id, source = A.source, confidence = A.confidence, updated_at = @now
		FROM UNNEST(@assignments) A
		WHERE T.id = A.transaction_id AND T.owner_id = @owner_id
	`, []bigquery.QueryParameter{
		{Name: "assignments", Value: rows},
		{Name: "owner_id", Value: ownerID},
		{Name: "now", Value: time.Now().UTC()},
	})
	if err != nil {
		return 0, err
	}
	return int(n), nil
}
