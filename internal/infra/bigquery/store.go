// Package bigquery is the BigQuery-backed store.Store.
//
// BigQuery has no multi-statement transactions usable from DML jobs here, so
// RunInTx is not atomic and Transactional reports false. Writes use DML rather
// than the streaming inserter so rows can be updated or deleted immediately.
package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"
	"github.com/rs/zerolog"
	"google.golang.org/api/iterator"

	"github.com/dvloznov/spendalizer/internal/store"
)

// Table names.
const (
	categoriesTable    = "categories"
	rulesTable         = "rules"
	accountsTable      = "accounts"
	importBatchesTable = "import_batches"
	transactionsTable  = "transactions"
	dateFormat         = "2006-01-02"
)

// Store implements store.Store on a BigQuery dataset.
type Store struct {
	client    *bigquery.Client
	projectID string
	datasetID string
	log       zerolog.Logger
}

var _ store.Store = (*Store)(nil)

// NewStore creates a new BigQuery client for projectID and wraps it.
func NewStore(ctx context.Context, projectID, datasetID string, log zerolog.Logger) (*Store, error) {
	client, err := bigquery.NewClient(ctx, projectID)
	if err != nil {
		return nil, fmt.Errorf("NewStore: creating client: %w", err)
	}
	return NewStoreWithClient(client, projectID, datasetID, log), nil
}

// NewStoreWithClient wraps an existing client.
func NewStoreWithClient(client *bigquery.Client, projectID, datasetID string, log zerolog.Logger) *Store {
	return &Store{client: client, projectID: projectID, datasetID: datasetID, log: log}
}

// Close closes the BigQuery client connection.
func (s *Store) Close() error {
	if s.client != nil {
		return s.client.Close()
	}
	return nil
}

func (s *Store) Transactional() bool { return false }

// RunInTx runs fn directly against the store. Writes made before an error are
// not rolled back.
func (s *Store) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return fn(ctx, s)
}

// table returns the fully qualified, backquoted table name.
func (s *Store) table(name string) string {
	return "`" + s.projectID + "." + s.datasetID + "." + name + "`"
}

// runDML runs a DML statement and returns the number of affected rows.
func (s *Store) runDML(ctx context.Context, op, query string, params []bigquery.QueryParameter) (int64, error) {
	q := s.client.Query(query)
	q.Parameters = params

	job, err := q.Run(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: running query: %w", op, err)
	}
	status, err := job.Wait(ctx)
	if err != nil {
		return 0, fmt.Errorf("%s: waiting for job: %w", op, err)
	}
	if err := status.Err(); err != nil {
		return 0, fmt.Errorf("%s: job error: %w", op, err)
	}

	if status.Statistics != nil {
		if qs, ok := status.Statistics.Details.(*bigquery.QueryStatistics); ok {
			return qs.NumDMLAffectedRows, nil
		}
	}
	return 0, nil
}

// readRows runs query and decodes every row into T.
func readRows[T any](ctx context.Context, s *Store, op, query string, params []bigquery.QueryParameter) ([]T, error) {
	q := s.client.Query(query)
	q.Parameters = params

	it, err := q.Read(ctx)
	if err != nil {
		return nil, fmt.Errorf("%s: query read: %w", op, err)
	}

	var rows []T
	for {
		var r T
		err := it.Next(&r)
		if err == iterator.Done {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("%s: iter next: %w", op, err)
		}
		rows = append(rows, r)
	}
	return rows, nil
}
