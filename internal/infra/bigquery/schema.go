package bigquery

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"cloud.google.com/go/bigquery"
	"google.golang.org/api/googleapi"
)

// EnsureSchema creates the dataset and any missing tables. Existing tables
// are left as they are.
func (s *Store) EnsureSchema(ctx context.Context) error {
	ds := s.client.DatasetInProject(s.projectID, s.datasetID)
	if err := ds.Create(ctx, &bigquery.DatasetMetadata{}); err != nil && !alreadyExists(err) {
		return fmt.Errorf("EnsureSchema: creating dataset: %w", err)
	}

	tables := []struct {
		name string
		row  interface{}
	}{
		{categoriesTable, CategoryRow{}},
		{rulesTable, RuleRow{}},
		{accountsTable, AccountRow{}},
		{importBatchesTable, ImportBatchRow{}},
		{transactionsTable, TransactionRow{}},
	}
	for _, t := range tables {
		schema, err := bigquery.InferSchema(t.row)
		if err != nil {
			return fmt.Errorf("EnsureSchema: inferring %s schema: %w", t.name, err)
		}
		err = ds.Table(t.name).Create(ctx, &bigquery.TableMetadata{Schema: schema})
		if err != nil && !alreadyExists(err) {
			return fmt.Errorf("EnsureSchema: creating %s: %w", t.name, err)
		}
		s.log.Debug().Str("table", t.name).Msg("Table ready")
	}
	return nil
}

func alreadyExists(err error) bool {
	var apiErr *googleapi.Error
	return errors.As(err, &apiErr) && apiErr.Code == http.StatusConflict
}
