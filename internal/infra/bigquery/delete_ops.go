package bigquery

import (
	"context"
	"fmt"

	"cloud.google.com/go/bigquery"

	"github.com/dvloznov/spendalizer/internal/store"
)

// DeleteOwnerData deletes the selected sets one table at a time. Each DELETE
// is its own job; a failure part way leaves earlier tables already cleared.
func (s *Store) DeleteOwnerData(ctx context.Context, ownerID string, scope store.DeleteScope) (store.DeleteCounts, error) {
	var counts store.DeleteCounts

	// Delete in order: transactions, rules, categories, import batches, accounts
	steps := []struct {
		enabled bool
		table   string
		extra   string
		count   *int
	}{
		{scope.Transactions, transactionsTable, "", &counts.Transactions},
		{scope.Rules, rulesTable, "", &counts.Rules},
		{scope.Categories, categoriesTable, " AND NOT is_system", &counts.Categories},
		{scope.ImportBatches, importBatchesTable, "", &counts.ImportBatches},
		{scope.Accounts, accountsTable, "", &counts.Accounts},
	}

	for _, step := range steps {
		if !step.enabled {
			continue
		}
		n, err := s.runDML(ctx, "DeleteOwnerData",
			`DELETE FROM `+s.table(step.table)+` WHERE owner_id = @owner_id`+step.extra,
			[]bigquery.QueryParameter{{Name: "owner_id", Value: ownerID}})
		if err != nil {
			return counts, fmt.Errorf("deleting %s: %w", step.table, err)
		}
		*step.count = int(n)

		s.log.Info().
			Str("owner_id", ownerID).
			Str("table", step.table).
			Int64("rows", n).
			Msg("Deleted owner data")
	}
	return counts, nil
}
