package pipeline

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Importer turns statement files into categorized transactions.
type Importer struct {
	store    store.Store
	resolver *categorize.Resolver
	log      zerolog.Logger
	now      func() time.Time
}

// NewImporter creates a statement importer.
func NewImporter(s store.Store, resolver *categorize.Resolver, log zerolog.Logger) *Importer {
	return &Importer{store: s, resolver: resolver, log: log, now: time.Now}
}

// Import parses, deduplicates, categorizes and stores one statement file and
// records an ImportBatch. Unparseable lines are counted on the batch and do
// not fail the import. When the file as a whole cannot be read or storage
// fails, a FAILED batch is recorded and the error is returned with it.
func (i *Importer) Import(ctx context.Context, req Request) (*domain.ImportBatch, error) {
	if req.DataSource == "" {
		req.DataSource = DefaultDataSource
	}
	state := &PipelineState{
		Request: req,
		Batch: domain.ImportBatch{
			ID:         uuid.NewString(),
			OwnerID:    req.OwnerID,
			AccountID:  req.AccountID,
			DataSource: req.DataSource,
			FileName:   req.FileName,
			ImportedAt: i.now().UTC(),
		},
	}

	log := i.log.With().
		Str("owner_id", req.OwnerID).
		Str("account_id", req.AccountID).
		Str("import_batch_id", state.Batch.ID).
		Logger()

	if err := NewPipeline(&LoadAccountStep{Store: i.store}).Execute(ctx, state); err != nil {
		return nil, fmt.Errorf("Import: %w", err)
	}

	p := NewPipeline(
		&ParseStep{},
		&DedupeStep{Store: i.store, Now: i.now},
		&CategorizeStep{Resolver: i.resolver},
		&InsertStep{Store: i.store},
	)
	if err := p.Execute(ctx, state); err != nil {
		log.Error().Err(err).Msg("Import failed")
		failed := i.recordFailure(ctx, state, err)
		return failed, fmt.Errorf("Import: %w", err)
	}

	b := state.Batch
	log.Info().
		Int("total_rows", b.TotalRows).
		Int("success_count", b.SuccessCount).
		Int("duplicate_count", b.DuplicateCount).
		Int("error_count", b.ErrorCount).
		Str("status", string(b.Status)).
		Msg("Import finished")
	return &b, nil
}

// recordFailure stores a FAILED batch carrying cause. On transactional
// stores the run's transactions have already been rolled back.
func (i *Importer) recordFailure(ctx context.Context, state *PipelineState, cause error) *domain.ImportBatch {
	b := state.Batch
	b.TotalRows = len(state.Parsed.Rows) + len(state.Parsed.Errors)
	b.SuccessCount = 0
	b.DuplicateCount = state.Duplicates
	b.ErrorCount = len(state.Parsed.Errors)
	b.Status = domain.ImportFailed
	b.ErrorLog = cause.Error()

	if err := i.store.InsertImportBatch(ctx, b); err != nil {
		i.log.Error().Err(err).Str("import_batch_id", b.ID).Msg("Failed to record failed import batch")
	}
	return &b
}
