package pipeline

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// PipelineStep represents a single step in the import pipeline.
type PipelineStep interface {
	Execute(ctx context.Context, state *PipelineState) error
}

// PipelineState holds the shared state across all pipeline steps.
type PipelineState struct {
	Request    Request
	Batch      domain.ImportBatch
	Account    *domain.Account
	Parsed     ParseResult
	Duplicates int

	// Transactions are the parsed rows that are not duplicates.
	Transactions []domain.Transaction
}

// LoadAccountStep checks that the target account belongs to the owner.
type LoadAccountStep struct {
	Store store.Reader
}

func (s *LoadAccountStep) Execute(ctx context.Context, state *PipelineState) error {
	acc, err := s.Store.GetAccount(ctx, state.Request.OwnerID, state.Request.AccountID)
	if err != nil {
		return err
	}
	state.Account = acc
	return nil
}

// ParseStep parses the statement file.
type ParseStep struct{}

func (s *ParseStep) Execute(ctx context.Context, state *PipelineState) error {
	parsed, err := ParseCSVBytes(state.Request.Data)
	if err != nil {
		return err
	}
	state.Parsed = parsed
	return nil
}

// DedupeStep drops rows already stored for the account or repeated earlier
// in the same file, and builds transactions from the rest.
type DedupeStep struct {
	Store store.Reader
	Now   func() time.Time
}

func (s *DedupeStep) Execute(ctx context.Context, state *PipelineState) error {
	now := s.Now().UTC()
	seen := make(map[string]bool, len(state.Parsed.Rows))

	for _, row := range state.Parsed.Rows {
		key := store.DuplicateKey{
			AccountID:   state.Request.AccountID,
			Date:        row.Date,
			Amount:      row.Amount,
			Direction:   row.Direction,
			Description: row.Description,
		}
		k := batchKey(key)
		if seen[k] {
			state.Duplicates++
			continue
		}
		seen[k] = true

		exists, err := s.Store.TransactionExists(ctx, state.Request.OwnerID, key)
		if err != nil {
			return fmt.Errorf("checking duplicate on line %d: %w", row.Line, err)
		}
		if exists {
			state.Duplicates++
			continue
		}

		state.Transactions = append(state.Transactions, domain.Transaction{
			ID:            uuid.NewString(),
			OwnerID:       state.Request.OwnerID,
			AccountID:     state.Request.AccountID,
			ImportBatchID: state.Batch.ID,
			Date:          row.Date,
			Amount:        row.Amount,
			Direction:     row.Direction,
			Description:   row.Description,
			Source:        domain.SourceNone,
			CreatedAt:     now,
			UpdatedAt:     now,
		})
	}
	return nil
}

// batchKey mirrors the storage duplicate lookup, which ignores description case.
func batchKey(k store.DuplicateKey) string {
	return strings.Join([]string{
		k.AccountID,
		k.Date.String(),
		k.Amount.String(),
		string(k.Direction),
		strings.ToLower(k.Description),
	}, "|")
}

// CategorizeStep runs the resolver over the new transactions.
type CategorizeStep struct {
	Resolver *categorize.Resolver
}

func (s *CategorizeStep) Execute(ctx context.Context, state *PipelineState) error {
	if len(state.Transactions) == 0 {
		return nil
	}
	outcomes, err := s.Resolver.Resolve(ctx, state.Request.OwnerID, state.Transactions)
	if err != nil {
		return err
	}
	categorize.Apply(state.Transactions, outcomes)
	return nil
}

// InsertStep stores the new transactions together with the batch record.
type InsertStep struct {
	Store store.Store
}

func (s *InsertStep) Execute(ctx context.Context, state *PipelineState) error {
	for _, t := range state.Transactions {
		if err := t.Validate(); err != nil {
			return err
		}
	}

	finish(state)
	return s.Store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		if len(state.Transactions) > 0 {
			if err := tx.InsertTransactions(ctx, state.Transactions); err != nil {
				return fmt.Errorf("inserting transactions: %w", err)
			}
		}
		if err := tx.InsertImportBatch(ctx, state.Batch); err != nil {
			return fmt.Errorf("recording import batch: %w", err)
		}
		return nil
	})
}

// finish fills the batch counters and status from the state.
func finish(state *PipelineState) {
	b := &state.Batch
	b.TotalRows = len(state.Parsed.Rows) + len(state.Parsed.Errors)
	b.SuccessCount = len(state.Transactions)
	b.DuplicateCount = state.Duplicates
	b.ErrorCount = len(state.Parsed.Errors)
	b.ErrorLog = errorLog(state.Parsed.Errors)

	switch {
	case b.ErrorCount == 0 && b.TotalRows > 0:
		b.Status = domain.ImportSuccess
	case b.ErrorCount > 0 && b.SuccessCount+b.DuplicateCount > 0:
		b.Status = domain.ImportPartial
	default:
		b.Status = domain.ImportFailed
	}
}

func errorLog(errs []RowError) string {
	lines := make([]string, 0, min(len(errs), maxErrorLogLines)+1)
	for i, e := range errs {
		if i == maxErrorLogLines {
			lines = append(lines, fmt.Sprintf("... and %d more", len(errs)-maxErrorLogLines))
			break
		}
		lines = append(lines, e.Error())
	}
	return strings.Join(lines, "\n")
}

// Pipeline executes a sequence of steps in order.
type Pipeline struct {
	steps []PipelineStep
}

// NewPipeline creates a new pipeline with the given steps.
func NewPipeline(steps ...PipelineStep) *Pipeline {
	return &Pipeline{steps: steps}
}

// Execute runs all steps in the pipeline sequentially.
func (p *Pipeline) Execute(ctx context.Context, state *PipelineState) error {
	for i, step := range p.steps {
		if err := step.Execute(ctx, state); err != nil {
			return fmt.Errorf("pipeline step %d failed: %w", i+1, err)
		}
	}
	return nil
}
