package backup

import (
	"context"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Serializer produces snapshots of one owner's data.
type Serializer struct {
	store store.Reader
	log   zerolog.Logger
	now   func() time.Time
}

// NewSerializer creates a new serializer
func NewSerializer(r store.Reader, log zerolog.Logger) *Serializer {
	return &Serializer{store: r, log: log, now: func() time.Time { return time.Now().UTC() }}
}

// Snapshot reads the owner's transactions, rules, accounts, import batches,
// and categories (every system category plus the owner's own). It fails with
// a *categories.IntegrityError if a transaction references a category outside
// that set, so every archive it produces is self-contained.
func (s *Serializer) Snapshot(ctx context.Context, ownerID string, kind Kind) (Snapshot, error) {
	snap, err := s.read(ctx, s.store, ownerID, kind)
	if err != nil {
		return Snapshot{}, err
	}
	if orphans := categories.FindOrphans(ownerID, snap.Transactions, snap.Categories); len(orphans) > 0 {
		return Snapshot{}, fmt.Errorf("Snapshot: %w", &categories.IntegrityError{OwnerID: ownerID, Orphans: orphans})
	}
	return snap, nil
}

// SafetySnapshot is Snapshot for data about to be replaced. Orphaned
// references do not fail it; they are logged and listed in the metadata so the
// current data is always preserved before a restore.
func (s *Serializer) SafetySnapshot(ctx context.Context, ownerID string) (Snapshot, error) {
	snap, err := s.read(ctx, s.store, ownerID, KindPreRestore)
	if err != nil {
		return Snapshot{}, err
	}
	for _, o := range categories.FindOrphans(ownerID, snap.Transactions, snap.Categories) {
		snap.Metadata.OrphanedCategoryIDs = append(snap.Metadata.OrphanedCategoryIDs, o.CategoryID)
	}
	if len(snap.Metadata.OrphanedCategoryIDs) > 0 {
		s.log.Error().
			Str("owner_id", ownerID).
			Strs("orphaned_category_ids", snap.Metadata.OrphanedCategoryIDs).
			Msg("Current data has orphaned category references; safety snapshot is not restorable as-is")
	}
	return snap, nil
}

func (s *Serializer) read(ctx context.Context, r store.Reader, ownerID string, kind Kind) (Snapshot, error) {
	txns, err := r.ListTransactions(ctx, ownerID, store.TransactionFilter{})
	if err != nil {
		return Snapshot{}, fmt.Errorf("Snapshot: listing transactions: %w", err)
	}
	cats, err := r.ListCategories(ctx, ownerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("Snapshot: listing categories: %w", err)
	}
	ownerRules, err := r.ListRules(ctx, ownerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("Snapshot: listing rules: %w", err)
	}
	accounts, err := r.ListAccounts(ctx, ownerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("Snapshot: listing accounts: %w", err)
	}
	batches, err := r.ListImportBatches(ctx, ownerID)
	if err != nil {
		return Snapshot{}, fmt.Errorf("Snapshot: listing import batches: %w", err)
	}

	snap := Snapshot{
		Transactions:  txns,
		Categories:    cats,
		Rules:         ownerRules,
		Accounts:      accounts,
		ImportBatches: batches,
	}
	snap.Metadata = Metadata{
		Version:   FormatVersion,
		Kind:      kind,
		OwnerID:   ownerID,
		CreatedAt: s.now(),
		Counts:    snap.counts(),
	}
	return snap, nil
}

// Archive serializes the owner's data into archive bytes.
func (s *Serializer) Archive(ctx context.Context, ownerID string, kind Kind) ([]byte, Metadata, error) {
	snap, err := s.Snapshot(ctx, ownerID, kind)
	if err != nil {
		return nil, Metadata{}, err
	}
	data, err := EncodeBytes(snap)
	if err != nil {
		return nil, Metadata{}, fmt.Errorf("Archive: %w", err)
	}

	s.log.Info().
		Str("owner_id", ownerID).
		Str("kind", string(kind)).
		Int("transactions", snap.Metadata.Counts.Transactions).
		Int("categories", snap.Metadata.Counts.Categories).
		Int("bytes", len(data)).
		Msg("Backup archive created")
	return data, snap.Metadata, nil
}
