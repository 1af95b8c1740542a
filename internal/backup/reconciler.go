package backup

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
)

// ArchiveStore persists archive bytes and returns where they went.
type ArchiveStore interface {
	Put(ctx context.Context, name string, data []byte) (string, error)
}

// RestoreCounts reports how many records a restore wrote.
type RestoreCounts struct {
	Transactions             int `json:"transactions"`
	Categories               int `json:"categories"`
	Rules                    int `json:"rules"`
	Accounts                 int `json:"accounts"`
	ImportBatches            int `json:"import_batches"`
	SystemCategoriesInserted int `json:"system_categories_inserted"`
	SystemCategoriesExisting int `json:"system_categories_existing"`
}

// RestoreResult is returned by a successful restore.
type RestoreResult struct {
	SafetySnapshot string             `json:"pre_restore_backup"`
	Restored       RestoreCounts      `json:"restored_counts"`
	Deleted        store.DeleteCounts `json:"deleted_counts"`
	SourceMetadata Metadata           `json:"backup_metadata"`
	Remapped       bool               `json:"remapped"`
	Atomic         bool               `json:"atomic"`
}

// Reconciler replaces an owner's data with the contents of an archive.
//
// Restores for the same owner are single-flight within one process; a second
// concurrent call fails with ErrRestoreInProgress. Exclusion across processes
// is the caller's responsibility.
type Reconciler struct {
	store      store.Store
	serializer *Serializer
	archives   ArchiveStore
	log        zerolog.Logger
	now        func() time.Time

	mu     sync.Mutex
	active map[string]bool
}

// NewReconciler creates a new restore reconciler
func NewReconciler(s store.Store, archives ArchiveStore, log zerolog.Logger) *Reconciler {
	return &Reconciler{
		store:      s,
		serializer: NewSerializer(s, log),
		archives:   archives,
		log:        log,
		now:        func() time.Time { return time.Now().UTC() },
		active:     make(map[string]bool),
	}
}

func (r *Reconciler) acquire(ownerID string) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.active[ownerID] {
		return false
	}
	r.active[ownerID] = true
	return true
}

func (r *Reconciler) release(ownerID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.active, ownerID)
}

// Restore replaces targetOwner's data with the archive in data.
//
// The current data is first saved to the archive store. The archive is then
// decoded and validated; a *ValidationError at this point means nothing was
// changed. Deletion and insertion run inside store.RunInTx and end with an
// integrity check. On a store whose RunInTx is not atomic a failure there can
// leave partial data behind, and the returned error names the safety snapshot
// to recover from.
func (r *Reconciler) Restore(ctx context.Context, targetOwner string, data []byte) (RestoreResult, error) {
	var res RestoreResult
	if targetOwner == "" {
		return res, fmt.Errorf("Restore: owner is required")
	}
	if !r.acquire(targetOwner) {
		return res, ErrRestoreInProgress
	}
	defer r.release(targetOwner)

	log := r.log.With().Str("owner_id", targetOwner).Logger()
	res.Atomic = r.store.Transactional()

	// 1. safety snapshot of the current data
	location, err := r.saveSafetySnapshot(ctx, targetOwner)
	if err != nil {
		return res, fmt.Errorf("Restore: %w", err)
	}
	res.SafetySnapshot = location
	log.Info().Str("location", location).Msg("Pre-restore safety snapshot saved")

	// 2. decode and validate, no mutation yet
	snap, err := Decode(data)
	if err != nil {
		return res, fmt.Errorf("Restore: %w", err)
	}
	if err := Validate(snap); err != nil {
		return res, fmt.Errorf("Restore: %w", err)
	}
	res.SourceMetadata = snap.Metadata

	// 3. owner remap as a pure pass
	remapped, regenerated := Remap(snap, targetOwner)
	res.Remapped = regenerated
	if err := r.checkCollisions(ctx, targetOwner, remapped); err != nil {
		return res, fmt.Errorf("Restore: %w", err)
	}

	// 4. replace
	err = r.store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		deleted, err := tx.DeleteOwnerData(ctx, targetOwner, store.AllOwnerData)
		if err != nil {
			return fmt.Errorf("deleting current data: %w", err)
		}
		res.Deleted = deleted

		counts, err := insertSnapshot(ctx, tx, remapped)
		if err != nil {
			return err
		}
		res.Restored = counts

		if err := categories.CheckIntegrity(ctx, tx, targetOwner); err != nil {
			return fmt.Errorf("post-restore check: %w", err)
		}
		return nil
	})
	if err != nil {
		var integrityErr *categories.IntegrityError
		if errors.As(err, &integrityErr) {
			log.Error().Err(err).Msg("Restore produced orphaned category references")
		}
		if !res.Atomic {
			log.Error().
				Err(err).
				Str("safety_snapshot", location).
				Msg("Restore failed on a non-transactional store; data may be partial, recover from the safety snapshot")
			return res, fmt.Errorf("Restore: %w (recover from safety snapshot %s)", err, location)
		}
		return res, fmt.Errorf("Restore: %w", err)
	}

	log.Warn().
		Str("source_owner_id", snap.Metadata.OwnerID).
		Bool("remapped", res.Remapped).
		Int("transactions", res.Restored.Transactions).
		Int("categories", res.Restored.Categories).
		Int("rules", res.Restored.Rules).
		Int("accounts", res.Restored.Accounts).
		Int("import_batches", res.Restored.ImportBatches).
		Int("system_categories_inserted", res.Restored.SystemCategoriesInserted).
		Msg("Restore completed; previous data replaced")
	return res, nil
}

func (r *Reconciler) saveSafetySnapshot(ctx context.Context, ownerID string) (string, error) {
	snap, err := r.serializer.SafetySnapshot(ctx, ownerID)
	if err != nil {
		return "", fmt.Errorf("safety snapshot: %w", err)
	}
	data, err := EncodeBytes(snap)
	if err != nil {
		return "", fmt.Errorf("safety snapshot: %w", err)
	}
	location, err := r.archives.Put(ctx, ArchiveName(KindPreRestore, ownerID, r.now()), data)
	if err != nil {
		return "", fmt.Errorf("safety snapshot: saving: %w", err)
	}
	return location, nil
}

// checkCollisions rejects user categories whose ids already belong to a
// system category or to another owner.
func (r *Reconciler) checkCollisions(ctx context.Context, ownerID string, snap Snapshot) error {
	var reasons []string
	for _, c := range snap.Categories {
		if c.IsSystem {
			continue
		}
		existing, err := r.store.GetCategory(ctx, c.ID)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("checking category %s: %w", c.ID, err)
		}
		switch {
		case existing.IsSystem:
			reasons = append(reasons, fmt.Sprintf("user category %s reuses a system category id", c.ID))
		case existing.OwnerID != ownerID:
			reasons = append(reasons, fmt.Sprintf("category id %s belongs to another owner", c.ID))
		}
	}
	if len(reasons) > 0 {
		return &ValidationError{Reasons: reasons}
	}
	return nil
}

func insertSnapshot(ctx context.Context, tx store.Store, snap Snapshot) (RestoreCounts, error) {
	var counts RestoreCounts

	var userCats []domain.Category
	for _, c := range snap.Categories {
		if !c.IsSystem {
			userCats = append(userCats, c)
			continue
		}
		inserted, err := tx.InsertSystemCategory(ctx, c)
		if err != nil {
			return counts, fmt.Errorf("inserting system category %s: %w", c.ID, err)
		}
		if inserted {
			counts.SystemCategoriesInserted++
		} else {
			counts.SystemCategoriesExisting++
		}
	}

	if len(userCats) > 0 {
		if err := tx.InsertCategories(ctx, userCats); err != nil {
			return counts, fmt.Errorf("inserting categories: %w", err)
		}
	}
	counts.Categories = len(userCats)

	if len(snap.Accounts) > 0 {
		if err := tx.InsertAccounts(ctx, snap.Accounts); err != nil {
			return counts, fmt.Errorf("inserting accounts: %w", err)
		}
	}
	counts.Accounts = len(snap.Accounts)

	for _, b := range snap.ImportBatches {
		if err := tx.InsertImportBatch(ctx, b); err != nil {
			return counts, fmt.Errorf("inserting import batch %s: %w", b.ID, err)
		}
	}
	counts.ImportBatches = len(snap.ImportBatches)

	if len(snap.Rules) > 0 {
		if err := tx.InsertRules(ctx, snap.Rules); err != nil {
			return counts, fmt.Errorf("inserting rules: %w", err)
		}
	}
	counts.Rules = len(snap.Rules)

	if len(snap.Transactions) > 0 {
		if err := tx.InsertTransactions(ctx, snap.Transactions); err != nil {
			return counts, fmt.Errorf("inserting transactions: %w", err)
		}
	}
	counts.Transactions = len(snap.Transactions)

	return counts, nil
}
