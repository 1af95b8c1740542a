package backup

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

type memArchives struct {
	mu    sync.Mutex
	items map[string][]byte
}

func newMemArchives() *memArchives {
	return &memArchives{items: make(map[string][]byte)}
}

func (m *memArchives) Put(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[name] = data
	return "mem://" + name, nil
}

func seed(t *testing.T, s store.Store, owner string) {
	t.Helper()
	ctx := context.Background()

	_, err := s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food", "Food", domain.CategoryExpense))
	require.NoError(t, err)

	acc := "acc-" + owner
	require.NoError(t, s.InsertAccounts(ctx, []domain.Account{storetest.Account(acc, owner)}))
	require.NoError(t, s.InsertCategories(ctx, []domain.Category{
		storetest.UserCategory("cat-"+owner, owner, "Coffee"),
	}))
	require.NoError(t, s.InsertRules(ctx, []domain.Rule{
		storetest.Rule("rule-"+owner, owner, "STARBUCKS", "cat-"+owner, 10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}))
	require.NoError(t, s.InsertImportBatch(ctx, domain.ImportBatch{
		ID: "batch-" + owner, OwnerID: owner, AccountID: acc, Status: domain.ImportSuccess, TotalRows: 3, SuccessCount: 3,
	}))

	t1 := storetest.Txn("t1-"+owner, owner, acc, "STARBUCKS 123", 1, "4.5")
	t1.CategoryID = "cat-" + owner
	t1.Source = domain.SourceRule
	t1.ImportBatchID = "batch-" + owner
	t2 := storetest.Txn("t2-"+owner, owner, acc, "TESCO STORES", 2, "30")
	t2.CategoryID = "sys_food"
	t2.Source = domain.SourceManual
	t2.ImportBatchID = "batch-" + owner
	t3 := storetest.Txn("t3-"+owner, owner, acc, "UNKNOWN", 3, "1")
	t3.ImportBatchID = "batch-" + owner
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{t1, t2, t3}))
}

func archiveFor(t *testing.T, s store.Store, owner string) []byte {
	t.Helper()
	data, _, err := NewSerializer(s, zerolog.Nop()).Archive(context.Background(), owner, KindManual)
	require.NoError(t, err)
	return data
}

func TestArchive_RoundTrip(t *testing.T) {
	s := inmemory.NewStore()
	seed(t, s, "alice")

	data := archiveFor(t, s, "alice")
	snap, err := Decode(data)
	require.NoError(t, err)
	require.NoError(t, Validate(snap))

	require.Equal(t, FormatVersion, snap.Metadata.Version)
	require.Equal(t, KindManual, snap.Metadata.Kind)
	require.Equal(t, "alice", snap.Metadata.OwnerID)
	require.Equal(t, Counts{Transactions: 3, Categories: 2, Rules: 1, Accounts: 1, ImportBatches: 1}, snap.Metadata.Counts)
	require.Len(t, snap.Transactions, 3)
}

func TestSerializer_SnapshotRejectsOrphans(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")

	orphan := storetest.Txn("t9", "alice", "acc-alice", "GHOST", 4, "2.00")
	orphan.CategoryID = "cat-deleted"
	orphan.Source = domain.SourceManual
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{orphan}))

	ser := NewSerializer(s, zerolog.Nop())
	_, err := ser.Snapshot(ctx, "alice", KindManual)
	require.Error(t, err)

	snap, err := ser.SafetySnapshot(ctx, "alice")
	require.NoError(t, err)
	require.Equal(t, []string{"cat-deleted"}, snap.Metadata.OrphanedCategoryIDs)
}

func TestDecode_MissingFileRejected(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	for _, name := range RequiredFiles {
		if name == FileRules {
			continue
		}
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write([]byte("[]"))
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())

	_, err := Decode(buf.Bytes())
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "rules.json")
}

func TestDecode_NotAZip(t *testing.T) {
	_, err := Decode([]byte("definitely not a zip"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
}

func TestDecode_OversizedMember(t *testing.T) {
	s := inmemory.NewStore()
	seed(t, s, "alice")
	data := archiveFor(t, s, "alice")

	old := memberLimit
	memberLimit = 64
	defer func() { memberLimit = old }()

	_, err := Decode(data)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "exceeds 64 bytes")
}

func TestValidate_DanglingReferences(t *testing.T) {
	s := inmemory.NewStore()
	seed(t, s, "alice")
	snap, err := Decode(archiveFor(t, s, "alice"))
	require.NoError(t, err)

	var kept []domain.Category
	for _, c := range snap.Categories {
		if c.IsSystem {
			kept = append(kept, c)
		}
	}
	require.Len(t, kept, 1)
	snap.Categories = kept
	snap.Metadata.Counts.Categories = len(kept)

	err = Validate(snap)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "cat-alice")
}

func TestRemap_SameOwnerKeepsIDs(t *testing.T) {
	s := inmemory.NewStore()
	seed(t, s, "alice")
	snap, err := Decode(archiveFor(t, s, "alice"))
	require.NoError(t, err)

	out, regenerated := Remap(snap, "alice")
	require.False(t, regenerated)
	require.Equal(t, snap.Transactions, out.Transactions)
	require.Equal(t, snap.Categories, out.Categories)
}

func TestRemap_CrossOwnerRewritesReferences(t *testing.T) {
	s := inmemory.NewStore()
	seed(t, s, "alice")
	snap, err := Decode(archiveFor(t, s, "alice"))
	require.NoError(t, err)

	out, regenerated := Remap(snap, "bob")
	require.True(t, regenerated)
	require.Equal(t, "bob", out.Metadata.OwnerID)
	require.NoError(t, Validate(out))

	catIDs := map[string]domain.Category{}
	for _, c := range out.Categories {
		catIDs[c.ID] = c
	}
	require.Contains(t, catIDs, "sys_food")
	require.NotContains(t, catIDs, "cat-alice")

	for _, txn := range out.Transactions {
		require.Equal(t, "bob", txn.OwnerID)
		require.NotEqual(t, "acc-alice", txn.AccountID)
		require.NotEqual(t, "batch-alice", txn.ImportBatchID)
		if txn.CategoryID != "" {
			require.Contains(t, catIDs, txn.CategoryID)
		}
	}
	for _, txn := range out.Transactions {
		if txn.Description == "STARBUCKS 123" {
			require.Equal(t, out.Rules[0].CategoryID, txn.CategoryID)
		}
	}

	again, _ := Remap(snap, "bob")
	require.Equal(t, out.Transactions, again.Transactions)
}

func TestReconciler_SameOwnerRoundTrip(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")
	data := archiveFor(t, s, "alice")
	before, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
	require.NoError(t, err)

	// diverge from the archive
	_, err = s.DeleteOwnerData(ctx, "alice", store.DeleteScope{Transactions: true})
	require.NoError(t, err)

	archives := newMemArchives()
	res, err := NewReconciler(s, archives, zerolog.Nop()).Restore(ctx, "alice", data)
	require.NoError(t, err)
	require.False(t, res.Remapped)
	require.True(t, res.Atomic)
	require.Equal(t, 3, res.Restored.Transactions)
	require.Equal(t, 1, res.Restored.Categories)
	require.Equal(t, 1, res.Restored.SystemCategoriesExisting)
	require.Equal(t, 0, res.Restored.SystemCategoriesInserted)
	require.Equal(t, 1, res.Deleted.Accounts)
	require.Contains(t, res.SafetySnapshot, "pre_restore_alice_")
	require.Len(t, archives.items, 1)

	after, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
	require.NoError(t, err)
	require.Equal(t, before, after)

	sys, err := s.ListSystemCategories(ctx)
	require.NoError(t, err)
	require.Len(t, sys, 1)
}

func TestReconciler_CrossOwnerLeavesSourceUntouched(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")
	data := archiveFor(t, s, "alice")

	res, err := NewReconciler(s, newMemArchives(), zerolog.Nop()).Restore(ctx, "bob", data)
	require.NoError(t, err)
	require.True(t, res.Remapped)
	require.Equal(t, "alice", res.SourceMetadata.OwnerID)

	bobTxns, err := s.ListTransactions(ctx, "bob", store.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, bobTxns, 3)

	aliceTxns, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, aliceTxns, 3)
	for _, a := range aliceTxns {
		for _, b := range bobTxns {
			require.NotEqual(t, a.ID, b.ID)
		}
	}

	bobCats, err := s.ListCategories(ctx, "bob")
	require.NoError(t, err)
	require.Len(t, bobCats, 2)
}

func TestReconciler_InsertsMissingSystemCategoriesOnce(t *testing.T) {
	ctx := context.Background()
	src := inmemory.NewStore()
	seed(t, src, "alice")
	_, err := src.InsertSystemCategory(ctx, storetest.SystemCategory("sys_travel", "Travel", domain.CategoryExpense))
	require.NoError(t, err)
	data := archiveFor(t, src, "alice")

	dst := inmemory.NewStore()
	_, err = dst.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food", "Food", domain.CategoryExpense))
	require.NoError(t, err)

	r := NewReconciler(dst, newMemArchives(), zerolog.Nop())
	res, err := r.Restore(ctx, "alice", data)
	require.NoError(t, err)
	require.Equal(t, 1, res.Restored.SystemCategoriesInserted)
	require.Equal(t, 1, res.Restored.SystemCategoriesExisting)

	_, err = r.Restore(ctx, "alice", data)
	require.NoError(t, err)

	sys, err := dst.ListSystemCategories(ctx)
	require.NoError(t, err)
	require.Len(t, sys, 2)
}

func TestReconciler_InvalidArchiveLeavesDataUnchanged(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")

	archives := newMemArchives()
	_, err := NewReconciler(s, archives, zerolog.Nop()).Restore(ctx, "alice", []byte("garbage"))
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)

	txns, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	require.Len(t, archives.items, 1)
}

func TestReconciler_RejectsUserCategoryWithSystemID(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")
	snap, err := Decode(archiveFor(t, s, "alice"))
	require.NoError(t, err)

	for i, c := range snap.Categories {
		if c.ID == "sys_food" {
			snap.Categories[i].IsSystem = false
			snap.Categories[i].OwnerID = "alice"
		}
	}
	data, err := EncodeBytes(snap)
	require.NoError(t, err)

	_, err = NewReconciler(s, newMemArchives(), zerolog.Nop()).Restore(ctx, "alice", data)
	var verr *ValidationError
	require.ErrorAs(t, err, &verr)
	require.Contains(t, verr.Error(), "system category id")
}

type failingStore struct {
	store.Store
}

func (f failingStore) RunInTx(ctx context.Context, fn func(ctx context.Context, tx store.Store) error) error {
	return f.Store.RunInTx(ctx, func(ctx context.Context, tx store.Store) error {
		return fn(ctx, failingStore{tx})
	})
}

func (f failingStore) InsertTransactions(ctx context.Context, txns []domain.Transaction) error {
	return errors.New("disk full")
}

func TestReconciler_RollsBackOnFailure(t *testing.T) {
	ctx := context.Background()
	mem := inmemory.NewStore()
	seed(t, mem, "alice")
	data := archiveFor(t, mem, "alice")

	_, err := NewReconciler(failingStore{mem}, newMemArchives(), zerolog.Nop()).Restore(ctx, "alice", data)
	require.ErrorContains(t, err, "disk full")

	txns, err := mem.ListTransactions(ctx, "alice", store.TransactionFilter{})
	require.NoError(t, err)
	require.Len(t, txns, 3)
	accounts, err := mem.ListAccounts(ctx, "alice")
	require.NoError(t, err)
	require.Len(t, accounts, 1)
}

type blockingArchives struct {
	started chan struct{}
	release chan struct{}
}

func (b *blockingArchives) Put(ctx context.Context, name string, data []byte) (string, error) {
	close(b.started)
	<-b.release
	return "mem://" + name, nil
}

func TestReconciler_SingleFlightPerOwner(t *testing.T) {
	ctx := context.Background()
	s := inmemory.NewStore()
	seed(t, s, "alice")
	data := archiveFor(t, s, "alice")

	archives := &blockingArchives{started: make(chan struct{}), release: make(chan struct{})}
	r := NewReconciler(s, archives, zerolog.Nop())

	done := make(chan error, 1)
	go func() {
		_, err := r.Restore(ctx, "alice", data)
		done <- err
	}()
	<-archives.started

	_, err := r.Restore(ctx, "alice", data)
	require.ErrorIs(t, err, ErrRestoreInProgress)

	close(archives.release)
	require.NoError(t, <-done)
}
