package jobs

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

type memArchives struct {
	mu    sync.Mutex
	names []string
	data  map[string][]byte
}

func (m *memArchives) Put(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.data == nil {
		m.data = make(map[string][]byte)
	}
	m.names = append(m.names, name)
	m.data[name] = data
	return "mem://" + name, nil
}

func newRunner(t *testing.T) (*Runner, *inmemory.Store, *memArchives) {
	t.Helper()
	ctx := context.Background()
	s := inmemory.NewStore()

	_, err := s.InsertSystemCategory(ctx, storetest.SystemCategory("sys_food_dining", "Food & Dining", domain.CategoryExpense))
	require.NoError(t, err)
	require.NoError(t, s.InsertAccounts(ctx, []domain.Account{storetest.Account("acc-1", "alice")}))
	require.NoError(t, s.InsertRules(ctx, []domain.Rule{
		storetest.Rule("rule-1", "alice", "coffee", "sys_food_dining", 10, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)),
	}))
	require.NoError(t, s.InsertTransactions(ctx, []domain.Transaction{
		storetest.Txn("t1", "alice", "acc-1", "COFFEE SHOP", 1, "3.5"),
		storetest.Txn("t2", "alice", "acc-1", "RENT", 2, "900"),
	}))

	archives := &memArchives{}
	guard := ai.NewGuard(nil, time.Second, 0.5, zerolog.Nop())
	resolver := categorize.NewResolver(s, rules.NewMatcher(zerolog.Nop()), guard, 2, zerolog.Nop())
	r := NewRunner(backup.NewSerializer(s, zerolog.Nop()), archives, resolver, zerolog.Nop())
	return r, s, archives
}

func TestRunner_Backup(t *testing.T) {
	r, _, archives := newRunner(t)

	job, err := NewJob(JobTypeBackup, "alice", BackupPayload{})
	require.NoError(t, err)
	job.JobID = "job-1"
	require.NoError(t, r.Handle(context.Background(), job))

	require.Len(t, archives.names, 1)
	require.Contains(t, archives.names[0], "backup_scheduled_alice_")

	var res BackupResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	require.Equal(t, "mem://"+archives.names[0], res.Location)
	require.Equal(t, backup.KindScheduled, res.Metadata.Kind)
	require.Equal(t, 2, res.Metadata.Counts.Transactions)

	snap, err := backup.Decode(archives.data[archives.names[0]])
	require.NoError(t, err)
	require.Len(t, snap.Rules, 1)
}

func TestRunner_BackupManualKind(t *testing.T) {
	r, _, archives := newRunner(t)

	job, err := NewJob(JobTypeBackup, "alice", BackupPayload{Kind: string(backup.KindManual)})
	require.NoError(t, err)
	require.NoError(t, r.Handle(context.Background(), job))
	require.Contains(t, archives.names[0], "backup_manual_alice_")
}

func TestRunner_RecategorizeUncategorized(t *testing.T) {
	r, s, _ := newRunner(t)
	ctx := context.Background()

	job, err := NewJob(JobTypeRecategorize, "alice", RecategorizePayload{Tiers: []string{"rules"}, UncategorizedOnly: true})
	require.NoError(t, err)
	require.NoError(t, r.Handle(ctx, job))

	var res categorize.BulkResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Updated)
	require.Empty(t, res.Outcomes)

	txns, err := s.ListTransactions(ctx, "alice", store.TransactionFilter{IDs: []string{"t1"}})
	require.NoError(t, err)
	require.Len(t, txns, 1)
	require.Equal(t, "sys_food_dining", txns[0].CategoryID)
	require.Equal(t, domain.SourceRule, txns[0].Source)
}

func TestRunner_RecategorizeByIDs(t *testing.T) {
	r, _, _ := newRunner(t)

	job, err := NewJob(JobTypeRecategorize, "alice", RecategorizePayload{IDs: []string{"t1", "missing"}})
	require.NoError(t, err)
	require.NoError(t, r.Handle(context.Background(), job))

	var res categorize.BulkResult
	require.NoError(t, json.Unmarshal(job.Result, &res))
	require.Equal(t, 2, res.Requested)
	require.Equal(t, []string{"missing"}, res.NotFound)
	require.Equal(t, []categorize.Tier{categorize.TierRules, categorize.TierAI}, res.Tiers)
}

func TestRunner_RejectsUnknownTier(t *testing.T) {
	r, _, _ := newRunner(t)

	job, err := NewJob(JobTypeRecategorize, "alice", RecategorizePayload{Tiers: []string{"magic"}})
	require.NoError(t, err)
	require.Error(t, r.Handle(context.Background(), job))
}

func TestRunner_UnknownJobType(t *testing.T) {
	r, _, _ := newRunner(t)
	require.Error(t, r.Handle(context.Background(), &Job{Type: "unknown"}))
}
