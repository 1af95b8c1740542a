package api

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/analytics"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/domain"
	"github.com/dvloznov/spendalizer/internal/jobs"
	jobsmem "github.com/dvloznov/spendalizer/internal/jobs/inmemory"
	"github.com/dvloznov/spendalizer/internal/maintenance"
	"github.com/dvloznov/spendalizer/internal/pipeline"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
	"github.com/dvloznov/spendalizer/internal/store/storetest"
)

type memArchives struct {
	mu   sync.Mutex
	data map[string][]byte
}

func (m *memArchives) Put(ctx context.Context, name string, data []byte) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.data[name] = data
	return "mem://" + name, nil
}

// stubAI always suggests the first visible category.
type stubAI struct{}

func (stubAI) Suggest(ctx context.Context, req ai.Request) (ai.Suggestion, bool, error) {
	if len(req.Categories) == 0 {
		return ai.Suggestion{}, false, nil
	}
	return ai.Suggestion{CategoryID: req.Categories[0].ID, Confidence: 0.8}, true, nil
}

type testServer struct {
	handler  http.Handler
	store    *inmemory.Store
	jobStore *jobsmem.Store
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	log := zerolog.Nop()
	s := inmemory.NewStore()
	_, err := s.InsertSystemCategory(context.Background(), storetest.SystemCategory("sys_food_dining", "Food & Dining", domain.CategoryExpense))
	require.NoError(t, err)

	guard := ai.NewGuard(stubAI{}, time.Second, 0.5, log)
	resolver := categorize.NewResolver(s, rules.NewMatcher(log), guard, 2, log)
	serializer := backup.NewSerializer(s, log)
	archives := &memArchives{data: make(map[string][]byte)}

	jobStore := jobsmem.NewStore()
	queue := jobsmem.NewQueue(10, 1, jobStore, log)
	runner := jobs.NewRunner(serializer, archives, resolver, log)
	ctx, cancel := context.WithCancel(context.Background())
	require.NoError(t, queue.Start(ctx, runner.Handle))
	t.Cleanup(func() {
		cancel()
		_ = queue.Close()
	})

	h := NewRouter(Deps{
		Store:       s,
		Categories:  categories.NewService(s, log),
		Rules:       rules.NewService(s, log),
		Resolver:    resolver,
		Importer:    pipeline.NewImporter(s, resolver, log),
		Serializer:  serializer,
		Reconciler:  backup.NewReconciler(s, archives, log),
		Maintenance: maintenance.NewService(s, log),
		Analytics:   analytics.NewService(s, log),
		Publisher:   queue,
		Jobs:        jobStore,
	}, log)
	return &testServer{handler: h, store: s, jobStore: jobStore}
}

func (ts *testServer) do(t *testing.T, method, path, owner string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if owner != "" {
		req.Header.Set("X-User-ID", owner)
	}
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func (ts *testServer) upload(t *testing.T, path, owner, filename string, data []byte, fields map[string]string) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	fw, err := mw.CreateFormFile("file", filename)
	require.NoError(t, err)
	_, err = fw.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, path, &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("X-User-ID", owner)
	rec := httptest.NewRecorder()
	ts.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestHealthIsPublic(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/categories", "", nil)
	require.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestCategories(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/categories", "alice", map[string]string{"name": "Hobbies", "type": "EXPENSE"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	created := decode[domain.Category](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/categories", "alice", map[string]string{"name": "hobbies", "type": "EXPENSE"})
	require.Equal(t, http.StatusConflict, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/categories", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]domain.Category](t, rec), 2)

	rec = ts.do(t, http.MethodGet, "/api/categories", "bob", nil)
	require.Len(t, decode[[]domain.Category](t, rec), 1)

	rec = ts.do(t, http.MethodPut, "/api/categories/sys_food_dining", "alice", map[string]string{"name": "Food", "type": "EXPENSE"})
	require.Equal(t, http.StatusForbidden, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/categories/"+created.ID, "bob", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodDelete, "/api/categories/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
}

func TestRulesAndBulkCategorization(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.InsertAccounts(ctx, []domain.Account{storetest.Account("acc-1", "alice")}))
	require.NoError(t, ts.store.InsertTransactions(ctx, []domain.Transaction{
		storetest.Txn("t1", "alice", "acc-1", "PRET A MANGER", 1, "6"),
		storetest.Txn("t2", "alice", "acc-1", "RENT", 2, "900"),
	}))

	rec := ts.do(t, http.MethodPost, "/api/rules", "alice", map[string]interface{}{
		"pattern": "pret", "match_type": "CONTAINS", "category_id": "sys_food_dining",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())

	rec = ts.do(t, http.MethodPost, "/api/transactions/bulk-categorize-by-rules", "alice", map[string]interface{}{"uncategorized_only": true})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	res := decode[categorize.BulkResult](t, rec)
	require.Equal(t, 2, res.Processed)
	require.Equal(t, 1, res.Updated)

	rec = ts.do(t, http.MethodPost, "/api/transactions/bulk-categorize-by-rules", "alice", map[string]interface{}{})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/transactions?source=RULE", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	txns := decode[[]domain.Transaction](t, rec)
	require.Len(t, txns, 1)
	require.Equal(t, "t1", txns[0].ID)

	rec = ts.do(t, http.MethodPatch, "/api/transactions/t2/category", "alice", map[string]string{"category_id": "sys_food_dining"})
	require.Equal(t, http.StatusOK, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/transactions/t2/category", "alice", map[string]string{"category_id": "nope"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPatch, "/api/transactions/t2/category", "bob", map[string]string{"category_id": "sys_food_dining"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/transactions?start_date=yesterday", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/rules/export", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	exported := decode[struct {
		Rules []rules.Exported `json:"rules"`
	}](t, rec)
	require.Len(t, exported.Rules, 1)
	require.Equal(t, "Food & Dining", exported.Rules[0].CategoryName)

	rec = ts.do(t, http.MethodPost, "/api/rules/import", "bob", exported)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	imported := decode[rules.ImportResult](t, rec)
	require.Equal(t, 1, imported.Imported)
}

func TestAsyncAICategorization(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.InsertAccounts(ctx, []domain.Account{storetest.Account("acc-1", "alice")}))
	require.NoError(t, ts.store.InsertTransactions(ctx, []domain.Transaction{
		storetest.Txn("t1", "alice", "acc-1", "SOMETHING", 1, "6"),
	}))

	rec := ts.do(t, http.MethodPost, "/api/transactions/bulk-categorize-by-ai", "alice", map[string]interface{}{
		"transaction_ids": []string{"t1"}, "async": true,
	})
	require.Equal(t, http.StatusAccepted, rec.Code, rec.Body.String())
	jobID := decode[map[string]string](t, rec)["job_id"]
	require.NotEmpty(t, jobID)

	require.Eventually(t, func() bool {
		rec := ts.do(t, http.MethodGet, "/api/jobs/"+jobID, "alice", nil)
		return rec.Code == http.StatusOK && decode[jobs.Job](t, rec).Status == jobs.JobStatusCompleted
	}, 2*time.Second, 10*time.Millisecond)

	rec = ts.do(t, http.MethodGet, "/api/jobs/"+jobID, "bob", nil)
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/jobs", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.EqualValues(t, 1, decode[map[string]interface{}](t, rec)["count"])

	rec = ts.do(t, http.MethodGet, "/api/transactions", "alice", nil)
	txns := decode[[]domain.Transaction](t, rec)
	require.Equal(t, domain.SourceAI, txns[0].Source)
	require.Equal(t, "sys_food_dining", txns[0].CategoryID)
}

func TestImport(t *testing.T) {
	ts := newTestServer(t)

	rec := ts.do(t, http.MethodPost, "/api/accounts", "alice", map[string]string{"name": "Current", "account_type": "BANK", "institution": "Barclays"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	acc := decode[domain.Account](t, rec)

	rec = ts.do(t, http.MethodPost, "/api/accounts", "alice", map[string]string{"name": "Broken", "account_type": "SAVINGS"})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	csv := []byte("Date,Description,Amount\n2024-03-01,Coffee,-3.00\n2024-03-02,Salary,2000\n")
	rec = ts.upload(t, "/api/import", "alice", "march.csv", csv, map[string]string{"account_id": acc.ID, "data_source": "GENERIC_CSV"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	batch := decode[domain.ImportBatch](t, rec)
	require.Equal(t, 2, batch.SuccessCount)
	require.Equal(t, domain.ImportSuccess, batch.Status)
	require.Equal(t, "march.csv", batch.FileName)

	rec = ts.upload(t, "/api/import", "alice", "noise.csv", []byte("x,y\n1,2\n"), map[string]string{"account_id": acc.ID})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.upload(t, "/api/import", "alice", "march.csv", csv, map[string]string{"account_id": "missing"})
	require.Equal(t, http.StatusNotFound, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/imports", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Len(t, decode[[]domain.ImportBatch](t, rec), 2)
}

func TestBackupRestoreAndDeleteAll(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()
	require.NoError(t, ts.store.InsertAccounts(ctx, []domain.Account{storetest.Account("acc-1", "alice")}))
	require.NoError(t, ts.store.InsertTransactions(ctx, []domain.Transaction{
		storetest.Txn("t1", "alice", "acc-1", "COFFEE", 1, "3"),
	}))

	rec := ts.do(t, http.MethodGet, "/api/settings/backup", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, "application/zip", rec.Header().Get("Content-Type"))
	require.Contains(t, rec.Header().Get("Content-Disposition"), "SpendAlizer-")
	archive := rec.Body.Bytes()

	rec = ts.do(t, http.MethodPost, "/api/transactions/delete-all", "alice", map[string]interface{}{
		"confirmation_text": "nope", "delete_transactions": true,
	})
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodPost, "/api/transactions/delete-all", "alice", map[string]interface{}{
		"confirmation_text": "DELETE ALL", "delete_transactions": true,
	})
	require.Equal(t, http.StatusOK, rec.Code)
	deleted := decode[maintenance.DeleteResult](t, rec)
	require.Equal(t, 1, deleted.Deleted.Transactions)

	rec = ts.upload(t, "/api/settings/restore", "alice", "backup.zip", []byte("not a zip"), nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.upload(t, "/api/settings/restore", "alice", "backup.zip", archive, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	restored := decode[backup.RestoreResult](t, rec)
	require.Equal(t, 1, restored.Restored.Transactions)
	require.NotEmpty(t, restored.SafetySnapshot)

	rec = ts.do(t, http.MethodGet, "/api/debug/data-check", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	report := decode[categories.DataCheckReport](t, rec)
	require.Equal(t, 1, report.TotalTransactions)
	require.Empty(t, report.OrphanedCategoryIDs)
}

func TestAnalyticsRoutes(t *testing.T) {
	ts := newTestServer(t)
	ctx := context.Background()

	_, err := ts.store.InsertSystemCategory(ctx, storetest.SystemCategory("sys_transfer", "Transfer", domain.CategoryTransfer))
	require.NoError(t, err)
	require.NoError(t, ts.store.InsertAccounts(ctx, []domain.Account{storetest.Account("acc", "alice")}))

	in := storetest.Txn("t1", "alice", "acc", "FROM SAVINGS", 2, "100")
	in.Direction = domain.DirectionCredit
	in.CategoryID, in.Source = "sys_transfer", domain.SourceManual
	out := storetest.Txn("t2", "alice", "acc", "TO SAVINGS", 3, "40")
	out.CategoryID, out.Source = "sys_transfer", domain.SourceManual
	food := storetest.Txn("t3", "alice", "acc", "TESCO", 4, "12.50")
	food.CategoryID, food.Source = "sys_food_dining", domain.SourceRule
	none := storetest.Txn("t4", "alice", "acc", "UNKNOWN", 5, "7")
	require.NoError(t, ts.store.InsertTransactions(ctx, []domain.Transaction{in, out, food, none}))

	rec := ts.do(t, http.MethodGet, "/api/analytics/summary", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	sum := decode[analytics.Summary](t, rec)
	require.Equal(t, 4, sum.TransactionCount)
	require.Equal(t, "100", sum.TotalTransferIn.String())
	require.Equal(t, "40", sum.TotalTransferOut.String())
	require.Equal(t, "19.5", sum.TotalExpense.String())

	types := map[domain.CategoryType]string{}
	for _, e := range sum.CategoryBreakdown {
		types[e.CategoryType] = e.CategoryID
	}
	require.Equal(t, "sys_transfer", types[analytics.TypeTransferIn])
	require.Equal(t, "sys_transfer", types[analytics.TypeTransferOut])
	require.Contains(t, types, analytics.TypeUncategorized)

	rec = ts.do(t, http.MethodGet, "/api/analytics/summary?start_date=2024-03-04", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Equal(t, 2, decode[analytics.Summary](t, rec).TransactionCount)

	rec = ts.do(t, http.MethodGet, "/api/analytics/spending-over-time?group_by=day", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	require.Len(t, decode[[]analytics.PeriodTotals](t, rec), 3)

	rec = ts.do(t, http.MethodGet, "/api/analytics/category-trends", "alice", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	trends := decode[analytics.Trends](t, rec)
	require.Equal(t, []string{"2024-03"}, trends.Periods)
	require.Len(t, trends.Categories, 2)

	rec = ts.do(t, http.MethodGet, "/api/analytics/spending-over-time?group_by=year", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/analytics/summary?end_date=03/04/2024", "alice", nil)
	require.Equal(t, http.StatusBadRequest, rec.Code)

	rec = ts.do(t, http.MethodGet, "/api/analytics/summary", "bob", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	require.Zero(t, decode[analytics.Summary](t, rec).TransactionCount)
}
