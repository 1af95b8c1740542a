// Package api assembles the HTTP surface.
package api

import (
	"net/http"

	"github.com/gorilla/mux"
	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/analytics"
	"github.com/dvloznov/spendalizer/internal/api/handlers"
	"github.com/dvloznov/spendalizer/internal/api/middleware"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/jobs"
	"github.com/dvloznov/spendalizer/internal/maintenance"
	"github.com/dvloznov/spendalizer/internal/pipeline"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
)

// Deps are the services the routes call into.
type Deps struct {
	Store       store.Store
	Categories  *categories.Service
	Rules       *rules.Service
	Resolver    *categorize.Resolver
	Importer    *pipeline.Importer
	Serializer  *backup.Serializer
	Reconciler  *backup.Reconciler
	Maintenance *maintenance.Service
	Analytics   *analytics.Service
	Publisher   jobs.Publisher
	Jobs        jobs.JobStore
}

// NewRouter registers every route and wraps them in the middleware chain.
func NewRouter(d Deps, log zerolog.Logger) http.Handler {
	categoriesHandler := handlers.NewCategoriesHandler(d.Categories, log)
	rulesHandler := handlers.NewRulesHandler(d.Rules, log)
	accountsHandler := handlers.NewAccountsHandler(d.Store, log)
	transactionsHandler := handlers.NewTransactionsHandler(d.Store, d.Resolver, d.Publisher, log)
	importsHandler := handlers.NewImportsHandler(d.Importer, d.Store, log)
	settingsHandler := handlers.NewSettingsHandler(d.Serializer, d.Reconciler, d.Maintenance, d.Store, log)
	jobsHandler := handlers.NewJobsHandler(d.Jobs, log)
	analyticsHandler := handlers.NewAnalyticsHandler(d.Analytics, log)

	r := mux.NewRouter()

	r.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	}).Methods(http.MethodGet)

	a := r.PathPrefix("/api").Subrouter()

	a.HandleFunc("/categories", categoriesHandler.ListCategories).Methods(http.MethodGet)
	a.HandleFunc("/categories", categoriesHandler.CreateCategory).Methods(http.MethodPost)
	a.HandleFunc("/categories/{id}", categoriesHandler.UpdateCategory).Methods(http.MethodPut)
	a.HandleFunc("/categories/{id}", categoriesHandler.DeleteCategory).Methods(http.MethodDelete)

	// export and import are registered before {id} so they are not taken as ids
	a.HandleFunc("/rules/export", rulesHandler.ExportRules).Methods(http.MethodGet)
	a.HandleFunc("/rules/import", rulesHandler.ImportRules).Methods(http.MethodPost)
	a.HandleFunc("/rules", rulesHandler.ListRules).Methods(http.MethodGet)
	a.HandleFunc("/rules", rulesHandler.CreateRule).Methods(http.MethodPost)
	a.HandleFunc("/rules/{id}", rulesHandler.UpdateRule).Methods(http.MethodPut)
	a.HandleFunc("/rules/{id}", rulesHandler.DeleteRule).Methods(http.MethodDelete)

	a.HandleFunc("/accounts", accountsHandler.ListAccounts).Methods(http.MethodGet)
	a.HandleFunc("/accounts", accountsHandler.CreateAccount).Methods(http.MethodPost)

	a.HandleFunc("/transactions", transactionsHandler.ListTransactions).Methods(http.MethodGet)
	a.HandleFunc("/transactions/{id}/category", transactionsHandler.UpdateCategory).Methods(http.MethodPatch)
	a.HandleFunc("/transactions/bulk-categorize", transactionsHandler.BulkCategorize).Methods(http.MethodPost)
	a.HandleFunc("/transactions/bulk-categorize-by-rules", transactionsHandler.BulkCategorizeByRules).Methods(http.MethodPost)
	a.HandleFunc("/transactions/bulk-categorize-by-ai", transactionsHandler.BulkCategorizeByAI).Methods(http.MethodPost)
	a.HandleFunc("/transactions/delete-all", settingsHandler.DeleteAll).Methods(http.MethodPost)

	a.HandleFunc("/import", importsHandler.Import).Methods(http.MethodPost)
	a.HandleFunc("/imports", importsHandler.ListImports).Methods(http.MethodGet)

	a.HandleFunc("/settings/backup", settingsHandler.Backup).Methods(http.MethodGet)
	a.HandleFunc("/settings/restore", settingsHandler.Restore).Methods(http.MethodPost)
	a.HandleFunc("/debug/data-check", settingsHandler.DataCheck).Methods(http.MethodGet)

	a.HandleFunc("/analytics/summary", analyticsHandler.Summary).Methods(http.MethodGet)
	a.HandleFunc("/analytics/spending-over-time", analyticsHandler.SpendingOverTime).Methods(http.MethodGet)
	a.HandleFunc("/analytics/category-trends", analyticsHandler.CategoryTrends).Methods(http.MethodGet)

	a.HandleFunc("/jobs", jobsHandler.ListJobs).Methods(http.MethodGet)
	a.HandleFunc("/jobs/{id}", jobsHandler.GetJob).Methods(http.MethodGet)

	// Apply middleware chain
	return middleware.Recovery(log)(
		middleware.RequestID(
			middleware.Logger(log)(
				middleware.CORS(
					middleware.Auth("/health")(r),
				),
			),
		),
	)
}
