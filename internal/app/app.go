// Package app builds the services shared by the api, worker and cli binaries.
package app

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/rs/zerolog"

	"github.com/dvloznov/spendalizer/internal/ai"
	"github.com/dvloznov/spendalizer/internal/analytics"
	"github.com/dvloznov/spendalizer/internal/api"
	"github.com/dvloznov/spendalizer/internal/archivestore"
	"github.com/dvloznov/spendalizer/internal/backup"
	"github.com/dvloznov/spendalizer/internal/categories"
	"github.com/dvloznov/spendalizer/internal/categorize"
	"github.com/dvloznov/spendalizer/internal/config"
	infraBQ "github.com/dvloznov/spendalizer/internal/infra/bigquery"
	"github.com/dvloznov/spendalizer/internal/infra/sqlite"
	"github.com/dvloznov/spendalizer/internal/jobs"
	jobsmem "github.com/dvloznov/spendalizer/internal/jobs/inmemory"
	"github.com/dvloznov/spendalizer/internal/maintenance"
	"github.com/dvloznov/spendalizer/internal/pipeline"
	"github.com/dvloznov/spendalizer/internal/rules"
	"github.com/dvloznov/spendalizer/internal/store"
	"github.com/dvloznov/spendalizer/internal/store/inmemory"
)

// App holds the wired services.
type App struct {
	Config config.Config
	Log    zerolog.Logger

	Store    store.Store
	Archives archivestore.Store

	Categories  *categories.Service
	Rules       *rules.Service
	Resolver    *categorize.Resolver
	Importer    *pipeline.Importer
	Serializer  *backup.Serializer
	Reconciler  *backup.Reconciler
	Maintenance *maintenance.Service
	Analytics   *analytics.Service

	JobStore *jobsmem.Store
	Queue    *jobsmem.Queue
	Runner   *jobs.Runner
}

// New opens storage, ensures the system categories exist and builds every
// service. The caller must Close the returned App.
func New(ctx context.Context, cfg config.Config, log zerolog.Logger) (*App, error) {
	s, err := OpenStore(ctx, cfg.Storage, log)
	if err != nil {
		return nil, err
	}

	a := &App{Config: cfg, Log: log, Store: s}
	if err := a.init(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) init(ctx context.Context) error {
	cfg, log := a.Config, a.Log

	defs, err := categories.LoadDefinitions(cfg.Categories.SystemFile)
	if err != nil {
		return fmt.Errorf("app: %w", err)
	}
	if _, err := categories.EnsureSystemCategories(ctx, a.Store, defs, log); err != nil {
		return fmt.Errorf("app: %w", err)
	}

	a.Archives, err = archivestore.New(ctx, cfg.Archive)
	if err != nil {
		return fmt.Errorf("app: opening archive store: %w", err)
	}

	categorizer, err := newCategorizer(ctx, cfg.AI, log)
	if err != nil {
		return err
	}
	guard := ai.NewGuard(categorizer, cfg.AI.Timeout, cfg.AI.MinConfidence, log)

	a.Categories = categories.NewService(a.Store, log)
	a.Rules = rules.NewService(a.Store, log)
	a.Resolver = categorize.NewResolver(a.Store, rules.NewMatcher(log), guard, cfg.AI.Concurrency, log)
	a.Importer = pipeline.NewImporter(a.Store, a.Resolver, log)
	a.Serializer = backup.NewSerializer(a.Store, log)
	a.Reconciler = backup.NewReconciler(a.Store, a.Archives, log)
	a.Maintenance = maintenance.NewService(a.Store, log)
	a.Analytics = analytics.NewService(a.Store, log)

	a.JobStore = jobsmem.NewStore()
	a.Queue = jobsmem.NewQueue(cfg.Jobs.Buffer, cfg.Jobs.Workers, a.JobStore, log)
	a.Runner = jobs.NewRunner(a.Serializer, a.Archives, a.Resolver, log)
	return nil
}

// RouterDeps returns the services the HTTP routes need.
func (a *App) RouterDeps() api.Deps {
	return api.Deps{
		Store:       a.Store,
		Categories:  a.Categories,
		Rules:       a.Rules,
		Resolver:    a.Resolver,
		Importer:    a.Importer,
		Serializer:  a.Serializer,
		Reconciler:  a.Reconciler,
		Maintenance: a.Maintenance,
		Analytics:   a.Analytics,
		Publisher:   a.Queue,
		Jobs:        a.JobStore,
	}
}

// Close releases the queue, archive store and record store.
func (a *App) Close() error {
	var errs []error
	if a.Queue != nil {
		errs = append(errs, a.Queue.Close())
	}
	if a.Archives != nil {
		errs = append(errs, a.Archives.Close())
	}
	if a.Store != nil {
		errs = append(errs, a.Store.Close())
	}
	return errors.Join(errs...)
}

// OpenStore opens the record store selected by cfg.
func OpenStore(ctx context.Context, cfg config.StorageConfig, log zerolog.Logger) (store.Store, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if err := os.MkdirAll(filepath.Dir(cfg.SQLite.Path), 0o755); err != nil {
			return nil, fmt.Errorf("OpenStore: creating database directory: %w", err)
		}
		s, err := sqlite.Open(cfg.SQLite.Path)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		log.Info().Str("path", cfg.SQLite.Path).Msg("Using SQLite store")
		return s, nil
	case config.DriverBigQuery:
		s, err := infraBQ.NewStore(ctx, cfg.BigQuery.Project, cfg.BigQuery.Dataset, log)
		if err != nil {
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		if err := s.EnsureSchema(ctx); err != nil {
			s.Close()
			return nil, fmt.Errorf("OpenStore: %w", err)
		}
		log.Info().Str("project", cfg.BigQuery.Project).Str("dataset", cfg.BigQuery.Dataset).Msg("Using BigQuery store")
		return s, nil
	case config.DriverMemory:
		log.Warn().Msg("Using in-memory store; data is lost on exit")
		return inmemory.NewStore(), nil
	default:
		return nil, fmt.Errorf("OpenStore: unknown storage driver %q", cfg.Driver)
	}
}

func newCategorizer(ctx context.Context, cfg config.AIConfig, log zerolog.Logger) (ai.Categorizer, error) {
	if !cfg.Enabled {
		log.Info().Msg("AI categorization disabled")
		return ai.Disabled{}, nil
	}
	g, err := ai.NewGemini(ctx, cfg.APIKey(), cfg.Model)
	if err != nil {
		return nil, fmt.Errorf("app: %w", err)
	}
	log.Info().Str("model", cfg.Model).Msg("AI categorization enabled")
	return g, nil
}
