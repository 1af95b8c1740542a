package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spendalizer/internal/app"
	"github.com/dvloznov/spendalizer/internal/config"
	"github.com/dvloznov/spendalizer/internal/jobs"
	"github.com/dvloznov/spendalizer/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	runNow := flag.Bool("run-now", false, "Enqueue a backup for every owner at startup")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	if cfg.Backup.Schedule == "" && !*runNow {
		log.Fatal().Msg("backup.schedule is empty; nothing to do")
	}

	// Create context that cancels on interrupt
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	log.Info().Msg("Starting worker service")

	// Start consuming jobs
	if err := a.Queue.Start(ctx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job consumer")
	}

	scheduler := jobs.NewScheduler(a.Store, a.Queue, log)
	if cfg.Backup.Schedule != "" {
		if err := scheduler.Start(ctx, cfg.Backup.Schedule); err != nil {
			log.Fatal().Err(err).Msg("Failed to start backup scheduler")
		}
	}
	if *runNow {
		if _, err := scheduler.EnqueueBackups(ctx); err != nil {
			log.Error().Err(err).Msg("Initial backup run failed")
		}
	}

	log.Info().Msg("Worker service started, waiting for jobs...")

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down worker service...")

	scheduler.Stop()

	// Create shutdown context with timeout
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	// Stop the queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error during graceful shutdown")
	}
	cancel()

	log.Info().Msg("Worker service exited")
}
