package main

import (
	"context"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dvloznov/spendalizer/internal/api"
	"github.com/dvloznov/spendalizer/internal/app"
	"github.com/dvloznov/spendalizer/internal/config"
	"github.com/dvloznov/spendalizer/internal/logger"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		bootLog := logger.New()
		bootLog.Fatal().Err(err).Msg("Failed to load configuration")
	}

	// Parse command-line flags
	port := flag.String("port", cfg.Server.Port, "HTTP server port")
	flag.Parse()

	// Initialize logger
	log := logger.NewWithOptions(os.Stdout, logger.Options{Level: cfg.Log.Level, Format: cfg.Log.Format})

	ctx := context.Background()

	a, err := app.New(ctx, cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to initialize services")
	}
	defer a.Close()

	// Start job consumer in background
	workerCtx, cancelWorker := context.WithCancel(ctx)
	defer cancelWorker()

	if err := a.Queue.Start(workerCtx, a.Runner.Handle); err != nil {
		log.Fatal().Err(err).Msg("Failed to start job worker")
	}

	// Create HTTP server
	server := &http.Server{
		Addr:         ":" + *port,
		Handler:      api.NewRouter(a.RouterDeps(), log),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	go func() {
		log.Info().Str("port", *port).Str("storage", cfg.Storage.Driver).Msg("Starting API server")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal().Err(err).Msg("Failed to start server")
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Info().Msg("Shutting down server...")

	// Graceful shutdown
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Server forced to shutdown")
	}

	// Stop job queue and wait for in-flight jobs
	if err := a.Queue.Stop(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("Error stopping job queue")
	}
	cancelWorker()

	log.Info().Msg("Server exited")
}
