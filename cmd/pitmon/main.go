package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"pitmon/config"
	"pitmon/internal/api"
	"pitmon/internal/core"
	"pitmon/internal/logging"
	"pitmon/internal/scheduler"
	"pitmon/internal/storage/sqlite"
)

const (
	shutdownTimeout   = 10 * time.Second
	defaultConfigPath = "config.json"
)

func main() {
	if err := run(); err != nil {
		log.Fatalf("Application error: %v", err)
	}
}

func run() error {
	// Parse command-line flags
	configPath := flag.String("config", defaultConfigPath, "Path to configuration file")
	useEnv := flag.Bool("env", false, "Load configuration from environment variables")
	flag.Parse()

	// Load configuration
	var cfg *config.Config
	var err error

	if *useEnv {
		cfg, err = config.LoadFromEnv()
	} else {
		cfg, err = config.Load(*configPath)
	}

	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	logger := logging.New(cfg.Logging.Level, cfg.Logging.Format)

	// Initialize database
	logger.Info("Initializing SQLite database", "path", cfg.Database.Path)
	db, err := sqlite.New(cfg.Database.Path)
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer db.Close()

	// Write-behind persistence: in-memory state stays authoritative, flushes
	// are retried on failure
	persister := core.NewPersister(db, time.Duration(cfg.Detection.PersistIntervalSec)*time.Second, logger)
	go persister.Start()

	// Session tracker: baseline, detection, aggregation, lifecycle
	baseline := core.NewBaselineTracker(cfg.Detection.BaselineWindowSize, cfg.Detection.BaselineMinSamples)
	tracker := core.NewTracker(cfg.DetectorConfig(), baseline, persister, logger)

	// Stale session cleanup
	logger.Info("Starting cleanup scheduler")
	sched := scheduler.NewScheduler(tracker, time.Duration(cfg.Detection.CleanupIntervalMin)*time.Minute, logger)
	go sched.Start()

	// REST API
	router := api.NewRouter(api.RouterConfig{
		Storage: db,
		Tracker: tracker,
		APIKey:  cfg.Security.APIKey,
		Logger:  logger,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in a goroutine
	serverErrors := make(chan error, 1)
	go func() {
		logger.Info("Starting HTTP server", "host", cfg.Server.Host, "port", cfg.Server.Port)
		serverErrors <- server.ListenAndServe()
	}()

	// Wait for interrupt signal or server error
	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

	select {
	case err := <-serverErrors:
		return fmt.Errorf("server error: %w", err)

	case sig := <-shutdown:
		logger.Info("Starting graceful shutdown", "signal", sig.String())

		sched.Stop()
		persister.Stop()

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server shutdown error: %w", err)
		}

		logger.Info("Graceful shutdown complete")
	}

	return nil
}
