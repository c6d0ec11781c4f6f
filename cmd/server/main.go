/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the till engine server.
  Handles configuration, dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Load configuration (.env, YAML file, TILL_* environment)
  2. Build the zap logger
  3. Initialize SQLite store and seed the till settings
  4. Create the till engine, safe service and report builder
  5. Configure HTTP router
  6. Start the end-of-day report scheduler
  7. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -config  Path to a YAML config file (optional)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop the report scheduler (waits for a running export)
  2. Stop accepting new connections
  3. Wait for active requests to complete (30s timeout)
  4. Close database connection

EXAMPLES:
  # Defaults, till.db in the working directory
  ./server

  # YAML config, overridden from the environment
  TILL_PORT=3000 ./server -config=till.yaml

  # In-memory database
  TILL_DB=":memory:" ./server

SEE ALSO:
  - config/config.go: Configuration keys
  - api/server.go: Router configuration
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/warp/till-engine/api"
	"github.com/warp/till-engine/config"
	"github.com/warp/till-engine/report"
	"github.com/warp/till-engine/safe"
	"github.com/warp/till-engine/store/sqlite"
	"github.com/warp/till-engine/till"
)

func main() {
	configPath := flag.String("config", "", "YAML config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "config: %v\n", err)
		os.Exit(1)
	}

	logger, err := cfg.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func run(cfg config.Config, logger *zap.Logger) error {
	ctx := context.Background()
	zone := cfg.Location()

	// Initialize store
	store, err := sqlite.New(cfg.Server.DBPath)
	if err != nil {
		return fmt.Errorf("initialize database: %w", err)
	}
	defer store.Close()

	if err := store.SeedTillSettings(ctx, cfg.TillSettings()); err != nil {
		return fmt.Errorf("seed till settings: %w", err)
	}

	engine := till.NewEngine(store, till.Config{
		Zone:                    zone,
		MonthlyDiscrepancyLimit: cfg.Till.MonthlyDiscrepancyLimit,
		SignoffThreshold:        cfg.Till.SignoffThreshold,
		Logger:                  logger,
	})
	safes := safe.NewService(store, safe.Config{Logger: logger})
	reports := report.NewBuilder(store, zone, report.Options{
		InitialLookbackDays: cfg.Report.InitialLookbackDays,
		MaxLookbackDays:     cfg.Report.MaxLookbackDays,
		Logger:              logger,
	})

	handler := api.NewHandler(api.Deps{
		Store:   store,
		Engine:  engine,
		Safe:    safes,
		Reports: reports,
		Zone:    zone,
		Logger:  logger,

		Resetter: store,
	})
	router := api.NewRouter(handler, cfg.Server.AllowedOrigins)

	// Report scheduler. An empty schedule disables it.
	if cfg.Report.Schedule != "" {
		sched, err := api.NewReportScheduler(reports, zone, api.SchedulerConfig{
			Schedule:  cfg.Report.Schedule,
			ExportDir: cfg.Report.ExportDir,
			Logger:    logger,
		})
		if err != nil {
			return err
		}
		sched.Start()
		defer sched.Stop()
	}

	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Server.Port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server starting",
			zap.Int("port", cfg.Server.Port),
			zap.String("db", cfg.Server.DBPath),
			zap.String("zone", zone.Offset()))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	select {
	case err, ok := <-errCh:
		if ok {
			return err
		}
		return nil
	case <-quit:
	}

	logger.Info("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("forced shutdown: %w", err)
	}

	logger.Info("server stopped")
	return nil
}
