// Package main is the entrypoint for the data enricher API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/SnowballHQ/data-enricher/internal/api"
	"github.com/SnowballHQ/data-enricher/internal/api/handler"
	mw "github.com/SnowballHQ/data-enricher/internal/api/middleware"
	"github.com/SnowballHQ/data-enricher/internal/cache"
	"github.com/SnowballHQ/data-enricher/internal/config"
	"github.com/SnowballHQ/data-enricher/internal/enrich"
	"github.com/SnowballHQ/data-enricher/internal/jobs"
	"github.com/SnowballHQ/data-enricher/internal/processor"
	"github.com/SnowballHQ/data-enricher/internal/scrape"
	"github.com/SnowballHQ/data-enricher/internal/sheets"
	"github.com/SnowballHQ/data-enricher/internal/store"
)

const (
	shutdownTimeout = 30 * time.Second
	retentionSweep  = 6 * time.Hour
	requestsPerMin  = 60
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(logger); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run(logger *slog.Logger) error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded",
		"enrich_provider", cfg.Enrich.Provider,
		"max_workers", cfg.Jobs.MaxWorkers,
		"env", cfg.Server.Env)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// 2. Connect to database
	pool, err := store.Connect(ctx, cfg.Database)
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()
	slog.Info("database connected")

	// 3. Run migrations
	if err := store.RunMigrations(cfg.Database.URL, "migrations"); err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	slog.Info("database migrations applied")

	// 4. Create Redis cache
	redisCache, err := cache.NewRedisCache(cfg.Redis.URL)
	if err != nil {
		return fmt.Errorf("create redis cache: %w", err)
	}
	defer redisCache.Close()

	if err := redisCache.Ping(ctx); err != nil {
		return fmt.Errorf("ping redis: %w", err)
	}
	slog.Info("redis connected")

	// 5. Create enrichment provider
	enricher, err := enrich.NewEnricher(cfg.Enrich)
	if err != nil {
		return fmt.Errorf("create enrichment provider: %w", err)
	}
	slog.Info("enrichment provider initialized", "provider", enricher.Name())

	// 6. Create store, sheet source, and scraper
	pgStore := store.NewPostgresStore(pool)
	sheetSource := sheets.NewHTTPClient(cfg.Sheets.BaseURL, cfg.Sheets.Token, cfg.Sheets.Timeout)
	scraper := scrape.NewHTTPScraper(cfg.Sheets.Timeout)

	// 7. Start the job manager
	manager := jobs.NewManager(pgStore, redisCache, processor.Deps{
		Source:          sheetSource,
		Enricher:        enricher,
		Scraper:         scraper,
		Logger:          logger,
		RowDelay:        cfg.Jobs.RowDelay,
		TextConcurrency: cfg.Jobs.TextConcurrency,
		EnrichTimeout:   cfg.Enrich.Timeout,
	}, cfg.Jobs, logger)

	if err := manager.Start(ctx); err != nil {
		return fmt.Errorf("start job manager: %w", err)
	}
	defer manager.Stop()
	slog.Info("job manager started", "workers", cfg.Jobs.MaxWorkers)

	// 8. Retention cleanup in the background
	go retentionLoop(ctx, pgStore, cfg.Jobs.RetentionDays)

	// 9. Build router with dependencies
	deps := api.Dependencies{
		RateLimit: mw.NewRateLimit(redisCache, requestsPerMin),

		HealthHandler: handler.NewHealthHandler(map[string]func(context.Context) error{
			"database": pgStore.Ping,
			"cache":    redisCache.Ping,
		}),
		CreateJobHandler: handler.NewCreateJobHandler(manager),
		ListJobsHandler:  handler.NewListJobsHandler(manager),
		GetJobHandler:    handler.NewGetJobHandler(manager),
		JobLogsHandler:   handler.NewJobLogsHandler(manager),
		PauseHandler:     handler.NewJobActionHandler(manager, manager.Pause),
		ResumeHandler:    handler.NewJobActionHandler(manager, manager.Resume),
		CancelHandler:    handler.NewJobActionHandler(manager, manager.Cancel),
		DeleteJobHandler: handler.NewDeleteJobHandler(manager),
		StatsHandler:     handler.NewStatsHandler(manager),
		QueueHandler:     handler.NewQueueHandler(manager),
	}

	router := api.NewRouter(deps)

	// 10. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// retentionLoop periodically deletes terminal jobs older than the
// configured retention window.
func retentionLoop(ctx context.Context, s store.Store, days int) {
	ticker := time.NewTicker(retentionSweep)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			n, err := s.CleanupOlderThan(ctx, days)
			if err != nil {
				slog.Error("retention cleanup failed", "error", err)
				continue
			}
			if n > 0 {
				slog.Info("retention cleanup", "deleted", n, "older_than_days", days)
			}
		}
	}
}
