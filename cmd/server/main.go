// Package main is the entrypoint for the animgen API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/kiranshivaraju/animgen/internal/api"
	mw "github.com/kiranshivaraju/animgen/internal/api/middleware"
	"github.com/kiranshivaraju/animgen/internal/api/response"
	"github.com/kiranshivaraju/animgen/internal/cache"
	"github.com/kiranshivaraju/animgen/internal/config"
	"github.com/kiranshivaraju/animgen/internal/generator/factory"
	"github.com/kiranshivaraju/animgen/internal/orchestrator"
	"github.com/kiranshivaraju/animgen/internal/status"
	"github.com/kiranshivaraju/animgen/internal/store"
	"github.com/kiranshivaraju/animgen/internal/timeline"
	"github.com/kiranshivaraju/animgen/pkg/models"
)

const shutdownTimeout = 30 * time.Second

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, failing fast on invalid values
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	slog.Info("config loaded", "generator", cfg.Generator.Provider, "workers", cfg.Jobs.Workers, "env", cfg.Server.Env)

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

	// 5. Create generator
	gen, err := factory.NewGenerator(cfg.Generator)
	if err != nil {
		return fmt.Errorf("create generator: %w", err)
	}
	slog.Info("generator initialized", "generator", gen.Name())

	// 6. Wire the job pipeline
	pgStore := store.NewPostgresStore(pool)
	timelines := timeline.NewRegistry(pgStore)
	reporter := status.NewReporter(redisCache, pgStore, cfg.Jobs.Retention)
	orch := orchestrator.New(gen, timelines, reporter, reporter, orchestrator.Config{
		Workers:    cfg.Jobs.Workers,
		JobTimeout: cfg.Jobs.Timeout,
		Retention:  cfg.Jobs.Retention,
	})

	bgCtx, stopBackground := context.WithCancel(context.Background())
	defer stopBackground()
	var background sync.WaitGroup
	background.Add(2)
	go func() {
		defer background.Done()
		reporter.Run(bgCtx)
	}()
	go func() {
		defer background.Done()
		orch.Run(bgCtx, cfg.Jobs.JanitorInterval)
	}()

	// 7. Build router with dependencies
	deps := api.Dependencies{
		RateLimit:     mw.NewRateLimit(redisCache, cfg.Server.RateLimitPerMin),
		HealthHandler: healthHandler(pgStore, redisCache, gen, orch),
		Animations:    timelines,
		Jobs:          orch,
	}
	router := api.NewRouter(deps)

	// 8. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 150 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in background
	errCh := make(chan error, 1)
	go func() {
		slog.Info("server listening", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	// Wait for shutdown signal or server error
	var serveErr error
	select {
	case err := <-errCh:
		serveErr = fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Jobs are cancelled after the listener stops so no new work arrives;
	// the reporter stops last to write their final snapshots.
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil && serveErr == nil {
		serveErr = fmt.Errorf("server shutdown: %w", err)
	}
	if err := orch.Shutdown(shutdownCtx); err != nil {
		slog.Warn("orchestrator shutdown incomplete", "error", err)
	}
	stopBackground()
	background.Wait()

	if serveErr != nil {
		return serveErr
	}
	slog.Info("server stopped gracefully")
	return nil
}

type pinger interface {
	Ping(ctx context.Context) error
}

// readier is implemented by generators backed by a remote service.
type readier interface {
	Ready(ctx context.Context) error
}

type statsSource interface {
	Stats() orchestrator.Stats
}

// healthHandler checks database, cache and generator connectivity and reports
// the in-memory job counts.
func healthHandler(s pinger, c pinger, gen models.Generator, jobs statsSource) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database":  "ok",
			"cache":     "ok",
			"generator": "ok",
		}

		if err := s.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}
		if rd, ok := gen.(readier); ok {
			if err := rd.Ready(r.Context()); err != nil {
				checks["generator"] = "degraded"
			}
		}

		for _, v := range checks {
			if v != "ok" {
				response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
					"One or more services degraded", checks)
				return
			}
		}

		response.JSON(w, map[string]any{
			"status":    "ok",
			"generator": gen.Name(),
			"services":  checks,
			"jobs":      jobs.Stats(),
		})
	}
}
