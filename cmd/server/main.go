// Package main is the entrypoint for the bugnest API server.
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

	"github.com/kiranshivaraju/bugnest/internal/api"
	"github.com/kiranshivaraju/bugnest/internal/api/handler"
	mw "github.com/kiranshivaraju/bugnest/internal/api/middleware"
	"github.com/kiranshivaraju/bugnest/internal/api/response"
	"github.com/kiranshivaraju/bugnest/internal/cache"
	"github.com/kiranshivaraju/bugnest/internal/config"
	"github.com/kiranshivaraju/bugnest/internal/dispatch"
	"github.com/kiranshivaraju/bugnest/internal/issue"
	"github.com/kiranshivaraju/bugnest/internal/metrics"
	"github.com/kiranshivaraju/bugnest/internal/notice"
	"github.com/kiranshivaraju/bugnest/internal/notify"
	"github.com/kiranshivaraju/bugnest/internal/pipeline"
	"github.com/kiranshivaraju/bugnest/internal/store"
	"github.com/kiranshivaraju/bugnest/internal/trend"
)

const (
	shutdownTimeout = 30 * time.Second
	// dashboardRequestsPerMinute bounds authenticated API calls per key.
	dashboardRequestsPerMinute = 120
)

var logLevel = new(slog.LevelVar)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{
		Level: logLevel,
	}))
	slog.SetDefault(logger)

	if err := run(); err != nil {
		slog.Error("server failed", "error", err)
		os.Exit(1)
	}
}

func run() error {
	// 1. Load config, fail fast on invalid config
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := logLevel.UnmarshalText([]byte(cfg.Server.LogLevel)); err != nil {
		return fmt.Errorf("set log level: %w", err)
	}
	slog.Info("config loaded",
		"env", cfg.Server.Env,
		"silence_backend", cfg.Notifier.SilenceBackend,
		"email_provider", cfg.Notifier.EmailProvider,
	)

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
	if err := store.RunMigrations(cfg.Database.URL); err != nil {
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

	// 5. Domain services
	pgStore := store.NewPostgresStore(pool)

	aggregator := issue.NewAggregator(pgStore, cache.NewRedisLocker(redisCache.Client()), cfg.Pipeline.LockTTL)
	severity := issue.NewSeverityPolicy(cfg.Severity.SeriousTypes, cfg.Severity.WarningTypes)
	issues := issue.NewService(pgStore)
	trends := trend.NewService(pgStore, redisCache, cfg.Trend.CacheTTL)

	silence, err := notify.NewSilenceStore(cfg.Notifier, pgStore, redisCache.Client())
	if err != nil {
		return fmt.Errorf("create silence store: %w", err)
	}
	rules := notify.NewRuleService(pgStore)
	matcher := notify.NewMatcher(silence)

	emailSender, err := dispatch.NewEmailSender(cfg.Notifier)
	if err != nil {
		return fmt.Errorf("create email sender: %w", err)
	}
	dispatcher := dispatch.NewDispatcher(
		notice.NewRenderer(cfg.Server.PublicURL),
		emailSender,
		dispatch.NewHTTPWebhookSender(cfg.Notifier.WebhookTimeout, cfg.Notifier.WebhookMaxRetries),
		cache.NewBrowserPublisher(redisCache.Client()),
	)

	processor := pipeline.NewProcessor(pgStore, aggregator, severity, rules, matcher, dispatcher, cfg.Pipeline)
	jobs := pipeline.NewPool(cfg.Pipeline.Workers, cfg.Pipeline.QueueSize)
	slog.Info("pipeline started", "workers", cfg.Pipeline.Workers, "queue_size", cfg.Pipeline.QueueSize)

	// 6. Build router with dependencies
	deps := api.Dependencies{
		Auth:      mw.NewAuth(pgStore),
		RateLimit: mw.NewRateLimit(redisCache, dashboardRequestsPerMinute),

		HealthHandler:  healthHandler(pgStore, redisCache),
		MetricsHandler: metrics.Handler(),
		IngestHandler:  handler.NewIngestHandler(processor, jobs, mw.NewRateLimit(redisCache, cfg.RateLimit.PerMinute)),

		ListIssues:    handler.NewListIssuesHandler(issues),
		GetIssue:      handler.NewGetIssueHandler(issues),
		DeleteIssue:   handler.NewDeleteIssueHandler(issues),
		LatestEvent:   handler.NewLatestEventHandler(issues),
		IssueTrends:   handler.NewIssueTrendsHandler(trends),
		ProjectTrend:  handler.NewProjectTrendHandler(trends),
		ListRules:     handler.NewListRulesHandler(rules),
		GetRule:       handler.NewGetRuleHandler(rules),
		CreateRule:    handler.NewCreateRuleHandler(rules),
		UpdateRule:    handler.NewUpdateRuleHandler(rules),
		DeleteRule:    handler.NewDeleteRuleHandler(rules),
		GetSetting:    handler.NewGetSettingHandler(rules),
		UpdateSetting: handler.NewUpdateSettingHandler(rules),

		CreateKeyHandler: handler.NewCreateKeyHandler(pgStore),
		ListKeysHandler:  handler.NewListKeysHandler(pgStore),
		RevokeKeyHandler: handler.NewRevokeKeyHandler(pgStore),
	}

	router := api.NewRouter(deps)

	// 7. Start HTTP server
	addr := fmt.Sprintf(":%d", cfg.Server.Port)
	srv := &http.Server{
		Addr:         addr,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Second,
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
	select {
	case err := <-errCh:
		return fmt.Errorf("server error: %w", err)
	case <-ctx.Done():
		slog.Info("shutdown signal received, draining connections...")
	}

	// Graceful shutdown with timeout
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("server shutdown: %w", err)
	}

	// No new events can arrive now; let queued notifications finish.
	if err := jobs.Stop(shutdownCtx); err != nil {
		slog.Warn("pipeline drain incomplete", "error", err)
	}

	slog.Info("server stopped gracefully")
	return nil
}

// Pinger is anything health-checked by a round trip.
type Pinger interface {
	Ping(ctx context.Context) error
}

// healthHandler checks database and cache connectivity.
func healthHandler(db, c Pinger) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{
			"database": "ok",
			"cache":    "ok",
		}

		if err := db.Ping(r.Context()); err != nil {
			checks["database"] = "degraded"
		}
		if err := c.Ping(r.Context()); err != nil {
			checks["cache"] = "degraded"
		}

		degraded := checks["database"] != "ok" || checks["cache"] != "ok"
		if degraded {
			response.Error(w, http.StatusServiceUnavailable, "DEGRADED",
				"One or more services degraded", checks)
			return
		}

		response.JSON(w, map[string]any{
			"status":   "ok",
			"services": checks,
		})
	}
}
