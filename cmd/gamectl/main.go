// Command gamectl boots the gamification engine: it wires storage,
// catalog, the ingest queue, the worker pool, the HTTP collaborator
// surface, and the retention sweeper, the same top-level assembly role the
// teacher's InitModule plays for a Nakama deployment — except here there is
// no host runtime to hand control back to, so gamectl owns its own process
// lifecycle and shutdown.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/voidexforge/gamification-engine/internal/catalog"
	"github.com/voidexforge/gamification-engine/internal/conditions"
	"github.com/voidexforge/gamification-engine/internal/config"
	"github.com/voidexforge/gamification-engine/internal/dryrun"
	"github.com/voidexforge/gamification-engine/internal/executor"
	"github.com/voidexforge/gamification-engine/internal/httpapi"
	"github.com/voidexforge/gamification-engine/internal/log"
	"github.com/voidexforge/gamification-engine/internal/queue"
	"github.com/voidexforge/gamification-engine/internal/ratelimit"
	"github.com/voidexforge/gamification-engine/internal/retention"
	"github.com/voidexforge/gamification-engine/internal/rules"
	"github.com/voidexforge/gamification-engine/internal/storage/postgres"
	"github.com/voidexforge/gamification-engine/internal/userstate"
	"github.com/voidexforge/gamification-engine/internal/worker"
	"github.com/voidexforge/gamification-engine/migrations"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}

	logger, err := log.New(cfg.IsDevelopment())
	if err != nil {
		fmt.Fprintln(os.Stderr, "log:", err)
		os.Exit(1)
	}
	defer logger.Sync()

	if err := run(cfg, logger); err != nil {
		logger.Fatal("gamectl: fatal", zap.Error(err))
	}
}

func run(cfg *config.Config, logger *zap.Logger) error {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := migrations.Run(logger, cfg.DatabaseURL); err != nil {
		return fmt.Errorf("migrations: %w", err)
	}

	pool, err := postgres.Connect(ctx, cfg.DatabaseURL)
	if err != nil {
		return fmt.Errorf("postgres: %w", err)
	}
	defer pool.Close()
	store := postgres.New(pool)

	rdb := redis.NewClient(mustParseRedisURL(cfg.RedisURL))
	defer rdb.Close()

	cat := catalog.New(store, logger)
	if err := cat.Load(ctx); err != nil {
		return fmt.Errorf("catalog: initial load: %w", err)
	}
	go cat.WatchReload(ctx, rdb)

	q := queue.New(store, store, logger, cfg.EventQueue.MaxQueueSize)
	if err := q.Rehydrate(ctx); err != nil {
		return fmt.Errorf("queue: rehydrate: %w", err)
	}

	evaluator := conditions.NewEvaluator(nil)
	engine := rules.New(cat, evaluator, cfg.MaxEvalMs)
	exec := executor.New(store, store, store, cat, logger)

	registry := prometheus.NewRegistry()
	metrics := worker.NewMetrics(registry)

	workerCfg := worker.Config{
		Concurrency:          cfg.EventQueue.MaxConcurrentProcessing,
		EnableRetryOnFailure: cfg.EventQueue.EnableRetryOnFailure,
		MaxRetries:           cfg.EventQueue.MaxRetryAttempts,
		BaseBackoff:          200 * time.Millisecond,
		MaxCascadeDepth:      cfg.EventQueue.MaxCascadeDepth,
		HistoryLookback:      0,
		HistoryMaxCount:      0,
	}
	pool2 := worker.New(workerCfg, q, engine, exec, store, store, store, cat, logger, metrics, newEventID)
	go pool2.Run(ctx)

	hw := rules.NewStoreHistoryWindow(store, 0, 0)
	dr := dryrun.New(hw, store, engine)
	proj := userstate.New(store, store, store, cat)

	var limiterMW func(http.Handler) http.Handler
	limiter := ratelimit.New(rdb, logger, true, 600)
	limiterMW = limiter.Middleware

	server := httpapi.New(q, dr, proj, store, cat, logger, limiterMW)

	mux := http.NewServeMux()
	mux.Handle("/", server.Router())
	mux.Handle("/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	httpServer := &http.Server{Addr: cfg.Addr, Handler: mux}

	sweeper := retention.New(retention.Config{
		Schedule:  "0 * * * *",
		Horizon:   time.Duration(cfg.EventRetention.RetentionDays) * 24 * time.Hour,
		BatchSize: cfg.EventRetention.BatchSize,
	}, store, logger)
	if err := sweeper.Start(ctx); err != nil {
		return fmt.Errorf("retention: start: %w", err)
	}
	defer sweeper.Stop()

	go func() {
		logger.Info("gamectl: http listening", zap.String("addr", cfg.Addr))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("gamectl: http server error", zap.Error(err))
		}
	}()

	<-ctx.Done()
	logger.Info("gamectl: shutting down")
	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer shutdownCancel()
	return httpServer.Shutdown(shutdownCtx)
}

func mustParseRedisURL(raw string) *redis.Options {
	opts, err := redis.ParseURL(raw)
	if err != nil {
		opts = &redis.Options{Addr: "localhost:6379"}
	}
	return opts
}

var idCounter uint64

func newEventID() string {
	idCounter++
	return fmt.Sprintf("hist-%d-%d", time.Now().UnixNano(), idCounter)
}
