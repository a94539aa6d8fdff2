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

	"github.com/Priya8975/hookrelay/internal/api"
	"github.com/Priya8975/hookrelay/internal/cache"
	"github.com/Priya8975/hookrelay/internal/config"
	"github.com/Priya8975/hookrelay/internal/engine"
	"github.com/Priya8975/hookrelay/internal/ledger"
	"github.com/Priya8975/hookrelay/internal/logging"
	"github.com/Priya8975/hookrelay/internal/maintenance"
	"github.com/Priya8975/hookrelay/internal/metrics"
	"github.com/Priya8975/hookrelay/internal/store"
	"github.com/Priya8975/hookrelay/internal/websocket"
	"github.com/Priya8975/hookrelay/internal/worker"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

const (
	memoryCacheSize      = 1024
	memoryEventCacheSize = 10000
)

func main() {
	configPath := flag.String("config", "", "optional config file (.env, yaml or json)")
	flag.Parse()

	if err := run(*configPath); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(configPath string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}
	logger := logging.New(os.Stdout, cfg.LogLevel)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pgStore, err := store.NewPostgres(ctx, cfg.DatabaseURL)
	if err != nil {
		return err
	}
	defer pgStore.Close()
	logger.Info("connected to PostgreSQL")

	if cfg.RunMigrations {
		if err := pgStore.RunMigrations(ctx); err != nil {
			return err
		}
		logger.Info("database migrations applied")
	}

	redisStore, err := store.NewRedis(ctx, cfg.RedisURL)
	if err != nil {
		return err
	}
	defer redisStore.Close()
	rdb := redisStore.Client()
	logger.Info("connected to Redis")

	m := metrics.New(prometheus.DefaultRegisterer)
	queue := store.NewDeliveryQueue(rdb)
	retryQueue := store.NewRetryQueue(rdb)
	metrics.RegisterDepthGauges(prometheus.DefaultRegisterer, queue.Depth, retryQueue.Len)

	var (
		webhookCache engine.WebhookCache
		eventCache   engine.EventCache
	)
	switch cfg.WebhookCache {
	case "memory":
		webhookCache = cache.NewMemoryWebhookCache(memoryCacheSize, cfg.WebhookCacheTTL)
		eventCache = cache.NewMemoryEventCache(memoryEventCacheSize, cfg.EventCacheTTL)
	default:
		webhookCache = cache.NewRedisWebhookCache(rdb, cfg.WebhookCacheTTL)
		eventCache = cache.NewRedisEventCache(rdb, cfg.EventCacheTTL)
	}

	registry := engine.NewRegistry(pgStore, pgStore, webhookCache, logger,
		engine.WithChangeFeed(rdb, store.WebhookChangesChan))
	go func() {
		if err := registry.Listen(ctx); err != nil {
			logger.Error("webhook change feed stopped", "error", err)
		}
	}()

	ingestor := engine.NewIngestor(pgStore, eventCache, queue, m, logger)
	deliveryLedger := ledger.New(pgStore, logger)

	hubCtx, stopHub := context.WithCancel(context.Background())
	defer stopHub()
	hub := websocket.NewHub(logger, cfg.AllowedOrigins...)
	go hub.Run(hubCtx)

	policy := engine.NewRetryPolicy(engine.RetryConfig{
		MaxRetries: cfg.MaxRetries,
		BaseDelay:  cfg.RetryBaseDelay,
		Multiplier: cfg.RetryMultiplier,
	})
	executor := worker.NewExecutor(
		worker.NewHTTPTransport(nil),
		engine.NewSigner(engine.DefaultProduct, engine.DefaultVersion),
		policy, deliveryLedger, hub, m, logger,
		worker.ExecutorConfig{Timeout: cfg.DeliveryTimeout},
	)

	scheduler := worker.NewScheduler(retryQueue, pgStore, registry, deliveryLedger, executor, policy, m, logger,
		worker.SchedulerConfig{
			Tick:         cfg.RetryTick,
			Workers:      cfg.RetryWorkers,
			LeaseTimeout: cfg.RetryLease,
		})
	deliveryWorker := worker.New(queue, pgStore, registry, executor, scheduler, m, logger, worker.Config{
		BlockTimeout: cfg.WorkerBlockTimeout,
		PollInterval: cfg.WorkerPollInterval,
		Concurrency:  cfg.NumWorkers,
	})

	maint := maintenance.New(deliveryLedger, pgStore, queue, m, logger, maintenance.Config{
		PurgeSchedule: cfg.PurgeSchedule,
		Retention:     cfg.LedgerRetention,
		SweepSchedule: cfg.SweepSchedule,
		SweepGrace:    cfg.SweepGrace,
	})

	if err := scheduler.Start(ctx); err != nil {
		return fmt.Errorf("starting retry scheduler: %w", err)
	}
	if err := deliveryWorker.Start(ctx); err != nil {
		return fmt.Errorf("starting delivery worker: %w", err)
	}
	if err := maint.Start(); err != nil {
		return fmt.Errorf("starting maintenance jobs: %w", err)
	}

	router := api.NewRouter(api.Deps{
		Ingestor:   ingestor,
		Events:     pgStore,
		Ledger:     deliveryLedger,
		Retries:    scheduler,
		Webhooks:   registry,
		Counter:    pgStore,
		Hub:        hub,
		Clients:    hub,
		Metrics:    promhttp.Handler(),
		QueueDepth: queue.Depth,
		RetryDepth: retryQueue.Len,
		Checks: map[string]api.Pinger{
			"postgres": pgStore,
			"redis":    redisStore,
		},
		AllowedOrigins: cfg.AllowedOrigins,
		Version:        version,
		Logger:         logger,
	})

	server := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	serverErr := make(chan error, 1)
	go func() {
		logger.Info("server starting", "port", cfg.Port, "version", version)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutdown signal received")
	case err := <-serverErr:
		logger.Error("server error", "error", err)
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown", "error", err)
	}
	if err := deliveryWorker.Stop(shutdownCtx); err != nil {
		logger.Error("delivery worker shutdown", "error", err)
	}
	if err := scheduler.Stop(shutdownCtx); err != nil {
		logger.Error("retry scheduler shutdown", "error", err)
	}
	if err := maint.Stop(shutdownCtx); err != nil {
		logger.Error("maintenance shutdown", "error", err)
	}
	stopHub()

	logger.Info("server stopped")
	return nil
}
