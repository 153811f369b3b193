package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/bakeline/storesync-backend/internal/drain"
	"github.com/bakeline/storesync-backend/internal/ledger"
	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/metrics"
	"github.com/bakeline/storesync-backend/pkg/migrate"
	"github.com/bakeline/storesync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "drain-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "drain-worker"

	logg = logger.New(logger.Options{
		ServiceName: "drain-worker",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	centralClient, err := db.New(context.Background(), cfg.DB, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap central database", err)
		os.Exit(1)
	}
	defer func() {
		if err := centralClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing central database", err)
		}
	}()

	if err := migrate.MaybeRunDev(context.Background(), cfg, logg, centralClient); err != nil {
		logg.Error(context.Background(), "failed to run dev migrations", err)
		os.Exit(1)
	}

	redisClient, err := redis.New(context.Background(), cfg.Redis, logg)
	if err != nil {
		logg.Error(context.Background(), "failed to bootstrap redis", err)
		os.Exit(1)
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing redis", err)
		}
	}()

	registry := prometheus.NewRegistry()
	pollerMetrics := metrics.NewPollerMetrics(registry)

	ledgerRepo, err := ledger.NewRepository(centralClient)
	exitOnErr(logg, "ledger repository", err)
	importer, err := ledger.NewImporter(ledger.ImporterParams{
		DB:     centralClient,
		Repo:   ledgerRepo,
		Logger: logg,
	})
	exitOnErr(logg, "importer", err)
	dlqRepo, err := drain.NewDLQRepository(centralClient)
	exitOnErr(logg, "dlq repository", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting drain worker")

	go serveMetrics(ctx, logg, cfg.App.MetricsPort, registry)

	// One independent poller per configured store; a stuck store slows only
	// itself down.
	var wg sync.WaitGroup
	for storeID, dsn := range cfg.Stores.DSNs {
		storeClient, err := db.Open(dsn)
		if err != nil {
			logg.Error(logg.WithStoreID(ctx, storeID), "failed to open store database", err)
			os.Exit(1)
		}
		defer storeClient.Close()

		queue, err := outbox.NewRepository(storeClient)
		exitOnErr(logg, "outbox repository", err)

		lock, err := drain.NewRedisLock(redisClient, redisClient.LockKey("drain", storeID), cfg.Drain.LockTTL)
		exitOnErr(logg, "drain lock", err)

		service, err := drain.NewService(drain.ServiceParams{
			StoreID:      storeID,
			Logger:       logg,
			Queue:        queue,
			Importer:     importer,
			DLQ:          dlqRepo,
			Lock:         lock,
			Metrics:      pollerMetrics,
			BatchSize:    cfg.Drain.BatchSize,
			MaxAttempts:  cfg.Drain.MaxAttempts,
			PollInterval: cfg.Drain.PollInterval,
		})
		exitOnErr(logg, "drain service", err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "drain poller stopped unexpectedly", err)
			}
		}()
	}

	wg.Wait()
	logg.Info(ctx, "drain worker shutting down gracefully")
}

// serveMetrics exposes the worker's poller metrics over HTTP so Prometheus can
// scrape a binary that has no API surface of its own.
func serveMetrics(ctx context.Context, logg *logger.Logger, port string, gatherer prometheus.Gatherer) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))

	addr := ":" + port
	logg.Info(logg.WithField(ctx, "metrics_addr", addr), "serving metrics")
	if err := http.ListenAndServe(addr, mux); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logg.Error(ctx, "metrics listener stopped unexpectedly", err)
	}
}

func exitOnErr(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
