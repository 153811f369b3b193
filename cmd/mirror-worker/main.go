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
	"github.com/bakeline/storesync-backend/internal/mirror"
	"github.com/bakeline/storesync-backend/internal/storeops"
	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/metrics"
	"github.com/bakeline/storesync-backend/pkg/migrate"
	"github.com/bakeline/storesync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "mirror-worker"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	cfg.Service.Kind = "mirror-worker"

	logg = logger.New(logger.Options{
		ServiceName: "mirror-worker",
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

	mirrorRepo, err := mirror.NewRepository(centralClient)
	exitOnErr(logg, "mirror repository", err)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()
	ctx = logg.WithFields(ctx, map[string]any{
		"env":         cfg.App.Env,
		"serviceKind": cfg.Service.Kind,
	})
	logg.Info(ctx, "starting mirror worker")

	go serveMetrics(ctx, logg, cfg.App.MetricsPort, registry)

	// One independent pull loop per configured store.
	var wg sync.WaitGroup
	for storeID, dsn := range cfg.Stores.DSNs {
		storeClient, err := db.Open(dsn)
		if err != nil {
			logg.Error(logg.WithStoreID(ctx, storeID), "failed to open store database", err)
			os.Exit(1)
		}
		defer storeClient.Close()

		storeRepo, err := storeops.NewRepository(storeClient)
		exitOnErr(logg, "storeops repository", err)

		lock, err := drain.NewRedisLock(redisClient, redisClient.LockKey("mirror", storeID), cfg.Mirror.LockTTL)
		exitOnErr(logg, "mirror lock", err)

		service, err := mirror.NewService(mirror.ServiceParams{
			StoreID:      storeID,
			Logger:       logg,
			Central:      centralClient,
			Repo:         mirrorRepo,
			Source:       storeRepo,
			Lock:         lock,
			Metrics:      pollerMetrics,
			PollInterval: cfg.Mirror.PollInterval,
		})
		exitOnErr(logg, "mirror service", err)

		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := service.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				logg.Error(ctx, "mirror poller stopped unexpectedly", err)
			}
		}()
	}

	wg.Wait()
	logg.Info(ctx, "mirror worker shutting down gracefully")
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
