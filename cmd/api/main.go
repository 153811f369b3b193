package main

import (
	"context"
	"net/http"
	"os"

	"github.com/joho/godotenv"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/bakeline/storesync-backend/api/routes"
	"github.com/bakeline/storesync-backend/internal/ledger"
	"github.com/bakeline/storesync-backend/internal/mirror"
	"github.com/bakeline/storesync-backend/internal/outbox"
	"github.com/bakeline/storesync-backend/internal/storeops"
	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/metrics"
	"github.com/bakeline/storesync-backend/pkg/migrate"
	"github.com/bakeline/storesync-backend/pkg/redis"
)

func main() {
	logg := logger.New(logger.Options{ServiceName: "api"})

	if err := godotenv.Load(); err != nil {
		logg.Warn(context.Background(), ".env file not found, relying on environment")
	}

	cfg, err := config.Load()
	if err != nil {
		logg.Error(context.Background(), "failed to load config", err)
		os.Exit(1)
	}

	logg = logger.New(logger.Options{
		ServiceName: "api",
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

	storeID, err := cfg.BoundStoreID()
	if err != nil {
		logg.Error(context.Background(), "failed to resolve bound store", err)
		os.Exit(1)
	}
	storeClient, err := db.Open(cfg.Stores.DSNs[storeID])
	if err != nil {
		logg.Error(context.Background(), "failed to open store database", err)
		os.Exit(1)
	}
	defer func() {
		if err := storeClient.Close(); err != nil {
			logg.Error(context.Background(), "error closing store database", err)
		}
	}()

	ledgerRepo, err := ledger.NewRepository(centralClient)
	exitOnErr(logg, "ledger repository", err)
	mirrorRepo, err := mirror.NewRepository(centralClient)
	exitOnErr(logg, "mirror repository", err)
	outboxRepo, err := outbox.NewRepository(storeClient)
	exitOnErr(logg, "outbox repository", err)
	outboxSvc, err := outbox.NewService(outboxRepo)
	exitOnErr(logg, "outbox service", err)
	storeRepo, err := storeops.NewRepository(storeClient)
	exitOnErr(logg, "storeops repository", err)

	posService, err := storeops.NewService(storeops.ServiceParams{
		StoreID: storeID,
		DB:      storeClient,
		Repo:    storeRepo,
		Outbox:  outboxSvc,
		Logger:  logg,
	})
	exitOnErr(logg, "pos service", err)

	// Manually triggered mirror syncs record ticks on the same registry the
	// router serves at /metrics.
	registry := prometheus.NewRegistry()
	pollerMetrics := metrics.NewPollerMetrics(registry)

	mirrorSvc, err := mirror.NewService(mirror.ServiceParams{
		StoreID:      storeID,
		Logger:       logg,
		Central:      centralClient,
		Repo:         mirrorRepo,
		Source:       storeRepo,
		Metrics:      pollerMetrics,
		PollInterval: cfg.Mirror.PollInterval,
	})
	exitOnErr(logg, "mirror service", err)

	port := os.Getenv("PORT")
	if port == "" {
		port = cfg.App.Port
	}
	addr := ":" + port
	ctx := logg.WithFields(context.Background(), map[string]any{
		"env":      cfg.App.Env,
		"addr":     addr,
		"store_id": storeID,
	})
	logg.Info(ctx, "starting api server")

	server := &http.Server{
		Addr: addr,
		Handler: routes.NewRouter(routes.RouterParams{
			Config:     cfg,
			Logger:     logg,
			Central:    centralClient,
			Redis:      redisClient,
			StoreID:    storeID,
			LedgerRepo: ledgerRepo,
			MirrorRepo: mirrorRepo,
			MirrorSvc:  mirrorSvc,
			OutboxRepo: outboxRepo,
			POSService: posService,
			Gatherer:   registry,
		}),
	}

	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		logg.Error(ctx, "api server stopped unexpectedly", err)
		os.Exit(1)
	}
}

func exitOnErr(logg *logger.Logger, what string, err error) {
	if err == nil {
		return
	}
	logg.Error(context.Background(), "failed to create "+what, err)
	os.Exit(1)
}
