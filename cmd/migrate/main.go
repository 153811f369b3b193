package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/joho/godotenv"

	"github.com/bakeline/storesync-backend/pkg/config"
	"github.com/bakeline/storesync-backend/pkg/db"
	"github.com/bakeline/storesync-backend/pkg/logger"
	"github.com/bakeline/storesync-backend/pkg/migrate"
)

func main() {
	ctx := context.Background()
	logg := logger.New(logger.Options{ServiceName: "migrate"})

	_ = godotenv.Load()

	cmd := flag.String("cmd", "up", "migration command: up|down|status")
	target := flag.String("target", "central", "which database to migrate: central, or a configured store id")
	flag.Parse()

	cfg, err := config.Load()
	requireResource(ctx, logg, "config", err)

	logg = logger.New(logger.Options{
		ServiceName: "migrate",
		Level:       logger.ParseLevel(cfg.App.LogLevel),
		WarnStack:   cfg.App.LogWarnStack,
	})

	ctx = logg.WithFields(context.Background(), map[string]any{
		"env":    cfg.App.Env,
		"cmd":    *cmd,
		"target": *target,
	})

	dir := migrate.CentralDir
	var client *db.Client
	if *target == "central" {
		client, err = db.New(context.Background(), cfg.DB, logg)
		requireResource(ctx, logg, "central database", err)
	} else {
		dsn, ok := cfg.Stores.DSNs[*target]
		if !ok {
			fmt.Fprintf(os.Stderr, "unknown store id %q\n", *target)
			os.Exit(1)
		}
		dir = migrate.StoreDir
		client, err = db.Open(dsn)
		requireResource(ctx, logg, "store database", err)
	}
	defer client.Close()

	sqlDB, err := client.DB().DB()
	requireResource(ctx, logg, "sql database", err)

	logg.Info(ctx, "migrate ready")

	switch *cmd {
	case "up", "down", "status":
		if err := migrate.Run(ctx, sqlDB, dir, *cmd); err != nil {
			fmt.Fprintf(os.Stderr, "goose %s failed: %v\n", *cmd, err)
			os.Exit(1)
		}
	default:
		fmt.Fprintln(os.Stderr, "unknown -cmd value:", *cmd)
		os.Exit(1)
	}
}

func requireResource(ctx context.Context, logg *logger.Logger, resource string, err error) {
	if err == nil {
		return
	}
	logg.Error(ctx, fmt.Sprintf("resource not working: %s", resource), err)
	os.Exit(1)
}
