// Package main applies the embedded SQL migrations to DATABASE_URL.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archon-research/token-cache/db/migrations"
	"github.com/archon-research/token-cache/db/migrator"
	"github.com/archon-research/token-cache/internal/adapters/outbound/postgres"
	"github.com/archon-research/token-cache/internal/pkg/env"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: env.ParseLogLevel(slog.LevelInfo),
	}))

	if err := run(ctx, logger); err != nil {
		logger.Error("migration failed", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, logger *slog.Logger) error {
	if err := env.LoadDotEnv(); err != nil {
		return err
	}
	dbURL := env.Get("DATABASE_URL", "")
	if dbURL == "" {
		return fmt.Errorf("required environment variable not set: DATABASE_URL")
	}

	poolCfg := postgres.PoolConfigDefaults(dbURL)
	poolCfg.ApplicationName = "token-cache-migrate"
	poolCfg.MaxConns = 2
	pool, err := postgres.OpenPool(ctx, poolCfg)
	if err != nil {
		return err
	}
	defer pool.Close()

	m := migrator.New(pool, migrations.FS, logger)
	if err := m.ApplyAll(ctx); err != nil {
		return err
	}

	applied, err := m.ListApplied(ctx)
	if err != nil {
		return err
	}
	logger.Info("all migrations up to date", "applied", len(applied))
	return nil
}
