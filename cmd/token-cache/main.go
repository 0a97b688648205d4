// Package main looks up one token through the cache tiers and prints the
// cached entry as JSON.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/archon-research/token-cache/internal/adapters/outbound/telemetry"
	"github.com/archon-research/token-cache/internal/bootstrap"
	"github.com/archon-research/token-cache/internal/domain/entity"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:], os.Stdout); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	key     entity.HashKey
	source  string
	refresh bool
	forget  bool
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("token-cache", flag.ContinueOnError)
	chainID := fs.Int64("chain", 1, "Chain ID")
	address := fs.String("address", "", "ERC20 token address")
	source := fs.String("source", "", "Origin to fetch from on a miss: rpc or api (default TOKEN_CACHE_SOURCE)")
	refresh := fs.Bool("refresh", false, "Re-read the total supply from the origin")
	forget := fs.Bool("forget", false, "Remove the token from the cache instead of looking it up")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	if *address == "" {
		return cliConfig{}, fmt.Errorf("token address not provided (use -address flag)")
	}
	if *refresh && *forget {
		return cliConfig{}, fmt.Errorf("-refresh and -forget are mutually exclusive")
	}
	key, err := entity.NewHashKey(*chainID, *address)
	if err != nil {
		return cliConfig{}, err
	}

	return cliConfig{key: key, source: *source, refresh: *refresh, forget: *forget}, nil
}

func run(ctx context.Context, args []string, out io.Writer) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}

	cfg, err := loadConfig(cli.source)
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)

	if cfg.OTLPEndpoint != "" {
		shutdown, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
			ServiceName:  "token-cache",
			Environment:  cfg.Environment,
			OTLPEndpoint: cfg.OTLPEndpoint,
		})
		if err != nil {
			return fmt.Errorf("initializing tracer: %w", err)
		}
		defer func() {
			if err := shutdown(context.Background()); err != nil {
				logger.Warn("tracer shutdown failed", "error", err)
			}
		}()
	}

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring token cache: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("closing connections", "error", err)
		}
	}()

	if cli.forget {
		if err := app.Service.Forget(ctx, cli.key); err != nil {
			return fmt.Errorf("forgetting %s: %w", cli.key.Address.Hex(), err)
		}
		logger.Info("token removed from cache", "hashKey", cli.key.Value)
		return nil
	}

	var entry *entity.CacheEntry
	if cli.refresh {
		entry, err = app.Service.RefreshTotalSupply(ctx, cli.key)
	} else {
		entry, err = app.Service.GetOrAdd(ctx, cli.key)
	}
	if err != nil {
		var qe *entity.QueryError
		if errors.As(err, &qe) {
			return fmt.Errorf("token metadata unusable: %w", err)
		}
		return fmt.Errorf("looking up %s: %w", cli.key.Address.Hex(), err)
	}

	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")
	return enc.Encode(entry)
}

func loadConfig(sourceOverride string) (bootstrap.Config, error) {
	cfg, err := bootstrap.ParseConfig()
	if err != nil {
		return bootstrap.Config{}, err
	}
	if sourceOverride != "" {
		cfg.Source = sourceOverride
	}
	return cfg, cfg.Validate()
}
