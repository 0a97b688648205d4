// Package main runs the SQS cache warmer: every queued {chainId, address}
// request is resolved through the token cache so later lookups are hits.
// It also serves health probes and a read-through lookup endpoint.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sqs"

	httpadapter "github.com/archon-research/token-cache/internal/adapters/inbound/http"
	sqsadapter "github.com/archon-research/token-cache/internal/adapters/outbound/sqs"
	"github.com/archon-research/token-cache/internal/adapters/outbound/telemetry"
	"github.com/archon-research/token-cache/internal/bootstrap"
	"github.com/archon-research/token-cache/internal/pkg/env"
	"github.com/archon-research/token-cache/internal/services/cache_warmer"
)

func main() {
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, os.Args[1:]); err != nil {
		slog.Error("fatal", "error", err)
		os.Exit(1)
	}
}

type cliConfig struct {
	queueURL    string
	sqsEndpoint string
	httpAddr    string
}

func parseFlags(args []string) (cliConfig, error) {
	fs := flag.NewFlagSet("cache-warmer", flag.ContinueOnError)
	queueURL := fs.String("queue", "", "SQS Queue URL")
	httpAddr := fs.String("http", "", "Health and lookup listen address (default HTTP_ADDR or :8080)")
	if err := fs.Parse(args); err != nil {
		return cliConfig{}, err
	}

	cfg := cliConfig{
		queueURL:    *queueURL,
		httpAddr:    *httpAddr,
		sqsEndpoint: env.Get("AWS_SQS_ENDPOINT", ""),
	}
	if cfg.queueURL == "" {
		cfg.queueURL = env.Get("AWS_SQS_QUEUE_URL", "")
	}
	if cfg.queueURL == "" {
		return cliConfig{}, fmt.Errorf("queue URL not provided (use -queue flag or AWS_SQS_QUEUE_URL env var)")
	}
	if cfg.httpAddr == "" {
		cfg.httpAddr = env.Get("HTTP_ADDR", ":8080")
	}
	return cfg, nil
}

func run(ctx context.Context, args []string) error {
	cli, err := parseFlags(args)
	if err != nil {
		return err
	}
	cfg, err := bootstrap.LoadConfig()
	if err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: cfg.Level()}))
	slog.SetDefault(logger)
	logger.Info("starting cache warmer", "queue", cli.queueURL, "source", cfg.Source, "tiers", cfg.DurableTiers)

	shutdownTracer, err := telemetry.InitTracer(ctx, telemetry.TracerConfig{
		ServiceName:  "cache-warmer",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing tracer: %w", err)
	}
	shutdownMetrics, err := telemetry.InitMetrics(ctx, telemetry.MetricConfig{
		ServiceName:  "cache-warmer",
		Environment:  cfg.Environment,
		OTLPEndpoint: cfg.OTLPEndpoint,
	})
	if err != nil {
		return fmt.Errorf("initializing metrics: %w", err)
	}
	defer func() {
		flushCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := shutdownMetrics(flushCtx); err != nil {
			logger.Warn("metrics shutdown failed", "error", err)
		}
		if err := shutdownTracer(flushCtx); err != nil {
			logger.Warn("tracer shutdown failed", "error", err)
		}
	}()

	app, err := bootstrap.Build(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("wiring token cache: %w", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			logger.Warn("closing connections", "error", err)
		}
	}()

	awsCfg, err := bootstrap.LoadAWSConfig(ctx, cfg.AWSRegion, cli.sqsEndpoint)
	if err != nil {
		return err
	}
	var sqsOptFns []func(*sqs.Options)
	if cli.sqsEndpoint != "" {
		sqsOptFns = append(sqsOptFns, func(o *sqs.Options) {
			o.BaseEndpoint = aws.String(cli.sqsEndpoint)
		})
	}
	consumer, err := sqsadapter.NewConsumer(awsCfg, sqsadapter.Config{
		QueueURL:        cli.queueURL,
		WaitTimeSeconds: sqsadapter.ConfigDefaults().WaitTimeSeconds,
	}, logger, sqsOptFns...)
	if err != nil {
		return fmt.Errorf("creating SQS consumer: %w", err)
	}
	defer consumer.Close()

	warmer, err := cache_warmer.NewService(cache_warmer.Config{Logger: logger}, consumer, app.Service)
	if err != nil {
		return fmt.Errorf("creating cache warmer: %w", err)
	}

	var shuttingDown atomic.Bool
	server := httpadapter.NewServer(httpadapter.ServerConfig{Addr: cli.httpAddr, Logger: logger}, warmer, &shuttingDown, app.Service)
	server.Start()

	if err := warmer.Start(ctx); err != nil {
		return fmt.Errorf("starting cache warmer: %w", err)
	}
	logger.Info("cache warmer started, waiting for messages...")

	<-ctx.Done()
	logger.Info("shutting down...")
	shuttingDown.Store(true)

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 25*time.Second)
	defer shutdownCancel()

	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		if err := warmer.Stop(); err != nil {
			logger.Error("error stopping cache warmer", "error", err)
		}
		if err := server.Shutdown(5 * time.Second); err != nil {
			logger.Error("error stopping http server", "error", err)
		}
	}()

	select {
	case <-shutdownDone:
		logger.Info("shutdown complete")
	case <-shutdownCtx.Done():
		return fmt.Errorf("shutdown timed out")
	}
	return nil
}
