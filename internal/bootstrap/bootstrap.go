// Package bootstrap builds the token metadata service from environment
// configuration. It is shared by the binaries under cmd/.
package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/ethclient"

	"github.com/archon-research/token-cache/internal/adapters/outbound/covalent"
	dynamoadapter "github.com/archon-research/token-cache/internal/adapters/outbound/dynamodb"
	"github.com/archon-research/token-cache/internal/adapters/outbound/memory"
	"github.com/archon-research/token-cache/internal/adapters/outbound/postgres"
	redisadapter "github.com/archon-research/token-cache/internal/adapters/outbound/redis"
	"github.com/archon-research/token-cache/internal/adapters/outbound/telemetry"
	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/pkg/blockchain"
	"github.com/archon-research/token-cache/internal/pkg/cache"
	"github.com/archon-research/token-cache/internal/pkg/env"
	"github.com/archon-research/token-cache/internal/ports/outbound"
	"github.com/archon-research/token-cache/internal/services/token_metadata"
)

// Origins and durable tiers accepted in configuration.
const (
	SourceRPC = "rpc"
	SourceAPI = "api"

	TierDynamoDB = "dynamodb"
	TierRedis    = "redis"
	TierPostgres = "postgres"
)

// Config is read from the environment with env.Parse.
type Config struct {
	LogLevel    string `env:"LOG_LEVEL" envDefault:"info"`
	Environment string `env:"ENVIRONMENT" envDefault:"development"`

	// Source selects the origin: "rpc" or "api".
	Source string `env:"TOKEN_CACHE_SOURCE" envDefault:"rpc"`

	// DurableTiers lists the shared tiers in lookup order, e.g. "redis,dynamodb".
	DurableTiers []string `env:"TOKEN_CACHE_DURABLE" envDefault:"dynamodb" envSeparator:","`

	RPCURLs          ChainURLs `env:"RPC_URLS"`
	MulticallAddress string    `env:"MULTICALL3_ADDRESS"`

	CovalentAPIKey      string `env:"COVALENT_API_KEY"`
	CovalentURLTemplate string `env:"COVALENT_URL_TEMPLATE"`
	CovalentItemIndex   int    `env:"COVALENT_ITEM_INDEX" envDefault:"0"`

	AWSRegion           string `env:"AWS_REGION" envDefault:"eu-west-1"`
	DynamoDBEndpoint    string `env:"AWS_DYNAMODB_ENDPOINT"`
	DynamoDBTable       string `env:"TOKEN_CACHE_TABLE" envDefault:"TokensInfoCache"`
	DynamoDBCreateTable bool   `env:"TOKEN_CACHE_CREATE_TABLE"`
	DynamoDBMissOnFault bool   `env:"TOKEN_CACHE_MISS_ON_FAULT"`

	RedisAddr      string `env:"REDIS_ADDR" envDefault:"localhost:6379"`
	RedisPassword  string `env:"REDIS_PASSWORD"`
	RedisDB        int    `env:"REDIS_DB"`
	RedisKeyPrefix string `env:"REDIS_KEY_PREFIX" envDefault:"token-cache"`

	DatabaseURL string `env:"DATABASE_URL"`

	OTLPEndpoint string `env:"OTEL_EXPORTER_OTLP_ENDPOINT"`
}

// LoadConfig loads .env files, parses the environment and validates the result.
func LoadConfig() (Config, error) {
	cfg, err := ParseConfig()
	if err != nil {
		return Config{}, err
	}
	return cfg, cfg.Validate()
}

// ParseConfig loads .env files and parses the environment without
// validating, so callers can apply overrides first.
func ParseConfig() (Config, error) {
	if err := env.LoadDotEnv(); err != nil {
		return Config{}, err
	}
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks option values that env.Parse cannot.
func (c Config) Validate() error {
	var errs []error
	switch c.Source {
	case SourceRPC:
		if len(c.RPCURLs) == 0 {
			errs = append(errs, fmt.Errorf("RPC_URLS is required for source %q", SourceRPC))
		}
		if c.MulticallAddress != "" && !common.IsHexAddress(c.MulticallAddress) {
			errs = append(errs, fmt.Errorf("MULTICALL3_ADDRESS %q is not an address", c.MulticallAddress))
		}
	case SourceAPI:
		if c.CovalentAPIKey == "" {
			errs = append(errs, fmt.Errorf("COVALENT_API_KEY is required for source %q", SourceAPI))
		}
	default:
		errs = append(errs, fmt.Errorf("unknown source %q (want %s or %s)", c.Source, SourceRPC, SourceAPI))
	}

	if len(c.DurableTiers) == 0 {
		errs = append(errs, errors.New("TOKEN_CACHE_DURABLE lists no tiers"))
	}
	for _, tier := range c.DurableTiers {
		switch tier {
		case TierDynamoDB, TierRedis:
		case TierPostgres:
			if c.DatabaseURL == "" {
				errs = append(errs, fmt.Errorf("DATABASE_URL is required for tier %q", TierPostgres))
			}
		default:
			errs = append(errs, fmt.Errorf("unknown durable tier %q", tier))
		}
	}
	return errors.Join(errs...)
}

// ChainURLs maps chain IDs to JSON-RPC endpoints. Its text form is
// "1=https://a,8453=https://b"; only the first "=" of each pair separates
// the chain ID, so endpoint query strings survive.
type ChainURLs map[int64]string

// UnmarshalText implements encoding.TextUnmarshaler.
func (c *ChainURLs) UnmarshalText(text []byte) error {
	out := make(ChainURLs)
	for _, pair := range strings.Split(string(text), ",") {
		pair = strings.TrimSpace(pair)
		if pair == "" {
			continue
		}
		rawID, url, ok := strings.Cut(pair, "=")
		if !ok || strings.TrimSpace(url) == "" {
			return fmt.Errorf("RPC_URLS: %q is not chainId=url", pair)
		}
		id, err := strconv.ParseInt(strings.TrimSpace(rawID), 10, 64)
		if err != nil || id <= 0 {
			return fmt.Errorf("RPC_URLS: invalid chain ID %q", rawID)
		}
		out[id] = strings.TrimSpace(url)
	}
	*c = out
	return nil
}

// Level returns the configured log level, defaulting to info.
func (c Config) Level() slog.Level {
	return env.LevelFromString(c.LogLevel, slog.LevelInfo)
}

// App holds the wired service and everything that must be closed with it.
type App struct {
	Service *token_metadata.Service
	closers []func() error
	logger  *slog.Logger
}

// Close releases connections in reverse order of creation.
func (a *App) Close() error {
	var errs []error
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *App) onClose(fn func() error) {
	a.closers = append(a.closers, fn)
}

// Build wires storage tiers, the origin, metrics and the service.
func Build(ctx context.Context, cfg Config, logger *slog.Logger) (*App, error) {
	if logger == nil {
		logger = slog.Default()
	}
	app := &App{logger: logger}

	durable, err := app.buildDurable(ctx, cfg)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}

	source, err := app.buildSource(cfg)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}

	metrics, err := telemetry.NewCacheMetrics("github.com/archon-research/token-cache")
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}

	svc, err := token_metadata.NewService(
		token_metadata.Config{Logger: logger, Metrics: metrics},
		memory.NewStorage[*entity.CacheEntry](),
		durable,
		source,
	)
	if err != nil {
		return nil, errors.Join(err, app.Close())
	}
	app.Service = svc
	return app, nil
}

func (a *App) buildDurable(ctx context.Context, cfg Config) (outbound.StorageBackend[*entity.CacheEntry], error) {
	tiers := make([]outbound.StorageBackend[*entity.CacheEntry], 0, len(cfg.DurableTiers))
	for _, name := range cfg.DurableTiers {
		tier, err := a.buildTier(ctx, cfg, name)
		if err != nil {
			return nil, fmt.Errorf("building %s tier: %w", name, err)
		}
		tiers = append(tiers, tier)
	}
	if len(tiers) == 1 {
		return tiers[0], nil
	}
	// Several shared tiers compose into one engine. Forget and
	// RefreshTotalSupply then fall back to plain Store semantics.
	return cache.NewEngine(tiers...)
}

func (a *App) buildTier(ctx context.Context, cfg Config, name string) (outbound.StorageBackend[*entity.CacheEntry], error) {
	switch name {
	case TierDynamoDB:
		awsCfg, err := LoadAWSConfig(ctx, cfg.AWSRegion, cfg.DynamoDBEndpoint)
		if err != nil {
			return nil, err
		}
		var optFns []func(*dynamodb.Options)
		if cfg.DynamoDBEndpoint != "" {
			optFns = append(optFns, func(o *dynamodb.Options) {
				o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
			})
		}
		store, err := dynamoadapter.NewTokenStorage(awsCfg, dynamoadapter.Config{
			TableName:   cfg.DynamoDBTable,
			MissOnFault: cfg.DynamoDBMissOnFault,
		}, a.logger, optFns...)
		if err != nil {
			return nil, err
		}
		if cfg.DynamoDBCreateTable {
			if err := store.EnsureTable(ctx); err != nil {
				return nil, err
			}
		}
		return store, nil

	case TierRedis:
		store, err := redisadapter.NewTokenStorage(redisadapter.Config{
			Addr:        cfg.RedisAddr,
			Password:    cfg.RedisPassword,
			DB:          cfg.RedisDB,
			KeyPrefix:   cfg.RedisKeyPrefix,
			DialTimeout: redisadapter.ConfigDefaults().DialTimeout,
			MaxRetries:  redisadapter.ConfigDefaults().MaxRetries,
		}, a.logger)
		if err != nil {
			return nil, err
		}
		a.onClose(store.Close)
		if err := store.Ping(ctx); err != nil {
			return nil, err
		}
		return store, nil

	case TierPostgres:
		pool, err := postgres.OpenPool(ctx, postgres.PoolConfigDefaults(cfg.DatabaseURL))
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { pool.Close(); return nil })
		return postgres.NewTokenCacheRepository(pool, a.logger)

	default:
		return nil, fmt.Errorf("unknown durable tier %q", name)
	}
}

func (a *App) buildSource(cfg Config) (outbound.MetadataSource, error) {
	switch cfg.Source {
	case SourceAPI:
		return covalent.NewClient(covalent.Config{
			URLTemplate: cfg.CovalentURLTemplate,
			APIKey:      cfg.CovalentAPIKey,
			ItemIndex:   cfg.CovalentItemIndex,
			Logger:      a.logger,
		})

	case SourceRPC:
		dialer, err := blockchain.NewDialer(memory.NewStorage[*ethclient.Client](), nil)
		if err != nil {
			return nil, err
		}
		a.onClose(func() error { dialer.Close(); return nil })

		aggregator := token_metadata.CanonicalMulticall3
		if cfg.MulticallAddress != "" {
			addr := common.HexToAddress(cfg.MulticallAddress)
			aggregator = func(context.Context, int64) (common.Address, error) { return addr, nil }
		}
		return token_metadata.NewRPCSource(token_metadata.RPCSourceConfig{
			RPCURL:       token_metadata.StaticRPCURLs(cfg.RPCURLs),
			Aggregator:   aggregator,
			Multicallers: dialer,
			Logger:       a.logger,
		})

	default:
		return nil, fmt.Errorf("unknown source %q", cfg.Source)
	}
}

// LoadAWSConfig loads the default AWS configuration. When endpoint is set
// (LocalStack, dynamodb-local) and no credentials are configured, static
// dummy credentials are used.
func LoadAWSConfig(ctx context.Context, region, endpoint string) (aws.Config, error) {
	opts := []func(*awsconfig.LoadOptions) error{awsconfig.WithRegion(region)}
	if endpoint != "" && env.Get("AWS_ACCESS_KEY_ID", "") == "" {
		opts = append(opts, awsconfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider("local", "local", ""),
		))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return aws.Config{}, fmt.Errorf("loading AWS config: %w", err)
	}
	return cfg, nil
}
