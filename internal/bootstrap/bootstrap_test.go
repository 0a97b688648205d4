package bootstrap

import (
	"context"
	"strings"
	"testing"

	"github.com/archon-research/token-cache/internal/pkg/cache"
	"github.com/archon-research/token-cache/internal/pkg/env"
	"github.com/archon-research/token-cache/internal/testutil"
)

func TestChainURLs_UnmarshalText(t *testing.T) {
	var urls ChainURLs
	err := urls.UnmarshalText([]byte("1=https://eth.example/v2?key=abc, 8453=https://base.example,"))
	if err != nil {
		t.Fatalf("UnmarshalText: %v", err)
	}
	if urls[1] != "https://eth.example/v2?key=abc" {
		t.Errorf("chain 1 = %q", urls[1])
	}
	if urls[8453] != "https://base.example" {
		t.Errorf("chain 8453 = %q", urls[8453])
	}

	for _, bad := range []string{"mainnet=https://x", "1", "0=https://x", "1="} {
		if err := new(ChainURLs).UnmarshalText([]byte(bad)); err == nil {
			t.Errorf("%q: expected error", bad)
		}
	}
}

func TestParseFromEnvironment(t *testing.T) {
	t.Setenv("TOKEN_CACHE_SOURCE", "rpc")
	t.Setenv("RPC_URLS", "1=http://localhost:8545")
	t.Setenv("TOKEN_CACHE_DURABLE", "redis,dynamodb")
	t.Setenv("LOG_LEVEL", "debug")

	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if err := cfg.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if cfg.RPCURLs[1] != "http://localhost:8545" {
		t.Errorf("RPCURLs = %v", cfg.RPCURLs)
	}
	if len(cfg.DurableTiers) != 2 || cfg.DurableTiers[0] != TierRedis {
		t.Errorf("DurableTiers = %v", cfg.DurableTiers)
	}
	if cfg.DynamoDBTable != "TokensInfoCache" {
		t.Errorf("DynamoDBTable = %q", cfg.DynamoDBTable)
	}
	if cfg.Level().String() != "DEBUG" {
		t.Errorf("Level = %s", cfg.Level())
	}
}

func TestValidate(t *testing.T) {
	base := func() Config {
		return Config{
			Source:       SourceRPC,
			RPCURLs:      ChainURLs{1: "http://node"},
			DurableTiers: []string{TierDynamoDB},
		}
	}

	tests := []struct {
		name    string
		mutate  func(c *Config)
		wantErr string
	}{
		{"valid rpc", func(c *Config) {}, ""},
		{"rpc without urls", func(c *Config) { c.RPCURLs = nil }, "RPC_URLS is required"},
		{"bad multicall", func(c *Config) { c.MulticallAddress = "0x12" }, "MULTICALL3_ADDRESS"},
		{"api without key", func(c *Config) { c.Source = SourceAPI }, "COVALENT_API_KEY"},
		{"api with key", func(c *Config) { c.Source = SourceAPI; c.CovalentAPIKey = "k" }, ""},
		{"unknown source", func(c *Config) { c.Source = "graph" }, "unknown source"},
		{"no tiers", func(c *Config) { c.DurableTiers = nil }, "lists no tiers"},
		{"postgres without url", func(c *Config) { c.DurableTiers = []string{TierPostgres} }, "DATABASE_URL"},
		{"unknown tier", func(c *Config) { c.DurableTiers = []string{"s3"} }, "unknown durable tier"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want %q", err, tt.wantErr)
			}
		})
	}
}

func TestBuild_OfflineWiring(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")

	cfg := Config{
		Source:           SourceAPI,
		CovalentAPIKey:   "k",
		DurableTiers:     []string{TierDynamoDB},
		AWSRegion:        "us-east-1",
		DynamoDBEndpoint: "http://localhost:8000",
		DynamoDBTable:    "TokensInfoCache",
	}
	app, err := Build(context.Background(), cfg, testutil.DiscardLogger())
	if err != nil {
		t.Fatalf("Build: %v", err)
	}
	defer func() {
		if err := app.Close(); err != nil {
			t.Errorf("Close: %v", err)
		}
	}()
	if app.Service == nil {
		t.Fatal("service not wired")
	}
}

func TestBuildDurable_ComposesSeveralTiers(t *testing.T) {
	t.Setenv("AWS_ACCESS_KEY_ID", "")

	app := &App{logger: testutil.DiscardLogger()}
	durable, err := app.buildDurable(context.Background(), Config{
		DurableTiers:     []string{TierDynamoDB, TierDynamoDB},
		AWSRegion:        "us-east-1",
		DynamoDBEndpoint: "http://localhost:8000",
	})
	if err != nil {
		t.Fatalf("buildDurable: %v", err)
	}
	engine, ok := durable.(interface{ Tiers() int })
	if !ok || engine.Tiers() != 2 {
		t.Errorf("durable = %T, want a two-tier %T", durable, &cache.Engine[int]{})
	}
}
