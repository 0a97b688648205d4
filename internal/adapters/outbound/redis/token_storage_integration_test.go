//go:build integration

package redis

import (
	"context"
	"errors"
	"fmt"
	"math/big"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// setupRedis creates a Redis container and returns a connected TokenStorage.
func setupRedis(t *testing.T) *TokenStorage {
	t.Helper()
	ctx := context.Background()

	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "redis:7-alpine",
			ExposedPorts: []string{"6379/tcp"},
			WaitingFor:   wait.ForLog("Ready to accept connections").WithStartupTimeout(60 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Fatalf("failed to start Redis container: %v", err)
	}
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("failed to get container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "6379")
	if err != nil {
		t.Fatalf("failed to get container port: %v", err)
	}

	cfg := ConfigDefaults()
	cfg.Addr = fmt.Sprintf("%s:%s", host, port.Port())
	cfg.KeyPrefix = "test"

	s, err := NewTokenStorage(cfg, nil)
	if err != nil {
		t.Fatalf("failed to create token storage: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })

	for i := 0; i < 30; i++ {
		if err := s.Ping(ctx); err == nil {
			break
		}
		time.Sleep(100 * time.Millisecond)
	}
	return s
}

func sampleEntry(t *testing.T) *entity.CacheEntry {
	t.Helper()
	supply, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	return entity.NewCacheEntry(entity.MustHashKey(1, "0xdAC17F958D2ee523a2206206994597C13D831ec7"), &entity.TokenMetadata{
		Name: "Tether USD", Symbol: "USDT", Decimals: 6, TotalSupply: supply,
	})
}

func TestTokenStorage_RoundTrip(t *testing.T) {
	s := setupRedis(t)
	ctx := context.Background()
	entry := sampleEntry(t)

	if _, ok, err := s.TryGet(ctx, entry.HashKey); err != nil || ok {
		t.Fatalf("TryGet before Store = (%v, %v), want miss", ok, err)
	}
	if err := s.Store(ctx, entry.HashKey, entry); err != nil {
		t.Fatalf("Store: %v", err)
	}

	got, ok, err := s.TryGet(ctx, entry.HashKey)
	if err != nil || !ok {
		t.Fatalf("TryGet = (%v, %v)", ok, err)
	}
	if got.Symbol != "USDT" || !got.TotalSupply.Equal(entry.TotalSupply) {
		t.Errorf("got %+v, want %+v", got, entry)
	}

	ttl, err := s.client.TTL(ctx, s.key(entry.HashKey)).Result()
	if err != nil {
		t.Fatalf("TTL: %v", err)
	}
	if ttl != -1 {
		t.Errorf("TTL = %v, want no expiry", ttl)
	}
}

func TestTokenStorage_UpdateRemoveContains(t *testing.T) {
	s := setupRedis(t)
	ctx := context.Background()
	entry := sampleEntry(t)

	if err := s.Update(ctx, entry.HashKey, entry); !errors.Is(err, outbound.ErrNotFound) {
		t.Fatalf("Update on absent key = %v, want ErrNotFound", err)
	}
	if ok, _ := s.ContainsKey(ctx, entry.HashKey); ok {
		t.Fatal("ContainsKey = true after failed Update")
	}

	_ = s.Store(ctx, entry.HashKey, entry)
	updated := *entry
	updated.TotalSupply = decimal.RequireFromString("42")
	if err := s.Update(ctx, entry.HashKey, &updated); err != nil {
		t.Fatalf("Update: %v", err)
	}
	got, _, _ := s.TryGet(ctx, entry.HashKey)
	if !got.TotalSupply.Equal(decimal.RequireFromString("42")) {
		t.Errorf("TotalSupply = %s, want 42", got.TotalSupply)
	}

	if err := s.Remove(ctx, entry.HashKey); err != nil {
		t.Fatalf("Remove: %v", err)
	}
	if ok, _ := s.ContainsKey(ctx, entry.HashKey); ok {
		t.Error("ContainsKey = true after Remove")
	}
}
