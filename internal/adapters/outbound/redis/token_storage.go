// Package redis provides the shared, cross-process cache tier on Redis.
//
// Entries are stored as JSON under prefix:token:hashKey and never expire.
// Fault policy: every Redis error propagates. Connection-level failures are
// additionally wrapped with outbound.ErrBackendUnavailable.
package redis

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

var _ outbound.ExtendedStorageBackend[*entity.CacheEntry] = (*TokenStorage)(nil)

// Config holds Redis cache configuration.
type Config struct {
	// Addr is the Redis server address (e.g., "localhost:6379")
	Addr string
	// Password for Redis authentication (empty for no auth)
	Password string
	// DB is the Redis database number (0-15)
	DB int
	// KeyPrefix is prepended to all cache keys
	KeyPrefix string
	// DialTimeout bounds connection establishment.
	DialTimeout time.Duration
	// MaxRetries is passed to the go-redis client; -1 disables retries.
	MaxRetries int
}

// ConfigDefaults returns sensible defaults for Redis cache configuration.
func ConfigDefaults() Config {
	return Config{
		Addr:        "localhost:6379",
		KeyPrefix:   "token-cache",
		DialTimeout: 5 * time.Second,
		MaxRetries:  3,
	}
}

// TokenStorage is a Redis implementation of the token cache tier.
type TokenStorage struct {
	client    *redis.Client
	keyPrefix string
	logger    *slog.Logger
}

// NewTokenStorage creates a Redis-backed token store.
func NewTokenStorage(cfg Config, logger *slog.Logger) (*TokenStorage, error) {
	if cfg.Addr == "" {
		return nil, fmt.Errorf("redis address is required")
	}
	if cfg.KeyPrefix == "" {
		cfg.KeyPrefix = ConfigDefaults().KeyPrefix
	}

	client := redis.NewClient(&redis.Options{
		Addr:        cfg.Addr,
		Password:    cfg.Password,
		DB:          cfg.DB,
		DialTimeout: cfg.DialTimeout,
		MaxRetries:  cfg.MaxRetries,
	})

	if logger == nil {
		logger = slog.Default()
	}

	return &TokenStorage{
		client:    client,
		keyPrefix: cfg.KeyPrefix,
		logger:    logger.With("component", "redis-token-storage"),
	}, nil
}

// Ping checks the Redis connection.
func (s *TokenStorage) Ping(ctx context.Context) error {
	return classify("ping", s.client.Ping(ctx).Err())
}

// Close closes the Redis connection.
func (s *TokenStorage) Close() error {
	return s.client.Close()
}

func (s *TokenStorage) key(hashKey string) string {
	return fmt.Sprintf("%s:token:%s", s.keyPrefix, hashKey)
}

// TryGet loads the entry stored under hashKey.
func (s *TokenStorage) TryGet(ctx context.Context, hashKey string) (*entity.CacheEntry, bool, error) {
	data, err := s.client.Get(ctx, s.key(hashKey)).Bytes()
	if errors.Is(err, redis.Nil) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("get token", err)
	}

	var entry entity.CacheEntry
	if err := json.Unmarshal(data, &entry); err != nil {
		return nil, false, fmt.Errorf("failed to decode cached token %s: %w", hashKey, err)
	}
	return &entry, true, nil
}

// Store upserts the entry without expiry.
func (s *TokenStorage) Store(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode token %s: %w", hashKey, err)
	}
	if err := s.client.Set(ctx, s.key(hashKey), data, 0).Err(); err != nil {
		return classify("set token", err)
	}
	s.logger.Debug("stored token", "hashKey", hashKey)
	return nil
}

// Update overwrites an existing entry (SET XX).
func (s *TokenStorage) Update(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	data, err := json.Marshal(entry)
	if err != nil {
		return fmt.Errorf("failed to encode token %s: %w", hashKey, err)
	}
	ok, err := s.client.SetXX(ctx, s.key(hashKey), data, 0).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return classify("update token", err)
	}
	if !ok {
		return fmt.Errorf("redis update %s: %w", hashKey, outbound.ErrNotFound)
	}
	return nil
}

// Remove deletes the entry.
func (s *TokenStorage) Remove(ctx context.Context, hashKey string) error {
	return classify("delete token", s.client.Del(ctx, s.key(hashKey)).Err())
}

// ContainsKey reports whether an entry exists.
func (s *TokenStorage) ContainsKey(ctx context.Context, hashKey string) (bool, error) {
	n, err := s.client.Exists(ctx, s.key(hashKey)).Result()
	if err != nil {
		return false, classify("exists token", err)
	}
	return n > 0, nil
}

// classify wraps err with op and marks connection failures as unavailable.
func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("redis %s: %w: %w", op, outbound.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("redis %s: %w", op, err)
}

func isUnavailable(err error) bool {
	if errors.Is(err, redis.ErrClosed) || errors.Is(err, io.EOF) {
		return true
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
