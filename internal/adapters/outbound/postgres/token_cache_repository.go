package postgres

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// querier is the subset of pgxpool.Pool used by the repository.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

var _ querier = (*pgxpool.Pool)(nil)

// Compile-time check that TokenCacheRepository is a durable token tier.
var _ outbound.ExtendedStorageBackend[*entity.CacheEntry] = (*TokenCacheRepository)(nil)

// TokenCacheRepository stores cache entries in token_metadata_cache.
// Every fault propagates; connection failures are wrapped with
// outbound.ErrBackendUnavailable.
type TokenCacheRepository struct {
	db     querier
	logger *slog.Logger
}

// NewTokenCacheRepository creates a repository over pool.
func NewTokenCacheRepository(pool *pgxpool.Pool, logger *slog.Logger) (*TokenCacheRepository, error) {
	if pool == nil {
		return nil, fmt.Errorf("database pool cannot be nil")
	}
	return newTokenCacheRepository(pool, logger), nil
}

func newTokenCacheRepository(db querier, logger *slog.Logger) *TokenCacheRepository {
	if logger == nil {
		logger = slog.Default()
	}
	return &TokenCacheRepository{
		db:     db,
		logger: logger.With("component", "postgres-token-cache"),
	}
}

const selectEntrySQL = `
	SELECT hash_key, chain_id, address, name, symbol, decimals, total_supply::text
	FROM token_metadata_cache
	WHERE hash_key = $1`

// TryGet loads the entry stored under hashKey.
func (r *TokenCacheRepository) TryGet(ctx context.Context, hashKey string) (*entity.CacheEntry, bool, error) {
	var (
		entry    entity.CacheEntry
		decimals int16
		supply   string
	)
	err := r.db.QueryRow(ctx, selectEntrySQL, hashKey).Scan(
		&entry.HashKey, &entry.ChainID, &entry.Address, &entry.Name, &entry.Symbol, &decimals, &supply,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, classify("select token", err)
	}

	entry.Decimals = uint8(decimals)
	entry.TotalSupply, err = decimal.NewFromString(supply)
	if err != nil {
		return nil, false, fmt.Errorf("parsing total_supply %q for %s: %w", supply, hashKey, err)
	}
	return &entry, true, nil
}

const upsertEntrySQL = `
	INSERT INTO token_metadata_cache (hash_key, chain_id, address, name, symbol, decimals, total_supply, updated_at)
	VALUES ($1, $2, $3, $4, $5, $6, $7::numeric, NOW())
	ON CONFLICT (hash_key) DO UPDATE SET
		chain_id = EXCLUDED.chain_id,
		address = EXCLUDED.address,
		name = EXCLUDED.name,
		symbol = EXCLUDED.symbol,
		decimals = EXCLUDED.decimals,
		total_supply = EXCLUDED.total_supply,
		updated_at = NOW()`

// Store upserts the entry.
func (r *TokenCacheRepository) Store(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	if entry == nil || entry.HashKey != hashKey {
		return fmt.Errorf("entry does not belong to key %s", hashKey)
	}
	_, err := r.db.Exec(ctx, upsertEntrySQL,
		entry.HashKey, entry.ChainID, entry.Address, entry.Name, entry.Symbol, int16(entry.Decimals), entry.TotalSupply.String(),
	)
	if err != nil {
		return classify("upsert token", err)
	}
	return nil
}

const updateEntrySQL = `
	UPDATE token_metadata_cache
	SET name = $2, symbol = $3, decimals = $4, total_supply = $5::numeric, updated_at = NOW()
	WHERE hash_key = $1`

// Update overwrites the mutable columns of an existing entry.
func (r *TokenCacheRepository) Update(ctx context.Context, hashKey string, entry *entity.CacheEntry) error {
	tag, err := r.db.Exec(ctx, updateEntrySQL,
		hashKey, entry.Name, entry.Symbol, int16(entry.Decimals), entry.TotalSupply.String(),
	)
	if err != nil {
		return classify("update token", err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("postgres update %s: %w", hashKey, outbound.ErrNotFound)
	}
	return nil
}

// Remove deletes the entry.
func (r *TokenCacheRepository) Remove(ctx context.Context, hashKey string) error {
	if _, err := r.db.Exec(ctx, `DELETE FROM token_metadata_cache WHERE hash_key = $1`, hashKey); err != nil {
		return classify("delete token", err)
	}
	return nil
}

// ContainsKey reports whether an entry exists.
func (r *TokenCacheRepository) ContainsKey(ctx context.Context, hashKey string) (bool, error) {
	var exists bool
	err := r.db.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM token_metadata_cache WHERE hash_key = $1)`, hashKey).Scan(&exists)
	if err != nil {
		return false, classify("exists token", err)
	}
	return exists, nil
}

func classify(op string, err error) error {
	if err == nil {
		return nil
	}
	if isUnavailable(err) {
		return fmt.Errorf("postgres %s: %w: %w", op, outbound.ErrBackendUnavailable, err)
	}
	return fmt.Errorf("postgres %s: %w", op, err)
}

func isUnavailable(err error) bool {
	var connErr *pgconn.ConnectError
	if errors.As(err, &connErr) {
		return true
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		// Class 08 is connection exception, 57P0x is operator intervention (shutdown).
		return len(pgErr.Code) == 5 && (pgErr.Code[:2] == "08" || pgErr.Code[:4] == "57P0")
	}
	var netErr net.Error
	return errors.As(err, &netErr)
}
