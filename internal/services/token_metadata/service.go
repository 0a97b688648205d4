// Package token_metadata resolves ERC20 token metadata through a process-local
// tier, a durable tier and an origin (chain RPC or a metadata API).
package token_metadata

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/sync/singleflight"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/pkg/cache"
	"github.com/archon-research/token-cache/internal/ports/inbound"
	"github.com/archon-research/token-cache/internal/ports/outbound"
)

const tracerName = "github.com/archon-research/token-cache/internal/services/token_metadata"

var _ inbound.TokenMetadataService = (*Service)(nil)

// DefaultFetchTimeout bounds a shared origin fetch.
const DefaultFetchTimeout = 30 * time.Second

// Config holds optional collaborators.
type Config struct {
	Logger  *slog.Logger
	Metrics outbound.CacheMetricsRecorder
	// FetchTimeout bounds one origin fetch and the writes that follow it.
	// Defaults to DefaultFetchTimeout.
	FetchTimeout time.Duration
}

type noopMetrics struct{}

func (noopMetrics) RecordLookup(context.Context, string)             {}
func (noopMetrics) RecordOriginFetch(context.Context, float64, bool) {}

// Service is the cache-aside token metadata lookup.
//
// Concurrent misses for the same key inside one process share a single origin
// fetch. The shared fetch is detached from every caller's cancellation and
// bounded by FetchTimeout; a caller that gives up returns its own context
// error while the others keep waiting. Separate processes may still fetch the
// same key concurrently; the durable tier keeps whichever write lands last.
type Service struct {
	local        outbound.StorageBackend[*entity.CacheEntry]
	durable      outbound.StorageBackend[*entity.CacheEntry]
	tiers        *cache.Engine[*entity.CacheEntry]
	source       outbound.MetadataSource
	group        singleflight.Group
	fetchTimeout time.Duration
	metrics      outbound.CacheMetricsRecorder
	logger       *slog.Logger
}

// NewService wires the tiers. local is consulted first and is expected to be
// process-local memory; durable is shared storage.
func NewService(
	config Config,
	local outbound.StorageBackend[*entity.CacheEntry],
	durable outbound.StorageBackend[*entity.CacheEntry],
	source outbound.MetadataSource,
) (*Service, error) {
	if local == nil {
		return nil, fmt.Errorf("local storage cannot be nil")
	}
	if durable == nil {
		return nil, fmt.Errorf("durable storage cannot be nil")
	}
	if source == nil {
		return nil, fmt.Errorf("metadata source cannot be nil")
	}
	if config.Logger == nil {
		config.Logger = slog.Default()
	}
	if config.Metrics == nil {
		config.Metrics = noopMetrics{}
	}
	if config.FetchTimeout <= 0 {
		config.FetchTimeout = DefaultFetchTimeout
	}

	tiers, err := cache.NewEngine(local, durable)
	if err != nil {
		return nil, err
	}

	return &Service{
		local:        local,
		durable:      durable,
		tiers:        tiers,
		source:       source,
		fetchTimeout: config.FetchTimeout,
		metrics:      config.Metrics,
		logger:       config.Logger.With("component", "token-metadata-service"),
	}, nil
}

// GetOrAdd returns the entry for key. On a full miss it fetches from the
// origin, writes the durable tier and then the local tier. Nothing is
// written when the fetch fails.
func (s *Service) GetOrAdd(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "token_metadata.GetOrAdd",
		trace.WithAttributes(
			attribute.Int64("token.chain_id", key.ChainID),
			attribute.String("token.address", key.Address.Hex()),
		),
	)
	defer span.End()

	entry, tier, err := s.getOrAdd(ctx, key)
	if err != nil {
		s.metrics.RecordLookup(ctx, outbound.TierError)
		span.RecordError(err)
		span.SetStatus(codes.Error, "token metadata lookup failed")
		return nil, err
	}

	s.metrics.RecordLookup(ctx, tier)
	span.SetAttributes(attribute.String("cache.tier", tier))
	return entry, nil
}

func (s *Service) getOrAdd(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, string, error) {
	entry, tier, err := s.tiers.Lookup(ctx, key.Value)
	if err != nil {
		return nil, "", fmt.Errorf("reading cache tiers: %w", err)
	}
	switch tier {
	case 0:
		return entry, outbound.TierMemory, nil
	case 1:
		return entry, outbound.TierDurable, nil
	}

	ch := s.group.DoChan(key.Value, func() (interface{}, error) {
		flightCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), s.fetchTimeout)
		defer cancel()
		return s.fetchAndStore(flightCtx, key)
	})

	select {
	case <-ctx.Done():
		return nil, "", ctx.Err()
	case res := <-ch:
		if res.Err != nil {
			return nil, "", res.Err
		}
		if res.Shared {
			s.logger.Debug("joined in-flight fetch", "hashKey", key.Value)
		}
		return res.Val.(*entity.CacheEntry), outbound.TierOrigin, nil
	}
}

func (s *Service) fetchAndStore(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	md, err := s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	entry := entity.NewCacheEntry(key, md)
	if err := s.tiers.Store(ctx, key.Value, entry); err != nil {
		// The next lookup goes back to the origin.
		s.logger.Warn("token metadata fetched but not cached",
			"chainId", key.ChainID,
			"address", key.Address.Hex(),
			"hashKey", key.Value,
			"error", err)
		return nil, fmt.Errorf("storing %s: %w", key.Value, err)
	}
	s.logger.Info("cached token metadata",
		"chainId", key.ChainID,
		"address", key.Address.Hex(),
		"symbol", entry.Symbol,
		"hashKey", key.Value)
	return entry, nil
}

func (s *Service) fetch(ctx context.Context, key entity.HashKey) (*entity.TokenMetadata, error) {
	start := time.Now()
	md, err := s.source.FetchMetadata(ctx, key)
	s.metrics.RecordOriginFetch(ctx, time.Since(start).Seconds(), err == nil)
	if err != nil {
		var qe *entity.QueryError
		if errors.As(err, &qe) {
			s.logger.Warn("token metadata rejected", "chainId", key.ChainID, "address", key.Address.Hex(), "error", err)
		}
		return nil, err
	}
	return md, nil
}

// RefreshTotalSupply re-reads the token from the origin and replaces only the
// total supply of the stored entry. A token not cached yet is added as by
// GetOrAdd.
func (s *Service) RefreshTotalSupply(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "token_metadata.RefreshTotalSupply",
		trace.WithAttributes(attribute.String("token.address", key.Address.Hex())),
	)
	defer span.End()

	entry, err := s.refreshTotalSupply(ctx, key)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "total supply refresh failed")
		return nil, err
	}
	return entry, nil
}

func (s *Service) refreshTotalSupply(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	current, tier, err := s.tiers.Lookup(ctx, key.Value)
	if err != nil {
		return nil, fmt.Errorf("reading cache tiers: %w", err)
	}
	if tier < 0 {
		entry, _, err := s.getOrAdd(ctx, key)
		return entry, err
	}

	md, err := s.fetch(ctx, key)
	if err != nil {
		return nil, err
	}
	updated := current.WithTotalSupply(md)

	if ext, ok := s.durable.(outbound.ExtendedStorageBackend[*entity.CacheEntry]); ok {
		err = ext.Update(ctx, key.Value, updated)
		if errors.Is(err, outbound.ErrNotFound) {
			err = s.durable.Store(ctx, key.Value, updated)
		}
	} else {
		err = s.durable.Store(ctx, key.Value, updated)
	}
	if err != nil {
		return nil, fmt.Errorf("updating %s: %w", key.Value, err)
	}
	if err := s.local.Store(ctx, key.Value, updated); err != nil {
		return nil, fmt.Errorf("updating local %s: %w", key.Value, err)
	}

	s.logger.Info("refreshed total supply",
		"address", key.Address.Hex(),
		"previous", current.TotalSupply.String(),
		"current", updated.TotalSupply.String())
	return updated, nil
}

// Forget drops key from the local tier and, if the durable backend supports
// removal, from durable storage.
func (s *Service) Forget(ctx context.Context, key entity.HashKey) error {
	var errs []error
	if ext, ok := s.durable.(outbound.ExtendedStorageBackend[*entity.CacheEntry]); ok {
		if err := ext.Remove(ctx, key.Value); err != nil {
			errs = append(errs, fmt.Errorf("removing durable %s: %w", key.Value, err))
		}
	}
	if ext, ok := s.local.(outbound.ExtendedStorageBackend[*entity.CacheEntry]); ok {
		if err := ext.Remove(ctx, key.Value); err != nil {
			errs = append(errs, fmt.Errorf("removing local %s: %w", key.Value, err))
		}
	}
	return errors.Join(errs...)
}
