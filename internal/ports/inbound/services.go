// Package inbound contains the primary/inbound ports.
// These interfaces define the use cases that the application exposes.
package inbound

import (
	"context"

	"github.com/archon-research/token-cache/internal/domain/entity"
)

// TokenMetadataService resolves token metadata through the cache tiers.
// Inbound adapters (CLI, queue workers) call these methods.
type TokenMetadataService interface {
	// GetOrAdd returns the cached entry for key, fetching and persisting it on a miss.
	GetOrAdd(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error)

	// RefreshTotalSupply re-reads the total supply from the origin and overwrites the stored entry.
	RefreshTotalSupply(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error)

	// Forget drops key from the process cache and, where supported, from durable storage.
	Forget(ctx context.Context, key entity.HashKey) error
}

// HealthChecker defines the interface for services that can report readiness and liveness.
type HealthChecker interface {
	// IsReady returns true when the service is ready to handle traffic.
	// For the cache warmer this means the first poll of the queue succeeded.
	IsReady() bool

	// IsHealthy returns true when the service is operating normally.
	// For the cache warmer this means the queue was polled recently.
	IsHealthy() bool
}
