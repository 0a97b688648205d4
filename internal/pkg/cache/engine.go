// Package cache implements a generic cache-aside engine over an ordered chain
// of storage tiers.
//
// Tier 0 is the primary (fastest) tier. A lookup walks the tiers in order; a
// hit in a later tier is copied back into tier 0 before it is returned. When
// no tier holds the key a caller-supplied factory produces the value, which
// is then stored in tier 0.
//
// The engine holds no locks. Two callers missing the same key at the same time
// may both run the factory and the last write to tier 0 wins. Callers that need
// in-process deduplication wrap GetOrAdd in a singleflight.Group.
package cache

import (
	"context"
	"errors"
	"fmt"

	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// ErrNoBackends is returned by NewEngine when called without tiers.
var ErrNoBackends = errors.New("cache engine requires at least one storage backend")

// Factory produces the value for key on a full miss.
type Factory[V any] func(ctx context.Context, key string) (V, error)

// Compile-time check that Engine composes as a tier of another Engine.
var _ outbound.StorageBackend[int] = (*Engine[int])(nil)

// Engine is a cache-aside lookup over ordered storage tiers.
type Engine[V any] struct {
	backends []outbound.StorageBackend[V]
}

// NewEngine creates an engine over backends. The first backend is the primary tier.
func NewEngine[V any](backends ...outbound.StorageBackend[V]) (*Engine[V], error) {
	if len(backends) == 0 {
		return nil, ErrNoBackends
	}
	for i, b := range backends {
		if b == nil {
			return nil, fmt.Errorf("storage backend %d is nil", i)
		}
	}
	return &Engine[V]{backends: append([]outbound.StorageBackend[V](nil), backends...)}, nil
}

// GetOrAdd returns the value for key, invoking factory exactly once when no
// tier holds it. The factory is never called when any tier has the key.
// Tier errors and factory errors are returned unchanged and nothing is stored
// after a factory error.
func (e *Engine[V]) GetOrAdd(ctx context.Context, key string, factory Factory[V]) (V, error) {
	v, ok, err := e.TryGet(ctx, key)
	if err != nil || ok {
		return v, err
	}

	v, err = factory(ctx, key)
	if err != nil {
		var zero V
		return zero, err
	}
	if err := e.backends[0].Store(ctx, key, v); err != nil {
		var zero V
		return zero, err
	}
	return v, nil
}

// TryGet walks the tiers in order and backfills the primary tier on a hit
// found further down.
func (e *Engine[V]) TryGet(ctx context.Context, key string) (V, bool, error) {
	v, tier, err := e.Lookup(ctx, key)
	return v, tier >= 0, err
}

// Lookup is TryGet that also reports the index of the tier that held key,
// or -1 on a miss. The primary tier is backfilled before Lookup returns.
func (e *Engine[V]) Lookup(ctx context.Context, key string) (V, int, error) {
	var zero V
	for i, b := range e.backends {
		v, ok, err := b.TryGet(ctx, key)
		if err != nil {
			return zero, -1, err
		}
		if !ok {
			continue
		}
		if i > 0 {
			if err := e.backends[0].Store(ctx, key, v); err != nil {
				return zero, -1, err
			}
		}
		return v, i, nil
	}
	return zero, -1, nil
}

// Store writes value to every tier, last tier first, so the primary tier
// only sees values the slower tiers accepted.
func (e *Engine[V]) Store(ctx context.Context, key string, value V) error {
	for i := len(e.backends) - 1; i >= 0; i-- {
		if err := e.backends[i].Store(ctx, key, value); err != nil {
			return err
		}
	}
	return nil
}

// Tiers returns the number of storage tiers.
func (e *Engine[V]) Tiers() int {
	return len(e.backends)
}
