// Package memory provides the process-local storage tier.
//
// Storage is backed by sync.Map: reads and inserts for different keys never
// contend, which is the access pattern of a write-once cache. Data is lost on
// process restart.
package memory

import (
	"context"
	"fmt"
	"sync"

	"github.com/archon-research/token-cache/internal/ports/outbound"
)

var _ outbound.ExtendedStorageBackend[string] = (*Storage[string])(nil)

// Storage is an in-memory ExtendedStorageBackend. It never faults.
type Storage[V any] struct {
	items sync.Map
}

// NewStorage creates an empty in-memory store.
func NewStorage[V any]() *Storage[V] {
	return &Storage[V]{}
}

// TryGet returns the value stored under key.
func (s *Storage[V]) TryGet(_ context.Context, key string) (V, bool, error) {
	v, ok := s.items.Load(key)
	if !ok {
		var zero V
		return zero, false, nil
	}
	return v.(V), true, nil
}

// Store upserts key.
func (s *Storage[V]) Store(_ context.Context, key string, value V) error {
	s.items.Store(key, value)
	return nil
}

// Remove deletes key if present.
func (s *Storage[V]) Remove(_ context.Context, key string) error {
	s.items.Delete(key)
	return nil
}

// Update overwrites key, returning outbound.ErrNotFound if it was never stored.
// A concurrent Remove may be undone by an Update that already saw the key.
func (s *Storage[V]) Update(_ context.Context, key string, value V) error {
	if _, ok := s.items.Load(key); !ok {
		return fmt.Errorf("memory update %s: %w", key, outbound.ErrNotFound)
	}
	s.items.Store(key, value)
	return nil
}

// ContainsKey reports whether key is present.
func (s *Storage[V]) ContainsKey(_ context.Context, key string) (bool, error) {
	_, ok := s.items.Load(key)
	return ok, nil
}

// Len returns the number of stored entries.
func (s *Storage[V]) Len() int {
	n := 0
	s.items.Range(func(_, _ any) bool {
		n++
		return true
	})
	return n
}
