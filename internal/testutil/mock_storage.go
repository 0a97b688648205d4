package testutil

import (
	"context"
	"sync"

	"github.com/archon-research/token-cache/internal/ports/outbound"
)

// MockStorage implements outbound.ExtendedStorageBackend for testing.
//
// Without function overrides it behaves as a map. Set the ...Fn fields to
// inject faults; call counters are always updated.
type MockStorage[V any] struct {
	mu    sync.Mutex
	items map[string]V

	TryGetFn      func(ctx context.Context, key string) (V, bool, error)
	StoreFn       func(ctx context.Context, key string, value V) error
	RemoveFn      func(ctx context.Context, key string) error
	UpdateFn      func(ctx context.Context, key string, value V) error
	ContainsKeyFn func(ctx context.Context, key string) (bool, error)

	TryGetCalls int
	StoreCalls  int
	UpdateCalls int
	RemoveCalls int
}

func NewMockStorage[V any]() *MockStorage[V] {
	return &MockStorage[V]{items: make(map[string]V)}
}

// Seed stores value under key without counting a Store call.
func (m *MockStorage[V]) Seed(key string, value V) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.items[key] = value
}

// Get returns the raw stored value.
func (m *MockStorage[V]) Get(key string) (V, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	v, ok := m.items[key]
	return v, ok
}

// Len returns the number of stored items.
func (m *MockStorage[V]) Len() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items)
}

func (m *MockStorage[V]) TryGet(ctx context.Context, key string) (V, bool, error) {
	m.mu.Lock()
	m.TryGetCalls++
	fn := m.TryGetFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, key)
	}
	v, ok := m.Get(key)
	return v, ok, nil
}

func (m *MockStorage[V]) Store(ctx context.Context, key string, value V) error {
	m.mu.Lock()
	m.StoreCalls++
	fn := m.StoreFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, key, value); err != nil {
			return err
		}
	}
	m.Seed(key, value)
	return nil
}

func (m *MockStorage[V]) Remove(ctx context.Context, key string) error {
	m.mu.Lock()
	m.RemoveCalls++
	fn := m.RemoveFn
	m.mu.Unlock()
	if fn != nil {
		if err := fn(ctx, key); err != nil {
			return err
		}
	}
	m.mu.Lock()
	delete(m.items, key)
	m.mu.Unlock()
	return nil
}

func (m *MockStorage[V]) Update(ctx context.Context, key string, value V) error {
	m.mu.Lock()
	m.UpdateCalls++
	fn := m.UpdateFn
	m.mu.Unlock()
	if fn != nil {
		return fn(ctx, key, value)
	}
	if _, ok := m.Get(key); !ok {
		return outbound.ErrNotFound
	}
	m.Seed(key, value)
	return nil
}

func (m *MockStorage[V]) ContainsKey(ctx context.Context, key string) (bool, error) {
	if m.ContainsKeyFn != nil {
		return m.ContainsKeyFn(ctx, key)
	}
	_, ok := m.Get(key)
	return ok, nil
}
