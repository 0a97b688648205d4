package testutil

import (
	"context"
	"sync"

	"github.com/archon-research/token-cache/internal/domain/entity"
	"github.com/archon-research/token-cache/internal/ports/inbound"
)

var _ inbound.TokenMetadataService = (*MockTokenService)(nil)

// MockTokenService is a configurable inbound.TokenMetadataService.
type MockTokenService struct {
	mu sync.Mutex

	GetOrAddFn           func(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error)
	RefreshTotalSupplyFn func(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error)
	ForgetFn             func(ctx context.Context, key entity.HashKey) error

	GetOrAddKeys []entity.HashKey
}

func (m *MockTokenService) GetOrAdd(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	m.mu.Lock()
	m.GetOrAddKeys = append(m.GetOrAddKeys, key)
	m.mu.Unlock()
	if m.GetOrAddFn != nil {
		return m.GetOrAddFn(ctx, key)
	}
	return &entity.CacheEntry{HashKey: key.Value, ChainID: key.ChainID, Address: key.Address.Hex()}, nil
}

func (m *MockTokenService) RefreshTotalSupply(ctx context.Context, key entity.HashKey) (*entity.CacheEntry, error) {
	if m.RefreshTotalSupplyFn != nil {
		return m.RefreshTotalSupplyFn(ctx, key)
	}
	return &entity.CacheEntry{HashKey: key.Value, ChainID: key.ChainID, Address: key.Address.Hex()}, nil
}

func (m *MockTokenService) Forget(ctx context.Context, key entity.HashKey) error {
	if m.ForgetFn != nil {
		return m.ForgetFn(ctx, key)
	}
	return nil
}

// Keys returns a copy of the keys passed to GetOrAdd.
func (m *MockTokenService) Keys() []entity.HashKey {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]entity.HashKey(nil), m.GetOrAddKeys...)
}
