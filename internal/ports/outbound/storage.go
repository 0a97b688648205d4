// Package outbound defines the outbound port interfaces.
package outbound

import (
	"context"
	"errors"
)

var (
	// ErrBackendUnavailable marks faults where the backend could not be reached
	// or refused service. It must always propagate to the caller and is never
	// treated as a cache miss.
	ErrBackendUnavailable = errors.New("storage backend unavailable")

	// ErrNotFound is returned by Update when the key is absent.
	ErrNotFound = errors.New("key not found")
)

// StorageBackend is the uniform get/put contract every cache tier implements.
//
// TryGet reports a miss as (zero, false, nil); only backend faults are errors.
// Store is an upsert.
type StorageBackend[V any] interface {
	TryGet(ctx context.Context, key string) (V, bool, error)
	Store(ctx context.Context, key string, value V) error
}

// ExtendedStorageBackend adds the optional maintenance operations.
type ExtendedStorageBackend[V any] interface {
	StorageBackend[V]

	// Remove deletes key. Removing an absent key is not an error.
	Remove(ctx context.Context, key string) error

	// Update overwrites an existing key and returns ErrNotFound if it is absent.
	Update(ctx context.Context, key string, value V) error

	// ContainsKey reports whether key is present.
	ContainsKey(ctx context.Context, key string) (bool, error)
}
