// Package provider defines the byte store behind sessioncache.ProviderCache.
//
// Implementations MUST be byte-for-byte transparent: Get must return exactly the
// same []byte that was previously passed to Set for a key (no prepended/appended
// metadata, no re-encoding, no mutation).
//
// The keyspace "session:<ns>:" is owned by sessioncache. Foreign writes under
// it fail frame validation and are deleted on read.
package provider

import (
	"context"
	"time"
)

// Provider is a minimal byte store with TTLs. Must be safe for concurrent use.
type Provider interface {
	// Get returns (value, true, nil) on hit; (nil, false, nil) on miss.
	// If an IO/remote error happens, return (nil, false, err).
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value with the given TTL. May ignore cost if unsupported.
	// Returns ok=false when the store rejected the write under pressure.
	Set(ctx context.Context, key string, value []byte, cost int64, ttl time.Duration) (ok bool, err error)

	// Del removes a key (best-effort). Missing keys are not an error.
	Del(ctx context.Context, key string) error

	// Close releases resources.
	Close(ctx context.Context) error
}
