package ports

import (
	"context"
	"time"
)

// Cache is a shared key-value store for derived reads. Keys are flat
// strings with namespace prefixes (pipeline_, people_, church_) so that
// invalidation can drop a whole namespace at once. Implementations may be
// process-local or external; prefix deletes must be idempotent and
// commutative so concurrent invalidations need no locking.
//
// Cache failures must never block a read or a mutation: callers absorb
// errors, log, and fall through to source-of-truth computation.
type Cache interface {
	// Get returns the cached value and whether the key was present.
	Get(ctx context.Context, key string) ([]byte, bool, error)

	// Set stores value under key for the given TTL.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// DeletePrefix drops every key beginning with prefix.
	DeletePrefix(ctx context.Context, prefix string) error

	// Close releases the underlying resources.
	Close() error
}
