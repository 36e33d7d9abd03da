// Package cache defines the port interface for answer caching.
//
// The cache holds generated answers keyed by cell and prompt fingerprint so
// that recalculation storms do not re-issue identical remote calls. It is
// best-effort: a miss only costs one more generation.
package cache

import (
	"context"
	"time"
)

// Cache is the port interface for TTL-bounded key-value caching.
type Cache interface {
	Get(ctx context.Context, key string) ([]byte, bool, error)
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}
