// Package kvstore defines the port interface for the durable key-value store.
//
// The store is the only persistence layer of the service: it holds the
// pending-task backlog and the scheduler's running flag, and must survive
// service restarts between scheduling windows. Implementations guarantee
// atomic per-key set/delete and read-after-write consistency for Keys.
package kvstore

import "context"

// Store is the port interface for durable key-value persistence.
type Store interface {
	// Get returns the value at key. The boolean reports whether the key exists.
	Get(ctx context.Context, key string) ([]byte, bool, error)
	// Set upserts the value at key atomically.
	Set(ctx context.Context, key string, value []byte) error
	// Delete removes key. Deleting an absent key is not an error.
	Delete(ctx context.Context, key string) error
	// Keys lists all keys that start with prefix, in unspecified order.
	Keys(ctx context.Context, prefix string) ([]string, error)
}
