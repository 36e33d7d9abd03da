// Package natskv implements the kvstore and cache ports on NATS JetStream
// KeyValue buckets. This is the primary durable backend: task entries and
// the scheduler flag survive service restarts between scheduling windows.
package natskv

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
)

// Conn owns the NATS connection and hands out bucket-backed stores.
type Conn struct {
	nc *nats.Conn
	js jetstream.JetStream
}

// Connect establishes a connection to NATS and initializes JetStream.
func Connect(url string) (*Conn, error) {
	nc, err := nats.Connect(url)
	if err != nil {
		return nil, fmt.Errorf("nats connect: %w", err)
	}

	js, err := jetstream.New(nc)
	if err != nil {
		nc.Close()
		return nil, fmt.Errorf("jetstream init: %w", err)
	}

	slog.Info("nats connected", "url", url)
	return &Conn{nc: nc, js: js}, nil
}

// Bucket ensures the named KV bucket exists and returns a store over it.
// ttl configures bucket-level entry expiry; zero means entries never expire.
func (c *Conn) Bucket(ctx context.Context, name string, ttl time.Duration) (*Store, error) {
	kv, err := c.js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket: name,
		TTL:    ttl,
	})
	if err != nil {
		return nil, fmt.Errorf("kv bucket %s: %w", name, err)
	}
	return &Store{kv: kv}, nil
}

// Close shuts down the NATS connection.
func (c *Conn) Close() error {
	c.nc.Close()
	return nil
}

// Store wraps one JetStream KeyValue bucket as a durable key-value store.
type Store struct {
	kv jetstream.KeyValue
}

// New creates a store over an existing KeyValue bucket.
func New(kv jetstream.KeyValue) *Store {
	return &Store{kv: kv}
}

// Get retrieves the value at key.
func (s *Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	entry, err := s.kv.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return nil, false, nil
		}
		return nil, false, err
	}
	return entry.Value(), true, nil
}

// Set upserts the value at key.
func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	_, err := s.kv.Put(ctx, key, value)
	return err
}

// Delete removes key. Absent keys are ignored.
func (s *Store) Delete(ctx context.Context, key string) error {
	err := s.kv.Delete(ctx, key)
	if errors.Is(err, jetstream.ErrKeyNotFound) {
		return nil
	}
	return err
}

// Keys lists all keys in the bucket that start with prefix.
func (s *Store) Keys(ctx context.Context, prefix string) ([]string, error) {
	all, err := s.kv.Keys(ctx)
	if err != nil {
		if errors.Is(err, jetstream.ErrNoKeysFound) {
			return nil, nil
		}
		return nil, err
	}
	keys := all[:0]
	for _, k := range all {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys, nil
}

// Cache adapts a bucket to the answer-cache port. Entry TTL is managed at
// bucket level, so the per-call ttl argument is ignored.
type Cache struct {
	s *Store
}

// NewCache creates a cache view over a bucket-backed store.
func NewCache(s *Store) *Cache {
	return &Cache{s: s}
}

// Get retrieves a cached value.
func (c *Cache) Get(ctx context.Context, key string) ([]byte, bool, error) {
	return c.s.Get(ctx, key)
}

// Set stores a value. TTL is bucket-level, the argument is ignored.
func (c *Cache) Set(ctx context.Context, key string, value []byte, _ time.Duration) error {
	return c.s.Set(ctx, key, value)
}

// Delete removes a cached value.
func (c *Cache) Delete(ctx context.Context, key string) error {
	return c.s.Delete(ctx, key)
}
