package tiered_test

import (
	"context"
	"testing"
	"time"

	"github.com/Remy-Larroye/gemini-palm-google-sheet/internal/adapter/tiered"
)

// memCache is a simple in-memory cache for testing.
type memCache struct {
	data map[string][]byte
}

func newMemCache() *memCache {
	return &memCache{data: make(map[string][]byte)}
}

func (m *memCache) Get(_ context.Context, key string) (data []byte, ok bool, err error) {
	v, ok := m.data[key]
	return v, ok, nil
}

func (m *memCache) Set(_ context.Context, key string, value []byte, _ time.Duration) error {
	m.data[key] = value
	return nil
}

func (m *memCache) Delete(_ context.Context, key string) error {
	delete(m.data, key)
	return nil
}

func TestTieredL1Hit(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["answers.2.3.a1b2"] = []byte("Paris")

	val, found, err := c.Get(ctx, "answers.2.3.a1b2")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L1 hit")
	}
	if string(val) != "Paris" {
		t.Fatalf("expected Paris, got %s", val)
	}
}

func TestTieredL2HitBackfillsL1(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	// Answer survived a restart in the durable level only.
	l2.data["answers.5.1.c3d4"] = []byte("42")

	val, found, err := c.Get(ctx, "answers.5.1.c3d4")
	if err != nil {
		t.Fatal(err)
	}
	if !found {
		t.Fatal("expected L2 hit")
	}
	if string(val) != "42" {
		t.Fatalf("expected 42, got %s", val)
	}

	backfilled, ok := l1.data["answers.5.1.c3d4"]
	if !ok {
		t.Fatal("expected L1 backfill")
	}
	if string(backfilled) != "42" {
		t.Fatalf("expected backfilled 42, got %s", backfilled)
	}
}

func TestTieredMiss(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	_, found, err := c.Get(ctx, "answers.9.9.ffff")
	if err != nil {
		t.Fatal(err)
	}
	if found {
		t.Fatal("expected miss")
	}
}

func TestTieredSetWritesBothLevels(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	if err := c.Set(ctx, "answers.2.3.a1b2", []byte("Paris"), time.Minute); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["answers.2.3.a1b2"]; !ok {
		t.Fatal("expected answer in L1")
	}
	if _, ok := l2.data["answers.2.3.a1b2"]; !ok {
		t.Fatal("expected answer in L2")
	}
}

func TestTieredDeleteRemovesBothLevels(t *testing.T) {
	l1 := newMemCache()
	l2 := newMemCache()
	c := tiered.New(l1, l2, 5*time.Minute)
	ctx := context.Background()

	l1.data["answers.2.3.a1b2"] = []byte("stale")
	l2.data["answers.2.3.a1b2"] = []byte("stale")

	if err := c.Delete(ctx, "answers.2.3.a1b2"); err != nil {
		t.Fatal(err)
	}

	if _, ok := l1.data["answers.2.3.a1b2"]; ok {
		t.Fatal("expected answer deleted from L1")
	}
	if _, ok := l2.data["answers.2.3.a1b2"]; ok {
		t.Fatal("expected answer deleted from L2")
	}
}
