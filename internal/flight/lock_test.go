package flight

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"
)

func TestLockMutualExclusion(t *testing.T) {
	l := NewLock(50 * time.Millisecond)
	ctx := context.Background()

	if !l.TryAcquire(ctx) {
		t.Fatal("first acquire should succeed")
	}
	if l.TryAcquire(ctx) {
		t.Fatal("second acquire should fail while lock is held")
	}

	l.Release()

	if !l.TryAcquire(ctx) {
		t.Fatal("acquire after release should succeed")
	}
	l.Release()
}

func TestTryAcquireWaitsForHolder(t *testing.T) {
	l := NewLock(500 * time.Millisecond)
	ctx := context.Background()

	if !l.TryAcquire(ctx) {
		t.Fatal("first acquire should succeed")
	}

	// Holder releases midway through the waiter's bound.
	go func() {
		time.Sleep(50 * time.Millisecond)
		l.Release()
	}()

	if !l.TryAcquire(ctx) {
		t.Fatal("waiter should acquire once the holder releases within the bound")
	}
	l.Release()
}

func TestTryAcquireGivesUpAfterBound(t *testing.T) {
	l := NewLock(50 * time.Millisecond)
	ctx := context.Background()

	if !l.TryAcquire(ctx) {
		t.Fatal("first acquire should succeed")
	}
	defer l.Release()

	start := time.Now()
	if l.TryAcquire(ctx) {
		t.Fatal("acquire should time out while lock is held")
	}
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("gave up after %v, want at least ~50ms of waiting", elapsed)
	}
}

func TestTryAcquireCancelledContext(t *testing.T) {
	l := NewLock(time.Second)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if l.TryAcquire(ctx) {
		t.Fatal("acquire with cancelled context should fail")
	}
}

func TestDoReleasesOnError(t *testing.T) {
	l := NewLock(50 * time.Millisecond)
	ctx := context.Background()

	wantErr := errors.New("model call failed")
	ok, err := l.Do(ctx, func() error { return wantErr })
	if !ok {
		t.Fatal("expected lock to be acquired")
	}
	if !errors.Is(err, wantErr) {
		t.Fatalf("expected %v, got %v", wantErr, err)
	}

	// The lock must be free again even though fn failed.
	if !l.TryAcquire(ctx) {
		t.Fatal("lock should be released after fn error")
	}
	l.Release()
}

func TestDoSkipsFnWhenBusy(t *testing.T) {
	l := NewLock(20 * time.Millisecond)
	ctx := context.Background()

	if !l.TryAcquire(ctx) {
		t.Fatal("first acquire should succeed")
	}
	defer l.Release()

	called := false
	ok, err := l.Do(ctx, func() error {
		called = true
		return nil
	})
	if err != nil {
		t.Fatal(err)
	}
	if ok {
		t.Fatal("Do should report busy while lock is held")
	}
	if called {
		t.Fatal("fn should not run when the lock is busy")
	}
}

func TestDoSerialisesCallers(t *testing.T) {
	const workers = 8
	l := NewLock(time.Second)
	ctx := context.Background()

	var running atomic.Int32
	var maxSeen atomic.Int32
	done := make(chan struct{}, workers)

	for range workers {
		go func() {
			defer func() { done <- struct{}{} }()
			_, _ = l.Do(ctx, func() error {
				cur := running.Add(1)
				for {
					old := maxSeen.Load()
					if cur <= old || maxSeen.CompareAndSwap(old, cur) {
						break
					}
				}
				time.Sleep(5 * time.Millisecond)
				running.Add(-1)
				return nil
			})
		}()
	}

	for range workers {
		<-done
	}

	if m := maxSeen.Load(); m > 1 {
		t.Errorf("max concurrent holders = %d, want 1", m)
	}
}
