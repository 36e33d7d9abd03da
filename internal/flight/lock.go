// Package flight provides the single-flight lock that keeps evaluation
// requests and scheduler drain windows from calling the model concurrently.
// Only one remote call may be in flight per service instance.
package flight

import (
	"context"
	"time"

	"golang.org/x/sync/semaphore"
)

// DefaultWait is how long TryAcquire waits for the current holder before
// giving up. One second covers the tail of a typical model call without
// stalling the caller noticeably.
const DefaultWait = time.Second

// Lock is a weight-1 semaphore with a bounded acquisition wait. Callers that
// fail to acquire it within the bound are expected to fall back to a
// placeholder result rather than queue up behind the holder.
type Lock struct {
	sem  *semaphore.Weighted
	wait time.Duration
}

// NewLock creates a Lock. wait bounds how long TryAcquire blocks; values
// below zero are clamped to DefaultWait.
func NewLock(wait time.Duration) *Lock {
	if wait < 0 {
		wait = DefaultWait
	}
	return &Lock{sem: semaphore.NewWeighted(1), wait: wait}
}

// TryAcquire attempts to take the lock, waiting up to the configured bound
// for the current holder to release it. It returns false when the bound
// elapses or ctx is cancelled first.
func (l *Lock) TryAcquire(ctx context.Context) bool {
	waitCtx, cancel := context.WithTimeout(ctx, l.wait)
	defer cancel()
	return l.sem.Acquire(waitCtx, 1) == nil
}

// Release returns the lock. Only the goroutine that acquired it may call
// Release, exactly once per successful TryAcquire.
func (l *Lock) Release() {
	l.sem.Release(1)
}

// Do runs fn under the lock and releases it on every path, including panics
// inside fn. ok is false when the lock could not be acquired within the
// bound; fn is not called in that case.
func (l *Lock) Do(ctx context.Context, fn func() error) (ok bool, err error) {
	if !l.TryAcquire(ctx) {
		return false, nil
	}
	defer l.Release()
	return true, fn()
}
