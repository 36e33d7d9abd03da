// Package clock provides the in-process deferred timer the scheduler uses to
// re-arm itself between windows.
package clock

import (
	"sync"
	"time"
)

// Deferred schedules named one-shot triggers. Arming a name that is already
// armed replaces its pending timer, so at most one trigger per name exists
// at any time.
type Deferred struct {
	mu     sync.Mutex
	timers map[string]*time.Timer
}

// NewDeferred creates an empty trigger table.
func NewDeferred() *Deferred {
	return &Deferred{timers: make(map[string]*time.Timer)}
}

// Arm schedules fn to run once after delay, replacing any pending trigger
// with the same name.
func (d *Deferred) Arm(name string, delay time.Duration, fn func()) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if existing, ok := d.timers[name]; ok {
		existing.Stop()
	}

	var timer *time.Timer
	timer = time.AfterFunc(delay, func() {
		d.mu.Lock()
		if d.timers[name] == timer {
			delete(d.timers, name)
		}
		d.mu.Unlock()
		fn()
	})
	d.timers[name] = timer
}

// Cancel stops the pending trigger for name, if any.
func (d *Deferred) Cancel(name string) {
	d.mu.Lock()
	defer d.mu.Unlock()

	if timer, ok := d.timers[name]; ok {
		timer.Stop()
		delete(d.timers, name)
	}
}
