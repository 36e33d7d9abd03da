// Package timer defines the port interface for deferred one-shot triggers.
package timer

import "time"

// Deferred arms named one-shot timers. Arming a name that is already armed
// replaces the previous timer, so at most one trigger per name is ever
// outstanding. The scheduler relies on this to keep a single continuation
// chain alive.
type Deferred interface {
	// Arm schedules fn to run once after d. A previous timer armed under
	// the same name is canceled first.
	Arm(name string, d time.Duration, fn func())
	// Cancel stops the timer armed under name, if any.
	Cancel(name string)
}
