// Package clock provides the time source used by perron executions.
//
// Executions read elapsed time from Clock.Now and arm their timeout timers
// through Clock.AfterFunc, so tests can swap in a Fake and drive every timer
// deterministically.
package clock

import (
	"time"

	"github.com/jonboulle/clockwork"
)

// Clock is a monotonic time source that can schedule one-shot callbacks.
type Clock interface {
	// Now returns the current time. Readings carry a monotonic component so
	// elapsed durations computed with Sub are immune to wall clock jumps.
	Now() time.Time

	// AfterFunc calls f in its own goroutine once d has elapsed. A Fake
	// waits for the callback to return before Advance moves on.
	AfterFunc(d time.Duration, f func()) Timer
}

// Timer is a cancellable one-shot timer.
type Timer interface {
	// Stop prevents the timer from firing. It returns false if the timer
	// has already fired or been stopped.
	Stop() bool
}

type realClock struct {
	clockwork.Clock
}

// New returns a Clock backed by the system clock.
func New() Clock {
	return realClock{clockwork.NewRealClock()}
}

func (c realClock) AfterFunc(d time.Duration, f func()) Timer {
	return c.Clock.AfterFunc(d, f)
}
