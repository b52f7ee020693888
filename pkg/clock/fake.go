package clock

import (
	"sort"
	"sync"
	"time"

	"github.com/jonboulle/clockwork"
)

// Fake is a manually advanced Clock for tests, built on a clockwork
// FakeClock. Advance steps the clock from deadline to deadline and waits for
// each callback to return, so timers fire in deadline order and a callback
// observes its own deadline as Now.
type Fake struct {
	fc *clockwork.FakeClock

	mu     sync.Mutex
	seq    int
	timers []*fakeTimer
}

type fakeTimer struct {
	clock    *Fake
	timer    clockwork.Timer
	deadline time.Time
	seq      int
	ran      chan struct{}
	stopped  bool
}

// NewFake returns a Fake whose current time is start.
func NewFake(start time.Time) *Fake {
	return &Fake{fc: clockwork.NewFakeClockAt(start)}
}

// Now returns the fake's current time.
func (c *Fake) Now() time.Time {
	return c.fc.Now()
}

// AfterFunc schedules f to run once the fake has been advanced by d.
func (c *Fake) AfterFunc(d time.Duration, f func()) Timer {
	t := &fakeTimer{clock: c, deadline: c.fc.Now().Add(d), ran: make(chan struct{})}
	t.timer = c.fc.AfterFunc(d, func() {
		defer close(t.ran)
		f()
	})

	c.mu.Lock()
	c.seq++
	t.seq = c.seq
	c.timers = append(c.timers, t)
	c.mu.Unlock()
	return t
}

// Advance moves the clock forward by d, firing every timer whose deadline
// falls inside the window. Timers armed by a callback are fired in the same
// call if their deadline is also inside the window.
func (c *Fake) Advance(d time.Duration) {
	target := c.fc.Now().Add(d)
	for {
		c.mu.Lock()
		next := c.nextDue(target)
		c.mu.Unlock()
		if next == nil {
			break
		}
		if step := next.deadline.Sub(c.fc.Now()); step > 0 {
			c.fc.Advance(step)
		}
		<-next.ran
	}
	if rest := target.Sub(c.fc.Now()); rest > 0 {
		c.fc.Advance(rest)
	}
}

// Pending reports how many timers are armed and not yet fired or stopped.
func (c *Fake) Pending() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.timers {
		if t.live() {
			n++
		}
	}
	return n
}

// nextDue drops spent timers and returns the earliest live one due at or
// before target. Caller holds c.mu.
func (c *Fake) nextDue(target time.Time) *fakeTimer {
	live := c.timers[:0]
	for _, t := range c.timers {
		if t.live() {
			live = append(live, t)
		}
	}
	c.timers = live

	sort.SliceStable(c.timers, func(i, j int) bool {
		if c.timers[i].deadline.Equal(c.timers[j].deadline) {
			return c.timers[i].seq < c.timers[j].seq
		}
		return c.timers[i].deadline.Before(c.timers[j].deadline)
	})

	if len(c.timers) == 0 || c.timers[0].deadline.After(target) {
		return nil
	}
	return c.timers[0]
}

// live reports whether t can still fire. Caller holds t.clock.mu.
func (t *fakeTimer) live() bool {
	if t.stopped {
		return false
	}
	select {
	case <-t.ran:
		return false
	default:
		return true
	}
}

func (t *fakeTimer) Stop() bool {
	t.clock.mu.Lock()
	defer t.clock.mu.Unlock()
	if t.stopped || !t.timer.Stop() {
		return false
	}
	t.stopped = true
	return true
}
