package perron

import (
	"time"

	"github.com/addityasingh/perron/pkg/clock"
)

// governor owns the connection and read timers of one execution. All
// methods except the timer callbacks run under the execution's lock; the
// callbacks hand back to the execution through expire, which re-enters the
// governor via expired under that same lock.
type governor struct {
	clock     clock.Clock
	connLimit time.Duration
	readLimit time.Duration
	mode      ReadTimeoutMode
	expire    func(kind FaultKind, gen uint64)

	connTimer clock.Timer
	connGen   uint64
	connDone  bool

	readTimer    clock.Timer
	readGen      uint64
	readArmed    bool
	lastActivity time.Time

	stopped bool
}

func newGovernor(clk clock.Clock, connLimit, readLimit time.Duration, mode ReadTimeoutMode, expire func(FaultKind, uint64)) *governor {
	return &governor{
		clock:     clk,
		connLimit: connLimit,
		readLimit: readLimit,
		mode:      mode,
		expire:    expire,
	}
}

// armConnect starts the connection timer. It is a no-op once connect has
// been observed or the governor has been stopped.
func (g *governor) armConnect() {
	if g.stopped || g.connDone || g.connTimer != nil {
		return
	}
	g.connGen++
	gen := g.connGen
	g.connTimer = g.clock.AfterFunc(g.connLimit, func() {
		g.expire(FaultConnectionTimeout, gen)
	})
}

// connected disarms the connection timer for good and arms the read timer.
func (g *governor) connected() {
	g.disarmConnect()
	g.armRead()
}

func (g *governor) disarmConnect() {
	g.connDone = true
	g.connGen++
	if g.connTimer != nil {
		g.connTimer.Stop()
		g.connTimer = nil
	}
}

// armRead starts the read timer once; later calls are no-ops.
func (g *governor) armRead() {
	if g.stopped || g.readArmed {
		return
	}
	g.readArmed = true
	g.lastActivity = g.clock.Now()
	g.scheduleRead(g.readLimit)
}

func (g *governor) scheduleRead(d time.Duration) {
	g.readGen++
	gen := g.readGen
	g.readTimer = g.clock.AfterFunc(d, func() {
		g.expire(FaultReadTimeout, gen)
	})
}

// activity records socket or stream progress. Only the idle mode uses it.
func (g *governor) activity() {
	if g.readArmed && g.mode == ReadTimeoutIdle {
		g.lastActivity = g.clock.Now()
	}
}

// expired decides whether a fired timer is a genuine timeout. Stale
// callbacks return false. In idle mode a read timer that fires while
// activity happened inside the window is rescheduled for the remainder.
func (g *governor) expired(kind FaultKind, gen uint64) bool {
	if g.stopped {
		return false
	}
	switch kind {
	case FaultConnectionTimeout:
		if gen != g.connGen || g.connTimer == nil {
			return false
		}
		g.connTimer = nil
		return true
	case FaultReadTimeout:
		if gen != g.readGen || !g.readArmed {
			return false
		}
		if g.mode == ReadTimeoutIdle {
			if idle := g.clock.Now().Sub(g.lastActivity); idle < g.readLimit {
				g.scheduleRead(g.readLimit - idle)
				return false
			}
		}
		g.readTimer = nil
		return true
	}
	return false
}

// stop clears both timers. The governor is inert afterwards.
func (g *governor) stop() {
	g.stopped = true
	g.connGen++
	g.readGen++
	if g.connTimer != nil {
		g.connTimer.Stop()
		g.connTimer = nil
	}
	if g.readTimer != nil {
		g.readTimer.Stop()
		g.readTimer = nil
	}
}

// limit returns the configured duration for a timeout kind.
func (g *governor) limit(kind FaultKind) time.Duration {
	if kind == FaultConnectionTimeout {
		return g.connLimit
	}
	return g.readLimit
}
