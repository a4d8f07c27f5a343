package tokenbucket

import (
	"sync/atomic"
	"time"
)

// Clock is a monotonic time source. Now returns the time elapsed since a fixed,
// clock-specific epoch. Readings must never decrease.
//
// Wall-clock time is unsuitable because it can jump when the system time is
// changed; buckets reckon purely in elapsed time.
type Clock interface {
	Now() time.Duration
}

// epoch is captured once so every SystemClock reading shares the same axis.
var epoch = time.Now()

type systemClock struct{}

func (systemClock) Now() time.Duration {
	// time.Since uses the monotonic reading carried by epoch.
	return time.Since(epoch)
}

// SystemClock returns the process-wide monotonic clock.
func SystemClock() Clock {
	return systemClock{}
}

// ManualClock is a Clock that only moves when told to. It is safe for
// concurrent use and is intended for tests and simulations.
type ManualClock struct {
	now atomic.Int64
}

// NewManualClock returns a ManualClock reading start.
func NewManualClock(start time.Duration) *ManualClock {
	c := &ManualClock{}
	c.now.Store(int64(start))
	return c
}

// Now returns the current reading.
func (c *ManualClock) Now() time.Duration {
	return time.Duration(c.now.Load())
}

// Advance moves the clock forward by d. Negative values are ignored.
func (c *ManualClock) Advance(d time.Duration) {
	if d <= 0 {
		return
	}
	c.now.Add(int64(d))
}

// Set moves the clock to t. Attempts to move it backwards are ignored.
func (c *ManualClock) Set(t time.Duration) {
	for {
		cur := c.now.Load()
		if int64(t) <= cur {
			return
		}
		if c.now.CompareAndSwap(cur, int64(t)) {
			return
		}
	}
}
