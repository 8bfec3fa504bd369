package clock

import (
	"context"
	"time"
)

// Clock is the time source for limiters. Limiters never call time.Now or
// time.Sleep directly, so every admission decision can be driven by a
// VirtualClock in tests.
type Clock interface {
	// Now returns the current time.
	Now() time.Time
	// Since returns the duration elapsed since t.
	Since(t time.Time) time.Duration
	// After returns a channel that receives the current time after duration d.
	After(d time.Duration) <-chan time.Time
}

// RealClock delegates to the standard time package. Times returned by Now
// carry a monotonic reading, so elapsed-time arithmetic is immune to wall
// clock jumps.
type RealClock struct{}

func NewRealClock() *RealClock {
	return &RealClock{}
}

func (c *RealClock) Now() time.Time {
	return time.Now()
}

func (c *RealClock) Since(t time.Time) time.Duration {
	return time.Since(t)
}

func (c *RealClock) After(d time.Duration) <-chan time.Time {
	return time.After(d)
}

// afterStopper is implemented by clocks that can forget an After channel
// nobody will read.
type afterStopper interface {
	stopAfter(ch <-chan time.Time)
}

// Sleep suspends the calling goroutine for d on clock c, or until ctx is done.
// It returns ctx.Err() when the context ends first.
func Sleep(ctx context.Context, c Clock, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	ch := c.After(d)
	select {
	case <-ctx.Done():
		if s, ok := c.(afterStopper); ok {
			s.stopAfter(ch)
		}
		return ctx.Err()
	case <-ch:
		return nil
	}
}
