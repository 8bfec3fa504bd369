package limiter

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
)

// NoTimeout makes Acquire wait until admitted or until its context ends.
const NoTimeout time.Duration = -1

// minRetry is the pause between probes when a rejected caller is told it
// need not wait, which happens when another caller wins the race for a slot.
const minRetry = time.Millisecond

var errTimeout = errors.New("acquire timed out")

// Limiter admits work against a sliding-window request count and, when
// configured, a token bucket. Both checks and their side effects happen
// under one mutex, so an admission is all-or-nothing.
//
// The window is checked before any tokens are taken, and the timestamp is
// recorded only after the bucket also agrees. A bucket rejection therefore
// never occupies a window slot. A caller blocked on tokens alone still
// re-runs the window check on every retry.
//
// Safe for concurrent use. A Limiter runs no goroutines of its own.
type Limiter struct {
	name      string
	cfg       Config
	cost      float64
	clock     clock.Clock
	logger    *slog.Logger
	observers []Observer

	mu     sync.Mutex
	window *slidingWindow
	bucket *tokenBucket
}

// New creates a Limiter. It returns a *ConfigError if cfg is invalid.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	return newLimiter("", cfg, buildOptions(opts))
}

func newLimiter(name string, cfg Config, o options) (*Limiter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	l := &Limiter{
		name:      name,
		cfg:       cfg,
		cost:      cfg.Cost(),
		clock:     o.clock,
		logger:    o.logger,
		observers: o.observers,
		window:    newSlidingWindow(cfg.MaxRequests, cfg.Window),
	}
	if cfg.Bucket != nil {
		b := *cfg.Bucket
		l.cfg.Bucket = &b
		l.bucket = newTokenBucket(&b, cfg.Capacity(), o.clock.Now())
	}
	return l, nil
}

// Name returns the registry name, or "" for a standalone limiter.
func (l *Limiter) Name() string {
	return l.name
}

// Config returns a copy of the limiter's configuration.
func (l *Limiter) Config() Config {
	cfg := l.cfg
	if cfg.Bucket != nil {
		b := *cfg.Bucket
		cfg.Bucket = &b
	}
	return cfg
}

// TryAcquire makes one non-blocking admission attempt.
func (l *Limiter) TryAcquire() bool {
	ok, _, ev := l.attempt()
	l.notify(ev)
	return ok
}

// Acquire blocks until the limiter admits the caller, the timeout elapses,
// or ctx ends. A timeout of zero is exactly TryAcquire; NoTimeout (or any
// negative value) waits indefinitely. A failed Acquire leaves no trace in
// the limiter state.
func (l *Limiter) Acquire(ctx context.Context, timeout time.Duration) bool {
	if timeout == 0 {
		return l.TryAcquire()
	}
	return l.acquire(ctx, timeout) == nil
}

// Wait blocks until admitted or until ctx ends, in which case it returns
// ctx.Err().
func (l *Limiter) Wait(ctx context.Context) error {
	return l.acquire(ctx, NoTimeout)
}

func (l *Limiter) acquire(ctx context.Context, timeout time.Duration) error {
	start := l.clock.Now()
	var deadline time.Time
	if timeout >= 0 {
		deadline = start.Add(timeout)
	}

	for {
		ok, wait, ev := l.attempt()
		if ok {
			ev.Waited = l.clock.Since(start)
			l.notify(ev)
			return nil
		}

		if wait <= 0 {
			wait = minRetry
		}
		if timeout >= 0 {
			remaining := deadline.Sub(l.clock.Now())
			if remaining <= 0 {
				l.giveUp(start, errTimeout)
				return errTimeout
			}
			wait = min(wait, remaining)
		}

		l.logger.Debug("limiter waiting", "limiter", l.name, "wait", wait)
		if err := clock.Sleep(ctx, l.clock, wait); err != nil {
			l.giveUp(start, err)
			return err
		}
	}
}

func (l *Limiter) giveUp(start time.Time, reason error) {
	l.mu.Lock()
	ev := l.eventLocked(EventTimeout, l.clock.Now())
	l.mu.Unlock()

	ev.Waited = l.clock.Since(start)
	l.logger.Debug("limiter acquire abandoned", "limiter", l.name, "waited", ev.Waited, "reason", reason)
	l.notify(ev)
}

// attempt runs one admission under the lock. On rejection it also returns
// the wait estimate computed in the same critical section.
func (l *Limiter) attempt() (bool, time.Duration, Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.window.prune(now)

	if l.admitLocked(now) {
		return true, 0, l.eventLocked(EventAdmitted, now)
	}
	return false, l.waitTimeLocked(now), l.eventLocked(EventRejected, now)
}

func (l *Limiter) admitLocked(now time.Time) bool {
	if !l.window.hasRoom() {
		return false
	}
	if l.bucket != nil && !l.bucket.tryConsume(now, l.cost) {
		return false
	}
	l.window.record(now)
	return true
}

// WaitTime estimates how long until an admission could succeed: the larger
// of the window clearance time and the token refill time. It is zero when
// a probe would succeed now and never increases as time passes without
// further admissions.
func (l *Limiter) WaitTime() time.Duration {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.window.prune(now)
	return l.waitTimeLocked(now)
}

func (l *Limiter) waitTimeLocked(now time.Time) time.Duration {
	wait := l.window.untilRoom(now)
	if l.bucket != nil {
		wait = max(wait, l.bucket.untilAvailable(now, l.cost))
	}
	return wait
}

// Release removes the most recently recorded admission from the window, if
// any. Consumed tokens are not returned.
func (l *Limiter) Release() {
	l.mu.Lock()
	released := l.window.unrecord()
	ev := l.eventLocked(EventReleased, l.clock.Now())
	l.mu.Unlock()

	if released {
		l.notify(ev)
	}
}

// Stats returns a consistent snapshot. Beyond pruning expired timestamps
// and refilling the bucket, it does not change limiter state.
func (l *Limiter) Stats() Stats {
	l.mu.Lock()
	defer l.mu.Unlock()

	now := l.clock.Now()
	l.window.prune(now)

	s := Stats{
		Name:                 l.name,
		WindowLimit:          l.cfg.MaxRequests,
		WindowOccupancy:      l.window.count(),
		WindowSeconds:        l.cfg.Window.Seconds(),
		SecondsUntilCapacity: l.window.untilRoom(now).Seconds(),
	}
	if l.bucket != nil {
		l.bucket.refill(now)
		s.Bucket = &BucketStats{
			Tokens:           l.bucket.tokens,
			Capacity:         l.bucket.capacity,
			RefillRate:       l.bucket.rate,
			TokensPerRequest: l.cost,
		}
	}
	return s
}

func (l *Limiter) eventLocked(kind EventKind, now time.Time) Event {
	ev := Event{
		Limiter:   l.name,
		Kind:      kind,
		Time:      now,
		Occupancy: l.window.count(),
	}
	if l.bucket != nil {
		tokens := l.bucket.tokens
		ev.Tokens = &tokens
	}
	return ev
}

func (l *Limiter) notify(ev Event) {
	for _, o := range l.observers {
		o.Observe(ev)
	}
}
