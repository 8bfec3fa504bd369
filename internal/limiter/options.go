package limiter

import (
	"log/slog"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
)

// Option customises a Limiter or Registry.
type Option func(*options)

type options struct {
	clock     clock.Clock
	logger    *slog.Logger
	observers []Observer
}

func buildOptions(opts []Option) options {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	if o.clock == nil {
		o.clock = clock.NewRealClock()
	}
	if o.logger == nil {
		o.logger = slog.Default()
	}
	return o
}

// WithClock sets the time source. Defaults to the real clock.
func WithClock(c clock.Clock) Option {
	return func(o *options) { o.clock = c }
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithObserver adds an observer notified of every admission outcome.
func WithObserver(obs Observer) Option {
	return func(o *options) {
		if obs != nil {
			o.observers = append(o.observers, obs)
		}
	}
}
