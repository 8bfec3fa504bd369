// Package throttle is the public API of the dual-mode rate limiter: a
// sliding-window request limit plus an optional token bucket, enforced
// together under one lock, and a registry of named limiters.
package throttle

import (
	"log/slog"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/pkg/clock"
)

// Limiter admits or rejects operations against both of its constraints.
type Limiter = limiter.Limiter

// Config holds the parameters of a limiter.
type Config = limiter.Config

// BucketConfig enables and sizes the token bucket.
type BucketConfig = limiter.BucketConfig

// Stats is a point-in-time snapshot of a limiter.
type Stats = limiter.Stats

// BucketStats is the token bucket part of Stats.
type BucketStats = limiter.BucketStats

// Registry maps names to limiters. The first config registered for a name
// wins.
type Registry = limiter.Registry

// ConfigError reports an invalid configuration field.
type ConfigError = limiter.ConfigError

// Event is delivered to observers after each decision.
type Event = limiter.Event

// EventKind names the outcome carried by an Event.
type EventKind = limiter.EventKind

// Observer receives limiter events.
type Observer = limiter.Observer

// ObserverFunc adapts a function to Observer.
type ObserverFunc = limiter.ObserverFunc

// Option configures a limiter or registry.
type Option = limiter.Option

const (
	EventAdmitted = limiter.EventAdmitted
	EventRejected = limiter.EventRejected
	EventReleased = limiter.EventReleased
	EventTimeout  = limiter.EventTimeout
)

// NoTimeout makes Acquire wait until admitted or cancelled.
const NoTimeout = limiter.NoTimeout

// ErrInvalidConfig is wrapped by every ConfigError.
var ErrInvalidConfig = limiter.ErrInvalidConfig

// New creates an unnamed limiter.
func New(cfg Config, opts ...Option) (*Limiter, error) {
	return limiter.New(cfg, opts...)
}

// NewRegistry creates an empty registry whose limiters share opts.
func NewRegistry(opts ...Option) *Registry {
	return limiter.NewRegistry(opts...)
}

// Default returns the process-wide registry.
func Default() *Registry {
	return limiter.Default()
}

// GetOrCreate returns the limiter registered under name in the default
// registry, creating it from cfg on first use.
func GetOrCreate(name string, cfg Config) (*Limiter, error) {
	return limiter.GetOrCreate(name, cfg)
}

// WithClock sets the time source.
func WithClock(c clock.Clock) Option {
	return limiter.WithClock(c)
}

// WithLogger sets the logger used for debug output.
func WithLogger(l *slog.Logger) Option {
	return limiter.WithLogger(l)
}

// WithObserver adds an event observer.
func WithObserver(obs Observer) Option {
	return limiter.WithObserver(obs)
}
