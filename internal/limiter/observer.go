package limiter

import "time"

// EventKind classifies what happened to a limiter.
type EventKind string

const (
	EventAdmitted EventKind = "admitted"
	EventRejected EventKind = "rejected"
	EventReleased EventKind = "released"
	EventTimeout  EventKind = "timeout"
)

// Event describes one admission outcome. Occupancy and Tokens are the state
// immediately after the outcome was committed; Tokens is nil without a bucket.
type Event struct {
	Limiter   string        `json:"limiter"`
	Kind      EventKind     `json:"kind"`
	Time      time.Time     `json:"time"`
	Waited    time.Duration `json:"waited,omitempty"`
	Occupancy int           `json:"occupancy"`
	Tokens    *float64      `json:"tokens,omitempty"`
}

// Observer receives limiter events. Observe is called after the limiter
// lock has been released, possibly from many goroutines at once.
type Observer interface {
	Observe(Event)
}

// ObserverFunc adapts a function to Observer.
type ObserverFunc func(Event)

func (f ObserverFunc) Observe(e Event) { f(e) }
