package history

import (
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// Entry is one recorded limiter outcome.
type Entry struct {
	ID        string            `json:"id"`
	Timestamp time.Time         `json:"timestamp"`
	Type      limiter.EventKind `json:"type"`
	Limiter   string            `json:"limiter"`
	Waited    time.Duration     `json:"waited,omitempty"`
	Occupancy int               `json:"occupancy"`
	Tokens    *float64          `json:"tokens,omitempty"`
	Metadata  map[string]string `json:"metadata,omitempty"`
}

// IsRequest reports whether the entry records an admission attempt, as
// opposed to a release.
func (e Entry) IsRequest() bool {
	switch e.Type {
	case limiter.EventAdmitted, limiter.EventRejected, limiter.EventTimeout:
		return true
	}
	return false
}

// Admitted reports whether the recorded attempt was let through.
func (e Entry) Admitted() bool {
	return e.Type == limiter.EventAdmitted
}

// FromEvent converts a limiter event into an entry without an ID.
func FromEvent(ev limiter.Event) Entry {
	return Entry{
		Timestamp: ev.Time,
		Type:      ev.Kind,
		Limiter:   ev.Limiter,
		Waited:    ev.Waited,
		Occupancy: ev.Occupancy,
		Tokens:    ev.Tokens,
	}
}

// Query selects entries from a Log. Zero fields match everything.
type Query struct {
	Type    limiter.EventKind
	Limiter string
	// Limit keeps the most recent N matches.
	Limit int
	// Newest returns matches newest first instead of oldest first.
	Newest bool
}

func (q Query) match(e Entry) bool {
	if q.Type != "" && e.Type != q.Type {
		return false
	}
	if q.Limiter != "" && e.Limiter != q.Limiter {
		return false
	}
	return true
}
