package replay

import (
	"slices"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/history"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// Filter defines criteria for selecting history entries during replay.
type Filter struct {
	Limiters []string            // Only include these limiter names (empty = all)
	Types    []limiter.EventKind // Only include these entry types (empty = all)
	After    time.Time           // Only include entries after this time (zero = no limit)
	Before   time.Time           // Only include entries before this time (zero = no limit)
}

// Match returns true if the entry passes the filter.
func (f *Filter) Match(e history.Entry) bool {
	if len(f.Limiters) > 0 && !slices.Contains(f.Limiters, e.Limiter) {
		return false
	}
	if len(f.Types) > 0 && !slices.Contains(f.Types, e.Type) {
		return false
	}
	if !f.After.IsZero() && !e.Timestamp.After(f.After) {
		return false
	}
	if !f.Before.IsZero() && !e.Timestamp.Before(f.Before) {
		return false
	}
	return true
}
