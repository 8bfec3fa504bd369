package replay

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
	"github.com/SmitUplenchwar2687/throttle/internal/history"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// ErrNoEntries is returned by Run when nothing has been loaded.
var ErrNoEntries = errors.New("no entries loaded")

// Replayer replays a recorded history through fresh limiters driven by a
// virtual clock, so a candidate configuration can be compared against the
// decisions that were actually made.
type Replayer struct {
	entries []history.Entry
	cfg     limiter.Config
	configs map[string]limiter.Config
	clock   *clock.VirtualClock
	filter  Filter
	speed   float64 // 1.0 = real-time, 10.0 = 10x, 0 = instant
	opts    []limiter.Option
}

// Result captures the outcome of replaying a single entry.
type Result struct {
	Entry    history.Entry `json:"entry"`
	Admitted bool          `json:"admitted"`
	// Changed is set when a request entry got a different decision than
	// the one recorded.
	Changed bool      `json:"changed"`
	Time    time.Time `json:"time"` // virtual time when the decision was made
}

// Summary aggregates replay statistics.
type Summary struct {
	TotalEntries int                       `json:"total_entries"`
	Filtered     int                       `json:"filtered"`
	Replayed     int                       `json:"replayed"`
	Allowed      int                       `json:"allowed"`
	Denied       int                       `json:"denied"`
	Released     int                       `json:"released"`
	Changed      int                       `json:"changed"`
	Duration     time.Duration             `json:"duration"`      // virtual time span
	WallDuration time.Duration             `json:"wall_duration"` // actual wall clock time
	PerLimiter   map[string]LimiterSummary `json:"per_limiter"`
}

// LimiterSummary has per-limiter stats.
type LimiterSummary struct {
	Allowed  int `json:"allowed"`
	Denied   int `json:"denied"`
	Released int `json:"released"`
	Changed  int `json:"changed"`
}

// New creates a replayer. Every limiter named in the history is created
// from cfg unless Configure gives it its own config. Extra options are
// passed to each limiter after the virtual clock.
func New(cfg limiter.Config, vc *clock.VirtualClock, speed float64, filter Filter, opts ...limiter.Option) *Replayer {
	if speed < 0 {
		speed = 0
	}
	return &Replayer{
		cfg:     cfg,
		configs: make(map[string]limiter.Config),
		clock:   vc,
		speed:   speed,
		filter:  filter,
		opts:    opts,
	}
}

// Configure overrides the config used for the named limiter.
func (r *Replayer) Configure(name string, cfg limiter.Config) {
	r.configs[name] = cfg
}

// Load reads history entries from a JSON array or NDJSON reader.
func (r *Replayer) Load(reader io.Reader) error {
	entries, err := history.LoadJSON(reader)
	if err != nil {
		return fmt.Errorf("loading entries: %w", err)
	}
	r.entries = entries
	return nil
}

// LoadEntries sets the entries directly.
func (r *Replayer) LoadEntries(entries []history.Entry) {
	r.entries = make([]history.Entry, len(entries))
	copy(r.entries, entries)
}

// Run replays all loaded entries. Request entries are re-decided with
// TryAcquire and release entries are applied with Release. The callback is
// called for each replayed entry.
func (r *Replayer) Run(ctx context.Context, cb func(Result)) (*Summary, error) {
	if len(r.entries) == 0 {
		return nil, ErrNoEntries
	}

	// Sort entries by timestamp, keeping recorded order for ties.
	sorted := make([]history.Entry, len(r.entries))
	copy(sorted, r.entries)
	sort.SliceStable(sorted, func(i, j int) bool {
		return sorted[i].Timestamp.Before(sorted[j].Timestamp)
	})

	var filtered []history.Entry
	for _, e := range sorted {
		if r.filter.Match(e) {
			filtered = append(filtered, e)
		}
	}

	summary := &Summary{
		TotalEntries: len(sorted),
		Filtered:     len(filtered),
		PerLimiter:   make(map[string]LimiterSummary),
	}
	if len(filtered) == 0 {
		return summary, nil
	}

	opts := append([]limiter.Option{limiter.WithClock(r.clock)}, r.opts...)
	registry := limiter.NewRegistry(opts...)

	wallStart := time.Now()
	baseTime := filtered[0].Timestamp

	for i, e := range filtered {
		select {
		case <-ctx.Done():
			return summary, ctx.Err()
		default:
		}

		// Advance virtual clock to match the entry's timestamp offset.
		if i > 0 {
			gap := e.Timestamp.Sub(filtered[i-1].Timestamp)
			if gap > 0 {
				if err := r.pace(ctx, gap); err != nil {
					return summary, err
				}
				r.clock.Advance(gap)
			}
		}

		lim, err := registry.GetOrCreate(e.Limiter, r.configFor(e.Limiter))
		if err != nil {
			return summary, err
		}

		result := Result{Entry: e}
		ls := summary.PerLimiter[e.Limiter]
		if e.IsRequest() {
			result.Admitted = lim.TryAcquire()
			result.Changed = result.Admitted != e.Admitted()
			if result.Admitted {
				summary.Allowed++
				ls.Allowed++
			} else {
				summary.Denied++
				ls.Denied++
			}
			if result.Changed {
				summary.Changed++
				ls.Changed++
			}
		} else {
			lim.Release()
			summary.Released++
			ls.Released++
		}
		summary.PerLimiter[e.Limiter] = ls
		summary.Replayed++
		result.Time = r.clock.Now()

		if cb != nil {
			cb(result)
		}
	}

	lastTime := filtered[len(filtered)-1].Timestamp
	summary.Duration = lastTime.Sub(baseTime)
	summary.WallDuration = time.Since(wallStart)

	return summary, nil
}

func (r *Replayer) configFor(name string) limiter.Config {
	if cfg, ok := r.configs[name]; ok {
		return cfg
	}
	return r.cfg
}

// pace sleeps for the scaled wall-clock length of gap, for visual effect.
func (r *Replayer) pace(ctx context.Context, gap time.Duration) error {
	if r.speed <= 0 {
		return nil
	}
	scaledGap := time.Duration(float64(gap) / r.speed)
	if scaledGap <= time.Millisecond {
		return nil
	}
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(scaledGap):
		return nil
	}
}
