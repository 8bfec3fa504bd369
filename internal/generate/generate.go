package generate

import (
	"fmt"
	"math/rand"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/throttle/internal/history"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

const (
	// PatternSteady generates evenly distributed requests.
	PatternSteady = "steady"
	// PatternBurst generates clustered bursts with quiet gaps.
	PatternBurst = "burst"
	// PatternRamp generates request density that increases over time.
	PatternRamp = "ramp"
)

// DefaultEndpoints is the endpoint pool recorded in entry metadata when
// Options.Endpoints is not provided.
var DefaultEndpoints = []string{
	"GET /api/users",
	"GET /api/data",
	"POST /api/events",
	"GET /api/search",
	"PUT /api/settings",
}

// Options controls how synthetic requests are generated.
type Options struct {
	Count     int
	Limiters  int
	Prefix    string // limiter names are Prefix-1 .. Prefix-N
	Duration  time.Duration
	Pattern   string
	Start     time.Time
	Seed      int64
	Endpoints []string
}

// DefaultOptions returns the defaults used by the CLI.
func DefaultOptions() Options {
	return Options{
		Count:    100,
		Limiters: 3,
		Prefix:   "user",
		Duration: 5 * time.Minute,
		Pattern:  PatternSteady,
	}
}

// Requests creates synthetic request entries sorted by timestamp. Every
// entry is recorded as admitted, so a replay reports each rejection as a
// changed decision.
func Requests(opts Options) ([]history.Entry, error) {
	if opts.Count <= 0 {
		return nil, fmt.Errorf("count must be positive, got %d", opts.Count)
	}
	if opts.Limiters <= 0 {
		return nil, fmt.Errorf("limiters must be positive, got %d", opts.Limiters)
	}
	if opts.Duration <= 0 {
		return nil, fmt.Errorf("duration must be positive, got %s", opts.Duration)
	}

	if opts.Pattern == "" {
		opts.Pattern = PatternSteady
	}
	if opts.Prefix == "" {
		opts.Prefix = "user"
	}
	if opts.Start.IsZero() {
		opts.Start = time.Now().Truncate(time.Second)
	}
	if len(opts.Endpoints) == 0 {
		opts.Endpoints = DefaultEndpoints
	}
	if opts.Seed == 0 {
		opts.Seed = time.Now().UnixNano()
	}

	g := &generator{
		rng:       rand.New(rand.NewSource(opts.Seed)),
		names:     limiterNames(opts.Prefix, opts.Limiters),
		endpoints: opts.Endpoints,
	}

	var offsets []time.Duration
	switch opts.Pattern {
	case PatternBurst:
		offsets = g.burst(opts.Count, opts.Duration)
	case PatternRamp:
		offsets = g.ramp(opts.Count, opts.Duration)
	default: // steady and unknown patterns default to steady behavior.
		offsets = g.steady(opts.Count, opts.Duration)
	}
	sort.Slice(offsets, func(i, j int) bool { return offsets[i] < offsets[j] })

	entries := make([]history.Entry, len(offsets))
	for i, off := range offsets {
		entries[i] = g.entry(opts.Start.Add(off))
	}
	return entries, nil
}

func limiterNames(prefix string, n int) []string {
	names := make([]string, n)
	for i := range names {
		names[i] = fmt.Sprintf("%s-%d", prefix, i+1)
	}
	return names
}

type generator struct {
	rng       *rand.Rand
	names     []string
	endpoints []string
}

// entry draws IDs from the seeded source so a fixed seed reproduces the
// whole history.
func (g *generator) entry(ts time.Time) history.Entry {
	id, err := uuid.NewRandomFromReader(g.rng)
	if err != nil {
		// *rand.Rand never fails to read.
		panic(err)
	}

	return history.Entry{
		ID:        id.String(),
		Timestamp: ts,
		Type:      limiter.EventAdmitted,
		Limiter:   g.names[g.rng.Intn(len(g.names))],
		Metadata:  map[string]string{"endpoint": g.endpoints[g.rng.Intn(len(g.endpoints))]},
	}
}

func (g *generator) steady(count int, dur time.Duration) []time.Duration {
	interval := dur / time.Duration(count)
	offsets := make([]time.Duration, count)
	for i := range offsets {
		offsets[i] = time.Duration(i) * interval
	}
	return offsets
}

func (g *generator) burst(count int, dur time.Duration) []time.Duration {
	offsets := make([]time.Duration, 0, count)
	numBursts := 4
	burstSize := count / numBursts
	burstGap := dur / time.Duration(numBursts)

	for b := 0; b < numBursts; b++ {
		burstStart := time.Duration(b) * burstGap
		for i := 0; i < burstSize; i++ {
			offset := time.Duration(g.rng.Intn(1000)) * time.Millisecond
			offsets = append(offsets, burstStart+offset)
		}
	}

	for len(offsets) < count {
		offsets = append(offsets, time.Duration(g.rng.Int63n(int64(dur))))
	}
	return offsets
}

func (g *generator) ramp(count int, dur time.Duration) []time.Duration {
	offsets := make([]time.Duration, count)
	for i := range offsets {
		frac := float64(i) / float64(count)
		offsets[i] = time.Duration(frac * frac * float64(dur))
	}
	return offsets
}
