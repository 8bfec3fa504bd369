package limiter

import (
	"fmt"
	"sort"
	"sync"
)

// Registry maps names to lazily created limiters. The first GetOrCreate for
// a name fixes its configuration; later calls with a different Config get
// the existing limiter and their Config is ignored. Entries are never
// evicted.
//
// The registry lock only guards the map; each limiter keeps its own lock,
// so traffic on unrelated names never contends.
type Registry struct {
	mu       sync.Mutex
	limiters map[string]*Limiter
	opts     options
}

// NewRegistry creates an empty registry. The options are applied to every
// limiter it creates.
func NewRegistry(opts ...Option) *Registry {
	return &Registry{
		limiters: make(map[string]*Limiter),
		opts:     buildOptions(opts),
	}
}

// GetOrCreate returns the limiter registered under name, creating it from
// cfg if absent. cfg is only validated when a limiter is created.
func (r *Registry) GetOrCreate(name string, cfg Config) (*Limiter, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if l, ok := r.limiters[name]; ok {
		if !l.cfg.Equal(cfg) {
			r.opts.logger.Debug("limiter already registered, ignoring new config", "limiter", name)
		}
		return l, nil
	}

	l, err := newLimiter(name, cfg, r.opts)
	if err != nil {
		return nil, fmt.Errorf("creating limiter %q: %w", name, err)
	}
	r.limiters[name] = l
	r.opts.logger.Debug("limiter registered", "limiter", name,
		"max_requests", cfg.MaxRequests, "window", cfg.Window, "bucket", cfg.Bucket != nil)
	return l, nil
}

// Get returns the limiter registered under name.
func (r *Registry) Get(name string) (*Limiter, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	l, ok := r.limiters[name]
	return l, ok
}

// Names returns the registered names in sorted order.
func (r *Registry) Names() []string {
	r.mu.Lock()
	defer r.mu.Unlock()

	names := make([]string, 0, len(r.limiters))
	for name := range r.limiters {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered limiters.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.limiters)
}

// Stats returns a snapshot of every limiter, sorted by name. Each limiter
// is locked individually, after the registry lock has been released.
func (r *Registry) Stats() []Stats {
	r.mu.Lock()
	limiters := make([]*Limiter, 0, len(r.limiters))
	for _, l := range r.limiters {
		limiters = append(limiters, l)
	}
	r.mu.Unlock()

	out := make([]Stats, 0, len(limiters))
	for _, l := range limiters {
		out = append(out, l.Stats())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out
}

// defaultRegistry lives for the whole process and is never torn down.
var defaultRegistry = NewRegistry()

// Default returns the process-wide registry.
func Default() *Registry {
	return defaultRegistry
}

// GetOrCreate is Default().GetOrCreate.
func GetOrCreate(name string, cfg Config) (*Limiter, error) {
	return defaultRegistry.GetOrCreate(name, cfg)
}
