package history

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// DefaultMaxEntries is used when Options.MaxEntries is unset. The prune
// threshold defaults to twice MaxEntries.
const DefaultMaxEntries = 1000

// Listener is called with every entry added to a Log.
type Listener func(Entry)

// Options configures a Log.
type Options struct {
	// MaxEntries is how many entries survive a prune.
	MaxEntries int
	// PruneThreshold triggers a prune once exceeded. It lets the log grow
	// past MaxEntries so pruning is amortised.
	PruneThreshold int
	// Writer, if set, receives every entry as newline-delimited JSON.
	Writer io.Writer
	Logger *slog.Logger
}

// Log is an in-memory admission history. It implements limiter.Observer.
// Thread-safe for concurrent use.
type Log struct {
	maxEntries     int
	pruneThreshold int
	logger         *slog.Logger

	mu      sync.Mutex
	entries []Entry
	writer  io.Writer

	lmu       sync.RWMutex
	listeners map[int]Listener
	nextID    int
}

// New creates a Log. Zero option fields take the package defaults.
func New(opts Options) *Log {
	if opts.MaxEntries <= 0 {
		opts.MaxEntries = DefaultMaxEntries
	}
	if opts.PruneThreshold < opts.MaxEntries {
		opts.PruneThreshold = 2 * opts.MaxEntries
	}
	if opts.Logger == nil {
		opts.Logger = slog.Default()
	}
	return &Log{
		maxEntries:     opts.MaxEntries,
		pruneThreshold: opts.PruneThreshold,
		logger:         opts.Logger,
		writer:         opts.Writer,
		listeners:      make(map[int]Listener),
	}
}

// Add records an entry, filling in its ID and timestamp when unset, and
// returns the stored entry. The entry is kept even if streaming it to the
// writer fails.
func (l *Log) Add(e Entry) (Entry, error) {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.Timestamp.IsZero() {
		e.Timestamp = time.Now()
	}

	l.mu.Lock()
	l.entries = append(l.entries, e)
	pruned := 0
	if len(l.entries) > l.pruneThreshold {
		pruned = l.pruneLocked()
	}
	var err error
	if l.writer != nil {
		if encErr := json.NewEncoder(l.writer).Encode(e); encErr != nil {
			err = fmt.Errorf("writing history entry: %w", encErr)
		}
	}
	l.mu.Unlock()

	if pruned > 0 {
		l.logger.Debug("history pruned", "removed", pruned, "kept", l.maxEntries)
	}
	l.broadcast(e)
	return e, err
}

// Observe records a limiter event.
func (l *Log) Observe(ev limiter.Event) {
	if _, err := l.Add(FromEvent(ev)); err != nil {
		l.logger.Warn("history write failed", "limiter", ev.Limiter, "error", err)
	}
}

// Get returns the entry with the given ID.
func (l *Log) Get(id string) (Entry, bool) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, e := range l.entries {
		if e.ID == id {
			return e, true
		}
	}
	return Entry{}, false
}

// Entries returns a copy of the entries matching q, in insertion order
// unless q.Newest is set.
func (l *Log) Entries(q Query) []Entry {
	l.mu.Lock()
	var out []Entry
	for _, e := range l.entries {
		if q.match(e) {
			out = append(out, e)
		}
	}
	l.mu.Unlock()

	if q.Limit > 0 && len(out) > q.Limit {
		out = out[len(out)-q.Limit:]
	}
	if q.Newest {
		for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
			out[i], out[j] = out[j], out[i]
		}
	}
	return out
}

// Len returns the number of entries held in memory.
func (l *Log) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}

// Prune drops the oldest entries beyond MaxEntries and returns how many
// were removed.
func (l *Log) Prune() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.pruneLocked()
}

func (l *Log) pruneLocked() int {
	excess := len(l.entries) - l.maxEntries
	if excess <= 0 {
		return 0
	}
	n := copy(l.entries, l.entries[excess:])
	clear(l.entries[n:])
	l.entries = l.entries[:n]
	return excess
}

// Clear removes every entry.
func (l *Log) Clear() {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.entries = nil
}

// Subscribe registers fn for every future entry and returns a function
// that removes it. Listeners run synchronously on the adding goroutine;
// a panicking listener is logged and skipped.
func (l *Log) Subscribe(fn Listener) (unsubscribe func()) {
	l.lmu.Lock()
	id := l.nextID
	l.nextID++
	l.listeners[id] = fn
	l.lmu.Unlock()

	return func() {
		l.lmu.Lock()
		delete(l.listeners, id)
		l.lmu.Unlock()
	}
}

func (l *Log) broadcast(e Entry) {
	l.lmu.RLock()
	listeners := make([]Listener, 0, len(l.listeners))
	for _, fn := range l.listeners {
		listeners = append(listeners, fn)
	}
	l.lmu.RUnlock()

	for _, fn := range listeners {
		l.notify(fn, e)
	}
}

func (l *Log) notify(fn Listener, e Entry) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("history listener panicked", "entry", e.ID, "panic", r)
		}
	}()
	fn(e)
}

// ExportJSON writes all entries to w as a JSON array.
func (l *Log) ExportJSON(w io.Writer) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries := l.entries
	if entries == nil {
		entries = []Entry{}
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(entries)
}

// ExportFile writes all entries to a file as a JSON array.
func (l *Log) ExportFile(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	if err := l.ExportJSON(f); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

// LoadJSON reads entries written either as a JSON array (ExportJSON) or as
// newline-delimited JSON (the streaming writer).
func LoadJSON(r io.Reader) ([]Entry, error) {
	br := bufio.NewReader(r)
	first, err := peekNonSpace(br)
	if err != nil {
		if errors.Is(err, io.EOF) {
			return nil, nil
		}
		return nil, err
	}

	dec := json.NewDecoder(br)
	var entries []Entry
	if first == '[' {
		if err := dec.Decode(&entries); err != nil {
			return nil, fmt.Errorf("decoding history: %w", err)
		}
	} else {
		for {
			var e Entry
			err := dec.Decode(&e)
			if errors.Is(err, io.EOF) {
				break
			}
			if err != nil {
				return nil, fmt.Errorf("decoding history entry %d: %w", len(entries)+1, err)
			}
			entries = append(entries, e)
		}
	}

	for i, e := range entries {
		if e.Type == "" || e.Timestamp.IsZero() {
			return nil, fmt.Errorf("history entry %d: missing type or timestamp", i+1)
		}
	}
	return entries, nil
}

// LoadFile reads entries from a file written by ExportFile or streamed by
// a Log writer.
func LoadFile(path string) ([]Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return LoadJSON(f)
}

func peekNonSpace(br *bufio.Reader) (byte, error) {
	for {
		b, err := br.ReadByte()
		if err != nil {
			return 0, err
		}
		if !bytes.ContainsRune([]byte(" \t\r\n"), rune(b)) {
			return b, br.UnreadByte()
		}
	}
}
