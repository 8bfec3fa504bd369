package history

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func entry(kind limiter.EventKind, name string, offset time.Duration) Entry {
	return Entry{Timestamp: epoch.Add(offset), Type: kind, Limiter: name}
}

func TestLog_AddAssignsID(t *testing.T) {
	l := New(Options{})

	e, err := l.Add(entry(limiter.EventAdmitted, "api", 0))
	if err != nil {
		t.Fatal(err)
	}
	if e.ID == "" {
		t.Fatal("Add should assign an ID")
	}
	got, ok := l.Get(e.ID)
	if !ok {
		t.Fatalf("Get(%q) not found", e.ID)
	}
	if got.Limiter != "api" {
		t.Errorf("Get().Limiter = %q, want %q", got.Limiter, "api")
	}
	if _, ok := l.Get("missing"); ok {
		t.Error("Get(missing) should report false")
	}
}

func TestLog_AddKeepsExplicitFields(t *testing.T) {
	l := New(Options{})
	e, _ := l.Add(Entry{ID: "fixed", Timestamp: epoch, Type: limiter.EventReleased})
	if e.ID != "fixed" || !e.Timestamp.Equal(epoch) {
		t.Errorf("Add() = %+v, want ID and timestamp preserved", e)
	}

	e, _ = l.Add(Entry{Type: limiter.EventAdmitted})
	if e.Timestamp.IsZero() {
		t.Error("Add should fill in a missing timestamp")
	}
}

func TestLog_Observe(t *testing.T) {
	l := New(Options{})
	tokens := 2.5
	l.Observe(limiter.Event{
		Limiter:   "llm",
		Kind:      limiter.EventTimeout,
		Time:      epoch,
		Waited:    time.Second,
		Occupancy: 3,
		Tokens:    &tokens,
	})

	entries := l.Entries(Query{})
	if len(entries) != 1 {
		t.Fatalf("got %d entries, want 1", len(entries))
	}
	e := entries[0]
	if e.Type != limiter.EventTimeout || e.Waited != time.Second || e.Occupancy != 3 {
		t.Errorf("entry = %+v", e)
	}
	if e.Tokens == nil || *e.Tokens != 2.5 {
		t.Errorf("entry tokens = %v, want 2.5", e.Tokens)
	}
}

func TestLog_ObserveFromLimiter(t *testing.T) {
	l := New(Options{})
	reg := limiter.NewRegistry(limiter.WithObserver(l))
	lim, err := reg.GetOrCreate("api", limiter.Config{MaxRequests: 1, Window: time.Hour})
	if err != nil {
		t.Fatal(err)
	}

	lim.TryAcquire()
	lim.TryAcquire()
	lim.Release()

	want := []limiter.EventKind{limiter.EventAdmitted, limiter.EventRejected, limiter.EventReleased}
	entries := l.Entries(Query{Limiter: "api"})
	if len(entries) != len(want) {
		t.Fatalf("got %d entries, want %d", len(entries), len(want))
	}
	for i, kind := range want {
		if entries[i].Type != kind {
			t.Errorf("entry %d type = %q, want %q", i, entries[i].Type, kind)
		}
	}
}

func TestLog_EntriesQuery(t *testing.T) {
	l := New(Options{})
	l.Add(entry(limiter.EventAdmitted, "a", 0))
	l.Add(entry(limiter.EventRejected, "a", time.Second))
	l.Add(entry(limiter.EventAdmitted, "b", 2*time.Second))
	l.Add(entry(limiter.EventAdmitted, "a", 3*time.Second))

	if got := len(l.Entries(Query{Type: limiter.EventAdmitted})); got != 3 {
		t.Errorf("admitted entries = %d, want 3", got)
	}
	if got := len(l.Entries(Query{Limiter: "a"})); got != 3 {
		t.Errorf("entries for a = %d, want 3", got)
	}

	last := l.Entries(Query{Limit: 2})
	if len(last) != 2 || last[0].Limiter != "b" || last[1].Limiter != "a" {
		t.Errorf("Limit 2 = %+v, want the two most recent oldest first", last)
	}

	newest := l.Entries(Query{Limit: 2, Newest: true})
	if len(newest) != 2 || !newest[0].Timestamp.Equal(epoch.Add(3*time.Second)) {
		t.Errorf("Newest = %+v, want most recent first", newest)
	}
}

func TestLog_EntriesReturnsCopy(t *testing.T) {
	l := New(Options{})
	l.Add(entry(limiter.EventAdmitted, "a", 0))

	entries := l.Entries(Query{})
	entries[0].Limiter = "mutated"

	if l.Entries(Query{})[0].Limiter != "a" {
		t.Error("Entries() should return a copy, original was mutated")
	}
}

func TestLog_AutoPrune(t *testing.T) {
	l := New(Options{MaxEntries: 3, PruneThreshold: 5})

	for i := 0; i < 5; i++ {
		l.Add(entry(limiter.EventAdmitted, "a", time.Duration(i)*time.Second))
	}
	if l.Len() != 5 {
		t.Fatalf("Len() = %d, want 5 before threshold is exceeded", l.Len())
	}

	l.Add(entry(limiter.EventAdmitted, "a", 5*time.Second))
	if l.Len() != 3 {
		t.Fatalf("Len() = %d, want 3 after prune", l.Len())
	}
	oldest := l.Entries(Query{})[0]
	if !oldest.Timestamp.Equal(epoch.Add(3 * time.Second)) {
		t.Errorf("oldest kept entry at %v, want %v", oldest.Timestamp, epoch.Add(3*time.Second))
	}
}

func TestLog_PruneAndClear(t *testing.T) {
	l := New(Options{MaxEntries: 2, PruneThreshold: 100})
	for i := 0; i < 4; i++ {
		l.Add(entry(limiter.EventAdmitted, "a", time.Duration(i)*time.Second))
	}

	if n := l.Prune(); n != 2 {
		t.Errorf("Prune() = %d, want 2", n)
	}
	if n := l.Prune(); n != 0 {
		t.Errorf("second Prune() = %d, want 0", n)
	}

	l.Clear()
	if l.Len() != 0 {
		t.Errorf("Len() after Clear = %d, want 0", l.Len())
	}
}

func TestLog_Subscribe(t *testing.T) {
	l := New(Options{})

	var got []string
	unsubscribe := l.Subscribe(func(e Entry) { got = append(got, e.Limiter) })

	l.Add(entry(limiter.EventAdmitted, "a", 0))
	unsubscribe()
	l.Add(entry(limiter.EventAdmitted, "b", 0))

	if len(got) != 1 || got[0] != "a" {
		t.Errorf("listener saw %v, want [a]", got)
	}
}

func TestLog_ListenerPanicIsRecovered(t *testing.T) {
	l := New(Options{})

	called := false
	l.Subscribe(func(Entry) { panic("boom") })
	l.Subscribe(func(Entry) { called = true })

	if _, err := l.Add(entry(limiter.EventAdmitted, "a", 0)); err != nil {
		t.Fatal(err)
	}
	if !called {
		t.Error("a panicking listener should not stop the others")
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestLog_StreamToWriter(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf})

	l.Add(entry(limiter.EventAdmitted, "user1", 0))
	l.Add(entry(limiter.EventRejected, "user2", time.Second))

	// Should have 2 newline-delimited JSON lines.
	lines := bytes.Split(bytes.TrimSpace(buf.Bytes()), []byte("\n"))
	if len(lines) != 2 {
		t.Fatalf("expected 2 lines, got %d", len(lines))
	}

	var e Entry
	if err := json.Unmarshal(lines[0], &e); err != nil {
		t.Fatal(err)
	}
	if e.Limiter != "user1" {
		t.Errorf("first entry limiter = %q, want %q", e.Limiter, "user1")
	}
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, os.ErrClosed }

func TestLog_WriterErrorKeepsEntry(t *testing.T) {
	l := New(Options{Writer: failingWriter{}})

	_, err := l.Add(entry(limiter.EventAdmitted, "a", 0))
	if err == nil {
		t.Fatal("expected write error")
	}
	if l.Len() != 1 {
		t.Errorf("Len() = %d, want 1", l.Len())
	}
}

func TestLog_ExportAndLoad(t *testing.T) {
	l := New(Options{})
	l.Add(entry(limiter.EventAdmitted, "user1", 0))
	l.Add(entry(limiter.EventReleased, "user1", time.Second))

	path := filepath.Join(t.TempDir(), "history.json")
	if err := l.ExportFile(path); err != nil {
		t.Fatal(err)
	}

	loaded, err := LoadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 2 {
		t.Fatalf("loaded %d entries, want 2", len(loaded))
	}
	if loaded[1].Type != limiter.EventReleased {
		t.Errorf("second entry type = %q, want %q", loaded[1].Type, limiter.EventReleased)
	}
}

func TestLoadJSON_NDJSON(t *testing.T) {
	var buf bytes.Buffer
	l := New(Options{Writer: &buf})
	for i := 0; i < 3; i++ {
		l.Add(entry(limiter.EventAdmitted, "a", time.Duration(i)*time.Second))
	}

	loaded, err := LoadJSON(&buf)
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 3 {
		t.Errorf("loaded %d entries, want 3", len(loaded))
	}
}

func TestLoadJSON_Empty(t *testing.T) {
	loaded, err := LoadJSON(strings.NewReader("  \n"))
	if err != nil {
		t.Fatal(err)
	}
	if len(loaded) != 0 {
		t.Errorf("loaded %d entries, want 0", len(loaded))
	}
}

func TestLoadJSON_Invalid(t *testing.T) {
	tests := []struct {
		name  string
		input string
	}{
		{"malformed array", `[{"type":`},
		{"malformed line", "{\"type\":\"admitted\",\"timestamp\":\"2024-01-01T00:00:00Z\"}\nnot json\n"},
		{"missing type", `[{"timestamp":"2024-01-01T00:00:00Z"}]`},
		{"missing timestamp", `[{"type":"admitted"}]`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := LoadJSON(strings.NewReader(tt.input)); err == nil {
				t.Error("expected error")
			}
		})
	}
}

func TestLog_ConcurrentAdd(t *testing.T) {
	l := New(Options{MaxEntries: 50, PruneThreshold: 100})
	var seen sync.Map
	l.Subscribe(func(e Entry) { seen.Store(e.ID, true) })

	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 20; j++ {
				l.Add(Entry{Type: limiter.EventAdmitted, Limiter: "a"})
			}
		}()
	}
	wg.Wait()

	count := 0
	seen.Range(func(_, _ any) bool { count++; return true })
	if count != 200 {
		t.Errorf("listener saw %d unique entries, want 200", count)
	}
	if l.Len() > 100 {
		t.Errorf("Len() = %d, should never exceed the prune threshold", l.Len())
	}
}
