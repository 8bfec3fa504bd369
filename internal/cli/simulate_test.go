package cli

import (
	"context"
	"encoding/json"
	"strings"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

var epoch = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func decodeSimulation(t *testing.T, out string) SimulationResult {
	t.Helper()
	var result SimulationResult
	if err := json.Unmarshal([]byte(out), &result); err != nil {
		t.Fatalf("decoding simulation output: %v\n%s", err, out)
	}
	return result
}

func newSimRegistry(t *testing.T, vc *clock.VirtualClock, cfg limiter.Config, names ...string) *limiter.Registry {
	t.Helper()
	reg := limiter.NewRegistry(limiter.WithClock(vc))
	for _, name := range names {
		if _, err := reg.GetOrCreate(name, cfg); err != nil {
			t.Fatal(err)
		}
	}
	return reg
}

func TestRunSimulation_Basic(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := newSimRegistry(t, vc, limiter.Config{MaxRequests: 5, Window: time.Minute}, "user1")

	result, err := runSimulation(context.Background(), vc, reg, []string{"user1"}, 10, 0, 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Batches) != 1 {
		t.Fatalf("expected 1 batch, got %d", len(result.Batches))
	}

	s := result.Summary["user1"]
	if s.TotalRequests != 10 {
		t.Errorf("total requests = %d, want 10", s.TotalRequests)
	}
	if s.Allowed != 5 {
		t.Errorf("allowed = %d, want 5", s.Allowed)
	}
	if s.Denied != 5 {
		t.Errorf("denied = %d, want 5", s.Denied)
	}

	// Decisions for one limiter keep their order.
	for i, d := range result.Batches[0].Decisions {
		if want := i < 5; d.Admitted != want {
			t.Errorf("decision %d admitted = %v, want %v", i, d.Admitted, want)
		}
	}
}

func TestRunSimulation_WithFastForward(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := newSimRegistry(t, vc, limiter.Config{MaxRequests: 5, Window: time.Minute}, "user1")

	result, err := runSimulation(context.Background(), vc, reg, []string{"user1"}, 8, time.Minute+time.Second, 1)
	if err != nil {
		t.Fatal(err)
	}

	if len(result.Batches) != 2 {
		t.Fatalf("expected 2 batches, got %d", len(result.Batches))
	}
	if result.FastForward != "1m1s" {
		t.Errorf("fast_forward = %q, want %q", result.FastForward, "1m1s")
	}

	// 5 allowed and 3 denied in each batch once the window has slid past
	// the first batch.
	s := result.Summary["user1"]
	if s.Allowed != 10 {
		t.Errorf("total allowed = %d, want 10", s.Allowed)
	}
	if s.Denied != 6 {
		t.Errorf("total denied = %d, want 6", s.Denied)
	}
}

func TestRunSimulation_FastForwardWithinWindow(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := newSimRegistry(t, vc, limiter.Config{MaxRequests: 5, Window: time.Minute}, "user1")

	// Exactly one window later the first batch still counts.
	result, err := runSimulation(context.Background(), vc, reg, []string{"user1"}, 5, time.Minute, 1)
	if err != nil {
		t.Fatal(err)
	}
	if s := result.Summary["user1"]; s.Allowed != 5 || s.Denied != 5 {
		t.Errorf("summary = %+v, want 5 allowed 5 denied", s)
	}
}

func TestRunSimulation_MultipleLimitersConcurrently(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	names := []string{"user1", "user2", "user3"}
	reg := newSimRegistry(t, vc, limiter.Config{MaxRequests: 3, Window: time.Minute}, names...)

	result, err := runSimulation(context.Background(), vc, reg, names, 5, 0, 3)
	if err != nil {
		t.Fatal(err)
	}

	for _, name := range names {
		s := result.Summary[name]
		if s.TotalRequests != 5 {
			t.Errorf("%s: total = %d, want 5", name, s.TotalRequests)
		}
		if s.Allowed != 3 {
			t.Errorf("%s: allowed = %d, want 3", name, s.Allowed)
		}
		if s.Denied != 2 {
			t.Errorf("%s: denied = %d, want 2", name, s.Denied)
		}
	}
	if got := len(result.Batches[0].Decisions); got != 15 {
		t.Errorf("decisions = %d, want 15", got)
	}
	// Decisions are grouped by limiter in the order given.
	if result.Batches[0].Decisions[0].Limiter != "user1" || result.Batches[0].Decisions[14].Limiter != "user3" {
		t.Error("decisions should be grouped by limiter in input order")
	}
}

func TestRunSimulation_UnknownLimiter(t *testing.T) {
	vc := clock.NewVirtualClock(epoch)
	reg := limiter.NewRegistry(limiter.WithClock(vc))

	if _, err := runSimulation(context.Background(), vc, reg, []string{"ghost"}, 1, 0, 1); err == nil {
		t.Fatal("expected error for unregistered limiter")
	}
}

func TestSimulateCmd_TokenBucket(t *testing.T) {
	out, err := execute(t, "simulate",
		"--max-requests", "100", "--bucket-tokens", "3", "--refill-rate", "1",
		"--requests", "5", "--fast-forward", "2s", "--json")
	if err != nil {
		t.Fatal(err)
	}

	result := decodeSimulation(t, out)
	// 3 from the initial bucket, then 2 refilled during the fast-forward.
	if s := result.Summary["test-user"]; s.Allowed != 5 || s.Denied != 5 {
		t.Errorf("summary = %+v, want 5 allowed 5 denied", s)
	}
	last := result.Batches[1].Decisions[4]
	if last.Stats.Bucket == nil {
		t.Fatal("bucket stats missing")
	}
	if last.Stats.Bucket.Tokens != 0 {
		t.Errorf("tokens after second batch = %g, want 0", last.Stats.Bucket.Tokens)
	}
}

func TestSimulateCmd_TextOutput(t *testing.T) {
	out, err := execute(t, "simulate", "--max-requests", "2", "--window", "10s",
		"--requests", "3", "--fast-forward", "11s", "--limiters", "a,b", "--concurrency", "2")
	if err != nil {
		t.Fatal(err)
	}
	for _, want := range []string{"=== Throttle Simulation ===", "[DENY ] limiter=a", "a: 6 total, 4 allowed, 2 denied", "Limits recovered"} {
		if !strings.Contains(out, want) {
			t.Errorf("output missing %q:\n%s", want, out)
		}
	}
}

func TestSimulateCmd_InvalidConfig(t *testing.T) {
	if _, err := execute(t, "simulate", "--max-requests", "0"); err == nil {
		t.Fatal("expected error for zero max-requests")
	}
	if _, err := execute(t, "simulate", "--bucket-tokens", "5"); err == nil {
		t.Fatal("expected error for a bucket without a refill rate")
	}
}

func TestSimulateCmd_PromptFile(t *testing.T) {
	prompt := writeFile(t, "prompt.txt", strings.Repeat("tokens ", 20))

	if _, err := execute(t, "simulate", "--prompt-file", prompt); err == nil {
		t.Fatal("expected error for --prompt-file without a bucket")
	}

	out, err := execute(t, "simulate", "--prompt-file", prompt, "--completion-tokens", "50",
		"--bucket-tokens", "1000", "--refill-rate", "10", "--requests", "2", "--json")
	if err != nil {
		t.Fatal(err)
	}
	result := decodeSimulation(t, out)
	if result.TokensPerRequest <= 50 {
		t.Errorf("tokens_per_request = %g, want prompt tokens plus 50", result.TokensPerRequest)
	}
}
