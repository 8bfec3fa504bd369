package limiter

import (
	"math"
	"testing"
	"time"

	"github.com/SmitUplenchwar2687/throttle/internal/clock"
)

func newBucketLimiter(t testing.TB, cfg Config) (*Limiter, *clock.VirtualClock) {
	t.Helper()
	vc := clock.NewVirtualClock(epoch)
	l, err := New(cfg, WithClock(vc))
	if err != nil {
		t.Fatal(err)
	}
	return l, vc
}

func TestTokenBucket_RefillIsLinearAndCapped(t *testing.T) {
	b := newTokenBucket(&BucketConfig{MaxTokens: 0, RefillRate: 2}, 10, epoch)

	b.refill(epoch.Add(1500 * time.Millisecond))
	if b.tokens != 3 {
		t.Errorf("tokens after 1.5s = %g, want 3", b.tokens)
	}

	b.refill(epoch.Add(time.Hour))
	if b.tokens != 10 {
		t.Errorf("tokens after an hour = %g, want capacity 10", b.tokens)
	}
}

func TestTokenBucket_RefillIgnoresBackwardsTime(t *testing.T) {
	b := newTokenBucket(&BucketConfig{MaxTokens: 1, RefillRate: 1}, 5, epoch)
	b.refill(epoch.Add(-time.Minute))
	if b.tokens != 1 {
		t.Errorf("tokens = %g, want 1", b.tokens)
	}
	if !b.lastRefill.Equal(epoch) {
		t.Errorf("lastRefill moved backwards to %v", b.lastRefill)
	}
}

func TestTokenBucket_TryConsumeFailureLeavesTokens(t *testing.T) {
	b := newTokenBucket(&BucketConfig{MaxTokens: 2.5, RefillRate: 1}, 5, epoch)

	if b.tryConsume(epoch, 3) {
		t.Fatal("consuming 3 of 2.5 tokens should fail")
	}
	if b.tokens != 2.5 {
		t.Errorf("tokens after failed consume = %g, want 2.5", b.tokens)
	}
	if !b.tryConsume(epoch, 2.5) {
		t.Fatal("consuming exactly the available tokens should succeed")
	}
	if b.tokens != 0 {
		t.Errorf("tokens = %g, want 0", b.tokens)
	}
}

func TestTokenBucket_UntilAvailable(t *testing.T) {
	b := newTokenBucket(&BucketConfig{MaxTokens: 1, RefillRate: 4}, 8, epoch)

	if got := b.untilAvailable(epoch, 1); got != 0 {
		t.Errorf("untilAvailable with enough tokens = %v, want 0", got)
	}
	if got, want := b.untilAvailable(epoch, 3), 500*time.Millisecond; got != want {
		t.Errorf("untilAvailable(3) = %v, want %v", got, want)
	}
}

func TestLimiter_TokenScenario(t *testing.T) {
	l, vc := newBucketLimiter(t, Config{
		MaxRequests:      100,
		Window:           time.Minute,
		TokensPerRequest: 5,
		Bucket:           &BucketConfig{MaxTokens: 5, RefillRate: 1},
	})

	if !l.TryAcquire() {
		t.Fatal("first call should consume all 5 tokens")
	}
	if l.TryAcquire() {
		t.Fatal("immediate second call should be rejected")
	}

	vc.Advance(5 * time.Second)
	if !l.TryAcquire() {
		t.Error("call after 5s should be admitted")
	}
}

func TestLimiter_TokenRefillCadence(t *testing.T) {
	l, vc := newBucketLimiter(t, Config{
		MaxRequests: 1000,
		Window:      time.Minute,
		Bucket:      &BucketConfig{MaxTokens: 3, RefillRate: 2},
	})

	for i := 0; i < 3; i++ {
		if !l.TryAcquire() {
			t.Fatalf("call %d should drain the initial tokens", i+1)
		}
	}

	// One token every 500ms: exactly one admission per step.
	for step := 0; step < 10; step++ {
		if l.TryAcquire() {
			t.Fatalf("step %d: admitted before the refill interval elapsed", step)
		}
		vc.Advance(250 * time.Millisecond)
		if l.TryAcquire() {
			t.Fatalf("step %d: admitted after half an interval", step)
		}
		vc.Advance(250 * time.Millisecond)
		if !l.TryAcquire() {
			t.Fatalf("step %d: rejected after a full interval", step)
		}
	}
}

func TestLimiter_TokenRejectionDoesNotConsumeWindowSlot(t *testing.T) {
	l, vc := newBucketLimiter(t, Config{
		MaxRequests: 2,
		Window:      time.Minute,
		Bucket:      &BucketConfig{MaxTokens: 1, RefillRate: 1},
	})

	if !l.TryAcquire() {
		t.Fatal("first call should be admitted")
	}
	for i := 0; i < 5; i++ {
		if l.TryAcquire() {
			t.Fatal("bucket is empty, call should be rejected")
		}
	}
	if got := l.Stats().WindowOccupancy; got != 1 {
		t.Fatalf("WindowOccupancy = %d, want 1", got)
	}

	vc.Advance(time.Second)
	if !l.TryAcquire() {
		t.Error("window still has a slot; refilled token should admit")
	}
}

func TestLimiter_WindowRejectionDoesNotConsumeTokens(t *testing.T) {
	l, _ := newBucketLimiter(t, Config{
		MaxRequests: 1,
		Window:      time.Minute,
		Bucket:      &BucketConfig{MaxTokens: 10, RefillRate: 0.001},
	})

	l.TryAcquire()
	for i := 0; i < 3; i++ {
		l.TryAcquire()
	}

	s := l.Stats()
	if s.Bucket == nil {
		t.Fatal("Bucket stats missing in bucket mode")
	}
	if math.Abs(s.Bucket.Tokens-9) > 1e-9 {
		t.Errorf("Tokens = %g, want 9", s.Bucket.Tokens)
	}
}

func TestLimiter_FractionalCost(t *testing.T) {
	l, _ := newBucketLimiter(t, Config{
		MaxRequests:      100,
		Window:           time.Minute,
		TokensPerRequest: 0.5,
		Bucket:           &BucketConfig{MaxTokens: 1.25, RefillRate: 0.1},
	})

	admitted := 0
	for i := 0; i < 5; i++ {
		if l.TryAcquire() {
			admitted++
		}
	}
	if admitted != 2 {
		t.Errorf("admitted = %d, want 2", admitted)
	}
	if got := l.Stats().Bucket.Tokens; math.Abs(got-0.25) > 1e-9 {
		t.Errorf("Tokens = %g, want 0.25", got)
	}
}
