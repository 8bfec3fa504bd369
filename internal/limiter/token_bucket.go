package limiter

import (
	"math"
	"time"
)

// tokenBucket is a lazily refilled budget. Refill happens on demand from
// elapsed clock time; nothing runs in the background. Not safe for
// concurrent use; Limiter guards it.
type tokenBucket struct {
	tokens     float64
	capacity   float64
	rate       float64 // tokens per second
	lastRefill time.Time
}

func newTokenBucket(cfg *BucketConfig, capacity float64, now time.Time) *tokenBucket {
	return &tokenBucket{
		tokens:     cfg.MaxTokens,
		capacity:   capacity,
		rate:       cfg.RefillRate,
		lastRefill: now,
	}
}

func (b *tokenBucket) refill(now time.Time) {
	elapsed := now.Sub(b.lastRefill).Seconds()
	if elapsed <= 0 {
		return
	}
	b.tokens = math.Min(b.capacity, b.tokens+elapsed*b.rate)
	b.lastRefill = now
}

// tryConsume refills, then takes amount if available. On failure the token
// level is left as refilled.
func (b *tokenBucket) tryConsume(now time.Time, amount float64) bool {
	b.refill(now)
	if b.tokens < amount {
		return false
	}
	b.tokens -= amount
	return true
}

// untilAvailable returns how long until amount tokens will be present.
func (b *tokenBucket) untilAvailable(now time.Time, amount float64) time.Duration {
	b.refill(now)
	if b.tokens >= amount {
		return 0
	}
	return secondsToDuration((amount - b.tokens) / b.rate)
}

// secondsToDuration rounds up so a caller sleeping for the result never
// wakes a nanosecond short of the target.
func secondsToDuration(s float64) time.Duration {
	return time.Duration(math.Ceil(s * float64(time.Second)))
}
