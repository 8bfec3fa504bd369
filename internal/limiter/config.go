package limiter

import "time"

// DefaultTokensPerRequest is the bucket cost of one admission when
// Config.TokensPerRequest is left at zero.
const DefaultTokensPerRequest = 1.0

// Config holds the immutable parameters of a Limiter.
type Config struct {
	// MaxRequests is the number of admissions allowed in any trailing Window.
	MaxRequests int `json:"max_requests" yaml:"max_requests"`
	// Window is the length of the sliding window.
	Window time.Duration `json:"window" yaml:"window"`
	// TokensPerRequest is the bucket cost of one admission. Zero means 1.
	// Ignored when Bucket is nil.
	TokensPerRequest float64 `json:"tokens_per_request,omitempty" yaml:"tokens_per_request,omitempty"`
	// Bucket enables the token bucket. Nil means pure sliding-window mode.
	Bucket *BucketConfig `json:"bucket,omitempty" yaml:"bucket,omitempty"`
}

// BucketConfig parameterises the token bucket.
type BucketConfig struct {
	// MaxTokens is the initial token level.
	MaxTokens float64 `json:"max_tokens" yaml:"max_tokens"`
	// RefillRate is the number of tokens added per second.
	RefillRate float64 `json:"refill_rate" yaml:"refill_rate"`
	// MaxCapacity caps the token level. Zero means MaxTokens.
	MaxCapacity float64 `json:"max_capacity,omitempty" yaml:"max_capacity,omitempty"`
}

// Cost returns the effective per-request token cost.
func (c Config) Cost() float64 {
	if c.TokensPerRequest == 0 {
		return DefaultTokensPerRequest
	}
	return c.TokensPerRequest
}

// Capacity returns the effective bucket capacity, or 0 without a bucket.
func (c Config) Capacity() float64 {
	if c.Bucket == nil {
		return 0
	}
	if c.Bucket.MaxCapacity == 0 {
		return c.Bucket.MaxTokens
	}
	return c.Bucket.MaxCapacity
}

// Validate reports the first invalid field as a *ConfigError.
func (c Config) Validate() error {
	if c.MaxRequests < 1 {
		return configErrorf("max_requests", "must be at least 1, got %d", c.MaxRequests)
	}
	if c.Window <= 0 {
		return configErrorf("window", "must be positive, got %s", c.Window)
	}
	if c.TokensPerRequest < 0 {
		return configErrorf("tokens_per_request", "must not be negative, got %g", c.TokensPerRequest)
	}
	if c.Bucket == nil {
		return nil
	}

	b := c.Bucket
	if b.RefillRate <= 0 {
		return configErrorf("bucket.refill_rate", "must be positive, got %g", b.RefillRate)
	}
	if b.MaxTokens < 0 {
		return configErrorf("bucket.max_tokens", "must not be negative, got %g", b.MaxTokens)
	}
	if b.MaxCapacity < 0 {
		return configErrorf("bucket.max_capacity", "must not be negative, got %g", b.MaxCapacity)
	}
	capacity := c.Capacity()
	if b.MaxTokens > capacity {
		return configErrorf("bucket.max_tokens", "%g exceeds capacity %g", b.MaxTokens, capacity)
	}
	if capacity < c.Cost() {
		return configErrorf("bucket.max_capacity", "capacity %g is smaller than the per-request cost %g", capacity, c.Cost())
	}
	return nil
}

// Equal reports whether two configs describe the same limits.
func (c Config) Equal(o Config) bool {
	if c.MaxRequests != o.MaxRequests || c.Window != o.Window || c.Cost() != o.Cost() {
		return false
	}
	if (c.Bucket == nil) != (o.Bucket == nil) {
		return false
	}
	if c.Bucket == nil {
		return true
	}
	return c.Bucket.MaxTokens == o.Bucket.MaxTokens &&
		c.Bucket.RefillRate == o.Bucket.RefillRate &&
		c.Capacity() == o.Capacity()
}
