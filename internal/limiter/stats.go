package limiter

// Stats is a point-in-time snapshot of a limiter.
type Stats struct {
	Name                 string       `json:"name,omitempty"`
	WindowLimit          int          `json:"window_limit"`
	WindowOccupancy      int          `json:"window_occupancy"`
	WindowSeconds        float64      `json:"window_seconds"`
	SecondsUntilCapacity float64      `json:"seconds_until_capacity"`
	Bucket               *BucketStats `json:"bucket,omitempty"`
}

// BucketStats is present only when the limiter runs a token bucket.
type BucketStats struct {
	Tokens           float64 `json:"tokens"`
	Capacity         float64 `json:"capacity"`
	RefillRate       float64 `json:"refill_rate"`
	TokensPerRequest float64 `json:"tokens_per_request"`
}
