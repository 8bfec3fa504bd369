package cli

import (
	"time"

	"github.com/spf13/cobra"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// limiterFlags override the limiter template. Only flags set on the
// command line take effect, so config files and env vars still apply.
type limiterFlags struct {
	maxRequests      int
	window           time.Duration
	tokensPerRequest float64
	bucketTokens     float64
	refillRate       float64
	bucketCapacity   float64
}

func (f *limiterFlags) addFlags(cmd *cobra.Command) {
	cmd.Flags().IntVar(&f.maxRequests, "max-requests", 60, "requests allowed per sliding window")
	cmd.Flags().DurationVar(&f.window, "window", time.Minute, "sliding window length")
	cmd.Flags().Float64Var(&f.tokensPerRequest, "tokens-per-request", 1, "bucket tokens consumed per request")
	cmd.Flags().Float64Var(&f.bucketTokens, "bucket-tokens", 0, "initial bucket tokens (enables the token bucket)")
	cmd.Flags().Float64Var(&f.refillRate, "refill-rate", 0, "bucket refill rate in tokens per second")
	cmd.Flags().Float64Var(&f.bucketCapacity, "bucket-capacity", 0, "bucket capacity (0 = bucket-tokens)")
}

func (f *limiterFlags) apply(cmd *cobra.Command, cfg *limiter.Config) {
	flags := cmd.Flags()
	if flags.Changed("max-requests") {
		cfg.MaxRequests = f.maxRequests
	}
	if flags.Changed("window") {
		cfg.Window = f.window
	}
	if flags.Changed("tokens-per-request") {
		cfg.TokensPerRequest = f.tokensPerRequest
	}

	if !flags.Changed("bucket-tokens") && !flags.Changed("refill-rate") && !flags.Changed("bucket-capacity") {
		return
	}
	bucket := limiter.BucketConfig{}
	if cfg.Bucket != nil {
		bucket = *cfg.Bucket
	}
	if flags.Changed("bucket-tokens") {
		bucket.MaxTokens = f.bucketTokens
	}
	if flags.Changed("refill-rate") {
		bucket.RefillRate = f.refillRate
	}
	if flags.Changed("bucket-capacity") {
		bucket.MaxCapacity = f.bucketCapacity
	}
	cfg.Bucket = &bucket
}
