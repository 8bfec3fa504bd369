package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
)

// EnvPrefix prefixes every environment variable read by ApplyEnv.
const EnvPrefix = "THROTTLE_"

// DefaultEnvFiles are loaded in order; earlier files win because godotenv
// never overrides a variable that is already set.
var DefaultEnvFiles = []string{".env.local", ".env"}

// LoadEnvFiles loads each existing file into the process environment.
// Missing files are skipped; variables already set are left alone.
func LoadEnvFiles(files ...string) error {
	if len(files) == 0 {
		files = DefaultEnvFiles
	}
	for _, file := range files {
		if err := godotenv.Load(file); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return fmt.Errorf("failed to load %s: %w", file, err)
		}
	}
	return nil
}

// ApplyEnv overlays THROTTLE_* environment variables on cfg.
//
//	THROTTLE_ADDR                 server.addr
//	THROTTLE_LOG_LEVEL            log.level
//	THROTTLE_LOG_FORMAT           log.format
//	THROTTLE_MAX_REQUESTS         limiter.max_requests
//	THROTTLE_WINDOW               limiter.window (Go duration)
//	THROTTLE_TOKENS_PER_REQUEST   limiter.tokens_per_request
//	THROTTLE_BUCKET_MAX_TOKENS    limiter.bucket.max_tokens (enables the bucket)
//	THROTTLE_BUCKET_REFILL_RATE   limiter.bucket.refill_rate
//	THROTTLE_BUCKET_CAPACITY      limiter.bucket.max_capacity
//	THROTTLE_HISTORY_FILE         history.file
func ApplyEnv(cfg *Config) error {
	if v, ok := lookup("ADDR"); ok {
		cfg.Server.Addr = v
	}
	if v, ok := lookup("LOG_LEVEL"); ok {
		cfg.Log.Level = v
	}
	if v, ok := lookup("LOG_FORMAT"); ok {
		cfg.Log.Format = v
	}
	if v, ok := lookup("HISTORY_FILE"); ok {
		cfg.History.File = v
	}

	if v, ok := lookup("MAX_REQUESTS"); ok {
		n, err := strconv.Atoi(v)
		if err != nil {
			return envError("MAX_REQUESTS", err)
		}
		cfg.Limiter.MaxRequests = n
	}
	if v, ok := lookup("WINDOW"); ok {
		d, err := time.ParseDuration(v)
		if err != nil {
			return envError("WINDOW", err)
		}
		cfg.Limiter.Window = d
	}
	if err := envFloat("TOKENS_PER_REQUEST", &cfg.Limiter.TokensPerRequest); err != nil {
		return err
	}

	bucket := limiter.BucketConfig{}
	if cfg.Limiter.Bucket != nil {
		bucket = *cfg.Limiter.Bucket
	}
	set := false
	for _, f := range []struct {
		key string
		dst *float64
	}{
		{"BUCKET_MAX_TOKENS", &bucket.MaxTokens},
		{"BUCKET_REFILL_RATE", &bucket.RefillRate},
		{"BUCKET_CAPACITY", &bucket.MaxCapacity},
	} {
		if _, ok := lookup(f.key); !ok {
			continue
		}
		if err := envFloat(f.key, f.dst); err != nil {
			return err
		}
		set = true
	}
	if set {
		cfg.Limiter.Bucket = &bucket
	}
	return nil
}

func lookup(key string) (string, bool) {
	v, ok := os.LookupEnv(EnvPrefix + key)
	if !ok || v == "" {
		return "", false
	}
	return v, true
}

func envFloat(key string, dst *float64) error {
	v, ok := lookup(key)
	if !ok {
		return nil
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		return envError(key, err)
	}
	*dst = f
	return nil
}

func envError(key string, err error) error {
	return fmt.Errorf("parsing %s%s: %w", EnvPrefix, key, err)
}
