package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/SmitUplenchwar2687/throttle/internal/limiter"
	"github.com/SmitUplenchwar2687/throttle/internal/logger"
)

// Config is the top-level configuration for a throttle process.
type Config struct {
	Server ServerConfig `json:"server" yaml:"server"`
	Log    LogConfig    `json:"log" yaml:"log"`
	// Limiter is the template for limiters created on demand by name.
	Limiter limiter.Config `json:"limiter" yaml:"limiter"`
	// Limiters are registered up front. Each name is fixed at first
	// registration, so these take precedence over the template.
	Limiters map[string]limiter.Config `json:"limiters,omitempty" yaml:"limiters,omitempty"`
	History  HistoryConfig             `json:"history" yaml:"history"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

// LogConfig selects the slog level and output format.
type LogConfig struct {
	Level  string `json:"level" yaml:"level"`
	Format string `json:"format" yaml:"format"`
}

// HistoryConfig bounds the in-memory admission history.
type HistoryConfig struct {
	MaxEntries     int    `json:"max_entries" yaml:"max_entries"`
	PruneThreshold int    `json:"prune_threshold" yaml:"prune_threshold"`
	File           string `json:"file,omitempty" yaml:"file,omitempty"`
}

// Default returns a Config with sensible defaults: 60 requests per minute,
// no token bucket.
func Default() Config {
	return Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		Log: LogConfig{
			Level:  "info",
			Format: logger.FormatSimple,
		},
		Limiter: limiter.Config{
			MaxRequests: 60,
			Window:      time.Minute,
		},
		History: HistoryConfig{
			MaxEntries:     1000,
			PruneThreshold: 2000,
		},
	}
}

// Validate checks that the config is valid.
func (c Config) Validate() error {
	if err := c.Limiter.Validate(); err != nil {
		return fmt.Errorf("limiter: %w", err)
	}
	for name, lc := range c.Limiters {
		if name == "" {
			return fmt.Errorf("limiters: empty limiter name")
		}
		if err := lc.Validate(); err != nil {
			return fmt.Errorf("limiters.%s: %w", name, err)
		}
	}
	if _, err := logger.ParseLevel(c.Log.Level); err != nil {
		return fmt.Errorf("log: %w", err)
	}
	if c.History.MaxEntries < 0 {
		return fmt.Errorf("history.max_entries must not be negative, got %d", c.History.MaxEntries)
	}
	if c.History.PruneThreshold != 0 && c.History.PruneThreshold < c.History.MaxEntries {
		return fmt.Errorf("history.prune_threshold %d is below max_entries %d", c.History.PruneThreshold, c.History.MaxEntries)
	}
	return nil
}

// LoadFile reads a JSON or YAML config file (chosen by extension) and merges
// it with defaults. Fields not specified in the file keep their defaults.
func LoadFile(path string) (Config, error) {
	cfg := Default()

	data, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("reading config file: %w", err)
	}

	var raw rawConfig
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		err = yaml.Unmarshal(data, &raw)
	default:
		err = json.Unmarshal(data, &raw)
	}
	if err != nil {
		return cfg, fmt.Errorf("parsing config file: %w", err)
	}

	if err := raw.merge(&cfg); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// rawConfig is the file representation, with durations as strings.
type rawConfig struct {
	Server struct {
		Addr string `json:"addr" yaml:"addr"`
	} `json:"server" yaml:"server"`
	Log struct {
		Level  string `json:"level" yaml:"level"`
		Format string `json:"format" yaml:"format"`
	} `json:"log" yaml:"log"`
	Limiter  *rawLimiter           `json:"limiter" yaml:"limiter"`
	Limiters map[string]rawLimiter `json:"limiters" yaml:"limiters"`
	History  struct {
		MaxEntries     int    `json:"max_entries" yaml:"max_entries"`
		PruneThreshold int    `json:"prune_threshold" yaml:"prune_threshold"`
		File           string `json:"file" yaml:"file"`
	} `json:"history" yaml:"history"`
}

type rawLimiter struct {
	MaxRequests      *int       `json:"max_requests" yaml:"max_requests"`
	Window           string     `json:"window" yaml:"window"`
	TokensPerRequest float64    `json:"tokens_per_request" yaml:"tokens_per_request"`
	Bucket           *rawBucket `json:"bucket" yaml:"bucket"`
}

type rawBucket struct {
	MaxTokens   float64 `json:"max_tokens" yaml:"max_tokens"`
	RefillRate  float64 `json:"refill_rate" yaml:"refill_rate"`
	MaxCapacity float64 `json:"max_capacity" yaml:"max_capacity"`
}

func (raw *rawConfig) merge(cfg *Config) error {
	if raw.Server.Addr != "" {
		cfg.Server.Addr = raw.Server.Addr
	}
	if raw.Log.Level != "" {
		cfg.Log.Level = raw.Log.Level
	}
	if raw.Log.Format != "" {
		cfg.Log.Format = raw.Log.Format
	}
	if raw.Limiter != nil {
		if err := raw.Limiter.mergeInto(&cfg.Limiter); err != nil {
			return fmt.Errorf("parsing limiter: %w", err)
		}
	}
	if len(raw.Limiters) > 0 {
		cfg.Limiters = make(map[string]limiter.Config, len(raw.Limiters))
		for name, rl := range raw.Limiters {
			// Named limiters start from the template so a file can
			// override just one field.
			lc := cfg.Limiter
			if err := rl.mergeInto(&lc); err != nil {
				return fmt.Errorf("parsing limiters.%s: %w", name, err)
			}
			cfg.Limiters[name] = lc
		}
	}
	if raw.History.MaxEntries > 0 {
		cfg.History.MaxEntries = raw.History.MaxEntries
	}
	if raw.History.PruneThreshold > 0 {
		cfg.History.PruneThreshold = raw.History.PruneThreshold
	}
	if raw.History.File != "" {
		cfg.History.File = raw.History.File
	}
	return nil
}

func (rl rawLimiter) mergeInto(lc *limiter.Config) error {
	if rl.MaxRequests != nil {
		lc.MaxRequests = *rl.MaxRequests
	}
	if rl.Window != "" {
		d, err := time.ParseDuration(rl.Window)
		if err != nil {
			return fmt.Errorf("window: %w", err)
		}
		lc.Window = d
	}
	if rl.TokensPerRequest != 0 {
		lc.TokensPerRequest = rl.TokensPerRequest
	}
	if rl.Bucket != nil {
		lc.Bucket = &limiter.BucketConfig{
			MaxTokens:   rl.Bucket.MaxTokens,
			RefillRate:  rl.Bucket.RefillRate,
			MaxCapacity: rl.Bucket.MaxCapacity,
		}
	}
	return nil
}

// WriteExample writes an example config file to the given path, as YAML
// for .yaml/.yml paths and JSON otherwise.
func WriteExample(path string) error {
	example := exampleJSON
	switch strings.ToLower(filepath.Ext(path)) {
	case ".yaml", ".yml":
		example = exampleYAML
	}
	return os.WriteFile(path, []byte(example), 0o644)
}

const exampleJSON = `{
  "server": {
    "addr": ":8080"
  },
  "log": {
    "level": "info",
    "format": "simple"
  },
  "limiter": {
    "max_requests": 60,
    "window": "1m"
  },
  "limiters": {
    "llm": {
      "max_requests": 50,
      "window": "1m",
      "tokens_per_request": 1000,
      "bucket": {
        "max_tokens": 40000,
        "refill_rate": 500
      }
    }
  },
  "history": {
    "max_entries": 1000,
    "prune_threshold": 2000
  }
}
`

const exampleYAML = `server:
  addr: ":8080"
log:
  level: info
  format: simple
limiter:
  max_requests: 60
  window: 1m
limiters:
  llm:
    max_requests: 50
    window: 1m
    tokens_per_request: 1000
    bucket:
      max_tokens: 40000
      refill_rate: 500
history:
  max_entries: 1000
  prune_threshold: 2000
`
