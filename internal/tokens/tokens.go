package tokens

import (
	"fmt"
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// DefaultEncoding is used for models tiktoken does not know.
const DefaultEncoding = "cl100k_base"

// DefaultModel is the model assumed when none is given.
const DefaultModel = "gpt-4"

var (
	// Encodings are expensive to build, so they are shared per model.
	encodingCache = make(map[string]*tiktoken.Tiktoken)
	cacheMu       sync.RWMutex
)

// Counter counts tokens for one model. Safe for concurrent use.
type Counter struct {
	encoding *tiktoken.Tiktoken
	model    string
}

// New creates a counter for model, falling back to DefaultEncoding when the
// model is unknown.
func New(model string) (*Counter, error) {
	if model == "" {
		model = DefaultModel
	}

	cacheMu.RLock()
	cached, ok := encodingCache[model]
	cacheMu.RUnlock()
	if ok {
		return &Counter{encoding: cached, model: model}, nil
	}

	encoding, err := tiktoken.EncodingForModel(model)
	if err != nil {
		encoding, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, fmt.Errorf("failed to get encoding: %w", err)
		}
	}

	cacheMu.Lock()
	encodingCache[model] = encoding
	cacheMu.Unlock()

	return &Counter{encoding: encoding, model: model}, nil
}

// Model returns the model the counter was created for.
func (c *Counter) Model() string {
	return c.model
}

// Count returns the exact token count of text. A nil Counter estimates.
func (c *Counter) Count(text string) int {
	if c == nil || c.encoding == nil {
		return Estimate(text)
	}
	return len(c.encoding.Encode(text, nil, nil))
}

// CostFor returns the bucket cost of a request that sends prompt and
// reserves room for up to completion tokens in the reply.
func (c *Counter) CostFor(prompt string, completion int) float64 {
	return float64(c.Count(prompt) + max(completion, 0))
}

// Estimate approximates the token count of text at four characters per
// token, rounding up.
func Estimate(text string) int {
	return (len(text) + 3) / 4
}

// Usage accumulates token consumption across requests. Safe for
// concurrent use.
type Usage struct {
	mu    sync.Mutex
	stats UsageStats
}

// UsageStats is a snapshot of Usage.
type UsageStats struct {
	PromptTokens     int `json:"prompt_tokens"`
	CompletionTokens int `json:"completion_tokens"`
	TotalTokens      int `json:"total_tokens"`
	Requests         int `json:"requests"`
}

// Add records one request.
func (u *Usage) Add(prompt, completion int) {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.stats.PromptTokens += prompt
	u.stats.CompletionTokens += completion
	u.stats.TotalTokens += prompt + completion
	u.stats.Requests++
}

// Stats returns the totals so far.
func (u *Usage) Stats() UsageStats {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.stats
}
