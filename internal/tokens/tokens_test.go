package tokens

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// newCounter skips when the encoding cannot be loaded, which happens in
// sandboxes without network access to the BPE files.
func newCounter(t *testing.T, model string) *Counter {
	t.Helper()
	c, err := New(model)
	if err != nil {
		t.Skipf("tiktoken encoding unavailable: %v", err)
	}
	return c
}

func TestCounter_Count(t *testing.T) {
	c := newCounter(t, "gpt-4")

	assert.Equal(t, 0, c.Count(""))
	assert.Greater(t, c.Count("hello world"), 0)
	assert.Greater(t, c.Count("hello world, this is a longer sentence"), c.Count("hello world"))
}

func TestCounter_UnknownModelFallsBack(t *testing.T) {
	c := newCounter(t, "not-a-real-model")
	assert.Equal(t, "not-a-real-model", c.Model())
	assert.Greater(t, c.Count("hello"), 0)
}

func TestCounter_DefaultModel(t *testing.T) {
	c := newCounter(t, "")
	assert.Equal(t, DefaultModel, c.Model())
}

func TestCounter_CostFor(t *testing.T) {
	c := newCounter(t, "gpt-4")
	prompt := "count these tokens"

	assert.Equal(t, float64(c.Count(prompt)+100), c.CostFor(prompt, 100))
	assert.Equal(t, float64(c.Count(prompt)), c.CostFor(prompt, -5))
}

func TestNilCounterEstimates(t *testing.T) {
	var c *Counter
	assert.Equal(t, Estimate("twelve chars"), c.Count("twelve chars"))
	assert.Equal(t, 13.0, c.CostFor("abcdefghijkl", 10))
}

func TestEstimate(t *testing.T) {
	tests := []struct {
		text string
		want int
	}{
		{"", 0},
		{"a", 1},
		{"abcd", 1},
		{"abcde", 2},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, Estimate(tt.text), "Estimate(%q)", tt.text)
	}
}

func TestUsage(t *testing.T) {
	var u Usage
	var wg sync.WaitGroup
	for i := 0; i < 10; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			u.Add(3, 2)
		}()
	}
	wg.Wait()

	s := u.Stats()
	require.Equal(t, 10, s.Requests)
	assert.Equal(t, 30, s.PromptTokens)
	assert.Equal(t, 20, s.CompletionTokens)
	assert.Equal(t, 50, s.TotalTokens)
}
