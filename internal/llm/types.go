// Package llm provides the LLM client used by the BotArmy agents: a thin
// retry-wrapped HTTP client over the chat-completions API plus a
// deterministic stub for tests and keyless development.
package llm

import (
	"context"
	"sync"
	"time"
)

// Request is a single prompt sent to the model.
type Request struct {
	Prompt       string  `json:"prompt"`
	SystemPrompt string  `json:"system_prompt,omitempty"`
	Temperature  float32 `json:"temperature,omitempty"`
	MaxTokens    int     `json:"max_tokens,omitempty"`
}

// Response is the model output with token accounting.
type Response struct {
	Content    string        `json:"content"`
	TokensUsed int           `json:"tokens_used"`
	Duration   time.Duration `json:"duration"`
}

// Client is implemented by all LLM backends.
type Client interface {
	// Generate produces a completion for the request, retrying transient
	// failures internally.
	Generate(ctx context.Context, req *Request) (*Response, error)
}

// Usage tracks aggregate statistics for a client.
type Usage struct {
	RequestCount int64     `json:"request_count"`
	TotalTokens  int64     `json:"total_tokens"`
	ErrorCount   int64     `json:"error_count"`
	AvgLatency   float64   `json:"avg_latency"`
	LastUsed     time.Time `json:"last_used"`
}

type usageTracker struct {
	mu    sync.Mutex
	usage Usage
}

func (t *usageTracker) record(tokens int, duration time.Duration) {
	t.mu.Lock()
	defer t.mu.Unlock()
	u := &t.usage
	u.RequestCount++
	u.TotalTokens += int64(tokens)
	u.AvgLatency = (u.AvgLatency*float64(u.RequestCount-1) + duration.Seconds()) / float64(u.RequestCount)
	u.LastUsed = time.Now()
}

func (t *usageTracker) recordError() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.usage.ErrorCount++
}

func (t *usageTracker) snapshot() Usage {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.usage
}
