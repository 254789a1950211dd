package llm

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"golang.org/x/time/rate"

	"botarmy/internal/metrics"
)

const (
	defaultBaseURL    = "https://api.openai.com/v1/chat/completions"
	defaultModel      = "gpt-4o-mini"
	defaultMaxRetries = 3
	defaultBaseDelay  = time.Second
)

// OpenAIClient talks to the OpenAI chat-completions API with retry and
// exponential backoff.
type OpenAIClient struct {
	apiKey     string
	model      string
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
	maxRetries int
	baseDelay  time.Duration
	tracker    usageTracker
}

type openAIRequest struct {
	Model       string          `json:"model"`
	Messages    []openAIMessage `json:"messages"`
	MaxTokens   int             `json:"max_tokens,omitempty"`
	Temperature float32         `json:"temperature,omitempty"`
	Stream      bool            `json:"stream"`
}

type openAIMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type openAIResponse struct {
	ID      string `json:"id"`
	Model   string `json:"model"`
	Choices []struct {
		Index   int `json:"index"`
		Message struct {
			Role    string `json:"role"`
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Usage struct {
		PromptTokens     int `json:"prompt_tokens"`
		CompletionTokens int `json:"completion_tokens"`
		TotalTokens      int `json:"total_tokens"`
	} `json:"usage"`
	Error *struct {
		Message string `json:"message"`
		Type    string `json:"type"`
		Code    string `json:"code"`
	} `json:"error,omitempty"`
}

// OpenAIOption customizes the client.
type OpenAIOption func(*OpenAIClient)

// WithModel overrides the default model.
func WithModel(model string) OpenAIOption {
	return func(c *OpenAIClient) {
		if model != "" {
			c.model = model
		}
	}
}

// WithBaseURL points the client at a different endpoint (tests, proxies).
func WithBaseURL(url string) OpenAIOption {
	return func(c *OpenAIClient) { c.baseURL = url }
}

// WithHTTPClient swaps the underlying HTTP client.
func WithHTTPClient(hc *http.Client) OpenAIOption {
	return func(c *OpenAIClient) { c.httpClient = hc }
}

// WithBackoff tunes the retry policy.
func WithBackoff(maxRetries int, baseDelay time.Duration) OpenAIOption {
	return func(c *OpenAIClient) {
		c.maxRetries = maxRetries
		c.baseDelay = baseDelay
	}
}

// NewOpenAIClient creates a new OpenAI chat-completions client.
func NewOpenAIClient(apiKey string, opts ...OpenAIOption) *OpenAIClient {
	c := &OpenAIClient{
		apiKey:  apiKey,
		model:   defaultModel,
		baseURL: defaultBaseURL,
		httpClient: &http.Client{
			Timeout: 120 * time.Second,
		},
		// Pace outbound calls so sequential agent handoffs cannot hammer
		// the provider.
		limiter:    rate.NewLimiter(rate.Limit(2), 4),
		maxRetries: defaultMaxRetries,
		baseDelay:  defaultBaseDelay,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Generate implements Client with up to maxRetries attempts and exponential
// backoff between them.
func (c *OpenAIClient) Generate(ctx context.Context, req *Request) (*Response, error) {
	start := time.Now()

	wireReq := &openAIRequest{
		Model:       c.model,
		Messages:    c.buildMessages(req),
		MaxTokens:   maxTokensFor(req),
		Temperature: req.Temperature,
		Stream:      false,
	}

	var lastErr error
	for attempt := 0; attempt < c.maxRetries; attempt++ {
		if attempt > 0 {
			delay := c.baseDelay << (attempt - 1)
			select {
			case <-time.After(delay):
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}

		if err := c.limiter.Wait(ctx); err != nil {
			return nil, err
		}

		resp, err := c.makeRequest(ctx, wireReq)
		if err != nil {
			lastErr = err
			c.tracker.recordError()
			metrics.LLMRequests.WithLabelValues("openai", "error").Inc()
			continue
		}

		content := ""
		if len(resp.Choices) > 0 {
			content = resp.Choices[0].Message.Content
		}

		c.tracker.record(resp.Usage.TotalTokens, time.Since(start))
		metrics.LLMRequests.WithLabelValues("openai", "ok").Inc()
		metrics.LLMTokens.Add(float64(resp.Usage.TotalTokens))

		return &Response{
			Content:    content,
			TokensUsed: resp.Usage.TotalTokens,
			Duration:   time.Since(start),
		}, nil
	}

	return nil, fmt.Errorf("llm request failed after %d attempts: %w", c.maxRetries, lastErr)
}

// Usage returns aggregate statistics for this client.
func (c *OpenAIClient) Usage() Usage {
	return c.tracker.snapshot()
}

func (c *OpenAIClient) buildMessages(req *Request) []openAIMessage {
	messages := make([]openAIMessage, 0, 2)
	if req.SystemPrompt != "" {
		messages = append(messages, openAIMessage{Role: "system", Content: req.SystemPrompt})
	}
	messages = append(messages, openAIMessage{Role: "user", Content: req.Prompt})
	return messages
}

func (c *OpenAIClient) makeRequest(ctx context.Context, req *openAIRequest) (*openAIResponse, error) {
	jsonData, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, c.baseURL, bytes.NewBuffer(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+c.apiKey)

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("failed to make request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("API request failed with status %d: %s", resp.StatusCode, string(body))
	}

	var wireResp openAIResponse
	if err := json.Unmarshal(body, &wireResp); err != nil {
		return nil, fmt.Errorf("failed to unmarshal response: %w", err)
	}
	if wireResp.Error != nil {
		return nil, fmt.Errorf("OpenAI API error: %s", wireResp.Error.Message)
	}
	return &wireResp, nil
}

func maxTokensFor(req *Request) int {
	if req.MaxTokens > 0 {
		return req.MaxTokens
	}
	return 2000
}
