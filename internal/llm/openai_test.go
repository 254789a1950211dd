package llm

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func completionBody(content string, tokens int) string {
	return fmt.Sprintf(`{
		"id": "chatcmpl-test",
		"model": "gpt-4o-mini",
		"choices": [{"index": 0, "message": {"role": "assistant", "content": %q}, "finish_reason": "stop"}],
		"usage": {"prompt_tokens": 10, "completion_tokens": %d, "total_tokens": %d}
	}`, content, tokens, tokens+10)
}

func TestGenerateSuccess(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "Bearer test-key", r.Header.Get("Authorization"))
		fmt.Fprint(w, completionBody(`{"confidence": 0.9}`, 5))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key", WithBaseURL(srv.URL))
	resp, err := c.Generate(context.Background(), &Request{
		Prompt:       "analyze this",
		SystemPrompt: "you are an analyst",
	})
	require.NoError(t, err)
	assert.Equal(t, `{"confidence": 0.9}`, resp.Content)
	assert.Equal(t, 15, resp.TokensUsed)

	usage := c.Usage()
	assert.Equal(t, int64(1), usage.RequestCount)
	assert.Equal(t, int64(15), usage.TotalTokens)
}

func TestGenerateRetriesTransientFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			http.Error(w, "rate limited", http.StatusTooManyRequests)
			return
		}
		fmt.Fprint(w, completionBody("ok", 1))
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key",
		WithBaseURL(srv.URL),
		WithBackoff(3, time.Millisecond))

	resp, err := c.Generate(context.Background(), &Request{Prompt: "hi"})
	require.NoError(t, err)
	assert.Equal(t, "ok", resp.Content)
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateExhaustsRetries(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	c := NewOpenAIClient("test-key",
		WithBaseURL(srv.URL),
		WithBackoff(3, time.Millisecond))

	_, err := c.Generate(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "after 3 attempts")
	assert.Equal(t, int32(3), atomic.LoadInt32(&calls))
}

func TestGenerateSurfacesAPIError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		fmt.Fprint(w, `{"error": {"message": "invalid api key", "type": "auth", "code": "401"}}`)
	}))
	defer srv.Close()

	c := NewOpenAIClient("bad-key",
		WithBaseURL(srv.URL),
		WithBackoff(1, time.Millisecond))

	_, err := c.Generate(context.Background(), &Request{Prompt: "hi"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "invalid api key")
}

func TestStubClientCyclesResponses(t *testing.T) {
	c := NewStubClient(`{"a": 1}`, `{"b": 2}`)

	first, err := c.Generate(context.Background(), &Request{Prompt: "x"})
	require.NoError(t, err)
	second, err := c.Generate(context.Background(), &Request{Prompt: "y"})
	require.NoError(t, err)
	third, err := c.Generate(context.Background(), &Request{Prompt: "z"})
	require.NoError(t, err)

	assert.Equal(t, `{"a": 1}`, first.Content)
	assert.Equal(t, `{"b": 2}`, second.Content)
	assert.Equal(t, `{"b": 2}`, third.Content, "last response repeats")
	assert.Equal(t, 3, c.Calls())
}

func TestParseJSONObject(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr bool
		wantKey string
	}{
		{name: "plain object", content: `{"confidence": 0.9}`, wantKey: "confidence"},
		{name: "fenced json", content: "```json\n{\"plan\": \"x\"}\n```", wantKey: "plan"},
		{name: "bare fence", content: "```\n{\"plan\": \"x\"}\n```", wantKey: "plan"},
		{name: "prose", content: "I think the answer is 42", wantErr: true},
		{name: "array not object", content: `[1, 2]`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			obj, err := ParseJSONObject(tt.content)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Contains(t, obj, tt.wantKey)
		})
	}
}

func TestExtractJSON(t *testing.T) {
	c := NewStubClient("```json\n{\"title\": \"demo\"}\n```")

	obj, err := ExtractJSON(context.Background(), c, "the project is called demo", `{"title": string}`)
	require.NoError(t, err)
	assert.Equal(t, "demo", obj["title"])
}
