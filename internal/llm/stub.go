package llm

import (
	"context"
	"sync"
)

// StubClient returns canned responses in order, then repeats the last one.
// It is used in tests and when the server runs without an API key.
type StubClient struct {
	mu        sync.Mutex
	responses []string
	calls     int

	// Err, when set, is returned by every Generate call.
	Err error
}

// NewStubClient creates a stub that cycles through the given responses.
func NewStubClient(responses ...string) *StubClient {
	if len(responses) == 0 {
		responses = []string{`{"confidence": 0.9, "analysis": "stubbed response"}`}
	}
	return &StubClient{responses: responses}
}

// Generate implements Client.
func (s *StubClient) Generate(_ context.Context, _ *Request) (*Response, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.Err != nil {
		return nil, s.Err
	}

	idx := s.calls
	if idx >= len(s.responses) {
		idx = len(s.responses) - 1
	}
	s.calls++

	return &Response{
		Content:    s.responses[idx],
		TokensUsed: len(s.responses[idx]) / 4,
	}, nil
}

// Calls reports how many times Generate ran.
func (s *StubClient) Calls() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls
}
