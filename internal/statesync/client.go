package statesync

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"
)

// Client talks to the BotArmy REST and SSE endpoints.
type Client struct {
	baseURL    string
	httpClient *http.Client
}

// NewClient creates an API client for the given server base URL.
func NewClient(baseURL string) *Client {
	return &Client{
		baseURL: strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{
			Timeout: 30 * time.Second,
		},
	}
}

// fetchCollection GETs an endpoint and decodes the named array out of its
// envelope. A transport failure or non-2xx status is an error; a body that
// does not decode into the expected shape is normalized to an empty
// collection so one bad payload cannot wedge the mirror.
func (c *Client) fetchCollection(ctx context.Context, path, key string, out interface{}) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+path, nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}

	resp, err := c.httpClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	var envelope map[string]json.RawMessage
	if err := json.Unmarshal(body, &envelope); err != nil {
		return nil
	}
	raw, ok := envelope[key]
	if !ok {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return nil
	}
	return nil
}

// FetchAgents retrieves the agent roster.
func (c *Client) FetchAgents(ctx context.Context) ([]Agent, error) {
	agents := []Agent{}
	if err := c.fetchCollection(ctx, "/api/agents", "agents", &agents); err != nil {
		return nil, err
	}
	return agents, nil
}

// FetchTasks retrieves pending human action items.
func (c *Client) FetchTasks(ctx context.Context) ([]Task, error) {
	tasks := []Task{}
	if err := c.fetchCollection(ctx, "/api/tasks", "tasks", &tasks); err != nil {
		return nil, err
	}
	return tasks, nil
}

// FetchMessages retrieves recent inter-agent messages.
func (c *Client) FetchMessages(ctx context.Context) ([]Message, error) {
	msgs := []Message{}
	if err := c.fetchCollection(ctx, "/api/messages", "messages", &msgs); err != nil {
		return nil, err
	}
	return msgs, nil
}

// FetchLogs retrieves recent activity log lines.
func (c *Client) FetchLogs(ctx context.Context) ([]LogEntry, error) {
	logs := []LogEntry{}
	if err := c.fetchCollection(ctx, "/api/logs", "logs", &logs); err != nil {
		return nil, err
	}
	return logs, nil
}

// Stream connects to the global SSE feed and delivers decoded events until
// the connection drops or ctx is cancelled. Returns once the stream ends;
// the error reports why.
func (c *Client) Stream(ctx context.Context, events chan<- Event) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/api/events", nil)
	if err != nil {
		return fmt.Errorf("create request: %w", err)
	}
	httpReq.Header.Set("Accept", "text/event-stream")

	// The stream is long-lived; the client-level timeout must not apply.
	streamClient := &http.Client{Transport: c.httpClient.Transport}
	resp, err := streamClient.Do(httpReq)
	if err != nil {
		return fmt.Errorf("send request: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(resp.Body)
		return fmt.Errorf("HTTP %d: %s", resp.StatusCode, string(body))
	}

	scanner := bufio.NewScanner(resp.Body)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)

	var eventType, eventData string
	for scanner.Scan() {
		line := strings.TrimRight(scanner.Text(), "\r")

		if line == "" {
			// Blank line terminates one SSE frame.
			if eventData != "" {
				evt := decodeEvent(eventType, eventData)
				select {
				case events <- evt:
				case <-ctx.Done():
					return ctx.Err()
				}
			}
			eventType = ""
			eventData = ""
			continue
		}

		switch {
		case strings.HasPrefix(line, "event:"):
			eventType = strings.TrimSpace(line[len("event:"):])
		case strings.HasPrefix(line, "data:"):
			eventData = strings.TrimSpace(line[len("data:"):])
		}
	}

	if err := scanner.Err(); err != nil {
		return fmt.Errorf("read stream: %w", err)
	}
	if ctx.Err() != nil {
		return ctx.Err()
	}
	return io.EOF
}

// decodeEvent parses one SSE frame. A body that is not the expected JSON
// still yields an event carrying the raw payload so the apply loop can
// ignore it by type.
func decodeEvent(eventType, data string) Event {
	var evt Event
	if err := json.Unmarshal([]byte(data), &evt); err != nil || evt.Type == "" {
		evt = Event{Type: eventType, Payload: json.RawMessage(data)}
	}
	if evt.Type == "" {
		evt.Type = eventType
	}
	return evt
}
