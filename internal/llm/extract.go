package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON asks the model to restate text as strict JSON matching the
// schema description and unmarshals the result. Fenced code blocks around
// the JSON are tolerated.
func ExtractJSON(ctx context.Context, c Client, text, schemaDescription string) (map[string]interface{}, error) {
	prompt := fmt.Sprintf(
		"Extract the following information from the text and return as valid JSON:\nSchema: %s\n\nText: %s\n\nReturn only valid JSON, no other text:",
		schemaDescription, text,
	)

	resp, err := c.Generate(ctx, &Request{
		Prompt:      prompt,
		Temperature: 0.1,
	})
	if err != nil {
		return nil, err
	}

	obj, err := ParseJSONObject(resp.Content)
	if err != nil {
		return nil, fmt.Errorf("invalid JSON response: %w", err)
	}
	return obj, nil
}

// ParseJSONObject unmarshals a model reply into a JSON object, stripping a
// surrounding markdown code fence when present.
func ParseJSONObject(content string) (map[string]interface{}, error) {
	trimmed := strings.TrimSpace(content)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if i := strings.LastIndex(trimmed, "```"); i >= 0 {
			trimmed = trimmed[:i]
		}
		trimmed = strings.TrimSpace(trimmed)
	}

	var obj map[string]interface{}
	if err := json.Unmarshal([]byte(trimmed), &obj); err != nil {
		return nil, err
	}
	return obj, nil
}
