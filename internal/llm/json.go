package llm

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

// ExtractJSON pulls the outermost JSON object out of a model response and
// unmarshals it. Models regularly wrap JSON in prose or code fences, so the
// object is located positionally rather than parsed from position zero.
func ExtractJSON(response string, out interface{}) error {
	start := strings.Index(response, "{")
	end := strings.LastIndex(response, "}")
	if start == -1 || end == -1 || end <= start {
		return fmt.Errorf("no JSON object found in response")
	}

	if err := json.Unmarshal([]byte(response[start:end+1]), out); err != nil {
		return fmt.Errorf("failed to parse JSON: %w", err)
	}
	return nil
}

// CompleteJSON runs a completion that must yield a JSON object. When the
// first response does not contain one, the prompt is re-issued once with an
// explicit format reminder.
func CompleteJSON(ctx context.Context, c Completer, purpose, systemPrompt, userPrompt string, out interface{}) error {
	response, err := c.Complete(ctx, purpose, systemPrompt, userPrompt)
	if err != nil {
		return err
	}

	if err := ExtractJSON(response, out); err == nil {
		return nil
	}

	if ctx.Err() != nil {
		return ctx.Err()
	}

	reminder := userPrompt + "\n\nRespond with ONLY a valid JSON object, no markdown and no explanations."
	response, err = c.Complete(ctx, purpose, systemPrompt, reminder)
	if err != nil {
		return err
	}
	return ExtractJSON(response, out)
}
