// Package llm is the client layer for the generative reasoning service. The
// orchestrator talks to the Client interface; the Anthropic implementation
// and its failure classification live here.
package llm

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/google/jsonschema-go/jsonschema"
)

// ErrMalformedResponse indicates the service replied but the response did not
// contain the expected structure. Retrying usually produces a valid one.
var ErrMalformedResponse = errors.New("malformed response")

// Client completes prompts against the reasoning service.
type Client interface {
	// Complete sends a system and user prompt and returns the response text.
	Complete(ctx context.Context, systemPrompt, userPrompt string) (string, error)
}

// Structured completes a prompt whose response must conform to the JSON
// schema of T. The schema is included in the system prompt and the response
// is parsed into a T.
func Structured[T any](ctx context.Context, c Client, systemPrompt, userPrompt string) (T, error) {
	var out T

	schema, err := jsonschema.For[T](nil)
	if err != nil {
		return out, fmt.Errorf("build output schema: %w", err)
	}
	schemaJSON, err := json.MarshalIndent(schema, "", "  ")
	if err != nil {
		return out, fmt.Errorf("marshal output schema: %w", err)
	}

	system := systemPrompt + "\n\nRespond with a single JSON object conforming to this JSON schema, with no surrounding prose:\n\n" + string(schemaJSON)

	response, err := c.Complete(ctx, system, userPrompt)
	if err != nil {
		return out, err
	}

	jsonStr := ExtractJSON(response)
	if jsonStr == "" {
		return out, fmt.Errorf("no JSON object found in response: %w", ErrMalformedResponse)
	}
	if err := json.Unmarshal([]byte(jsonStr), &out); err != nil {
		return out, fmt.Errorf("parse structured response: %v: %w", err, ErrMalformedResponse)
	}
	return out, nil
}

// ExtractJSON pulls the first JSON object out of a response that may wrap it
// in markdown fences or prose.
func ExtractJSON(response string) string {
	response = strings.TrimSpace(response)

	// Fenced block first.
	for _, fence := range []string{"```json", "```"} {
		if start := strings.Index(response, fence); start != -1 {
			rest := response[start+len(fence):]
			if end := strings.Index(rest, "```"); end != -1 {
				candidate := strings.TrimSpace(rest[:end])
				if strings.HasPrefix(candidate, "{") {
					return candidate
				}
			}
		}
	}

	// First balanced top-level object.
	start := strings.Index(response, "{")
	if start == -1 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(response); i++ {
		ch := response[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return response[start : i+1]
				}
			}
		}
	}
	return ""
}
