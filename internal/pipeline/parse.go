package pipeline

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// parsePayload decodes a model response that should be a JSON object. It
// first tries the raw text as-is, then falls back to the largest
// brace-delimited substring, which survives the prose and code fences models
// like to wrap around their output.
func parsePayload[T any](raw string) (T, error) {
	var zero T
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return zero, errors.New("empty response")
	}
	var strict T
	if err := json.Unmarshal([]byte(trimmed), &strict); err == nil {
		return strict, nil
	}

	fragment := extractObject(trimmed)
	if fragment == "" {
		return zero, errors.New("no JSON object found in response")
	}
	var extracted T
	if err := json.Unmarshal([]byte(fragment), &extracted); err != nil {
		return zero, fmt.Errorf("extracted fragment is not valid JSON: %w", err)
	}
	return extracted, nil
}

// extractObject returns the widest brace-delimited span of raw, or "" when
// no braces are present.
func extractObject(raw string) string {
	start := strings.Index(raw, "{")
	end := strings.LastIndex(raw, "}")
	if start < 0 || end <= start {
		return ""
	}
	return raw[start : end+1]
}
