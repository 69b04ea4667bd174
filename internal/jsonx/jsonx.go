// Package jsonx extracts JSON payloads from LLM output.
//
// Models wrap JSON in markdown fences or surround it with prose more often
// than not, so extraction tries progressively looser strategies: a ```json
// fence, a bare ``` fence, the raw text, and finally the widest {...} window.
package jsonx

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSON indicates no parseable JSON object was found in the text.
var ErrNoJSON = errors.New("no JSON object found in output")

// StripFences removes a markdown code fence around the payload, if present.
// A ```json fence takes priority over a bare ``` fence. Text without a
// closing fence is returned unchanged.
func StripFences(text string) string {
	text = strings.TrimSpace(text)

	for _, marker := range []string{"```json", "```"} {
		start := strings.Index(text, marker)
		if start < 0 {
			continue
		}
		inner := text[start+len(marker):]
		end := strings.Index(inner, "```")
		if end < 0 {
			break
		}
		return strings.TrimSpace(inner[:end])
	}
	return text
}

// Extract pulls a JSON value out of raw LLM output and unmarshals it into v.
// Returns the candidate text that was parsed so callers can report it on
// validation failures.
func Extract(text string, v any) (string, error) {
	candidate := StripFences(text)

	if err := json.Unmarshal([]byte(candidate), v); err == nil {
		return candidate, nil
	}

	// Fall back to the widest brace window in the candidate text.
	start := strings.Index(candidate, "{")
	end := strings.LastIndex(candidate, "}")
	if start < 0 || end <= start {
		return candidate, ErrNoJSON
	}

	window := candidate[start : end+1]
	if err := json.Unmarshal([]byte(window), v); err != nil {
		return window, errors.Join(ErrNoJSON, err)
	}
	return window, nil
}

// ExtractObject is Extract specialized to a generic JSON object.
func ExtractObject(text string) (map[string]any, string, error) {
	var obj map[string]any
	raw, err := Extract(text, &obj)
	if err != nil {
		return nil, raw, err
	}
	return obj, raw, nil
}
