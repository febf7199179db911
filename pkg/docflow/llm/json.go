package llm

import (
	"encoding/json"
	"strings"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
)

// DecodeJSON extracts the JSON value from an LLM response and decodes it
// into T. Markdown code fences and surrounding prose are ignored. If T
// implements Validator its Validate method is called.
func DecodeJSON[T any](content string) (T, error) {
	var v T
	raw, ok := ExtractJSON(content)
	if !ok {
		return v, &dferrors.OutputError{Excerpt: truncate(content, 200), Reason: "no JSON value in response"}
	}
	if err := json.Unmarshal([]byte(raw), &v); err != nil {
		return v, &dferrors.OutputError{Excerpt: truncate(raw, 200), Reason: err.Error()}
	}
	if val, ok := any(&v).(Validator); ok {
		if err := val.Validate(); err != nil {
			return v, err
		}
	}
	return v, nil
}

// ExtractJSON returns the outermost JSON object or array in s.
func ExtractJSON(s string) (string, bool) {
	s = strings.TrimSpace(s)
	if fenced, ok := stripFence(s); ok {
		s = fenced
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", false
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end < start {
		return "", false
	}
	return s[start : end+1], true
}

func stripFence(s string) (string, bool) {
	open := strings.Index(s, "```")
	if open < 0 {
		return "", false
	}
	rest := s[open+3:]
	// Drop the info string ("json").
	if nl := strings.IndexByte(rest, '\n'); nl >= 0 {
		rest = rest[nl+1:]
	}
	closeIdx := strings.Index(rest, "```")
	if closeIdx < 0 {
		return "", false
	}
	return strings.TrimSpace(rest[:closeIdx]), true
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
