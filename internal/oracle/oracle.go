// Package oracle wraps the external text-understanding service. Callers
// treat it as a black box: one system instruction plus user content in,
// one JSON object out. Every consumer carries its own deterministic
// fallback, so a failed call here is routine, not fatal.
package oracle

import (
	"context"
	"errors"
	"strings"
)

// Client is the oracle contract. CompleteJSON returns the raw text of a
// single completion that was asked to be a JSON object; callers parse and
// default it field by field.
type Client interface {
	CompleteJSON(ctx context.Context, system, user string) (string, error)
}

// ErrDisabled is returned by the Disabled client. Consumers treat it like
// any other oracle failure and run their fallback.
var ErrDisabled = errors.New("oracle disabled")

// Disabled is a Client for oracle-less operation (no API key configured).
type Disabled struct{}

func (Disabled) CompleteJSON(context.Context, string, string) (string, error) {
	return "", ErrDisabled
}

// ExtractJSONObject salvages a JSON object from a completion that may wrap
// it in markdown code fences or conversational filler. It returns the
// substring from the first '{' to the last '}', and false if no object is
// present.
func ExtractJSONObject(s string) (string, bool) {
	s = strings.TrimSpace(s)

	// Strip markdown code fences.
	if idx := strings.Index(s, "```"); idx != -1 {
		s = s[idx+3:]
		if strings.HasPrefix(s, "json") {
			s = s[4:]
		}
		if end := strings.Index(s, "```"); end != -1 {
			s = s[:end]
		}
	}

	start := strings.Index(s, "{")
	end := strings.LastIndex(s, "}")
	if start == -1 || end <= start {
		return "", false
	}
	return s[start : end+1], true
}
