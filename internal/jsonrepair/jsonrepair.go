// Package jsonrepair parses JSON that may be wrapped in prose or code fences,
// or carry trailing commas.
package jsonrepair

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrNoJSON is returned when the input holds no object or array.
var ErrNoJSON = errors.New("input contains no JSON object or array")

// ParseOrRepair decodes input as JSON. When strict decoding fails it applies,
// in order: code fence stripping, trimming to the outermost braces or
// brackets, and removal of trailing commas, then decodes again. The input is
// never modified and no state is kept between calls.
func ParseOrRepair(input string) (any, error) {
	var v any
	strictErr := json.Unmarshal([]byte(input), &v)
	if strictErr == nil {
		return v, nil
	}

	repaired, err := Repair(input)
	if err != nil {
		return nil, fmt.Errorf("parse json: %w (repair: %v)", strictErr, err)
	}
	if err := json.Unmarshal([]byte(repaired), &v); err != nil {
		return nil, fmt.Errorf("parse repaired json: %w", err)
	}
	return v, nil
}

// Repair returns the repaired JSON text without decoding it.
func Repair(input string) (string, error) {
	s := stripFences(strings.TrimSpace(input))
	s, err := trimToOuter(s)
	if err != nil {
		return "", err
	}
	return stripTrailingCommas(s), nil
}

func stripFences(s string) string {
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	// Drop the info string (```json).
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	if i := strings.LastIndex(s, "```"); i >= 0 {
		s = s[:i]
	}
	return strings.TrimSpace(s)
}

// trimToOuter cuts s to the span between the first opening brace or bracket
// and the last matching closer.
func trimToOuter(s string) (string, error) {
	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrNoJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", ErrNoJSON
	}
	return s[start : end+1], nil
}

// stripTrailingCommas removes commas directly followed (ignoring whitespace)
// by a closing brace or bracket. String literals are left untouched.
func stripTrailingCommas(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	inString, escaped := false, false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
			b.WriteByte(c)
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		if c == '"' {
			inString = true
			b.WriteByte(c)
			continue
		}
		if c == ',' {
			j := i + 1
			for j < len(s) && isSpace(s[j]) {
				j++
			}
			if j < len(s) && (s[j] == '}' || s[j] == ']') {
				continue
			}
		}
		b.WriteByte(c)
	}
	return b.String()
}

func isSpace(c byte) bool {
	return c == ' ' || c == '\n' || c == '\t' || c == '\r'
}
