package llm

import (
	"errors"
	"strings"

	"github.com/tidwall/gjson"
)

// ErrInvalidJSON is returned when a completion does not contain a JSON document
var ErrInvalidJSON = errors.New("llm completion is not valid JSON")

// ExtractJSON returns the JSON document inside a completion, tolerating
// markdown code fences and prose around the object.
func ExtractJSON(completion string) (string, error) {
	s := strings.TrimSpace(completion)

	if strings.HasPrefix(s, "```") {
		s = strings.TrimPrefix(s, "```")
		if nl := strings.IndexByte(s, '\n'); nl >= 0 {
			s = s[nl+1:]
		}
		if end := strings.LastIndex(s, "```"); end >= 0 {
			s = s[:end]
		}
		s = strings.TrimSpace(s)
	}

	if gjson.Valid(s) {
		return s, nil
	}

	start := strings.IndexAny(s, "{[")
	if start < 0 {
		return "", ErrInvalidJSON
	}
	closer := byte('}')
	if s[start] == '[' {
		closer = ']'
	}
	end := strings.LastIndexByte(s, closer)
	if end <= start {
		return "", ErrInvalidJSON
	}

	candidate := s[start : end+1]
	if !gjson.Valid(candidate) {
		return "", ErrInvalidJSON
	}
	return candidate, nil
}
