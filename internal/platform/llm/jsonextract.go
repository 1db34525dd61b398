package llm

import (
	"encoding/json"
	"errors"
	"strings"
)

// ErrNoJSONObject indicates the completion text held no parseable JSON object.
var ErrNoJSONObject = errors.New("llm: no JSON object in completion")

// ExtractJSONObject pulls the first JSON object out of completion text.
// Models frequently wrap their answer in markdown fences or surrounding
// prose; both are stripped before parsing.
func ExtractJSONObject(text string) ([]byte, error) {
	cleaned := stripCodeFences(text)

	start := strings.Index(cleaned, "{")
	end := strings.LastIndex(cleaned, "}")
	if start < 0 || end <= start {
		return nil, ErrNoJSONObject
	}

	candidate := []byte(cleaned[start : end+1])
	if !json.Valid(candidate) {
		return nil, ErrNoJSONObject
	}
	return candidate, nil
}

func stripCodeFences(text string) string {
	trimmed := strings.TrimSpace(text)
	if !strings.Contains(trimmed, "```") {
		return trimmed
	}

	// Prefer the content of the first fenced block when one exists.
	first := strings.Index(trimmed, "```")
	rest := trimmed[first+3:]
	if newline := strings.Index(rest, "\n"); newline >= 0 {
		// Drop the language tag on the opening fence line, e.g. ```json.
		tag := strings.TrimSpace(rest[:newline])
		if tag == "" || isFenceTag(tag) {
			rest = rest[newline+1:]
		}
	}
	if closing := strings.Index(rest, "```"); closing >= 0 {
		rest = rest[:closing]
	}
	return strings.TrimSpace(rest)
}

func isFenceTag(tag string) bool {
	for _, r := range tag {
		if (r < 'a' || r > 'z') && (r < 'A' || r > 'Z') {
			return false
		}
	}
	return true
}
