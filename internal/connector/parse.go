package connector

import (
	"encoding/json"
	"strings"

	"github.com/rotisserie/eris"
)

// cleanJSON strips markdown fences and surrounding prose so a model reply
// has a fighting chance of being valid JSON.
func cleanJSON(text string) string {
	text = strings.TrimSpace(text)

	// Strip markdown code fences.
	if strings.HasPrefix(text, "```json") {
		text = strings.TrimPrefix(text, "```json")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	} else if strings.HasPrefix(text, "```") {
		text = strings.TrimPrefix(text, "```")
		if idx := strings.LastIndex(text, "```"); idx >= 0 {
			text = text[:idx]
		}
	}

	return strings.TrimSpace(text)
}

// extractBalancedObject returns the first balanced {...} substring,
// ignoring braces inside JSON string literals. Empty when none exists.
func extractBalancedObject(text string) string {
	start := strings.Index(text, "{")
	if start < 0 {
		return ""
	}

	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(text); i++ {
		c := text[i]
		if escaped {
			escaped = false
			continue
		}
		switch c {
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
					return text[start : i+1]
				}
			}
		}
	}
	return ""
}

// DecodeLooseJSON parses a model reply into a generic value. It tries the
// cleaned text directly, then recovers once by extracting the first
// balanced object. Further failures are terminal for the attempt.
func DecodeLooseJSON(text string) (any, error) {
	cleaned := cleanJSON(text)

	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err == nil {
		return v, nil
	}

	obj := extractBalancedObject(cleaned)
	if obj == "" {
		return nil, eris.New("connector: no JSON object in model reply")
	}
	if err := json.Unmarshal([]byte(obj), &v); err != nil {
		return nil, eris.Wrap(err, "connector: parse extracted JSON object")
	}
	return v, nil
}
