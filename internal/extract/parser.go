package extract

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrUnparseable marks a gateway reply that survived transport but does not
// contain the expected JSON payload.
var ErrUnparseable = errors.New("extraction response is not valid JSON")

type wirePayload struct {
	Summary     string      `json:"summary"`
	Preferences Preferences `json:"preferences"`
}

// ParseResult turns a raw gateway reply into a Result. Models wrap their
// JSON in code fences or surround it with prose despite instructions, so the
// payload is first isolated (fence markers stripped, first balanced JSON
// object scanned out) and only then parsed strictly. Anything still invalid
// fails as ErrUnparseable.
func ParseResult(raw string) (Result, error) {
	payload := isolateJSON(raw)

	var wire wirePayload
	if err := json.Unmarshal([]byte(payload), &wire); err != nil {
		return Result{}, fmt.Errorf("%w: %v", ErrUnparseable, err)
	}
	if strings.TrimSpace(wire.Summary) == "" {
		return Result{}, fmt.Errorf("%w: missing summary field", ErrUnparseable)
	}

	return Result{
		Summary:     strings.TrimSpace(wire.Summary),
		Preferences: wire.Preferences,
	}, nil
}

// isolateJSON extracts the first complete JSON object from text that may
// carry markdown fences or explanatory prose around it. If no balanced
// object is found the input is returned as-is and the strict parse fails.
func isolateJSON(text string) string {
	text = strings.ReplaceAll(text, "```json", "")
	text = strings.ReplaceAll(text, "```", "")
	text = strings.TrimSpace(text)

	start := strings.Index(text, "{")
	if start == -1 {
		return text
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
		if c == '\\' {
			escaped = true
			continue
		}
		if c == '"' {
			inString = !inString
			continue
		}
		if inString {
			continue
		}
		switch c {
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return text
}
