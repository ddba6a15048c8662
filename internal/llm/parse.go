// File path: internal/llm/parse.go
package llm

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// ErrMalformedOutput marks model output that could not be decoded into the
// expected structure. Callers distinguish it from transport errors to decide
// whether a retry can help.
var ErrMalformedOutput = errors.New("llm: malformed model output")

// DecodeJSON decodes a model reply into out. Markdown code fences and any
// prose around the outermost JSON object are tolerated; anything that still
// fails to parse wraps ErrMalformedOutput.
func DecodeJSON(raw string, out interface{}) error {
	cleaned := stripFences(raw)
	if cleaned == "" {
		return fmt.Errorf("%w: empty reply", ErrMalformedOutput)
	}
	if err := json.Unmarshal([]byte(cleaned), out); err != nil {
		return fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	return nil
}

func stripFences(raw string) string {
	trimmed := strings.TrimSpace(raw)
	if strings.HasPrefix(trimmed, "```") {
		trimmed = strings.TrimPrefix(trimmed, "```json")
		trimmed = strings.TrimPrefix(trimmed, "```")
		if idx := strings.LastIndex(trimmed, "```"); idx >= 0 {
			trimmed = trimmed[:idx]
		}
		trimmed = strings.TrimSpace(trimmed)
	}
	start := strings.IndexAny(trimmed, "{[")
	if start < 0 {
		return ""
	}
	var end int
	if trimmed[start] == '{' {
		end = strings.LastIndex(trimmed, "}")
	} else {
		end = strings.LastIndex(trimmed, "]")
	}
	if end <= start {
		return ""
	}
	return trimmed[start : end+1]
}
