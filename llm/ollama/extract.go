package ollama

import (
	"encoding/json"
	"strings"

	"github.com/google/uuid"
	"github.com/m-mizutani/goerr/v2"
	"github.com/m-mizutani/remedy"
)

// extractJSONObjects returns every balanced top-level JSON object found in
// text, supporting arbitrary nesting and braces inside string literals.
func extractJSONObjects(text string) []string {
	var results []string

	for i := 0; i < len(text); i++ {
		if text[i] != '{' {
			continue
		}

		depth := 0
		inString := false
		escape := false
		for j := i; j < len(text); j++ {
			ch := text[j]
			if escape {
				escape = false
				continue
			}
			if ch == '\\' && inString {
				escape = true
				continue
			}
			if ch == '"' {
				inString = !inString
				continue
			}
			if inString {
				continue
			}
			if ch == '{' {
				depth++
			} else if ch == '}' {
				depth--
				if depth == 0 {
					results = append(results, text[i:j+1])
					i = j
					break
				}
			}
		}
	}
	return results
}

// parseToolCalls recovers tool calls from the free text a model emitted
// instead of a structured tool-call field. It returns nil calls when the
// text contains no call attempt, and remedy.ErrMalformedToolCall when an
// attempt is present but cannot be decoded into a usable call.
func parseToolCalls(text string, known map[string]bool) ([]*remedy.ToolCall, error) {
	var calls []*remedy.ToolCall
	malformed := false
	var malformedRaw string

	for _, raw := range extractJSONObjects(text) {
		var obj map[string]any
		if err := json.Unmarshal([]byte(raw), &obj); err != nil {
			if strings.Contains(raw, `"name"`) {
				malformed = true
				malformedRaw = raw
			}
			continue
		}

		name, ok := obj["name"].(string)
		if !ok || !known[name] {
			continue
		}

		args, ok := obj["arguments"].(map[string]any)
		if !ok {
			if obj["arguments"] == nil {
				args = map[string]any{}
			} else {
				malformed = true
				malformedRaw = raw
				continue
			}
		}

		calls = append(calls, &remedy.ToolCall{
			ID:        syntheticCallID(),
			Name:      name,
			Arguments: args,
			Raw:       raw,
		})
	}

	if len(calls) == 0 && malformed {
		return nil, goerr.Wrap(remedy.ErrMalformedToolCall, "tool call in text could not be decoded",
			goerr.V("raw", malformedRaw))
	}
	return calls, nil
}

func syntheticCallID() string {
	return "syn_" + uuid.New().String()
}
