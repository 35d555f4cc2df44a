package toolloop

import "encoding/json"

// parseToolCall scans text for the first balanced {...} region that
// contains a "tool" key and decodes it. A region that fails to parse as
// valid JSON, or parses but lacks a "tool" key, is not a match; scanning
// continues from the next "{" rather than giving up at the first brace.
func parseToolCall(text string) (name string, args json.RawMessage, ok bool) {
	for start := 0; start < len(text); start++ {
		if text[start] != '{' {
			continue
		}
		end := matchingBrace(text, start)
		if end == -1 {
			continue
		}

		var decoded struct {
			Tool string          `json:"tool"`
			Args json.RawMessage `json:"args"`
		}
		if err := json.Unmarshal([]byte(text[start:end+1]), &decoded); err != nil {
			continue
		}
		if decoded.Tool == "" {
			continue
		}

		argsJSON := decoded.Args
		if len(argsJSON) == 0 {
			argsJSON = json.RawMessage(`{}`)
		}
		return decoded.Tool, argsJSON, true
	}
	return "", nil, false
}

// matchingBrace returns the index of the '}' balancing the '{' at open,
// respecting string literals and escapes so braces inside string values
// don't throw off the depth count. Returns -1 if the braces never balance.
func matchingBrace(text string, open int) int {
	depth := 0
	inString := false
	escaped := false

	for i := open; i < len(text); i++ {
		ch := text[i]

		if inString {
			switch {
			case escaped:
				escaped = false
			case ch == '\\':
				escaped = true
			case ch == '"':
				inString = false
			}
			continue
		}

		switch ch {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return i
			}
		}
	}
	return -1
}
