package llm

import (
	"encoding/json"
	"strings"
)

// ParseToolArguments decodes tool-call arguments, repairing the truncation
// damage that streamed JSON commonly carries. Text that cannot be repaired
// is returned as a plain string.
func ParseToolArguments(raw json.RawMessage) any {
	text := strings.TrimSpace(string(raw))
	if text == "" {
		return map[string]any{}
	}
	if v, ok := RepairJSON(text); ok {
		return v
	}
	return text
}

// RepairJSON parses s, first as-is and then after closing any open string,
// object or array and dropping dangling commas and colons.
func RepairJSON(s string) (any, bool) {
	var v any
	if err := json.Unmarshal([]byte(s), &v); err == nil {
		return v, true
	}

	var stack []byte
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		c := s[i]
		if inString {
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
		switch c {
		case '"':
			inString = true
		case '{', '[':
			stack = append(stack, c)
		case '}', ']':
			if len(stack) > 0 {
				stack = stack[:len(stack)-1]
			}
		}
	}

	var b strings.Builder
	b.WriteString(s)
	if inString {
		if escaped {
			b.WriteByte('\\')
		}
		b.WriteByte('"')
	}
	repaired := strings.TrimRight(b.String(), " \t\r\n")
	repaired = strings.TrimRight(repaired, ",:")
	for i := len(stack) - 1; i >= 0; i-- {
		repaired = strings.TrimRight(repaired, " \t\r\n,")
		if stack[i] == '{' {
			repaired += "}"
		} else {
			repaired += "]"
		}
	}

	if err := json.Unmarshal([]byte(repaired), &v); err == nil {
		return v, true
	}
	return nil, false
}
