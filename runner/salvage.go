package runner

import (
	"encoding/json"
	"strings"
	"unicode/utf8"
)

// salvageMinLength is the minimum rune length a recovered field value must
// have to be accepted as the final answer. Anything shorter is more likely a
// stray JSON snippet than a genuine completion payload.
const salvageMinLength = 80

// salvageCompletion scans prose for an embedded, possibly malformed
// tool-call-shaped JSON blob (typically a fenced code block such as
// {"review_content": "..."}) and recovers its payload. Models that were
// nudged past the limit often "complete" this way: the structure is there
// but was never sent as a tool call, or carries unescaped newlines or a
// truncated tail that break strict JSON parsing.
//
// Returns the recovered content and true when a blob passes the shape
// heuristic; otherwise false, letting the caller fall back to the raw text.
func salvageCompletion(raw string) (string, bool) {
	rest := raw
	for {
		start := strings.IndexByte(rest, '{')
		if start < 0 {
			return "", false
		}
		blob := balancedObject(rest[start:])
		if content, ok := extractPayload(blob); ok {
			return content, true
		}
		rest = rest[start+1:]
	}
}

// balancedObject returns the brace-depth-balanced object starting at s[0],
// or all of s when the object is truncated. Quotes and escapes are tracked
// so braces inside string values do not end the scan; a raw newline inside a
// string (invalid JSON, common in model output) does not end it either.
func balancedObject(s string) string {
	depth := 0
	inString := false
	escaped := false
	for i := 0; i < len(s); i++ {
		ch := s[i]
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
				return s[:i+1]
			}
		}
	}
	return s
}

// extractPayload pulls the completion content out of a blob. Strict parsing
// is tried first; the manual scan below handles the malformed cases strict
// parsing rejects.
func extractPayload(blob string) (string, bool) {
	var parsed map[string]any
	if err := json.Unmarshal([]byte(blob), &parsed); err == nil {
		best := ""
		for _, v := range parsed {
			if s, ok := v.(string); ok && len(s) > len(best) {
				best = s
			}
		}
		if acceptable(best) {
			return best, true
		}
		return "", false
	}

	// Malformed blob: locate the first "<key>": "<value> pair and take the
	// value up to the last plausible closing quote, tolerating unescaped
	// newlines and a truncated tail.
	colon := strings.Index(blob, "\":")
	if colon < 0 {
		return "", false
	}
	open := strings.IndexByte(blob[colon+2:], '"')
	if open < 0 {
		return "", false
	}
	valueStart := colon + 2 + open + 1

	value := blob[valueStart:]
	if end := lastClosingQuote(value); end >= 0 {
		value = value[:end]
	} else {
		// Truncated: strip whatever trailing structure is left.
		value = strings.TrimRight(value, "\"}`\n\t ")
	}

	value = unescapeBestEffort(value)
	if acceptable(value) {
		return value, true
	}
	return "", false
}

// lastClosingQuote finds the last unescaped quote that is followed only by
// JSON closing structure, which marks the end of the value in a blob whose
// interior newlines broke strict parsing.
func lastClosingQuote(s string) int {
	for i := len(s) - 1; i >= 0; i-- {
		if s[i] != '"' || (i > 0 && s[i-1] == '\\') {
			continue
		}
		tail := strings.TrimSpace(s[i+1:])
		tail = strings.Trim(tail, ",}]`\n\t ")
		if tail == "" {
			return i
		}
	}
	return -1
}

var salvageUnescaper = strings.NewReplacer(
	`\n`, "\n",
	`\t`, "\t",
	`\"`, `"`,
	`\\`, `\`,
)

func unescapeBestEffort(s string) string {
	return salvageUnescaper.Replace(s)
}

func acceptable(s string) bool {
	return utf8.RuneCountInString(strings.TrimSpace(s)) >= salvageMinLength
}
