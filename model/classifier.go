package model

import (
	"strings"

	"github.com/tidwall/gjson"
)

// FatalPattern describes one vendor condition that must abort a run. A
// pattern matches when every substring occurs (case-insensitively) in the
// error's structured fields or, failing that, its raw text. Patterns are
// data, not logic: vendor message formats drift, so deployments can override
// the defaults through configuration.
type FatalPattern struct {
	Code       string   `json:"code" toml:"code"`
	Substrings []string `json:"substrings" toml:"substrings"`
}

// DefaultFatalPatterns returns the built-in vendor conditions known to be
// unrecoverable.
func DefaultFatalPatterns() []FatalPattern {
	return []FatalPattern{
		{Code: CodeModelNotSupported, Substrings: []string{"model", "not supported"}},
		{Code: CodeModelNotSupported, Substrings: []string{"model_not_found"}},
		{Code: CodeInvalidRequest, Substrings: []string{"invalid request", "system prompt"}},
		{Code: CodeInvalidRequest, Substrings: []string{"invalid_request_error", "tools"}},
		{Code: CodeAuth, Substrings: []string{"invalid_api_key"}},
		{Code: CodeAuth, Substrings: []string{"authentication_error"}},
	}
}

// unavailableMarkers are raw-text signatures of "try again later" upstream
// conditions for clients that surface bare error strings.
var unavailableMarkers = []string{
	"service unavailable",
	"overloaded",
	"rate limit",
	"too many requests",
	"502", "503", "529",
}

// ClassifierOptions configures a Classifier.
type ClassifierOptions struct {
	Patterns []FatalPattern
}

// Classifier inspects raw model-client errors that were not already
// classified at an adapter boundary. It extracts the first JSON object
// embedded in the error text and checks its code/type/message fields against
// the fatal patterns. This string sniffing is inherently fragile, which is
// exactly why it is confined to this one adapter instead of being re-derived
// at call sites.
type Classifier struct {
	patterns []FatalPattern
}

// NewClassifier constructs a Classifier with the default patterns unless
// overridden.
func NewClassifier(optFns ...func(o *ClassifierOptions)) *Classifier {
	opts := ClassifierOptions{Patterns: DefaultFatalPatterns()}
	for _, fn := range optFns {
		fn(&opts)
	}
	return &Classifier{patterns: opts.Patterns}
}

// Classify maps err onto the typed taxonomy. Already-typed errors pass
// through unchanged. A fatal pattern match produces a *FatalError; anything
// else returns err untouched so the caller's transient handling applies.
func (c *Classifier) Classify(err error) error {
	if err == nil || IsFatal(err) || IsUnavailable(err) {
		return err
	}

	raw := err.Error()
	haystack := strings.ToLower(raw)

	// Prefer the structured fields of an embedded JSON error body when one
	// is present: {"error":{"code":...,"type":...,"message":...}}.
	if blob := firstJSONObject(raw); blob != "" {
		var fields []string
		for _, path := range []string{
			"error.code", "error.type", "error.message",
			"code", "type", "message",
		} {
			if v := gjson.Get(blob, path); v.Exists() {
				fields = append(fields, v.String())
			}
		}
		if len(fields) > 0 {
			haystack = strings.ToLower(strings.Join(fields, " "))
		}
	}

	for _, p := range c.patterns {
		if matchesAll(haystack, p.Substrings) {
			return NewFatalError(p.Code, raw)
		}
	}
	return err
}

// LooksUnavailable reports whether a raw error reads like a transient
// upstream outage. Typed *UnavailableError short-circuits.
func LooksUnavailable(err error) bool {
	if err == nil {
		return false
	}
	if IsUnavailable(err) {
		return true
	}
	text := strings.ToLower(err.Error())
	for _, marker := range unavailableMarkers {
		if strings.Contains(text, marker) {
			return true
		}
	}
	return false
}

func matchesAll(haystack string, needles []string) bool {
	if len(needles) == 0 {
		return false
	}
	for _, n := range needles {
		if !strings.Contains(haystack, strings.ToLower(n)) {
			return false
		}
	}
	return true
}

// firstJSONObject returns the first brace-balanced JSON object embedded in
// s, or the open-ended tail when the object is truncated. String literals
// and escapes are honored so braces inside values do not unbalance the scan.
func firstJSONObject(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
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
				return s[start : i+1]
			}
		}
	}
	// Truncated payload: hand back what we have, gjson copes with best
	// effort parsing.
	return s[start:]
}
