package outputparser

import (
	"encoding/json"
	"regexp"
	"strings"
)

// Envelope is the {code_complete, break_iteration, justification} object
// the review pass emits (spec §3 ReviewEnvelope, §4.C).
type Envelope struct {
	CodeComplete   bool   `json:"code_complete"`
	BreakIteration bool   `json:"break_iteration"`
	Justification  string `json:"justification,omitempty"`
}

// ansiEscape matches CSI-style ANSI escape sequences (color codes, cursor
// movement) that terminal-attached review passes sometimes emit even over
// a nominally non-interactive pipe.
var ansiEscape = regexp.MustCompile(`\x1b\[[0-9;]*[a-zA-Z]`)

// ExtractReviewEnvelope strips ANSI escapes and carriage returns, then
// brace-balance-scans for the first complete top-level JSON object and
// attempts to parse it as an Envelope. Returns nil if no such object is
// found, it doesn't parse, or code_complete is missing/non-boolean —
// callers (the review loop) must treat a nil envelope as a failed round.
func ExtractReviewEnvelope(output string) *Envelope {
	cleaned := ansiEscape.ReplaceAllString(output, "")
	cleaned = strings.ReplaceAll(cleaned, "\r", "")

	raw := firstBalancedObject(cleaned)
	if raw == "" {
		return nil
	}

	// Validate code_complete is present and boolean before trusting the
	// rest of the struct — a generic map decode lets us distinguish
	// "absent" from "present but wrong type" from "present and false".
	var generic map[string]any
	if err := json.Unmarshal([]byte(raw), &generic); err != nil {
		return nil
	}
	cc, ok := generic["code_complete"]
	if !ok {
		return nil
	}
	if _, ok := cc.(bool); !ok {
		return nil
	}

	var env Envelope
	if err := json.Unmarshal([]byte(raw), &env); err != nil {
		return nil
	}
	return &env
}

// firstBalancedObject returns the substring of s spanning the first
// complete top-level {...} object (brace-balanced, string/escape-aware),
// or "" if none closes.
func firstBalancedObject(s string) string {
	start := -1
	depth := 0
	inString := false
	escaped := false

	for i, r := range s {
		if start == -1 {
			if r == '{' {
				start = i
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch r {
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
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
