package parser

import (
	"regexp"
	"strings"
)

// Fenced block patterns, compiled once. The json-labeled pattern is tried
// first; an unlabeled fence is a weaker signal.
var (
	fencedJSONPattern = regexp.MustCompile("(?s)```(?:json|JSON)\\s*\\n(.*?)```")
	fencedAnyPattern  = regexp.MustCompile("(?s)```[a-zA-Z]*\\s*\\n(.*?)```")
)

// ExtractJSON locates the JSON payload inside an LLM response.
// Detection order: a fenced block labeled json, any fenced block, then the
// first balanced {...} or [...] substring found by bracket counting.
// Returns "" when nothing JSON-shaped is present.
func ExtractJSON(text string) string {
	if m := fencedJSONPattern.FindStringSubmatch(text); m != nil {
		if candidate := strings.TrimSpace(m[1]); candidate != "" {
			return candidate
		}
	}
	if m := fencedAnyPattern.FindStringSubmatch(text); m != nil {
		candidate := strings.TrimSpace(m[1])
		if strings.HasPrefix(candidate, "{") || strings.HasPrefix(candidate, "[") {
			return candidate
		}
	}
	return firstBalanced(text)
}

// firstBalanced scans for the first balanced {...} or [...] substring.
// String literals are tracked so braces inside quoted values don't skew
// the count.
func firstBalanced(text string) string {
	start := -1
	var open, close byte
	depth := 0
	inString := false
	escaped := false

	for i := 0; i < len(text); i++ {
		c := text[i]

		if start == -1 {
			if c == '{' {
				start, open, close = i, '{', '}'
				depth = 1
			} else if c == '[' {
				start, open, close = i, '[', ']'
				depth = 1
			}
			continue
		}

		if escaped {
			escaped = false
			continue
		}
		switch {
		case c == '\\' && inString:
			escaped = true
		case c == '"':
			inString = !inString
		case inString:
			// characters inside strings don't affect depth
		case c == open:
			depth++
		case c == close:
			depth--
			if depth == 0 {
				return text[start : i+1]
			}
		}
	}
	return ""
}
