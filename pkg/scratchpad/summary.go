package scratchpad

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"unicode/utf8"
)

// summaryHeadChars bounds how much of the raw content a summary may quote.
const summaryHeadChars = 240

// summarize derives a compact one-line summary of a serialized tool result.
// The shape is tool-agnostic: type, cardinality, top-level keys, then a
// truncated head of the content. LLM-visible context always uses this
// summary; the full body is only reachable via the drill-down tools.
func summarize(toolName, content string) string {
	var value any
	if err := json.Unmarshal([]byte(content), &value); err != nil {
		return fmt.Sprintf("%s returned non-JSON output (%d chars): %s",
			toolName, len(content), head(content))
	}

	switch v := value.(type) {
	case map[string]any:
		keys := make([]string, 0, len(v))
		for k := range v {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		shown := keys
		if len(shown) > 8 {
			shown = shown[:8]
		}
		return fmt.Sprintf("%s returned object with %d fields (%s): %s",
			toolName, len(keys), strings.Join(shown, ", "), head(content))
	case []any:
		return fmt.Sprintf("%s returned %d items: %s", toolName, len(v), head(content))
	case string:
		return fmt.Sprintf("%s returned text (%d chars): %s", toolName, len(v), head(v))
	case nil:
		return fmt.Sprintf("%s returned null", toolName)
	default:
		return fmt.Sprintf("%s returned %v", toolName, v)
	}
}

// head returns the first summaryHeadChars of content, cut at a line
// boundary when possible so JSON and log output stay readable.
func head(content string) string {
	content = strings.TrimSpace(content)
	if len(content) <= summaryHeadChars {
		return content
	}
	// Back off so a multi-byte UTF-8 character is never split.
	cut := summaryHeadChars
	for cut > 0 && !utf8.RuneStart(content[cut]) {
		cut--
	}
	truncated := content[:cut]
	if idx := strings.LastIndex(truncated, "\n"); idx > summaryHeadChars/2 {
		truncated = truncated[:idx]
	}
	return truncated + "…"
}
