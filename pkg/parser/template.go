package parser

import "strings"

// FillPrompt performs literal {name} substitution on a template. No
// escaping is applied; placeholders with no matching value are left as-is.
func FillPrompt(template string, values map[string]string) string {
	if len(values) == 0 {
		return template
	}
	pairs := make([]string, 0, len(values)*2)
	for name, value := range values {
		pairs = append(pairs, "{"+name+"}", value)
	}
	return strings.NewReplacer(pairs...).Replace(template)
}
