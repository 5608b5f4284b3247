package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/opsleuth/sleuth/pkg/parser"
	"github.com/opsleuth/sleuth/pkg/prompt"
)

// completeParsed issues one completion and parses it. A retryable parse
// failure triggers exactly one feedback retry; a second failure is fatal.
// Cancellation is checked before every LLM call.
func completeParsed[T any](ctx context.Context, o *Orchestrator, operation, promptText string, parse func(string) (T, error)) (T, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, err
	}

	text, err := o.llm.Complete(ctx, promptText)
	o.met.RecordLLMCall(operation, err)
	if err != nil {
		return zero, fmt.Errorf("llm %s: %w", operation, err)
	}

	v, perr := parse(text)
	if perr == nil {
		return v, nil
	}
	var pe *parser.ParseError
	if !errors.As(perr, &pe) || !pe.Retryable() {
		return zero, perr
	}

	if o.met != nil {
		o.met.ParseRetries.Inc()
	}
	if err := ctx.Err(); err != nil {
		return zero, err
	}
	text, err = o.llm.Complete(ctx, prompt.ParseFeedback(promptText, pe.Error()))
	o.met.RecordLLMCall(operation, err)
	if err != nil {
		return zero, fmt.Errorf("llm %s retry: %w", operation, err)
	}
	v, perr = parse(text)
	if perr != nil {
		return zero, fmt.Errorf("%s response unusable after retry: %w", operation, perr)
	}
	return v, nil
}

// knowledgeQuery builds the supplemental knowledge-search query from the
// user query and incident title. The incident id is stripped so results
// stay generalizable across incidents.
func knowledgeQuery(userQuery, incidentID, incidentTitle string) string {
	q := userQuery
	if incidentID != "" {
		q = strings.ReplaceAll(q, incidentID, "")
	}
	q = strings.Join(strings.Fields(q), " ")
	if incidentTitle != "" && !strings.Contains(strings.ToLower(q), strings.ToLower(incidentTitle)) {
		q = strings.TrimSpace(q + " " + incidentTitle)
	}
	return q
}

// collectURLs walks a JSON-shaped value and gathers every http(s) URL.
func collectURLs(value any) []string {
	var out []string
	seen := map[string]bool{}
	var walk func(v any)
	walk = func(v any) {
		switch t := v.(type) {
		case string:
			if strings.HasPrefix(t, "http://") || strings.HasPrefix(t, "https://") {
				if !seen[t] {
					seen[t] = true
					out = append(out, t)
				}
			}
		case []any:
			for _, item := range t {
				walk(item)
			}
		case map[string]any:
			for _, item := range t {
				walk(item)
			}
		}
	}
	walk(value)
	return out
}
