package orchestrator

import (
	"context"

	"github.com/opsleuth/sleuth/pkg/parser"
	"github.com/opsleuth/sleuth/pkg/prompt"
)

// AnalyzeLogs runs the standalone log-analysis capability: a single LLM
// call that surfaces error patterns and hypothesis suggestions. It never
// touches investigation state and is safe to call with no investigation
// in progress.
func (o *Orchestrator) AnalyzeLogs(ctx context.Context, logs []string) (parser.LogAnalysis, error) {
	la, err := completeParsed(ctx, o, "log_analysis",
		prompt.LogAnalysis(logs), parser.ParseLogAnalysis)
	if err != nil {
		return parser.LogAnalysis{}, err
	}
	if la.TotalLines == 0 {
		la.TotalLines = len(logs)
	}
	return la, nil
}
