package tools

import (
	"context"
	"fmt"

	"github.com/opsleuth/sleuth/pkg/scratchpad"
)

// RegisterDrillDown binds the two scratchpad drill-down tools on a
// registry. LLM-visible context only ever carries compact summaries; these
// tools are the sole path back to a full stored result.
func RegisterDrillDown(reg *Registry, pad *scratchpad.Scratchpad) {
	reg.Register(Definition{
		Name:        GetFullResultToolName,
		Description: "Return the full stored result for a scratchpad id. Returns null if the result was evicted to reclaim context.",
		Parameters: map[string]any{
			"type": "object",
			"properties": map[string]any{
				"id": map[string]any{"type": "string", "description": "scratchpad result id"},
			},
			"required": []string{"id"},
		},
	}, func(_ context.Context, _ string, params map[string]any) (any, error) {
		id, _ := params["id"].(string)
		if id == "" {
			return nil, fmt.Errorf("get_full_result: missing required parameter %q", "id")
		}
		value, ok := pad.Get(id)
		if !ok {
			return nil, fmt.Errorf("get_full_result: no result with id %q", id)
		}
		// Evicted bodies come back as null; the id stays valid.
		return value, nil
	})

	reg.Register(Definition{
		Name:        ListResultsToolName,
		Description: "List every stored tool result: id, originating tool, compact summary, and whether the full body was evicted.",
		Parameters: map[string]any{
			"type":       "object",
			"properties": map[string]any{},
		},
	}, func(_ context.Context, _ string, _ map[string]any) (any, error) {
		ids := pad.IDs()
		out := make([]map[string]any, 0, len(ids))
		for _, id := range ids {
			entry, ok := pad.Entry(id)
			if !ok {
				continue
			}
			out = append(out, map[string]any{
				"id":      entry.ID,
				"tool":    entry.Tool,
				"summary": entry.Summary,
				"evicted": entry.Evicted,
			})
		}
		return out, nil
	})
}
