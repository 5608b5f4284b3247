package tools

import "strings"

// SkillToolName is the generic tool that invokes an external parameterized
// workflow by name.
const SkillToolName = "skill"

// Drill-down tool names the agent loop always exposes.
const (
	GetFullResultToolName = "get_full_result"
	ListResultsToolName   = "list_results"
)

// incident-fetch candidates, in preference order.
var incidentToolNames = []string{"get_incident", "fetch_incident", "incident_details"}

// knowledge-search candidates, in preference order.
var knowledgeToolNames = []string{"search_knowledge", "knowledge_search", "search_runbooks"}

// code-search candidates, in preference order.
var codeSearchToolNames = []string{"search_code", "code_search", "grep_repo"}

// FindIncidentTool returns the first available incident-fetch tool, or "".
func FindIncidentTool(available []string) string {
	return firstMatch(available, incidentToolNames)
}

// FindKnowledgeTool returns the first available knowledge-search tool, or "".
func FindKnowledgeTool(available []string) string {
	return firstMatch(available, knowledgeToolNames)
}

// FindCodeSearchTool returns the first available code-search tool, or "".
func FindCodeSearchTool(available []string) string {
	return firstMatch(available, codeSearchToolNames)
}

func firstMatch(available, candidates []string) string {
	set := make(map[string]bool, len(available))
	for _, name := range available {
		set[strings.ToLower(strings.TrimSpace(name))] = true
	}
	for _, candidate := range candidates {
		if set[candidate] {
			return candidate
		}
	}
	return ""
}
