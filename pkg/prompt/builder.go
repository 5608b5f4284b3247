package prompt

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"github.com/opsleuth/sleuth/pkg/investigation"
	"github.com/opsleuth/sleuth/pkg/parser"
	"github.com/opsleuth/sleuth/pkg/tools"
)

// Triage builds the triage prompt. incidentContext and knowledgeContext
// are optional pre-formatted blocks; empty strings are omitted cleanly.
func Triage(query, incidentContext, knowledgeContext string) string {
	return parser.FillPrompt(triageTemplate, map[string]string{
		"query":             query,
		"incident_context":  section("Incident context", incidentContext),
		"knowledge_context": section("Organizational knowledge", knowledgeContext),
	})
}

// Hypothesize builds the hypothesis-generation prompt from triage output.
// priorFindings carries findings from pruned hypotheses when regenerating.
func Hypothesize(triage investigation.TriageResult, priorFindings, availableTools []string, maxHypotheses int) string {
	return parser.FillPrompt(hypothesizeTemplate, map[string]string{
		"summary":         triage.Summary,
		"symptoms":        bulleted(triage.Symptoms),
		"services":        bulleted(triage.AffectedServices),
		"prior_findings":  section("Findings from rejected hypotheses", bulleted(priorFindings)),
		"max_hypotheses":  strconv.Itoa(maxHypotheses),
		"available_tools": strings.Join(availableTools, ", "),
	})
}

// Evaluate builds the evidence-evaluation prompt for one hypothesis.
func Evaluate(h investigation.Hypothesis, evidence []string) string {
	return parser.FillPrompt(evaluateTemplate, map[string]string{
		"hypothesis_id": h.ID,
		"hypothesis":    fmt.Sprintf("%s (category: %s, priority: %d)", h.Statement, h.Category, h.Priority),
		"evidence":      bulleted(evidence),
	})
}

// Conclude builds the conclusion prompt from the full evidence chain.
// hypothesisID names the leading hypothesis and is pinned into the
// expected response shape.
func Conclude(query, hypothesisID string, findings, summaries []string) string {
	return parser.FillPrompt(concludeTemplate, map[string]string{
		"query":         query,
		"hypothesis_id": hypothesisID,
		"findings":      bulleted(findings),
		"summaries":     bulleted(summaries),
	})
}

// Remediate builds the remediation-planning prompt. runbooks and codeFixes
// are optional enrichments.
func Remediate(rootCause string, skills, runbooks, codeFixes []string) string {
	skillList := "(none available)"
	if len(skills) > 0 {
		skillList = bulleted(skills)
	}
	return parser.FillPrompt(remediateTemplate, map[string]string{
		"root_cause": rootCause,
		"skills":     skillList,
		"runbooks":   section("Relevant runbooks", bulleted(runbooks)),
		"code_fixes": section("Code-fix candidates", bulleted(codeFixes)),
	})
}

// LogAnalysis builds the standalone log-analysis prompt.
func LogAnalysis(logs []string) string {
	return parser.FillPrompt(logAnalysisTemplate, map[string]string{
		"total_lines": strconv.Itoa(len(logs)),
		"logs":        strings.Join(logs, "\n"),
	})
}

// AgentSystem builds the agent loop's system prompt from the registered
// tool definitions, the skill list, and formatted knowledge context.
func AgentSystem(defs []tools.Definition, skills []string, knowledge string) string {
	var descs []string
	for _, d := range defs {
		line := fmt.Sprintf("- %s: %s", d.Name, d.Description)
		if len(d.Parameters) > 0 {
			if b, err := json.Marshal(d.Parameters); err == nil {
				line += " parameters: " + string(b)
			}
		}
		descs = append(descs, line)
	}
	skillList := "(none available)"
	if len(skills) > 0 {
		skillList = bulleted(skills)
	}
	return parser.FillPrompt(agentSystemTemplate, map[string]string{
		"knowledge":         section("Organizational knowledge", knowledge),
		"tool_descriptions": strings.Join(descs, "\n"),
		"skills":            skillList,
	})
}

// FinalAnswer builds the synthesis prompt for the agent loop's last turn.
func FinalAnswer(query string, summaries []string) string {
	return parser.FillPrompt(finalAnswerTemplate, map[string]string{
		"query":     query,
		"summaries": bulleted(summaries),
	})
}

// ParseFeedback wraps a prompt whose response failed to parse, telling the
// model exactly what went wrong. Used for the single structured retry.
func ParseFeedback(original, parseError string) string {
	return parser.FillPrompt(parseFeedbackTemplate, map[string]string{
		"original": original,
		"error":    parseError,
	})
}

func bulleted(items []string) string {
	if len(items) == 0 {
		return "(none)"
	}
	var sb strings.Builder
	for i, item := range items {
		if i > 0 {
			sb.WriteByte('\n')
		}
		sb.WriteString("- ")
		sb.WriteString(item)
	}
	return sb.String()
}

// section renders an optional prompt block with a heading, or "" when the
// content is empty so templates stay clean without it.
func section(heading, content string) string {
	content = strings.TrimSpace(content)
	if content == "" || content == "(none)" {
		return ""
	}
	return fmt.Sprintf("\n## %s\n%s\n", heading, content)
}
