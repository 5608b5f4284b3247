package orchestrator

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"

	"github.com/opsleuth/sleuth/pkg/approval"
	"github.com/opsleuth/sleuth/pkg/investigation"
	"github.com/opsleuth/sleuth/pkg/parser"
	"github.com/opsleuth/sleuth/pkg/prompt"
	"github.com/opsleuth/sleuth/pkg/tools"
)

// runTriage enriches context from the incident tracker and knowledge base
// when those tools exist, then asks the LLM for a triage assessment.
func (o *Orchestrator) runTriage(ctx context.Context) error {
	snap := o.machine.Snapshot()

	incidentContext, incidentTitle, err := o.fetchIncident(ctx, snap.IncidentID)
	if err != nil {
		return err
	}
	knowledgeContext, err := o.searchKnowledge(ctx, snap.Query, snap.IncidentID, incidentTitle)
	if err != nil {
		return err
	}

	tr, err := completeParsed(ctx, o, "triage",
		prompt.Triage(snap.Query, incidentContext, knowledgeContext),
		parser.ParseTriage)
	if err != nil {
		return err
	}
	if tr.IncidentID == "" {
		tr.IncidentID = snap.IncidentID
	}
	if err := o.machine.SetTriageResult(tr); err != nil {
		return err
	}
	o.emit(Event{Type: EventTriageComplete, Triage: &tr})
	return o.machine.TransitionTo(investigation.PhaseHypothesize, "triage complete")
}

// fetchIncident calls the discovered incident-fetch tool, pins the raw
// result in the scratchpad, and returns a compact context block plus the
// incident title when present. Enrichment failures are recorded and
// skipped; they never abort triage.
func (o *Orchestrator) fetchIncident(ctx context.Context, incidentID string) (contextBlock, title string, err error) {
	toolName := tools.FindIncidentTool(o.cfg.AvailableTools)
	if toolName == "" || incidentID == "" {
		return "", "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", "", err
	}

	params := map[string]any{"incident_id": incidentID}
	o.emit(Event{Type: EventQueryExecuting, Tool: toolName})
	result, terr := o.executor.Execute(ctx, toolName, params)
	o.met.RecordTool(toolName, terr)
	if terr != nil {
		slog.Warn("Incident enrichment failed", "tool", toolName, "error", terr)
		o.machine.RecordError(fmt.Errorf("tool %s failed: %s", toolName, terr))
		return "", "", nil
	}

	id, rerr := o.pad.Record(toolName, params, result)
	if rerr != nil {
		return "", "", rerr
	}
	o.pad.Pin(id)
	o.emit(Event{Type: EventQueryComplete, Tool: toolName, ResultID: id})

	if m, ok := result.(map[string]any); ok {
		if t, ok := m["title"].(string); ok {
			title = t
		}
	}
	raw, _ := json.Marshal(result)
	return string(raw), title, nil
}

// searchKnowledge issues the single supplemental knowledge query. The
// query string never contains the incident id.
func (o *Orchestrator) searchKnowledge(ctx context.Context, userQuery, incidentID, incidentTitle string) (string, error) {
	toolName := tools.FindKnowledgeTool(o.cfg.AvailableTools)
	if toolName == "" {
		return "", nil
	}
	if err := ctx.Err(); err != nil {
		return "", err
	}

	params := map[string]any{"query": knowledgeQuery(userQuery, incidentID, incidentTitle)}
	o.emit(Event{Type: EventQueryExecuting, Tool: toolName})
	result, terr := o.executor.Execute(ctx, toolName, params)
	o.met.RecordTool(toolName, terr)
	if terr != nil {
		slog.Warn("Knowledge search failed", "tool", toolName, "error", terr)
		o.machine.RecordError(fmt.Errorf("tool %s failed: %s", toolName, terr))
		return "", nil
	}

	id, rerr := o.pad.Record(toolName, params, result)
	if rerr != nil {
		return "", rerr
	}
	o.emit(Event{Type: EventQueryComplete, Tool: toolName, ResultID: id})
	raw, _ := json.Marshal(result)
	return string(raw), nil
}

// runHypothesize asks the LLM for hypotheses and inserts them up to the
// cap. With no room or no usable hypotheses the investigation concludes
// with whatever it has.
func (o *Orchestrator) runHypothesize(ctx context.Context) error {
	snap := o.machine.Snapshot()
	remaining := o.cfg.MaxHypotheses - len(snap.Hypotheses)
	if remaining <= 0 {
		return o.machine.TransitionTo(investigation.PhaseConclude, "hypothesis cap reached")
	}

	var triage investigation.TriageResult
	if snap.Triage != nil {
		triage = *snap.Triage
	}
	set, err := completeParsed(ctx, o, "hypothesize",
		prompt.Hypothesize(triage, o.prunedFindings(snap), o.cfg.AvailableTools, remaining),
		parser.ParseHypotheses)
	if err != nil {
		return err
	}

	added := 0
	for _, in := range set.Hypotheses {
		if _, aerr := o.machine.AddHypothesis(in); aerr != nil {
			o.machine.RecordError(aerr)
			break
		}
		added++
	}
	if added == 0 {
		return o.machine.TransitionTo(investigation.PhaseConclude, "no hypotheses generated")
	}
	return o.machine.TransitionTo(investigation.PhaseInvestigate, "hypotheses generated")
}

// prunedFindings collects findings from evaluations whose hypotheses were
// pruned, to steer regenerated hypotheses away from dead ends.
func (o *Orchestrator) prunedFindings(snap investigation.Investigation) []string {
	pruned := map[string]bool{}
	for _, h := range snap.Hypotheses {
		if h.Status == investigation.HypothesisPruned {
			pruned[h.ID] = true
		}
	}
	var out []string
	for _, ev := range snap.Evaluations {
		if pruned[ev.HypothesisID] {
			out = append(out, ev.Findings...)
		}
	}
	return out
}

// runCycle executes one investigate+evaluate iteration: gather evidence
// for the next hypothesis, evaluate it, and pick the next phase.
func (o *Orchestrator) runCycle(ctx context.Context) error {
	h, ok := o.machine.NextHypothesis()
	if !ok {
		return o.machine.TransitionTo(investigation.PhaseConclude, "no active hypotheses")
	}
	if !o.machine.CanContinue() {
		return o.machine.TransitionTo(investigation.PhaseConclude, "iteration budget exhausted")
	}

	evidence, err := o.executeQueries(ctx, h)
	if err != nil {
		return err
	}
	if err := o.machine.TransitionTo(investigation.PhaseEvaluate, "evidence gathered for "+h.ID); err != nil {
		return err
	}

	ev, err := completeParsed(ctx, o, "evaluate",
		prompt.Evaluate(h, evidence), parser.ParseEvaluation)
	if err != nil {
		return err
	}
	// The evaluation always targets the hypothesis under test, whatever id
	// the model echoed back.
	ev.HypothesisID = h.ID
	if err := o.machine.ApplyEvaluation(ev); err != nil {
		return err
	}
	o.machine.IncrementIteration()

	return o.nextAfterEvaluation(ev)
}

// executeQueries runs every planned query of the hypothesis. Tool errors
// become evidence text and never abort the run; cancellation does.
func (o *Orchestrator) executeQueries(ctx context.Context, h investigation.Hypothesis) ([]string, error) {
	var evidence []string
	for _, q := range h.PlannedQueries {
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		params := map[string]any{}
		for k, v := range q.Params {
			params[k] = v
		}
		if q.Description != "" && params["description"] == nil {
			params["description"] = q.Description
		}
		if q.Service != "" && params["service"] == nil {
			params["service"] = q.Service
		}

		o.emit(Event{Type: EventQueryExecuting, Tool: q.Type})
		result, terr := o.executor.Execute(ctx, q.Type, params)
		o.met.RecordTool(q.Type, terr)
		if terr != nil {
			msg := fmt.Sprintf("tool %s failed: %s", q.Type, terr)
			evidence = append(evidence, msg)
			o.emit(Event{Type: EventQueryComplete, Tool: q.Type, Err: terr.Error()})
			continue
		}

		id, rerr := o.pad.Record(q.Type, params, result)
		if rerr != nil {
			evidence = append(evidence, fmt.Sprintf("tool %s failed: %s", q.Type, rerr))
			continue
		}
		entry, _ := o.pad.Entry(id)
		evidence = append(evidence, fmt.Sprintf("[%s] %s", id, entry.Summary))
		o.emit(Event{Type: EventQueryComplete, Tool: q.Type, ResultID: id})
	}
	if len(evidence) == 0 {
		evidence = append(evidence, "no planned queries; no new evidence gathered")
	}
	return evidence, nil
}

// nextAfterEvaluation picks the phase following an applied evaluation.
func (o *Orchestrator) nextAfterEvaluation(ev investigation.EvidenceEvaluation) error {
	active := o.machine.ActiveHypotheses()

	switch {
	case ev.Action == investigation.ActionConfirm && ev.Confidence >= o.cfg.ConfirmThreshold:
		return o.machine.TransitionTo(investigation.PhaseConclude, ev.HypothesisID+" confirmed")

	case ev.Action == investigation.ActionPrune && len(active) == 0:
		if o.anyConfirmed() || !o.machine.CanContinue() {
			return o.machine.TransitionTo(investigation.PhaseConclude, "no active hypotheses remain")
		}
		return o.machine.TransitionTo(investigation.PhaseHypothesize, "all hypotheses pruned, regenerating")

	case ev.Action == investigation.ActionBranch:
		return o.machine.TransitionTo(investigation.PhaseInvestigate, "branched into sub-hypotheses")

	default:
		if o.machine.CanContinue() && len(active) > 0 {
			return o.machine.TransitionTo(investigation.PhaseInvestigate, "continuing investigation")
		}
		return o.machine.TransitionTo(investigation.PhaseConclude, "iteration budget exhausted")
	}
}

func (o *Orchestrator) anyConfirmed() bool {
	for _, h := range o.machine.Snapshot().Hypotheses {
		if h.Status == investigation.HypothesisConfirmed {
			return true
		}
	}
	return false
}

// runConclude asks the LLM for the root-cause verdict over the full
// evidence chain.
func (o *Orchestrator) runConclude(ctx context.Context) error {
	snap := o.machine.Snapshot()

	var findings []string
	for _, ev := range snap.Evaluations {
		findings = append(findings, ev.Findings...)
	}
	leadID := o.leadHypothesis(snap)

	c, err := completeParsed(ctx, o, "conclude",
		prompt.Conclude(snap.Query, leadID, findings, o.pad.Summaries(0)),
		parser.ParseConclusion)
	if err != nil {
		return err
	}
	if _, ok := o.machine.FindHypothesis(c.HypothesisID); !ok {
		c.HypothesisID = leadID
	}
	if err := o.machine.SetConclusion(c); err != nil {
		return err
	}

	if o.cfg.DisableRemediation {
		return o.machine.TransitionTo(investigation.PhaseComplete, "remediation disabled")
	}
	return o.machine.TransitionTo(investigation.PhaseRemediate, "conclusion reached")
}

// leadHypothesis picks the confirmed hypothesis, or the highest-confidence
// one when nothing was confirmed.
func (o *Orchestrator) leadHypothesis(snap investigation.Investigation) string {
	best := ""
	bestConfidence := -1
	for _, h := range snap.Hypotheses {
		if h.Status == investigation.HypothesisConfirmed {
			return h.ID
		}
		if h.Confidence > bestConfidence {
			best, bestConfidence = h.ID, h.Confidence
		}
	}
	return best
}

// runRemediate builds and partially executes the remediation plan.
// Skill-backed approved steps run via the skill tool; command-only steps
// stay pending for manual execution.
func (o *Orchestrator) runRemediate(ctx context.Context) error {
	snap := o.machine.Snapshot()
	rootCause := ""
	if snap.Conclusion != nil {
		rootCause = snap.Conclusion.RootCause
	}

	var runbooks []string
	if o.fetchRunbooks != nil {
		var services []string
		if snap.Triage != nil {
			services = snap.Triage.AffectedServices
		}
		runbooks = o.fetchRunbooks(ctx, snap.IncidentID, services)
	}
	codeFixes, err := o.searchCodeFixes(ctx, rootCause)
	if err != nil {
		return err
	}

	plan, err := completeParsed(ctx, o, "remediate",
		prompt.Remediate(rootCause, o.cfg.AvailableSkills, runbooks, codeFixes),
		parser.ParseRemediation)
	if err != nil {
		return err
	}
	o.machine.SetRemediationPlan(plan)
	o.emit(Event{Type: EventRemediationProposed, Plan: &plan})

	for _, step := range plan.Steps {
		if err := o.executeStep(ctx, step); err != nil {
			return err
		}
	}
	return o.machine.TransitionTo(investigation.PhaseComplete, "remediation plan executed")
}

// searchCodeFixes queries the discovered code-search tool with the root
// cause and extracts candidate URLs.
func (o *Orchestrator) searchCodeFixes(ctx context.Context, rootCause string) ([]string, error) {
	toolName := tools.FindCodeSearchTool(o.cfg.AvailableTools)
	if toolName == "" || rootCause == "" {
		return nil, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	result, terr := o.executor.Execute(ctx, toolName, map[string]any{"query": rootCause})
	o.met.RecordTool(toolName, terr)
	if terr != nil {
		slog.Warn("Code search failed", "tool", toolName, "error", terr)
		return nil, nil
	}
	return collectURLs(result), nil
}

// executeStep applies the per-step execution rules.
func (o *Orchestrator) executeStep(ctx context.Context, step investigation.RemediationStep) error {
	switch {
	case step.MatchingSkill != "":
		approved, err := o.stepApproved(ctx, step)
		if err != nil {
			return err
		}
		if !approved {
			status := investigation.StepSkipped
			reason := "approval not granted"
			return o.machine.UpdateRemediationStep(step.ID, investigation.StepPatch{
				Status: &status, Error: &reason,
			})
		}
		if err := ctx.Err(); err != nil {
			return err
		}

		args := map[string]any{"name": step.MatchingSkill}
		if step.Parameters != nil {
			args["args"] = step.Parameters
		}
		result, terr := o.executor.Execute(ctx, tools.SkillToolName, args)
		o.met.RecordTool(tools.SkillToolName, terr)
		if terr != nil {
			status := investigation.StepFailed
			msg := terr.Error()
			return o.machine.UpdateRemediationStep(step.ID, investigation.StepPatch{
				Status: &status, Error: &msg,
			})
		}
		status := investigation.StepCompleted
		out := stringify(result)
		return o.machine.UpdateRemediationStep(step.ID, investigation.StepPatch{
			Status: &status, Result: &out,
		})

	case step.Command != "":
		status := investigation.StepPending
		msg := "Manual execution required: " + step.Command
		return o.machine.UpdateRemediationStep(step.ID, investigation.StepPatch{
			Status: &status, Error: &msg,
		})

	default:
		return nil
	}
}

// stepApproved decides whether a skill-backed step may run: blanket
// auto-approval first, then the approval gate, then the callback.
func (o *Orchestrator) stepApproved(ctx context.Context, step investigation.RemediationStep) (bool, error) {
	if err := ctx.Err(); err != nil {
		return false, err
	}
	if o.cfg.AutoApproveRemediation {
		return true, nil
	}
	if o.gate != nil {
		snap := o.machine.Snapshot()
		resource := ""
		if snap.Triage != nil {
			resource = strings.Join(snap.Triage.AffectedServices, ",")
		}
		d, err := o.gate.Authorize(ctx, approval.MutationRequest{
			Investigation: snap.ID,
			Operation:     step.Action,
			Resource:      resource,
			Risk:          step.RiskLevel,
			Description:   step.Description,
		})
		if err != nil {
			return false, err
		}
		if o.met != nil {
			o.met.ApprovalResults.WithLabelValues(string(d.Outcome)).Inc()
		}
		return d.Approved(), nil
	}
	if o.approveStep != nil {
		return o.approveStep(step), nil
	}
	return false, nil
}

func stringify(v any) string {
	if s, ok := v.(string); ok {
		return s
	}
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Sprintf("%v", v)
	}
	return string(raw)
}
