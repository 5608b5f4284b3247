package investigation

import (
	"fmt"
	"sort"
	"strings"
)

// Summary renders a human-readable report of the investigation: phase,
// triage outcome, hypothesis tree with statuses, rejected hypotheses, the
// conclusion, and the remediation plan. Consumers can render this even on
// partial success.
func (m *Machine) Summary() string {
	snap := m.Snapshot()

	var b strings.Builder
	fmt.Fprintf(&b, "Investigation %s\n", snap.ID)
	fmt.Fprintf(&b, "Query: %s\n", snap.Query)
	if snap.IncidentID != "" {
		fmt.Fprintf(&b, "Incident: %s\n", snap.IncidentID)
	}
	fmt.Fprintf(&b, "Phase: %s\n", snap.Phase)

	if snap.Triage != nil {
		b.WriteString("\n## Triage\n")
		fmt.Fprintf(&b, "Severity: %s\n", snap.Triage.Severity)
		fmt.Fprintf(&b, "Summary: %s\n", snap.Triage.Summary)
		if len(snap.Triage.AffectedServices) > 0 {
			fmt.Fprintf(&b, "Affected services: %s\n", strings.Join(snap.Triage.AffectedServices, ", "))
		}
		if len(snap.Triage.Symptoms) > 0 {
			fmt.Fprintf(&b, "Symptoms: %s\n", strings.Join(snap.Triage.Symptoms, "; "))
		}
	}

	active, pruned, confirmed := splitHypotheses(snap.Hypotheses)

	if len(confirmed) > 0 {
		b.WriteString("\n## Confirmed\n")
		for _, h := range confirmed {
			fmt.Fprintf(&b, "- [%s] %s (confidence %d)\n", h.ID, h.Statement, h.Confidence)
		}
	}

	if len(active) > 0 {
		b.WriteString("\n## Hypotheses Under Investigation\n")
		sort.SliceStable(active, func(i, j int) bool { return active[i].Priority < active[j].Priority })
		for _, h := range active {
			fmt.Fprintf(&b, "- [%s] (p%d, %s) %s (evidence: %s)\n",
				h.ID, h.Priority, h.Status, h.Statement, h.Evidence)
		}
	}

	if len(pruned) > 0 {
		b.WriteString("\n## Rejected / Deprioritized\n")
		for _, h := range pruned {
			fmt.Fprintf(&b, "- [%s] %s\n", h.ID, h.Statement)
			if h.Reasoning != "" {
				fmt.Fprintf(&b, "  Reason: %s\n", h.Reasoning)
			}
		}
	}

	if snap.Conclusion != nil {
		b.WriteString("\n## Conclusion\n")
		fmt.Fprintf(&b, "Root cause: %s\n", snap.Conclusion.RootCause)
		fmt.Fprintf(&b, "Confidence: %s\n", snap.Conclusion.Confidence)
		for _, link := range snap.Conclusion.EvidenceChain {
			fmt.Fprintf(&b, "- %s (%s, %s)\n", link.Finding, link.Source, link.Strength)
		}
		if len(snap.Conclusion.Unknowns) > 0 {
			fmt.Fprintf(&b, "Unknowns: %s\n", strings.Join(snap.Conclusion.Unknowns, "; "))
		}
	}

	if snap.Remediation != nil && len(snap.Remediation.Steps) > 0 {
		b.WriteString("\n## Remediation\n")
		for _, step := range snap.Remediation.Steps {
			fmt.Fprintf(&b, "- [%s] (%s, risk %s) %s\n", step.ID, step.Status, step.RiskLevel, step.Description)
			if step.Error != "" {
				fmt.Fprintf(&b, "  %s\n", step.Error)
			}
		}
		if snap.Remediation.EstimatedRecoveryTime != "" {
			fmt.Fprintf(&b, "Estimated recovery: %s\n", snap.Remediation.EstimatedRecoveryTime)
		}
	}

	if len(snap.Errors) > 0 {
		b.WriteString("\n## Errors\n")
		for _, e := range snap.Errors {
			fmt.Fprintf(&b, "- %s\n", e)
		}
	}

	return b.String()
}

func splitHypotheses(hs []*Hypothesis) (active, pruned, confirmed []Hypothesis) {
	for _, h := range hs {
		switch h.Status {
		case HypothesisPruned:
			pruned = append(pruned, *h)
		case HypothesisConfirmed:
			confirmed = append(confirmed, *h)
		default:
			active = append(active, *h)
		}
	}
	return active, pruned, confirmed
}
