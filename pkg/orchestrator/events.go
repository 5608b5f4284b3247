package orchestrator

import (
	"time"

	"github.com/opsleuth/sleuth/pkg/investigation"
)

// EventType discriminates orchestrator events.
type EventType string

const (
	EventPhaseChange          EventType = "phase_change"
	EventTriageComplete       EventType = "triage_complete"
	EventHypothesisCreated    EventType = "hypothesis_created"
	EventQueryExecuting       EventType = "query_executing"
	EventQueryComplete        EventType = "query_complete"
	EventEvidenceEvaluated    EventType = "evidence_evaluated"
	EventConclusionReached    EventType = "conclusion_reached"
	EventRemediationProposed  EventType = "remediation_proposed"
	EventRemediationCompleted EventType = "remediation_completed"
	EventError                EventType = "error"
	EventComplete             EventType = "complete"
)

// Error kinds carried on EventError events.
const (
	ErrKindCancelled = "cancelled"
	ErrKindFatal     = "fatal"
)

// Event is one entry in the orchestrator's event stream. Only the fields
// relevant to the Type are populated.
type Event struct {
	Type            EventType
	InvestigationID string
	At              time.Time

	From, To investigation.Phase // phase_change

	Triage     *investigation.TriageResult     // triage_complete
	Hypothesis *investigation.Hypothesis       // hypothesis_created
	Evaluation *investigation.EvidenceEvaluation // evidence_evaluated
	Conclusion *investigation.Conclusion       // conclusion_reached
	Plan       *investigation.RemediationPlan  // remediation_proposed
	Step       *investigation.RemediationStep  // remediation_completed

	Tool     string // query_executing, query_complete
	ResultID string // query_complete
	Kind     string // error
	Err      string // error, query_complete (tool failures)

	Result *Result // complete
}

// Subscriber observes orchestrator events in emission order.
type Subscriber func(Event)
