package investigation

// Event is the interface for all state machine events. Events emitted by a
// single machine are totally ordered: every subscriber observes event k
// before event k+1.
type Event interface {
	eventType() EventType
}

// EventType identifies the kind of state machine event.
type EventType string

const (
	EventTypePhaseChange       EventType = "phase_change"
	EventTypeHypothesisCreated EventType = "hypothesis_created"
	EventTypeHypothesisUpdated EventType = "hypothesis_updated"
	EventTypeEvidenceEvaluated EventType = "evidence_evaluated"
	EventTypeConclusionReached EventType = "conclusion_reached"
	EventTypeStepCompleted     EventType = "step_completed"
	EventTypeError             EventType = "error"
)

// PhaseChangeEvent signals a phase transition.
type PhaseChangeEvent struct {
	From   Phase
	To     Phase
	Reason string
}

// HypothesisCreatedEvent signals a new hypothesis in the tree.
type HypothesisCreatedEvent struct{ Hypothesis Hypothesis }

// HypothesisUpdatedEvent signals a status/confidence change on a hypothesis.
type HypothesisUpdatedEvent struct{ Hypothesis Hypothesis }

// EvidenceEvaluatedEvent signals an appended evidence evaluation.
type EvidenceEvaluatedEvent struct{ Evaluation EvidenceEvaluation }

// ConclusionReachedEvent signals that a conclusion was set.
type ConclusionReachedEvent struct{ Conclusion Conclusion }

// StepCompletedEvent signals a remediation step reaching a terminal status.
type StepCompletedEvent struct{ Step RemediationStep }

// ErrorEvent signals a recorded error and the phase it occurred in.
type ErrorEvent struct {
	Err   string
	Phase Phase
}

func (PhaseChangeEvent) eventType() EventType       { return EventTypePhaseChange }
func (HypothesisCreatedEvent) eventType() EventType { return EventTypeHypothesisCreated }
func (HypothesisUpdatedEvent) eventType() EventType { return EventTypeHypothesisUpdated }
func (EvidenceEvaluatedEvent) eventType() EventType { return EventTypeEvidenceEvaluated }
func (ConclusionReachedEvent) eventType() EventType { return EventTypeConclusionReached }
func (StepCompletedEvent) eventType() EventType     { return EventTypeStepCompleted }
func (ErrorEvent) eventType() EventType             { return EventTypeError }

// Type returns the event's type tag. Exposed for subscribers that switch on
// the tag instead of the concrete type.
func Type(e Event) EventType { return e.eventType() }

// Subscriber receives machine events. Callbacks run synchronously on the
// mutating goroutine; subscribers must not call back into the machine.
type Subscriber func(Event)
