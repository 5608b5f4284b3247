// Package investigation owns the investigation aggregate: the phase
// lifecycle, the hypothesis tree, evidence evaluations, and the event
// stream observed by orchestrators and dashboards.
package investigation

import "time"

// Phase is the lifecycle phase of an investigation.
type Phase string

const (
	PhaseIdle        Phase = "idle"
	PhaseTriage      Phase = "triage"
	PhaseHypothesize Phase = "hypothesize"
	PhaseInvestigate Phase = "investigate"
	PhaseEvaluate    Phase = "evaluate"
	PhaseConclude    Phase = "conclude"
	PhaseRemediate   Phase = "remediate"
	PhaseComplete    Phase = "complete"
	PhaseError       Phase = "error"
)

// Terminal reports whether the phase admits no further transitions.
func (p Phase) Terminal() bool {
	return p == PhaseComplete || p == PhaseError
}

// Severity classifies incident impact during triage.
type Severity string

const (
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Category is the root-cause family a hypothesis belongs to.
type Category string

const (
	CategoryInfrastructure Category = "infrastructure"
	CategoryApplication    Category = "application"
	CategoryDependency     Category = "dependency"
	CategoryConfiguration  Category = "configuration"
	CategoryCapacity       Category = "capacity"
	CategorySecurity       Category = "security"
	CategoryUnknown        Category = "unknown"
)

// HypothesisStatus tracks where a hypothesis sits in its lifecycle.
type HypothesisStatus string

const (
	HypothesisPending       HypothesisStatus = "pending"
	HypothesisInvestigating HypothesisStatus = "investigating"
	HypothesisConfirmed     HypothesisStatus = "confirmed"
	HypothesisPruned        HypothesisStatus = "pruned"
)

// EvidenceStrength is the qualitative counterpart to numeric confidence.
type EvidenceStrength string

const (
	EvidencePending EvidenceStrength = "pending"
	EvidenceNone    EvidenceStrength = "none"
	EvidenceWeak    EvidenceStrength = "weak"
	EvidenceStrong  EvidenceStrength = "strong"
)

// Confidence is the qualitative confidence of a conclusion.
type Confidence string

const (
	ConfidenceLow    Confidence = "low"
	ConfidenceMedium Confidence = "medium"
	ConfidenceHigh   Confidence = "high"
)

// EvaluationAction is the next step an evidence evaluation prescribes.
type EvaluationAction string

const (
	ActionContinue EvaluationAction = "continue"
	ActionBranch   EvaluationAction = "branch"
	ActionPrune    EvaluationAction = "prune"
	ActionConfirm  EvaluationAction = "confirm"
)

// RiskLevel classifies the blast radius of a mutation or remediation step.
type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// StepStatus tracks a remediation step through execution.
type StepStatus string

const (
	StepPending   StepStatus = "pending"
	StepApproved  StepStatus = "approved"
	StepExecuting StepStatus = "executing"
	StepCompleted StepStatus = "completed"
	StepFailed    StepStatus = "failed"
	StepSkipped   StepStatus = "skipped"
)

// PlannedQuery is a concrete telemetry query attached to a hypothesis.
// Type names the tool; Params is passed through to the executor verbatim.
type PlannedQuery struct {
	Type        string         `json:"type"`
	Description string         `json:"description"`
	Service     string         `json:"service,omitempty"`
	Params      map[string]any `json:"params,omitempty"`
}

// Hypothesis is a node in the hypothesis tree. Hypotheses are stored in a
// flat ordered list; the child relation is reconstructed by scanning for
// matching ParentID, so IDs are the only cross-links.
type Hypothesis struct {
	ID                 string           `json:"id"`
	Statement          string           `json:"statement"`
	Category           Category         `json:"category"`
	Priority           int              `json:"priority"` // 1..5, lower is higher
	Status             HypothesisStatus `json:"status"`
	Evidence           EvidenceStrength `json:"evidence"`
	Confidence         int              `json:"confidence"` // 0..100
	ParentID           string           `json:"parent_id,omitempty"`
	PlannedQueries     []PlannedQuery   `json:"planned_queries,omitempty"`
	Reasoning          string           `json:"reasoning,omitempty"`
	ConfirmingEvidence []string         `json:"confirming_evidence,omitempty"`
	RefutingEvidence   []string         `json:"refuting_evidence,omitempty"`
	CreatedAt          time.Time        `json:"created_at"`
}

// HypothesisInput is the caller-facing shape for inserting a hypothesis.
type HypothesisInput struct {
	Statement      string         `json:"statement"`
	Category       Category       `json:"category"`
	Priority       int            `json:"priority"`
	ParentID       string         `json:"parent_id,omitempty"`
	PlannedQueries []PlannedQuery `json:"planned_queries,omitempty"`
	Reasoning      string         `json:"reasoning,omitempty"`
}

// EvidenceEvaluation is an append-only verdict on one hypothesis.
type EvidenceEvaluation struct {
	HypothesisID  string            `json:"hypothesis_id"`
	Evidence      EvidenceStrength  `json:"evidence"`
	Confidence    int               `json:"confidence"` // 0..100
	Reasoning     string            `json:"reasoning"`
	Action        EvaluationAction  `json:"action"`
	Findings      []string          `json:"findings,omitempty"`
	SubHypotheses []HypothesisInput `json:"sub_hypotheses,omitempty"` // only with ActionBranch
	EvaluatedAt   time.Time         `json:"evaluated_at"`
}

// TimeWindow bounds the incident period identified during triage.
type TimeWindow struct {
	Start string `json:"start,omitempty"`
	End   string `json:"end,omitempty"`
}

// TriageResult is the outcome of the triage phase.
type TriageResult struct {
	IncidentID        string     `json:"incident_id,omitempty"`
	Summary           string     `json:"summary"`
	Severity          Severity   `json:"severity"`
	AffectedServices  []string   `json:"affected_services,omitempty"`
	Symptoms          []string   `json:"symptoms,omitempty"`
	ErrorMessages     []string   `json:"error_messages,omitempty"`
	TimeWindow        TimeWindow `json:"time_window"`
	InitialHypotheses []string   `json:"initial_hypotheses,omitempty"`
}

// EvidenceLink is one entry in a conclusion's evidence chain.
type EvidenceLink struct {
	Finding  string           `json:"finding"`
	Source   string           `json:"source"`
	Strength EvidenceStrength `json:"strength"`
}

// Conclusion is the root-cause verdict of an investigation.
type Conclusion struct {
	RootCause     string         `json:"root_cause"`
	Confidence    Confidence     `json:"confidence"`
	HypothesisID  string         `json:"hypothesis_id"`
	EvidenceChain []EvidenceLink `json:"evidence_chain,omitempty"`
	Alternatives  []string       `json:"alternatives,omitempty"`
	Unknowns      []string       `json:"unknowns,omitempty"`
}

// RemediationStep is one ordered action in a remediation plan.
type RemediationStep struct {
	ID               string         `json:"id"`
	Action           string         `json:"action"`
	Description      string         `json:"description"`
	Command          string         `json:"command,omitempty"`
	RollbackCommand  string         `json:"rollback_command,omitempty"`
	RiskLevel        RiskLevel      `json:"risk_level"`
	RequiresApproval bool           `json:"requires_approval"`
	MatchingSkill    string         `json:"matching_skill,omitempty"`
	MatchingRunbook  string         `json:"matching_runbook,omitempty"`
	Parameters       map[string]any `json:"parameters,omitempty"`
	Status           StepStatus     `json:"status"`
	Result           string         `json:"result,omitempty"`
	Error            string         `json:"error,omitempty"`
}

// RemediationPlan is the ordered set of actions proposed after a conclusion.
type RemediationPlan struct {
	Steps                 []RemediationStep `json:"steps"`
	Monitoring            []string          `json:"monitoring,omitempty"`
	EstimatedRecoveryTime string            `json:"estimated_recovery_time,omitempty"`
}

// StepPatch is a partial update applied to a remediation step.
// Nil fields are left untouched.
type StepPatch struct {
	Status *StepStatus
	Result *string
	Error  *string
}

// PhaseTransition records one edge taken in the phase graph.
type PhaseTransition struct {
	From   Phase     `json:"from"`
	To     Phase     `json:"to"`
	At     time.Time `json:"at"`
	Reason string    `json:"reason,omitempty"`
}

// Investigation is the root aggregate. It exclusively owns its hypotheses,
// evaluations, triage result, conclusion, and remediation plan.
type Investigation struct {
	ID            string               `json:"id"`
	Query         string               `json:"query"`
	IncidentID    string               `json:"incident_id,omitempty"`
	Phase         Phase                `json:"phase"`
	CreatedAt     time.Time            `json:"created_at"`
	CompletedAt   *time.Time           `json:"completed_at,omitempty"`
	PhaseHistory  []PhaseTransition    `json:"phase_history,omitempty"`
	Hypotheses    []*Hypothesis        `json:"hypotheses,omitempty"`
	Evaluations   []EvidenceEvaluation `json:"evaluations,omitempty"`
	Triage        *TriageResult        `json:"triage,omitempty"`
	Conclusion    *Conclusion          `json:"conclusion,omitempty"`
	Remediation   *RemediationPlan     `json:"remediation,omitempty"`
	Errors        []string             `json:"errors,omitempty"`
	Iterations    int                  `json:"iterations"`
	MaxIterations int                  `json:"max_iterations"`
}
