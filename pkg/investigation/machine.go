package investigation

import (
	"encoding/json"
	"fmt"
	"sort"
	"sync"
	"time"
)

// DefaultMaxHypotheses is the hard cap on hypotheses per investigation.
const DefaultMaxHypotheses = 10

// DefaultMaxIterations bounds investigate+evaluate cycles per investigation.
const DefaultMaxIterations = 10

// allowedTransitions is the phase graph. Any non-terminal phase may
// additionally transition to PhaseError (handled in canTransition).
var allowedTransitions = map[Phase][]Phase{
	PhaseIdle:        {PhaseTriage},
	PhaseTriage:      {PhaseHypothesize, PhaseConclude},
	PhaseHypothesize: {PhaseInvestigate, PhaseConclude},
	PhaseInvestigate: {PhaseEvaluate, PhaseConclude},
	PhaseEvaluate:    {PhaseInvestigate, PhaseHypothesize, PhaseConclude},
	PhaseConclude:    {PhaseRemediate, PhaseComplete},
	PhaseRemediate:   {PhaseComplete},
}

// Machine owns one Investigation aggregate and enforces its invariants.
// All mutations go through the machine; events are emitted in mutation
// order and observed in that order by every subscriber.
type Machine struct {
	mu            sync.Mutex
	inv           *Investigation
	subs          []Subscriber
	maxHypotheses int
	hypothesisSeq int
}

// Option configures a Machine.
type Option func(*Machine)

// WithMaxHypotheses overrides the hypothesis cap.
func WithMaxHypotheses(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.maxHypotheses = n
		}
	}
}

// WithMaxIterations overrides the iteration budget.
func WithMaxIterations(n int) Option {
	return func(m *Machine) {
		if n > 0 {
			m.inv.MaxIterations = n
		}
	}
}

// NewMachine creates a machine for a fresh investigation in phase idle.
func NewMachine(id, query, incidentID string, opts ...Option) *Machine {
	m := &Machine{
		inv: &Investigation{
			ID:            id,
			Query:         query,
			IncidentID:    incidentID,
			Phase:         PhaseIdle,
			CreatedAt:     time.Now().UTC(),
			MaxIterations: DefaultMaxIterations,
		},
		maxHypotheses: DefaultMaxHypotheses,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Subscribe registers a subscriber for all subsequent events.
func (m *Machine) Subscribe(s Subscriber) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.subs = append(m.subs, s)
}

// emit delivers an event to all subscribers. Callers hold m.mu, which is
// what guarantees total ordering across concurrent mutators.
func (m *Machine) emit(e Event) {
	for _, s := range m.subs {
		s(e)
	}
}

// Start moves the investigation from idle to triage.
func (m *Machine) Start() error {
	return m.TransitionTo(PhaseTriage, "investigation started")
}

// TransitionTo moves the investigation along one edge of the phase graph.
func (m *Machine) TransitionTo(to Phase, reason string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	from := m.inv.Phase
	if !canTransition(from, to) {
		return &InvalidTransitionError{From: from, To: to}
	}

	m.inv.Phase = to
	m.inv.PhaseHistory = append(m.inv.PhaseHistory, PhaseTransition{
		From:   from,
		To:     to,
		At:     time.Now().UTC(),
		Reason: reason,
	})
	if to.Terminal() {
		now := time.Now().UTC()
		m.inv.CompletedAt = &now
	}
	m.emit(PhaseChangeEvent{From: from, To: to, Reason: reason})
	return nil
}

func canTransition(from, to Phase) bool {
	if to == PhaseError {
		return !from.Terminal()
	}
	for _, next := range allowedTransitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Phase returns the current phase.
func (m *Machine) Phase() Phase {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inv.Phase
}

// SetTriageResult records the triage outcome. Only valid in phase triage.
func (m *Machine) SetTriageResult(tr TriageResult) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inv.Phase != PhaseTriage {
		return &WrongPhaseError{Op: "SetTriageResult", Want: PhaseTriage, Got: m.inv.Phase}
	}
	m.inv.Triage = &tr
	return nil
}

// AddHypothesis inserts a hypothesis and returns its assigned id (h_1..h_N).
// Fails with *CapExceededError once the cap is reached, and with
// ErrUnknownHypothesis when the parent id does not resolve.
func (m *Machine) AddHypothesis(in HypothesisInput) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.addHypothesisLocked(in)
}

func (m *Machine) addHypothesisLocked(in HypothesisInput) (string, error) {
	if len(m.inv.Hypotheses) >= m.maxHypotheses {
		return "", &CapExceededError{Limit: m.maxHypotheses}
	}
	if in.ParentID != "" && m.findLocked(in.ParentID) == nil {
		return "", fmt.Errorf("parent %q: %w", in.ParentID, ErrUnknownHypothesis)
	}

	m.hypothesisSeq++
	h := &Hypothesis{
		ID:             fmt.Sprintf("h_%d", m.hypothesisSeq),
		Statement:      in.Statement,
		Category:       normalizeCategory(in.Category),
		Priority:       clampPriority(in.Priority),
		Status:         HypothesisPending,
		Evidence:       EvidencePending,
		ParentID:       in.ParentID,
		PlannedQueries: in.PlannedQueries,
		Reasoning:      in.Reasoning,
		CreatedAt:      time.Now().UTC(),
	}
	m.inv.Hypotheses = append(m.inv.Hypotheses, h)
	m.emit(HypothesisCreatedEvent{Hypothesis: *h})
	return h.ID, nil
}

func normalizeCategory(c Category) Category {
	switch c {
	case CategoryInfrastructure, CategoryApplication, CategoryDependency,
		CategoryConfiguration, CategoryCapacity, CategorySecurity:
		return c
	default:
		return CategoryUnknown
	}
}

func clampPriority(p int) int {
	if p < 1 {
		return 1
	}
	if p > 5 {
		return 5
	}
	return p
}

// FindHypothesis returns a copy of the hypothesis with the given id.
func (m *Machine) FindHypothesis(id string) (Hypothesis, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if h := m.findLocked(id); h != nil {
		return *h, true
	}
	return Hypothesis{}, false
}

func (m *Machine) findLocked(id string) *Hypothesis {
	for _, h := range m.inv.Hypotheses {
		if h.ID == id {
			return h
		}
	}
	return nil
}

// Children returns copies of the direct children of the given hypothesis.
func (m *Machine) Children(id string) []Hypothesis {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Hypothesis
	for _, h := range m.inv.Hypotheses {
		if h.ParentID == id {
			out = append(out, *h)
		}
	}
	return out
}

// ActiveHypotheses returns hypotheses that are neither pruned nor confirmed.
func (m *Machine) ActiveHypotheses() []Hypothesis {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Hypothesis
	for _, h := range m.inv.Hypotheses {
		if h.Status != HypothesisPruned && h.Status != HypothesisConfirmed {
			out = append(out, *h)
		}
	}
	return out
}

// NextHypothesis selects the active hypothesis with the lowest priority
// number; ties break by insertion order. Returns false when none are active.
func (m *Machine) NextHypothesis() (Hypothesis, bool) {
	active := m.ActiveHypotheses()
	if len(active) == 0 {
		return Hypothesis{}, false
	}
	// Stable sort preserves insertion order within a priority class.
	sort.SliceStable(active, func(i, j int) bool {
		return active[i].Priority < active[j].Priority
	})
	return active[0], true
}

// ApplyEvaluation appends an evaluation and mutates its target hypothesis.
// Branch evaluations insert the supplied sub-hypotheses with a parent link;
// sub-hypothesis inserts beyond the cap stop silently at the cap boundary
// and the error is recorded on the investigation.
func (m *Machine) ApplyEvaluation(ev EvidenceEvaluation) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	h := m.findLocked(ev.HypothesisID)
	if h == nil {
		return fmt.Errorf("evaluation target %q: %w", ev.HypothesisID, ErrUnknownHypothesis)
	}
	if ev.Confidence < 0 || ev.Confidence > 100 {
		return fmt.Errorf("evaluation confidence %d out of range 0..100", ev.Confidence)
	}

	if ev.EvaluatedAt.IsZero() {
		ev.EvaluatedAt = time.Now().UTC()
	}
	m.inv.Evaluations = append(m.inv.Evaluations, ev)

	h.Evidence = ev.Evidence
	h.Confidence = ev.Confidence
	if ev.Reasoning != "" {
		h.Reasoning = ev.Reasoning
	}

	switch ev.Action {
	case ActionPrune:
		h.Status = HypothesisPruned
		h.RefutingEvidence = append(h.RefutingEvidence, ev.Findings...)
	case ActionConfirm:
		h.Status = HypothesisConfirmed
		h.ConfirmingEvidence = append(h.ConfirmingEvidence, ev.Findings...)
	case ActionBranch:
		h.Status = HypothesisInvestigating
		h.ConfirmingEvidence = append(h.ConfirmingEvidence, ev.Findings...)
		for _, sub := range ev.SubHypotheses {
			sub.ParentID = h.ID
			if _, err := m.addHypothesisLocked(sub); err != nil {
				m.inv.Errors = append(m.inv.Errors, err.Error())
				break
			}
		}
	default: // ActionContinue
		h.Status = HypothesisInvestigating
		h.ConfirmingEvidence = append(h.ConfirmingEvidence, ev.Findings...)
	}

	m.emit(EvidenceEvaluatedEvent{Evaluation: ev})
	m.emit(HypothesisUpdatedEvent{Hypothesis: *h})
	return nil
}

// SetConclusion records the conclusion and marks the referenced hypothesis
// confirmed.
func (m *Machine) SetConclusion(c Conclusion) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if c.HypothesisID != "" {
		h := m.findLocked(c.HypothesisID)
		if h == nil {
			return fmt.Errorf("conclusion hypothesis %q: %w", c.HypothesisID, ErrUnknownHypothesis)
		}
		h.Status = HypothesisConfirmed
	}
	m.inv.Conclusion = &c
	m.emit(ConclusionReachedEvent{Conclusion: c})
	return nil
}

// SetRemediationPlan records the remediation plan.
func (m *Machine) SetRemediationPlan(p RemediationPlan) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for i := range p.Steps {
		if p.Steps[i].Status == "" {
			p.Steps[i].Status = StepPending
		}
	}
	m.inv.Remediation = &p
}

// UpdateRemediationStep applies a partial update to the identified step.
// Terminal statuses emit a StepCompletedEvent.
func (m *Machine) UpdateRemediationStep(id string, patch StepPatch) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.inv.Remediation == nil {
		return fmt.Errorf("no remediation plan set")
	}
	for i := range m.inv.Remediation.Steps {
		step := &m.inv.Remediation.Steps[i]
		if step.ID != id {
			continue
		}
		if patch.Status != nil {
			step.Status = *patch.Status
		}
		if patch.Result != nil {
			step.Result = *patch.Result
		}
		if patch.Error != nil {
			step.Error = *patch.Error
		}
		if step.Status == StepCompleted || step.Status == StepFailed || step.Status == StepSkipped {
			m.emit(StepCompletedEvent{Step: *step})
		}
		return nil
	}
	return fmt.Errorf("remediation step %q not found", id)
}

// RecordError appends an error to the investigation log and emits an
// ErrorEvent. It does not change the phase.
func (m *Machine) RecordError(err error) {
	if err == nil {
		return
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inv.Errors = append(m.inv.Errors, err.Error())
	m.emit(ErrorEvent{Err: err.Error(), Phase: m.inv.Phase})
}

// IncrementIteration counts one investigate+evaluate cycle.
func (m *Machine) IncrementIteration() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inv.Iterations++
	return m.inv.Iterations
}

// CanContinue reports whether the iteration budget allows another cycle.
func (m *Machine) CanContinue() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.inv.Iterations < m.inv.MaxIterations && !m.inv.Phase.Terminal()
}

// Snapshot returns a deep copy of the investigation aggregate.
func (m *Machine) Snapshot() Investigation {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshotLocked()
}

func (m *Machine) snapshotLocked() Investigation {
	out := *m.inv
	out.PhaseHistory = append([]PhaseTransition(nil), m.inv.PhaseHistory...)
	out.Evaluations = append([]EvidenceEvaluation(nil), m.inv.Evaluations...)
	out.Errors = append([]string(nil), m.inv.Errors...)
	out.Hypotheses = make([]*Hypothesis, len(m.inv.Hypotheses))
	for i, h := range m.inv.Hypotheses {
		cp := *h
		out.Hypotheses[i] = &cp
	}
	if m.inv.Triage != nil {
		tr := *m.inv.Triage
		out.Triage = &tr
	}
	if m.inv.Conclusion != nil {
		c := *m.inv.Conclusion
		out.Conclusion = &c
	}
	if m.inv.Remediation != nil {
		r := *m.inv.Remediation
		r.Steps = append([]RemediationStep(nil), m.inv.Remediation.Steps...)
		out.Remediation = &r
	}
	return out
}

// MarshalJSON serializes the current aggregate state.
func (m *Machine) MarshalJSON() ([]byte, error) {
	snap := m.Snapshot()
	return json.Marshal(snap)
}

// Restore rebuilds a machine from a previously serialized investigation.
// The hypothesis sequence resumes past the highest existing h_N id.
func Restore(inv Investigation, opts ...Option) *Machine {
	m := &Machine{inv: &inv, maxHypotheses: DefaultMaxHypotheses}
	if inv.MaxIterations == 0 {
		m.inv.MaxIterations = DefaultMaxIterations
	}
	for _, opt := range opts {
		opt(m)
	}
	for _, h := range inv.Hypotheses {
		var n int
		if _, err := fmt.Sscanf(h.ID, "h_%d", &n); err == nil && n > m.hypothesisSeq {
			m.hypothesisSeq = n
		}
	}
	return m
}
