// Package orchestrator drives a hypothesis-driven investigation through
// the full phase lifecycle: triage, hypothesis generation, evidence
// gathering, evaluation, conclusion, and remediation. It is the
// authoritative investigator; the agent package covers free-form queries.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsleuth/sleuth/pkg/approval"
	"github.com/opsleuth/sleuth/pkg/checkpoint"
	"github.com/opsleuth/sleuth/pkg/investigation"
	"github.com/opsleuth/sleuth/pkg/llm"
	"github.com/opsleuth/sleuth/pkg/metrics"
	"github.com/opsleuth/sleuth/pkg/scratchpad"
	"github.com/opsleuth/sleuth/pkg/tools"
)

// DefaultTimeout is the per-investigation wall-clock budget.
const DefaultTimeout = 600 * time.Second

// DefaultConfirmThreshold is the confidence at which a confirm action
// moves the investigation to the conclude phase.
const DefaultConfirmThreshold = 80

// Config tunes one orchestrator. Zero values fall back to defaults.
type Config struct {
	MaxIterations    int
	MaxHypotheses    int
	Timeout          time.Duration
	ConfirmThreshold int

	// AvailableTools is the executor's tool inventory; incident-fetch,
	// knowledge-search, and code-search capabilities are discovered in it
	// by name.
	AvailableTools []string
	// AvailableSkills lists the automated workflows the skill tool accepts.
	AvailableSkills []string

	// AutoApproveRemediation executes skill-backed remediation steps
	// without consulting the gate or callback.
	AutoApproveRemediation bool
	// DisableRemediation stops after the conclusion.
	DisableRemediation bool
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = investigation.DefaultMaxIterations
	}
	if c.MaxHypotheses <= 0 {
		c.MaxHypotheses = investigation.DefaultMaxHypotheses
	}
	if c.Timeout <= 0 {
		c.Timeout = DefaultTimeout
	}
	if c.ConfirmThreshold <= 0 {
		c.ConfirmThreshold = DefaultConfirmThreshold
	}
	return c
}

// Result is the final outcome of one investigation run.
type Result struct {
	InvestigationID string
	RootCause       string
	Confidence      investigation.Confidence
	Summary         string
	DurationMs      int64
	Remediation     *investigation.RemediationPlan
	State           investigation.Investigation
}

// Orchestrator runs one investigation at a time. Create a fresh instance
// per concurrent investigation; each owns a disjoint machine, scratchpad,
// and approval counters.
type Orchestrator struct {
	cfg      Config
	llm      llm.Completer
	executor tools.Executor
	pad      *scratchpad.Scratchpad
	machine  *investigation.Machine
	invID    string

	store checkpoint.Store
	gate  *approval.Gate
	met   *metrics.Metrics

	approveStep   func(investigation.RemediationStep) bool
	fetchRunbooks func(ctx context.Context, incidentID string, services []string) []string

	mu   sync.Mutex
	subs []Subscriber
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithScratchpad substitutes a caller-built scratchpad, typically to
// install a masker.
func WithScratchpad(pad *scratchpad.Scratchpad) Option {
	return func(o *Orchestrator) { o.pad = pad }
}

// WithCheckpointStore enables Checkpoint and Resume.
func WithCheckpointStore(store checkpoint.Store) Option {
	return func(o *Orchestrator) { o.store = store }
}

// WithApprovalGate routes remediation-step approval through a gate.
func WithApprovalGate(gate *approval.Gate) Option {
	return func(o *Orchestrator) { o.gate = gate }
}

// WithMetrics records orchestration metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(o *Orchestrator) { o.met = m }
}

// WithApproveStep installs the per-step approval callback consulted when
// no gate is configured.
func WithApproveStep(fn func(investigation.RemediationStep) bool) Option {
	return func(o *Orchestrator) { o.approveStep = fn }
}

// WithRunbookFetcher installs the optional runbook-title lookup used to
// enrich the remediation prompt.
func WithRunbookFetcher(fn func(ctx context.Context, incidentID string, services []string) []string) Option {
	return func(o *Orchestrator) { o.fetchRunbooks = fn }
}

// New creates an orchestrator over an LLM completer and a tool executor.
func New(completer llm.Completer, executor tools.Executor, cfg Config, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		cfg:      cfg.withDefaults(),
		llm:      completer,
		executor: executor,
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.pad == nil {
		o.pad = scratchpad.New()
	}
	return o
}

// Subscribe registers a subscriber for all subsequent events.
func (o *Orchestrator) Subscribe(s Subscriber) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.subs = append(o.subs, s)
}

func (o *Orchestrator) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	if e.InvestigationID == "" {
		e.InvestigationID = o.invID
	}
	o.mu.Lock()
	subs := append([]Subscriber(nil), o.subs...)
	o.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}

func (o *Orchestrator) machineOpts() []investigation.Option {
	return []investigation.Option{
		investigation.WithMaxHypotheses(o.cfg.MaxHypotheses),
		investigation.WithMaxIterations(o.cfg.MaxIterations),
	}
}

// wireMachine forwards machine events into the orchestrator stream.
func (o *Orchestrator) wireMachine(id string) {
	o.machine.Subscribe(func(e investigation.Event) {
		switch ev := e.(type) {
		case investigation.PhaseChangeEvent:
			o.emit(Event{Type: EventPhaseChange, InvestigationID: id, From: ev.From, To: ev.To})
		case investigation.HypothesisCreatedEvent:
			h := ev.Hypothesis
			o.emit(Event{Type: EventHypothesisCreated, InvestigationID: id, Hypothesis: &h})
		case investigation.EvidenceEvaluatedEvent:
			eval := ev.Evaluation
			o.emit(Event{Type: EventEvidenceEvaluated, InvestigationID: id, Evaluation: &eval})
		case investigation.ConclusionReachedEvent:
			c := ev.Conclusion
			o.emit(Event{Type: EventConclusionReached, InvestigationID: id, Conclusion: &c})
		case investigation.StepCompletedEvent:
			step := ev.Step
			o.emit(Event{Type: EventRemediationCompleted, InvestigationID: id, Step: &step})
		case investigation.ErrorEvent:
			o.emit(Event{Type: EventError, InvestigationID: id, Kind: ErrKindFatal, Err: ev.Err})
		}
	})
}

// Investigate runs a full investigation for the query. The returned
// result is partial when err is non-nil; on cancellation the phase may be
// any non-terminal phase.
func (o *Orchestrator) Investigate(ctx context.Context, query, incidentID string) (*Result, error) {
	id := uuid.NewString()
	o.invID = id
	o.machine = investigation.NewMachine(id, query, incidentID, o.machineOpts()...)
	o.wireMachine(id)
	return o.run(ctx)
}

// Resume continues an investigation from a loaded checkpoint. Scratchpad
// bodies referenced by the checkpoint are not restored; drill-down on
// those ids returns null, which resumed phases tolerate.
func (o *Orchestrator) Resume(ctx context.Context, cp *checkpoint.Checkpoint) (*Result, error) {
	if cp == nil {
		return nil, errors.New("orchestrator: nil checkpoint")
	}
	inv := cp.Investigation()
	o.invID = inv.ID
	o.machine = investigation.Restore(*inv, o.machineOpts()...)
	o.wireMachine(inv.ID)
	return o.run(ctx)
}

// Checkpoint snapshots the current investigation into the configured store.
func (o *Orchestrator) Checkpoint(ctx context.Context) (string, error) {
	if o.store == nil {
		return "", errors.New("orchestrator: no checkpoint store configured")
	}
	if o.machine == nil {
		return "", errors.New("orchestrator: no investigation in progress")
	}
	snap := o.machine.Snapshot()
	cp := checkpoint.Capture(&snap, o.pad.IDs())
	id, err := o.store.Save(ctx, cp)
	if err != nil {
		return "", fmt.Errorf("orchestrator: checkpoint: %w", err)
	}
	if o.met != nil {
		o.met.CheckpointSaves.Inc()
	}
	return id, nil
}

// run drives the phase loop from the machine's current phase until a
// terminal phase. Resumed investigations enter mid-graph.
func (o *Orchestrator) run(ctx context.Context) (*Result, error) {
	ctx, cancel := context.WithTimeout(ctx, o.cfg.Timeout)
	defer cancel()

	start := time.Now()
	if o.met != nil {
		o.met.InvestigationsStarted.Inc()
	}

	for {
		phase := o.machine.Phase()
		phaseStart := time.Now()
		var err error

		switch phase {
		case investigation.PhaseIdle:
			err = o.machine.Start()
		case investigation.PhaseTriage:
			err = o.runTriage(ctx)
		case investigation.PhaseHypothesize:
			err = o.runHypothesize(ctx)
		case investigation.PhaseInvestigate:
			err = o.runCycle(ctx)
		case investigation.PhaseEvaluate:
			// Only reachable on resume; re-enter the gather/evaluate cycle.
			err = o.machine.TransitionTo(investigation.PhaseInvestigate, "resumed mid-evaluation")
		case investigation.PhaseConclude:
			err = o.runConclude(ctx)
		case investigation.PhaseRemediate:
			err = o.runRemediate(ctx)
		case investigation.PhaseComplete:
			return o.finish(start, "complete"), nil
		case investigation.PhaseError:
			return o.finish(start, "error"), errors.New("investigation ended in error phase")
		}

		o.met.ObservePhase(string(phase), time.Since(phaseStart))
		if err != nil {
			return o.fail(start, err)
		}
	}
}

// fail ends the run. Cancellation leaves the phase where it was and
// returns the partial result; anything else is fatal and moves the
// machine to the terminal error phase.
func (o *Orchestrator) fail(start time.Time, err error) (*Result, error) {
	snap := o.machine.Snapshot()
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		slog.Info("Investigation cancelled", "investigation", snap.ID, "phase", snap.Phase)
		o.emit(Event{Type: EventError, InvestigationID: snap.ID, Kind: ErrKindCancelled, Err: err.Error()})
		res := o.finish(start, "cancelled")
		return res, err
	}

	slog.Error("Investigation failed", "investigation", snap.ID, "phase", snap.Phase, "error", err)
	o.machine.RecordError(err)
	if terr := o.machine.TransitionTo(investigation.PhaseError, err.Error()); terr != nil {
		slog.Warn("Could not enter error phase", "error", terr)
	}
	res := o.finish(start, "error")
	return res, err
}

// finish assembles the result and emits the terminal bookkeeping.
func (o *Orchestrator) finish(start time.Time, outcome string) *Result {
	snap := o.machine.Snapshot()
	res := &Result{
		InvestigationID: snap.ID,
		Summary:         o.machine.Summary(),
		DurationMs:      time.Since(start).Milliseconds(),
		Remediation:     snap.Remediation,
		State:           snap,
	}
	if snap.Conclusion != nil {
		res.RootCause = snap.Conclusion.RootCause
		res.Confidence = snap.Conclusion.Confidence
	}
	if o.met != nil {
		o.met.InvestigationsCompleted.WithLabelValues(outcome).Inc()
		o.met.InvestigationDuration.Observe(time.Since(start).Seconds())
	}
	if outcome == "complete" {
		o.emit(Event{Type: EventComplete, InvestigationID: snap.ID, Result: res})
	}
	return res
}
