package investigation

import (
	"errors"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStartedMachine(t *testing.T, opts ...Option) *Machine {
	t.Helper()
	m := NewMachine("inv-1", "Why is the API slow?", "", opts...)
	require.NoError(t, m.Start())
	return m
}

func TestMachine_StartMovesToTriage(t *testing.T) {
	m := NewMachine("inv-1", "query", "")
	assert.Equal(t, PhaseIdle, m.Phase())

	require.NoError(t, m.Start())
	assert.Equal(t, PhaseTriage, m.Phase())

	snap := m.Snapshot()
	require.Len(t, snap.PhaseHistory, 1)
	assert.Equal(t, PhaseIdle, snap.PhaseHistory[0].From)
	assert.Equal(t, PhaseTriage, snap.PhaseHistory[0].To)
}

func TestMachine_InvalidTransition(t *testing.T) {
	m := NewMachine("inv-1", "query", "")

	err := m.TransitionTo(PhaseRemediate, "skip ahead")
	var ite *InvalidTransitionError
	require.ErrorAs(t, err, &ite)
	assert.Equal(t, PhaseIdle, ite.From)
	assert.Equal(t, PhaseRemediate, ite.To)
	assert.Equal(t, PhaseIdle, m.Phase())
}

func TestMachine_PhaseHistoryFollowsGraph(t *testing.T) {
	m := newStartedMachine(t)
	require.NoError(t, m.TransitionTo(PhaseHypothesize, ""))
	require.NoError(t, m.TransitionTo(PhaseInvestigate, ""))
	require.NoError(t, m.TransitionTo(PhaseEvaluate, ""))
	require.NoError(t, m.TransitionTo(PhaseInvestigate, "continue"))
	require.NoError(t, m.TransitionTo(PhaseEvaluate, ""))
	require.NoError(t, m.TransitionTo(PhaseConclude, "confirmed"))
	require.NoError(t, m.TransitionTo(PhaseComplete, ""))

	snap := m.Snapshot()
	for _, tr := range snap.PhaseHistory {
		assert.True(t, canTransition(tr.From, tr.To), "edge %s -> %s", tr.From, tr.To)
	}
	require.NotNil(t, snap.CompletedAt)
}

func TestMachine_ErrorFromAnyNonTerminalPhase(t *testing.T) {
	m := newStartedMachine(t)
	require.NoError(t, m.TransitionTo(PhaseError, "LLM client failure"))
	assert.Equal(t, PhaseError, m.Phase())

	// Terminal, no way out.
	err := m.TransitionTo(PhaseTriage, "")
	assert.Error(t, err)
}

func TestMachine_SetTriageResultOutsideTriagePhase(t *testing.T) {
	m := NewMachine("inv-1", "query", "")

	err := m.SetTriageResult(TriageResult{Summary: "too early"})
	var wpe *WrongPhaseError
	require.ErrorAs(t, err, &wpe)
	assert.Equal(t, PhaseTriage, wpe.Want)
}

func TestMachine_AddHypothesisAssignsSequentialIDs(t *testing.T) {
	m := newStartedMachine(t)

	id1, err := m.AddHypothesis(HypothesisInput{Statement: "pool exhausted", Category: CategoryCapacity, Priority: 1})
	require.NoError(t, err)
	id2, err := m.AddHypothesis(HypothesisInput{Statement: "bad deploy", Category: CategoryApplication, Priority: 2})
	require.NoError(t, err)

	assert.Equal(t, "h_1", id1)
	assert.Equal(t, "h_2", id2)

	h, ok := m.FindHypothesis("h_1")
	require.True(t, ok)
	assert.Equal(t, HypothesisPending, h.Status)
	assert.Equal(t, EvidencePending, h.Evidence)
}

func TestMachine_AddHypothesisCapExceeded(t *testing.T) {
	m := newStartedMachine(t, WithMaxHypotheses(3))

	for i := 0; i < 3; i++ {
		_, err := m.AddHypothesis(HypothesisInput{Statement: fmt.Sprintf("hyp %d", i), Priority: 3})
		require.NoError(t, err)
	}

	_, err := m.AddHypothesis(HypothesisInput{Statement: "one too many", Priority: 3})
	var cap *CapExceededError
	require.ErrorAs(t, err, &cap)
	assert.Equal(t, 3, cap.Limit)
}

func TestMachine_AddHypothesisUnknownParent(t *testing.T) {
	m := newStartedMachine(t)

	_, err := m.AddHypothesis(HypothesisInput{Statement: "orphan", ParentID: "h_99", Priority: 1})
	assert.ErrorIs(t, err, ErrUnknownHypothesis)
}

func TestMachine_ChildParentLinksResolve(t *testing.T) {
	m := newStartedMachine(t)

	parent, err := m.AddHypothesis(HypothesisInput{Statement: "db layer", Priority: 1})
	require.NoError(t, err)
	child, err := m.AddHypothesis(HypothesisInput{Statement: "pool config", ParentID: parent, Priority: 2})
	require.NoError(t, err)

	kids := m.Children(parent)
	require.Len(t, kids, 1)
	assert.Equal(t, child, kids[0].ID)

	snap := m.Snapshot()
	ids := map[string]bool{}
	for _, h := range snap.Hypotheses {
		ids[h.ID] = true
	}
	for _, h := range snap.Hypotheses {
		if h.ParentID != "" {
			assert.True(t, ids[h.ParentID], "parent of %s must resolve", h.ID)
		}
	}
}

func TestMachine_NextHypothesisPriorityAndTieBreak(t *testing.T) {
	m := newStartedMachine(t)

	_, err := m.AddHypothesis(HypothesisInput{Statement: "low prio", Priority: 4})
	require.NoError(t, err)
	_, err = m.AddHypothesis(HypothesisInput{Statement: "first p2", Priority: 2})
	require.NoError(t, err)
	_, err = m.AddHypothesis(HypothesisInput{Statement: "second p2", Priority: 2})
	require.NoError(t, err)

	next, ok := m.NextHypothesis()
	require.True(t, ok)
	assert.Equal(t, "h_2", next.ID, "tie at priority 2 breaks by insertion order")
}

func TestMachine_ApplyEvaluationPrune(t *testing.T) {
	m := newStartedMachine(t)
	id, err := m.AddHypothesis(HypothesisInput{Statement: "DNS failure", Priority: 2})
	require.NoError(t, err)

	require.NoError(t, m.ApplyEvaluation(EvidenceEvaluation{
		HypothesisID: id,
		Evidence:     EvidenceNone,
		Confidence:   10,
		Action:       ActionPrune,
		Reasoning:    "resolution latency nominal",
	}))

	h, ok := m.FindHypothesis(id)
	require.True(t, ok)
	assert.Equal(t, HypothesisPruned, h.Status)
	assert.Empty(t, m.ActiveHypotheses())

	summary := m.Summary()
	assert.Contains(t, summary, "Rejected / Deprioritized")
	assert.Contains(t, summary, "DNS failure")
}

func TestMachine_ApplyEvaluationConfirm(t *testing.T) {
	m := newStartedMachine(t)
	id, err := m.AddHypothesis(HypothesisInput{Statement: "pool exhausted", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, m.ApplyEvaluation(EvidenceEvaluation{
		HypothesisID: id,
		Evidence:     EvidenceStrong,
		Confidence:   90,
		Action:       ActionConfirm,
		Findings:     []string{"pool at 100/100 for 20m"},
	}))

	h, _ := m.FindHypothesis(id)
	assert.Equal(t, HypothesisConfirmed, h.Status)
	assert.Equal(t, 90, h.Confidence)
	assert.Contains(t, h.ConfirmingEvidence, "pool at 100/100 for 20m")
}

func TestMachine_ApplyEvaluationBranchCreatesChildren(t *testing.T) {
	m := newStartedMachine(t)
	id, err := m.AddHypothesis(HypothesisInput{Statement: "db layer degraded", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, m.ApplyEvaluation(EvidenceEvaluation{
		HypothesisID: id,
		Evidence:     EvidenceStrong,
		Confidence:   70,
		Action:       ActionBranch,
		SubHypotheses: []HypothesisInput{
			{Statement: "slow queries", Priority: 1},
			{Statement: "lock contention", Priority: 2},
		},
	}))

	kids := m.Children(id)
	require.Len(t, kids, 2)
	for _, k := range kids {
		assert.Equal(t, id, k.ParentID)
	}
	h, _ := m.FindHypothesis(id)
	assert.Equal(t, HypothesisInvestigating, h.Status)
}

func TestMachine_ApplyEvaluationValidation(t *testing.T) {
	m := newStartedMachine(t)
	id, err := m.AddHypothesis(HypothesisInput{Statement: "x", Priority: 1})
	require.NoError(t, err)

	err = m.ApplyEvaluation(EvidenceEvaluation{HypothesisID: "h_42", Action: ActionContinue})
	assert.ErrorIs(t, err, ErrUnknownHypothesis)

	err = m.ApplyEvaluation(EvidenceEvaluation{HypothesisID: id, Confidence: 150, Action: ActionContinue})
	assert.Error(t, err)
}

func TestMachine_SetConclusionMarksHypothesisConfirmed(t *testing.T) {
	m := newStartedMachine(t)
	id, err := m.AddHypothesis(HypothesisInput{Statement: "connection pool exhausted", Priority: 1})
	require.NoError(t, err)

	require.NoError(t, m.SetConclusion(Conclusion{
		RootCause:    "Database connection pool exhausted under peak load",
		Confidence:   ConfidenceHigh,
		HypothesisID: id,
	}))

	h, _ := m.FindHypothesis(id)
	assert.Equal(t, HypothesisConfirmed, h.Status)
}

func TestMachine_UpdateRemediationStep(t *testing.T) {
	m := newStartedMachine(t)
	m.SetRemediationPlan(RemediationPlan{Steps: []RemediationStep{
		{ID: "step_1", Action: "scale", Description: "scale pool", RiskLevel: RiskMedium},
	}})

	status := StepCompleted
	result := "scaled to 200"
	require.NoError(t, m.UpdateRemediationStep("step_1", StepPatch{Status: &status, Result: &result}))

	snap := m.Snapshot()
	assert.Equal(t, StepCompleted, snap.Remediation.Steps[0].Status)
	assert.Equal(t, "scaled to 200", snap.Remediation.Steps[0].Result)

	assert.Error(t, m.UpdateRemediationStep("step_99", StepPatch{Status: &status}))
}

func TestMachine_IterationBudget(t *testing.T) {
	m := newStartedMachine(t, WithMaxIterations(2))
	assert.True(t, m.CanContinue())
	m.IncrementIteration()
	assert.True(t, m.CanContinue())
	m.IncrementIteration()
	assert.False(t, m.CanContinue())
}

func TestMachine_EventOrderingSingleSubscriber(t *testing.T) {
	m := NewMachine("inv-1", "query", "")
	var got []EventType
	m.Subscribe(func(e Event) { got = append(got, Type(e)) })

	require.NoError(t, m.Start())
	id, err := m.AddHypothesis(HypothesisInput{Statement: "x", Priority: 1})
	require.NoError(t, err)
	require.NoError(t, m.ApplyEvaluation(EvidenceEvaluation{HypothesisID: id, Confidence: 50, Action: ActionContinue}))
	require.NoError(t, m.SetConclusion(Conclusion{RootCause: "x", Confidence: ConfidenceLow, HypothesisID: id}))

	assert.Equal(t, []EventType{
		EventTypePhaseChange,
		EventTypeHypothesisCreated,
		EventTypeEvidenceEvaluated,
		EventTypeHypothesisUpdated,
		EventTypeConclusionReached,
	}, got)
}

func TestMachine_EventOrderingUnderConcurrency(t *testing.T) {
	m := newStartedMachine(t, WithMaxHypotheses(200))

	var mu sync.Mutex
	var seen []Event
	m.Subscribe(func(e Event) {
		// The machine holds its lock during emit, so appends are already
		// serialized; the local mutex only silences the race detector on
		// the slice header.
		mu.Lock()
		seen = append(seen, e)
		mu.Unlock()
	})

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, _ = m.AddHypothesis(HypothesisInput{Statement: "concurrent", Priority: 3})
		}()
	}
	wg.Wait()

	assert.Len(t, seen, 50)
}

func TestMachine_RecordError(t *testing.T) {
	m := newStartedMachine(t)
	var events []Event
	m.Subscribe(func(e Event) { events = append(events, e) })

	m.RecordError(errors.New("tool cloudwatch_alarms failed: throttled"))

	snap := m.Snapshot()
	require.Len(t, snap.Errors, 1)
	require.Len(t, events, 1)
	errEvent, ok := events[0].(ErrorEvent)
	require.True(t, ok)
	assert.Equal(t, PhaseTriage, errEvent.Phase)
}

func TestRestore_ResumesHypothesisSequence(t *testing.T) {
	m := newStartedMachine(t)
	_, err := m.AddHypothesis(HypothesisInput{Statement: "a", Priority: 1})
	require.NoError(t, err)
	_, err = m.AddHypothesis(HypothesisInput{Statement: "b", Priority: 2})
	require.NoError(t, err)

	restored := Restore(m.Snapshot())
	id, err := restored.AddHypothesis(HypothesisInput{Statement: "c", Priority: 3})
	require.NoError(t, err)
	assert.Equal(t, "h_3", id)
	assert.Equal(t, PhaseTriage, restored.Phase())
}
