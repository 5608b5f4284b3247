package orchestrator

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsleuth/sleuth/pkg/approval"
	"github.com/opsleuth/sleuth/pkg/checkpoint"
	"github.com/opsleuth/sleuth/pkg/investigation"
	"github.com/opsleuth/sleuth/pkg/tools"
)

// Prompt markers unique to each phase template, used to route scripted
// responses.
const (
	mTriage      = "triaging a production incident"
	mHypothesize = "generating root-cause hypotheses"
	mEvaluate    = "weighing evidence against a hypothesis"
	mConclude    = "writing the root-cause conclusion"
	mRemediate   = "planning remediation"
	mLogs        = "scanning logs for incident signals"
)

// scriptedCompleter serves canned responses keyed by prompt marker. Each
// marker holds a queue; the last response is repeated once the queue is
// down to one entry.
type scriptedCompleter struct {
	mu      sync.Mutex
	scripts map[string][]string
	prompts []string
}

func newScripted() *scriptedCompleter {
	return &scriptedCompleter{scripts: make(map[string][]string)}
}

func (c *scriptedCompleter) on(marker string, responses ...string) *scriptedCompleter {
	c.scripts[marker] = append(c.scripts[marker], responses...)
	return c
}

func (c *scriptedCompleter) Complete(_ context.Context, p string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.prompts = append(c.prompts, p)
	for marker, queue := range c.scripts {
		if !strings.Contains(p, marker) {
			continue
		}
		if len(queue) == 0 {
			return "", fmt.Errorf("no scripted response for %q", marker)
		}
		resp := queue[0]
		if len(queue) > 1 {
			c.scripts[marker] = queue[1:]
		}
		return resp, nil
	}
	return "", fmt.Errorf("unscripted prompt: %.60s", p)
}

func (c *scriptedCompleter) promptsFor(marker string) []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []string
	for _, p := range c.prompts {
		if strings.Contains(p, marker) {
			out = append(out, p)
		}
	}
	return out
}

const triageHigh = `{
  "summary": "API latency is elevated across checkout endpoints",
  "severity": "high",
  "affected_services": ["api", "checkout-db"],
  "symptoms": ["p99 latency above 5s"],
  "error_messages": ["context deadline exceeded"],
  "time_window": {"start": "", "end": ""}
}`

const hypothesesPool = `{
  "hypotheses": [
    {
      "statement": "Database connection pool exhausted",
      "category": "capacity",
      "priority": 1,
      "planned_queries": [
        {"type": "db_query", "description": "check active connections", "service": "checkout-db"}
      ],
      "reasoning": "latency pattern matches pool saturation"
    }
  ],
  "reasoning": "single strong candidate"
}`

const evalConfirm90 = `{
  "hypothesis_id": "h_1",
  "evidence": "strong",
  "confidence": 90,
  "action": "confirm",
  "findings": ["pool at 200/200 connections for 40 minutes"],
  "reasoning": "saturation confirmed directly"
}`

const concludePool = `{
  "root_cause": "The database connection pool is exhausted under checkout load",
  "confidence": "high",
  "hypothesis_id": "h_1",
  "evidence_chain": [
    {"finding": "pool at 200/200 connections", "source": "db_query", "strength": "strong"}
  ]
}`

func happyPathCompleter() *scriptedCompleter {
	return newScripted().
		on(mTriage, triageHigh).
		on(mHypothesize, hypothesesPool).
		on(mEvaluate, evalConfirm90).
		on(mConclude, concludePool)
}

func TestInvestigate_HappyPath(t *testing.T) {
	completer := happyPathCompleter()
	exec := tools.NewStubExecutor().WithDefault(map[string]any{"connections": 200})
	o := New(completer, exec, Config{DisableRemediation: true})

	var events []Event
	o.Subscribe(func(e Event) { events = append(events, e) })

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)
	require.NotNil(t, res)

	assert.Equal(t, investigation.PhaseComplete, res.State.Phase)
	assert.Contains(t, res.RootCause, "connection pool")
	assert.Equal(t, investigation.ConfidenceHigh, res.Confidence)
	require.NotNil(t, res.State.Triage)
	assert.Equal(t, investigation.SeverityHigh, res.State.Triage.Severity)

	require.Len(t, res.State.Hypotheses, 1)
	h := res.State.Hypotheses[0]
	assert.Equal(t, "h_1", h.ID)
	assert.Equal(t, investigation.HypothesisConfirmed, h.Status)
	assert.Equal(t, 90, h.Confidence)

	created := 0
	completed := 0
	for _, e := range events {
		switch e.Type {
		case EventHypothesisCreated:
			created++
		case EventComplete:
			completed++
		}
	}
	assert.GreaterOrEqual(t, created, 1)
	assert.Equal(t, 1, completed)
}

func TestInvestigate_PrunedHypothesisLeavesActiveSet(t *testing.T) {
	// h_2 carries priority 1 so it is evaluated first and pruned; h_1 is
	// then confirmed.
	hypotheses := `{
	  "hypotheses": [
	    {"statement": "Cache invalidation storm", "category": "application", "priority": 2,
	     "planned_queries": [{"type": "cache_query", "description": "hit rates"}]},
	    {"statement": "DNS resolution failures", "category": "dependency", "priority": 1,
	     "planned_queries": [{"type": "dns_query", "description": "resolver errors"}]}
	  ]
	}`
	evalPrune := `{
	  "hypothesis_id": "h_2",
	  "evidence": "none",
	  "confidence": 10,
	  "action": "prune",
	  "findings": ["resolver error rate is flat at baseline"],
	  "reasoning": "no supporting evidence"
	}`
	evalConfirm := `{
	  "hypothesis_id": "h_1",
	  "evidence": "strong",
	  "confidence": 85,
	  "action": "confirm",
	  "findings": ["cache hit rate dropped to 4%"],
	  "reasoning": "storm confirmed"
	}`
	completer := newScripted().
		on(mTriage, triageHigh).
		on(mHypothesize, hypotheses).
		on(mEvaluate, evalPrune, evalConfirm).
		on(mConclude, concludePool)
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{DisableRemediation: true})

	res, err := o.Investigate(context.Background(), "Why are requests failing?", "")
	require.NoError(t, err)

	var pruned *investigation.Hypothesis
	for _, h := range res.State.Hypotheses {
		if h.ID == "h_2" {
			pruned = h
		}
	}
	require.NotNil(t, pruned)
	assert.Equal(t, investigation.HypothesisPruned, pruned.Status)

	assert.Contains(t, res.Summary, "Rejected / Deprioritized")
	assert.Contains(t, res.Summary, "DNS resolution failures")
}

func TestInvestigate_SkillStepAutoApproved(t *testing.T) {
	remediation := `{
	  "steps": [
	    {
	      "action": "redeploy",
	      "description": "redeploy the checkout service",
	      "risk_level": "low",
	      "requires_approval": false,
	      "matching_skill": "deploy-service",
	      "parameters": {"service": "checkout"}
	    }
	  ],
	  "monitoring": ["p99 latency"]
	}`
	completer := happyPathCompleter().on(mRemediate, remediation)
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{
		AvailableSkills:        []string{"deploy-service"},
		AutoApproveRemediation: true,
	})

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)
	assert.Equal(t, investigation.PhaseComplete, res.State.Phase)

	skillCalls := exec.CallsTo(tools.SkillToolName)
	require.Len(t, skillCalls, 1)
	assert.Equal(t, "deploy-service", skillCalls[0].Params["name"])
	assert.Equal(t, map[string]any{"service": "checkout"}, skillCalls[0].Params["args"])

	require.NotNil(t, res.Remediation)
	require.Len(t, res.Remediation.Steps, 1)
	assert.Equal(t, investigation.StepCompleted, res.Remediation.Steps[0].Status)
}

func TestInvestigate_CommandOnlyStepStaysManual(t *testing.T) {
	remediation := `{
	  "steps": [
	    {
	      "action": "force_new_deployment",
	      "description": "force a fresh ECS deployment",
	      "command": "aws ecs update-service --force-new-deployment",
	      "risk_level": "medium",
	      "requires_approval": true
	    }
	  ]
	}`
	completer := happyPathCompleter().on(mRemediate, remediation)
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{AutoApproveRemediation: true})

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)

	assert.Empty(t, exec.CallsTo(tools.SkillToolName))
	assert.Empty(t, exec.CallsTo("execute_command"))

	require.NotNil(t, res.Remediation)
	require.Len(t, res.Remediation.Steps, 1)
	step := res.Remediation.Steps[0]
	assert.Equal(t, investigation.StepPending, step.Status)
	assert.Contains(t, step.Error, "Manual execution required: aws ecs update-service --force-new-deployment")
}

func TestInvestigate_KnowledgeQueryExcludesIncidentID(t *testing.T) {
	const incidentID = "Q2POX0UC7OBO7M"
	hypotheses := `{
	  "hypotheses": [
	    {
	      "statement": "An alarm threshold breach is driving pages",
	      "category": "infrastructure",
	      "priority": 1,
	      "planned_queries": [
	        {"type": "cloudwatch_alarms", "description": "list firing alarms", "params": {"state": "ALARM"}}
	      ]
	    }
	  ]
	}`
	completer := newScripted().
		on(mTriage, triageHigh).
		on(mHypothesize, hypotheses).
		on(mEvaluate, evalConfirm90).
		on(mConclude, concludePool)
	exec := tools.NewStubExecutor().WithDefault([]any{})
	o := New(completer, exec, Config{
		AvailableTools:     []string{"search_knowledge", "cloudwatch_alarms", "aws_query"},
		DisableRemediation: true,
	})

	query := "Investigate incident " + incidentID + ": checkout alarms are firing"
	_, err := o.Investigate(context.Background(), query, incidentID)
	require.NoError(t, err)

	knowledgeCalls := exec.CallsTo("search_knowledge")
	require.Len(t, knowledgeCalls, 1)
	q, ok := knowledgeCalls[0].Params["query"].(string)
	require.True(t, ok)
	assert.NotContains(t, q, incidentID)
	assert.NotEmpty(t, q)

	alarmCalls := exec.CallsTo("cloudwatch_alarms")
	require.Len(t, alarmCalls, 1)
	assert.Equal(t, "ALARM", alarmCalls[0].Params["state"])
}

func TestInvestigate_RejectedApprovalSkipsStepAndContinues(t *testing.T) {
	remediation := `{
	  "steps": [
	    {
	      "action": "scale_db_pool",
	      "description": "raise the pool ceiling",
	      "risk_level": "high",
	      "requires_approval": true,
	      "matching_skill": "scale-db-pool"
	    }
	  ]
	}`
	completer := happyPathCompleter().on(mRemediate, remediation)
	exec := tools.NewStubExecutor().WithDefault("ok")

	gate := approval.NewGate(approval.ChannelFunc(
		func(ctx context.Context, req approval.MutationRequest) (approval.ChannelResponse, error) {
			return approval.ChannelResponse{Approved: false, Approver: "oncall"}, nil
		}), approval.Config{})

	o := New(completer, exec, Config{
		AvailableSkills: []string{"scale-db-pool"},
	}, WithApprovalGate(gate))

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)

	assert.Equal(t, 0, gate.ApprovedMutations())
	assert.Empty(t, exec.CallsTo(tools.SkillToolName))
	assert.Equal(t, investigation.PhaseComplete, res.State.Phase)

	require.NotNil(t, res.Remediation)
	require.Len(t, res.Remediation.Steps, 1)
	assert.Equal(t, investigation.StepSkipped, res.Remediation.Steps[0].Status)
}

func TestInvestigate_CancellationReturnsPartialResult(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	completer := newScripted().on(mTriage, triageHigh)
	// Cancel after triage succeeds, before hypothesize.
	completer.on(mHypothesize, hypothesesPool)
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{DisableRemediation: true})
	o.Subscribe(func(e Event) {
		if e.Type == EventTriageComplete {
			cancel()
		}
	})

	res, err := o.Investigate(ctx, "Why is the API slow?", "")
	require.ErrorIs(t, err, context.Canceled)
	require.NotNil(t, res)

	// Cancellation keeps the phase where it was; the run never enters the
	// error phase.
	assert.NotEqual(t, investigation.PhaseError, res.State.Phase)
	assert.NotEqual(t, investigation.PhaseComplete, res.State.Phase)
	require.NotNil(t, res.State.Triage)
	assert.Equal(t, investigation.SeverityHigh, res.State.Triage.Severity)
}

func TestInvestigate_ParseRetryRecovers(t *testing.T) {
	completer := newScripted().
		on(mTriage, "this is not json at all", triageHigh).
		on(mHypothesize, hypothesesPool).
		on(mEvaluate, evalConfirm90).
		on(mConclude, concludePool)
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{DisableRemediation: true})

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)
	assert.Equal(t, investigation.PhaseComplete, res.State.Phase)

	triagePrompts := completer.promptsFor(mTriage)
	require.Len(t, triagePrompts, 2)
	assert.Contains(t, triagePrompts[1], "could not be parsed")
}

func TestInvestigate_ParseFailureTwiceIsFatal(t *testing.T) {
	completer := newScripted().
		on(mTriage, "garbage one", "garbage two")
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{})

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.Error(t, err)
	require.NotNil(t, res)
	assert.Equal(t, investigation.PhaseError, res.State.Phase)
}

func TestInvestigate_ToolFailureBecomesEvidence(t *testing.T) {
	completer := happyPathCompleter()
	exec := tools.NewStubExecutor().
		WithDefault("ok").
		OnError("db_query", fmt.Errorf("connection refused"))
	o := New(completer, exec, Config{DisableRemediation: true})

	var failedQueries []Event
	o.Subscribe(func(e Event) {
		if e.Type == EventQueryComplete && e.Err != "" {
			failedQueries = append(failedQueries, e)
		}
	})

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)
	assert.Equal(t, investigation.PhaseComplete, res.State.Phase)

	require.Len(t, failedQueries, 1)
	assert.Equal(t, "db_query", failedQueries[0].Tool)

	// The failure surfaced to the evaluation prompt as evidence text.
	evalPrompts := completer.promptsFor(mEvaluate)
	require.Len(t, evalPrompts, 1)
	assert.Contains(t, evalPrompts[0], "tool db_query failed: connection refused")
}

func TestCheckpointAndResume(t *testing.T) {
	store := checkpoint.NewFileStore(t.TempDir())

	completer := happyPathCompleter()
	exec := tools.NewStubExecutor().WithDefault("ok")
	o := New(completer, exec, Config{DisableRemediation: true}, WithCheckpointStore(store))

	res, err := o.Investigate(context.Background(), "Why is the API slow?", "")
	require.NoError(t, err)

	id, err := o.Checkpoint(context.Background())
	require.NoError(t, err)
	require.NotEmpty(t, id)

	cp, err := store.Load(context.Background(), res.InvestigationID, id)
	require.NoError(t, err)
	require.NotNil(t, cp)
	assert.Equal(t, investigation.PhaseComplete, cp.Phase)

	// Resume a hand-built mid-investigation checkpoint: one confirmed
	// hypothesis, paused at the conclude phase.
	midCp := &checkpoint.Checkpoint{
		InvestigationID: "inv-resume",
		Phase:           investigation.PhaseConclude,
		Query:           "Why is the API slow?",
		Hypotheses: []investigation.Hypothesis{{
			ID:         "h_1",
			Statement:  "Database connection pool exhausted",
			Category:   investigation.CategoryCapacity,
			Priority:   1,
			Status:     investigation.HypothesisConfirmed,
			Evidence:   investigation.EvidenceStrong,
			Confidence: 90,
		}},
	}
	o2 := New(newScripted().on(mConclude, concludePool), exec,
		Config{DisableRemediation: true})
	res2, err := o2.Resume(context.Background(), midCp)
	require.NoError(t, err)
	assert.Equal(t, "inv-resume", res2.InvestigationID)
	assert.Equal(t, investigation.PhaseComplete, res2.State.Phase)
	assert.Contains(t, res2.RootCause, "connection pool")
}

func TestResume_NilCheckpoint(t *testing.T) {
	o := New(newScripted(), tools.NewStubExecutor(), Config{})
	_, err := o.Resume(context.Background(), nil)
	assert.Error(t, err)
}

func TestAnalyzeLogs(t *testing.T) {
	analysis := `{
	  "pattern_matches": [
	    {"pattern": "connection timeout", "count": 14, "severity": "high", "example": "dial tcp: i/o timeout"}
	  ],
	  "suggested_hypotheses": ["a downstream dependency is timing out"],
	  "summary": "timeouts dominate the error volume"
	}`
	completer := newScripted().on(mLogs, analysis)
	o := New(completer, tools.NewStubExecutor(), Config{})

	la, err := o.AnalyzeLogs(context.Background(), []string{
		"dial tcp: i/o timeout",
		"dial tcp: i/o timeout",
	})
	require.NoError(t, err)
	assert.Equal(t, 2, la.TotalLines)
	require.Len(t, la.PatternMatches, 1)
	assert.Equal(t, "connection timeout", la.PatternMatches[0].Pattern)
}

func TestKnowledgeQueryHelper(t *testing.T) {
	q := knowledgeQuery("Investigate incident ABC123XYZ0: checkout errors", "ABC123XYZ0", "Checkout 5xx spike")
	assert.NotContains(t, q, "ABC123XYZ0")
	assert.Contains(t, q, "Checkout 5xx spike")

	// Title already covered by the query is not appended twice.
	q2 := knowledgeQuery("checkout 5xx spike on payments", "", "checkout 5xx spike")
	assert.Equal(t, 1, strings.Count(strings.ToLower(q2), "checkout 5xx spike"))
}
