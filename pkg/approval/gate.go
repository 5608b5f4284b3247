// Package approval mediates every state-changing operation: risk
// classification, per-session mutation budgets, cooldowns on critical
// operations, and a pluggable approval channel.
package approval

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/opsleuth/sleuth/pkg/investigation"
)

// DefaultMaxMutationsPerSession bounds approved mutations per investigation.
const DefaultMaxMutationsPerSession = 10

// DefaultCriticalCooldown is the minimum spacing between two approved
// critical mutations.
const DefaultCriticalCooldown = 5 * time.Minute

// MutationRequest describes a state-changing operation awaiting a decision.
type MutationRequest struct {
	ID            string
	Investigation string
	Operation     string
	Resource      string
	Risk          investigation.RiskLevel
	Description   string
	RequestedAt   time.Time
}

// Outcome discriminates gate decisions.
type Outcome string

const (
	OutcomeApproved     Outcome = "approved"
	OutcomeAutoApproved Outcome = "auto_approved"
	OutcomeRejected     Outcome = "rejected"
	OutcomeBlocked      Outcome = "blocked"
)

// BlockReason explains a blocked decision.
type BlockReason string

const (
	BlockBudget   BlockReason = "budget"
	BlockCooldown BlockReason = "cooldown"
)

// Decision is the gate's verdict on a mutation request.
type Decision struct {
	Outcome     Outcome
	Risk        investigation.RiskLevel
	Approver    string
	DecidedAt   time.Time
	BlockReason BlockReason
	RemainingMs int64 // cooldown remainder, only for BlockCooldown
	Reason      string
}

// Approved reports whether the operation may proceed.
func (d Decision) Approved() bool {
	return d.Outcome == OutcomeApproved || d.Outcome == OutcomeAutoApproved
}

// Channel is the injected approval capability. It may block arbitrarily
// long; implementations must honor ctx cancellation.
type Channel interface {
	RequestApproval(ctx context.Context, req MutationRequest) (ChannelResponse, error)
}

// ChannelResponse is what an approval channel returns.
type ChannelResponse struct {
	Approved bool
	Approver string
	At       time.Time
}

// ChannelFunc adapts a function to the Channel interface.
type ChannelFunc func(ctx context.Context, req MutationRequest) (ChannelResponse, error)

func (f ChannelFunc) RequestApproval(ctx context.Context, req MutationRequest) (ChannelResponse, error) {
	return f(ctx, req)
}

// Config tunes a Gate. Zero values fall back to defaults.
type Config struct {
	MaxMutationsPerSession int
	CriticalCooldown       time.Duration
	// AutoApprove lists risk levels that bypass the approval channel.
	AutoApprove []investigation.RiskLevel
}

// Gate enforces mutation policy for one investigation session. Counters and
// approval timestamps are per-gate; concurrent investigations each own a
// disjoint gate.
type Gate struct {
	channel Channel
	cfg     Config
	auto    map[investigation.RiskLevel]bool

	mu            sync.Mutex
	approvedCount int
	lastApproved  map[investigation.RiskLevel]time.Time
	now           func() time.Time
}

// NewGate creates a gate bound to an approval channel. channel may be nil
// only when every applicable risk level is auto-approved; a non-auto
// request with no channel is rejected.
func NewGate(channel Channel, cfg Config) *Gate {
	if cfg.MaxMutationsPerSession <= 0 {
		cfg.MaxMutationsPerSession = DefaultMaxMutationsPerSession
	}
	if cfg.CriticalCooldown <= 0 {
		cfg.CriticalCooldown = DefaultCriticalCooldown
	}
	auto := make(map[investigation.RiskLevel]bool, len(cfg.AutoApprove))
	for _, r := range cfg.AutoApprove {
		auto[r] = true
	}
	return &Gate{
		channel:      channel,
		cfg:          cfg,
		auto:         auto,
		lastApproved: make(map[investigation.RiskLevel]time.Time),
		now:          time.Now,
	}
}

// Authorize decides one mutation request. The budget and cooldown are
// checked before the channel is consulted, so blocked requests never reach
// an approver. Approved decisions consume budget and record the per-risk
// approval timestamp.
func (g *Gate) Authorize(ctx context.Context, req MutationRequest) (Decision, error) {
	if req.ID == "" {
		req.ID = uuid.NewString()
	}
	if req.Risk == "" {
		req.Risk = ClassifyRisk(req.Operation, req.Resource)
	}
	if req.RequestedAt.IsZero() {
		req.RequestedAt = g.now().UTC()
	}

	// Budget and cooldown are evaluated under the lock, but the channel
	// call happens outside it; approvers may take minutes.
	if decision, blocked := g.preflight(req); blocked {
		slog.Info("Mutation blocked",
			"investigation", req.Investigation,
			"operation", req.Operation,
			"reason", decision.BlockReason)
		return decision, nil
	}

	if g.auto[req.Risk] {
		return g.commit(req, Decision{
			Outcome:   OutcomeAutoApproved,
			Risk:      req.Risk,
			DecidedAt: g.now().UTC(),
			Reason:    "risk level auto-approved",
		})
	}

	if g.channel == nil {
		return Decision{
			Outcome:   OutcomeRejected,
			Risk:      req.Risk,
			DecidedAt: g.now().UTC(),
			Reason:    "no approval channel configured",
		}, nil
	}

	if err := ctx.Err(); err != nil {
		return Decision{}, err
	}
	resp, err := g.channel.RequestApproval(ctx, req)
	if err != nil {
		return Decision{}, fmt.Errorf("approval channel: %w", err)
	}
	if !resp.Approved {
		return Decision{
			Outcome:   OutcomeRejected,
			Risk:      req.Risk,
			Approver:  resp.Approver,
			DecidedAt: g.now().UTC(),
			Reason:    "rejected by approver",
		}, nil
	}

	decidedAt := resp.At
	if decidedAt.IsZero() {
		decidedAt = g.now().UTC()
	}
	return g.commit(req, Decision{
		Outcome:   OutcomeApproved,
		Risk:      req.Risk,
		Approver:  resp.Approver,
		DecidedAt: decidedAt,
	})
}

// preflight checks budget and cooldown. Returns (decision, true) when the
// request must be blocked without consulting the channel.
func (g *Gate) preflight(req MutationRequest) (Decision, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.approvedCount >= g.cfg.MaxMutationsPerSession {
		return Decision{
			Outcome:     OutcomeBlocked,
			Risk:        req.Risk,
			BlockReason: BlockBudget,
			DecidedAt:   g.now().UTC(),
			Reason: fmt.Sprintf("mutation budget exhausted (%d/%d)",
				g.approvedCount, g.cfg.MaxMutationsPerSession),
		}, true
	}

	if req.Risk == investigation.RiskCritical {
		if last, ok := g.lastApproved[investigation.RiskCritical]; ok {
			elapsed := g.now().Sub(last)
			if elapsed < g.cfg.CriticalCooldown {
				remaining := g.cfg.CriticalCooldown - elapsed
				return Decision{
					Outcome:     OutcomeBlocked,
					Risk:        req.Risk,
					BlockReason: BlockCooldown,
					RemainingMs: remaining.Milliseconds(),
					DecidedAt:   g.now().UTC(),
					Reason:      fmt.Sprintf("critical cooldown active, %s remaining", remaining.Round(time.Second)),
				}, true
			}
		}
	}
	return Decision{}, false
}

// commit records an approval. Re-checks the budget: another request may
// have been approved while this one was waiting on the channel.
func (g *Gate) commit(req MutationRequest, d Decision) (Decision, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.approvedCount >= g.cfg.MaxMutationsPerSession {
		return Decision{
			Outcome:     OutcomeBlocked,
			Risk:        req.Risk,
			BlockReason: BlockBudget,
			DecidedAt:   g.now().UTC(),
			Reason:      "mutation budget exhausted while awaiting approval",
		}, nil
	}
	g.approvedCount++
	g.lastApproved[req.Risk] = g.now()
	return d, nil
}

// ApprovedMutations returns the number of approved mutations this session.
func (g *Gate) ApprovedMutations() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.approvedCount
}
