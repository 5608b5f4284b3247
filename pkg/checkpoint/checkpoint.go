// Package checkpoint persists immutable investigation snapshots so a run
// can be suspended and resumed. Stores are keyed by investigation id plus
// checkpoint id; reads tolerate missing or corrupt records by returning
// nil rather than failing the investigation.
package checkpoint

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"time"

	"github.com/opsleuth/sleuth/pkg/investigation"
)

// DefaultMaxPerInvestigation bounds retained checkpoints per investigation;
// older ones are pruned on save.
const DefaultMaxPerInvestigation = 50

// Checkpoint is a value snapshot of one investigation at a point in time.
// Scratchpad bodies are never captured, only their ids; a resumed run
// treats drill-down on those ids returning null as expected.
type Checkpoint struct {
	ID              string                             `json:"id"`
	InvestigationID string                             `json:"investigation_id"`
	Seq             int                                `json:"seq"`
	Phase           investigation.Phase                `json:"phase"`
	Query           string                             `json:"query"`
	IncidentID      string                             `json:"incident_id,omitempty"`
	Hypotheses      []investigation.Hypothesis         `json:"hypotheses,omitempty"`
	Evaluations     []investigation.EvidenceEvaluation `json:"evaluations,omitempty"`
	Triage          *investigation.TriageResult        `json:"triage,omitempty"`
	Conclusion      *investigation.Conclusion          `json:"conclusion,omitempty"`
	Remediation     *investigation.RemediationPlan     `json:"remediation,omitempty"`
	Services        []string                           `json:"services,omitempty"`
	Symptoms        []string                           `json:"symptoms,omitempty"`
	ScratchpadIDs   []string                           `json:"scratchpad_ids,omitempty"`
	RootCause       string                             `json:"root_cause,omitempty"`
	Iterations      int                                `json:"iterations"`
	CreatedAt       time.Time                          `json:"created_at"`
}

// Entry is a listing row: enough to pick a checkpoint without loading it.
type Entry struct {
	ID        string              `json:"id"`
	Seq       int                 `json:"seq"`
	Phase     investigation.Phase `json:"phase"`
	CreatedAt time.Time           `json:"created_at"`
}

// Store is the checkpoint persistence contract. Load and LoadLatest return
// (nil, nil) for missing or unreadable checkpoints; List skips unreadable
// entries. Writes for one investigation are serialized by the store.
type Store interface {
	Save(ctx context.Context, cp Checkpoint) (string, error)
	Load(ctx context.Context, investigationID, checkpointID string) (*Checkpoint, error)
	LoadLatest(ctx context.Context, investigationID string) (*Checkpoint, error)
	List(ctx context.Context, investigationID string) ([]Entry, error)
	ListInvestigations(ctx context.Context) ([]string, error)
	Delete(ctx context.Context, investigationID, checkpointID string) error
	DeleteAll(ctx context.Context, investigationID string) error
}

// GenerateCheckpointID returns a 12-hex-character id from crypto/rand.
func GenerateCheckpointID() string {
	var b [6]byte
	if _, err := rand.Read(b[:]); err != nil {
		// crypto/rand never fails on supported platforms
		panic(err)
	}
	return hex.EncodeToString(b[:])
}

// Capture snapshots an investigation plus the scratchpad ids it references.
// The returned checkpoint carries value copies; later machine mutations do
// not leak into it.
func Capture(inv *investigation.Investigation, scratchpadIDs []string) Checkpoint {
	cp := Checkpoint{
		InvestigationID: inv.ID,
		Phase:           inv.Phase,
		Query:           inv.Query,
		IncidentID:      inv.IncidentID,
		Iterations:      inv.Iterations,
		ScratchpadIDs:   append([]string(nil), scratchpadIDs...),
	}
	for _, h := range inv.Hypotheses {
		cp.Hypotheses = append(cp.Hypotheses, *h)
	}
	cp.Evaluations = append(cp.Evaluations, inv.Evaluations...)
	if inv.Triage != nil {
		t := *inv.Triage
		cp.Triage = &t
		cp.Services = append([]string(nil), t.AffectedServices...)
		cp.Symptoms = append([]string(nil), t.Symptoms...)
	}
	if inv.Conclusion != nil {
		c := *inv.Conclusion
		cp.Conclusion = &c
		cp.RootCause = c.RootCause
	}
	if inv.Remediation != nil {
		r := *inv.Remediation
		r.Steps = append([]investigation.RemediationStep(nil), inv.Remediation.Steps...)
		cp.Remediation = &r
	}
	return cp
}

// Investigation reconstructs the investigation aggregate this checkpoint
// captured, suitable for Machine.Restore. Scratchpad bodies are gone; only
// the id references survive.
func (cp *Checkpoint) Investigation() *investigation.Investigation {
	inv := &investigation.Investigation{
		ID:          cp.InvestigationID,
		Query:       cp.Query,
		IncidentID:  cp.IncidentID,
		Phase:       cp.Phase,
		Iterations:  cp.Iterations,
		Triage:      cp.Triage,
		Conclusion:  cp.Conclusion,
		Remediation: cp.Remediation,
		Evaluations: append([]investigation.EvidenceEvaluation(nil), cp.Evaluations...),
	}
	for i := range cp.Hypotheses {
		h := cp.Hypotheses[i]
		inv.Hypotheses = append(inv.Hypotheses, &h)
	}
	return inv
}
