// Package knowledge defines the retrieval interface the investigation core
// consumes, plus formatting helpers that turn retrieved bundles into
// prompt-ready context and citation lists.
package knowledge

import "context"

// ChunkType classifies a retrieved knowledge chunk.
type ChunkType string

const (
	TypeRunbook      ChunkType = "runbook"
	TypePostmortem   ChunkType = "postmortem"
	TypeKnownIssue   ChunkType = "known_issue"
	TypeArchitecture ChunkType = "architecture"
)

// Chunk is one ranked fragment of organizational knowledge.
type Chunk struct {
	ID         string    `json:"id"`
	DocumentID string    `json:"documentId"`
	Title      string    `json:"title"`
	Content    string    `json:"content"`
	Type       ChunkType `json:"type"`
	Services   []string  `json:"services,omitempty"`
	Score      float64   `json:"score"`
	SourceURL  string    `json:"sourceUrl,omitempty"`
}

// Query is a retrieval request. Query text must describe symptoms and
// services, never opaque incident identifiers; retrievers match on
// semantic content.
type Query struct {
	Query         string   `json:"query"`
	IncidentID    string   `json:"incidentId,omitempty"`
	Services      []string `json:"services,omitempty"`
	Symptoms      []string `json:"symptoms,omitempty"`
	ErrorMessages []string `json:"errorMessages,omitempty"`
}

// Bundle groups retrieved chunks by document type. Buckets may be empty;
// a zero Bundle is a valid "nothing found" result.
type Bundle struct {
	Runbooks     []Chunk `json:"runbooks"`
	Postmortems  []Chunk `json:"postmortems"`
	Architecture []Chunk `json:"architecture"`
	KnownIssues  []Chunk `json:"knownIssues"`
}

// Empty reports whether the bundle carries no chunks at all.
func (b Bundle) Empty() bool {
	return len(b.Runbooks) == 0 && len(b.Postmortems) == 0 &&
		len(b.Architecture) == 0 && len(b.KnownIssues) == 0
}

// All returns every chunk across buckets, runbooks first.
func (b Bundle) All() []Chunk {
	out := make([]Chunk, 0, len(b.Runbooks)+len(b.Postmortems)+len(b.Architecture)+len(b.KnownIssues))
	out = append(out, b.Runbooks...)
	out = append(out, b.Postmortems...)
	out = append(out, b.Architecture...)
	out = append(out, b.KnownIssues...)
	return out
}

// Retriever is the knowledge-base capability the core consumes. The
// orchestrator only ever reads the returned bundle; ranking, storage, and
// transport are implementation concerns behind this interface.
type Retriever interface {
	Retrieve(ctx context.Context, q Query) (Bundle, error)
}

// RetrieverFunc adapts a function to the Retriever interface.
type RetrieverFunc func(ctx context.Context, q Query) (Bundle, error)

func (f RetrieverFunc) Retrieve(ctx context.Context, q Query) (Bundle, error) {
	return f(ctx, q)
}
