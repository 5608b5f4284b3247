// Package scratchpad stores tool results for one investigation run,
// addressable by stable short IDs, and bounds memory growth by compacting
// full result bodies down to their summaries.
package scratchpad

import (
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// charsPerToken is the approximate number of characters per token for
// English text. Threshold estimation only, not exact token counting.
const charsPerToken = 4

// DefaultThresholdTokens is the token estimate above which Compact evicts
// full result bodies.
const DefaultThresholdTokens = 50000

// EstimateTokens returns an approximate token count for the given text
// using the ~4 chars/token heuristic. Byte length is used, which
// overestimates for multi-byte UTF-8, the safe direction for a soft limit.
func EstimateTokens(text string) int {
	if len(text) == 0 {
		return 0
	}
	return (len(text) + charsPerToken - 1) / charsPerToken
}

// Masker redacts sensitive data from serialized tool results before they
// are retained or shown to the LLM.
type Masker interface {
	Mask(content string) string
}

// Entry is one recorded tool result. Value is nil after eviction; the
// summary is always retained.
type Entry struct {
	ID         string         `json:"id"`
	Tool       string         `json:"tool"`
	Params     map[string]any `json:"params,omitempty"`
	ObservedAt time.Time      `json:"observed_at"`
	Summary    string         `json:"summary"`
	Tokens     int            `json:"tokens"`
	Pinned     bool           `json:"pinned"`
	Evicted    bool           `json:"evicted"`

	raw json.RawMessage
}

// Scratchpad is safe for concurrent use. IDs are never reassigned within a
// run, and IDs() reports every id ever issued even after eviction.
type Scratchpad struct {
	mu      sync.Mutex
	order   []string
	entries map[string]*Entry
	masker  Masker
}

// Option configures a Scratchpad.
type Option func(*Scratchpad)

// WithMasker installs a result masker applied on Record.
func WithMasker(m Masker) Option {
	return func(s *Scratchpad) { s.masker = m }
}

// New creates an empty scratchpad.
func New(opts ...Option) *Scratchpad {
	s := &Scratchpad{entries: make(map[string]*Entry)}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Record stores a full tool result and returns its stable id (6 hex chars).
func (s *Scratchpad) Record(toolName string, params map[string]any, value any) (string, error) {
	raw, err := json.Marshal(value)
	if err != nil {
		return "", fmt.Errorf("failed to serialize result of %s: %w", toolName, err)
	}
	content := string(raw)
	if s.masker != nil {
		content = s.masker.Mask(content)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	id := s.newIDLocked()
	entry := &Entry{
		ID:         id,
		Tool:       toolName,
		Params:     params,
		ObservedAt: time.Now().UTC(),
		Summary:    summarize(toolName, content),
		Tokens:     EstimateTokens(content),
		raw:        json.RawMessage(content),
	}
	s.entries[id] = entry
	s.order = append(s.order, id)
	return id, nil
}

// newIDLocked generates a 6-hex-char id unique within this run.
func (s *Scratchpad) newIDLocked() string {
	for {
		buf := make([]byte, 3)
		if _, err := rand.Read(buf); err != nil {
			// crypto/rand read failures are not recoverable here; fall back
			// to a counter-derived id so the run can proceed.
			return fmt.Sprintf("%06x", len(s.order)+1)
		}
		id := hex.EncodeToString(buf)
		if _, exists := s.entries[id]; !exists {
			return id
		}
	}
}

// Get retrieves the full result value. ok is false only for ids that were
// never issued; an evicted id returns (nil, true).
func (s *Scratchpad) Get(id string) (any, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	entry, exists := s.entries[id]
	if !exists {
		return nil, false
	}
	if entry.Evicted || entry.raw == nil {
		return nil, true
	}
	var value any
	if err := json.Unmarshal(entry.raw, &value); err != nil {
		slog.Warn("Failed to decode scratchpad entry", "id", id, "error", err)
		return nil, true
	}
	return value, true
}

// Entry returns the metadata (and summary) for an id.
func (s *Scratchpad) Entry(id string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[id]
	if !exists {
		return Entry{}, false
	}
	return *entry, true
}

// IDs returns every id ever issued in this run, in issue order. Evicted
// entries are included; only their bodies are gone.
func (s *Scratchpad) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.order...)
}

// Summaries returns the compact one-line summaries of the most recent n
// entries (all entries when n <= 0), oldest first.
func (s *Scratchpad) Summaries(n int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	start := 0
	if n > 0 && len(s.order) > n {
		start = len(s.order) - n
	}
	out := make([]string, 0, len(s.order)-start)
	for _, id := range s.order[start:] {
		entry := s.entries[id]
		out = append(out, fmt.Sprintf("[%s] %s", id, entry.Summary))
	}
	return out
}

// Pin marks an entry as exempt from compaction.
func (s *Scratchpad) Pin(id string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	entry, exists := s.entries[id]
	if !exists {
		return false
	}
	entry.Pinned = true
	return true
}

// EstimatedTokens returns the current token estimate across retained bodies
// and summaries.
func (s *Scratchpad) EstimatedTokens() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.estimatedTokensLocked()
}

func (s *Scratchpad) estimatedTokensLocked() int {
	total := 0
	for _, entry := range s.entries {
		if entry.Evicted {
			total += EstimateTokens(entry.Summary)
		} else {
			total += entry.Tokens
		}
	}
	return total
}

// Compact evicts the oldest non-pinned full result bodies, in issue order,
// until the token estimate drops to budgetTokens or below. Summaries and
// ids survive eviction; Get on an evicted id returns (nil, true).
// Returns the ids evicted by this call.
func (s *Scratchpad) Compact(budgetTokens int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	if budgetTokens <= 0 {
		budgetTokens = DefaultThresholdTokens
	}

	var evicted []string
	for _, id := range s.order {
		if s.estimatedTokensLocked() <= budgetTokens {
			break
		}
		entry := s.entries[id]
		if entry.Pinned || entry.Evicted {
			continue
		}
		entry.raw = nil
		entry.Evicted = true
		evicted = append(evicted, id)
	}
	if len(evicted) > 0 {
		slog.Debug("Scratchpad compacted",
			"evicted", len(evicted),
			"remaining_tokens", s.estimatedTokensLocked())
	}
	return evicted
}
