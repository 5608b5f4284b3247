// Package agent implements the free-form query loop: iterative LLM tool
// calling over a bounded context window, with scratchpad-backed drill-down
// and organizational knowledge woven into the system prompt. It is the
// entry point for ad-hoc questions; the orchestrator package owns full
// hypothesis-driven investigations.
package agent

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/opsleuth/sleuth/pkg/knowledge"
	"github.com/opsleuth/sleuth/pkg/llm"
	"github.com/opsleuth/sleuth/pkg/metrics"
	"github.com/opsleuth/sleuth/pkg/prompt"
	"github.com/opsleuth/sleuth/pkg/scratchpad"
	"github.com/opsleuth/sleuth/pkg/tools"
)

// DefaultMaxIterations bounds the chat loop.
const DefaultMaxIterations = 10

// DefaultContextThresholdTokens triggers scratchpad compaction.
const DefaultContextThresholdTokens = 8000

// Config tunes one agent. Zero values fall back to defaults.
type Config struct {
	MaxIterations          int
	ContextThresholdTokens int
	// AvailableSkills lists automated workflows mentioned in the system
	// prompt.
	AvailableSkills []string
}

func (c Config) withDefaults() Config {
	if c.MaxIterations <= 0 {
		c.MaxIterations = DefaultMaxIterations
	}
	if c.ContextThresholdTokens <= 0 {
		c.ContextThresholdTokens = DefaultContextThresholdTokens
	}
	return c
}

// EventType discriminates agent events.
type EventType string

const (
	EventToolCall   EventType = "tool_call"
	EventToolResult EventType = "tool_result"
	EventCompaction EventType = "compaction"
	EventDone       EventType = "done"
	EventError      EventType = "error"
)

// Event is one observable step of an agent run.
type Event struct {
	Type       EventType
	At         time.Time
	Tool       string
	ResultID   string
	EvictedIDs []string
	Answer     string
	Err        string
}

// Subscriber observes agent events in emission order.
type Subscriber func(Event)

// Agent runs one conversation at a time. Create a fresh instance per
// concurrent conversation; each owns a disjoint scratchpad.
type Agent struct {
	cfg       Config
	chat      llm.ChatClient
	registry  *tools.Registry
	retriever knowledge.Retriever
	pad       *scratchpad.Scratchpad
	met       *metrics.Metrics

	mu   sync.Mutex
	subs []Subscriber
}

// Option configures an Agent.
type Option func(*Agent)

// WithRetriever enables knowledge retrieval on the first turn.
func WithRetriever(r knowledge.Retriever) Option {
	return func(a *Agent) { a.retriever = r }
}

// WithScratchpad substitutes a caller-built scratchpad, typically to
// install a masker.
func WithScratchpad(pad *scratchpad.Scratchpad) Option {
	return func(a *Agent) { a.pad = pad }
}

// WithMetrics records agent metrics.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Agent) { a.met = m }
}

// New creates an agent over a chat client and a tool registry. The
// drill-down tools are registered on the registry when absent.
func New(chat llm.ChatClient, registry *tools.Registry, cfg Config, opts ...Option) *Agent {
	a := &Agent{
		cfg:      cfg.withDefaults(),
		chat:     chat,
		registry: registry,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.pad == nil {
		a.pad = scratchpad.New()
	}
	if !registry.Has(tools.GetFullResultToolName) {
		tools.RegisterDrillDown(registry, a.pad)
	}
	return a
}

// Subscribe registers a subscriber for all subsequent events.
func (a *Agent) Subscribe(s Subscriber) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.subs = append(a.subs, s)
}

func (a *Agent) emit(e Event) {
	if e.At.IsZero() {
		e.At = time.Now().UTC()
	}
	a.mu.Lock()
	subs := append([]Subscriber(nil), a.subs...)
	a.mu.Unlock()
	for _, s := range subs {
		s(e)
	}
}

// Run answers a free-form query. The loop calls the chat model, fans out
// requested tool calls, and feeds compact result summaries back until the
// model stops calling tools or the iteration budget runs out; the final
// answer is then synthesized from the gathered evidence and emitted as a
// done event.
func (a *Agent) Run(ctx context.Context, query string) (string, error) {
	bundle := a.retrieveKnowledge(ctx, query)

	system := prompt.AgentSystem(a.registry.Definitions(), a.cfg.AvailableSkills,
		knowledge.FormatBundle(bundle))
	messages := []llm.Message{
		{Role: llm.RoleSystem, Content: system},
		{Role: llm.RoleUser, Content: query},
	}

	for i := 0; i < a.cfg.MaxIterations; i++ {
		if err := ctx.Err(); err != nil {
			return a.fail(err)
		}
		resp, err := a.chat.Chat(ctx, messages, a.registry.Definitions())
		a.met.RecordLLMCall("agent_chat", err)
		if err != nil {
			return a.fail(fmt.Errorf("chat turn %d: %w", i+1, err))
		}

		if len(resp.ToolCalls) == 0 {
			return a.finalAnswer(ctx, query, bundle)
		}

		messages = append(messages, llm.Message{
			Role:      llm.RoleAssistant,
			Content:   resp.Content,
			ToolCalls: resp.ToolCalls,
		})
		toolMsgs, err := a.executeToolCalls(ctx, resp.ToolCalls)
		if err != nil {
			return a.fail(err)
		}
		messages = append(messages, toolMsgs...)

		if evicted := a.maybeCompact(); len(evicted) > 0 {
			if a.met != nil {
				a.met.ScratchpadEvictions.Add(float64(len(evicted)))
			}
			a.emit(Event{Type: EventCompaction, EvictedIDs: evicted})
		}
	}

	// Budget exhausted; answer with whatever was gathered.
	return a.finalAnswer(ctx, query, bundle)
}

// retrieveKnowledge runs the first-turn knowledge lookup. Retrieval
// failures degrade to an empty bundle; the agent still has its tools.
func (a *Agent) retrieveKnowledge(ctx context.Context, query string) knowledge.Bundle {
	if a.retriever == nil {
		return knowledge.Bundle{}
	}
	bundle, err := a.retriever.Retrieve(ctx, knowledge.Query{Query: query})
	if err != nil {
		slog.Warn("Knowledge retrieval failed", "error", err)
		return knowledge.Bundle{}
	}
	return bundle
}

// executeToolCalls fans the batch out concurrently and joins before the
// next chat turn. Scratchpad ids are assigned in tool-call order after the
// join, so prompts stay reproducible regardless of completion order.
func (a *Agent) executeToolCalls(ctx context.Context, calls []llm.ToolCall) ([]llm.Message, error) {
	type outcome struct {
		result any
		err    error
	}
	outcomes := make([]outcome, len(calls))

	g, gctx := errgroup.WithContext(ctx)
	for i, call := range calls {
		a.emit(Event{Type: EventToolCall, Tool: call.Name})
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			result, err := a.registry.Execute(gctx, call.Name, call.Params)
			a.met.RecordTool(call.Name, err)
			outcomes[i] = outcome{result: result, err: err}
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	msgs := make([]llm.Message, 0, len(calls))
	for i, call := range calls {
		out := outcomes[i]
		if out.err != nil {
			content := fmt.Sprintf("tool %s failed: %s", call.Name, out.err)
			a.emit(Event{Type: EventToolResult, Tool: call.Name, Err: out.err.Error()})
			msgs = append(msgs, llm.Message{
				Role: llm.RoleTool, ToolCallID: call.ID, Content: content,
			})
			continue
		}

		id, rerr := a.pad.Record(call.Name, call.Params, out.result)
		if rerr != nil {
			return nil, rerr
		}
		entry, _ := a.pad.Entry(id)
		a.emit(Event{Type: EventToolResult, Tool: call.Name, ResultID: id})
		msgs = append(msgs, llm.Message{
			Role:       llm.RoleTool,
			ToolCallID: call.ID,
			Content:    fmt.Sprintf("[%s] %s", id, entry.Summary),
		})
	}
	return msgs, nil
}

// maybeCompact evicts oldest unpinned scratchpad entries once the
// estimated token count crosses the threshold.
func (a *Agent) maybeCompact() []string {
	if a.pad.EstimatedTokens() <= a.cfg.ContextThresholdTokens {
		return nil
	}
	return a.pad.Compact(a.cfg.ContextThresholdTokens)
}

// finalAnswer synthesizes the answer from the accumulated summaries and
// appends the deduplicated knowledge citations.
func (a *Agent) finalAnswer(ctx context.Context, query string, bundle knowledge.Bundle) (string, error) {
	if err := ctx.Err(); err != nil {
		return a.fail(err)
	}
	resp, err := a.chat.Chat(ctx, []llm.Message{
		{Role: llm.RoleUser, Content: prompt.FinalAnswer(query, a.pad.Summaries(0))},
	}, nil)
	a.met.RecordLLMCall("agent_final", err)
	if err != nil {
		return a.fail(fmt.Errorf("final answer: %w", err))
	}

	answer := resp.Content + knowledge.FormatCitations(knowledge.Citations(bundle))
	a.emit(Event{Type: EventDone, Answer: answer})
	return answer, nil
}

func (a *Agent) fail(err error) (string, error) {
	kind := "fatal"
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		kind = "cancelled"
	}
	a.emit(Event{Type: EventError, Err: kind + ": " + err.Error()})
	return "", err
}
