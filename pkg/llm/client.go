// Package llm defines the two LLM capabilities the investigation core
// consumes: a prompt completer for the phase-driven orchestrator and a
// chat client with tool calling for the agent loop. Provider transports
// live behind these interfaces.
package llm

import (
	"context"

	"github.com/opsleuth/sleuth/pkg/tools"
)

// Role identifies the author of a chat message.
type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleTool      Role = "tool"
)

// Message is one turn in a chat conversation. ToolCallID ties a RoleTool
// message back to the assistant call it answers.
type Message struct {
	Role       Role       `json:"role"`
	Content    string     `json:"content"`
	ToolCallID string     `json:"toolCallId,omitempty"`
	ToolCalls  []ToolCall `json:"toolCalls,omitempty"`
}

// ToolCall is one tool invocation requested by the model.
type ToolCall struct {
	ID     string         `json:"id"`
	Name   string         `json:"name"`
	Params map[string]any `json:"params"`
}

// ChatResponse is the model's reply to a chat turn: free-form content,
// zero or more tool calls, or both.
type ChatResponse struct {
	Content   string     `json:"content"`
	ToolCalls []ToolCall `json:"toolCalls"`
}

// Completer is the single-shot capability the orchestrator consumes: one
// prompt in, one text response out. Structured output is the caller's
// concern; the parser layer handles drift.
type Completer interface {
	Complete(ctx context.Context, prompt string) (string, error)
}

// CompleterFunc adapts a function to the Completer interface.
type CompleterFunc func(ctx context.Context, prompt string) (string, error)

func (f CompleterFunc) Complete(ctx context.Context, prompt string) (string, error) {
	return f(ctx, prompt)
}

// ChatClient is the conversational capability the agent loop consumes.
// The tool definitions declare what the model may call on this turn.
type ChatClient interface {
	Chat(ctx context.Context, messages []Message, defs []tools.Definition) (ChatResponse, error)
}

// ChatClientFunc adapts a function to the ChatClient interface.
type ChatClientFunc func(ctx context.Context, messages []Message, defs []tools.Definition) (ChatResponse, error)

func (f ChatClientFunc) Chat(ctx context.Context, messages []Message, defs []tools.Definition) (ChatResponse, error) {
	return f(ctx, messages, defs)
}
