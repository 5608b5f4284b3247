// Package tools defines the tool-execution capability the investigation
// core consumes, a registry for declaring tool schemas to the LLM, and the
// scratchpad-backed drill-down tools.
package tools

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// Executor runs a named tool with a parameter bag and returns a JSON-shaped
// value. Implementations own their timeouts and retries; callers treat
// errors as evidence, not as fatal. Calls to distinct tool names may run
// concurrently.
type Executor interface {
	Execute(ctx context.Context, name string, params map[string]any) (any, error)
}

// ExecutorFunc adapts a function to the Executor interface.
type ExecutorFunc func(ctx context.Context, name string, params map[string]any) (any, error)

func (f ExecutorFunc) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	return f(ctx, name, params)
}

// Definition declares one tool to the LLM: its name, what it does, and a
// JSON-schema-shaped parameter description.
type Definition struct {
	Name        string         `json:"name"`
	Description string         `json:"description"`
	Parameters  map[string]any `json:"parameters,omitempty"`
}

// Registry maps tool names to handlers and carries the definitions the LLM
// sees. It is itself an Executor.
type Registry struct {
	mu       sync.RWMutex
	handlers map[string]ExecutorFunc
	defs     map[string]Definition
}

// NewRegistry creates an empty tool registry.
func NewRegistry() *Registry {
	return &Registry{
		handlers: make(map[string]ExecutorFunc),
		defs:     make(map[string]Definition),
	}
}

var _ Executor = (*Registry)(nil)

// Register binds a handler to a tool definition, replacing any previous
// binding for the same name.
func (r *Registry) Register(def Definition, handler ExecutorFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.handlers[def.Name] = handler
	r.defs[def.Name] = def
}

// Names returns the registered tool names, sorted.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	names := make([]string, 0, len(r.handlers))
	for name := range r.handlers {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Definitions returns all tool definitions sorted by name, the order the
// LLM sees them in.
func (r *Registry) Definitions() []Definition {
	r.mu.RLock()
	defer r.mu.RUnlock()
	defs := make([]Definition, 0, len(r.defs))
	for _, d := range r.defs {
		defs = append(defs, d)
	}
	sort.Slice(defs, func(i, j int) bool { return defs[i].Name < defs[j].Name })
	return defs
}

// Has reports whether a tool name is registered.
func (r *Registry) Has(name string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.handlers[name]
	return ok
}

// Execute dispatches to the registered handler.
func (r *Registry) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	r.mu.RLock()
	handler, ok := r.handlers[name]
	r.mu.RUnlock()
	if !ok {
		return nil, &UnknownToolError{Name: name}
	}
	return handler(ctx, name, params)
}

// UnknownToolError is returned when a tool name has no registered handler.
type UnknownToolError struct {
	Name string
}

func (e *UnknownToolError) Error() string {
	return fmt.Sprintf("unknown tool %q", e.Name)
}
