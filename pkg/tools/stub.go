package tools

import (
	"context"
	"sync"
)

// Call records one Execute invocation on a StubExecutor.
type Call struct {
	Name   string
	Params map[string]any
}

// StubExecutor serves canned results keyed by tool name and records every
// call. Unregistered names fall through to a default value, or to an
// UnknownToolError when none is set.
type StubExecutor struct {
	mu      sync.Mutex
	results map[string]any
	errs    map[string]error
	calls   []Call

	Default any
	HasDef  bool
}

// NewStubExecutor creates an empty stub.
func NewStubExecutor() *StubExecutor {
	return &StubExecutor{
		results: make(map[string]any),
		errs:    make(map[string]error),
	}
}

var _ Executor = (*StubExecutor)(nil)

// On sets the canned result for a tool name.
func (s *StubExecutor) On(name string, result any) *StubExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.results[name] = result
	return s
}

// OnError makes a tool name fail with err.
func (s *StubExecutor) OnError(name string, err error) *StubExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.errs[name] = err
	return s
}

// WithDefault sets the fallback result for unregistered names.
func (s *StubExecutor) WithDefault(value any) *StubExecutor {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.Default = value
	s.HasDef = true
	return s
}

// Execute returns the canned result, recording the call.
func (s *StubExecutor) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = append(s.calls, Call{Name: name, Params: params})
	if err, ok := s.errs[name]; ok {
		return nil, err
	}
	if result, ok := s.results[name]; ok {
		return result, nil
	}
	if s.HasDef {
		return s.Default, nil
	}
	return nil, &UnknownToolError{Name: name}
}

// Calls returns a copy of every recorded call, in order.
func (s *StubExecutor) Calls() []Call {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]Call, len(s.calls))
	copy(out, s.calls)
	return out
}

// CallsTo returns recorded calls to one tool name.
func (s *StubExecutor) CallsTo(name string) []Call {
	var out []Call
	for _, c := range s.Calls() {
		if c.Name == name {
			out = append(out, c)
		}
	}
	return out
}
