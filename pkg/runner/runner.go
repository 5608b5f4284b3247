// Package runner manages concurrent investigations: each submission gets
// its own orchestrator, goroutine, and cancellable context, tracked in a
// registry for manual cancellation and graceful shutdown.
package runner

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"sync"

	"github.com/google/uuid"

	"github.com/opsleuth/sleuth/pkg/orchestrator"
)

// ErrShuttingDown is returned by Submit after Stop has been called.
var ErrShuttingDown = errors.New("runner: shutting down")

// ErrCapacity is returned by Submit when MaxConcurrent runs are active.
var ErrCapacity = errors.New("runner: too many active investigations")

// DefaultMaxConcurrent bounds simultaneously running investigations.
const DefaultMaxConcurrent = 8

// Factory builds one orchestrator per submission. Orchestrators are
// single-use; each run owns a disjoint machine, scratchpad, and approval
// counters.
type Factory func() *orchestrator.Orchestrator

// Config tunes a Runner. Zero values fall back to defaults.
type Config struct {
	MaxConcurrent int
}

// Done receives the outcome of a finished run. The result is partial when
// err is non-nil.
type Done func(handle string, res *orchestrator.Result, err error)

// Runner tracks active investigations by handle. Handles are assigned at
// submission; the investigation id itself is available on the result.
type Runner struct {
	factory Factory
	cfg     Config

	mu      sync.RWMutex
	active  map[string]context.CancelFunc
	stopped bool
	wg      sync.WaitGroup
}

// New creates a runner over an orchestrator factory.
func New(factory Factory, cfg Config) *Runner {
	if cfg.MaxConcurrent <= 0 {
		cfg.MaxConcurrent = DefaultMaxConcurrent
	}
	return &Runner{
		factory: factory,
		cfg:     cfg,
		active:  make(map[string]context.CancelFunc),
	}
}

// Submit launches an investigation asynchronously and returns its handle.
// done is invoked exactly once from the run goroutine. The run detaches
// from ctx; cancel through Cancel or Stop.
func (r *Runner) Submit(query, incidentID string, done Done) (string, error) {
	handle := uuid.NewString()
	runCtx, cancel := context.WithCancel(context.Background())

	// Registration and the stopped/capacity checks are one critical
	// section, so Stop cannot slip between the check and wg.Add.
	r.mu.Lock()
	if r.stopped {
		r.mu.Unlock()
		cancel()
		return "", ErrShuttingDown
	}
	if len(r.active) >= r.cfg.MaxConcurrent {
		r.mu.Unlock()
		cancel()
		return "", ErrCapacity
	}
	r.active[handle] = cancel
	r.wg.Add(1)
	r.mu.Unlock()

	slog.Info("Investigation submitted", "handle", handle, "incident", incidentID)

	go func() {
		defer r.wg.Done()

		res, err := r.factory().Investigate(runCtx, query, incidentID)
		// Deregister before notifying, so a handle observed via done is
		// never still cancellable.
		r.release(handle, cancel)
		if done != nil {
			done(handle, res, err)
		}
	}()
	return handle, nil
}

func (r *Runner) release(handle string, cancel context.CancelFunc) {
	cancel()
	r.mu.Lock()
	delete(r.active, handle)
	r.mu.Unlock()
}

// Cancel stops the run for a handle. Returns false when no such run is
// active.
func (r *Runner) Cancel(handle string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if cancel, ok := r.active[handle]; ok {
		cancel()
		return true
	}
	return false
}

// ActiveHandles returns the handles of running investigations, sorted.
func (r *Runner) ActiveHandles() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	handles := make([]string, 0, len(r.active))
	for h := range r.active {
		handles = append(handles, h)
	}
	sort.Strings(handles)
	return handles
}

// Stop rejects new submissions, cancels every active run, and waits for
// the run goroutines to drain. Safe to call multiple times.
func (r *Runner) Stop() {
	r.mu.Lock()
	r.stopped = true
	for _, cancel := range r.active {
		cancel()
	}
	r.mu.Unlock()

	r.wg.Wait()
	slog.Info("Runner stopped")
}
