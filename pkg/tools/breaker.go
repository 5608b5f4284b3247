package tools

import (
	"context"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerExecutor wraps an Executor with per-tool circuit breakers so one
// flapping backend cannot stall a whole investigation. Each tool name gets
// its own breaker; an open breaker fails fast and the caller records the
// failure as evidence like any other tool error.
type BreakerExecutor struct {
	inner    Executor
	settings gobreaker.Settings

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// NewBreakerExecutor wraps inner. The settings Name field is used as a
// prefix; ReadyToTrip defaults to five consecutive failures.
func NewBreakerExecutor(inner Executor, settings gobreaker.Settings) *BreakerExecutor {
	if settings.Timeout == 0 {
		settings.Timeout = 30 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		}
	}
	return &BreakerExecutor{
		inner:    inner,
		settings: settings,
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

var _ Executor = (*BreakerExecutor)(nil)

// Execute runs the tool through its circuit breaker.
func (b *BreakerExecutor) Execute(ctx context.Context, name string, params map[string]any) (any, error) {
	return b.breakerFor(name).Execute(func() (any, error) {
		return b.inner.Execute(ctx, name, params)
	})
}

func (b *BreakerExecutor) breakerFor(name string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[name]; ok {
		return cb
	}
	settings := b.settings
	if settings.Name == "" {
		settings.Name = "tool/" + name
	} else {
		settings.Name = settings.Name + "/" + name
	}
	cb := gobreaker.NewCircuitBreaker(settings)
	b.breakers[name] = cb
	return cb
}
