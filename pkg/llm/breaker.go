package llm

import (
	"context"
	"time"

	"github.com/sony/gobreaker"

	"github.com/opsleuth/sleuth/pkg/tools"
)

func defaultSettings(name string, settings gobreaker.Settings) gobreaker.Settings {
	if settings.Name == "" {
		settings.Name = name
	}
	if settings.Timeout == 0 {
		settings.Timeout = 60 * time.Second
	}
	if settings.ReadyToTrip == nil {
		settings.ReadyToTrip = func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 3
		}
	}
	return settings
}

// BreakerCompleter wraps a Completer with a circuit breaker so a degraded
// provider fails fast instead of burning the investigation's wall clock.
type BreakerCompleter struct {
	inner   Completer
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerCompleter wraps inner with breaker settings. Zero settings
// fields get sensible defaults.
func NewBreakerCompleter(inner Completer, settings gobreaker.Settings) *BreakerCompleter {
	return &BreakerCompleter{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(defaultSettings("llm/complete", settings)),
	}
}

var _ Completer = (*BreakerCompleter)(nil)

func (b *BreakerCompleter) Complete(ctx context.Context, prompt string) (string, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Complete(ctx, prompt)
	})
	if err != nil {
		return "", err
	}
	return result.(string), nil
}

// BreakerChatClient is the chat-side counterpart of BreakerCompleter.
type BreakerChatClient struct {
	inner   ChatClient
	breaker *gobreaker.CircuitBreaker
}

// NewBreakerChatClient wraps inner with breaker settings.
func NewBreakerChatClient(inner ChatClient, settings gobreaker.Settings) *BreakerChatClient {
	return &BreakerChatClient{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(defaultSettings("llm/chat", settings)),
	}
}

var _ ChatClient = (*BreakerChatClient)(nil)

func (b *BreakerChatClient) Chat(ctx context.Context, messages []Message, defs []tools.Definition) (ChatResponse, error) {
	result, err := b.breaker.Execute(func() (any, error) {
		return b.inner.Chat(ctx, messages, defs)
	})
	if err != nil {
		return ChatResponse{}, err
	}
	return result.(ChatResponse), nil
}
