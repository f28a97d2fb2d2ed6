package llm

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"ollama-mcp-agents/internal/domain"
	"ollama-mcp-agents/internal/infra/config"
)

// Default circuit breaker settings.
const (
	defaultCBMaxFailures uint32        = 5
	defaultCBTimeout     time.Duration = 30 * time.Second
	defaultCBInterval    time.Duration = 60 * time.Second
)

// CircuitBreakerBackend wraps a Backend with circuit breaker protection.
// When the wrapped backend fails repeatedly, the circuit opens and subsequent
// calls fail fast without reaching the server.
type CircuitBreakerBackend struct {
	inner   domain.Backend
	breaker *gobreaker.CircuitBreaker[*domain.ChatResponse]
	logger  *slog.Logger
}

var (
	_ domain.Backend       = (*CircuitBreakerBackend)(nil)
	_ domain.HealthChecker = (*CircuitBreakerBackend)(nil)
)

// NewCircuitBreakerBackend wraps inner with a circuit breaker.
// Zero-valued settings fall back to defaults.
func NewCircuitBreakerBackend(inner domain.Backend, cfg config.CircuitBreakerConfig, logger *slog.Logger) *CircuitBreakerBackend {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultCBMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultCBTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultCBInterval
	}

	cb := gobreaker.NewCircuitBreaker[*domain.ChatResponse](gobreaker.Settings{
		Name:        "llm:" + inner.Name(),
		MaxRequests: 1, // one probe in half-open state
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String(),
			)
		},
		IsSuccessful: func(err error) bool {
			// A caller giving up is not a backend fault.
			return err == nil || errors.Is(err, context.Canceled)
		},
	})

	return &CircuitBreakerBackend{inner: inner, breaker: cb, logger: logger}
}

// Chat implements domain.Backend. Calls are routed through the circuit breaker.
func (b *CircuitBreakerBackend) Chat(ctx context.Context, req domain.ChatRequest) (*domain.ChatResponse, error) {
	resp, err := b.breaker.Execute(func() (*domain.ChatResponse, error) {
		return b.inner.Chat(ctx, req)
	})
	if err != nil {
		counts := b.Counts()
		b.logger.Debug("backend call failed",
			"state", b.State().String(),
			"consecutive_failures", counts.ConsecutiveFailures,
			"error", err,
		)
		if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
			return nil, fmt.Errorf("backend %q circuit open: %w", b.inner.Name(), err)
		}
		return nil, err
	}
	return resp, nil
}

// Name implements domain.Backend.
func (b *CircuitBreakerBackend) Name() string { return b.inner.Name() }

// Ping implements domain.HealthChecker. It bypasses the breaker.
func (b *CircuitBreakerBackend) Ping(ctx context.Context) error {
	hc, ok := b.inner.(domain.HealthChecker)
	if !ok {
		return nil
	}
	return hc.Ping(ctx)
}

// Unwrap returns the protected backend.
func (b *CircuitBreakerBackend) Unwrap() domain.Backend { return b.inner }

// State returns the current circuit breaker state.
func (b *CircuitBreakerBackend) State() gobreaker.State {
	return b.breaker.State()
}

// Counts returns the current circuit breaker failure/success counts.
func (b *CircuitBreakerBackend) Counts() gobreaker.Counts {
	return b.breaker.Counts()
}
