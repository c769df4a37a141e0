package resilience

import (
	"context"
	"errors"
	"time"

	"github.com/lexiqai/voice-intake/internal/observability"
	"github.com/rs/zerolog"
	"github.com/sony/gobreaker"
)

// ErrCircuitOpen is returned when the guarded dependency is failing fast.
var ErrCircuitOpen = errors.New("circuit breaker is open")

// CircuitBreaker guards a single remote dependency. It opens after
// maxFailures consecutive failures and lets one trial call through after
// resetTimeout.
type CircuitBreaker struct {
	name string
	cb   *gobreaker.CircuitBreaker
}

// NewCircuitBreaker creates a new circuit breaker
func NewCircuitBreaker(name string, maxFailures int, resetTimeout time.Duration) *CircuitBreaker {
	if maxFailures < 1 {
		maxFailures = 1
	}
	logger := observability.WithComponent("resilience")

	b := &CircuitBreaker{name: name}
	b.cb = gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Timeout:     resetTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= uint32(maxFailures)
		},
		// A caller that gave up says nothing about the dependency.
		IsSuccessful: func(err error) bool {
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logEvent := logger.Info()
			if to == gobreaker.StateOpen {
				logEvent = logger.Warn()
			}
			logEvent.
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("Circuit breaker state changed")
			observability.UpdateCircuitBreakerState(name, int(to))
		},
	})
	observability.UpdateCircuitBreakerState(name, int(gobreaker.StateClosed))
	return b
}

// Call executes fn with circuit breaker protection. fn is never retried.
// Errors wrapping context.Canceled are returned but not counted as failures.
func (b *CircuitBreaker) Call(fn func() error) error {
	_, err := b.cb.Execute(func() (interface{}, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return ErrCircuitOpen
	}
	if err != nil && !errors.Is(err, context.Canceled) {
		observability.IncrementCircuitBreakerFailures(b.name)
	}
	return err
}

// State returns the current breaker state.
func (b *CircuitBreaker) State() gobreaker.State {
	return b.cb.State()
}

// Name returns the breaker name used in logs and metrics.
func (b *CircuitBreaker) Name() string {
	return b.name
}

// Check is a readiness probe: an open breaker means not ready.
func (b *CircuitBreaker) Check(ctx context.Context) (bool, error) {
	if b.cb.State() == gobreaker.StateOpen {
		return false, ErrCircuitOpen
	}
	return true, nil
}

// MarshalZerologObject lets the breaker be attached to log lines.
func (b *CircuitBreaker) MarshalZerologObject(e *zerolog.Event) {
	counts := b.cb.Counts()
	e.Str("name", b.name).
		Str("state", b.cb.State().String()).
		Uint32("consecutive_failures", counts.ConsecutiveFailures)
}
