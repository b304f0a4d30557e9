package backend

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/sony/gobreaker"
)

// BreakerConfig configures the circuit breaker placed in front of an executor.
type BreakerConfig struct {
	MaxFailures uint32        // consecutive failures before the circuit opens (default 5)
	OpenTimeout time.Duration // time the circuit stays open before probing (default 30s)
	MaxRequests uint32        // probes allowed while half-open (default 3)
}

// DefaultBreakerConfig returns the default breaker configuration.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxFailures: 5,
		OpenTimeout: 30 * time.Second,
		MaxRequests: 3,
	}
}

// BreakerExecutor guards an executor with a gobreaker circuit breaker.
// When the circuit is open, Execute fails immediately with
// gobreaker.ErrOpenState instead of spawning another doomed run.
type BreakerExecutor struct {
	inner Executor
	cb    *gobreaker.CircuitBreaker
}

// NewBreakerExecutor wraps inner with a circuit breaker named name.
func NewBreakerExecutor(name string, inner Executor, cfg BreakerConfig, logger *slog.Logger) *BreakerExecutor {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultBreakerConfig()
	if cfg.MaxFailures == 0 {
		cfg.MaxFailures = def.MaxFailures
	}
	if cfg.OpenTimeout <= 0 {
		cfg.OpenTimeout = def.OpenTimeout
	}
	if cfg.MaxRequests == 0 {
		cfg.MaxRequests = def.MaxRequests
	}

	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        name,
		MaxRequests: cfg.MaxRequests,
		Interval:    0, // never clear counts while closed
		Timeout:     cfg.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.MaxFailures
		},
		OnStateChange: func(name string, from gobreaker.State, to gobreaker.State) {
			logger.Warn("executor circuit breaker changed state",
				"executor_type", name, "from", from.String(), "to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Cancellation is the caller's decision, not an executor fault.
			return err == nil ||
				errors.Is(err, ErrCancelled) ||
				errors.Is(err, context.Canceled) ||
				errors.Is(err, context.DeadlineExceeded)
		},
	})

	return &BreakerExecutor{inner: inner, cb: cb}
}

// Execute runs req through the breaker.
func (b *BreakerExecutor) Execute(ctx context.Context, req Request) (Result, error) {
	out, err := b.cb.Execute(func() (interface{}, error) {
		return b.inner.Execute(ctx, req)
	})
	if err != nil {
		return Result{}, err
	}
	return out.(Result), nil
}

// State reports the breaker state ("closed", "half-open" or "open").
func (b *BreakerExecutor) State() string {
	return b.cb.State().String()
}
