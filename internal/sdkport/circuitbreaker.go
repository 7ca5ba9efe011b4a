package sdkport

import (
	"context"
	"fmt"
	"time"

	"github.com/sony/gobreaker"
)

// CircuitBreakerSettings configures the breaker wrapping a Commander.
// Mirrors gobreaker.Settings; kept as its own type so callers don't
// need to import gobreaker directly.
type CircuitBreakerSettings struct {
	MaxRequests  uint32
	Interval     time.Duration
	Timeout      time.Duration
	MinRequests  uint32
	FailureRatio float64
}

// DefaultCircuitBreakerSettings trips once at least half of at least 5
// requests in a 60s window fail, and probes again after 30s.
func DefaultCircuitBreakerSettings() CircuitBreakerSettings {
	return CircuitBreakerSettings{
		MaxRequests:  1,
		Interval:     60 * time.Second,
		Timeout:      30 * time.Second,
		MinRequests:  5,
		FailureRatio: 0.5,
	}
}

// CircuitBreakerCommander wraps a Commander so a struggling SDK
// connection fails fast instead of letting every enforcement call
// block on a dead socket. Every enforcement action — flatten, cancel,
// modify — shares one breaker per account, since they all exercise the
// same outbound connection.
type CircuitBreakerCommander struct {
	inner   Commander
	breaker *gobreaker.CircuitBreaker
}

// NewCircuitBreakerCommander wraps inner with DefaultCircuitBreakerSettings.
func NewCircuitBreakerCommander(inner Commander) *CircuitBreakerCommander {
	return NewCircuitBreakerCommanderWithSettings(inner, DefaultCircuitBreakerSettings())
}

// NewCircuitBreakerCommanderWithSettings wraps inner with explicit settings.
func NewCircuitBreakerCommanderWithSettings(inner Commander, settings CircuitBreakerSettings) *CircuitBreakerCommander {
	st := gobreaker.Settings{
		Name:        "sdk-commander",
		MaxRequests: settings.MaxRequests,
		Interval:    settings.Interval,
		Timeout:     settings.Timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.Requests >= settings.MinRequests &&
				float64(counts.TotalFailures)/float64(counts.Requests) >= settings.FailureRatio
		},
	}
	return &CircuitBreakerCommander{
		inner:   inner,
		breaker: gobreaker.NewCircuitBreaker(st),
	}
}

// State exposes the breaker's current state for health reporting.
func (c *CircuitBreakerCommander) State() gobreaker.State {
	return c.breaker.State()
}

func (c *CircuitBreakerCommander) ClosePosition(ctx context.Context, contractID string, reason string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.ClosePosition(ctx, contractID, reason)
	})
	return wrapBreakerErr(err)
}

func (c *CircuitBreakerCommander) CloseAllPositions(ctx context.Context, reason string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.CloseAllPositions(ctx, reason)
	})
	return wrapBreakerErr(err)
}

func (c *CircuitBreakerCommander) CancelOrder(ctx context.Context, orderID string, reason string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.CancelOrder(ctx, orderID, reason)
	})
	return wrapBreakerErr(err)
}

func (c *CircuitBreakerCommander) ModifyOrder(ctx context.Context, orderID string, updates OrderUpdate, reason string) error {
	_, err := c.breaker.Execute(func() (interface{}, error) {
		return nil, c.inner.ModifyOrder(ctx, orderID, updates, reason)
	})
	return wrapBreakerErr(err)
}

func wrapBreakerErr(err error) error {
	if err == nil {
		return nil
	}
	if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
		return fmt.Errorf("sdk commander unavailable: %w", err)
	}
	return err
}
