package observability

import (
	"context"

	"github.com/Alexander-D-Karpov/huddle/internal/circuitbreaker"
)

// PingCheck reports a required dependency: any error makes the service
// unhealthy.
func PingCheck(ping func(context.Context) error) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		if err := ping(ctx); err != nil {
			return StatusUnhealthy, "", err
		}
		return StatusHealthy, "", nil
	}
}

// OptionalPingCheck reports a dependency the service can run without; a
// failure only degrades it.
func OptionalPingCheck(ping func(context.Context) error) HealthCheck {
	return func(ctx context.Context) (HealthStatus, string, error) {
		if err := ping(ctx); err != nil {
			return StatusDegraded, err.Error(), nil
		}
		return StatusHealthy, "", nil
	}
}

// BreakerCheck reports degraded while the breaker is not closed.
func BreakerCheck(cb *circuitbreaker.CircuitBreaker) HealthCheck {
	return func(context.Context) (HealthStatus, string, error) {
		state := cb.GetState()
		if state != circuitbreaker.StateClosed {
			return StatusDegraded, "circuit " + state.String(), nil
		}
		return StatusHealthy, "", nil
	}
}
