package health

import (
	"context"
	"fmt"

	"github.com/jonwraymond/calcops/resilience"
)

// CircuitChecker reports a backend's circuit breaker. An open or
// half-open circuit is degraded: the router skips the backend while the
// remaining backends keep serving.
type CircuitChecker struct {
	name    string
	breaker *resilience.CircuitBreaker
}

// NewCircuitChecker creates a checker over cb.
func NewCircuitChecker(name string, cb *resilience.CircuitBreaker) *CircuitChecker {
	return &CircuitChecker{name: name, breaker: cb}
}

// Name returns the checker name.
func (c *CircuitChecker) Name() string { return c.name }

// Check reports the breaker state and window counters.
func (c *CircuitChecker) Check(ctx context.Context) Result {
	if err := ctx.Err(); err != nil {
		return Unhealthy("context cancelled", err)
	}

	m := c.breaker.Metrics()
	details := map[string]any{
		"state":        m.State.String(),
		"requests":     m.Requests,
		"failures":     m.Failures,
		"failure_rate": m.FailureRate,
	}
	if !m.OpenedAt.IsZero() {
		details["opened_at"] = m.OpenedAt
	}

	switch m.State {
	case resilience.StateOpen:
		return Degraded(fmt.Sprintf("circuit open: failure rate %.0f%%", m.FailureRate*100)).WithDetails(details)
	case resilience.StateHalfOpen:
		return Degraded("circuit half-open: probing").WithDetails(details)
	default:
		return Healthy("circuit closed").WithDetails(details)
	}
}
