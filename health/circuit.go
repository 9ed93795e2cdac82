package health

import (
	"context"

	"github.com/jonwraymond/toolgate/resilience"
)

// CircuitChecker reports a dependency by the state of its circuit alone,
// without calling it: closed is healthy, half-open degraded, open
// unhealthy.
type CircuitChecker struct {
	name    string
	metrics func() resilience.CircuitBreakerMetrics
}

// NewCircuitChecker returns a checker named name reading metrics.
func NewCircuitChecker(name string, metrics func() resilience.CircuitBreakerMetrics) *CircuitChecker {
	return &CircuitChecker{name: name, metrics: metrics}
}

func (c *CircuitChecker) Name() string {
	return c.name
}

func (c *CircuitChecker) Check(context.Context) Result {
	m := c.metrics()
	switch m.State {
	case resilience.StateOpen:
		return Unhealthy("circuit open", resilience.ErrCircuitOpen).WithDetails(circuitDetails(m))
	case resilience.StateHalfOpen:
		return Degraded("recovering").WithDetails(circuitDetails(m))
	default:
		return Healthy("available").WithDetails(circuitDetails(m))
	}
}
