package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExecutor_Empty(t *testing.T) {
	e := NewExecutor()
	assert.Equal(t, errFetch, e.Execute(context.Background(), failing))
	assert.Nil(t, e.CircuitBreaker())
}

func TestExecutor_TimeoutCountsAgainstCircuit(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1})
	e := NewExecutor(
		WithCircuitBreaker(cb),
		WithTimeout(10*time.Millisecond),
	)
	require.Same(t, cb, e.CircuitBreaker())

	err := e.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Equal(t, StateOpen, stateOf(cb), "timeout should open the circuit")
	assert.Equal(t, ErrCircuitOpen, e.Execute(context.Background(), succeeding))
}

func TestExecutor_RateLimitDoesNotTripCircuit(t *testing.T) {
	clock := newFakeClock()
	cb := NewCircuitBreaker(CircuitBreakerConfig{MaxFailures: 1, Now: clock.Now})
	rl := NewRateLimiter(RateLimiterConfig{Rate: 1, Burst: 1, Now: clock.Now})
	e := NewExecutor(WithRateLimiter(rl), WithCircuitBreaker(cb))

	_ = e.Execute(context.Background(), succeeding)
	require.Equal(t, ErrRateLimitExceeded, e.Execute(context.Background(), succeeding))
	assert.Equal(t, StateClosed, stateOf(cb), "rate limiting must not count as failure")
}
