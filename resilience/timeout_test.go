package resilience

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestNewTimeout_Default(t *testing.T) {
	assert.Equal(t, 5*time.Second, NewTimeout(TimeoutConfig{}).config.Timeout)
}

func TestTimeout_Completes(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})

	assert.NoError(t, to.Execute(context.Background(), succeeding))
	assert.Equal(t, errFetch, to.Execute(context.Background(), failing))
}

func TestTimeout_Expires(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 20 * time.Millisecond})

	start := time.Now()
	err := to.Execute(context.Background(), func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	assert.ErrorIs(t, err, ErrTimeout)
	assert.Less(t, time.Since(start), time.Second, "should return near the deadline")
}

func TestTimeout_IgnoresStuckOperation(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: 20 * time.Millisecond})
	release := make(chan struct{})
	defer close(release)

	err := to.Execute(context.Background(), func(context.Context) error {
		<-release
		return nil
	})
	assert.ErrorIs(t, err, ErrTimeout)
}

func TestTimeout_ParentCancelled(t *testing.T) {
	to := NewTimeout(TimeoutConfig{Timeout: time.Second})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := to.Execute(ctx, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})
	assert.ErrorIs(t, err, context.Canceled)
}
