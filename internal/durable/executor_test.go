// internal/durable/executor_test.go
package durable

import (
	"context"
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestExecutor() (*Executor, *[]time.Duration) {
	sleeps := &[]time.Duration{}
	e := NewExecutor(zerolog.Nop())
	e.sleep = func(ctx context.Context, d time.Duration) error {
		*sleeps = append(*sleeps, d)
		return nil
	}
	return e, sleeps
}

func TestExecutorSucceedsFirstAttempt(t *testing.T) {
	e, sleeps := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "op", DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
}

func TestExecutorRetriesWithBackoff(t *testing.T) {
	e, sleeps := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "op", DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})

	require.NoError(t, err)
	assert.Equal(t, 3, calls)
	assert.Equal(t, []time.Duration{200 * time.Millisecond, 400 * time.Millisecond}, *sleeps)
}

func TestExecutorExhaustsAttempts(t *testing.T) {
	e, _ := newTestExecutor()

	calls := 0
	err := e.Execute(context.Background(), "op", DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		return errors.New("still broken")
	})

	require.Error(t, err)
	assert.Equal(t, DefaultRetryPolicy.MaxAttempts, calls)
	assert.Contains(t, err.Error(), "exhausted 3 attempts")
}

func TestExecutorNonRetryableStopsImmediately(t *testing.T) {
	e, sleeps := newTestExecutor()

	calls := 0
	rejected := errors.New("payment declined")
	err := e.Execute(context.Background(), "op", DefaultRetryPolicy, func(ctx context.Context) error {
		calls++
		return NonRetryable(rejected)
	})

	require.Error(t, err)
	assert.Equal(t, 1, calls)
	assert.Empty(t, *sleeps)
	assert.True(t, IsNonRetryable(err))
	assert.ErrorIs(t, err, rejected)
}

func TestExecutorBackoffCapsAtMaxInterval(t *testing.T) {
	e, sleeps := newTestExecutor()

	policy := RetryPolicy{
		InitialInterval:    time.Second,
		BackoffCoefficient: 10,
		MaxInterval:        2 * time.Second,
		MaxAttempts:        4,
	}
	_ = e.Execute(context.Background(), "op", policy, func(ctx context.Context) error {
		return errors.New("transient")
	})

	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 2 * time.Second}, *sleeps)
}

func TestExecuteWithHeartbeatCompletes(t *testing.T) {
	e := NewExecutor(zerolog.Nop())

	err := e.ExecuteWithHeartbeat(context.Background(), "long", time.Second, time.Minute,
		func(ctx context.Context, beat func()) error {
			beat()
			return nil
		})
	assert.NoError(t, err)
}

func TestExecuteWithHeartbeatTimesOutWithoutBeats(t *testing.T) {
	e := NewExecutor(zerolog.Nop())

	err := e.ExecuteWithHeartbeat(context.Background(), "long", 20*time.Millisecond, time.Minute,
		func(ctx context.Context, beat func()) error {
			<-ctx.Done()
			return ctx.Err()
		})
	assert.ErrorIs(t, err, ErrHeartbeatTimeout)
}

func TestExecuteWithHeartbeatBeatsKeepItAlive(t *testing.T) {
	e := NewExecutor(zerolog.Nop())

	err := e.ExecuteWithHeartbeat(context.Background(), "long", 50*time.Millisecond, time.Minute,
		func(ctx context.Context, beat func()) error {
			for i := 0; i < 5; i++ {
				time.Sleep(20 * time.Millisecond)
				beat()
			}
			return nil
		})
	assert.NoError(t, err)
}

func TestExecuteWithHeartbeatDeadline(t *testing.T) {
	e := NewExecutor(zerolog.Nop())

	err := e.ExecuteWithHeartbeat(context.Background(), "long", 10*time.Millisecond, 30*time.Millisecond,
		func(ctx context.Context, beat func()) error {
			for {
				select {
				case <-ctx.Done():
					return ctx.Err()
				case <-time.After(5 * time.Millisecond):
					beat()
				}
			}
		})
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}
