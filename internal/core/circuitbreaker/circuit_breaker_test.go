package circuitbreaker

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/sony/gobreaker"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCircuitBreaker_TripsOnFailures(t *testing.T) {
	cb := New("test", nil)
	boom := errors.New("connection refused")

	for i := 0; i < 3; i++ {
		err := cb.Execute(context.Background(), func() error { return boom })
		require.ErrorIs(t, err, boom)
	}
	assert.Equal(t, gobreaker.StateOpen, cb.State())

	called := false
	err := cb.Execute(context.Background(), func() error {
		called = true
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
	assert.False(t, called)
}

func TestCircuitBreaker_CancelledContext(t *testing.T) {
	cb := New("test", nil)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	err := cb.Execute(ctx, func() error { return nil })
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestSet_OneBreakerPerKey(t *testing.T) {
	s := NewSet(nil)
	assert.Same(t, s.For("planner"), s.For("planner"))
	assert.NotSame(t, s.For("planner"), s.For("executor"))

	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = s.For("planner").Execute(context.Background(), func() error { return boom })
	}
	assert.Equal(t, gobreaker.StateOpen, s.For("planner").State())
	assert.Equal(t, gobreaker.StateClosed, s.For("executor").State())
}

func TestCircuitBreaker_CallerCancelIsNotAFailure(t *testing.T) {
	cb := New("test", nil)
	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error {
			return fmt.Errorf("Get http://worker/execute: %w", context.Canceled)
		})
		require.ErrorIs(t, err, context.Canceled)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
}

func TestCircuitBreaker_NeutralErrors(t *testing.T) {
	cb := New("test", nil)
	slow := fmt.Errorf("Post http://worker/execute: %w", context.DeadlineExceeded)

	for i := 0; i < 5; i++ {
		err := cb.Execute(context.Background(), func() error { return Neutral(slow) })
		assert.Equal(t, slow, err)
	}
	assert.Equal(t, gobreaker.StateClosed, cb.State())
	assert.NoError(t, Neutral(nil))
}

func TestSet_Reset(t *testing.T) {
	s := NewSet(nil)
	boom := errors.New("down")
	for i := 0; i < 3; i++ {
		_ = s.For("planner").Execute(context.Background(), func() error { return boom })
	}
	require.Equal(t, gobreaker.StateOpen, s.For("planner").State())

	s.Reset("planner")
	assert.Equal(t, gobreaker.StateClosed, s.For("planner").State())
	s.Reset("never-seen")
}
