package retry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errTransient = errors.New("transient")

func instant(time.Duration) <-chan time.Time {
	ch := make(chan time.Time, 1)
	ch <- time.Now()
	return ch
}

func isTransient(err error) bool { return errors.Is(err, errTransient) }

func TestBackoff(t *testing.T) {
	p := Default(5)
	assert.Equal(t, 500*time.Millisecond, p.Backoff(1))
	assert.Equal(t, time.Second, p.Backoff(2))
	assert.Equal(t, 2*time.Second, p.Backoff(3))
	assert.Equal(t, 8*time.Second, p.Backoff(5))
	assert.Equal(t, 8*time.Second, p.Backoff(10))
}

func TestDo_SucceedsAfterTransient(t *testing.T) {
	p := Default(3)
	p.After = instant

	calls := 0
	err := Do(context.Background(), p, "test", isTransient, func(context.Context) error {
		calls++
		if calls < 3 {
			return errTransient
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestDo_PermanentStopsImmediately(t *testing.T) {
	p := Default(3)
	p.After = instant

	permanent := errors.New("bad request")
	calls := 0
	err := Do(context.Background(), p, "test", isTransient, func(context.Context) error {
		calls++
		return permanent
	})
	assert.ErrorIs(t, err, permanent)
	assert.Equal(t, 1, calls)
}

func TestDo_ExhaustsBudget(t *testing.T) {
	p := Default(2)
	p.After = instant

	calls := 0
	err := Do(context.Background(), p, "test", isTransient, func(context.Context) error {
		calls++
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, 2, calls)
}

func TestDo_ContextCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	p := Default(3)
	p.After = func(time.Duration) <-chan time.Time { return nil }

	calls := 0
	err := Do(ctx, p, "test", isTransient, func(context.Context) error {
		calls++
		cancel()
		return errTransient
	})
	assert.ErrorIs(t, err, context.Canceled)
	assert.Equal(t, 1, calls)
}

func TestDo_ZeroAttemptsRunsOnce(t *testing.T) {
	calls := 0
	_ = Do(context.Background(), Policy{}, "test", isTransient, func(context.Context) error {
		calls++
		return errTransient
	})
	assert.Equal(t, 1, calls)
}

func TestDo_WaitsWithExponentialBackoff(t *testing.T) {
	p := Default(5)
	var waits []time.Duration
	p.After = func(d time.Duration) <-chan time.Time {
		waits = append(waits, d)
		return instant(d)
	}

	err := Do(context.Background(), p, "test", isTransient, func(context.Context) error {
		return errTransient
	})
	assert.ErrorIs(t, err, errTransient)
	assert.Equal(t, []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
	}, waits)
}

func TestDo_PermanentErrorIsUnwrapped(t *testing.T) {
	p := Default(3)
	p.After = instant

	permanent := errors.New("bad request")
	err := Do(context.Background(), p, "test", isTransient, func(context.Context) error {
		return permanent
	})
	assert.Same(t, permanent, err)
}
