package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var errBackend = errors.New("backend down")

func failN(cb *CircuitBreaker, n int) {
	for i := 0; i < n; i++ {
		_ = cb.Execute(context.Background(), func(_ context.Context) error { return errBackend })
	}
}

func TestCircuitBreaker_ClosedPassesThrough(t *testing.T) {
	cb := NewCircuitBreaker(DefaultCircuitBreakerConfig())

	calls := 0
	err := cb.Execute(context.Background(), func(_ context.Context) error {
		calls++
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 1, calls)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_OpensAfterThreshold(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3, ResetTimeout: time.Minute})

	failN(cb, 3)
	assert.Equal(t, CircuitOpen, cb.State())

	err := cb.Execute(context.Background(), func(_ context.Context) error {
		t.Error("should not be called when circuit is open")
		return nil
	})
	assert.ErrorIs(t, err, ErrCircuitOpen)
}

func TestCircuitBreaker_SuccessResetsFailures(t *testing.T) {
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	failN(cb, 2)
	failures, _ := cb.Counters()
	assert.Equal(t, 2, failures)

	require.NoError(t, cb.Execute(context.Background(), func(_ context.Context) error { return nil }))
	failures, state := cb.Counters()
	assert.Zero(t, failures)
	assert.Equal(t, CircuitClosed, state)
}

func TestCircuitBreaker_HalfOpenProbe(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }

	failN(cb, 1)
	assert.Equal(t, CircuitOpen, cb.State())

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	assert.Equal(t, CircuitHalfOpen, cb.State())

	val, err := ExecuteVal(context.Background(), cb, func(_ context.Context) (int, error) { return 7, nil })
	require.NoError(t, err)
	assert.Equal(t, 7, val)
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestCircuitBreaker_HalfOpenFailureReopens(t *testing.T) {
	now := time.Now()
	cb := NewCircuitBreaker(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: 100 * time.Millisecond})
	cb.nowFunc = func() time.Time { return now }
	failN(cb, 1)

	cb.nowFunc = func() time.Time { return now.Add(200 * time.Millisecond) }
	failN(cb, 1)

	_, state := cb.Counters()
	assert.Equal(t, CircuitOpen, state)
}

func TestCircuitBreaker_ShouldTripIgnoresCallerErrors(t *testing.T) {
	errBadInput := errors.New("bad input")
	cb := NewCircuitBreaker(CircuitBreakerConfig{
		FailureThreshold: 1,
		ShouldTrip:       func(err error) bool { return !errors.Is(err, errBadInput) },
	})

	_ = cb.Execute(context.Background(), func(_ context.Context) error { return errBadInput })
	assert.Equal(t, CircuitClosed, cb.State())
}

func TestBreakers_NamedStateChanges(t *testing.T) {
	var transitions []string
	b := NewBreakers(CircuitBreakerConfig{FailureThreshold: 1, ResetTimeout: time.Minute})
	b.OnStateChange = func(name string, from, to CircuitState) {
		transitions = append(transitions, name+":"+from.String()+"->"+to.String())
	}

	rasters := b.Get("rasters")
	assert.Same(t, rasters, b.Get("rasters"))
	failN(rasters, 1)
	b.Get("basins").Reset()

	assert.Equal(t, []string{"rasters:closed->open"}, transitions)
	assert.Equal(t, map[string]CircuitState{"rasters": CircuitOpen, "basins": CircuitClosed}, b.States())
}
