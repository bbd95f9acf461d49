package errors

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func newTestBreaker(config CircuitBreakerConfig) (*CircuitBreaker, *time.Time) {
	now := time.Unix(0, 0)
	cb := NewCircuitBreaker("weather", config)
	cb.now = func() time.Time { return now }
	return cb, &now
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 2, SuccessThreshold: 1, Cooldown: time.Minute})

	require.NoError(t, cb.Allow())
	cb.Mark(errors.New("500"))
	cb.Mark(errors.New("500"))
	require.Equal(t, StateOpen, cb.State())

	err := cb.Allow()
	require.Error(t, err)
	require.True(t, IsDegraded(err))
	require.ErrorIs(t, err, ErrServiceUnavailable)
	require.Equal(t, KindTransport, KindOf(err))
	require.Equal(t, "The weather service is not responding. Please try again in 1m0s.", FormatForUser(err))

	*now = now.Add(time.Minute)
	require.NoError(t, cb.Allow())
	require.Equal(t, StateHalfOpen, cb.State())

	cb.Mark(nil)
	require.Equal(t, StateClosed, cb.State())
}

func TestCircuitBreakerFailedTrialReopens(t *testing.T) {
	cb, now := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 1, SuccessThreshold: 2, Cooldown: 10 * time.Second})

	cb.Mark(errors.New("timeout"))
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(10 * time.Second)
	require.NoError(t, cb.Allow())
	cb.Mark(nil)
	require.Equal(t, StateHalfOpen, cb.State(), "one success is not enough")

	cb.Mark(errors.New("still down"))
	require.Equal(t, StateOpen, cb.State())

	*now = now.Add(4 * time.Second)
	status := cb.Status()
	require.Equal(t, "open", status.State)
	require.Equal(t, "6s", status.RetryIn)
	require.Equal(t, "weather", status.Name)
}

func TestCircuitBreakerSuccessResetsFailureCount(t *testing.T) {
	cb, _ := newTestBreaker(CircuitBreakerConfig{FailureThreshold: 3})

	cb.Mark(errors.New("a"))
	cb.Mark(errors.New("b"))
	cb.Mark(nil)
	cb.Mark(errors.New("c"))
	require.Equal(t, StateClosed, cb.State())
	require.Equal(t, 1, cb.Status().Failures)
	require.Empty(t, cb.Status().RetryIn)
}
