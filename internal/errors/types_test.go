package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKindOf(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want Kind
	}{
		{"nil", nil, KindNone},
		{"timeout", fmt.Errorf("poll: %w", ErrTimeout), KindTimeout},
		{"cancelled", ErrCancelled, KindCancelled},
		{"context cancelled inside transport", &ServiceError{Service: "tasks", Err: context.Canceled}, KindCancelled},
		{"business", &TaskFailedError{Message: "model refused"}, KindBusiness},
		{"empty", ErrEmptyResponse, KindParse},
		{"format", fmt.Errorf("extract: %w", ErrInvalidFormat), KindParse},
		{"rejected", &ServiceError{Service: "tasks", StatusCode: 422}, KindTransport},
		{"unavailable", &ServiceError{Service: "tasks", StatusCode: 503}, KindTransport},
		{"network", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, KindTransport},
		{"deadline", context.DeadlineExceeded, KindTimeout},
		{"input", fmt.Errorf("%w: image required", ErrInvalidInput), KindInvalidInput},
		{"other", errors.New("boom"), KindUnknown},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, KindOf(tc.err))
		})
	}
}

func TestServiceErrorClassification(t *testing.T) {
	rejected := &ServiceError{Service: "tasks", Op: "define", StatusCode: 400, Body: "bad steps"}
	require.ErrorIs(t, rejected, ErrInvalidDefinition)
	require.NotErrorIs(t, rejected, ErrServiceUnavailable)
	require.Contains(t, rejected.Error(), "status 400")
	require.Contains(t, rejected.Error(), "bad steps")

	throttled := &ServiceError{Service: "tasks", StatusCode: 429}
	require.ErrorIs(t, throttled, ErrServiceUnavailable)

	transport := &ServiceError{Service: "tasks", Err: errors.New("dial tcp: refused")}
	require.ErrorIs(t, transport, ErrServiceUnavailable)
}

func TestFormatForUserDistinguishesTimeoutFromFailure(t *testing.T) {
	require.Equal(t, "model refused", FormatForUser(&TaskFailedError{Message: "model refused"}))
	require.Equal(t, msgBusiness, FormatForUser(&TaskFailedError{}))
	require.Equal(t, msgTimeout, FormatForUser(ErrTimeout))
	require.NotEqual(t, FormatForUser(ErrTimeout), FormatForUser(&TaskFailedError{}))
	require.Equal(t, msgParse, FormatForUser(ErrInvalidFormat))
	require.Equal(t, "", FormatForUser(nil))
}
