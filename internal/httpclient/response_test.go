package httpclient

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	krishierrors "krishi/internal/errors"
	"krishi/internal/logging"
)

func TestReadAllWithLimitWithinLimit(t *testing.T) {
	payload := []byte("hello")
	got, err := ReadAllWithLimit(bytes.NewReader(payload), int64(len(payload)))
	require.NoError(t, err)
	require.Equal(t, payload, got)
}

func TestReadAllWithLimitTooLarge(t *testing.T) {
	_, err := ReadAllWithLimit(bytes.NewReader([]byte("hello")), 2)
	require.Error(t, err)
	require.True(t, IsResponseTooLarge(err))
}

func TestReadAllWithLimitUnlimited(t *testing.T) {
	got, err := ReadAllWithLimit(bytes.NewReader([]byte("hello")), 0)
	require.NoError(t, err)
	require.Equal(t, "hello", string(got))
}

func TestReadResponseClosesBody(t *testing.T) {
	body := &closeTracker{Reader: strings.NewReader(`{"ok":true}`)}
	data, err := ReadResponse(&http.Response{Body: body})
	require.NoError(t, err)
	require.Equal(t, `{"ok":true}`, string(data))
	require.True(t, body.closed)
}

func TestCircuitBreakerTransportOpensOnServerErrors(t *testing.T) {
	calls := 0
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls++
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	breaker := krishierrors.NewCircuitBreaker("ocr", krishierrors.CircuitBreakerConfig{
		FailureThreshold: 2,
		Cooldown:         time.Hour,
	})
	client := NewWithCircuitBreaker(time.Second, logging.Nop(), "ocr", breaker)

	for i := 0; i < 2; i++ {
		resp, err := client.Get(server.URL)
		require.NoError(t, err)
		_ = resp.Body.Close()
	}
	require.Equal(t, krishierrors.StateOpen, breaker.State())

	_, err := client.Get(server.URL)
	require.Error(t, err)
	require.ErrorIs(t, err, krishierrors.ErrServiceUnavailable)
	require.Equal(t, 2, calls)
}

func TestDoReturnsBodyOnSuccess(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_, _ = w.Write([]byte(`{"records":[]}`))
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	data, err := Do(New(time.Second, logging.Nop()), req, "market", "fetch")
	require.NoError(t, err)
	require.Equal(t, `{"records":[]}`, string(data))
}

func TestDoWrapsFailures(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "no such resource", http.StatusNotFound)
	}))
	defer server.Close()

	req, err := http.NewRequest(http.MethodGet, server.URL, nil)
	require.NoError(t, err)
	_, err = Do(New(time.Second, logging.Nop()), req, "market", "fetch")

	var serviceErr *krishierrors.ServiceError
	require.True(t, errors.As(err, &serviceErr))
	require.Equal(t, http.StatusNotFound, serviceErr.StatusCode)
	require.Contains(t, serviceErr.Body, "no such resource")
	require.ErrorIs(t, err, krishierrors.ErrInvalidDefinition)
}

func TestDoReturnsContextErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, "http://127.0.0.1:1", nil)
	require.NoError(t, err)
	_, err = Do(New(time.Second, logging.Nop()), req, "weather", "/weather")
	require.ErrorIs(t, err, context.Canceled)
	var serviceErr *krishierrors.ServiceError
	require.False(t, errors.As(err, &serviceErr))
}

func TestSharedBreakersAreReported(t *testing.T) {
	first := Breaker("test-mandi")
	require.Same(t, first, Breaker("test-mandi"))

	var found bool
	for _, status := range BreakerStatuses() {
		if status.Name == "test-mandi" {
			found = true
			require.Equal(t, "closed", status.State)
		}
	}
	require.True(t, found)
}

type closeTracker struct {
	io.Reader
	closed bool
}

func (c *closeTracker) Close() error {
	c.closed = true
	return nil
}
