package httpclient

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"sync"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/logging"
)

var (
	breakersMu sync.Mutex
	breakers   = map[string]*krishierrors.CircuitBreaker{}
)

// Breaker returns the shared breaker for a collaborator, creating it with the
// default config. Clients of the same collaborator trip together.
func Breaker(name string) *krishierrors.CircuitBreaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()
	if cb, ok := breakers[name]; ok {
		return cb
	}
	cb := krishierrors.NewCircuitBreaker(name, krishierrors.DefaultCircuitBreakerConfig())
	breakers[name] = cb
	return cb
}

// BreakerStatuses lists every shared breaker by name.
func BreakerStatuses() []krishierrors.BreakerStatus {
	breakersMu.Lock()
	list := make([]*krishierrors.CircuitBreaker, 0, len(breakers))
	for _, cb := range breakers {
		list = append(list, cb)
	}
	breakersMu.Unlock()

	statuses := make([]krishierrors.BreakerStatus, 0, len(list))
	for _, cb := range list {
		statuses = append(statuses, cb.Status())
	}
	sort.Slice(statuses, func(i, j int) bool { return statuses[i].Name < statuses[j].Name })
	return statuses
}

// NewWithCircuitBreaker is New guarded by breaker; nil uses Breaker(name).
func NewWithCircuitBreaker(timeout time.Duration, logger logging.Logger, name string, breaker *krishierrors.CircuitBreaker) *http.Client {
	client := New(timeout, logger)
	if breaker == nil {
		breaker = Breaker(name)
	}
	client.Transport = &breakerTransport{base: client.Transport, breaker: breaker}
	return client
}

type breakerTransport struct {
	base    http.RoundTripper
	breaker *krishierrors.CircuitBreaker
}

func (t *breakerTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	if err := t.breaker.Allow(); err != nil {
		return nil, err
	}
	resp, err := t.base.RoundTrip(req)
	switch {
	case errors.Is(err, context.Canceled):
		// the caller gave up; says nothing about the collaborator
		t.breaker.Mark(nil)
	case err != nil:
		t.breaker.Mark(err)
	case resp.StatusCode >= http.StatusInternalServerError || resp.StatusCode == http.StatusTooManyRequests:
		t.breaker.Mark(fmt.Errorf("status %d", resp.StatusCode))
	default:
		t.breaker.Mark(nil)
	}
	return resp, err
}
