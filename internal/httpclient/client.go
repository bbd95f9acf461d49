package httpclient

import (
	"net/http"
	"time"

	"krishi/internal/logging"
)

// DefaultResponseLimit caps collaborator response bodies. Market registry
// pages are the largest payloads the service reads.
const DefaultResponseLimit int64 = 8 << 20

// New returns an HTTP client with the given timeout whose transport logs each
// exchange at debug level.
func New(timeout time.Duration, logger logging.Logger) *http.Client {
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &http.Client{
		Timeout: timeout,
		Transport: &loggingRoundTripper{
			base:   http.DefaultTransport,
			logger: logging.OrNop(logger),
		},
	}
}

type loggingRoundTripper struct {
	base   http.RoundTripper
	logger logging.Logger
}

func (t *loggingRoundTripper) RoundTrip(req *http.Request) (*http.Response, error) {
	start := time.Now()
	resp, err := t.base.RoundTrip(req)
	elapsed := time.Since(start).Round(time.Millisecond)
	logger := logging.FromContext(req.Context(), t.logger)
	if err != nil {
		logger.Debug("%s %s failed after %s: %v", req.Method, req.URL.String(), elapsed, err)
		return nil, err
	}
	logger.Debug("%s %s -> %d in %s", req.Method, req.URL.String(), resp.StatusCode, elapsed)
	return resp, nil
}
