// Package poller waits for a task execution to reach a terminal status by
// fetching its status at a fixed interval.
package poller

import (
	"context"
	"errors"
	"fmt"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
	"krishi/internal/taskclient"
)

const (
	DefaultInterval = 2 * time.Second
	DefaultTimeout  = 60 * time.Second
)

// StatusFetcher is the slice of taskclient.Client the loop needs.
type StatusFetcher interface {
	GetExecutionStatus(ctx context.Context, handle taskclient.ExecutionHandle) (taskclient.StatusReport, error)
}

// Options controls one PollUntilDone call. Zero values select the defaults.
type Options struct {
	Interval time.Duration
	Timeout  time.Duration
	// IsCancelled is consulted before every fetch.
	IsCancelled func() bool
	Clock       Clock
	Logger      logging.Logger
	// OnReport observes every non-error status report.
	OnReport func(attempt int, report taskclient.StatusReport)
}

func (o Options) withDefaults() Options {
	if o.Interval <= 0 {
		o.Interval = DefaultInterval
	}
	if o.Timeout <= 0 {
		o.Timeout = DefaultTimeout
	}
	if o.Clock == nil {
		o.Clock = RealClock{}
	}
	o.Logger = logging.OrNop(o.Logger)
	return o
}

// PollUntilDone fetches the status of handle until it is terminal.
//
// It returns the raw output on succeeded, a *errors.TaskFailedError on
// failed, ErrCancelled when IsCancelled reports true or ctx is cancelled, and
// ErrTimeout once Timeout has elapsed without a terminal status. Any fetch
// error ends the loop as ErrServiceUnavailable. With a negligible fetch
// latency the loop gives up no later than Timeout plus one Interval.
func PollUntilDone(ctx context.Context, fetcher StatusFetcher, handle taskclient.ExecutionHandle, opts Options) (jsonx.RawMessage, error) {
	opts = opts.withDefaults()
	logger := logging.FromContext(ctx, opts.Logger)
	start := opts.Clock.Now()

	for attempt := 1; ; attempt++ {
		if err := checkCancelled(ctx, opts); err != nil {
			logger.Info("stopped polling %s after %d attempts: %v", handle, attempt-1, err)
			return nil, err
		}

		report, err := fetcher.GetExecutionStatus(ctx, handle)
		if err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			if !errors.Is(err, krishierrors.ErrServiceUnavailable) {
				err = fmt.Errorf("%w: %w", krishierrors.ErrServiceUnavailable, err)
			}
			logger.Warn("status of %s unavailable on attempt %d: %v", handle, attempt, err)
			return nil, fmt.Errorf("poll %s: %w", handle, err)
		}
		if opts.OnReport != nil {
			opts.OnReport(attempt, report)
		}

		switch report.Status {
		case taskclient.StatusSucceeded:
			logger.Debug("execution %s succeeded after %d attempts", handle, attempt)
			return report.Output, nil
		case taskclient.StatusFailed:
			logger.Info("execution %s failed: %s", handle, report.FailureMessage())
			return nil, &krishierrors.TaskFailedError{Message: report.FailureMessage()}
		}

		elapsed := opts.Clock.Now().Sub(start)
		if elapsed >= opts.Timeout {
			logger.Warn("execution %s still %s after %s", handle, report.Status, elapsed)
			return nil, fmt.Errorf("%w: execution %s still %s after %s", krishierrors.ErrTimeout, handle, report.Status, elapsed)
		}

		if err := opts.Clock.Sleep(ctx, opts.Interval); err != nil {
			if ctxErr := contextError(ctx); ctxErr != nil {
				return nil, ctxErr
			}
			return nil, fmt.Errorf("%w: %w", krishierrors.ErrCancelled, err)
		}
	}
}

func checkCancelled(ctx context.Context, opts Options) error {
	if err := contextError(ctx); err != nil {
		return err
	}
	if opts.IsCancelled != nil && opts.IsCancelled() {
		return krishierrors.ErrCancelled
	}
	return nil
}

// contextError maps a done context onto the protocol errors: an expired
// caller deadline is a timeout, anything else a cancellation.
func contextError(ctx context.Context) error {
	err := ctx.Err()
	switch {
	case err == nil:
		return nil
	case errors.Is(err, context.DeadlineExceeded):
		return fmt.Errorf("%w: %w", krishierrors.ErrTimeout, err)
	default:
		return fmt.Errorf("%w: %w", krishierrors.ErrCancelled, err)
	}
}
