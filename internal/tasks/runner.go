// Package tasks runs assistant features on the task service: each feature's
// task is defined once per process and every request becomes one execution
// that is polled to completion.
package tasks

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"golang.org/x/sync/singleflight"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
	"krishi/internal/poller"
	"krishi/internal/taskclient"
	id "krishi/internal/utils/id"
)

// RunOptions tunes one run. Zero values fall back to the runner defaults.
type RunOptions struct {
	Interval    time.Duration
	Timeout     time.Duration
	IsCancelled func() bool
}

// Result is the terminal output of a successful run.
type Result struct {
	ActionID string
	Task     taskclient.TaskID
	Handle   taskclient.ExecutionHandle
	Output   jsonx.RawMessage
	Attempts int
	Elapsed  time.Duration
}

// Runner submits executions and waits for them.
type Runner struct {
	client   taskclient.Client
	logger   logging.Logger
	metrics  *Metrics
	clock    poller.Clock
	defaults RunOptions

	mu      sync.RWMutex
	taskIDs map[string]taskclient.TaskID
	define  singleflight.Group

	// bounds the shared DefineTask call, which ignores caller cancellation
	defineTimeout time.Duration
}

// Option configures a Runner.
type Option func(*Runner)

// WithLogger sets the runner logger.
func WithLogger(logger logging.Logger) Option {
	return func(r *Runner) { r.logger = logging.OrNop(logger) }
}

// WithMetrics replaces the globally registered metrics.
func WithMetrics(metrics *Metrics) Option {
	return func(r *Runner) { r.metrics = metrics }
}

// WithClock drives polling from clock.
func WithClock(clock poller.Clock) Option {
	return func(r *Runner) { r.clock = clock }
}

// WithDefaults sets the interval and timeout used when a run leaves them zero.
func WithDefaults(defaults RunOptions) Option {
	return func(r *Runner) { r.defaults = defaults }
}

// WithDefineTimeout bounds the shared DefineTask call. Defaults to 30s.
func WithDefineTimeout(timeout time.Duration) Option {
	return func(r *Runner) {
		if timeout > 0 {
			r.defineTimeout = timeout
		}
	}
}

// NewRunner builds a runner over client.
func NewRunner(client taskclient.Client, opts ...Option) *Runner {
	r := &Runner{
		client:  client,
		logger:        logging.NewComponentLogger("tasks"),
		taskIDs:       make(map[string]taskclient.TaskID),
		defineTimeout: 30 * time.Second,
	}
	for _, opt := range opts {
		opt(r)
	}
	if r.metrics == nil {
		r.metrics = DefaultMetrics()
	}
	return r
}

// Run defines def if needed, starts an execution with input and polls it to
// a terminal status. Executions are never retried.
func (r *Runner) Run(ctx context.Context, def taskclient.TaskDefinition, input taskclient.ExecutionRequest, opts RunOptions) (result Result, err error) {
	actionID := id.ActionIDFromContext(ctx)
	if actionID == "" {
		actionID = id.NewActionID()
		ctx = id.WithActionID(ctx, actionID)
	}
	result.ActionID = actionID
	logger := logging.FromContext(ctx, r.logger)

	ctx, span := startRunSpan(ctx, def.Name, actionID)
	start := time.Now()
	r.metrics.runStarted()
	defer func() {
		r.metrics.runFinished()
		outcome := "success"
		if err != nil {
			outcome = string(krishierrors.KindOf(err))
		}
		r.metrics.observeRun(def.Name, outcome, time.Since(start))
		span.SetAttributes(attribute.Int(traceAttrAttempts, result.Attempts))
		markSpanResult(span, err)
		span.End()
	}()

	taskID, err := r.taskID(ctx, def)
	if err != nil {
		return result, err
	}
	result.Task = taskID

	handle, err := r.client.StartExecution(ctx, taskID, input)
	if err != nil {
		if errors.Is(err, krishierrors.ErrInvalidDefinition) {
			r.forget(def.Name, taskID)
		}
		logger.Warn("start %s failed: %v", def.Name, err)
		return result, fmt.Errorf("start %s: %w", def.Name, err)
	}
	result.Handle = handle
	span.SetAttributes(attribute.String(traceAttrHandle, string(handle)))
	logger.Info("started %s as %s", def.Name, handle)

	pollOpts := r.pollOptions(opts, logger)
	pollOpts.OnReport = func(attempt int, report taskclient.StatusReport) {
		result.Attempts = attempt
		r.metrics.observePoll(def.Name, string(report.Status))
	}
	output, err := poller.PollUntilDone(ctx, r.client, handle, pollOpts)
	result.Elapsed = time.Since(start)
	if err != nil {
		return result, err
	}
	result.Output = output
	logger.Info("%s finished in %s after %d polls", def.Name, result.Elapsed.Round(time.Millisecond), result.Attempts)
	return result, nil
}

func (r *Runner) pollOptions(opts RunOptions, logger logging.Logger) poller.Options {
	interval, timeout := opts.Interval, opts.Timeout
	if interval <= 0 {
		interval = r.defaults.Interval
	}
	if timeout <= 0 {
		timeout = r.defaults.Timeout
	}
	return poller.Options{
		Interval:    interval,
		Timeout:     timeout,
		IsCancelled: opts.IsCancelled,
		Clock:       r.clock,
		Logger:      logger,
	}
}

// taskID returns the cached identifier for def or defines it. Concurrent
// callers for the same name share one DefineTask call.
func (r *Runner) taskID(ctx context.Context, def taskclient.TaskDefinition) (taskclient.TaskID, error) {
	r.mu.RLock()
	cached, ok := r.taskIDs[def.Name]
	r.mu.RUnlock()
	if ok {
		return cached, nil
	}

	// The shared call outlives any single caller; each caller stops waiting
	// when its own ctx ends.
	shared := context.WithoutCancel(ctx)
	ch := r.define.DoChan(def.Name, func() (any, error) {
		r.mu.RLock()
		cached, ok := r.taskIDs[def.Name]
		r.mu.RUnlock()
		if ok {
			return cached, nil
		}
		defineCtx, cancel := context.WithTimeout(shared, r.defineTimeout)
		defer cancel()
		taskID, err := r.client.DefineTask(defineCtx, def)
		if err != nil {
			return taskclient.TaskID(""), err
		}
		r.mu.Lock()
		r.taskIDs[def.Name] = taskID
		r.mu.Unlock()
		return taskID, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			return "", fmt.Errorf("define %s: %w", def.Name, res.Err)
		}
		return res.Val.(taskclient.TaskID), nil
	case <-ctx.Done():
		return "", fmt.Errorf("define %s: %w", def.Name, ctx.Err())
	}
}

// forget drops a cached identifier the service no longer accepts so that the
// next run defines the task again.
func (r *Runner) forget(name string, taskID taskclient.TaskID) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.taskIDs[name] == taskID {
		delete(r.taskIDs, name)
	}
}
