package taskclient

import (
	"context"
	"fmt"
	"runtime/debug"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/hashicorp/golang-lru/v2/expirable"

	"krishi/internal/async"
	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
	"krishi/internal/llm"
	"krishi/internal/logging"
	"krishi/internal/normalize"
)

// Completer produces a chat completion envelope for a conversation.
type Completer interface {
	Complete(ctx context.Context, messages []llm.Message) ([]byte, error)
}

// LocalConfig tunes the in-process runner.
type LocalConfig struct {
	SystemPrompt     string
	ExecutionTimeout time.Duration
	Retention        time.Duration
	MaxExecutions    int
}

// Local implements Client in-process: executions run each prompt step
// against a Completer in a background goroutine and are observed through
// GetExecutionStatus exactly like a remote execution.
type Local struct {
	completer Completer
	config    LocalConfig
	logger    logging.Logger

	mu    sync.RWMutex
	tasks map[TaskID]TaskDefinition

	executions *expirable.LRU[ExecutionHandle, *localExecution]
	workers    *async.Group
}

type localExecution struct {
	mu     sync.Mutex
	report StatusReport
}

func (e *localExecution) set(report StatusReport) {
	e.mu.Lock()
	e.report = report
	e.mu.Unlock()
}

func (e *localExecution) get() StatusReport {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.report
}

// NewLocal builds a runner backed by completer.
func NewLocal(completer Completer, config LocalConfig, logger logging.Logger) *Local {
	if config.ExecutionTimeout <= 0 {
		config.ExecutionTimeout = 2 * time.Minute
	}
	if config.Retention <= 0 {
		config.Retention = 30 * time.Minute
	}
	if config.MaxExecutions <= 0 {
		config.MaxExecutions = 1024
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("taskclient.local")
	}
	return &Local{
		completer:  completer,
		config:     config,
		logger:     logger,
		tasks:      make(map[TaskID]TaskDefinition),
		executions: expirable.NewLRU[ExecutionHandle, *localExecution](config.MaxExecutions, nil, config.Retention),
		workers:    async.NewGroup(logger),
	}
}

// DefineTask stores def under a fresh identifier.
func (l *Local) DefineTask(_ context.Context, def TaskDefinition) (TaskID, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	for _, step := range def.Steps {
		if step.Type != "" && step.Type != StepTypePrompt {
			return "", fmt.Errorf("%w: unsupported step type %q", krishierrors.ErrInvalidDefinition, step.Type)
		}
	}
	id := TaskID("task-" + uuid.NewString())
	l.mu.Lock()
	l.tasks[id] = def
	l.mu.Unlock()
	return id, nil
}

// StartExecution queues an execution and returns immediately.
func (l *Local) StartExecution(ctx context.Context, task TaskID, input ExecutionRequest) (ExecutionHandle, error) {
	if err := input.Validate(); err != nil {
		return "", err
	}
	l.mu.RLock()
	def, ok := l.tasks[task]
	l.mu.RUnlock()
	if !ok {
		return "", fmt.Errorf("%w: unknown task %q", krishierrors.ErrInvalidDefinition, task)
	}

	handle := ExecutionHandle("exec-" + uuid.NewString())
	exec := &localExecution{report: StatusReport{Status: StatusQueued}}
	l.executions.Add(handle, exec)

	snapshot := make(ExecutionRequest, len(input))
	for k, v := range input {
		snapshot[k] = v
	}
	runCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), l.config.ExecutionTimeout)
	started := l.workers.Go("local-execution", func() {
		defer cancel()
		defer func() {
			if r := recover(); r != nil {
				l.fail(exec, handle, fmt.Sprintf("panic: %v", r))
				l.logger.Error("execution %s panicked: %v, stack: %s", handle, r, debug.Stack())
			}
		}()
		l.run(runCtx, handle, def, snapshot, exec)
	})
	if !started {
		cancel()
		l.executions.Remove(handle)
		return "", fmt.Errorf("%w: local runner is shutting down", krishierrors.ErrServiceUnavailable)
	}
	return handle, nil
}

func (l *Local) run(ctx context.Context, handle ExecutionHandle, def TaskDefinition, input ExecutionRequest, exec *localExecution) {
	exec.set(StatusReport{Status: StatusRunning})
	logger := logging.FromContext(ctx, l.logger)

	var messages []llm.Message
	if l.config.SystemPrompt != "" {
		messages = append(messages, llm.Message{Role: "system", Content: l.config.SystemPrompt})
	}
	var output []byte
	for i, step := range def.Steps {
		prompt, err := Render(step, input)
		if err != nil {
			l.fail(exec, handle, fmt.Sprintf("step %d: %v", i, err))
			return
		}
		messages = append(messages, llm.Message{Role: "user", Content: prompt})
		output, err = l.completer.Complete(ctx, messages)
		if err != nil {
			l.fail(exec, handle, fmt.Sprintf("step %d: %v", i, err))
			return
		}
		if i < len(def.Steps)-1 {
			reply, err := normalize.ExtractText(output)
			if err != nil {
				l.fail(exec, handle, fmt.Sprintf("step %d: %v", i, err))
				return
			}
			messages = append(messages, llm.Message{Role: "assistant", Content: reply})
		}
	}
	exec.set(StatusReport{Status: StatusSucceeded, Output: jsonx.RawMessage(output)})
	logger.Debug("execution %s of %q succeeded", handle, def.Name)
}

func (l *Local) fail(exec *localExecution, handle ExecutionHandle, message string) {
	l.logger.Warn("execution %s failed: %s", handle, message)
	exec.set(StatusReport{Status: StatusFailed, Error: &ErrorDetail{Message: message}})
}

// GetExecutionStatus returns the latest report for handle.
func (l *Local) GetExecutionStatus(_ context.Context, handle ExecutionHandle) (StatusReport, error) {
	exec, ok := l.executions.Get(handle)
	if !ok {
		return StatusReport{}, fmt.Errorf("%w: unknown execution %q", krishierrors.ErrServiceUnavailable, handle)
	}
	return exec.get(), nil
}

// Close rejects new executions and waits for running ones or ctx.
func (l *Local) Close(ctx context.Context) error {
	return l.workers.Close(ctx)
}
