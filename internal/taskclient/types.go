// Package taskclient speaks the submit/poll protocol of the remote
// task-execution service: define a task once, start executions of it, and
// read back their status.
package taskclient

import (
	"context"
	"fmt"
	"strings"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
)

// TaskID identifies a defined task on the service.
type TaskID string

// ExecutionHandle identifies one execution of a task.
type ExecutionHandle string

// Status is the lifecycle state of an execution.
type Status string

const (
	StatusQueued    Status = "queued"
	StatusRunning   Status = "running"
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// IsTerminal reports whether no further transitions can happen.
func (s Status) IsTerminal() bool {
	return s == StatusSucceeded || s == StatusFailed
}

// ParseStatus maps the service's status vocabulary onto Status. Unknown
// values are reported as running so that the poller keeps waiting and the
// timeout stays the only way out.
func ParseStatus(raw string) (Status, bool) {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "queued", "pending", "created", "scheduled":
		return StatusQueued, true
	case "running", "in_progress", "processing", "started":
		return StatusRunning, true
	case "succeeded", "success", "completed", "complete", "done":
		return StatusSucceeded, true
	case "failed", "failure", "error", "errored", "cancelled", "canceled":
		return StatusFailed, true
	default:
		return StatusRunning, false
	}
}

// StepTypePrompt is the only step type the assistant defines.
const StepTypePrompt = "prompt"

// Step is one stage of a task. Template references Inputs by position:
// "{{0}}" is replaced with the value of the input field named Inputs[0].
type Step struct {
	Type     string   `json:"type"`
	Template string   `json:"template"`
	Inputs   []string `json:"inputs,omitempty"`
}

// PromptStep builds a single templated prompt step.
func PromptStep(template string, inputs ...string) Step {
	return Step{Type: StepTypePrompt, Template: template, Inputs: inputs}
}

// TaskDefinition is the reusable description of a task.
type TaskDefinition struct {
	Name        string `json:"name"`
	Description string `json:"description,omitempty"`
	Steps       []Step `json:"steps"`
}

// Validate checks the definition before it is sent anywhere.
func (d TaskDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return fmt.Errorf("%w: name is required", krishierrors.ErrInvalidDefinition)
	}
	if len(d.Steps) == 0 {
		return fmt.Errorf("%w: task %q has no steps", krishierrors.ErrInvalidDefinition, d.Name)
	}
	for i, step := range d.Steps {
		if strings.TrimSpace(step.Template) == "" {
			return fmt.Errorf("%w: task %q step %d has an empty template", krishierrors.ErrInvalidDefinition, d.Name, i)
		}
		for _, ref := range placeholderIndexes(step.Template) {
			if ref >= len(step.Inputs) {
				return fmt.Errorf("%w: task %q step %d references input {{%d}} but declares %d inputs",
					krishierrors.ErrInvalidDefinition, d.Name, i, ref, len(step.Inputs))
			}
		}
	}
	return nil
}

// ExecutionRequest carries the input fields of one execution. Values are
// strings or numbers.
type ExecutionRequest map[string]any

// Validate rejects values the service cannot template.
func (r ExecutionRequest) Validate() error {
	for key, value := range r {
		switch value.(type) {
		case string, int, int32, int64, float32, float64, jsonx.Number:
		default:
			return fmt.Errorf("%w: field %q has unsupported type %T", krishierrors.ErrInvalidInput, key, value)
		}
	}
	return nil
}

// ErrorDetail is the failure message of a failed execution.
type ErrorDetail struct {
	Message string `json:"message"`
}

// StatusReport is one observation of an execution.
type StatusReport struct {
	Status Status           `json:"status"`
	Output jsonx.RawMessage `json:"output,omitempty"`
	Error  *ErrorDetail     `json:"error,omitempty"`
}

// FailureMessage returns the service's error message, if any.
func (r StatusReport) FailureMessage() string {
	if r.Error == nil {
		return ""
	}
	return r.Error.Message
}

// Client is the task-execution protocol.
type Client interface {
	DefineTask(ctx context.Context, def TaskDefinition) (TaskID, error)
	StartExecution(ctx context.Context, task TaskID, input ExecutionRequest) (ExecutionHandle, error)
	GetExecutionStatus(ctx context.Context, handle ExecutionHandle) (StatusReport, error)
}
