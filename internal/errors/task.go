package errors

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

// Sentinel errors for the task-execution protocol and the clients around it.
var (
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrInvalidDefinition  = errors.New("invalid task definition")
	ErrTimeout            = errors.New("timed out waiting for task")
	ErrCancelled          = errors.New("cancelled")
	ErrFailed             = errors.New("task failed")
	ErrEmptyResponse      = errors.New("empty response")
	ErrInvalidFormat      = errors.New("invalid response format")
	ErrInvalidInput       = errors.New("invalid input")
)

// TaskFailedError reports a `failed` status from the task service.
type TaskFailedError struct {
	Message string
}

func (e *TaskFailedError) Error() string {
	if e.Message == "" {
		return ErrFailed.Error()
	}
	return fmt.Sprintf("%s: %s", ErrFailed, e.Message)
}

// Is makes errors.Is(err, ErrFailed) match.
func (e *TaskFailedError) Is(target error) bool {
	return target == ErrFailed
}

// ServiceError describes an unsuccessful call to a remote collaborator.
// StatusCode is zero when the request never produced a response.
type ServiceError struct {
	Service    string
	Op         string
	StatusCode int
	Body       string
	Err        error
}

func (e *ServiceError) Error() string {
	var b strings.Builder
	b.WriteString(e.Service)
	if e.Op != "" {
		b.WriteString(" ")
		b.WriteString(e.Op)
	}
	if e.StatusCode > 0 {
		fmt.Fprintf(&b, ": status %d", e.StatusCode)
		if body := strings.TrimSpace(e.Body); body != "" {
			b.WriteString(": ")
			b.WriteString(truncate(body, 200))
		}
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *ServiceError) Unwrap() error {
	return e.Err
}

// Rejected reports whether the service understood the request and refused it.
func (e *ServiceError) Rejected() bool {
	if e.StatusCode < 400 || e.StatusCode >= 500 {
		return false
	}
	return e.StatusCode != http.StatusRequestTimeout && e.StatusCode != http.StatusTooManyRequests
}

// Is maps rejections to ErrInvalidDefinition and everything else to
// ErrServiceUnavailable.
func (e *ServiceError) Is(target error) bool {
	switch target {
	case ErrInvalidDefinition:
		return e.Rejected()
	case ErrServiceUnavailable:
		return !e.Rejected()
	}
	return false
}

func truncate(s string, limit int) string {
	if len(s) <= limit {
		return s
	}
	return s[:limit] + "..."
}
