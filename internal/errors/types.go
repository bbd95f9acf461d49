package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"syscall"
)

// Kind classifies an error for the API and CLI boundary.
type Kind string

const (
	KindNone         Kind = ""
	KindTransport    Kind = "transport"
	KindBusiness     Kind = "business"
	KindTimeout      Kind = "timeout"
	KindCancelled    Kind = "cancelled"
	KindParse        Kind = "parse"
	KindInvalidInput Kind = "invalid_input"
	KindUnknown      Kind = "unknown"
)

// DegradedError represents an error where service can continue with reduced functionality
type DegradedError struct {
	Err             error
	FallbackContent string // Alternative content to return
	Message         string // User-facing message
}

func (e *DegradedError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("degraded error: %v", e.Err)
}

func (e *DegradedError) Unwrap() error {
	return e.Err
}

// NewDegradedError creates a new degraded error with fallback content
func NewDegradedError(err error, message, fallback string) *DegradedError {
	return &DegradedError{
		Err:             err,
		Message:         message,
		FallbackContent: fallback,
	}
}

// IsDegraded checks if an error allows degraded service
func IsDegraded(err error) bool {
	var degradedErr *DegradedError
	return errors.As(err, &degradedErr)
}

// KindOf classifies err. The order matters: cancellation wins over the
// transport error an aborted request produces, and an explicit poll timeout
// wins over the context deadline it may wrap.
func KindOf(err error) Kind {
	if err == nil {
		return KindNone
	}
	switch {
	case errors.Is(err, ErrCancelled), errors.Is(err, context.Canceled):
		return KindCancelled
	case errors.Is(err, ErrTimeout):
		return KindTimeout
	case errors.Is(err, ErrFailed):
		return KindBusiness
	case errors.Is(err, ErrEmptyResponse), errors.Is(err, ErrInvalidFormat):
		return KindParse
	case errors.Is(err, ErrInvalidInput):
		return KindInvalidInput
	case errors.Is(err, ErrServiceUnavailable), errors.Is(err, ErrInvalidDefinition), IsDegraded(err):
		return KindTransport
	case errors.Is(err, context.DeadlineExceeded):
		return KindTimeout
	case isNetworkError(err):
		return KindTransport
	}
	return KindUnknown
}

const (
	msgTransport   = "Failed to load. Please check your connection and try again."
	msgBusiness    = "The assistant could not complete the request."
	msgTimeout     = "This is taking too long. Please try again in a moment."
	msgParse       = "The assistant replied in an unexpected format. Please try again."
	msgCancelled   = "The request was cancelled."
	msgUnknownFail = "Something went wrong. Please try again."
)

// FormatForUser converts an error into the message shown to a farmer. Business
// failures carry the service-provided message when there is one.
func FormatForUser(err error) string {
	switch KindOf(err) {
	case KindNone:
		return ""
	case KindTransport:
		var degraded *DegradedError
		if errors.As(err, &degraded) && strings.TrimSpace(degraded.Message) != "" {
			return degraded.Message
		}
		return msgTransport
	case KindBusiness:
		var failed *TaskFailedError
		if errors.As(err, &failed) && strings.TrimSpace(failed.Message) != "" {
			return failed.Message
		}
		return msgBusiness
	case KindTimeout:
		return msgTimeout
	case KindParse:
		return msgParse
	case KindCancelled:
		return msgCancelled
	case KindInvalidInput:
		return err.Error()
	}
	return msgUnknownFail
}

// isNetworkError spots transport failures that reach us without a
// ServiceError around them, including ones flattened into plain strings.
func isNetworkError(err error) bool {
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	var errno syscall.Errno
	if errors.As(err, &errno) {
		switch errno {
		case syscall.ECONNREFUSED, syscall.ECONNRESET, syscall.EPIPE,
			syscall.ETIMEDOUT, syscall.ENETUNREACH, syscall.EHOSTUNREACH:
			return true
		}
	}
	msg := strings.ToLower(err.Error())
	for _, hint := range []string{"connection refused", "connection reset", "broken pipe", "no such host"} {
		if strings.Contains(msg, hint) {
			return true
		}
	}
	return false
}
