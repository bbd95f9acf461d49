// Package id mints the identifiers that tie log lines together: an action id
// per farmer request handled by the task runner and a log id per HTTP request.
package id

import (
	"context"

	"github.com/google/uuid"
)

type key int

const (
	actionKey key = iota
	logKey
)

// NewActionID returns "act-" followed by a time-ordered UUID.
func NewActionID() string { return prefixed("act") }

// NewLogID returns "log-" followed by a time-ordered UUID.
func NewLogID() string { return prefixed("log") }

func prefixed(prefix string) string {
	u, err := uuid.NewV7()
	if err != nil {
		u = uuid.New()
	}
	return prefix + "-" + u.String()
}

// WithActionID is a no-op for an empty id.
func WithActionID(ctx context.Context, actionID string) context.Context {
	return with(ctx, actionKey, actionID)
}

// WithLogID is a no-op for an empty id.
func WithLogID(ctx context.Context, logID string) context.Context {
	return with(ctx, logKey, logID)
}

func ActionIDFromContext(ctx context.Context) string { return from(ctx, actionKey) }

func LogIDFromContext(ctx context.Context) string { return from(ctx, logKey) }

func with(ctx context.Context, k key, value string) context.Context {
	if value == "" {
		return ctx
	}
	return context.WithValue(ctx, k, value)
}

func from(ctx context.Context, k key) string {
	if ctx == nil {
		return ""
	}
	value, _ := ctx.Value(k).(string)
	return value
}
