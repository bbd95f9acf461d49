package logging

import (
	"context"

	"krishi/internal/utils/id"
)

// WithLogID prefixes every line with "logid=<id> ". Nil loggers become Nop.
func WithLogID(logger Logger, logID string) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return tag(logger, "logid", logID)
}

// FromContext tags logger with the request's log id and the task runner's
// action id, when the context carries them.
func FromContext(ctx context.Context, logger Logger) Logger {
	logger = WithLogID(logger, id.LogIDFromContext(ctx))
	return tag(logger, "action", id.ActionIDFromContext(ctx))
}

func tag(logger Logger, key, value string) Logger {
	if value == "" {
		return logger
	}
	prefix := key + "=" + value + " "
	if tagged, ok := logger.(*taggedLogger); ok {
		return &taggedLogger{base: tagged.base, prefix: tagged.prefix + prefix}
	}
	return &taggedLogger{base: logger, prefix: prefix}
}

type taggedLogger struct {
	base   Logger
	prefix string
}

func (l *taggedLogger) Debug(format string, args ...any) { l.base.Debug(l.prefix+format, args...) }
func (l *taggedLogger) Info(format string, args ...any)  { l.base.Info(l.prefix+format, args...) }
func (l *taggedLogger) Warn(format string, args ...any)  { l.base.Warn(l.prefix+format, args...) }
func (l *taggedLogger) Error(format string, args ...any) { l.base.Error(l.prefix+format, args...) }
