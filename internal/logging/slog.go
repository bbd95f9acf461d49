package logging

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"regexp"
	"strings"
	"sync/atomic"
)

// RedactedPlaceholder replaces secret material in log output.
const RedactedPlaceholder = "[REDACTED]"

// Config configures the process-wide log backend.
type Config struct {
	Level  string // debug, info, warn, error
	Format string // json, text
	Output io.Writer
}

var defaultLogger atomic.Pointer[slog.Logger]

// Configure replaces the backend used by component loggers. Loggers created
// before the call pick up the new backend on their next write.
func Configure(config Config) {
	defaultLogger.Store(newSlog(config))
}

func defaultSlog() *slog.Logger {
	if logger := defaultLogger.Load(); logger != nil {
		return logger
	}
	logger := newSlog(Config{})
	defaultLogger.CompareAndSwap(nil, logger)
	return defaultLogger.Load()
}

func newSlog(config Config) *slog.Logger {
	level := slog.LevelInfo
	switch strings.ToLower(config.Level) {
	case "debug":
		level = slog.LevelDebug
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	}

	output := config.Output
	if output == nil {
		output = os.Stdout
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if strings.EqualFold(config.Format, "json") {
		handler = slog.NewJSONHandler(output, opts)
	} else {
		handler = slog.NewTextHandler(output, opts)
	}
	return slog.New(handler)
}

// NewWithWriter returns a component logger writing to its own backend. Used by
// tests and by commands that want output separate from the service log.
func NewWithWriter(component string, config Config) Logger {
	return newSlogLogger(newSlog(config), component)
}

type slogLogger struct {
	base      *slog.Logger
	component string
	pinned    bool
}

func newSlogLogger(base *slog.Logger, component string) *slogLogger {
	return &slogLogger{base: base, component: component, pinned: base != defaultLogger.Load()}
}

func (l *slogLogger) backend() *slog.Logger {
	if l.pinned && l.base != nil {
		return l.base
	}
	return defaultSlog()
}

func (l *slogLogger) emit(level slog.Level, format string, args ...any) {
	message := sanitizeLogLine(fmt.Sprintf(format, args...))
	logger := l.backend()
	if l.component != "" {
		logger = logger.With("component", l.component)
	}
	logger.Log(context.Background(), level, message)
}

func (l *slogLogger) Debug(format string, args ...any) { l.emit(slog.LevelDebug, format, args...) }
func (l *slogLogger) Info(format string, args ...any)  { l.emit(slog.LevelInfo, format, args...) }
func (l *slogLogger) Warn(format string, args ...any)  { l.emit(slog.LevelWarn, format, args...) }
func (l *slogLogger) Error(format string, args ...any) { l.emit(slog.LevelError, format, args...) }

var (
	authorizationBearerPattern = regexp.MustCompile(
		`(?i)((?:"|')?authorization(?:"|')?\s*(?:=|:)\s*)(bearer\s+)([^"'\s,;]+)`,
	)
	// Query parameters used by the weather, market and OCR providers.
	queryKeyPattern = regexp.MustCompile(`(?i)([?&](?:appid|api-key|api_key|apikey|key)=)([^&\s"']+)`)
	sensitiveKeyValuePattern = regexp.MustCompile(
		`(?i)((?:"|')?(?:api[_-]?key|appid|access[_-]?token|secret|password)(?:"|')?\s*(?:=|:)\s*)(?:"|')?([^"'\s,;&]+)((?:"|')?)`,
	)
	bearerTokenPattern      = regexp.MustCompile(`(?i)(bearer\s+)([A-Za-z0-9\-\._~+/]+=*)`)
	standaloneSecretPattern = regexp.MustCompile(`(?i)(sk-[A-Za-z0-9]{16,}|ghp_[A-Za-z0-9]{16,})`)
)

func sanitizeLogLine(line string) string {
	sanitized := authorizationBearerPattern.ReplaceAllString(line, "${1}${2}"+RedactedPlaceholder)
	sanitized = queryKeyPattern.ReplaceAllString(sanitized, "${1}"+RedactedPlaceholder)
	sanitized = sensitiveKeyValuePattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		submatches := sensitiveKeyValuePattern.FindStringSubmatch(match)
		if len(submatches) != 4 || submatches[2] == RedactedPlaceholder {
			return match
		}
		return submatches[1] + RedactedPlaceholder + submatches[3]
	})
	sanitized = bearerTokenPattern.ReplaceAllStringFunc(sanitized, func(match string) string {
		parts := bearerTokenPattern.FindStringSubmatch(match)
		if len(parts) != 3 || parts[2] == RedactedPlaceholder {
			return match
		}
		return parts[1] + RedactedPlaceholder
	})
	return standaloneSecretPattern.ReplaceAllString(sanitized, RedactedPlaceholder)
}
