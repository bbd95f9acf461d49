// Package logging is the printf-style logging facade used across krishi.
// Component loggers write through a process-wide slog backend that redacts
// credentials; request and action ids travel in the context.
package logging

import (
	"fmt"
	"reflect"
	"strings"
	"sync"
)

// Logger is implemented by component loggers, Nop and Recorder.
type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debug(string, ...any) {}
func (nopLogger) Info(string, ...any)  {}
func (nopLogger) Warn(string, ...any)  {}
func (nopLogger) Error(string, ...any) {}

// Nop discards everything.
func Nop() Logger {
	return nopLogger{}
}

// IsNil also catches a typed nil pointer stored in the interface.
func IsNil(logger Logger) bool {
	if logger == nil {
		return true
	}
	v := reflect.ValueOf(logger)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Func:
		return v.IsNil()
	}
	return false
}

func OrNop(logger Logger) Logger {
	if IsNil(logger) {
		return Nop()
	}
	return logger
}

// NewComponentLogger tags every line with component=<name>.
func NewComponentLogger(component string) Logger {
	return newSlogLogger(defaultSlog(), component)
}

// Recorder keeps formatted lines in memory, prefixed with their level.
// It is safe for concurrent use and meant for tests.
type Recorder struct {
	mu    sync.Mutex
	lines []string
}

func (r *Recorder) Debug(format string, args ...any) { r.record("DEBUG", format, args...) }
func (r *Recorder) Info(format string, args ...any)  { r.record("INFO", format, args...) }
func (r *Recorder) Warn(format string, args ...any)  { r.record("WARN", format, args...) }
func (r *Recorder) Error(format string, args ...any) { r.record("ERROR", format, args...) }

func (r *Recorder) record(level, format string, args ...any) {
	line := level + " " + fmt.Sprintf(format, args...)
	r.mu.Lock()
	r.lines = append(r.lines, line)
	r.mu.Unlock()
}

// Lines returns a copy of everything recorded so far.
func (r *Recorder) Lines() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.lines...)
}

// Count returns how many lines were recorded at level ("ERROR", "WARN", ...).
func (r *Recorder) Count(level string) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	n := 0
	for _, line := range r.lines {
		if strings.HasPrefix(line, level+" ") {
			n++
		}
	}
	return n
}
