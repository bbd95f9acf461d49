// Package async runs background work that must never take the process down.
package async

import (
	"context"
	"runtime/debug"
	"sync"

	"krishi/internal/logging"
)

// Go runs fn in a goroutine guarded by panic recovery.
func Go(logger logging.Logger, name string, fn func()) {
	go func() {
		defer Recover(logger, name)
		fn()
	}()
}

// Recover logs a panic with its stack. It must be deferred directly.
func Recover(logger logging.Logger, name string) {
	r := recover()
	if r == nil {
		return
	}
	logger = logging.OrNop(logger)
	if name == "" {
		name = "anonymous"
	}
	logger.Error("goroutine panic [%s]: %v, stack: %s", name, r, debug.Stack())
}

// Group tracks panic-safe goroutines so shutdown can wait for them.
type Group struct {
	logger logging.Logger
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
}

// NewGroup returns an empty group logging panics to logger.
func NewGroup(logger logging.Logger) *Group {
	return &Group{logger: logging.OrNop(logger)}
}

// Go starts fn unless the group is closed. It reports whether fn was started.
func (g *Group) Go(name string, fn func()) bool {
	g.mu.Lock()
	if g.closed {
		g.mu.Unlock()
		g.logger.Warn("goroutine %s rejected: group closed", name)
		return false
	}
	g.wg.Add(1)
	g.mu.Unlock()

	go func() {
		defer g.wg.Done()
		defer Recover(g.logger, name)
		fn()
	}()
	return true
}

// Close stops accepting work and waits for running goroutines or ctx.
func (g *Group) Close(ctx context.Context) error {
	g.mu.Lock()
	g.closed = true
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		g.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
