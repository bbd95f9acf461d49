package async

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"krishi/internal/logging"
)

func TestGoRecoversPanics(t *testing.T) {
	logger := &logging.Recorder{}
	done := make(chan struct{})
	Go(logger, "boom", func() {
		defer close(done)
		panic("boom")
	})
	<-done
	require.Eventually(t, func() bool { return logger.Count("ERROR") == 1 }, time.Second, time.Millisecond)
}

func TestGroupCloseWaitsForRunningWork(t *testing.T) {
	group := NewGroup(logging.Nop())
	release := make(chan struct{})
	var finished atomic.Bool
	require.True(t, group.Go("slow", func() {
		<-release
		finished.Store(true)
	}))

	shortCtx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()
	require.ErrorIs(t, group.Close(shortCtx), context.DeadlineExceeded)
	require.False(t, group.Go("late", func() {}))

	close(release)
	require.NoError(t, group.Close(context.Background()))
	require.True(t, finished.Load())
}

func TestGroupSurvivesPanics(t *testing.T) {
	logger := &logging.Recorder{}
	group := NewGroup(logger)
	group.Go("panics", func() { panic("bad input") })
	require.NoError(t, group.Close(context.Background()))
	require.Equal(t, 1, logger.Count("ERROR"))
}
