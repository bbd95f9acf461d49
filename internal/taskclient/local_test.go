package taskclient

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
	"krishi/internal/llm"
	"krishi/internal/logging"
)

type scriptedCompleter struct {
	mu       sync.Mutex
	replies  []string
	err      error
	received [][]llm.Message
}

func (c *scriptedCompleter) Complete(_ context.Context, messages []llm.Message) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.received = append(c.received, append([]llm.Message(nil), messages...))
	if c.err != nil {
		return nil, c.err
	}
	reply := c.replies[0]
	if len(c.replies) > 1 {
		c.replies = c.replies[1:]
	}
	return jsonx.Marshal(map[string]any{
		"choices": []any{map[string]any{"message": map[string]any{"content": reply}}},
	})
}

func waitTerminal(t *testing.T, client Client, handle ExecutionHandle) StatusReport {
	t.Helper()
	var report StatusReport
	require.Eventually(t, func() bool {
		current, err := client.GetExecutionStatus(context.Background(), handle)
		if err != nil {
			return false
		}
		report = current
		return report.Status.IsTerminal()
	}, 2*time.Second, 5*time.Millisecond)
	return report
}

func TestLocalRunsPromptSteps(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"first", "second"}}
	local := NewLocal(completer, LocalConfig{SystemPrompt: "You are an agronomist."}, logging.Nop())
	ctx := context.Background()

	task, err := local.DefineTask(ctx, TaskDefinition{Name: "two-step", Steps: []Step{
		PromptStep("Describe {{0}}", "crop"),
		PromptStep("Summarize for {{0}}", "crop"),
	}})
	require.NoError(t, err)

	handle, err := local.StartExecution(ctx, task, ExecutionRequest{"crop": "Rice"})
	require.NoError(t, err)

	report := waitTerminal(t, local, handle)
	require.Equal(t, StatusSucceeded, report.Status)
	require.Contains(t, string(report.Output), "second")

	completer.mu.Lock()
	defer completer.mu.Unlock()
	require.Len(t, completer.received, 2)
	last := completer.received[1]
	require.Equal(t, []llm.Message{
		{Role: "system", Content: "You are an agronomist."},
		{Role: "user", Content: "Describe Rice"},
		{Role: "assistant", Content: "first"},
		{Role: "user", Content: "Summarize for Rice"},
	}, last)
}

func TestLocalReportsFailure(t *testing.T) {
	local := NewLocal(&scriptedCompleter{err: errors.New("upstream exploded")}, LocalConfig{}, logging.Nop())
	ctx := context.Background()

	task, err := local.DefineTask(ctx, TaskDefinition{Name: "x", Steps: []Step{PromptStep("hi")}})
	require.NoError(t, err)
	handle, err := local.StartExecution(ctx, task, nil)
	require.NoError(t, err)

	report := waitTerminal(t, local, handle)
	require.Equal(t, StatusFailed, report.Status)
	require.Contains(t, report.FailureMessage(), "upstream exploded")
}

type panickingCompleter struct{}

func (panickingCompleter) Complete(context.Context, []llm.Message) ([]byte, error) {
	panic("model adapter bug")
}

func TestLocalPanicFailsExecution(t *testing.T) {
	recorder := &logging.Recorder{}
	local := NewLocal(panickingCompleter{}, LocalConfig{}, recorder)
	ctx := context.Background()

	task, err := local.DefineTask(ctx, TaskDefinition{Name: "panics", Steps: []Step{PromptStep("Describe {{0}}", "crop")}})
	require.NoError(t, err)
	handle, err := local.StartExecution(ctx, task, ExecutionRequest{"crop": "Rice"})
	require.NoError(t, err)

	report := waitTerminal(t, local, handle)
	require.Equal(t, StatusFailed, report.Status)
	require.Contains(t, report.FailureMessage(), "panic: model adapter bug")
	require.Eventually(t, func() bool { return recorder.Count("ERROR") == 1 }, time.Second, 5*time.Millisecond)
	require.NoError(t, local.Close(ctx))
}

func TestLocalUnknownTaskAndHandle(t *testing.T) {
	local := NewLocal(&scriptedCompleter{replies: []string{"x"}}, LocalConfig{}, logging.Nop())
	_, err := local.StartExecution(context.Background(), "nope", nil)
	require.ErrorIs(t, err, krishierrors.ErrInvalidDefinition)

	_, err = local.GetExecutionStatus(context.Background(), "nope")
	require.ErrorIs(t, err, krishierrors.ErrServiceUnavailable)
}

func TestLocalRejectsUnsupportedStepType(t *testing.T) {
	local := NewLocal(&scriptedCompleter{replies: []string{"x"}}, LocalConfig{}, logging.Nop())
	_, err := local.DefineTask(context.Background(), TaskDefinition{Name: "x", Steps: []Step{{Type: "webhook", Template: "y"}}})
	require.ErrorIs(t, err, krishierrors.ErrInvalidDefinition)
}

func TestLocalCloseWaitsAndRejectsNewExecutions(t *testing.T) {
	completer := &scriptedCompleter{replies: []string{"done"}}
	local := NewLocal(completer, LocalConfig{}, logging.Nop())
	ctx := context.Background()

	task, err := local.DefineTask(ctx, TaskDefinition{Name: "close", Steps: []Step{PromptStep("hello")}})
	require.NoError(t, err)
	handle, err := local.StartExecution(ctx, task, ExecutionRequest{})
	require.NoError(t, err)

	closeCtx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()
	require.NoError(t, local.Close(closeCtx))

	report, err := local.GetExecutionStatus(ctx, handle)
	require.NoError(t, err)
	require.Equal(t, StatusSucceeded, report.Status)

	_, err = local.StartExecution(ctx, task, ExecutionRequest{})
	require.ErrorIs(t, err, krishierrors.ErrServiceUnavailable)
}
