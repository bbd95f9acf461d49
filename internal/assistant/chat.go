package assistant

import (
	"context"
	"fmt"
	"strings"

	krishierrors "krishi/internal/errors"
	"krishi/internal/normalize"
	"krishi/internal/taskclient"
)

const defaultLanguage = "English"

// ChatRequest is one farmer message.
type ChatRequest struct {
	Message  string `json:"message"`
	Language string `json:"language,omitempty"`
}

// ChatReply is the assistant's answer. Replies to concurrent messages may
// arrive in any order; ActionID ties each reply to its message.
type ChatReply struct {
	ActionID string `json:"action_id"`
	Reply    string `json:"reply"`
}

// Chat answers free-form questions.
type Chat struct {
	runner Runner
	timing Timing
}

func NewChat(runner Runner, timing Timing) *Chat {
	return &Chat{runner: runner, timing: timing}
}

// Send runs one chat execution. Earlier in-flight messages are left running.
func (c *Chat) Send(ctx context.Context, req ChatRequest) (ChatReply, error) {
	message := strings.TrimSpace(req.Message)
	if message == "" {
		return ChatReply{}, fmt.Errorf("%w: message is empty", krishierrors.ErrInvalidInput)
	}
	language := strings.TrimSpace(req.Language)
	if language == "" {
		language = defaultLanguage
	}

	result, err := c.runner.Run(ctx, chatTask, taskclient.ExecutionRequest{
		"message":  message,
		"language": language,
	}, c.timing.runOptions())
	if err != nil {
		return ChatReply{ActionID: result.ActionID}, err
	}
	text, err := normalize.ExtractText(result.Output)
	if err != nil {
		return ChatReply{ActionID: result.ActionID}, err
	}
	return ChatReply{ActionID: result.ActionID, Reply: text}, nil
}
