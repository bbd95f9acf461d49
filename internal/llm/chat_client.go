// Package llm is a minimal OpenAI-compatible chat completions client. It
// backs the local task runner, which executes prompt steps in-process when no
// hosted task service is configured.
package llm

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
	id "krishi/internal/utils/id"
)

// Message is one chat turn.
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Config selects the endpoint and model.
type Config struct {
	BaseURL     string
	APIKey      string
	Model       string
	Temperature float64
	MaxTokens   int
	Timeout     time.Duration
	Headers     map[string]string
}

// ChatClient calls POST {base}/chat/completions.
type ChatClient struct {
	config     Config
	baseURL    string
	httpClient *http.Client
	logger     logging.Logger
}

// NewChatClient constructs a client. An empty BaseURL targets OpenAI.
func NewChatClient(config Config, logger logging.Logger) *ChatClient {
	baseURL := strings.TrimRight(strings.TrimSpace(config.BaseURL), "/")
	if baseURL == "" {
		baseURL = "https://api.openai.com/v1"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 120 * time.Second
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger("llm")
	}
	return &ChatClient{
		config:     config,
		baseURL:    baseURL,
		httpClient: httpclient.NewWithCircuitBreaker(timeout, logger, "llm", nil),
		logger:     logger,
	}
}

// Model returns the configured model name.
func (c *ChatClient) Model() string {
	return c.config.Model
}

// Complete sends messages and returns the raw response body. The body is the
// standard chat completion envelope, so callers read it with the same
// normalizer they use for task-service output.
func (c *ChatClient) Complete(ctx context.Context, messages []Message) ([]byte, error) {
	requestID := id.ActionIDFromContext(ctx)
	if requestID == "" {
		requestID = id.NewLogID()
	}
	prefix := fmt.Sprintf("[req:%s] ", requestID)

	request := map[string]any{
		"model":    c.config.Model,
		"messages": messages,
		"stream":   false,
	}
	if c.config.Temperature > 0 {
		request["temperature"] = c.config.Temperature
	}
	if c.config.MaxTokens > 0 {
		request["max_tokens"] = c.config.MaxTokens
	}
	body, err := jsonx.Marshal(request)
	if err != nil {
		return nil, fmt.Errorf("marshal request: %w", err)
	}

	endpoint := c.baseURL + "/chat/completions"
	c.logger.Debug("%sPOST %s model=%s messages=%d", prefix, endpoint, c.config.Model, len(messages))

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint, bytes.NewReader(body))
	if err != nil {
		return nil, err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	if c.config.APIKey != "" {
		httpReq.Header.Set("Authorization", "Bearer "+c.config.APIKey)
	}
	for k, v := range c.config.Headers {
		httpReq.Header.Set(k, v)
	}

	respBody, err := httpclient.Do(c.httpClient, httpReq, "llm", "complete")
	if err != nil {
		c.logger.Debug("%scompletion failed: %v", prefix, err)
		return nil, err
	}

	var envelope struct {
		Error *struct {
			Type    string `json:"type"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := jsonx.Unmarshal(respBody, &envelope); err == nil && envelope.Error != nil && envelope.Error.Message != "" {
		msg := envelope.Error.Message
		if envelope.Error.Type != "" {
			msg = envelope.Error.Type + ": " + msg
		}
		return nil, &krishierrors.ServiceError{Service: "llm", Op: "complete", StatusCode: http.StatusOK, Err: fmt.Errorf("%s", msg)}
	}
	c.logger.Debug("%sResponse %d bytes", prefix, len(respBody))
	return respBody, nil
}
