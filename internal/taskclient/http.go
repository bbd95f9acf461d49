package taskclient

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const serviceName = "task-service"

// Config points an HTTPClient at a task service deployment.
type Config struct {
	BaseURL string
	APIKey  string
	Timeout time.Duration
	Headers map[string]string
}

// HTTPClient implements Client over the service's JSON API.
type HTTPClient struct {
	baseURL    string
	apiKey     string
	headers    map[string]string
	httpClient *http.Client
	logger     logging.Logger
}

// Option customizes an HTTPClient.
type Option func(*HTTPClient)

// WithHTTPClient replaces the default breaker-guarded HTTP client.
func WithHTTPClient(client *http.Client) Option {
	return func(c *HTTPClient) {
		if client != nil {
			c.httpClient = client
		}
	}
}

// WithLogger sets the client logger.
func WithLogger(logger logging.Logger) Option {
	return func(c *HTTPClient) {
		c.logger = logging.OrNop(logger)
	}
}

// NewHTTPClient builds a client for config.BaseURL.
func NewHTTPClient(config Config, opts ...Option) *HTTPClient {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	c := &HTTPClient{
		baseURL: strings.TrimRight(config.BaseURL, "/"),
		apiKey:  config.APIKey,
		headers: config.Headers,
		logger:  logging.NewComponentLogger("taskclient"),
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.httpClient == nil {
		c.httpClient = httpclient.NewWithCircuitBreaker(timeout, c.logger, serviceName, nil)
	}
	return c
}

type idResponse struct {
	ID          string `json:"id"`
	TaskID      string `json:"task_id"`
	ExecutionID string `json:"execution_id"`
}

func (r idResponse) value() string {
	for _, v := range []string{r.ID, r.TaskID, r.ExecutionID} {
		if strings.TrimSpace(v) != "" {
			return v
		}
	}
	return ""
}

// DefineTask registers def and returns the service-assigned identifier.
func (c *HTTPClient) DefineTask(ctx context.Context, def TaskDefinition) (TaskID, error) {
	if err := def.Validate(); err != nil {
		return "", err
	}
	var resp idResponse
	if err := c.doJSON(ctx, "define", http.MethodPost, "/tasks", def, &resp); err != nil {
		return "", err
	}
	id := resp.value()
	if id == "" {
		return "", &krishierrors.ServiceError{Service: serviceName, Op: "define", StatusCode: http.StatusOK, Err: fmt.Errorf("response carried no task id")}
	}
	logging.FromContext(ctx, c.logger).Info("defined task %q as %s", def.Name, id)
	return TaskID(id), nil
}

// StartExecution launches one execution of task with input.
func (c *HTTPClient) StartExecution(ctx context.Context, task TaskID, input ExecutionRequest) (ExecutionHandle, error) {
	if task == "" {
		return "", fmt.Errorf("%w: empty task id", krishierrors.ErrInvalidDefinition)
	}
	if err := input.Validate(); err != nil {
		return "", err
	}
	body := struct {
		Input ExecutionRequest `json:"input"`
	}{Input: input}
	if body.Input == nil {
		body.Input = ExecutionRequest{}
	}

	var resp idResponse
	path := "/tasks/" + url.PathEscape(string(task)) + "/executions"
	if err := c.doJSON(ctx, "start", http.MethodPost, path, body, &resp); err != nil {
		return "", err
	}
	handle := resp.value()
	if handle == "" {
		return "", &krishierrors.ServiceError{Service: serviceName, Op: "start", StatusCode: http.StatusOK, Err: fmt.Errorf("response carried no execution id")}
	}
	return ExecutionHandle(handle), nil
}

type statusResponse struct {
	Status string           `json:"status"`
	Output jsonx.RawMessage `json:"output"`
	Result jsonx.RawMessage `json:"result"`
	Error  jsonx.RawMessage `json:"error"`
}

// GetExecutionStatus reads the current state of handle. Every failure to
// obtain a report is ErrServiceUnavailable; a failed execution is a report,
// not an error.
func (c *HTTPClient) GetExecutionStatus(ctx context.Context, handle ExecutionHandle) (StatusReport, error) {
	if handle == "" {
		return StatusReport{}, fmt.Errorf("%w: empty execution handle", krishierrors.ErrInvalidInput)
	}
	var resp statusResponse
	path := "/executions/" + url.PathEscape(string(handle))
	if err := c.doJSON(ctx, "status", http.MethodGet, path, nil, &resp); err != nil {
		if ctx.Err() != nil {
			return StatusReport{}, err
		}
		return StatusReport{}, fmt.Errorf("%w: %w", krishierrors.ErrServiceUnavailable, err)
	}

	status, known := ParseStatus(resp.Status)
	if !known {
		logging.FromContext(ctx, c.logger).Warn("execution %s reported unknown status %q", handle, resp.Status)
	}
	report := StatusReport{Status: status, Output: resp.Output}
	if len(report.Output) == 0 || string(report.Output) == "null" {
		report.Output = resp.Result
	}
	if status == StatusFailed {
		report.Error = &ErrorDetail{Message: errorMessage(resp.Error)}
	}
	return report, nil
}

// errorMessage accepts both {"message": "..."} and a bare string.
func errorMessage(raw jsonx.RawMessage) string {
	if len(raw) == 0 {
		return ""
	}
	var detail ErrorDetail
	if err := jsonx.Unmarshal(raw, &detail); err == nil {
		return detail.Message
	}
	var text string
	if err := jsonx.Unmarshal(raw, &text); err == nil {
		return text
	}
	return ""
}

func (c *HTTPClient) doJSON(ctx context.Context, op, method, path string, body, out any) error {
	var reader *bytes.Reader
	if body != nil {
		payload, err := jsonx.Marshal(body)
		if err != nil {
			return fmt.Errorf("marshal %s request: %w", op, err)
		}
		reader = bytes.NewReader(payload)
	}

	var req *http.Request
	var err error
	if reader != nil {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	} else {
		req, err = http.NewRequestWithContext(ctx, method, c.baseURL+path, nil)
	}
	if err != nil {
		return fmt.Errorf("build %s request: %w", op, err)
	}
	req.Header.Set("Accept", "application/json")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if c.apiKey != "" {
		req.Header.Set("Authorization", "Bearer "+c.apiKey)
	}
	for k, v := range c.headers {
		req.Header.Set(k, v)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return fmt.Errorf("task service %s: %w", op, ctxErr)
		}
		return &krishierrors.ServiceError{Service: serviceName, Op: op, Err: err}
	}
	data, err := httpclient.ReadResponse(resp)
	if err != nil {
		return &krishierrors.ServiceError{Service: serviceName, Op: op, StatusCode: resp.StatusCode, Err: err}
	}
	if !httpclient.IsSuccess(resp.StatusCode) {
		return &krishierrors.ServiceError{Service: serviceName, Op: op, StatusCode: resp.StatusCode, Body: string(data)}
	}
	if out == nil {
		return nil
	}
	if err := jsonx.Unmarshal(data, out); err != nil {
		return &krishierrors.ServiceError{Service: serviceName, Op: op, StatusCode: resp.StatusCode, Body: string(data), Err: fmt.Errorf("decode response: %w", err)}
	}
	return nil
}
