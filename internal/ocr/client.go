// Package ocr extracts text from images of soil reports and labels through an
// OCR.space-compatible service.
package ocr

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strconv"
	"strings"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const serviceName = "ocr"

// Config points the client at the service.
type Config struct {
	BaseURL  string
	APIKey   string
	Language string
	Timeout  time.Duration
}

// Options tune one request.
type Options struct {
	Language string
	IsTable  bool
}

// Result is the text recovered from one image.
type Result struct {
	Text  string   `json:"text"`
	Pages []string `json:"pages"`
}

// Client uploads images for recognition.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a client. An empty BaseURL targets api.ocr.space.
func NewClient(config Config, logger logging.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.BaseURL == "" {
		config.BaseURL = "https://api.ocr.space"
	}
	if config.Language == "" {
		config.Language = "eng"
	}
	if config.Timeout <= 0 {
		config.Timeout = 60 * time.Second
	}
	if logging.IsNil(logger) {
		logger = logging.NewComponentLogger(serviceName)
	}
	return &Client{
		config:     config,
		httpClient: httpclient.NewWithCircuitBreaker(config.Timeout, logger, serviceName, nil),
		logger:     logger,
	}
}

type parseResponse struct {
	ParsedResults []struct {
		ParsedText string `json:"ParsedText"`
	} `json:"ParsedResults"`
	IsErroredOnProcessing bool             `json:"IsErroredOnProcessing"`
	ErrorMessage          jsonx.RawMessage `json:"ErrorMessage"`
}

// Recognize uploads image and returns the parsed text.
func (c *Client) Recognize(ctx context.Context, filename string, image io.Reader, opts Options) (Result, error) {
	if image == nil {
		return Result{}, fmt.Errorf("%w: no image", krishierrors.ErrInvalidInput)
	}
	language := opts.Language
	if language == "" {
		language = c.config.Language
	}
	if filename == "" {
		filename = "image.jpg"
	}

	var body bytes.Buffer
	writer := multipart.NewWriter(&body)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return Result{}, err
	}
	if _, err := io.Copy(part, image); err != nil {
		return Result{}, fmt.Errorf("read image: %w", err)
	}
	fields := map[string]string{
		"apikey":   c.config.APIKey,
		"language": language,
		"isTable":  strconv.FormatBool(opts.IsTable),
	}
	for k, v := range fields {
		if err := writer.WriteField(k, v); err != nil {
			return Result{}, err
		}
	}
	if err := writer.Close(); err != nil {
		return Result{}, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/parse/image", &body)
	if err != nil {
		return Result{}, err
	}
	req.Header.Set("Content-Type", writer.FormDataContentType())

	data, err := httpclient.Do(c.httpClient, req, serviceName, "parse")
	if err != nil {
		return Result{}, err
	}

	var parsed parseResponse
	if err := jsonx.Unmarshal(data, &parsed); err != nil {
		return Result{}, fmt.Errorf("%w: ocr response: %v", krishierrors.ErrInvalidFormat, err)
	}
	if parsed.IsErroredOnProcessing {
		message := errorMessage(parsed.ErrorMessage)
		c.logger.Warn("ocr processing failed: %s", message)
		return Result{}, &krishierrors.TaskFailedError{Message: message}
	}

	result := Result{}
	for _, page := range parsed.ParsedResults {
		result.Pages = append(result.Pages, page.ParsedText)
	}
	result.Text = strings.TrimSpace(strings.Join(result.Pages, "\n"))
	if result.Text == "" {
		return result, krishierrors.ErrEmptyResponse
	}
	return result, nil
}

// errorMessage accepts the service's string or string-array forms.
func errorMessage(raw jsonx.RawMessage) string {
	if len(raw) == 0 {
		return "OCR processing failed"
	}
	var single string
	if err := jsonx.Unmarshal(raw, &single); err == nil && single != "" {
		return single
	}
	var many []string
	if err := jsonx.Unmarshal(raw, &many); err == nil && len(many) > 0 {
		return strings.Join(many, "; ")
	}
	return "OCR processing failed"
}
