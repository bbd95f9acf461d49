// Package classifier identifies crop diseases from leaf photos using a
// hosted image-classification model.
package classifier

import (
	"bytes"
	"context"
	"encoding/base64"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"strings"
	"time"

	krishierrors "krishi/internal/errors"
	"krishi/internal/httpclient"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

const (
	serviceName = "classifier"
	// MaxImageBytes bounds uploads.
	MaxImageBytes int64 = 10 << 20
)

// Config points the client at the model server.
type Config struct {
	BaseURL string
	Timeout time.Duration
}

// Prediction is the classifier's answer.
type Prediction struct {
	// Label is the raw class, e.g. "Tomato___Late_blight".
	Label      string  `json:"label"`
	Crop       string  `json:"crop,omitempty"`
	Disease    string  `json:"disease"`
	Confidence float64 `json:"confidence,omitempty"`
	Healthy    bool    `json:"healthy"`
}

// Client calls POST {base}/predict.
type Client struct {
	config     Config
	httpClient *http.Client
	logger     logging.Logger
}

// NewClient builds a client for config.BaseURL.
func NewClient(config Config, logger logging.Logger) *Client {
	config.BaseURL = strings.TrimRight(config.BaseURL, "/")
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
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

// Predict classifies image. The image is sent as multipart form data first;
// if the server answers with a non-2xx status the same image is sent once
// more as base64 inside a JSON body. No other retry happens.
func (c *Client) Predict(ctx context.Context, filename string, image io.Reader) (Prediction, error) {
	if c.config.BaseURL == "" {
		return Prediction{}, fmt.Errorf("%w: classifier endpoint is not configured", krishierrors.ErrInvalidInput)
	}
	if image == nil {
		return Prediction{}, fmt.Errorf("%w: no image", krishierrors.ErrInvalidInput)
	}
	data, err := httpclient.ReadAllWithLimit(image, MaxImageBytes)
	if err != nil {
		if httpclient.IsResponseTooLarge(err) {
			return Prediction{}, fmt.Errorf("%w: image larger than %d bytes", krishierrors.ErrInvalidInput, MaxImageBytes)
		}
		return Prediction{}, fmt.Errorf("read image: %w", err)
	}
	if len(data) == 0 {
		return Prediction{}, fmt.Errorf("%w: empty image", krishierrors.ErrInvalidInput)
	}
	if filename == "" {
		filename = "leaf.jpg"
	}
	logger := logging.FromContext(ctx, c.logger)

	status, body, err := c.postMultipart(ctx, filename, data)
	if err != nil {
		return Prediction{}, err
	}
	if !httpclient.IsSuccess(status) {
		logger.Info("multipart predict answered %d, retrying as base64 JSON", status)
		status, body, err = c.postJSON(ctx, data)
		if err != nil {
			return Prediction{}, err
		}
		if !httpclient.IsSuccess(status) {
			return Prediction{}, &krishierrors.ServiceError{Service: serviceName, Op: "predict", StatusCode: status, Body: string(body)}
		}
	}
	return parsePrediction(body)
}

func (c *Client) postMultipart(ctx context.Context, filename string, data []byte) (int, []byte, error) {
	var buf bytes.Buffer
	writer := multipart.NewWriter(&buf)
	part, err := writer.CreateFormFile("file", filename)
	if err != nil {
		return 0, nil, err
	}
	if _, err := part.Write(data); err != nil {
		return 0, nil, err
	}
	if err := writer.Close(); err != nil {
		return 0, nil, err
	}
	return c.post(ctx, writer.FormDataContentType(), &buf)
}

func (c *Client) postJSON(ctx context.Context, data []byte) (int, []byte, error) {
	payload, err := jsonx.Marshal(map[string]string{"image": base64.StdEncoding.EncodeToString(data)})
	if err != nil {
		return 0, nil, err
	}
	return c.post(ctx, "application/json", bytes.NewReader(payload))
}

func (c *Client) post(ctx context.Context, contentType string, body io.Reader) (int, []byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, c.config.BaseURL+"/predict", body)
	if err != nil {
		return 0, nil, err
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("Accept", "application/json")
	resp, err := c.httpClient.Do(req)
	if err != nil {
		if ctxErr := ctx.Err(); ctxErr != nil {
			return 0, nil, ctxErr
		}
		return 0, nil, &krishierrors.ServiceError{Service: serviceName, Op: "predict", Err: err}
	}
	data, err := httpclient.ReadResponse(resp)
	if err != nil {
		return 0, nil, &krishierrors.ServiceError{Service: serviceName, Op: "predict", StatusCode: resp.StatusCode, Err: err}
	}
	return resp.StatusCode, data, nil
}

func parsePrediction(body []byte) (Prediction, error) {
	var raw struct {
		Class      string   `json:"class"`
		Disease    string   `json:"disease"`
		Confidence *float64 `json:"confidence"`
	}
	if err := jsonx.Unmarshal(body, &raw); err != nil {
		return Prediction{}, fmt.Errorf("%w: classifier response: %v", krishierrors.ErrInvalidFormat, err)
	}
	label := strings.TrimSpace(raw.Class)
	if label == "" {
		label = strings.TrimSpace(raw.Disease)
	}
	if label == "" {
		return Prediction{}, fmt.Errorf("%w: classifier returned no class", krishierrors.ErrEmptyResponse)
	}
	p := Prediction{Label: label}
	if raw.Confidence != nil {
		p.Confidence = *raw.Confidence
	}
	p.Crop, p.Disease = splitLabel(label)
	p.Healthy = strings.EqualFold(p.Disease, "healthy")
	return p, nil
}

// splitLabel turns "Tomato___Late_blight" into ("Tomato", "Late blight").
// Labels without a crop prefix are returned as the disease.
func splitLabel(label string) (crop, disease string) {
	if before, after, ok := strings.Cut(label, "___"); ok {
		return humanize(before), humanize(after)
	}
	return "", humanize(label)
}

func humanize(s string) string {
	s = strings.ReplaceAll(s, "_", " ")
	return strings.Join(strings.Fields(s), " ")
}
