package classifier

import (
	"context"
	"encoding/base64"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
	"krishi/internal/logging"
)

func TestPredictMultipart(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/predict", r.URL.Path)
		file, _, err := r.FormFile("file")
		if !assert.NoError(t, err) {
			return
		}
		data, _ := io.ReadAll(file)
		assert.Equal(t, "JPEG", string(data))
		_, _ = w.Write([]byte(`{"class":"Tomato___Late_blight"}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, logging.Nop())
	p, err := client.Predict(context.Background(), "leaf.jpg", strings.NewReader("JPEG"))
	require.NoError(t, err)
	require.Equal(t, Prediction{Label: "Tomato___Late_blight", Crop: "Tomato", Disease: "Late blight"}, p)
}

func TestPredictFallsBackToBase64JSON(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/") {
			w.WriteHeader(http.StatusUnsupportedMediaType)
			return
		}
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		var body struct {
			Image string `json:"image"`
		}
		raw, _ := io.ReadAll(r.Body)
		assert.NoError(t, jsonx.Unmarshal(raw, &body))
		decoded, err := base64.StdEncoding.DecodeString(body.Image)
		assert.NoError(t, err)
		assert.Equal(t, "JPEG", string(decoded))
		_, _ = w.Write([]byte(`{"disease":"Potato___healthy","confidence":0.93}`))
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, logging.Nop())
	p, err := client.Predict(context.Background(), "", strings.NewReader("JPEG"))
	require.NoError(t, err)
	require.EqualValues(t, 2, calls.Load())
	require.Equal(t, "Potato", p.Crop)
	require.True(t, p.Healthy)
	require.InDelta(t, 0.93, p.Confidence, 1e-9)
}

func TestPredictFallbackFailureIsReported(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer server.Close()

	client := NewClient(Config{BaseURL: server.URL}, logging.Nop())
	_, err := client.Predict(context.Background(), "a.jpg", strings.NewReader("JPEG"))
	require.Error(t, err)
	var serviceErr *krishierrors.ServiceError
	require.ErrorAs(t, err, &serviceErr)
	require.Equal(t, http.StatusBadRequest, serviceErr.StatusCode)
	require.EqualValues(t, 2, calls.Load())
}

func TestPredictRejectsEmptyImage(t *testing.T) {
	client := NewClient(Config{BaseURL: "http://127.0.0.1:1"}, logging.Nop())
	_, err := client.Predict(context.Background(), "a.jpg", strings.NewReader(""))
	require.ErrorIs(t, err, krishierrors.ErrInvalidInput)
}

func TestSplitLabel(t *testing.T) {
	crop, disease := splitLabel("Corn_(maize)___Northern_Leaf_Blight")
	assert.Equal(t, "Corn (maize)", crop)
	assert.Equal(t, "Northern Leaf Blight", disease)

	crop, disease = splitLabel("early_blight")
	assert.Empty(t, crop)
	assert.Equal(t, "early blight", disease)
}
