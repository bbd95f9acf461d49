package normalize

import (
	"strconv"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	krishierrors "krishi/internal/errors"
)

func TestExtractText(t *testing.T) {
	payload := []byte(`{"choices":[{"message":{"role":"assistant","content":"  Water early in the morning.  "}}]}`)
	text, err := ExtractText(payload)
	require.NoError(t, err)
	require.Equal(t, "Water early in the morning.", text)
}

func TestExtractTextDoubleEncodedEnvelope(t *testing.T) {
	inner := `{"choices":[{"message":{"content":"namaste"}}]}`
	text, err := ExtractText([]byte(strconv.Quote(inner)))
	require.NoError(t, err)
	require.Equal(t, "namaste", text)
}

func TestExtractTextEmpty(t *testing.T) {
	cases := map[string]string{
		"no payload":    ``,
		"no choices":    `{"choices":[]}`,
		"missing field": `{"choices":[{"message":{}}]}`,
		"blank content": `{"choices":[{"message":{"content":"   \n"}}]}`,
		"not json":      `oops`,
	}
	for name, payload := range cases {
		t.Run(name, func(t *testing.T) {
			_, err := ExtractText([]byte(payload))
			require.ErrorIs(t, err, krishierrors.ErrEmptyResponse)
		})
	}
}

func TestStripFence(t *testing.T) {
	assert.Equal(t, `{"a":1}`, StripFence("```json\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("```\n{\"a\":1}\n```"))
	assert.Equal(t, `{"a":1}`, StripFence("  ```JSON {\"a\":1}```  "))
	assert.Equal(t, `plain {"a":1}`, StripFence("  plain {\"a\":1} "))
}

type cropAdvice struct {
	Crop     string   `json:"crop"`
	Score    float64  `json:"score"`
	Seasons  []string `json:"seasons"`
	Irrigate bool     `json:"irrigate"`
}

func TestExtractStructuredRecoversFencedObject(t *testing.T) {
	want := cropAdvice{Crop: "Tomato", Score: 0.82, Seasons: []string{"rabi", "zaid"}, Irrigate: true}
	fenced := "```json\n{\"crop\":\"Tomato\",\"score\":0.82,\"seasons\":[\"rabi\",\"zaid\"],\"irrigate\":true}\n```"

	got, err := ExtractStructured[cropAdvice](fenced)
	require.NoError(t, err)
	require.Equal(t, want, got)
}

func TestExtractStructuredFallsBackToGreedySubstring(t *testing.T) {
	got, err := ExtractStructured[map[string]any]("Sure! Here's the result: {\"a\":1} Hope that helps!")
	require.NoError(t, err)
	require.Equal(t, map[string]any{"a": float64(1)}, got)
}

func TestExtractStructuredPrefersStrictParse(t *testing.T) {
	// A strict parse of a JSON array must win; the greedy fallback would only
	// see the first object.
	got, err := ExtractStructured[[]map[string]int](`[{"a":1},{"b":2}]`)
	require.NoError(t, err)
	require.Len(t, got, 2)
}

func TestExtractStructuredGreedyIsFirstToLastBrace(t *testing.T) {
	_, err := ExtractStructured[map[string]any](`first {"a":1} and then {"b":2}`)
	require.ErrorIs(t, err, krishierrors.ErrInvalidFormat)
}

func TestExtractStructuredInvalid(t *testing.T) {
	for _, text := range []string{"", "no json here", "{broken", "```json\n{\"a\":}\n```"} {
		_, err := ExtractStructured[map[string]any](text)
		require.ErrorIs(t, err, krishierrors.ErrInvalidFormat, "text %q", text)
	}
}

func TestRepairStructuredFixesTrailingCommaAndQuotes(t *testing.T) {
	text := "Here you go: {'crop': 'Wheat', 'score': 0.5,}"
	_, err := ExtractStructured[cropAdvice](text)
	require.ErrorIs(t, err, krishierrors.ErrInvalidFormat)

	got, err := RepairStructured[cropAdvice](text)
	require.NoError(t, err)
	require.Equal(t, "Wheat", got.Crop)
	require.InDelta(t, 0.5, got.Score, 1e-9)
}

func TestStructuredFromPayload(t *testing.T) {
	payload := []byte(`{"choices":[{"message":{"content":"` + "```json\\n{\\\"crop\\\":\\\"Rice\\\"}\\n```" + `"}}]}`)
	got, err := Structured[cropAdvice](payload)
	require.NoError(t, err)
	require.Equal(t, "Rice", got.Crop)
}
