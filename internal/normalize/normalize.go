// Package normalize turns terminal task output into text and typed values.
//
// LLM replies are semi-structured: JSON may arrive bare, inside a markdown
// fence, or surrounded by prose. ExtractStructured tries a strict parse first
// and only then falls back to the greedy brace match; callers rely on that
// order.
package normalize

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/kaptinlin/jsonrepair"

	krishierrors "krishi/internal/errors"
	"krishi/internal/jsonx"
)

var (
	leadingFence  = regexp.MustCompile("^```[A-Za-z0-9_+-]*[ \t]*\r?\n?")
	trailingFence = regexp.MustCompile("\r?\n?[ \t]*```$")
	greedyObject  = regexp.MustCompile(`(?s)\{.*\}`)
)

type envelope struct {
	Choices []struct {
		Message struct {
			Content *string `json:"content"`
		} `json:"message"`
	} `json:"choices"`
}

// ExtractText reads choices[0].message.content from payload. It returns
// ErrEmptyResponse when the field is absent or blank.
func ExtractText(payload []byte) (string, error) {
	content, ok := contentOf(payload)
	if !ok {
		// Some deployments double-encode the envelope as a JSON string.
		var inner string
		if err := jsonx.Unmarshal(payload, &inner); err == nil {
			content, ok = contentOf([]byte(inner))
		}
	}
	if !ok {
		return "", krishierrors.ErrEmptyResponse
	}
	content = strings.TrimSpace(content)
	if content == "" {
		return "", krishierrors.ErrEmptyResponse
	}
	return content, nil
}

func contentOf(payload []byte) (string, bool) {
	if len(payload) == 0 {
		return "", false
	}
	var env envelope
	if err := jsonx.Unmarshal(payload, &env); err != nil {
		return "", false
	}
	if len(env.Choices) == 0 || env.Choices[0].Message.Content == nil {
		return "", false
	}
	return *env.Choices[0].Message.Content, true
}

// StripFence trims text and removes a leading and trailing markdown code
// fence, with or without a language tag. Text without a leading fence is only
// trimmed.
func StripFence(text string) string {
	cleaned := strings.TrimSpace(text)
	if !strings.HasPrefix(cleaned, "```") {
		return cleaned
	}
	cleaned = leadingFence.ReplaceAllString(cleaned, "")
	cleaned = trailingFence.ReplaceAllString(cleaned, "")
	return strings.TrimSpace(cleaned)
}

// ExtractStructured decodes text into T: strict parse of the fence-stripped
// text, then a parse of the greedy {...} substring. Both failing yields
// ErrInvalidFormat.
func ExtractStructured[T any](text string) (T, error) {
	var zero T
	cleaned := StripFence(text)
	if cleaned == "" {
		return zero, fmt.Errorf("%w: empty text", krishierrors.ErrInvalidFormat)
	}

	var strict T
	strictErr := jsonx.Unmarshal([]byte(cleaned), &strict)
	if strictErr == nil {
		return strict, nil
	}

	candidate := greedyObject.FindString(cleaned)
	if candidate == "" {
		return zero, fmt.Errorf("%w: %v", krishierrors.ErrInvalidFormat, strictErr)
	}
	var lenient T
	if err := jsonx.Unmarshal([]byte(candidate), &lenient); err != nil {
		return zero, fmt.Errorf("%w: %v", krishierrors.ErrInvalidFormat, err)
	}
	return lenient, nil
}

// RepairStructured is a last resort for callers that already got
// ErrInvalidFormat from ExtractStructured: it runs the greedy substring (or
// the whole cleaned text) through jsonrepair before decoding.
func RepairStructured[T any](text string) (T, error) {
	var zero T
	cleaned := StripFence(text)
	candidate := greedyObject.FindString(cleaned)
	if candidate == "" {
		candidate = cleaned
	}
	if candidate == "" {
		return zero, fmt.Errorf("%w: empty text", krishierrors.ErrInvalidFormat)
	}
	repaired, err := jsonrepair.JSONRepair(candidate)
	if err != nil {
		return zero, fmt.Errorf("%w: repair: %v", krishierrors.ErrInvalidFormat, err)
	}
	var out T
	if err := jsonx.Unmarshal([]byte(repaired), &out); err != nil {
		return zero, fmt.Errorf("%w: %v", krishierrors.ErrInvalidFormat, err)
	}
	return out, nil
}

// Structured extracts the text of payload and decodes it into T.
func Structured[T any](payload []byte) (T, error) {
	var zero T
	text, err := ExtractText(payload)
	if err != nil {
		return zero, err
	}
	return ExtractStructured[T](text)
}
