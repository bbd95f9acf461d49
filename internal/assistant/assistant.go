// Package assistant implements the farmer-facing features. Each feature owns
// a static task definition and an output shape; the submit and poll work is
// delegated to a tasks.Runner.
package assistant

import (
	"context"
	"strconv"
	"strings"
	"time"

	"krishi/internal/geo"
	"krishi/internal/jsonx"
	"krishi/internal/taskclient"
	"krishi/internal/tasks"
)

// Runner runs one execution of def to completion.
type Runner interface {
	Run(ctx context.Context, def taskclient.TaskDefinition, input taskclient.ExecutionRequest, opts tasks.RunOptions) (tasks.Result, error)
}

// Timing holds the poll settings of one feature.
type Timing struct {
	Interval time.Duration
	Timeout  time.Duration
}

func (t Timing) runOptions() tasks.RunOptions {
	return tasks.RunOptions{Interval: t.Interval, Timeout: t.Timeout}
}

// Quantity decodes a number that a model may have written as a string such
// as "25 kg". Unparseable values decode as zero.
type Quantity float64

func (q *Quantity) UnmarshalJSON(data []byte) error {
	text := strings.TrimSpace(string(data))
	if text == "null" {
		*q = 0
		return nil
	}
	if unquoted, err := strconv.Unquote(text); err == nil {
		text = unquoted
	}
	*q = Quantity(geo.ParsePrice(text))
	return nil
}

func (q Quantity) MarshalJSON() ([]byte, error) {
	return jsonx.Marshal(float64(q))
}

func formatNumber(f float64) string {
	return strconv.FormatFloat(f, 'f', -1, 64)
}
