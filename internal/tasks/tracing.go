package tasks

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	krishierrors "krishi/internal/errors"
)

const (
	traceScopeTasks = "krishi.tasks"
	traceSpanRun    = "krishi.task.run"

	traceAttrTask     = "krishi.task"
	traceAttrActionID = "krishi.action_id"
	traceAttrHandle   = "krishi.execution"
	traceAttrAttempts = "krishi.poll_attempts"
	traceAttrOutcome  = "krishi.outcome"
)

func startRunSpan(ctx context.Context, task, actionID string) (context.Context, trace.Span) {
	return otel.Tracer(traceScopeTasks).Start(ctx, traceSpanRun, trace.WithAttributes(
		attribute.String(traceAttrTask, task),
		attribute.String(traceAttrActionID, actionID),
	))
}

func markSpanResult(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		span.SetAttributes(attribute.String(traceAttrOutcome, string(krishierrors.KindOf(err))))
		return
	}
	span.SetStatus(codes.Ok, "")
	span.SetAttributes(attribute.String(traceAttrOutcome, "success"))
}
