package tracing

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// TaskTracer provides tracing for a task's lifecycle: the run itself,
// each virtual user's iterations, and each HTTP call a Requester makes.
type TaskTracer struct {
	tracer trace.Tracer
}

// NewTaskTracer creates a new task tracer.
func NewTaskTracer() *TaskTracer {
	return &TaskTracer{
		tracer: otel.Tracer("promptloom.task"),
	}
}

// StartTask starts the span covering a TaskRuntime.Start call, alive
// until the task reaches its terminal state.
func (t *TaskTracer) StartTask(ctx context.Context, taskID, taskName string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "task",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrTaskID.String(taskID),
			AttrTaskName.String(taskName),
		),
	)
}

// StartVUserIteration starts a span around one virtual user's
// sample-shape-request-report cycle.
func (t *TaskTracer) StartVUserIteration(ctx context.Context, vuserIndex int) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "vuser.iteration",
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(
			AttrVUserIndex.Int(vuserIndex),
		),
	)
}

// StartRequest starts a span around one Requester.Do call.
func (t *TaskTracer) StartRequest(ctx context.Context, apiKind string) (context.Context, trace.Span) {
	return t.tracer.Start(ctx, "requester.do",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(
			AttrAPIKind.String(apiKind),
		),
	)
}

// RecordHTTPRequest records HTTP request details on a request span.
func (t *TaskTracer) RecordHTTPRequest(span trace.Span, method, url string, statusCode int, duration time.Duration) {
	span.SetAttributes(
		attribute.String("http.method", method),
		attribute.String("http.url", url),
		attribute.Int("http.status_code", statusCode),
		attribute.Int64("http.duration_ms", duration.Milliseconds()),
	)
}

// RecordStageSample records a measured stage (e.g.
// Time_to_first_output_token) on the current span.
func (t *TaskTracer) RecordStageSample(span trace.Span, stage string, elapsed time.Duration) {
	span.AddEvent("stage.sample",
		trace.WithAttributes(
			AttrStageName.String(stage),
			attribute.Int64("stage.elapsed_ms", elapsed.Milliseconds()),
		),
	)
}

// RecordOutcome marks a request span failed or succeeded.
func (t *TaskTracer) RecordOutcome(span trace.Span, outcome string, err error) {
	span.SetAttributes(attribute.String("requester.outcome", outcome))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(1, err.Error())
	}
}

// RecordTokenCounts records the token accounting extracted from a response.
func (t *TaskTracer) RecordTokenCounts(span trace.Span, promptTokens, completionTokens int64) {
	span.SetAttributes(
		attribute.Int64("tokens.prompt", promptTokens),
		attribute.Int64("tokens.completion", completionTokens),
	)
}
