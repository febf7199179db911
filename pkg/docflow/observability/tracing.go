package observability

import (
	"context"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// tracer uses the global OTel tracer provider.
var tracer = otel.Tracer("docflow")

// SpanManager handles trace span lifecycle.
// Use NewSpanManager() for OTel tracing or NoopSpanManager{} when disabled.
type SpanManager interface {
	// StartRunSpan starts a span covering one pass of a run's task.
	StartRunSpan(ctx context.Context, runID, experimentID string) (context.Context, trace.Span)

	// StartStageSpan starts a child span for one stage.
	StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span)

	// StartToolSpan starts a child span for one (document, tool) invocation.
	StartToolSpan(ctx context.Context, documentID, toolID string) (context.Context, trace.Span)

	// EndSpanWithError completes a span, optionally recording an error.
	EndSpanWithError(span trace.Span, err error)

	// AddSpanEvent adds an event to the current span in context.
	AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue)
}

type otelSpanManager struct{}

// NewSpanManager returns a SpanManager that uses OpenTelemetry.
func NewSpanManager() SpanManager {
	return &otelSpanManager{}
}

func (m *otelSpanManager) StartRunSpan(ctx context.Context, runID, experimentID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "docflow.run",
		trace.WithAttributes(
			attribute.String("run.id", runID),
			attribute.String("experiment.id", experimentID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartStageSpan(ctx context.Context, stage string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "docflow.stage."+stage,
		trace.WithAttributes(attribute.String("stage", stage)),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) StartToolSpan(ctx context.Context, documentID, toolID string) (context.Context, trace.Span) {
	return tracer.Start(ctx, "docflow.tool."+toolID,
		trace.WithAttributes(
			attribute.String("document.id", documentID),
			attribute.String("tool.id", toolID),
		),
		trace.WithSpanKind(trace.SpanKindInternal),
	)
}

func (m *otelSpanManager) EndSpanWithError(span trace.Span, err error) {
	if span == nil {
		return
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	span.End()
}

func (m *otelSpanManager) AddSpanEvent(ctx context.Context, name string, attrs ...attribute.KeyValue) {
	span := trace.SpanFromContext(ctx)
	if !span.IsRecording() {
		return
	}
	span.AddEvent(name, trace.WithAttributes(attrs...))
}
