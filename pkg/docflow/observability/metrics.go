package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records docflow metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordStage records a stage execution with its duration and error status.
	RecordStage(ctx context.Context, stage string, duration time.Duration, err error)

	// RecordLLMAttempt records one LLM call attempt.
	RecordLLMAttempt(ctx context.Context, stage string, attempt int, err error)

	// RecordToolInvocation records one (document, tool) invocation.
	RecordToolInvocation(ctx context.Context, toolID string, duration time.Duration, err error)

	// RecordTransition records a committed status change.
	RecordTransition(ctx context.Context, from, to string)

	// RecordCommit records the encoded size of a committed run.
	RecordCommit(ctx context.Context, status string, sizeBytes int64)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	stageExecutions metric.Int64Counter
	stageLatency    metric.Float64Histogram
	stageErrors     metric.Int64Counter
	llmAttempts     metric.Int64Counter
	toolInvocations metric.Int64Counter
	toolErrors      metric.Int64Counter
	runTransitions  metric.Int64Counter
	commitSize      metric.Int64Histogram
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("docflow")
	m := &otelMetrics{}
	var err error

	if m.stageExecutions, err = meter.Int64Counter("docflow.stage.executions",
		metric.WithDescription("Number of stage executions"),
	); err != nil {
		return nil, err
	}
	if m.stageLatency, err = meter.Float64Histogram("docflow.stage.latency_ms",
		metric.WithDescription("Stage execution latency in milliseconds"),
		metric.WithUnit("ms"),
	); err != nil {
		return nil, err
	}
	if m.stageErrors, err = meter.Int64Counter("docflow.stage.errors",
		metric.WithDescription("Number of failed stage executions"),
	); err != nil {
		return nil, err
	}
	if m.llmAttempts, err = meter.Int64Counter("docflow.llm.attempts",
		metric.WithDescription("Number of LLM call attempts"),
	); err != nil {
		return nil, err
	}
	if m.toolInvocations, err = meter.Int64Counter("docflow.tool.invocations",
		metric.WithDescription("Number of tool invocations"),
	); err != nil {
		return nil, err
	}
	if m.toolErrors, err = meter.Int64Counter("docflow.tool.errors",
		metric.WithDescription("Number of failed tool invocations"),
	); err != nil {
		return nil, err
	}
	if m.runTransitions, err = meter.Int64Counter("docflow.run.transitions",
		metric.WithDescription("Number of committed run status transitions"),
	); err != nil {
		return nil, err
	}
	if m.commitSize, err = meter.Int64Histogram("docflow.store.commit_size_bytes",
		metric.WithDescription("Encoded run size per commit"),
		metric.WithUnit("By"),
	); err != nil {
		return nil, err
	}

	return m, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function.
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

func (m *otelMetrics) RecordStage(ctx context.Context, stage string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("stage", stage))

	m.stageExecutions.Add(ctx, 1, attrs)
	m.stageLatency.Record(ctx, float64(duration.Milliseconds()), attrs)
	if err != nil {
		m.stageErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordLLMAttempt(ctx context.Context, stage string, attempt int, err error) {
	m.llmAttempts.Add(ctx, 1, metric.WithAttributes(
		attribute.String("stage", stage),
		attribute.Int("attempt", attempt),
		attribute.Bool("success", err == nil),
	))
}

func (m *otelMetrics) RecordToolInvocation(ctx context.Context, toolID string, _ time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("tool_id", toolID))

	m.toolInvocations.Add(ctx, 1, attrs)
	if err != nil {
		m.toolErrors.Add(ctx, 1, attrs)
	}
}

func (m *otelMetrics) RecordTransition(ctx context.Context, from, to string) {
	m.runTransitions.Add(ctx, 1, metric.WithAttributes(
		attribute.String("from", from),
		attribute.String("to", to),
	))
}

func (m *otelMetrics) RecordCommit(ctx context.Context, status string, sizeBytes int64) {
	m.commitSize.Record(ctx, sizeBytes, metric.WithAttributes(attribute.String("status", status)))
}
