// Package observability provides structured logging, metrics and tracing for
// docflow runs.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"io"
	"log/slog"
	"strings"
	"time"
)

// NewLogger builds a logger writing to w. format is "json" or "text"
// (default); level is one of debug, info, warn, error (default info).
func NewLogger(w io.Writer, format, level string) *slog.Logger {
	opts := &slog.HandlerOptions{Level: ParseLevel(level)}
	if strings.EqualFold(format, "json") {
		return slog.New(slog.NewJSONHandler(w, opts))
	}
	return slog.New(slog.NewTextHandler(w, opts))
}

// ParseLevel maps a level name to a slog.Level. Unknown names map to info.
func ParseLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// EnrichLogger adds run context to a logger.
// Returns a new logger with run_id and stage fields.
//
// Example:
//
//	enriched := EnrichLogger(logger, "run-123", "analyze")
//	enriched.Info("calling llm") // includes run_id, stage
func EnrichLogger(logger *slog.Logger, runID, stage string) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("run_id", runID),
		slog.String("stage", stage),
	)
}

// LogRunStart logs the start (or resumption) of a run's background task.
func LogRunStart(logger *slog.Logger, runID, experimentID, from string) {
	if logger == nil {
		return
	}
	logger.Info("run task starting",
		slog.String("run_id", runID),
		slog.String("experiment_id", experimentID),
		slog.String("from_stage", from),
	)
}

// LogRunSettled logs the status a run's task stopped at.
func LogRunSettled(logger *slog.Logger, runID, status string, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("run task settled",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRunError logs a run that ended in failure.
func LogRunError(logger *slog.Logger, runID string, err error, lastStage string) {
	if logger == nil {
		return
	}
	logger.Error("run failed",
		slog.String("run_id", runID),
		slog.String("error", err.Error()),
		slog.String("last_stage", lastStage),
	)
}

// LogStageStart logs stage execution start. The stage helpers expect a
// logger from EnrichLogger, which already carries run_id and stage.
func LogStageStart(logger *slog.Logger) {
	if logger == nil {
		return
	}
	logger.Debug("stage starting")
}

// LogStageComplete logs successful stage completion.
func LogStageComplete(logger *slog.Logger, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Info("stage completed", slog.Float64("duration_ms", durationMs))
}

// LogStageError logs stage execution error.
func LogStageError(logger *slog.Logger, err error) {
	if logger == nil {
		return
	}
	logger.Error("stage failed", slog.String("error", err.Error()))
}

// LogCommit logs a committed run record.
func LogCommit(logger *slog.Logger, runID, status string, version int64, sizeBytes int) {
	if logger == nil {
		return
	}
	logger.Debug("run committed",
		slog.String("run_id", runID),
		slog.String("status", status),
		slog.Int64("version", version),
		slog.Int("size_bytes", sizeBytes),
	)
}

// LogCommitError logs a failed commit attempt.
func LogCommitError(logger *slog.Logger, runID string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("run commit failed",
		slog.String("run_id", runID),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogLLMRetry logs a failed LLM attempt that may be retried.
func LogLLMRetry(logger *slog.Logger, stage string, attempt int, err error) {
	if logger == nil {
		return
	}
	logger.Warn("llm attempt failed",
		slog.String("stage", stage),
		slog.Int("attempt", attempt),
		slog.String("error", err.Error()),
	)
}

// LogToolError logs a failed tool invocation (non-fatal to the run).
func LogToolError(logger *slog.Logger, documentID, toolID string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("tool invocation failed",
		slog.String("document_id", documentID),
		slog.String("tool_id", toolID),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Milliseconds())
	}
}
