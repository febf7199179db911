// Package stage implements the five workflow stages as graph nodes:
// Analyze, Recommend, the Review gate, Execute and Synthesize.
//
// Each node reads a state.State and returns a state.Partial holding its
// outputs and the trace entries it recorded. LLM stages call through the
// Resilient wrapper, so every failed attempt shows up as an llm_retry entry
// ahead of the stage's own entry.
package stage

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

// DefaultConcurrency is the number of documents Execute processes at once.
const DefaultConcurrency = 4

// Stages holds the collaborators the stage nodes share.
type Stages struct {
	llm         *llm.Resilient
	tools       *tool.Registry
	concurrency int
	recOpts     []provenance.Option
	logger      *slog.Logger
	metrics     observability.MetricsRecorder
	spans       observability.SpanManager
}

// Option configures Stages.
type Option func(*Stages)

// WithConcurrency bounds how many documents Execute runs in parallel.
func WithConcurrency(n int) Option {
	return func(s *Stages) {
		if n > 0 {
			s.concurrency = n
		}
	}
}

// WithRecorderOptions passes options (clock, id generator) to every
// provenance recorder the stages create.
func WithRecorderOptions(opts ...provenance.Option) Option {
	return func(s *Stages) {
		s.recOpts = append(s.recOpts, opts...)
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Stages) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder used for tool invocations.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(s *Stages) {
		if m != nil {
			s.metrics = m
		}
	}
}

// WithSpans sets the span manager used for tool invocations.
func WithSpans(sm observability.SpanManager) Option {
	return func(s *Stages) {
		if sm != nil {
			s.spans = sm
		}
	}
}

// New creates the stage set.
func New(client *llm.Resilient, tools *tool.Registry, opts ...Option) *Stages {
	s := &Stages{
		llm:         client,
		tools:       tools,
		concurrency: DefaultConcurrency,
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *Stages) recorder() *provenance.Recorder {
	return provenance.NewRecorder(s.recOpts...)
}

// callOptions records one llm_retry entry per failed attempt.
func callOptions(stage run.Stage, rec *provenance.Recorder) llm.CallOptions {
	return llm.CallOptions{
		Stage: stage.String(),
		OnAttemptFailed: func(attempt int, err error) {
			rec.Record(run.ActivityLLMRetry, run.ActorSystem, nil, nil, map[string]any{
				"stage":   stage.String(),
				"attempt": attempt,
				"error":   err.Error(),
			})
		},
	}
}

// failed builds the partial for an LLM stage that gave up.
func failed(stage run.Stage, err error, rec *provenance.Recorder) (state.Partial, error) {
	msg := stage.String() + " failed: " + err.Error()
	return state.Partial{
		Status:       state.Ptr(run.StatusFailed),
		ErrorMessage: &msg,
		Trace:        rec.Entries(),
	}, &docflow.StageError{Stage: stage, Err: err}
}

// interrupted reports whether err is the caller's cancellation rather than a
// stage failure. An interrupted stage contributes nothing to the state.
func interrupted(ctx context.Context, err error) bool {
	return ctx.Err() != nil && (errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded))
}

func documentRefs(docs []run.DocumentRef) []string {
	refs := make([]string, 0, len(docs))
	for _, d := range docs {
		refs = append(refs, d.Ref())
	}
	return refs
}
