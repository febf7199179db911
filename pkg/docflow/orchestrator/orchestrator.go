// Package orchestrator sequences the workflow stages for each run, persists
// every transition and exposes the caller-facing operations: Start, Status,
// SubmitDecision, Result, ExportProvenance, Abandon, Recover and Wait.
//
// Each run gets its own background task. A task runs the stage graph until
// the run completes, fails, or suspends at strategy_ready; a suspended run has
// no task at all and is resumed by SubmitDecision, which rehydrates it from
// the store. The store is the source of truth: status reads always return the
// last committed record.
package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/event"
	"github.com/randalmurphal/docflow/pkg/docflow/experiment"
	"github.com/randalmurphal/docflow/pkg/docflow/graph"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

// ErrClosed is returned by operations on a closed orchestrator.
var ErrClosed = errors.New("orchestrator closed")

// Orchestrator owns the mutable run records while their stages execute.
// It is safe for concurrent use. Different runs proceed independently; the
// stages of one run never overlap.
type Orchestrator struct {
	store       store.Store
	tools       *tool.Registry
	experiments experiment.Source
	stages      *stage.Stages
	workflow    *graph.Compiled

	llmRetry    dferrors.RetryConfig
	rpm         int
	concurrency int
	persist     dferrors.RetryConfig
	clock       func() time.Time
	newID       func() string

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	events  *event.Bus
	ownBus  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	mu     sync.Mutex
	closed bool
	locks  map[string]*sync.Mutex
	tasks  map[string]*task
}

type task struct {
	cancel context.CancelFunc
	done   chan struct{}
}

// Option configures an Orchestrator.
type Option func(*Orchestrator)

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		if logger != nil {
			o.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder. Defaults to no-op.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(o *Orchestrator) {
		if m != nil {
			o.metrics = m
		}
	}
}

// WithSpans sets the span manager. Defaults to no-op.
func WithSpans(s observability.SpanManager) Option {
	return func(o *Orchestrator) {
		if s != nil {
			o.spans = s
		}
	}
}

// WithEventBus publishes run events on bus. The caller keeps ownership and
// closes it after the orchestrator. Defaults to a private bus.
func WithEventBus(bus *event.Bus) Option {
	return func(o *Orchestrator) {
		if bus != nil {
			o.events = bus
		}
	}
}

// WithLLMRetry sets the retry policy for LLM calls.
// Defaults to errors.DefaultRetry: three attempts, 2s/4s/8s backoff.
func WithLLMRetry(cfg dferrors.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.llmRetry = cfg
	}
}

// WithRequestsPerMinute limits LLM requests across all runs. Zero disables
// the limit.
func WithRequestsPerMinute(rpm int) Option {
	return func(o *Orchestrator) {
		o.rpm = rpm
	}
}

// WithPersistRetry sets the retry policy for run store commits.
func WithPersistRetry(cfg dferrors.RetryConfig) Option {
	return func(o *Orchestrator) {
		o.persist = cfg
	}
}

// WithConcurrency bounds how many documents Execute processes at once.
func WithConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.concurrency = n
	}
}

// WithClock sets the time source for timestamps.
func WithClock(clock func() time.Time) Option {
	return func(o *Orchestrator) {
		o.clock = clock
	}
}

// WithIDGenerator sets the run id generator. Defaults to random UUIDs.
func WithIDGenerator(gen func() string) Option {
	return func(o *Orchestrator) {
		o.newID = gen
	}
}

// New creates an orchestrator. client is wrapped with rate limiting and
// retry; tools and experiments are read-only collaborators.
func New(st store.Store, client llm.Client, tools *tool.Registry, experiments experiment.Source, opts ...Option) (*Orchestrator, error) {
	if st == nil || client == nil || tools == nil || experiments == nil {
		return nil, errors.New("orchestrator: store, llm client, tool registry and experiment source are required")
	}

	o := &Orchestrator{
		store:       st,
		tools:       tools,
		experiments: experiments,
		llmRetry:    dferrors.DefaultRetry,
		concurrency: stage.DefaultConcurrency,
		persist:     dferrors.PersistRetry,
		clock:       func() time.Time { return time.Now().UTC() },
		newID:       uuid.NewString,
		logger:      slog.Default(),
		metrics:     observability.NoopMetrics{},
		spans:       observability.NoopSpanManager{},
		locks:       make(map[string]*sync.Mutex),
		tasks:       make(map[string]*task),
	}
	for _, opt := range opts {
		opt(o)
	}
	if o.events == nil {
		o.events = event.NewBus(event.Config{
			OnDrop: func(evt event.Event, sub int64) {
				o.logger.Debug("run event dropped", "run_id", evt.RunID, "type", evt.Type, "subscriber", sub)
			},
		})
		o.ownBus = true
	}

	resilient := llm.NewResilient(client,
		llm.WithRetry(o.llmRetry),
		llm.WithRequestsPerMinute(o.rpm),
		llm.WithLogger(o.logger),
		llm.WithMetrics(o.metrics),
	)
	o.stages = stage.New(resilient, tools,
		stage.WithConcurrency(o.concurrency),
		stage.WithRecorderOptions(provenance.WithClock(o.clock)),
		stage.WithLogger(o.logger),
		stage.WithMetrics(o.metrics),
		stage.WithSpans(o.spans),
	)

	wf, err := o.stages.Workflow()
	if err != nil {
		return nil, fmt.Errorf("build workflow: %w", err)
	}
	o.workflow = wf
	o.ctx, o.cancel = context.WithCancel(context.Background())
	return o, nil
}

// Close cancels every running task and waits for them to stop. Runs that
// were mid-stage keep their last committed state and resume via Recover.
// The store is not closed.
func (o *Orchestrator) Close() error {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return nil
	}
	o.closed = true
	o.mu.Unlock()

	o.cancel()
	o.wg.Wait()
	if o.ownBus {
		return o.events.Close()
	}
	return nil
}

// Events returns the bus that receives a TypeCommitted event after every
// commit and a TypeTaskDone event when a run's task exits.
func (o *Orchestrator) Events() *event.Bus {
	return o.events
}

func (o *Orchestrator) publish(evt event.Event) {
	if err := o.events.Publish(evt); err != nil && !errors.Is(err, event.ErrClosed) {
		o.logger.Warn("publish run event", "run_id", evt.RunID, "error", err)
	}
}

func (o *Orchestrator) isClosed() bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.closed
}

// runLock returns the mutex that serializes commits for one run.
func (o *Orchestrator) runLock(runID string) *sync.Mutex {
	o.mu.Lock()
	defer o.mu.Unlock()
	l, ok := o.locks[runID]
	if !ok {
		l = &sync.Mutex{}
		o.locks[runID] = l
	}
	return l
}

func (o *Orchestrator) recorder() *provenance.Recorder {
	return provenance.NewRecorder(provenance.WithClock(o.clock))
}
