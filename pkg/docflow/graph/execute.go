package graph

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"time"

	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

// HookFunc runs around a node with the current state and returns the state
// to continue with. A commit hook typically persists the state and returns it
// with the new store version.
type HookFunc func(ctx context.Context, nodeID string, s state.State) (state.State, error)

type runConfig struct {
	start         string
	maxIterations int
	enter         HookFunc
	commit        HookFunc
	logger        *slog.Logger
	metrics       observability.MetricsRecorder
	spans         observability.SpanManager
}

func defaultRunConfig() runConfig {
	return runConfig{
		maxIterations: 100,
		logger:        slog.Default(),
		metrics:       observability.NoopMetrics{},
		spans:         observability.NoopSpanManager{},
	}
}

// RunOption configures one Run call.
type RunOption func(*runConfig)

// WithStart starts execution at id instead of the entry point. Used to
// resume a run from its committed stage.
func WithStart(id string) RunOption {
	return func(c *runConfig) {
		c.start = id
	}
}

// WithMaxIterations caps the number of node executions. Default: 100.
func WithMaxIterations(n int) RunOption {
	return func(c *runConfig) {
		if n > 0 {
			c.maxIterations = n
		}
	}
}

// WithEnter sets a hook called before each node runs.
func WithEnter(fn HookFunc) RunOption {
	return func(c *runConfig) {
		c.enter = fn
	}
}

// WithCommit sets a hook called after each node's partial is merged,
// including when the node returned an error.
func WithCommit(fn HookFunc) RunOption {
	return func(c *runConfig) {
		c.commit = fn
	}
}

// WithLogger sets the logger.
func WithLogger(logger *slog.Logger) RunOption {
	return func(c *runConfig) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) RunOption {
	return func(c *runConfig) {
		if m != nil {
			c.metrics = m
		}
	}
}

// WithSpans sets the span manager.
func WithSpans(s observability.SpanManager) RunOption {
	return func(c *runConfig) {
		if s != nil {
			c.spans = s
		}
	}
}

// Run executes nodes from the entry point (or WithStart) until a router or
// edge reaches END, a node fails, or ctx is done.
//
// The returned state is always the latest merged state, including on error.
// The context is checked before every node; a done context yields a
// *CancellationError without running the node.
func (c *Compiled) Run(ctx context.Context, s state.State, opts ...RunOption) (state.State, error) {
	cfg := defaultRunConfig()
	for _, opt := range opts {
		opt(&cfg)
	}

	current := c.entryPoint
	if cfg.start != "" {
		if _, ok := c.nodes[cfg.start]; !ok {
			return s, fmt.Errorf("%w: %s", ErrInvalidStart, cfg.start)
		}
		current = cfg.start
	}

	for iterations := 0; current != END; iterations++ {
		if iterations >= cfg.maxIterations {
			return s, &MaxIterationsError{Max: cfg.maxIterations, LastNodeID: current}
		}

		if err := ctx.Err(); err != nil {
			return s, &CancellationError{NodeID: current, Cause: err}
		}

		var err error
		s, err = c.step(ctx, current, s, &cfg)
		if err != nil {
			return s, err
		}

		next, err := c.nextNode(ctx, current, s)
		if err != nil {
			return s, err
		}
		current = next
	}
	return s, nil
}

// step runs one node with its hooks and observability.
func (c *Compiled) step(ctx context.Context, nodeID string, s state.State, cfg *runConfig) (state.State, error) {
	logger := observability.EnrichLogger(cfg.logger, s.RunID(), nodeID)

	if cfg.enter != nil {
		entered, err := cfg.enter(ctx, nodeID, s)
		if err != nil {
			return s, &NodeError{NodeID: nodeID, Op: "enter", Err: err}
		}
		s = entered
	}

	observability.LogStageStart(logger)
	nodeCtx, span := cfg.spans.StartStageSpan(ctx, nodeID)
	start := time.Now()

	partial, nodeErr := c.executeNode(nodeCtx, nodeID, s)

	duration := time.Since(start)
	cfg.metrics.RecordStage(nodeCtx, nodeID, duration, nodeErr)
	cfg.spans.EndSpanWithError(span, nodeErr)

	var panicErr *PanicError
	if errors.As(nodeErr, &panicErr) {
		observability.LogStageError(logger, nodeErr)
		return s, nodeErr
	}

	s = state.Merge(s, partial)

	if cfg.commit != nil {
		committed, err := cfg.commit(ctx, nodeID, s)
		if err != nil {
			observability.LogStageError(logger, err)
			return s, &NodeError{NodeID: nodeID, Op: "commit", Err: errors.Join(err, nodeErr)}
		}
		s = committed
	}

	if nodeErr != nil {
		observability.LogStageError(logger, nodeErr)
		return s, &NodeError{NodeID: nodeID, Op: "execute", Err: nodeErr}
	}
	observability.LogStageComplete(logger, float64(duration.Milliseconds()))
	return s, nil
}

// executeNode runs a node with panic recovery.
func (c *Compiled) executeNode(ctx context.Context, nodeID string, s state.State) (p state.Partial, err error) {
	fn := c.nodes[nodeID]

	defer func() {
		if r := recover(); r != nil {
			p = state.Partial{}
			err = &PanicError{NodeID: nodeID, Value: r, Stack: string(debug.Stack())}
		}
	}()

	return fn(ctx, s.Clone())
}

// nextNode checks the conditional edge first, then the simple edge.
func (c *Compiled) nextNode(ctx context.Context, current string, s state.State) (string, error) {
	if router, ok := c.conditionalEdges[current]; ok {
		next := router(ctx, s)
		if next == "" {
			return "", &RouterError{FromNode: current, Returned: next, Err: ErrInvalidRouterResult}
		}
		if next != END {
			if _, ok := c.nodes[next]; !ok {
				return "", &RouterError{FromNode: current, Returned: next, Err: ErrRouterTargetNotFound}
			}
		}
		return next, nil
	}

	to, ok := c.edges[current]
	if !ok {
		return "", &NodeError{NodeID: current, Op: "routing", Err: ErrNoOutgoingEdge}
	}
	return to, nil
}
