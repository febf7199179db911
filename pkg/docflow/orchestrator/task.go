package orchestrator

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/docflow/pkg/docflow/event"
	"github.com/randalmurphal/docflow/pkg/docflow/experiment"
	"github.com/randalmurphal/docflow/pkg/docflow/graph"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

// launch starts the background task that drives runID from node `from`.
// A task for the same run that is still winding down is waited for first,
// so at most one task touches a run at a time.
func (o *Orchestrator) launch(runID string, exp *experiment.Experiment, from string) {
	o.mu.Lock()
	if o.closed {
		o.mu.Unlock()
		return
	}
	prev := o.tasks[runID]
	ctx, cancel := context.WithCancel(o.ctx)
	t := &task{cancel: cancel, done: make(chan struct{})}
	o.tasks[runID] = t
	o.wg.Add(1)
	o.mu.Unlock()

	go func() {
		defer o.wg.Done()
		defer o.finish(runID, t)

		if prev != nil {
			select {
			case <-prev.done:
			case <-ctx.Done():
				return
			}
		}
		o.execute(ctx, runID, exp, from)
	}()
}

func (o *Orchestrator) finish(runID string, t *task) {
	close(t.done)
	t.cancel()

	o.mu.Lock()
	if o.tasks[runID] == t {
		delete(o.tasks, runID)
	}
	o.mu.Unlock()

	o.publish(event.TaskDone(runID, o.clock()))
}

// execute runs the stage graph for one task, committing after every node.
func (o *Orchestrator) execute(ctx context.Context, runID string, exp *experiment.Experiment, from string) {
	r, err := o.store.Get(ctx, runID)
	if err != nil {
		if ctx.Err() == nil {
			observability.LogRunError(o.logger, runID, err, from)
		}
		return
	}
	if stage.ResumePoint(r) == "" {
		return
	}

	st := state.FromRun(r, exp.Description, exp.Documents, o.tools.Capabilities())
	status := r.Status

	ctx, span := o.spans.StartRunSpan(ctx, runID, r.ExperimentID)
	observability.LogRunStart(o.logger, runID, r.ExperimentID, from)
	elapsed := observability.TimedOperation()

	enter := func(ctx context.Context, nodeID string, s state.State) (state.State, error) {
		stg, err := run.ParseStage(nodeID)
		if err != nil {
			return s, err
		}
		next := s.Run
		next.AdvanceStage(stg)
		if next.Status == run.StatusCreated {
			next.Status = run.StatusAnalyzing
			now := o.clock()
			next.StartedAt = &now
		}
		if next.Status == s.Run.Status && next.CurrentStage == s.Run.CurrentStage {
			return s, nil
		}
		committed, err := o.commit(ctx, &next, status)
		if err != nil {
			return s, err
		}
		status = committed.Status
		s.Run = *committed
		return s, nil
	}

	commit := func(ctx context.Context, _ string, s state.State) (state.State, error) {
		next := s.Run
		if next.Status.IsTerminal() && next.CompletedAt == nil {
			now := o.clock()
			next.CompletedAt = &now
		}
		committed, err := o.commit(ctx, &next, status)
		if err != nil {
			return s, err
		}
		status = committed.Status
		s.Run = *committed
		return s, nil
	}

	out, err := o.workflow.Run(ctx, st,
		graph.WithStart(from),
		graph.WithEnter(enter),
		graph.WithCommit(commit),
		graph.WithLogger(o.logger),
		graph.WithMetrics(o.metrics),
		graph.WithSpans(o.spans),
	)
	o.spans.EndSpanWithError(span, err)

	if err != nil {
		if ctx.Err() != nil {
			return
		}
		last := graph.LastNode(err)
		observability.LogRunError(o.logger, runID, err, last)
		if out.Run.Status.IsTerminal() && isStageFailure(err) {
			return
		}
		o.failRun(context.WithoutCancel(ctx), runID, fmt.Errorf("%s: %w", last, err), last)
		return
	}
	observability.LogRunSettled(o.logger, runID, string(out.Run.Status), elapsed())
}

// isStageFailure reports whether err is a node that failed on its own and
// whose failure was already committed.
func isStageFailure(err error) bool {
	var ne *graph.NodeError
	return errors.As(err, &ne) && ne.Op == "execute"
}

// Recover resumes every run left non-terminal by a previous process. Runs
// waiting for a human decision are left alone; a run that was about to be
// auto-approved continues at review. It returns the number of tasks launched.
func (o *Orchestrator) Recover(ctx context.Context) (int, error) {
	if o.isClosed() {
		return 0, ErrClosed
	}
	runs, err := o.store.List(ctx, store.NonTerminal())
	if err != nil {
		return 0, fmt.Errorf("list unfinished runs: %w", err)
	}

	launched := 0
	for _, r := range runs {
		from := stage.ResumePoint(r)
		if from == "" || o.running(r.ID) {
			continue
		}
		exp, err := o.experiments.Load(ctx, r.ExperimentID)
		if err != nil {
			o.failRun(ctx, r.ID, fmt.Errorf("load experiment %s: %w", r.ExperimentID, err), r.CurrentStage.String())
			continue
		}
		o.logger.Info("resuming run", "run_id", r.ID, "status", string(r.Status), "from", from)
		o.launch(r.ID, exp, from)
		launched++
	}
	return launched, nil
}

// Wait blocks until the run is settled (terminal or waiting for review) and
// no task is working on it, then returns the committed run.
func (o *Orchestrator) Wait(ctx context.Context, runID string) (*run.Run, error) {
	changed := make(chan struct{}, 1)
	sub := o.events.Subscribe(runID, func(context.Context, event.Event) {
		select {
		case changed <- struct{}{}:
		default:
		}
	})
	defer sub.Unsubscribe()

	for {
		r, err := o.get(ctx, runID)
		if err != nil {
			return nil, err
		}
		if r.Status.IsSettled() && !o.running(runID) {
			return r, nil
		}
		select {
		case <-changed:
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

func (o *Orchestrator) running(runID string) bool {
	o.mu.Lock()
	defer o.mu.Unlock()
	_, ok := o.tasks[runID]
	return ok
}
