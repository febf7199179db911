package orchestrator

import (
	"context"
	"errors"
	"strings"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/experiment"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

// StartOptions configures a new run.
type StartOptions struct {
	// UserID owns the run. Defaults to the experiment's user.
	UserID string
	// ReviewRequired suspends the run at strategy_ready until a decision is
	// submitted. When false the recommendation is approved automatically.
	ReviewRequired bool
}

// Start creates a run for the experiment and begins Analyze and Recommend in
// the background. The returned id is usable immediately with Status.
func (o *Orchestrator) Start(ctx context.Context, experimentID string, opts StartOptions) (string, error) {
	if o.isClosed() {
		return "", ErrClosed
	}
	if strings.TrimSpace(experimentID) == "" {
		return "", &docflow.ValidationError{Field: "experiment_id", Message: "is required"}
	}

	exp, err := o.experiments.Load(ctx, experimentID)
	if err != nil {
		if errors.Is(err, experiment.ErrNotFound) {
			return "", &docflow.ValidationError{Field: "experiment_id", Message: "unknown experiment " + experimentID}
		}
		return "", err
	}
	if len(exp.Documents) == 0 {
		return "", &docflow.ValidationError{Field: "experiment_id", Message: "experiment has no documents"}
	}

	userID := opts.UserID
	if userID == "" {
		userID = exp.UserID
	}
	r := run.New(o.newID(), exp.ID, userID, opts.ReviewRequired, o.clock())
	if err := o.store.Create(ctx, r); err != nil {
		return "", &docflow.PersistenceError{RunID: r.ID, Op: "create", Err: err}
	}
	o.metrics.RecordTransition(ctx, "", string(run.StatusCreated))

	o.launch(r.ID, exp, stage.NodeAnalyze)
	return r.ID, nil
}

// Status returns the last committed snapshot of the run.
func (o *Orchestrator) Status(ctx context.Context, runID string) (*run.Run, error) {
	return o.get(ctx, runID)
}

// Result returns the last committed snapshot. It is the final read once the
// run is terminal.
func (o *Orchestrator) Result(ctx context.Context, runID string) (*run.Run, error) {
	return o.get(ctx, runID)
}

// List returns committed runs matching filter, oldest first.
func (o *Orchestrator) List(ctx context.Context, filter store.Filter) ([]*run.Run, error) {
	runs, err := o.store.List(ctx, filter)
	if err != nil {
		return nil, &docflow.PersistenceError{Op: "list", Err: err}
	}
	return runs, nil
}

// ExportProvenance renders the run's execution trace as a provenance graph.
func (o *Orchestrator) ExportProvenance(ctx context.Context, runID string) (*provenance.Graph, error) {
	r, err := o.get(ctx, runID)
	if err != nil {
		return nil, err
	}
	return provenance.Export(r), nil
}

// SubmitDecision applies a review decision to a strategy_ready run. It is the
// only way past strategy_ready and succeeds at most once per run: any later
// call returns *docflow.InvalidStateTransition and changes nothing.
// Approval schedules Execute and Synthesize in the background.
func (o *Orchestrator) SubmitDecision(ctx context.Context, runID string, d run.Decision) (*run.Run, error) {
	if o.isClosed() {
		return nil, ErrClosed
	}

	lock := o.runLock(runID)
	lock.Lock()

	r, err := o.get(ctx, runID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}
	if r.Status != run.StatusStrategyReady {
		lock.Unlock()
		return nil, &docflow.InvalidStateTransition{RunID: runID, Op: "submit_decision", From: r.Status}
	}

	exp, err := o.experiments.Load(ctx, r.ExperimentID)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	st := state.FromRun(r, exp.Description, exp.Documents, o.tools.Capabilities())
	p, err := o.stages.Review(st, d, run.ActorHuman)
	if err != nil {
		lock.Unlock()
		return nil, err
	}

	next := state.Merge(st, p).Run
	if next.Status.IsTerminal() {
		now := o.clock()
		next.CompletedAt = &now
	}
	committed, err := o.commitLocked(ctx, &next, r.Status)
	lock.Unlock()
	if err != nil {
		return nil, err
	}

	if committed.Status == run.StatusExecuting {
		o.launch(runID, exp, stage.NodeExecute)
	}
	return committed, nil
}

// Abandon moves a non-terminal run to failed with the given reason and stops
// its task. Terminal runs return *docflow.InvalidStateTransition.
func (o *Orchestrator) Abandon(ctx context.Context, runID, reason string) (*run.Run, error) {
	o.mu.Lock()
	t := o.tasks[runID]
	o.mu.Unlock()
	if t != nil {
		t.cancel()
	}

	lock := o.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r, err := o.get(ctx, runID)
	if err != nil {
		return nil, err
	}
	if r.Status.IsTerminal() {
		return nil, &docflow.InvalidStateTransition{
			RunID: runID,
			Op:    "abandon",
			From:  r.Status,
			To:    run.StatusFailed,
		}
	}

	prev := r.Status
	msg := "abandoned"
	if reason = strings.TrimSpace(reason); reason != "" {
		msg += ": " + reason
	}
	r.AppendTrace(o.recorder().Record(run.ActivityAbandon, run.ActorHuman,
		[]string{provenance.Ref(provenance.KindRun, runID)}, nil,
		map[string]any{"reason": reason, "from_status": string(prev), "stage": r.CurrentStage.String()}))
	r.Fail(msg, o.clock())

	return o.commitLocked(ctx, r, prev)
}

// get reads the committed run, mapping a missing record to UnknownRunError.
func (o *Orchestrator) get(ctx context.Context, runID string) (*run.Run, error) {
	r, err := o.store.Get(ctx, runID)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return nil, &docflow.UnknownRunError{RunID: runID}
		}
		return nil, &docflow.PersistenceError{RunID: runID, Op: "get", Err: err}
	}
	return r, nil
}
