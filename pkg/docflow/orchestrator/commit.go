package orchestrator

import (
	"context"
	"errors"

	"github.com/randalmurphal/docflow/pkg/docflow"
	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/event"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

// commit persists r under the run's lock.
func (o *Orchestrator) commit(ctx context.Context, r *run.Run, from run.Status) (*run.Run, error) {
	lock := o.runLock(r.ID)
	lock.Lock()
	defer lock.Unlock()
	return o.commitLocked(ctx, r, from)
}

// commitLocked compare-and-updates r against the version it was read at,
// retrying transient store failures. A version conflict is never retried:
// someone else (Abandon, another process) committed first. The caller must
// hold the run's lock. A done ctx means the task was abandoned or the
// orchestrator is closing, and nothing is written.
func (o *Orchestrator) commitLocked(ctx context.Context, r *run.Run, from run.Status) (*run.Run, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	r.UpdatedAt = o.clock()

	cfg := o.persist
	cfg.RetryableFunc = retryableStoreError
	cfg.OnAttemptFailed = func(attempt int, err error) {
		observability.LogCommitError(o.logger, r.ID, attempt, err)
	}

	res := dferrors.Do(ctx, cfg, func(ctx context.Context) (*run.Run, error) {
		c := r.Clone()
		if err := o.store.CompareAndUpdate(ctx, c); err != nil {
			return nil, err
		}
		return c, nil
	})
	if res.Err != nil {
		err := res.Err
		var cat *dferrors.CategorizedError
		if errors.As(err, &cat) && cat.Err != nil {
			err = cat.Err
		}
		return nil, &docflow.PersistenceError{RunID: r.ID, Op: "update", Err: err}
	}

	committed := res.Value
	size := 0
	if data, err := committed.Marshal(); err == nil {
		size = len(data)
	}
	o.metrics.RecordCommit(ctx, string(committed.Status), int64(size))
	if from != committed.Status {
		o.metrics.RecordTransition(ctx, string(from), string(committed.Status))
	}
	observability.LogCommit(o.logger, committed.ID, string(committed.Status), committed.Version, size)

	o.publish(event.Committed(from, committed))
	return committed, nil
}

func retryableStoreError(err error) bool {
	switch {
	case errors.Is(err, store.ErrVersionConflict),
		errors.Is(err, store.ErrNotFound),
		errors.Is(err, store.ErrStoreClosed),
		errors.Is(err, context.Canceled),
		errors.Is(err, context.DeadlineExceeded):
		return false
	}
	return true
}

// failRun marks a run failed after an error outside any stage (a panic, a
// routing bug, exhausted commit retries). It re-reads the committed record
// and does nothing if that record is already terminal. Best effort: a store
// that is still down leaves the run for Recover.
func (o *Orchestrator) failRun(ctx context.Context, runID string, cause error, lastStage string) {
	lock := o.runLock(runID)
	lock.Lock()
	defer lock.Unlock()

	r, err := o.store.Get(ctx, runID)
	if err != nil {
		observability.LogRunError(o.logger, runID, err, lastStage)
		return
	}
	if r.Status.IsTerminal() {
		return
	}

	prev := r.Status
	r.AppendTrace(o.recorder().Record(run.ActivityRunFailed, run.ActorOrchestrator,
		[]string{provenance.Ref(provenance.KindRun, runID)}, nil,
		map[string]any{"stage": lastStage, "error": cause.Error()}))
	r.Fail(cause.Error(), o.clock())

	if _, err := o.commitLocked(ctx, r, prev); err != nil {
		observability.LogRunError(o.logger, runID, err, lastStage)
	}
}
