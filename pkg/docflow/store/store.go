// Package store provides durable storage for Run records.
//
// Every store supports an atomic compare-and-update keyed on Run.Version so a
// stage that commits after a crash-recovery re-read cannot overwrite a newer
// record. Three implementations are provided: MemoryStore for tests,
// SQLiteStore for single-process deployments and PostgresStore for shared
// deployments.
package store

import (
	"context"
	"errors"
	"slices"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Store persists runs. Implementations must be safe for concurrent use.
//
// Runs passed in and returned are never aliased with the stored record.
type Store interface {
	// Create stores a new run at version 1 and sets r.Version.
	// Returns ErrAlreadyExists if the id is taken.
	Create(ctx context.Context, r *run.Run) error

	// Get returns the last committed run.
	// Returns ErrNotFound if the run doesn't exist.
	Get(ctx context.Context, id string) (*run.Run, error)

	// CompareAndUpdate replaces the stored run only if its version still
	// equals r.Version. On success r.Version is incremented to the new
	// committed version. Returns ErrVersionConflict if the stored version
	// differs and ErrNotFound if the run doesn't exist.
	CompareAndUpdate(ctx context.Context, r *run.Run) error

	// List returns runs matching the filter, oldest first.
	// Returns an empty slice (not error) if nothing matches.
	List(ctx context.Context, filter Filter) ([]*run.Run, error)

	// Delete removes a run. Returns nil if it doesn't exist.
	Delete(ctx context.Context, id string) error

	// Close releases any resources (connections, files).
	Close() error
}

// Filter narrows List results. Zero values match everything.
type Filter struct {
	// Statuses restricts results to runs in any of these statuses.
	Statuses []run.Status
	// ExperimentID restricts results to one experiment.
	ExperimentID string
	// Limit caps the number of results. Zero means no limit.
	Limit int
}

// Matches reports whether r passes the filter, ignoring Limit.
func (f Filter) Matches(r *run.Run) bool {
	if len(f.Statuses) > 0 && !slices.Contains(f.Statuses, r.Status) {
		return false
	}
	if f.ExperimentID != "" && r.ExperimentID != f.ExperimentID {
		return false
	}
	return true
}

// NonTerminal is the filter Recover uses to find runs that may need resuming.
func NonTerminal() Filter {
	return Filter{Statuses: []run.Status{
		run.StatusCreated,
		run.StatusAnalyzing,
		run.StatusStrategyReady,
		run.StatusExecuting,
	}}
}

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates a run doesn't exist.
	ErrNotFound = errors.New("run not found")

	// ErrAlreadyExists indicates Create was called with a taken id.
	ErrAlreadyExists = errors.New("run already exists")

	// ErrVersionConflict indicates the stored run changed since it was read.
	ErrVersionConflict = errors.New("run version conflict")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("run store closed")
)

// timeFormat is fixed-width so stored timestamps sort lexically.
const timeFormat = "2006-01-02T15:04:05.000000000Z07:00"

func encode(r *run.Run) ([]byte, error) {
	return r.Marshal()
}

// decode restores a run, with the version column taking precedence over the
// value embedded in the document.
func decode(data []byte, version int64) (*run.Run, error) {
	r, err := run.Unmarshal(data)
	if err != nil {
		return nil, err
	}
	r.Version = version
	return r, nil
}
