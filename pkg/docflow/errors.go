package docflow

import (
	"errors"
	"fmt"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Sentinel errors for the public operations. Typed errors below unwrap to
// these so callers can use errors.Is without caring about detail.
var (
	// ErrValidation indicates a malformed start or decision payload.
	ErrValidation = errors.New("validation failed")

	// ErrUnknownRun indicates no run exists with the given id.
	ErrUnknownRun = errors.New("unknown run")

	// ErrInvalidStateTransition indicates an operation was attempted in a
	// status that does not allow it (for example a second decision).
	ErrInvalidStateTransition = errors.New("invalid state transition")

	// ErrPersistence indicates the run store could not be reached or
	// rejected a commit.
	ErrPersistence = errors.New("persistence failure")

	// ErrToolExecution indicates a single (document, tool) invocation failed.
	ErrToolExecution = errors.New("tool execution failed")
)

// ValidationError describes a malformed request. It is returned before any
// state change.
type ValidationError struct {
	// Field names the offending field, if known.
	Field string
	// Message describes the problem.
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
	}
	return "invalid request: " + e.Message
}

// Unwrap returns ErrValidation for errors.Is support.
func (e *ValidationError) Unwrap() error {
	return ErrValidation
}

// UnknownRunError reports a run id that is not in the store.
type UnknownRunError struct {
	RunID string
}

// Error implements the error interface.
func (e *UnknownRunError) Error() string {
	return fmt.Sprintf("unknown run %q", e.RunID)
}

// Unwrap returns ErrUnknownRun for errors.Is support.
func (e *UnknownRunError) Unwrap() error {
	return ErrUnknownRun
}

// InvalidStateTransition reports an operation attempted in the wrong status.
// The run is left unchanged.
type InvalidStateTransition struct {
	RunID string
	// Op is the attempted operation ("submit_decision", "abandon", ...).
	Op string
	// From is the run's committed status.
	From run.Status
	// To is the status the operation would have produced, if any.
	To run.Status
}

// Error implements the error interface.
func (e *InvalidStateTransition) Error() string {
	if e.To != "" {
		return fmt.Sprintf("run %s: %s: cannot move from %s to %s", e.RunID, e.Op, e.From, e.To)
	}
	return fmt.Sprintf("run %s: %s not allowed in status %s", e.RunID, e.Op, e.From)
}

// Unwrap returns ErrInvalidStateTransition for errors.Is support.
func (e *InvalidStateTransition) Unwrap() error {
	return ErrInvalidStateTransition
}

// ToolExecutionError is scoped to one (document, tool) pair. It is recorded in
// processing_results and never fails the run.
type ToolExecutionError struct {
	DocumentID string
	ToolID     string
	Err        error
}

// Error implements the error interface.
func (e *ToolExecutionError) Error() string {
	return fmt.Sprintf("tool %s on document %s: %v", e.ToolID, e.DocumentID, e.Err)
}

// Unwrap returns the underlying error.
func (e *ToolExecutionError) Unwrap() error {
	return e.Err
}

// Is matches ErrToolExecution.
func (e *ToolExecutionError) Is(target error) bool {
	return target == ErrToolExecution
}

// PersistenceError wraps a run store failure.
type PersistenceError struct {
	RunID string
	// Op is the store operation ("create", "get", "update", "list").
	Op  string
	Err error
}

// Error implements the error interface.
func (e *PersistenceError) Error() string {
	return fmt.Sprintf("persist run %s: %s: %v", e.RunID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *PersistenceError) Unwrap() error {
	return e.Err
}

// Is matches ErrPersistence.
func (e *PersistenceError) Is(target error) bool {
	return target == ErrPersistence
}

// StageError wraps an error with the stage that produced it.
type StageError struct {
	Stage run.Stage
	Err   error
}

// Error implements the error interface.
func (e *StageError) Error() string {
	return fmt.Sprintf("stage %s: %v", e.Stage, e.Err)
}

// Unwrap returns the underlying error.
func (e *StageError) Unwrap() error {
	return e.Err
}

// IsClientError reports whether err is one of the caller-facing errors that
// must be distinguished from unexpected failures: validation, unknown run,
// or invalid state transition.
func IsClientError(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrUnknownRun) ||
		errors.Is(err, ErrInvalidStateTransition)
}
