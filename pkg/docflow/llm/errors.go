package llm

import (
	"context"
	"errors"
	"fmt"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
)

// TransientError is a failure worth retrying: rate limiting, 5xx, transport
// timeouts. Returned from Resilient once retries are exhausted.
type TransientError struct {
	// StatusCode is the HTTP status, or zero for transport failures.
	StatusCode int
	// Attempts is set by Resilient to the number of attempts made.
	Attempts int
	Err      error
}

// Error implements the error interface.
func (e *TransientError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("llm transient error after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm transient error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *TransientError) Unwrap() error {
	return e.Err
}

// FatalError is a failure that retrying will not fix: 4xx other than rate
// limiting, or a response that still fails to parse after the final attempt.
type FatalError struct {
	StatusCode int
	Attempts   int
	Err        error
}

// Error implements the error interface.
func (e *FatalError) Error() string {
	if e.Attempts > 0 {
		return fmt.Sprintf("llm fatal error after %d attempts: %v", e.Attempts, e.Err)
	}
	return fmt.Sprintf("llm fatal error: %v", e.Err)
}

// Unwrap returns the underlying error.
func (e *FatalError) Unwrap() error {
	return e.Err
}

// IsTransient reports whether err should be retried.
// Parse failures are retried: a fresh sample may be well-formed.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var transient *TransientError
	if errors.As(err, &transient) {
		return true
	}
	var fatal *FatalError
	if errors.As(err, &fatal) {
		return false
	}
	switch dferrors.Categorize(err) {
	case dferrors.CategoryTransient, dferrors.CategoryMalformed:
		return true
	default:
		return false
	}
}

// Classify wraps err as a TransientError or FatalError. Errors that are
// already classified and context cancellation pass through unchanged.
func Classify(err error) error {
	if err == nil {
		return nil
	}
	var transient *TransientError
	var fatal *FatalError
	if errors.As(err, &transient) || errors.As(err, &fatal) {
		return err
	}
	if errors.Is(err, context.Canceled) {
		return err
	}

	status := 0
	var statusErr *dferrors.StatusError
	if errors.As(err, &statusErr) {
		status = statusErr.Status
	}

	if dferrors.Categorize(err) == dferrors.CategoryTransient {
		return &TransientError{StatusCode: status, Err: err}
	}
	return &FatalError{StatusCode: status, Err: err}
}
