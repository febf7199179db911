// Package errors classifies failures of the LLM and the run store and
// retries the ones worth retrying.
//
// Every error falls in one of three categories. Transient failures (rate
// limits, 5xx, timeouts) are retried with exponential backoff. Malformed
// output is retried too, since a fresh sample may decode. Everything else is
// permanent and returned after the first attempt.
package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
)

// Category says whether retrying an error can help.
type Category int

const (
	// CategoryTransient covers rate limits, 5xx, timeouts and dropped
	// connections.
	CategoryTransient Category = iota

	// CategoryPermanent covers authentication failures, bad requests,
	// cancellation and anything unrecognized.
	CategoryPermanent

	// CategoryMalformed covers model output that would not decode or
	// validate.
	CategoryMalformed
)

var categoryNames = [...]string{
	CategoryTransient: "transient",
	CategoryPermanent: "permanent",
	CategoryMalformed: "malformed",
}

// String returns the category name.
func (c Category) String() string {
	if c < 0 || int(c) >= len(categoryNames) {
		return "unknown"
	}
	return categoryNames[c]
}

// CategorizedError is the error returned by Do once it stops retrying.
type CategorizedError struct {
	Err      error
	Category Category
	// Attempts is how many times the operation ran.
	Attempts int
	// Op names the stopping reason, if any ("retries exhausted").
	Op string
}

// Error implements the error interface.
func (e *CategorizedError) Error() string {
	msg := fmt.Sprintf("%v [%s, %d attempts]", e.Err, e.Category, e.Attempts)
	if e.Op != "" {
		return e.Op + ": " + msg
	}
	return msg
}

// Unwrap returns the underlying error.
func (e *CategorizedError) Unwrap() error {
	return e.Err
}

// Categorize classifies err. A nil or unrecognized error is permanent.
func Categorize(err error) Category {
	if err == nil {
		return CategoryPermanent
	}

	var (
		cat     *CategorizedError
		status  *StatusError
		output  *OutputError
		invalid *ValidationError
		timeout *TimeoutError
		netErr  net.Error
	)
	switch {
	case errors.As(err, &cat):
		return cat.Category
	case errors.As(err, &status):
		return CategorizeStatus(status.Status)
	case errors.As(err, &output), errors.As(err, &invalid):
		return CategoryMalformed
	case errors.As(err, &timeout):
		return CategoryTransient
	case errors.Is(err, context.Canceled):
		// The caller gave up.
		return CategoryPermanent
	case errors.Is(err, context.DeadlineExceeded):
		return CategoryTransient
	case errors.As(err, &netErr) && netErr.Timeout():
		return CategoryTransient
	}
	return CategoryPermanent
}

// CategorizeStatus classifies an HTTP status code: 408, 429 and 5xx are
// transient.
func CategorizeStatus(code int) Category {
	if code == 408 || code == 429 || code >= 500 {
		return CategoryTransient
	}
	return CategoryPermanent
}

// IsRetryable reports whether err is transient.
func IsRetryable(err error) bool {
	return Categorize(err) == CategoryTransient
}
