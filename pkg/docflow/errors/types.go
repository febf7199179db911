package errors

import (
	"fmt"
	"time"
)

// StatusError is a non-2xx answer from a remote service.
type StatusError struct {
	Service string
	Status  int
	Detail  string
}

// Error implements the error interface.
func (e *StatusError) Error() string {
	service := e.Service
	if service == "" {
		service = "remote service"
	}
	if e.Detail == "" {
		return fmt.Sprintf("%s returned status %d", service, e.Status)
	}
	return fmt.Sprintf("%s returned status %d: %s", service, e.Status, e.Detail)
}

// OutputError means model output held no decodable JSON value.
type OutputError struct {
	// Excerpt is the start of the offending output, for logs.
	Excerpt string
	Reason  string
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	return "malformed model output: " + e.Reason
}

// ValidationError means decoded output is missing required content.
type ValidationError struct {
	Field   string
	Message string
}

// Error implements the error interface.
func (e *ValidationError) Error() string {
	if e.Field == "" {
		return "invalid output: " + e.Message
	}
	return fmt.Sprintf("invalid output: %s %s", e.Field, e.Message)
}

// TimeoutError means one attempt ran past its own deadline.
type TimeoutError struct {
	Op    string
	After time.Duration
}

// Error implements the error interface.
func (e *TimeoutError) Error() string {
	return fmt.Sprintf("attempt timed out after %s: %s", e.After, e.Op)
}
