// Package tool defines the analysis tool interface and the capability table
// that maps tool ids to typed handles.
//
// Tools are registered once at startup. Lookup by id returns either a handle
// or a NotFoundError, never a reflective call.
package tool

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
)

// Capability describes what a tool does. It is what Recommend shows the LLM.
type Capability struct {
	ID          string   `json:"tool_id"`
	Description string   `json:"description"`
	IOTypes     []string `json:"io_types,omitempty"`
}

// Tool is an executable analysis tool.
// Implementations must be safe for concurrent use; Execute may invoke the same
// tool on several documents at once.
type Tool interface {
	// Capability returns the tool's metadata. The ID must be stable.
	Capability() Capability

	// Invoke runs the tool on one document. The result must be
	// JSON-serializable.
	Invoke(ctx context.Context, doc run.DocumentRef, params map[string]any) (any, error)
}

// Func adapts a function to the Tool interface.
type Func struct {
	Cap Capability
	Fn  func(ctx context.Context, doc run.DocumentRef, params map[string]any) (any, error)
}

// Capability implements Tool.
func (f Func) Capability() Capability {
	return f.Cap
}

// Invoke implements Tool.
func (f Func) Invoke(ctx context.Context, doc run.DocumentRef, params map[string]any) (any, error) {
	return f.Fn(ctx, doc, params)
}

// ErrToolNotFound indicates no tool is registered under an id.
var ErrToolNotFound = errors.New("tool not found")

// NotFoundError reports an unknown tool id.
type NotFoundError struct {
	ID string
}

// Error implements the error interface.
func (e *NotFoundError) Error() string {
	return fmt.Sprintf("tool %q not found", e.ID)
}

// Unwrap returns ErrToolNotFound for errors.Is support.
func (e *NotFoundError) Unwrap() error {
	return ErrToolNotFound
}

// PanicError captures a panic raised inside a tool.
type PanicError struct {
	ID    string
	Value any
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("tool %s panicked: %v", e.ID, e.Value)
}
