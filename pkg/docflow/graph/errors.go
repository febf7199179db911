package graph

import (
	"errors"
	"fmt"
)

// Compilation errors.
var (
	// ErrNoEntryPoint indicates SetEntry was not called before Compile.
	ErrNoEntryPoint = errors.New("entry point not set")

	// ErrEntryNotFound indicates the entry point names a missing node.
	ErrEntryNotFound = errors.New("entry point node not found")

	// ErrNodeNotFound indicates an edge references a missing node.
	ErrNodeNotFound = errors.New("node not found")

	// ErrNoOutgoingEdge indicates a node has neither a simple nor a
	// conditional edge.
	ErrNoOutgoingEdge = errors.New("node has no outgoing edge")

	// ErrNoPathToEnd indicates END is unreachable from the entry point.
	ErrNoPathToEnd = errors.New("no path to END from entry")
)

// Execution errors.
var (
	// ErrMaxIterations indicates the loop exceeded its configured limit.
	ErrMaxIterations = errors.New("exceeded maximum iterations")

	// ErrInvalidStart indicates WithStart named a node that does not exist.
	ErrInvalidStart = errors.New("invalid start node")

	// ErrInvalidRouterResult indicates a router returned an empty string.
	ErrInvalidRouterResult = errors.New("router returned empty string")

	// ErrRouterTargetNotFound indicates a router returned an unknown node.
	ErrRouterTargetNotFound = errors.New("router returned unknown node")
)

// NodeError wraps an error returned by a node.
type NodeError struct {
	NodeID string
	// Op is "execute" for node failures and "commit" or "enter" for hook
	// failures.
	Op  string
	Err error
}

// Error implements the error interface.
func (e *NodeError) Error() string {
	return fmt.Sprintf("node %s: %s: %v", e.NodeID, e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *NodeError) Unwrap() error {
	return e.Err
}

// PanicError captures a panic inside a node.
type PanicError struct {
	NodeID string
	Value  any
	Stack  string
}

// Error implements the error interface.
func (e *PanicError) Error() string {
	return fmt.Sprintf("node %s panicked: %v", e.NodeID, e.Value)
}

// CancellationError reports that the context was done before a node ran.
type CancellationError struct {
	NodeID string
	Cause  error
}

// Error implements the error interface.
func (e *CancellationError) Error() string {
	return fmt.Sprintf("cancelled before node %s: %v", e.NodeID, e.Cause)
}

// Unwrap returns the context error.
func (e *CancellationError) Unwrap() error {
	return e.Cause
}

// RouterError wraps a bad routing decision.
type RouterError struct {
	FromNode string
	Returned string
	Err      error
}

// Error implements the error interface.
func (e *RouterError) Error() string {
	return fmt.Sprintf("router from %s returned %q: %v", e.FromNode, e.Returned, e.Err)
}

// Unwrap returns the underlying error.
func (e *RouterError) Unwrap() error {
	return e.Err
}

// MaxIterationsError reports the node that would have run next.
type MaxIterationsError struct {
	Max        int
	LastNodeID string
}

// Error implements the error interface.
func (e *MaxIterationsError) Error() string {
	return fmt.Sprintf("exceeded maximum iterations (%d) at node %s", e.Max, e.LastNodeID)
}

// Unwrap returns ErrMaxIterations.
func (e *MaxIterationsError) Unwrap() error {
	return ErrMaxIterations
}

// LastNode extracts the node id carried by an execution error, if any.
func LastNode(err error) string {
	var (
		nodeErr   *NodeError
		panicErr  *PanicError
		cancelErr *CancellationError
		routerErr *RouterError
		maxErr    *MaxIterationsError
	)
	switch {
	case errors.As(err, &nodeErr):
		return nodeErr.NodeID
	case errors.As(err, &panicErr):
		return panicErr.NodeID
	case errors.As(err, &cancelErr):
		return cancelErr.NodeID
	case errors.As(err, &routerErr):
		return routerErr.FromNode
	case errors.As(err, &maxErr):
		return maxErr.LastNodeID
	}
	return ""
}
