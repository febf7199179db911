// Package graph runs the stage sequence of a run as a small directed graph.
//
// Nodes are stage functions over state.State that return a state.Partial.
// The executor merges every partial (even one returned alongside an error),
// hands the merged state to an optional commit hook after each node, and
// picks the next node from a simple or conditional edge. Returning END from a
// router suspends or finishes the pass.
//
// Basic usage:
//
//	g := graph.New().
//	    AddNode("analyze", analyze).
//	    AddNode("recommend", recommend).
//	    AddEdge("analyze", "recommend").
//	    AddEdge("recommend", graph.END).
//	    SetEntry("analyze")
//
//	compiled, err := g.Compile()
//	final, err := compiled.Run(ctx, st, graph.WithCommit(commit))
package graph

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

// END is the terminal pseudo-node. Routing to END stops execution.
const END = "__end__"

// NodeFunc is one stage. It reads the state and returns the fields it
// produced. A node may return a non-empty partial together with an error;
// the partial is still merged so failure details reach the run record.
type NodeFunc func(ctx context.Context, s state.State) (state.Partial, error)

// RouterFunc picks the next node from the merged state. It must return a
// node id or END.
type RouterFunc func(ctx context.Context, s state.State) string

// Graph is a mutable builder. Build it once, Compile it, and share the
// compiled graph.
type Graph struct {
	mu               sync.RWMutex
	nodes            map[string]NodeFunc
	edges            map[string]string
	conditionalEdges map[string]RouterFunc
	entryPoint       string
}

// New creates an empty graph.
func New() *Graph {
	return &Graph{
		nodes:            make(map[string]NodeFunc),
		edges:            make(map[string]string),
		conditionalEdges: make(map[string]RouterFunc),
	}
}

// AddNode adds a node. It panics on an empty, reserved, whitespace-containing
// or duplicate id, or a nil function; these are programming errors.
func (g *Graph) AddNode(id string, fn NodeFunc) *Graph {
	if id == "" {
		panic("graph: node ID cannot be empty")
	}
	if lower := strings.ToLower(id); lower == "end" || lower == END {
		panic("graph: node ID cannot be reserved word 'END'")
	}
	if strings.ContainsAny(id, " \t\n\r") {
		panic("graph: node ID cannot contain whitespace")
	}
	if fn == nil {
		panic("graph: node function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if _, exists := g.nodes[id]; exists {
		panic(fmt.Sprintf("graph: duplicate node ID: %s", id))
	}
	g.nodes[id] = fn
	return g
}

// AddEdge sets the unconditional successor of from. A later call replaces
// the earlier one.
func (g *Graph) AddEdge(from, to string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.edges[from] = to
	return g
}

// AddConditionalEdge routes from through router. A conditional edge takes
// precedence over a simple edge from the same node.
func (g *Graph) AddConditionalEdge(from string, router RouterFunc) *Graph {
	if router == nil {
		panic("graph: router function cannot be nil")
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	g.conditionalEdges[from] = router
	return g
}

// SetEntry sets the default first node.
func (g *Graph) SetEntry(id string) *Graph {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.entryPoint = id
	return g
}
