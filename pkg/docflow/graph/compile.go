package graph

import (
	"errors"
	"fmt"
	"log/slog"
	"maps"
	"slices"
)

// Compiled is an immutable, executable graph. It is safe for concurrent Run
// calls.
type Compiled struct {
	nodes            map[string]NodeFunc
	edges            map[string]string
	conditionalEdges map[string]RouterFunc
	entryPoint       string
}

// Compile validates the graph and returns an executable copy.
//
// Validation checks that the entry point is set and exists, every edge
// endpoint exists, every node has an outgoing edge and END is reachable from
// the entry. All problems are reported together. Unreachable nodes are
// logged, not rejected, since a run may start mid-graph on resume.
func (g *Graph) Compile() (*Compiled, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var errs []error

	if g.entryPoint == "" {
		errs = append(errs, ErrNoEntryPoint)
	} else if _, ok := g.nodes[g.entryPoint]; !ok {
		errs = append(errs, fmt.Errorf("%w: %s", ErrEntryNotFound, g.entryPoint))
	}

	for _, from := range slices.Sorted(maps.Keys(g.edges)) {
		to := g.edges[from]
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: edge source '%s' does not exist", ErrNodeNotFound, from))
		}
		if _, ok := g.nodes[to]; !ok && to != END {
			errs = append(errs, fmt.Errorf("%w: edge target '%s' does not exist", ErrNodeNotFound, to))
		}
	}
	for _, from := range slices.Sorted(maps.Keys(g.conditionalEdges)) {
		if _, ok := g.nodes[from]; !ok {
			errs = append(errs, fmt.Errorf("%w: conditional edge source '%s' does not exist", ErrNodeNotFound, from))
		}
	}
	for _, id := range slices.Sorted(maps.Keys(g.nodes)) {
		_, simple := g.edges[id]
		_, conditional := g.conditionalEdges[id]
		if !simple && !conditional {
			errs = append(errs, fmt.Errorf("%w: %s", ErrNoOutgoingEdge, id))
		}
	}

	if _, ok := g.nodes[g.entryPoint]; ok && !g.hasPathToEnd() {
		errs = append(errs, ErrNoPathToEnd)
	}

	if len(errs) > 0 {
		return nil, errors.Join(errs...)
	}

	g.warnUnreachable()

	return &Compiled{
		nodes:            maps.Clone(g.nodes),
		edges:            maps.Clone(g.edges),
		conditionalEdges: maps.Clone(g.conditionalEdges),
		entryPoint:       g.entryPoint,
	}, nil
}

// hasPathToEnd propagates reachability of END backwards. Conditional edges
// are assumed able to reach END.
func (g *Graph) hasPathToEnd() bool {
	canReachEnd := map[string]bool{END: true}
	for from := range g.conditionalEdges {
		canReachEnd[from] = true
	}

	for changed := true; changed; {
		changed = false
		for from, to := range g.edges {
			if !canReachEnd[from] && canReachEnd[to] {
				canReachEnd[from] = true
				changed = true
			}
		}
	}
	return canReachEnd[g.entryPoint]
}

func (g *Graph) warnUnreachable() {
	reachable := map[string]bool{g.entryPoint: true}
	queue := []string{g.entryPoint}
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]

		var next []string
		if _, ok := g.conditionalEdges[current]; ok {
			// A router may pick any node.
			next = slices.Collect(maps.Keys(g.nodes))
		} else if to, ok := g.edges[current]; ok && to != END {
			next = []string{to}
		}
		for _, id := range next {
			if !reachable[id] {
				reachable[id] = true
				queue = append(queue, id)
			}
		}
	}

	for id := range g.nodes {
		if !reachable[id] {
			slog.Debug("node is unreachable from entry", "node_id", id)
		}
	}
}

// EntryPoint returns the entry node id.
func (c *Compiled) EntryPoint() string {
	return c.entryPoint
}

// NodeIDs returns the node ids in sorted order.
func (c *Compiled) NodeIDs() []string {
	return slices.Sorted(maps.Keys(c.nodes))
}

// HasNode reports whether id is a node.
func (c *Compiled) HasNode(id string) bool {
	_, ok := c.nodes[id]
	return ok
}

// IsConditional reports whether id routes through a conditional edge.
func (c *Compiled) IsConditional(id string) bool {
	_, ok := c.conditionalEdges[id]
	return ok
}

// Successor returns the simple-edge target of id, if any.
func (c *Compiled) Successor(id string) (string, bool) {
	to, ok := c.edges[id]
	return to, ok
}
