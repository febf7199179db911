// Package state holds the working record threaded through one execution pass
// of a run.
//
// A State is built from the committed Run plus read-only inputs that are not
// persisted on the Run (documents, tool capability snapshot, experiment
// description). Stage nodes never mutate a State; they return a Partial and
// the executor folds it in with Merge.
package state

import (
	"slices"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

// State is the accumulated, partially populated record for one run.
// It carries every Run field plus the read-only inputs.
type State struct {
	// Run holds the persisted fields. Its RunID is required.
	Run run.Run `json:"run"`

	// Description is the experiment description Analyze reads.
	Description string `json:"description"`

	// Documents are the read-only source documents. Required.
	Documents []run.DocumentRef `json:"documents"`

	// Tools is the tool registry snapshot Recommend and Execute read. Required.
	Tools []tool.Capability `json:"tools"`
}

// Init creates a State with the required fields set and every stage output
// unset.
func Init(runID string, documents []run.DocumentRef, tools []tool.Capability, reviewRequired bool) State {
	return State{
		Run: run.Run{
			ID:             runID,
			Status:         run.StatusCreated,
			ReviewRequired: reviewRequired,
			ExecutionTrace: []run.TraceEntry{},
		},
		Documents: slices.Clone(documents),
		Tools:     slices.Clone(tools),
	}
}

// FromRun rehydrates a State from a committed run and the read-only inputs.
// The run is deep-copied.
func FromRun(r *run.Run, description string, documents []run.DocumentRef, tools []tool.Capability) State {
	return State{
		Run:         *r.Clone(),
		Description: description,
		Documents:   slices.Clone(documents),
		Tools:       slices.Clone(tools),
	}
}

// RunID returns the run identifier.
func (s State) RunID() string {
	return s.Run.ID
}

// Document returns the document with the given id.
func (s State) Document(id string) (run.DocumentRef, bool) {
	for _, d := range s.Documents {
		if d.ID == id {
			return d, true
		}
	}
	return run.DocumentRef{}, false
}

// HasTool reports whether id is in the tool snapshot.
func (s State) HasTool(id string) bool {
	return slices.ContainsFunc(s.Tools, func(c tool.Capability) bool {
		return c.ID == id
	})
}

// Clone returns a deep copy of the state.
func (s State) Clone() State {
	return State{
		Run:         *s.Run.Clone(),
		Description: s.Description,
		Documents:   slices.Clone(s.Documents),
		Tools:       slices.Clone(s.Tools),
	}
}
