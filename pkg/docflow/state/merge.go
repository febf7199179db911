package state

import (
	"slices"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

// Partial is a stage's contribution to the state. A nil field is absent and
// leaves the prior value in place; a non-nil field overwrites it.
//
// Trace is the one exception: it is append-only, so its entries are appended
// to the execution trace rather than replacing it.
type Partial struct {
	// Required keys. They are applied only when non-empty so a partial can
	// never drop them.
	RunID     string
	Documents []run.DocumentRef
	Tools     []tool.Capability

	Status       *run.Status
	CurrentStage *run.Stage

	Goal        *string
	TermContext *string

	RecommendedStrategy run.Strategy
	StrategyReasoning   *string
	// Confidence is clamped to [0,1] when merged.
	Confidence *float64

	Approved         *bool
	ModifiedStrategy run.Strategy
	ReviewNotes      *string

	ProcessingResults run.ProcessingResults

	Insights      *string
	TermEvolution *string

	ErrorMessage *string

	Trace []run.TraceEntry
}

// IsEmpty reports whether the partial carries no changes.
func (p Partial) IsEmpty() bool {
	return p.RunID == "" && p.Documents == nil && p.Tools == nil &&
		p.Status == nil && p.CurrentStage == nil &&
		p.Goal == nil && p.TermContext == nil &&
		p.RecommendedStrategy == nil && p.StrategyReasoning == nil && p.Confidence == nil &&
		p.Approved == nil && p.ModifiedStrategy == nil && p.ReviewNotes == nil &&
		p.ProcessingResults == nil &&
		p.Insights == nil && p.TermEvolution == nil &&
		p.ErrorMessage == nil && len(p.Trace) == 0
}

// Merge returns a new State with every present key of p written over s.
// Absent keys keep their prior value. The required keys (run id, documents,
// tools) are never cleared. CurrentStage never moves backwards.
func Merge(s State, p Partial) State {
	out := s.Clone()
	r := &out.Run

	if p.RunID != "" {
		r.ID = p.RunID
	}
	if len(p.Documents) > 0 {
		out.Documents = slices.Clone(p.Documents)
	}
	if len(p.Tools) > 0 {
		out.Tools = slices.Clone(p.Tools)
	}

	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.CurrentStage != nil {
		r.AdvanceStage(*p.CurrentStage)
	}
	if p.Goal != nil {
		r.Goal = Ptr(*p.Goal)
	}
	if p.TermContext != nil {
		r.TermContext = Ptr(*p.TermContext)
	}
	if p.RecommendedStrategy != nil {
		r.RecommendedStrategy = p.RecommendedStrategy.Clone()
	}
	if p.StrategyReasoning != nil {
		r.StrategyReasoning = Ptr(*p.StrategyReasoning)
	}
	if p.Confidence != nil {
		r.SetConfidence(*p.Confidence)
	}
	if p.Approved != nil {
		r.Approved = Ptr(*p.Approved)
	}
	if p.ModifiedStrategy != nil {
		r.ModifiedStrategy = p.ModifiedStrategy.Clone()
	}
	if p.ReviewNotes != nil {
		r.ReviewNotes = Ptr(*p.ReviewNotes)
	}
	if p.ProcessingResults != nil {
		r.ProcessingResults = p.ProcessingResults.Clone()
	}
	if p.Insights != nil {
		r.Insights = Ptr(*p.Insights)
	}
	if p.TermEvolution != nil {
		r.TermEvolution = Ptr(*p.TermEvolution)
	}
	if p.ErrorMessage != nil {
		r.ErrorMessage = Ptr(*p.ErrorMessage)
	}
	for _, e := range p.Trace {
		r.AppendTrace(e.Clone())
	}

	return out
}

// Ptr returns a pointer to v. It keeps partial literals short.
func Ptr[T any](v T) *T {
	return &v
}
