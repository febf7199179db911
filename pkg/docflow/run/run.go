// Package run defines the durable Run record and the value types threaded
// through a document-analysis workflow: status, stage, strategy, review
// decision, per-tool results and provenance trace entries.
package run

import (
	"encoding/json"
	"maps"
	"slices"
	"time"
)

// Run is the unit of work: one execution of the five-stage workflow for one
// experiment. Stage outputs are populated progressively; nil pointer and nil
// map fields mean "not produced yet".
//
// Run values returned by stores and by the orchestrator are snapshots.
// Mutating a snapshot never affects the committed record.
type Run struct {
	ID           string `json:"id"`
	ExperimentID string `json:"experiment_id"`
	UserID       string `json:"user_id,omitempty"`

	Status         Status `json:"status"`
	CurrentStage   Stage  `json:"current_stage"`
	ReviewRequired bool   `json:"review_required"`

	// Analyze outputs
	Goal        *string `json:"goal,omitempty"`
	TermContext *string `json:"term_context,omitempty"`

	// Recommend outputs
	RecommendedStrategy Strategy `json:"recommended_strategy,omitempty"`
	StrategyReasoning   *string  `json:"strategy_reasoning,omitempty"`
	Confidence          *float64 `json:"confidence,omitempty"`

	// Review fields
	Approved         *bool    `json:"approved,omitempty"`
	ModifiedStrategy Strategy `json:"modified_strategy,omitempty"`
	ReviewNotes      *string  `json:"review_notes,omitempty"`

	// Execute outputs
	ProcessingResults ProcessingResults `json:"processing_results,omitempty"`

	// Synthesize outputs
	Insights      *string `json:"insights,omitempty"`
	TermEvolution *string `json:"term_evolution,omitempty"`

	ExecutionTrace []TraceEntry `json:"execution_trace"`
	ErrorMessage   *string      `json:"error_message,omitempty"`

	CreatedAt   time.Time  `json:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty"`
	UpdatedAt   time.Time  `json:"updated_at"`

	// Version is incremented by the store on every successful
	// compare-and-update. Callers pass the version they read.
	Version int64 `json:"version"`
}

// New creates a run in the created state.
func New(id, experimentID, userID string, reviewRequired bool, now time.Time) *Run {
	return &Run{
		ID:             id,
		ExperimentID:   experimentID,
		UserID:         userID,
		Status:         StatusCreated,
		CurrentStage:   StageNone,
		ReviewRequired: reviewRequired,
		ExecutionTrace: []TraceEntry{},
		CreatedAt:      now,
		UpdatedAt:      now,
	}
}

// EffectiveStrategy returns the strategy that Execute runs: the reviewer's
// modified strategy when present, otherwise the recommended one.
// It is always derived and never stored.
func (r *Run) EffectiveStrategy() Strategy {
	if r.ModifiedStrategy != nil {
		return r.ModifiedStrategy
	}
	return r.RecommendedStrategy
}

// SetConfidence stores v clamped to [0,1].
func (r *Run) SetConfidence(v float64) {
	c := ClampConfidence(v)
	r.Confidence = &c
}

// AdvanceStage moves CurrentStage forward. Lower stages are ignored so the
// stage never decreases.
func (r *Run) AdvanceStage(s Stage) {
	if s > r.CurrentStage {
		r.CurrentStage = s
	}
}

// AppendTrace appends entries to the execution trace.
func (r *Run) AppendTrace(entries ...TraceEntry) {
	r.ExecutionTrace = append(r.ExecutionTrace, entries...)
}

// Fail moves the run to failed with a human-readable message.
func (r *Run) Fail(msg string, now time.Time) {
	r.Status = StatusFailed
	r.ErrorMessage = &msg
	r.CompletedAt = &now
}

// Clone returns a deep copy of the run.
func (r *Run) Clone() *Run {
	if r == nil {
		return nil
	}
	c := *r
	c.Goal = clonePtr(r.Goal)
	c.TermContext = clonePtr(r.TermContext)
	c.RecommendedStrategy = r.RecommendedStrategy.Clone()
	c.StrategyReasoning = clonePtr(r.StrategyReasoning)
	c.Confidence = clonePtr(r.Confidence)
	c.Approved = clonePtr(r.Approved)
	c.ModifiedStrategy = r.ModifiedStrategy.Clone()
	c.ReviewNotes = clonePtr(r.ReviewNotes)
	c.ProcessingResults = r.ProcessingResults.Clone()
	c.Insights = clonePtr(r.Insights)
	c.TermEvolution = clonePtr(r.TermEvolution)
	c.ErrorMessage = clonePtr(r.ErrorMessage)
	c.StartedAt = clonePtr(r.StartedAt)
	c.CompletedAt = clonePtr(r.CompletedAt)
	c.ExecutionTrace = make([]TraceEntry, len(r.ExecutionTrace))
	for i, e := range r.ExecutionTrace {
		c.ExecutionTrace[i] = e.Clone()
	}
	return &c
}

// Marshal serializes a run to JSON.
func (r *Run) Marshal() ([]byte, error) {
	return json.Marshal(r)
}

// Unmarshal deserializes a run from JSON.
func Unmarshal(data []byte) (*Run, error) {
	var r Run
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	if r.ExecutionTrace == nil {
		r.ExecutionTrace = []TraceEntry{}
	}
	return &r, nil
}

// ClampConfidence limits v to [0,1].
func ClampConfidence(v float64) float64 {
	switch {
	case v != v: // NaN
		return 0
	case v < 0:
		return 0
	case v > 1:
		return 1
	}
	return v
}

// Strategy maps a document id to the ordered list of tool ids to apply.
type Strategy map[string][]string

// Clone returns a deep copy. A nil strategy stays nil.
func (s Strategy) Clone() Strategy {
	if s == nil {
		return nil
	}
	c := make(Strategy, len(s))
	for doc, tools := range s {
		c[doc] = slices.Clone(tools)
	}
	return c
}

// Documents returns the document ids in sorted order.
func (s Strategy) Documents() []string {
	return slices.Sorted(maps.Keys(s))
}

// Pairs returns the number of (document, tool) assignments.
func (s Strategy) Pairs() int {
	n := 0
	for _, tools := range s {
		n += len(tools)
	}
	return n
}

// ToolStatus is the outcome of one tool invocation.
type ToolStatus string

// Tool invocation outcomes.
const (
	ToolSuccess ToolStatus = "success"
	ToolError   ToolStatus = "error"
)

// ToolResult is the outcome of running one tool on one document.
type ToolResult struct {
	Status  ToolStatus      `json:"status"`
	Payload json.RawMessage `json:"payload,omitempty"`
	Error   string          `json:"error,omitempty"`
}

// ProcessingResults maps document id to tool id to result.
type ProcessingResults map[string]map[string]ToolResult

// Clone returns a deep copy. A nil map stays nil.
func (p ProcessingResults) Clone() ProcessingResults {
	if p == nil {
		return nil
	}
	c := make(ProcessingResults, len(p))
	for doc, tools := range p {
		inner := make(map[string]ToolResult, len(tools))
		for id, res := range tools {
			res.Payload = slices.Clone(res.Payload)
			inner[id] = res
		}
		c[doc] = inner
	}
	return c
}

// Documents returns the document ids in sorted order.
func (p ProcessingResults) Documents() []string {
	return slices.Sorted(maps.Keys(p))
}

// Tools returns the tool ids recorded for doc in sorted order.
func (p ProcessingResults) Tools(doc string) []string {
	return slices.Sorted(maps.Keys(p[doc]))
}

// Decision is the external review outcome submitted for a strategy_ready run.
type Decision struct {
	Approved         bool     `json:"approved"`
	ModifiedStrategy Strategy `json:"modified_strategy,omitempty"`
	ReviewNotes      string   `json:"review_notes,omitempty"`
	Reviewer         string   `json:"reviewer,omitempty"`
}

func clonePtr[T any](p *T) *T {
	if p == nil {
		return nil
	}
	v := *p
	return &v
}
