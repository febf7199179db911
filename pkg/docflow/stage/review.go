package stage

import (
	"context"
	"fmt"
	"strings"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

// Review is the gate between Recommend and Execute. It is not a graph node
// for human decisions: the orchestrator calls it when a decision arrives and
// commits the result before scheduling Execute.
//
// The run must be strategy_ready; otherwise an *docflow.InvalidStateTransition
// is returned and nothing changes. A malformed modified strategy yields a
// *docflow.ValidationError. Rejection moves the run to rejected; approval
// moves it to executing with the modified strategy, if any, overriding the
// recommendation.
func (s *Stages) Review(st state.State, d run.Decision, actor string) (state.Partial, error) {
	if st.Run.Status != run.StatusStrategyReady {
		to := run.StatusExecuting
		if !d.Approved {
			to = run.StatusRejected
		}
		return state.Partial{}, &docflow.InvalidStateTransition{
			RunID: st.RunID(),
			Op:    "submit_decision",
			From:  st.Run.Status,
			To:    to,
		}
	}
	if err := ValidateStrategy(st, d.ModifiedStrategy); err != nil {
		return state.Partial{}, err
	}

	next := run.StatusRejected
	if d.Approved {
		next = run.StatusExecuting
	}
	p := state.Partial{
		Status:       &next,
		CurrentStage: state.Ptr(run.StageReview),
		Approved:     state.Ptr(d.Approved),
	}
	if d.Approved && d.ModifiedStrategy != nil {
		p.ModifiedStrategy = d.ModifiedStrategy.Clone()
	}
	if d.ReviewNotes != "" {
		p.ReviewNotes = state.Ptr(d.ReviewNotes)
	}

	params := map[string]any{
		"approved": d.Approved,
		"modified": d.Approved && d.ModifiedStrategy != nil,
	}
	if d.Reviewer != "" {
		params["reviewer"] = d.Reviewer
	}
	if d.ReviewNotes != "" {
		params["notes"] = d.ReviewNotes
	}

	rec := s.recorder()
	rec.Record(run.ActivityReviewDecision, actor,
		[]string{provenance.Ref(provenance.KindStrategy, st.RunID())},
		[]string{provenance.Ref(provenance.KindDecision, st.RunID())},
		params)
	p.Trace = rec.Entries()
	return p, nil
}

// AutoApprove is the review node used when a run does not require human
// review. It approves the recommended strategy as the system actor.
func (s *Stages) AutoApprove(_ context.Context, st state.State) (state.Partial, error) {
	return s.Review(st, run.Decision{Approved: true, Reviewer: run.ActorSystem}, run.ActorSystem)
}

// ValidateStrategy checks a reviewer-supplied strategy against the run's
// documents and tools. A nil strategy is valid.
func ValidateStrategy(st state.State, strategy run.Strategy) error {
	for _, doc := range strategy.Documents() {
		if strings.TrimSpace(doc) == "" {
			return &docflow.ValidationError{Field: "modified_strategy", Message: "document id must not be empty"}
		}
		if _, ok := st.Document(doc); !ok {
			return &docflow.ValidationError{Field: "modified_strategy", Message: fmt.Sprintf("unknown document %q", doc)}
		}
		for _, id := range strategy[doc] {
			if strings.TrimSpace(id) == "" {
				return &docflow.ValidationError{Field: "modified_strategy", Message: fmt.Sprintf("empty tool id for document %q", doc)}
			}
			if !st.HasTool(id) {
				return &docflow.ValidationError{Field: "modified_strategy", Message: fmt.Sprintf("unknown tool %q for document %q", id, doc)}
			}
		}
	}
	return nil
}
