package stage

import (
	"context"

	"github.com/randalmurphal/docflow/pkg/docflow/graph"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

// Node ids. They match run.Stage names so a committed current_stage maps
// straight to a resume point.
var (
	NodeAnalyze    = run.StageAnalyze.String()
	NodeRecommend  = run.StageRecommend.String()
	NodeReview     = run.StageReview.String()
	NodeExecute    = run.StageExecute.String()
	NodeSynthesize = run.StageSynthesize.String()
)

// Workflow builds the stage graph:
//
//	analyze -> recommend -> [review] -> execute -> synthesize -> END
//
// A failed run stops at END. When review is required the graph also stops
// after recommend; the orchestrator resumes at execute once a decision is
// accepted. Otherwise the review node auto-approves.
func (s *Stages) Workflow() (*graph.Compiled, error) {
	return graph.New().
		AddNode(NodeAnalyze, s.Analyze).
		AddNode(NodeRecommend, s.Recommend).
		AddNode(NodeReview, s.AutoApprove).
		AddNode(NodeExecute, s.Execute).
		AddNode(NodeSynthesize, s.Synthesize).
		AddConditionalEdge(NodeAnalyze, unlessFailed(NodeRecommend)).
		AddConditionalEdge(NodeRecommend, routeAfterRecommend).
		AddConditionalEdge(NodeReview, routeAfterReview).
		AddEdge(NodeExecute, NodeSynthesize).
		AddEdge(NodeSynthesize, graph.END).
		SetEntry(NodeAnalyze).
		Compile()
}

func unlessFailed(next string) graph.RouterFunc {
	return func(_ context.Context, st state.State) string {
		if st.Run.Status == run.StatusFailed {
			return graph.END
		}
		return next
	}
}

func routeAfterRecommend(_ context.Context, st state.State) string {
	if st.Run.Status != run.StatusStrategyReady || st.Run.ReviewRequired {
		return graph.END
	}
	return NodeReview
}

func routeAfterReview(_ context.Context, st state.State) string {
	if st.Run.Status != run.StatusExecuting {
		return graph.END
	}
	return NodeExecute
}

// ResumePoint returns the node a committed run continues from, or "" when
// nothing should run: the run is terminal or waiting for a human decision.
// Committed processing results are never recomputed.
func ResumePoint(r *run.Run) string {
	switch r.Status {
	case run.StatusCreated:
		return NodeAnalyze
	case run.StatusAnalyzing:
		if r.Goal == nil {
			return NodeAnalyze
		}
		return NodeRecommend
	case run.StatusStrategyReady:
		if !r.ReviewRequired {
			return NodeReview
		}
	case run.StatusExecuting:
		if r.ProcessingResults != nil {
			return NodeSynthesize
		}
		return NodeExecute
	}
	return ""
}
