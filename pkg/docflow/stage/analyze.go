package stage

import (
	"context"
	"fmt"
	"strings"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

type analysis struct {
	Goal        string `json:"goal"`
	TermContext string `json:"term_context"`
}

func (a *analysis) Validate() error {
	if strings.TrimSpace(a.Goal) == "" {
		return &dferrors.ValidationError{Field: "goal", Message: "must not be empty"}
	}
	return nil
}

// Analyze derives the research goal and terminology context from the
// experiment description and document summaries. One LLM call.
func (s *Stages) Analyze(ctx context.Context, st state.State) (state.Partial, error) {
	rec := s.recorder()
	inputs := documentRefs(st.Documents)

	out, err := llm.CompleteJSON[analysis](ctx, s.llm, analyzeRequest(st), callOptions(run.StageAnalyze, rec))
	if err != nil {
		if interrupted(ctx, err) {
			return state.Partial{}, err
		}
		rec.Record(run.ActivityAnalyze, run.ActorLLM, inputs, nil, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return failed(run.StageAnalyze, err, rec)
	}

	rec.Record(run.ActivityAnalyze, run.ActorLLM, inputs, []string{
		provenance.Ref(provenance.KindGoal, st.RunID()),
		provenance.Ref(provenance.KindTermContext, st.RunID()),
	}, map[string]any{"status": "success", "documents": len(st.Documents)})

	return state.Partial{
		Goal:        state.Ptr(out.Goal),
		TermContext: state.Ptr(out.TermContext),
		Trace:       rec.Entries(),
	}, nil
}

type recommendation struct {
	Strategy   map[string][]string `json:"strategy"`
	Reasoning  string              `json:"reasoning"`
	Confidence *float64            `json:"confidence"`
}

func (r *recommendation) Validate() error {
	if r.Strategy == nil {
		return &dferrors.ValidationError{Field: "strategy", Message: "is required"}
	}
	return nil
}

// Recommend proposes a strategy: an ordered tool list per document. Tool ids
// missing from the registry snapshot and documents missing from the
// experiment are dropped and listed in the trace parameters; they never
// reach Execute. On success the run becomes strategy_ready.
func (s *Stages) Recommend(ctx context.Context, st state.State) (state.Partial, error) {
	rec := s.recorder()
	inputs := append([]string{
		provenance.Ref(provenance.KindGoal, st.RunID()),
		provenance.Ref(provenance.KindTermContext, st.RunID()),
	}, documentRefs(st.Documents)...)

	out, err := llm.CompleteJSON[recommendation](ctx, s.llm, recommendRequest(st), callOptions(run.StageRecommend, rec))
	if err != nil {
		if interrupted(ctx, err) {
			return state.Partial{}, err
		}
		rec.Record(run.ActivityRecommend, run.ActorLLM, inputs, nil, map[string]any{
			"status": "error",
			"error":  err.Error(),
		})
		return failed(run.StageRecommend, err, rec)
	}

	strategy, droppedTools, droppedDocs := prune(st, out.Strategy)

	params := map[string]any{
		"status":    "success",
		"documents": len(strategy),
		"pairs":     strategy.Pairs(),
	}
	p := state.Partial{
		Status:              state.Ptr(run.StatusStrategyReady),
		RecommendedStrategy: strategy,
		StrategyReasoning:   state.Ptr(out.Reasoning),
	}
	if out.Confidence != nil {
		c := run.ClampConfidence(*out.Confidence)
		p.Confidence = &c
		params["confidence"] = c
		if c != *out.Confidence {
			params["raw_confidence"] = *out.Confidence
		}
	}
	if len(droppedTools) > 0 {
		params["dropped_tools"] = droppedTools
		params["warning"] = fmt.Sprintf("dropped %d unknown tool assignment(s)", len(droppedTools))
		s.logger.Warn("recommendation named unknown tools",
			"run_id", st.RunID(), "dropped", droppedTools)
	}
	if len(droppedDocs) > 0 {
		params["dropped_documents"] = droppedDocs
	}

	rec.Record(run.ActivityRecommend, run.ActorLLM, inputs,
		[]string{provenance.Ref(provenance.KindStrategy, st.RunID())}, params)
	p.Trace = rec.Entries()
	return p, nil
}

// prune keeps only known documents and registered tools, preserving tool
// order. Dropped tools are reported as "<document>/<tool>".
func prune(st state.State, proposed map[string][]string) (run.Strategy, []string, []string) {
	strategy := make(run.Strategy, len(proposed))
	var droppedTools, droppedDocs []string

	for _, doc := range run.Strategy(proposed).Documents() {
		if _, ok := st.Document(doc); !ok {
			droppedDocs = append(droppedDocs, doc)
			continue
		}
		tools := make([]string, 0, len(proposed[doc]))
		for _, id := range proposed[doc] {
			if !st.HasTool(id) {
				droppedTools = append(droppedTools, doc+"/"+id)
				continue
			}
			tools = append(tools, id)
		}
		strategy[doc] = tools
	}
	return strategy, droppedTools, droppedDocs
}
