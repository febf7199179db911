package stage

import (
	"context"
	"strings"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

type synthesis struct {
	Insights      string `json:"insights"`
	TermEvolution string `json:"term_evolution"`
}

func (s *synthesis) Validate() error {
	if strings.TrimSpace(s.Insights) == "" {
		return &dferrors.ValidationError{Field: "insights", Message: "must not be empty"}
	}
	return nil
}

// Synthesize summarizes the processing results. The run completes even when
// the LLM call fails: insights stay unset, the processing results are kept
// and the synthesize trace entry carries a warning.
func (s *Stages) Synthesize(ctx context.Context, st state.State) (state.Partial, error) {
	rec := s.recorder()
	inputs := []string{provenance.Ref(provenance.KindGoal, st.RunID())}
	for _, doc := range st.Run.ProcessingResults.Documents() {
		for _, toolID := range st.Run.ProcessingResults.Tools(doc) {
			if st.Run.ProcessingResults[doc][toolID].Status == run.ToolSuccess {
				inputs = append(inputs, run.OutputRef(doc, toolID))
			}
		}
	}

	p := state.Partial{Status: state.Ptr(run.StatusCompleted)}

	req, err := synthesizeRequest(st)
	var out synthesis
	if err == nil {
		out, err = llm.CompleteJSON[synthesis](ctx, s.llm, req, callOptions(run.StageSynthesize, rec))
	}
	if err != nil {
		if interrupted(ctx, err) {
			return state.Partial{}, err
		}
		observability.LogStageError(observability.EnrichLogger(s.logger, st.RunID(), run.StageSynthesize.String()), err)
		rec.Record(run.ActivitySynthesize, run.ActorLLM, inputs, nil, map[string]any{
			"status":  "error",
			"error":   err.Error(),
			"warning": "synthesis failed; insights left unset",
		})
		p.Trace = rec.Entries()
		return p, nil
	}

	rec.Record(run.ActivitySynthesize, run.ActorLLM, inputs, []string{
		provenance.Ref(provenance.KindInsights, st.RunID()),
		provenance.Ref(provenance.KindTermEvolution, st.RunID()),
	}, map[string]any{"status": "success"})

	p.Insights = state.Ptr(out.Insights)
	p.TermEvolution = state.Ptr(out.TermEvolution)
	p.Trace = rec.Entries()
	return p, nil
}
