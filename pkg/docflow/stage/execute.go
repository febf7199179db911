package stage

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/docflow/pkg/docflow"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/provenance"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

type documentOutcome struct {
	results map[string]run.ToolResult
	trace   []run.TraceEntry
}

// Execute applies the effective strategy. Documents run concurrently up to
// the configured limit; the tools of one document run in strategy order.
//
// Every (document, tool) pair is its own unit of failure: an error or panic
// becomes an error result for that pair and the rest continue. The only
// error Execute returns is cancellation, checked before each invocation.
func (s *Stages) Execute(ctx context.Context, st state.State) (state.Partial, error) {
	strategy := st.Run.EffectiveStrategy()
	docs := strategy.Documents()
	outcomes := make([]documentOutcome, len(docs))

	g := new(errgroup.Group)
	g.SetLimit(s.concurrency)
	for i, docID := range docs {
		g.Go(func() error {
			out, err := s.executeDocument(ctx, st, docID, strategy[docID])
			outcomes[i] = out
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return state.Partial{}, err
	}

	results := make(run.ProcessingResults, len(docs))
	var trace []run.TraceEntry
	for i, docID := range docs {
		results[docID] = outcomes[i].results
		trace = append(trace, outcomes[i].trace...)
	}
	return state.Partial{ProcessingResults: results, Trace: trace}, nil
}

func (s *Stages) executeDocument(ctx context.Context, st state.State, docID string, tools []string) (documentOutcome, error) {
	rec := s.recorder()
	out := documentOutcome{results: make(map[string]run.ToolResult, len(tools))}
	doc, known := st.Document(docID)

	for _, toolID := range tools {
		if err := ctx.Err(); err != nil {
			return out, err
		}

		var res run.ToolResult
		if known {
			res = s.invoke(ctx, doc, toolID)
		} else {
			res = run.ToolResult{Status: run.ToolError, Error: fmt.Sprintf("unknown document %q", docID)}
		}
		out.results[toolID] = res

		params := map[string]any{"tool_id": toolID, "status": string(res.Status)}
		var outputs []string
		if res.Status == run.ToolSuccess {
			outputs = []string{run.OutputRef(docID, toolID)}
		} else {
			params["error"] = res.Error
		}
		rec.Record(run.ActivityToolInvocation, run.ActorOrchestrator,
			[]string{provenance.Ref(provenance.KindDocument, docID)}, outputs, params)
	}

	out.trace = rec.Entries()
	return out, nil
}

// invoke runs one tool and converts every failure into an error result.
func (s *Stages) invoke(ctx context.Context, doc run.DocumentRef, toolID string) run.ToolResult {
	toolCtx, span := s.spans.StartToolSpan(ctx, doc.ID, toolID)
	start := time.Now()

	payload, err := s.tools.Invoke(toolCtx, toolID, doc, nil)
	var raw json.RawMessage
	if err == nil {
		raw, err = json.Marshal(payload)
		if err != nil {
			err = fmt.Errorf("encode result: %w", err)
		}
	}

	s.metrics.RecordToolInvocation(toolCtx, toolID, time.Since(start), err)
	s.spans.EndSpanWithError(span, err)

	if err != nil {
		toolErr := &docflow.ToolExecutionError{DocumentID: doc.ID, ToolID: toolID, Err: err}
		observability.LogToolError(s.logger, doc.ID, toolID, toolErr)
		return run.ToolResult{Status: run.ToolError, Error: err.Error()}
	}
	return run.ToolResult{Status: run.ToolSuccess, Payload: raw}
}
