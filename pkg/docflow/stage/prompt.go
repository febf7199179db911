package stage

import (
	"encoding/json"
	"fmt"
	"maps"
	"slices"
	"strings"

	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

var systemPrompts = map[run.Stage]string{
	run.StageAnalyze: `You are the analyze stage of a document analysis workflow.
Read the experiment description and document summaries and state the research
goal and the terminology context the documents share.
Respond with a single JSON object: {"goal": string, "term_context": string}.`,

	run.StageRecommend: `You are the recommend stage of a document analysis workflow.
Given the goal, terminology context, available tools and documents, choose an
ordered list of tools for each document. Use only the listed tool ids.
Respond with a single JSON object:
{"strategy": {"<document id>": ["<tool id>", ...]}, "reasoning": string, "confidence": number between 0 and 1}.`,

	run.StageSynthesize: `You are the synthesize stage of a document analysis workflow.
Given the goal and the per-document tool results, summarize the insights and
describe how key terms evolve across the documents.
Respond with a single JSON object: {"insights": string, "term_evolution": string}.`,
}

// SystemPrompt returns the system prompt for an LLM stage, or "" for stages
// that do not call the LLM.
func SystemPrompt(stage run.Stage) string {
	return systemPrompts[stage]
}

func analyzeRequest(st state.State) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Experiment description:\n%s\n\nDocuments:\n", st.Description)
	for _, d := range st.Documents {
		fmt.Fprintf(&b, "- %s", d.ID)
		if d.Title != "" {
			fmt.Fprintf(&b, " (%s)", d.Title)
		}
		if d.Summary != "" {
			fmt.Fprintf(&b, ": %s", d.Summary)
		}
		b.WriteString("\n")
	}
	return llm.Request{System: SystemPrompt(run.StageAnalyze), Prompt: b.String()}
}

func recommendRequest(st state.State) llm.Request {
	var b strings.Builder
	fmt.Fprintf(&b, "Goal:\n%s\n\n", deref(st.Run.Goal))
	fmt.Fprintf(&b, "Term context:\n%s\n\nTools:\n", deref(st.Run.TermContext))
	for _, c := range st.Tools {
		fmt.Fprintf(&b, "- %s: %s", c.ID, c.Description)
		if len(c.IOTypes) > 0 {
			fmt.Fprintf(&b, " [%s]", strings.Join(c.IOTypes, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString("\nDocuments:\n")
	for _, d := range st.Documents {
		fmt.Fprintf(&b, "- %s", d.ID)
		if d.Title != "" {
			fmt.Fprintf(&b, " (%s)", d.Title)
		}
		for _, k := range slices.Sorted(maps.Keys(d.Metadata)) {
			fmt.Fprintf(&b, " %s=%s", k, d.Metadata[k])
		}
		b.WriteString("\n")
	}
	return llm.Request{System: SystemPrompt(run.StageRecommend), Prompt: b.String()}
}

func synthesizeRequest(st state.State) (llm.Request, error) {
	results, err := json.MarshalIndent(st.Run.ProcessingResults, "", "  ")
	if err != nil {
		return llm.Request{}, fmt.Errorf("encode processing results: %w", err)
	}
	prompt := fmt.Sprintf("Goal:\n%s\n\nTerm context:\n%s\n\nProcessing results:\n%s\n",
		deref(st.Run.Goal), deref(st.Run.TermContext), results)
	return llm.Request{System: SystemPrompt(run.StageSynthesize), Prompt: prompt}, nil
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
