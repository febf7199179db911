package run

import (
	"maps"
	"slices"
	"time"
)

// Activity types recorded in the execution trace.
const (
	ActivityAnalyze        = "analyze"
	ActivityRecommend      = "recommend"
	ActivityReviewDecision = "review_decision"
	ActivityToolInvocation = "tool_invocation"
	ActivitySynthesize     = "synthesize"
	ActivityLLMRetry       = "llm_retry"
	ActivityAbandon        = "abandon"
	ActivityRunFailed      = "run_failed"
)

// Actors that perform activities.
const (
	ActorLLM          = "llm"
	ActorSystem       = "system"
	ActorOrchestrator = "orchestrator"
	ActorHuman        = "human"
)

// TraceEntry is one immutable provenance record of an activity.
// Inputs and outputs are references of the form "<kind>:<id>"
// (for example "document:doc1" or "output:doc1/word_count").
type TraceEntry struct {
	ID               string         `json:"id"`
	ActivityType     string         `json:"activity_type"`
	Actor            string         `json:"actor"`
	Timestamp        time.Time      `json:"timestamp"`
	InputsUsed       []string       `json:"inputs_used"`
	OutputsGenerated []string       `json:"outputs_generated"`
	Parameters       map[string]any `json:"parameters,omitempty"`
}

// Clone returns a copy that shares no slices or maps with e.
func (e TraceEntry) Clone() TraceEntry {
	e.InputsUsed = slices.Clone(e.InputsUsed)
	e.OutputsGenerated = slices.Clone(e.OutputsGenerated)
	e.Parameters = CloneParameters(e.Parameters)
	return e
}

// CloneParameters deep-copies trace parameters. Nested maps and slices are
// copied; other values are JSON scalars and are shared as-is.
func CloneParameters(params map[string]any) map[string]any {
	if params == nil {
		return nil
	}
	out := make(map[string]any, len(params))
	for k, v := range params {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch v := v.(type) {
	case map[string]any:
		return CloneParameters(v)
	case []any:
		out := make([]any, len(v))
		for i, item := range v {
			out[i] = cloneValue(item)
		}
		return out
	case []string:
		return slices.Clone(v)
	case []int:
		return slices.Clone(v)
	case []float64:
		return slices.Clone(v)
	case map[string]string:
		return maps.Clone(v)
	}
	return v
}

// CountActivity returns how many trace entries have the given activity type.
func CountActivity(trace []TraceEntry, activity string) int {
	n := 0
	for _, e := range trace {
		if e.ActivityType == activity {
			n++
		}
	}
	return n
}
