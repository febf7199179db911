package run

// StatusView is the status() response shape.
type StatusView struct {
	RunID          string         `json:"run_id"`
	Status         Status         `json:"status"`
	CurrentStage   Stage          `json:"current_stage"`
	Confidence     *float64       `json:"confidence,omitempty"`
	ErrorMessage   *string        `json:"error_message,omitempty"`
	PartialOutputs PartialOutputs `json:"partial_outputs"`
}

// PartialOutputs carries whatever stage outputs have been committed so far.
type PartialOutputs struct {
	Goal                *string  `json:"goal,omitempty"`
	TermContext         *string  `json:"term_context,omitempty"`
	RecommendedStrategy Strategy `json:"recommended_strategy,omitempty"`
	StrategyReasoning   *string  `json:"strategy_reasoning,omitempty"`
	EffectiveStrategy   Strategy `json:"effective_strategy,omitempty"`
}

// ResultView is the result() response shape.
type ResultView struct {
	RunID             string            `json:"run_id"`
	Status            Status            `json:"status"`
	Insights          *string           `json:"insights,omitempty"`
	TermEvolution     *string           `json:"term_evolution,omitempty"`
	ProcessingResults ProcessingResults `json:"processing_results,omitempty"`
	ExecutionTrace    []TraceEntry      `json:"execution_trace"`
	ErrorMessage      *string           `json:"error_message,omitempty"`
}

// StatusView projects the run onto the status response.
func (r *Run) StatusView() StatusView {
	return StatusView{
		RunID:        r.ID,
		Status:       r.Status,
		CurrentStage: r.CurrentStage,
		Confidence:   r.Confidence,
		ErrorMessage: r.ErrorMessage,
		PartialOutputs: PartialOutputs{
			Goal:                r.Goal,
			TermContext:         r.TermContext,
			RecommendedStrategy: r.RecommendedStrategy,
			StrategyReasoning:   r.StrategyReasoning,
			EffectiveStrategy:   r.EffectiveStrategy(),
		},
	}
}

// ResultView projects the run onto the result response.
func (r *Run) ResultView() ResultView {
	return ResultView{
		RunID:             r.ID,
		Status:            r.Status,
		Insights:          r.Insights,
		TermEvolution:     r.TermEvolution,
		ProcessingResults: r.ProcessingResults,
		ExecutionTrace:    r.ExecutionTrace,
		ErrorMessage:      r.ErrorMessage,
	}
}
