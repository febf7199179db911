/*
Package docflow orchestrates multi-stage document analysis where some stages
call a remote LLM and one stage waits for a human decision.

# Overview

A run moves through five stages:

	Analyze -> Recommend -> Review (human gate) -> Execute -> Synthesize

Analyze and Recommend call the LLM to derive a research goal and a per-document
tool strategy. The run then suspends in strategy_ready until a reviewer
approves (optionally with a modified strategy) or rejects it. Execute runs
every assigned tool on every document, isolating failures to the individual
(document, tool) pair, and Synthesize asks the LLM to interpret the results.

The Run record in the run store is the source of truth. The orchestrator
commits it after every stage, so a restart loses at most the stage that was in
flight, and a run suspended for review is fully recoverable from the store.

# Basic Usage

	store := store.NewMemoryStore()
	registry := tool.NewRegistry()
	registry.MustRegister(builtin.WordCount())

	orch := orchestrator.New(store, llmClient, registry, experiments,
	    orchestrator.WithLogger(logger))
	defer orch.Close()

	runID, err := orch.Start(ctx, "exp-42", orchestrator.StartOptions{ReviewRequired: true})
	snap, err := orch.Wait(ctx, runID) // strategy_ready

	_, err = orch.SubmitDecision(ctx, runID, run.Decision{Approved: true})
	final, err := orch.Wait(ctx, runID) // completed

# Errors

Caller-facing errors are typed and unwrap to sentinels:

	var unknown *docflow.UnknownRunError
	if errors.As(err, &unknown) { ... }
	if errors.Is(err, docflow.ErrInvalidStateTransition) { ... }

Use IsClientError to separate them from unexpected failures before any
generic fallback handling.

# Subpackages

  - run: the Run record, status machine and trace entries
  - state: the in-memory workflow state and merge rules
  - graph: the stage graph executor
  - stage: the five stage implementations
  - orchestrator: public operations and per-run background tasks
  - llm: LLM client interface, Anthropic client and retry wrapper
  - tool: tool interface and capability registry
  - store: run stores (memory, SQLite, Postgres)
  - provenance: trace recording and provenance graph export
  - observability: logging, metrics and tracing helpers
  - config: configuration loading
  - api: HTTP transport
*/
package docflow
