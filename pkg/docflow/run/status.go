package run

import (
	"fmt"
	"strings"
)

// Status is the lifecycle state of a run.
type Status string

// Run statuses.
//
//	created -> analyzing -> strategy_ready -> executing -> completed
//	analyzing | executing -> failed
//	strategy_ready -> rejected
const (
	StatusCreated       Status = "created"
	StatusAnalyzing     Status = "analyzing"
	StatusStrategyReady Status = "strategy_ready"
	StatusExecuting     Status = "executing"
	StatusCompleted     Status = "completed"
	StatusFailed        Status = "failed"
	StatusRejected      Status = "rejected"
)

// transitions lists the legal successor statuses. Abandon may fail any
// non-terminal run, so failed is reachable from every non-terminal status.
var transitions = map[Status][]Status{
	StatusCreated:       {StatusAnalyzing, StatusFailed},
	StatusAnalyzing:     {StatusStrategyReady, StatusFailed},
	StatusStrategyReady: {StatusExecuting, StatusRejected, StatusFailed},
	StatusExecuting:     {StatusCompleted, StatusFailed},
}

// IsTerminal reports whether no further transition is possible.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusFailed || s == StatusRejected
}

// IsSettled reports whether the run is waiting on nothing internal:
// either terminal or suspended for review.
func (s Status) IsSettled() bool {
	return s.IsTerminal() || s == StatusStrategyReady
}

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusCreated, StatusAnalyzing, StatusStrategyReady, StatusExecuting,
		StatusCompleted, StatusFailed, StatusRejected:
		return true
	}
	return false
}

// CanTransition reports whether from -> to is a legal status change.
// Staying in the same non-terminal status is allowed.
func CanTransition(from, to Status) bool {
	if from == to {
		return !from.IsTerminal()
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// Stage is a workflow step. Its ordinal is persisted as current_stage and
// never decreases once a run has started.
type Stage int

// Workflow stages in execution order.
const (
	StageNone Stage = iota
	StageAnalyze
	StageRecommend
	StageReview
	StageExecute
	StageSynthesize
)

var stageNames = [...]string{"none", "analyze", "recommend", "review", "execute", "synthesize"}

// String returns the stage name.
func (s Stage) String() string {
	if s < 0 || int(s) >= len(stageNames) {
		return "unknown"
	}
	return stageNames[s]
}

// ParseStage returns the stage with the given name.
func ParseStage(name string) (Stage, error) {
	for i, n := range stageNames {
		if strings.EqualFold(n, name) {
			return Stage(i), nil
		}
	}
	return StageNone, fmt.Errorf("unknown stage %q", name)
}

// MarshalText encodes the stage by name.
func (s Stage) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText decodes a stage name.
func (s *Stage) UnmarshalText(b []byte) error {
	st, err := ParseStage(string(b))
	if err != nil {
		return err
	}
	*s = st
	return nil
}
