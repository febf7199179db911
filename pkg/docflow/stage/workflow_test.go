package stage_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/docflow/pkg/docflow/graph"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

func TestWorkflow_SuspendsForReview(t *testing.T) {
	reg := toolRegistry(nil)
	s := newScript()
	wf, err := newStages(s, reg).Workflow()
	require.NoError(t, err)

	out, err := wf.Run(context.Background(), initial(reg, true))
	require.NoError(t, err)

	assert.Equal(t, run.StatusStrategyReady, out.Run.Status)
	assert.NotNil(t, out.Run.RecommendedStrategy)
	assert.Nil(t, out.Run.ProcessingResults)
	assert.Zero(t, s.count(run.StageSynthesize))
}

func TestWorkflow_AutoApproveRunsToCompletion(t *testing.T) {
	reg := toolRegistry(map[string]string{"doc1": "toolB"})
	wf, err := newStages(newScript(), reg).Workflow()
	require.NoError(t, err)

	out, err := wf.Run(context.Background(), initial(reg, false))
	require.NoError(t, err)

	r := out.Run
	assert.Equal(t, run.StatusCompleted, r.Status)
	assert.Equal(t, run.ToolError, r.ProcessingResults["doc1"]["toolB"].Status)
	assert.Equal(t, run.ToolSuccess, r.ProcessingResults["doc1"]["toolA"].Status)
	assert.Equal(t, run.ToolSuccess, r.ProcessingResults["doc2"]["toolA"].Status)
	assert.Equal(t, "terms converge", *r.Insights)

	assert.Equal(t, 1, run.CountActivity(r.ExecutionTrace, run.ActivityAnalyze))
	assert.Equal(t, 1, run.CountActivity(r.ExecutionTrace, run.ActivityRecommend))
	assert.Equal(t, 1, run.CountActivity(r.ExecutionTrace, run.ActivityReviewDecision))
	assert.Equal(t, 3, run.CountActivity(r.ExecutionTrace, run.ActivityToolInvocation))
	assert.Equal(t, 1, run.CountActivity(r.ExecutionTrace, run.ActivitySynthesize))
}

func TestWorkflow_StopsOnAnalyzeFailure(t *testing.T) {
	reg := toolRegistry(nil)
	s := newScript().on(run.StageAnalyze, transient(), transient(), transient())
	wf, err := newStages(s, reg).Workflow()
	require.NoError(t, err)

	out, err := wf.Run(context.Background(), initial(reg, false))
	require.Error(t, err)
	assert.Equal(t, stage.NodeAnalyze, graph.LastNode(err))
	assert.Equal(t, run.StatusFailed, out.Run.Status)
	assert.Zero(t, s.count(run.StageRecommend))
}

func TestWorkflow_ResumeAtExecute(t *testing.T) {
	reg := toolRegistry(nil)
	s := newScript()
	wf, err := newStages(s, reg).Workflow()
	require.NoError(t, err)

	st := readyState(reg)
	st.Run.Status = run.StatusExecuting
	out, err := wf.Run(context.Background(), st, graph.WithStart(stage.NodeExecute))
	require.NoError(t, err)

	assert.Equal(t, run.StatusCompleted, out.Run.Status)
	assert.Zero(t, s.count(run.StageAnalyze))
	assert.Zero(t, s.count(run.StageRecommend))
}

func TestResumePoint(t *testing.T) {
	tests := []struct {
		name string
		run  run.Run
		want string
	}{
		{"created", run.Run{Status: run.StatusCreated}, stage.NodeAnalyze},
		{"analyzing without goal", run.Run{Status: run.StatusAnalyzing, CurrentStage: run.StageAnalyze}, stage.NodeAnalyze},
		{"analyzing with goal", run.Run{Status: run.StatusAnalyzing, CurrentStage: run.StageRecommend, Goal: state.Ptr("g")}, stage.NodeRecommend},
		{"waiting for review", run.Run{Status: run.StatusStrategyReady, ReviewRequired: true}, ""},
		{"auto-approve interrupted", run.Run{
			Status:       run.StatusStrategyReady,
			CurrentStage: run.StageRecommend,
		}, stage.NodeReview},
		{"executing", run.Run{Status: run.StatusExecuting, CurrentStage: run.StageExecute}, stage.NodeExecute},
		{"synthesizing", run.Run{
			Status:            run.StatusExecuting,
			CurrentStage:      run.StageSynthesize,
			ProcessingResults: run.ProcessingResults{},
		}, stage.NodeSynthesize},
		{"results committed before synthesize", run.Run{
			Status:            run.StatusExecuting,
			CurrentStage:      run.StageExecute,
			ProcessingResults: run.ProcessingResults{"doc1": {"toolA": {Status: run.ToolSuccess}}},
		}, stage.NodeSynthesize},
		{"completed", run.Run{Status: run.StatusCompleted}, ""},
		{"failed", run.Run{Status: run.StatusFailed}, ""},
		{"rejected", run.Run{Status: run.StatusRejected}, ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, stage.ResumePoint(&tt.run))
		})
	}
}
