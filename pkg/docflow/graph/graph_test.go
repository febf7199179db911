package graph_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/docflow/pkg/docflow/graph"
	"github.com/randalmurphal/docflow/pkg/docflow/observability"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
)

func setGoal(goal string) graph.NodeFunc {
	return func(context.Context, state.State) (state.Partial, error) {
		return state.Partial{Goal: state.Ptr(goal)}, nil
	}
}

func appendNote(note string, calls *[]string) graph.NodeFunc {
	return func(_ context.Context, s state.State) (state.Partial, error) {
		*calls = append(*calls, note)
		return state.Partial{Trace: []run.TraceEntry{{ActivityType: note}}}, nil
	}
}

func initial() state.State {
	return state.Init("run-1", []run.DocumentRef{{ID: "doc1"}}, nil, true)
}

func TestAddNode_Panics(t *testing.T) {
	noop := setGoal("x")
	assert.Panics(t, func() { graph.New().AddNode("", noop) })
	assert.Panics(t, func() { graph.New().AddNode("END", noop) })
	assert.Panics(t, func() { graph.New().AddNode(graph.END, noop) })
	assert.Panics(t, func() { graph.New().AddNode("a b", noop) })
	assert.Panics(t, func() { graph.New().AddNode("a", nil) })
	assert.Panics(t, func() { graph.New().AddNode("a", noop).AddNode("a", noop) })
	assert.Panics(t, func() { graph.New().AddConditionalEdge("a", nil) })
}

func TestCompile_Errors(t *testing.T) {
	noop := setGoal("x")

	_, err := graph.New().AddNode("a", noop).AddEdge("a", graph.END).Compile()
	assert.ErrorIs(t, err, graph.ErrNoEntryPoint)

	_, err = graph.New().AddNode("a", noop).AddEdge("a", graph.END).SetEntry("b").Compile()
	assert.ErrorIs(t, err, graph.ErrEntryNotFound)

	_, err = graph.New().AddNode("a", noop).AddEdge("a", "missing").SetEntry("a").Compile()
	assert.ErrorIs(t, err, graph.ErrNodeNotFound)

	_, err = graph.New().AddNode("a", noop).AddNode("b", noop).AddEdge("a", "b").SetEntry("a").Compile()
	assert.ErrorIs(t, err, graph.ErrNoOutgoingEdge)

	_, err = graph.New().
		AddNode("a", noop).AddNode("b", noop).
		AddEdge("a", "b").AddEdge("b", "a").
		SetEntry("a").Compile()
	assert.ErrorIs(t, err, graph.ErrNoPathToEnd)
}

func TestCompile_Introspection(t *testing.T) {
	c, err := graph.New().
		AddNode("b", setGoal("b")).
		AddNode("a", setGoal("a")).
		AddEdge("a", "b").
		AddConditionalEdge("b", func(context.Context, state.State) string { return graph.END }).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	assert.Equal(t, "a", c.EntryPoint())
	assert.Equal(t, []string{"a", "b"}, c.NodeIDs())
	assert.True(t, c.HasNode("b"))
	assert.False(t, c.HasNode(graph.END))
	assert.True(t, c.IsConditional("b"))
	to, ok := c.Successor("a")
	assert.True(t, ok)
	assert.Equal(t, "b", to)
}

func TestRun_LinearAndMerge(t *testing.T) {
	var calls []string
	c, err := graph.New().
		AddNode("first", appendNote("first", &calls)).
		AddNode("second", appendNote("second", &calls)).
		AddNode("goal", setGoal("found")).
		AddEdge("first", "second").
		AddEdge("second", "goal").
		AddEdge("goal", graph.END).
		SetEntry("first").
		Compile()
	require.NoError(t, err)

	out, err := c.Run(context.Background(), initial())
	require.NoError(t, err)

	assert.Equal(t, []string{"first", "second"}, calls)
	require.Len(t, out.Run.ExecutionTrace, 2)
	assert.Equal(t, "second", out.Run.ExecutionTrace[1].ActivityType)
	require.NotNil(t, out.Run.Goal)
	assert.Equal(t, "found", *out.Run.Goal)
	assert.Equal(t, "run-1", out.RunID())
	assert.Len(t, out.Documents, 1)
}

func TestRun_ConditionalRouting(t *testing.T) {
	var calls []string
	router := func(_ context.Context, s state.State) string {
		if s.Run.ReviewRequired {
			return graph.END
		}
		return "after"
	}
	c, err := graph.New().
		AddNode("gate", appendNote("gate", &calls)).
		AddNode("after", appendNote("after", &calls)).
		AddConditionalEdge("gate", router).
		AddEdge("after", graph.END).
		SetEntry("gate").
		Compile()
	require.NoError(t, err)

	_, err = c.Run(context.Background(), initial())
	require.NoError(t, err)
	assert.Equal(t, []string{"gate"}, calls)

	calls = nil
	st := initial()
	st.Run.ReviewRequired = false
	_, err = c.Run(context.Background(), st)
	require.NoError(t, err)
	assert.Equal(t, []string{"gate", "after"}, calls)
}

func TestRun_WithStart(t *testing.T) {
	var calls []string
	c, err := graph.New().
		AddNode("a", appendNote("a", &calls)).
		AddNode("b", appendNote("b", &calls)).
		AddEdge("a", "b").
		AddEdge("b", graph.END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = c.Run(context.Background(), initial(), graph.WithStart("b"))
	require.NoError(t, err)
	assert.Equal(t, []string{"b"}, calls)

	_, err = c.Run(context.Background(), initial(), graph.WithStart("zzz"))
	assert.ErrorIs(t, err, graph.ErrInvalidStart)
}

func TestRun_ErrorStillMergesAndCommits(t *testing.T) {
	boom := errors.New("llm down")
	failing := func(context.Context, state.State) (state.Partial, error) {
		return state.Partial{
			Status:       state.Ptr(run.StatusFailed),
			ErrorMessage: state.Ptr("llm down"),
		}, boom
	}
	var calls []string
	c, err := graph.New().
		AddNode("analyze", failing).
		AddNode("next", appendNote("next", &calls)).
		AddEdge("analyze", "next").
		AddEdge("next", graph.END).
		SetEntry("analyze").
		Compile()
	require.NoError(t, err)

	var committed []run.Status
	commit := func(_ context.Context, _ string, s state.State) (state.State, error) {
		committed = append(committed, s.Run.Status)
		s.Run.Version++
		return s, nil
	}

	out, err := c.Run(context.Background(), initial(), graph.WithCommit(commit))
	require.ErrorIs(t, err, boom)

	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "analyze", nodeErr.NodeID)
	assert.Equal(t, "analyze", graph.LastNode(err))

	assert.Equal(t, run.StatusFailed, out.Run.Status)
	assert.Equal(t, "llm down", *out.Run.ErrorMessage)
	assert.Equal(t, int64(1), out.Run.Version)
	assert.Equal(t, []run.Status{run.StatusFailed}, committed)
	assert.Empty(t, calls)
}

func TestRun_CommitFailureStops(t *testing.T) {
	var calls []string
	c, err := graph.New().
		AddNode("a", appendNote("a", &calls)).
		AddNode("b", appendNote("b", &calls)).
		AddEdge("a", "b").
		AddEdge("b", graph.END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	storeDown := errors.New("store down")
	_, err = c.Run(context.Background(), initial(), graph.WithCommit(
		func(context.Context, string, state.State) (state.State, error) {
			return state.State{}, storeDown
		}))

	assert.ErrorIs(t, err, storeDown)
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "commit", nodeErr.Op)
	assert.Equal(t, []string{"a"}, calls)
}

func TestRun_EnterHook(t *testing.T) {
	var seen []string
	c, err := graph.New().
		AddNode("a", func(_ context.Context, s state.State) (state.Partial, error) {
			seen = append(seen, s.Run.CurrentStage.String())
			return state.Partial{}, nil
		}).
		AddEdge("a", graph.END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	enter := func(_ context.Context, _ string, s state.State) (state.State, error) {
		s.Run.AdvanceStage(run.StageAnalyze)
		return s, nil
	}
	out, err := c.Run(context.Background(), initial(), graph.WithEnter(enter))
	require.NoError(t, err)
	assert.Equal(t, []string{"analyze"}, seen)
	assert.Equal(t, run.StageAnalyze, out.Run.CurrentStage)

	_, err = c.Run(context.Background(), initial(), graph.WithEnter(
		func(_ context.Context, _ string, s state.State) (state.State, error) {
			return s, errors.New("nope")
		}))
	var nodeErr *graph.NodeError
	require.ErrorAs(t, err, &nodeErr)
	assert.Equal(t, "enter", nodeErr.Op)
}

func TestRun_PanicRecovered(t *testing.T) {
	committed := 0
	c, err := graph.New().
		AddNode("bad", func(context.Context, state.State) (state.Partial, error) {
			panic("nil map")
		}).
		AddEdge("bad", graph.END).
		SetEntry("bad").
		Compile()
	require.NoError(t, err)

	out, err := c.Run(context.Background(), initial(), graph.WithCommit(
		func(_ context.Context, _ string, s state.State) (state.State, error) {
			committed++
			return s, nil
		}))

	var pe *graph.PanicError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, "bad", pe.NodeID)
	assert.Equal(t, "nil map", pe.Value)
	assert.NotEmpty(t, pe.Stack)
	assert.Equal(t, "run-1", out.RunID())
	assert.Zero(t, committed)
}

func TestRun_CancelledBeforeNode(t *testing.T) {
	var calls []string
	ctx, cancel := context.WithCancel(context.Background())
	c, err := graph.New().
		AddNode("a", func(context.Context, state.State) (state.Partial, error) {
			calls = append(calls, "a")
			cancel()
			return state.Partial{}, nil
		}).
		AddNode("b", appendNote("b", &calls)).
		AddEdge("a", "b").
		AddEdge("b", graph.END).
		SetEntry("a").
		Compile()
	require.NoError(t, err)

	_, err = c.Run(ctx, initial())
	assert.ErrorIs(t, err, context.Canceled)
	var ce *graph.CancellationError
	require.ErrorAs(t, err, &ce)
	assert.Equal(t, "b", ce.NodeID)
	assert.Equal(t, []string{"a"}, calls)
}

func TestRun_RouterErrors(t *testing.T) {
	build := func(target string) *graph.Compiled {
		c, err := graph.New().
			AddNode("a", setGoal("x")).
			AddConditionalEdge("a", func(context.Context, state.State) string { return target }).
			SetEntry("a").
			Compile()
		require.NoError(t, err)
		return c
	}

	_, err := build("").Run(context.Background(), initial())
	assert.ErrorIs(t, err, graph.ErrInvalidRouterResult)

	_, err = build("ghost").Run(context.Background(), initial())
	assert.ErrorIs(t, err, graph.ErrRouterTargetNotFound)
	assert.Equal(t, "a", graph.LastNode(err))
}

func TestRun_MaxIterations(t *testing.T) {
	c, err := graph.New().
		AddNode("loop", setGoal("x")).
		AddConditionalEdge("loop", func(context.Context, state.State) string { return "loop" }).
		SetEntry("loop").
		Compile()
	require.NoError(t, err)

	_, err = c.Run(context.Background(), initial(), graph.WithMaxIterations(5))
	var me *graph.MaxIterationsError
	require.ErrorAs(t, err, &me)
	assert.Equal(t, 5, me.Max)
	assert.ErrorIs(t, err, graph.ErrMaxIterations)
}

func TestRun_NodeGetsCopy(t *testing.T) {
	c, err := graph.New().
		AddNode("mutate", func(_ context.Context, s state.State) (state.Partial, error) {
			s.Documents[0].ID = "changed"
			s.Run.ExecutionTrace = append(s.Run.ExecutionTrace, run.TraceEntry{ActivityType: "sneaky"})
			return state.Partial{}, nil
		}).
		AddEdge("mutate", graph.END).
		SetEntry("mutate").
		Compile()
	require.NoError(t, err)

	in := initial()
	out, err := c.Run(context.Background(), in)
	require.NoError(t, err)
	assert.Equal(t, "doc1", in.Documents[0].ID)
	assert.Equal(t, "doc1", out.Documents[0].ID)
	assert.Empty(t, out.Run.ExecutionTrace)
}

type stageCall struct {
	stage string
	err   error
}

type recordingMetrics struct {
	observability.NoopMetrics
	mu     sync.Mutex
	stages []stageCall
}

func (m *recordingMetrics) RecordStage(_ context.Context, stage string, _ time.Duration, err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.stages = append(m.stages, stageCall{stage, err})
}

func TestRun_RecordsStageMetrics(t *testing.T) {
	boom := errors.New("boom")
	c, err := graph.New().
		AddNode("ok", setGoal("x")).
		AddNode("bad", func(context.Context, state.State) (state.Partial, error) {
			return state.Partial{}, boom
		}).
		AddEdge("ok", "bad").
		AddEdge("bad", graph.END).
		SetEntry("ok").
		Compile()
	require.NoError(t, err)

	m := &recordingMetrics{}
	_, err = c.Run(context.Background(), initial(), graph.WithMetrics(m), graph.WithSpans(observability.NoopSpanManager{}))
	require.Error(t, err)

	require.Len(t, m.stages, 2)
	assert.Equal(t, "ok", m.stages[0].stage)
	assert.NoError(t, m.stages[0].err)
	assert.Equal(t, "bad", m.stages[1].stage)
	assert.ErrorIs(t, m.stages[1].err, boom)
}
