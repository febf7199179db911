package stage_test

import (
	"context"
	"errors"
	"sync"
	"time"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/state"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

const (
	analyzeOK   = `{"goal": "track term drift", "term_context": "clinical vocabulary"}`
	recommendOK = `{"strategy": {"doc1": ["toolA", "toolB"], "doc2": ["toolA"]}, "reasoning": "A then B", "confidence": 0.8}`
	synthOK     = `{"insights": "terms converge", "term_evolution": "drift -> shift"}`
)

var defaultReplies = map[run.Stage]string{
	run.StageAnalyze:    analyzeOK,
	run.StageRecommend:  recommendOK,
	run.StageSynthesize: synthOK,
}

// script routes LLM requests by stage system prompt. Each stage pops its own
// queue and falls back to a canned success when the queue is empty.
type script struct {
	mu    sync.Mutex
	queue map[run.Stage][]llm.MockResponse
	calls map[run.Stage]int
}

func newScript() *script {
	return &script{
		queue: make(map[run.Stage][]llm.MockResponse),
		calls: make(map[run.Stage]int),
	}
}

func (s *script) on(st run.Stage, responses ...llm.MockResponse) *script {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.queue[st] = append(s.queue[st], responses...)
	return s
}

func (s *script) count(st run.Stage) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[st]
}

func (s *script) client() *llm.MockClient {
	return llm.NewMockHandler(func(_ context.Context, req llm.Request) (*llm.Response, error) {
		st := run.StageNone
		for _, candidate := range []run.Stage{run.StageAnalyze, run.StageRecommend, run.StageSynthesize} {
			if req.System == stage.SystemPrompt(candidate) {
				st = candidate
			}
		}

		s.mu.Lock()
		s.calls[st]++
		next := llm.MockResponse{Content: defaultReplies[st]}
		if q := s.queue[st]; len(q) > 0 {
			next = q[0]
			s.queue[st] = q[1:]
		}
		s.mu.Unlock()

		if next.Err != nil {
			return nil, next.Err
		}
		return &llm.Response{Content: next.Content, Model: "mock"}, nil
	})
}

func transient() llm.MockResponse {
	return llm.MockResponse{Err: &llm.TransientError{StatusCode: 503, Err: errors.New("overloaded")}}
}

func fastRetry() dferrors.RetryConfig {
	return dferrors.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func toolRegistry(failing map[string]string) *tool.Registry {
	mk := func(id string) tool.Tool {
		return tool.Func{
			Cap: tool.Capability{ID: id, Description: "test tool " + id},
			Fn: func(_ context.Context, doc run.DocumentRef, _ map[string]any) (any, error) {
				if failing[doc.ID] == id {
					return nil, errors.New(id + " exploded on " + doc.ID)
				}
				return map[string]string{"doc": doc.ID, "tool": id}, nil
			},
		}
	}
	return tool.NewRegistry().MustRegister(mk("toolA"), mk("toolB"))
}

func newStages(s *script, reg *tool.Registry) *stage.Stages {
	return stage.New(llm.NewResilient(s.client(), llm.WithRetry(fastRetry())), reg)
}

func documents() []run.DocumentRef {
	return []run.DocumentRef{
		{ID: "doc1", Title: "First", Summary: "early notes", Content: "alpha beta beta"},
		{ID: "doc2", Title: "Second", Summary: "later notes", Content: "beta gamma"},
	}
}

func initial(reg *tool.Registry, reviewRequired bool) state.State {
	st := state.Init("run-1", documents(), reg.Capabilities(), reviewRequired)
	st.Description = "How does clinical vocabulary shift?"
	return st
}

// readyState is a run that has finished Recommend with the default reply.
func readyState(reg *tool.Registry) state.State {
	st := initial(reg, true)
	st.Run.Status = run.StatusStrategyReady
	st.Run.CurrentStage = run.StageRecommend
	st.Run.Goal = state.Ptr("track term drift")
	st.Run.RecommendedStrategy = run.Strategy{"doc1": {"toolA", "toolB"}, "doc2": {"toolA"}}
	return st
}
