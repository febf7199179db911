package orchestrator_test

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	dferrors "github.com/randalmurphal/docflow/pkg/docflow/errors"
	"github.com/randalmurphal/docflow/pkg/docflow/experiment"
	"github.com/randalmurphal/docflow/pkg/docflow/llm"
	"github.com/randalmurphal/docflow/pkg/docflow/orchestrator"
	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/stage"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
	"github.com/randalmurphal/docflow/pkg/docflow/tool"
)

const (
	analyzeOK   = `{"goal": "track term drift", "term_context": "clinical vocabulary"}`
	recommendOK = `{"strategy": {"doc1": ["toolA", "toolB"], "doc2": ["toolA"]}, "reasoning": "A then B", "confidence": 0.8}`
	synthOK     = `{"insights": "terms converge", "term_evolution": "drift -> shift"}`
)

// fakeLLM answers by stage. A stage with a hold channel blocks until the
// channel closes or the call is cancelled.
type fakeLLM struct {
	mu    sync.Mutex
	queue map[run.Stage][]llm.MockResponse
	calls map[run.Stage]int
	hold  map[run.Stage]chan struct{}
}

func newFakeLLM() *fakeLLM {
	return &fakeLLM{
		queue: make(map[run.Stage][]llm.MockResponse),
		calls: make(map[run.Stage]int),
		hold:  make(map[run.Stage]chan struct{}),
	}
}

func (f *fakeLLM) on(st run.Stage, responses ...llm.MockResponse) *fakeLLM {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.queue[st] = append(f.queue[st], responses...)
	return f
}

func (f *fakeLLM) block(st run.Stage) chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	ch := make(chan struct{})
	f.hold[st] = ch
	return ch
}

func (f *fakeLLM) count(st run.Stage) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls[st]
}

func (f *fakeLLM) client() llm.Client {
	defaults := map[run.Stage]string{
		run.StageAnalyze:    analyzeOK,
		run.StageRecommend:  recommendOK,
		run.StageSynthesize: synthOK,
	}
	return llm.NewMockHandler(func(ctx context.Context, req llm.Request) (*llm.Response, error) {
		st := run.StageNone
		for _, candidate := range []run.Stage{run.StageAnalyze, run.StageRecommend, run.StageSynthesize} {
			if req.System == stage.SystemPrompt(candidate) {
				st = candidate
			}
		}

		f.mu.Lock()
		f.calls[st]++
		next := llm.MockResponse{Content: defaults[st]}
		if q := f.queue[st]; len(q) > 0 {
			next = q[0]
			f.queue[st] = q[1:]
		}
		hold := f.hold[st]
		f.mu.Unlock()

		if hold != nil {
			select {
			case <-hold:
			case <-ctx.Done():
				return nil, ctx.Err()
			}
		}
		if next.Err != nil {
			return nil, next.Err
		}
		return &llm.Response{Content: next.Content, Model: "mock"}, nil
	})
}

func transient() llm.MockResponse {
	return llm.MockResponse{Err: &llm.TransientError{StatusCode: 529, Err: errors.New("overloaded")}}
}

func fastRetry() dferrors.RetryConfig {
	return dferrors.RetryConfig{
		MaxAttempts:    3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     4 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func tools(failing map[string]string) *tool.Registry {
	mk := func(id string) tool.Tool {
		return tool.Func{
			Cap: tool.Capability{ID: id, Description: "test tool " + id},
			Fn: func(_ context.Context, doc run.DocumentRef, _ map[string]any) (any, error) {
				if failing[doc.ID] == id {
					return nil, errors.New(id + " exploded on " + doc.ID)
				}
				return map[string]int{"length": len(doc.Content)}, nil
			},
		}
	}
	return tool.NewRegistry().MustRegister(mk("toolA"), mk("toolB"))
}

func catalog() *experiment.Catalog {
	return experiment.NewCatalog(
		&experiment.Experiment{
			ID:          "exp-1",
			UserID:      "owner",
			Description: "How does clinical vocabulary shift?",
			Documents: []run.DocumentRef{
				{ID: "doc1", Title: "First", Content: "alpha beta beta"},
				{ID: "doc2", Title: "Second", Content: "beta gamma"},
			},
		},
		&experiment.Experiment{ID: "empty", Description: "nothing to read"},
	)
}

type fixture struct {
	orch  *orchestrator.Orchestrator
	store store.Store
	llm   *fakeLLM
}

type fixtureConfig struct {
	store   store.Store
	llm     *fakeLLM
	failing map[string]string
}

func newFixture(t *testing.T, cfg fixtureConfig) *fixture {
	t.Helper()
	if cfg.store == nil {
		cfg.store = store.NewMemoryStore()
	}
	if cfg.llm == nil {
		cfg.llm = newFakeLLM()
	}
	var seq atomic.Int64
	o, err := orchestrator.New(cfg.store, cfg.llm.client(), tools(cfg.failing), catalog(),
		orchestrator.WithLLMRetry(fastRetry()),
		orchestrator.WithPersistRetry(fastRetry()),
		orchestrator.WithIDGenerator(func() string {
			return fmt.Sprintf("run-%d", seq.Add(1))
		}),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = o.Close() })
	return &fixture{orch: o, store: cfg.store, llm: cfg.llm}
}

func (f *fixture) start(t *testing.T, reviewRequired bool) string {
	t.Helper()
	id, err := f.orch.Start(context.Background(), "exp-1", orchestrator.StartOptions{ReviewRequired: reviewRequired})
	require.NoError(t, err)
	return id
}

func (f *fixture) wait(t *testing.T, id string) *run.Run {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	r, err := f.orch.Wait(ctx, id)
	require.NoError(t, err)
	return r
}

// flakyStore fails the first n compare-and-updates with a transient error.
type flakyStore struct {
	store.Store
	remaining atomic.Int32
}

func (s *flakyStore) CompareAndUpdate(ctx context.Context, r *run.Run) error {
	if s.remaining.Add(-1) >= 0 {
		return errors.New("connection reset by peer")
	}
	return s.Store.CompareAndUpdate(ctx, r)
}

// brokenStore rejects every write.
type brokenStore struct {
	store.Store
}

func (brokenStore) Create(context.Context, *run.Run) error {
	return errors.New("disk full")
}
