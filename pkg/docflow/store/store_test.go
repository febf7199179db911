package store_test

import (
	"context"
	"fmt"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/docflow/pkg/docflow/run"
	"github.com/randalmurphal/docflow/pkg/docflow/store"
)

var base = time.Date(2026, 5, 1, 12, 0, 0, 0, time.UTC)

func newRun(id string, offset time.Duration) *run.Run {
	return run.New(id, "exp-1", "user-1", true, base.Add(offset))
}

// storeFactories lists every store that runs the shared behaviour tests.
func storeFactories(t *testing.T) map[string]func() store.Store {
	return map[string]func() store.Store{
		"memory": func() store.Store { return store.NewMemoryStore() },
		"sqlite": func() store.Store {
			s, err := store.NewSQLiteStore(filepath.Join(t.TempDir(), "runs.db"))
			require.NoError(t, err)
			return s
		},
		"sqlite-memory": func() store.Store {
			s, err := store.NewSQLiteStore(":memory:")
			require.NoError(t, err)
			return s
		},
	}
}

func TestStore_CreateAndGet(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			r := newRun("r1", 0)
			goal := "measure drift"
			r.Goal = &goal
			r.RecommendedStrategy = run.Strategy{"d1": {"word_count", "term_frequency"}}
			r.AdvanceStage(run.StageRecommend)

			require.NoError(t, s.Create(ctx, r))
			assert.Equal(t, int64(1), r.Version)

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(1), got.Version)
			assert.Equal(t, "measure drift", *got.Goal)
			assert.Equal(t, []string{"word_count", "term_frequency"}, got.RecommendedStrategy["d1"])
			assert.Equal(t, run.StageRecommend, got.CurrentStage)
			assert.True(t, got.CreatedAt.Equal(r.CreatedAt))
		})
	}
}

func TestStore_CreateDuplicate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, newRun("r1", 0)))
			assert.ErrorIs(t, s.Create(ctx, newRun("r1", 0)), store.ErrAlreadyExists)
		})
	}
}

func TestStore_GetNotFound(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			_, err := s.Get(context.Background(), "missing")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_CompareAndUpdate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			r := newRun("r1", 0)
			require.NoError(t, s.Create(ctx, r))

			r.Status = run.StatusAnalyzing
			require.NoError(t, s.CompareAndUpdate(ctx, r))
			assert.Equal(t, int64(2), r.Version)

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, run.StatusAnalyzing, got.Status)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestStore_CompareAndUpdateConflict(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, newRun("r1", 0)))

			first, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			stale, err := s.Get(ctx, "r1")
			require.NoError(t, err)

			first.Status = run.StatusAnalyzing
			require.NoError(t, s.CompareAndUpdate(ctx, first))

			stale.Status = run.StatusFailed
			assert.ErrorIs(t, s.CompareAndUpdate(ctx, stale), store.ErrVersionConflict)
			assert.Equal(t, int64(1), stale.Version)

			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, run.StatusAnalyzing, got.Status)
		})
	}
}

func TestStore_CompareAndUpdateMissing(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()

			r := newRun("ghost", 0)
			r.Version = 1
			assert.ErrorIs(t, s.CompareAndUpdate(context.Background(), r), store.ErrNotFound)
		})
	}
}

func TestStore_SnapshotsAreIsolated(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			r := newRun("r1", 0)
			r.RecommendedStrategy = run.Strategy{"d1": {"word_count"}}
			require.NoError(t, s.Create(ctx, r))

			r.RecommendedStrategy["d1"][0] = "mutated"
			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "word_count", got.RecommendedStrategy["d1"][0])

			got.RecommendedStrategy["d1"][0] = "mutated"
			again, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, "word_count", again.RecommendedStrategy["d1"][0])
		})
	}
}

func TestStore_List(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			statuses := []run.Status{run.StatusCompleted, run.StatusStrategyReady, run.StatusAnalyzing, run.StatusFailed}
			for i, st := range statuses {
				r := newRun(fmt.Sprintf("r%d", i), time.Duration(i)*time.Second)
				require.NoError(t, s.Create(ctx, r))
				r.Status = st
				require.NoError(t, s.CompareAndUpdate(ctx, r))
			}

			all, err := s.List(ctx, store.Filter{})
			require.NoError(t, err)
			require.Len(t, all, 4)
			assert.Equal(t, "r0", all[0].ID)
			assert.Equal(t, "r3", all[3].ID)

			open, err := s.List(ctx, store.NonTerminal())
			require.NoError(t, err)
			require.Len(t, open, 2)
			assert.Equal(t, "r1", open[0].ID)
			assert.Equal(t, "r2", open[1].ID)

			limited, err := s.List(ctx, store.Filter{Limit: 1})
			require.NoError(t, err)
			assert.Len(t, limited, 1)

			none, err := s.List(ctx, store.Filter{ExperimentID: "other"})
			require.NoError(t, err)
			assert.NotNil(t, none)
			assert.Empty(t, none)
		})
	}
}

func TestStore_Delete(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()

			require.NoError(t, s.Create(ctx, newRun("r1", 0)))
			require.NoError(t, s.Delete(ctx, "r1"))
			require.NoError(t, s.Delete(ctx, "r1"))

			_, err := s.Get(ctx, "r1")
			assert.ErrorIs(t, err, store.ErrNotFound)
		})
	}
}

func TestStore_Closed(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			require.NoError(t, s.Close())
			require.NoError(t, s.Close())

			_, err := s.Get(context.Background(), "r1")
			assert.ErrorIs(t, err, store.ErrStoreClosed)
			assert.ErrorIs(t, s.Create(context.Background(), newRun("r1", 0)), store.ErrStoreClosed)
		})
	}
}

func TestStore_ConcurrentCompareAndUpdate(t *testing.T) {
	for name, factory := range storeFactories(t) {
		t.Run(name, func(t *testing.T) {
			s := factory()
			defer s.Close()
			ctx := context.Background()
			require.NoError(t, s.Create(ctx, newRun("r1", 0)))

			var wg sync.WaitGroup
			var mu sync.Mutex
			wins := 0
			for i := 0; i < 10; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					r := newRun("r1", 0)
					r.Version = 1
					if err := s.CompareAndUpdate(ctx, r); err == nil {
						mu.Lock()
						wins++
						mu.Unlock()
					}
				}()
			}
			wg.Wait()

			assert.Equal(t, 1, wins)
			got, err := s.Get(ctx, "r1")
			require.NoError(t, err)
			assert.Equal(t, int64(2), got.Version)
		})
	}
}

func TestOpen(t *testing.T) {
	ctx := context.Background()

	s, err := store.Open(ctx, store.DriverMemory, "")
	require.NoError(t, err)
	assert.IsType(t, &store.MemoryStore{}, s)

	s, err = store.Open(ctx, store.DriverSQLite, filepath.Join(t.TempDir(), "x.db"))
	require.NoError(t, err)
	assert.IsType(t, &store.SQLiteStore{}, s)
	require.NoError(t, s.Close())

	_, err = store.Open(ctx, store.DriverPostgres, "")
	assert.Error(t, err)

	_, err = store.Open(ctx, "mongo", "")
	assert.Error(t, err)
}
