package storage

import (
	"context"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

// stores runs fn against every EntityStore implementation.
func stores(t *testing.T, fn func(t *testing.T, s EntityStore)) {
	t.Helper()
	impls := map[string]func(t *testing.T) EntityStore{
		"memory": func(*testing.T) EntityStore { return NewMemoryStore() },
		"sqlite": func(t *testing.T) EntityStore { return NewTestDatabaseStore(t, WithPageSize(2)) },
	}
	for name, mk := range impls {
		t.Run(name, func(t *testing.T) {
			t.Parallel()
			fn(t, mk(t))
		})
	}
}

func newSet(t *testing.T, kind phase.EntityKind) phase.Set {
	t.Helper()
	s, err := phase.NewSet(kind)
	require.NoError(t, err)
	return s
}

func TestStore_CreateLoad(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, phase.KindTask, "T-1", newSet(t, phase.KindTask)))

		set, version, err := s.Load(ctx, phase.KindTask, "T-1")
		require.NoError(t, err)
		assert.Equal(t, int64(1), version)
		assert.Equal(t, phase.KindTask, set.Kind())
		assert.Equal(t, 4, set.Count(phase.StatusNotStarted))

		err = s.Create(ctx, phase.KindTask, "T-1", newSet(t, phase.KindTask))
		assert.True(t, pterrors.HasCode(err, pterrors.CodeEntityExists), "got %v", err)

		_, _, err = s.Load(ctx, phase.KindSprint, "T-1")
		assert.True(t, pterrors.HasCode(err, pterrors.CodeEntityNotFound), "got %v", err)
	})
}

func TestStore_CreateRejectsMismatchedSet(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		err := s.Create(context.Background(), phase.KindTask, "T-1", newSet(t, phase.KindSprint))
		assert.True(t, pterrors.HasCode(err, pterrors.CodeInvalidArgument), "got %v", err)
	})
}

func TestStore_SaveRoundTripsRecords(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, phase.KindSprint, "S-1", newSet(t, phase.KindSprint)))

		set, version, err := s.Load(ctx, phase.KindSprint, "S-1")
		require.NoError(t, err)

		reason := "waiting on design"
		set, err = set.Apply(phase.Planning, phase.Start)
		require.NoError(t, err)
		set, err = set.Apply(phase.Planning, func(n phase.Name, r phase.Record) (phase.Record, error) {
			return phase.Block(n, r, &reason)
		})
		require.NoError(t, err)
		set, err = set.MergeCustomFields(phase.Planning, map[string]any{"owner": "kim", "points": 3.0})
		require.NoError(t, err)

		next, err := s.Save(ctx, phase.KindSprint, "S-1", set, version)
		require.NoError(t, err)
		assert.Equal(t, version+1, next)

		got, gotVersion, err := s.Load(ctx, phase.KindSprint, "S-1")
		require.NoError(t, err)
		assert.Equal(t, next, gotVersion)

		rec, err := got.Get(phase.Planning)
		require.NoError(t, err)
		assert.Equal(t, phase.StatusBlocked, rec.Status)
		require.NotNil(t, rec.BlockedReason)
		assert.Equal(t, reason, *rec.BlockedReason)
		require.NotNil(t, rec.StartedAt)
		assert.Equal(t, map[string]any{"owner": "kim", "points": 3.0}, rec.CustomFields)

		impl, err := got.Get(phase.Implementation)
		require.NoError(t, err)
		assert.Equal(t, phase.StatusNotStarted, impl.Status)
		assert.Empty(t, impl.CustomFields)
	})
}

func TestStore_SaveStaleVersion(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, phase.KindTask, "T-1", newSet(t, phase.KindTask)))

		set, version, err := s.Load(ctx, phase.KindTask, "T-1")
		require.NoError(t, err)
		started, err := set.Apply(phase.Research, phase.Start)
		require.NoError(t, err)

		_, err = s.Save(ctx, phase.KindTask, "T-1", started, version)
		require.NoError(t, err)

		_, err = s.Save(ctx, phase.KindTask, "T-1", set, version)
		te := pterrors.AsTrackError(err)
		require.NotNil(t, te, "got %v", err)
		assert.Equal(t, pterrors.CodeConcurrentModification, te.Code)

		// The losing write left nothing behind.
		got, _, err := s.Load(ctx, phase.KindTask, "T-1")
		require.NoError(t, err)
		rec, _ := got.Get(phase.Research)
		assert.Equal(t, phase.StatusInProgress, rec.Status)

		_, err = s.Save(ctx, phase.KindTask, "missing", set, 1)
		assert.True(t, pterrors.HasCode(err, pterrors.CodeEntityNotFound), "got %v", err)
	})
}

func TestStore_ConcurrentSavesOneWinner(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, phase.KindTask, "T-1", newSet(t, phase.KindTask)))
		set, version, err := s.Load(ctx, phase.KindTask, "T-1")
		require.NoError(t, err)

		const writers = 8
		var (
			wg        sync.WaitGroup
			mu        sync.Mutex
			succeeded int
			conflicts int
		)
		for i := 0; i < writers; i++ {
			wg.Add(1)
			go func() {
				defer wg.Done()
				_, err := s.Save(ctx, phase.KindTask, "T-1", set, version)
				mu.Lock()
				defer mu.Unlock()
				switch {
				case err == nil:
					succeeded++
				case pterrors.HasCode(err, pterrors.CodeConcurrentModification):
					conflicts++
				}
			}()
		}
		wg.Wait()

		assert.Equal(t, 1, succeeded)
		assert.Equal(t, writers-1, conflicts)
		_, final, err := s.Load(ctx, phase.KindTask, "T-1")
		require.NoError(t, err)
		assert.Equal(t, version+1, final)
	})
}

func TestStore_Delete(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		require.NoError(t, s.Create(ctx, phase.KindProject, "P-1", newSet(t, phase.KindProject)))
		require.NoError(t, s.Delete(ctx, phase.KindProject, "P-1"))

		_, _, err := s.Load(ctx, phase.KindProject, "P-1")
		assert.True(t, pterrors.HasCode(err, pterrors.CodeEntityNotFound))

		err = s.Delete(ctx, phase.KindProject, "P-1")
		assert.True(t, pterrors.HasCode(err, pterrors.CodeEntityNotFound))

		// The id is free again.
		require.NoError(t, s.Create(ctx, phase.KindProject, "P-1", newSet(t, phase.KindProject)))
	})
}

func TestStore_ListAllOrderedByID(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		for _, id := range []string{"e", "a", "d", "b", "c"} {
			require.NoError(t, s.Create(ctx, phase.KindTask, id, newSet(t, phase.KindTask)))
		}
		require.NoError(t, s.Create(ctx, phase.KindSprint, "x", newSet(t, phase.KindSprint)))

		var ids []string
		for e, err := range s.ListAll(ctx, phase.KindTask) {
			require.NoError(t, err)
			assert.Equal(t, phase.KindTask, e.Phases.Kind())
			assert.Equal(t, int64(1), e.Version)
			ids = append(ids, e.ID)
		}
		assert.Equal(t, []string{"a", "b", "c", "d", "e"}, ids)

		var none []string
		for e, err := range s.ListAll(ctx, phase.KindProject) {
			require.NoError(t, err)
			none = append(none, e.ID)
		}
		assert.Empty(t, none)
	})
}

func TestStore_ListAllStopsEarly(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		for i := 0; i < 7; i++ {
			require.NoError(t, s.Create(ctx, phase.KindTask, fmt.Sprintf("T-%02d", i), newSet(t, phase.KindTask)))
		}

		var ids []string
		for e, err := range s.ListAll(ctx, phase.KindTask) {
			require.NoError(t, err)
			ids = append(ids, e.ID)
			if len(ids) == 3 {
				break
			}
		}
		assert.Equal(t, []string{"T-00", "T-01", "T-02"}, ids)
	})
}

func TestStore_ListAllAllowsWritesMidScan(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx := context.Background()
		for i := 0; i < 5; i++ {
			require.NoError(t, s.Create(ctx, phase.KindTask, fmt.Sprintf("T-%d", i), newSet(t, phase.KindTask)))
		}

		seen := 0
		for e, err := range s.ListAll(ctx, phase.KindTask) {
			require.NoError(t, err)
			seen++
			started, err := e.Phases.Apply(phase.Research, phase.Start)
			require.NoError(t, err)
			_, err = s.Save(ctx, phase.KindTask, e.ID, started, e.Version)
			require.NoError(t, err)
		}
		assert.Equal(t, 5, seen)
	})
}

func TestStore_ListAllHonorsCancellation(t *testing.T) {
	t.Parallel()
	stores(t, func(t *testing.T, s EntityStore) {
		ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
		for i := 0; i < 3; i++ {
			require.NoError(t, s.Create(ctx, phase.KindTask, fmt.Sprintf("T-%d", i), newSet(t, phase.KindTask)))
		}
		cancel()

		var gotErr error
		for _, err := range s.ListAll(ctx, phase.KindTask) {
			if err != nil {
				gotErr = err
				break
			}
		}
		assert.ErrorIs(t, gotErr, context.Canceled)
	})
}

func TestStore_LoadReturnsCopy(t *testing.T) {
	t.Parallel()

	s := NewMemoryStore()
	ctx := context.Background()
	require.NoError(t, s.Create(ctx, phase.KindTask, "T-1", newSet(t, phase.KindTask)))

	set, _, err := s.Load(ctx, phase.KindTask, "T-1")
	require.NoError(t, err)
	rec, _ := set.Get(phase.Research)
	rec.CustomFields["leak"] = true

	again, _, err := s.Load(ctx, phase.KindTask, "T-1")
	require.NoError(t, err)
	rec2, _ := again.Get(phase.Research)
	assert.Empty(t, rec2.CustomFields)
}
