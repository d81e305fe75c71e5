package tracker

import (
	"context"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/storage"
)

// seedTasks builds:
//
//	T1 research in_progress
//	T2 research completed, planning blocked ("legal review")
//	T3 research skipped, planning in_progress, custom owner=kim
//	T4 untouched
func seedTasks(t *testing.T, e *Engine) {
	t.Helper()
	ctx := context.Background()
	for _, id := range []string{"T1", "T2", "T3", "T4"} {
		_, _, err := e.CreateEntity(ctx, phase.KindTask, id)
		require.NoError(t, err)
	}
	must := func(_ phase.Set, err error) { require.NoError(t, err) }

	must(e.Advance(ctx, phase.KindTask, "T1"))

	must(e.Advance(ctx, phase.KindTask, "T2"))
	must(e.Advance(ctx, phase.KindTask, "T2"))
	must(e.BlockPhase(ctx, phase.KindTask, "T2", phase.Planning, strPtr("legal review")))

	must(e.SkipPhase(ctx, phase.KindTask, "T3", phase.Research, strPtr("known domain")))
	must(e.Advance(ctx, phase.KindTask, "T3"))
	must(e.UpdatePhase(ctx, phase.KindTask, "T3", phase.Planning, PhaseUpdate{
		CustomFields: map[string]any{"owner": "kim", "review": map[string]any{"round": 2}},
	}))
}

func TestFindByPhaseStatus(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)
	ctx := context.Background()

	ids, err := e.FindByPhaseStatus(ctx, phase.KindTask, phase.Research, phase.StatusInProgress)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1"}, ids)

	ids, err = e.FindByPhaseStatus(ctx, phase.KindTask, phase.Planning, phase.StatusNotStarted)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T4"}, ids)

	ids, err = e.FindByPhaseStatus(ctx, phase.KindTask, phase.Testing, phase.StatusCompleted)
	require.NoError(t, err)
	assert.Empty(t, ids)

	_, err = e.FindByPhaseStatus(ctx, phase.KindSprint, phase.Testing, phase.StatusCompleted)
	requireCode(t, err, pterrors.CodeUnknownPhase)

	_, err = e.FindByPhaseStatus(ctx, phase.KindTask, phase.Testing, phase.Status("done"))
	requireCode(t, err, pterrors.CodeInvalidArgument)
}

func TestFindWithBlockedPhase(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)

	got, err := e.FindWithBlockedPhase(context.Background(), phase.KindTask)
	require.NoError(t, err)
	assert.Equal(t, []BlockedPhase{{ID: "T2", Phase: phase.Planning, Reason: "legal review"}}, got)
}

func TestFindByCurrentPhase(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)
	ctx := context.Background()

	ids, err := e.FindByCurrentPhase(ctx, phase.KindTask, phase.Research)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T4"}, ids)

	// Blocked counts as current; skipped research is passed over.
	ids, err = e.FindByCurrentPhase(ctx, phase.KindTask, phase.Planning)
	require.NoError(t, err)
	assert.Equal(t, []string{"T2", "T3"}, ids)

	_, err = e.FindByCurrentPhase(ctx, phase.EntityKind("epic"), phase.Planning)
	requireCode(t, err, pterrors.CodeUnknownEntityKind)
}

func TestFindByCustomField(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)
	ctx := context.Background()

	tests := []struct {
		path, value string
		want        []string
	}{
		{"owner", "kim", []string{"T3"}},
		{"owner", "lee", nil},
		{"review.round", "2", []string{"T3"}},
		{"missing", "", nil},
	}
	for _, tt := range tests {
		ids, err := e.FindByCustomField(ctx, phase.KindTask, phase.Planning, tt.path, tt.value)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ids, "%s=%s", tt.path, tt.value)
	}

	_, err := e.FindByCustomField(ctx, phase.KindTask, phase.Planning, "", "x")
	requireCode(t, err, pterrors.CodeInvalidArgument)
}

func TestListEntities(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)

	ids, err := e.ListEntities(context.Background(), phase.KindTask)
	require.NoError(t, err)
	assert.Equal(t, []string{"T1", "T2", "T3", "T4"}, ids)

	ids, err = e.ListEntities(context.Background(), phase.KindSprint)
	require.NoError(t, err)
	assert.Empty(t, ids)
}

func TestGetPhaseAnalytics(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	seedTasks(t, e)
	ctx := context.Background()

	a, err := e.GetPhaseAnalytics(ctx, phase.KindTask, 0)
	require.NoError(t, err)
	assert.Equal(t, 4, a.TotalEntities)
	assert.Equal(t, 1, a.BlockedCount)
	// T2 has 1 of 4 completed, others none: 25 / 4.
	assert.Equal(t, 6.3, a.AverageCompletionPct)

	assert.Equal(t, 1, a.ByPhase[phase.Research][phase.StatusInProgress])
	assert.Equal(t, 1, a.ByPhase[phase.Research][phase.StatusCompleted])
	assert.Equal(t, 1, a.ByPhase[phase.Research][phase.StatusSkipped])
	assert.Equal(t, 1, a.ByPhase[phase.Research][phase.StatusNotStarted])
	assert.Equal(t, 1, a.ByPhase[phase.Planning][phase.StatusBlocked])
	assert.Equal(t, 4, a.ByPhase[phase.Testing][phase.StatusNotStarted])
	assert.Equal(t, 0, a.ByPhase[phase.Testing][phase.StatusBlocked])
	assert.Len(t, a.ByPhase, 4)

	limited, err := e.GetPhaseAnalytics(ctx, phase.KindTask, 2)
	require.NoError(t, err)
	assert.Equal(t, 2, limited.TotalEntities)
	assert.Equal(t, 1, limited.BlockedCount)
	assert.Equal(t, 12.5, limited.AverageCompletionPct)
}

func TestGetPhaseAnalytics_BlockedCountsEntities(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	ctx := context.Background()
	_, _, err := e.CreateEntity(ctx, phase.KindTask, "T1")
	require.NoError(t, err)
	for _, n := range []phase.Name{phase.Research, phase.Testing} {
		_, err = e.StartPhase(ctx, phase.KindTask, "T1", n)
		require.NoError(t, err)
		_, err = e.BlockPhase(ctx, phase.KindTask, "T1", n, strPtr("wait"))
		require.NoError(t, err)
	}

	a, err := e.GetPhaseAnalytics(ctx, phase.KindTask, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, a.BlockedCount)
	assert.Equal(t, 1, a.ByPhase[phase.Research][phase.StatusBlocked])
	assert.Equal(t, 1, a.ByPhase[phase.Testing][phase.StatusBlocked])
}

func TestGetPhaseAnalytics_Empty(t *testing.T) {
	t.Parallel()

	e := newEngine(t)
	a, err := e.GetPhaseAnalytics(context.Background(), phase.KindProject, 0)
	require.NoError(t, err)
	assert.Zero(t, a.TotalEntities)
	assert.Zero(t, a.AverageCompletionPct)
	assert.Len(t, a.ByPhase, 2)

	_, err = e.GetPhaseAnalytics(context.Background(), phase.EntityKind("epic"), 0)
	requireCode(t, err, pterrors.CodeUnknownEntityKind)
}

func TestGetAllAnalytics(t *testing.T) {
	t.Parallel()

	e := New(storage.NewTestDatabaseStore(t, storage.WithPageSize(1)), WithLogger(slog.New(slog.DiscardHandler)))
	seedTasks(t, e)
	ctx := context.Background()
	_, _, err := e.CreateEntity(ctx, phase.KindSprint, "S1")
	require.NoError(t, err)

	all, err := e.GetAllAnalytics(ctx, 0)
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, 4, all[phase.KindTask].TotalEntities)
	assert.Equal(t, 1, all[phase.KindSprint].TotalEntities)
	assert.Equal(t, 0, all[phase.KindProject].TotalEntities)
	assert.Equal(t, 1, all[phase.KindTask].BlockedCount)
}
