package phase

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

func statuses(s Set) []Status {
	var out []Status
	for _, r := range s.All() {
		out = append(out, r.Status)
	}
	return out
}

func TestAdvance_TaskSequence(t *testing.T) {
	t.Parallel()

	s, err := NewSet(KindTask)
	require.NoError(t, err)

	ns, ip, cp := StatusNotStarted, StatusInProgress, StatusCompleted
	want := [][]Status{
		{ip, ns, ns, ns},
		{cp, ip, ns, ns},
		{cp, cp, ip, ns},
		{cp, cp, cp, ip},
		{cp, cp, cp, cp},
		{cp, cp, cp, cp},
		{cp, cp, cp, cp},
	}
	for i, w := range want {
		s, err = Advance(s)
		require.NoError(t, err, "call %d", i+1)
		assert.Equal(t, w, statuses(s), "after call %d", i+1)
	}

	_, ok := s.Current()
	assert.False(t, ok)
}

func TestAdvance_BlockedHalts(t *testing.T) {
	t.Parallel()

	s, err := NewSet(KindTask)
	require.NoError(t, err)
	s, err = s.Apply(Research, Start)
	require.NoError(t, err)
	reason := "waiting on data"
	s, err = s.Apply(Research, func(n Name, r Record) (Record, error) { return Block(n, r, &reason) })
	require.NoError(t, err)
	before := s.Clone()

	out, err := Advance(s)
	require.Error(t, err)
	te := pterrors.AsTrackError(err)
	require.NotNil(t, te)
	assert.Equal(t, pterrors.CodePhaseBlocked, te.Code)
	assert.Equal(t, "research", te.Phase)
	assert.Equal(t, "waiting on data", te.Reason)

	assert.Equal(t, before, out)
	assert.Equal(t, before, s)
}

func TestAdvance_SkipsOverSkippedPhases(t *testing.T) {
	t.Parallel()

	s, err := NewSet(KindTask)
	require.NoError(t, err)
	reason := "done elsewhere"
	skip := func(n Name, r Record) (Record, error) { return Skip(n, r, &reason) }
	s, err = s.Apply(Planning, skip)
	require.NoError(t, err)

	s, err = Advance(s) // research in_progress
	require.NoError(t, err)
	s, err = Advance(s) // research completed, implementation in_progress
	require.NoError(t, err)

	assert.Equal(t, []Status{StatusCompleted, StatusSkipped, StatusInProgress, StatusNotStarted}, statuses(s))
}

func TestAdvance_LeavesOutOfOrderPhaseAlone(t *testing.T) {
	t.Parallel()

	s, err := NewSet(KindSprint)
	require.NoError(t, err)
	s, err = s.Apply(Implementation, Start)
	require.NoError(t, err)
	s, err = s.Apply(Planning, Start)
	require.NoError(t, err)

	s, err = Advance(s)
	require.NoError(t, err)
	assert.Equal(t, []Status{StatusCompleted, StatusInProgress}, statuses(s))
}

func TestAdvance_Properties(t *testing.T) {
	t.Parallel()

	rapid.Check(t, func(t *rapid.T) {
		kind := rapid.SampledFrom(AllKinds).Draw(t, "kind")
		seq, _ := SequenceFor(kind)
		records := make(map[Name]Record, len(seq))
		for _, n := range seq {
			records[n] = genRecord().Draw(t, string(n))
		}
		s, err := Restore(kind, records)
		if err != nil {
			t.Fatalf("restore: %v", err)
		}
		before := s.Clone()

		out, err := Advance(s)
		cur, hasCurrent := before.Current()

		switch {
		case !hasCurrent:
			if err != nil {
				t.Fatalf("advance on terminal set failed: %v", err)
			}
			if len(Diff(before, out)) != 0 {
				t.Fatalf("advance on terminal set changed it")
			}
		case before.records[cur].Status == StatusBlocked:
			if !pterrors.HasCode(err, pterrors.CodePhaseBlocked) {
				t.Fatalf("expected PHASE_BLOCKED, got %v", err)
			}
			if len(Diff(before, out)) != 0 {
				t.Fatalf("failed advance changed the set")
			}
		default:
			if err != nil {
				t.Fatalf("advance failed: %v", err)
			}
			changes := Diff(before, out)
			if len(changes) == 0 || len(changes) > 2 {
				t.Fatalf("advance made %d changes: %v", len(changes), changes)
			}
			if changes[0].Phase != cur {
				t.Fatalf("first change touched %s, want current %s", changes[0].Phase, cur)
			}
			for _, c := range changes {
				if !CanTransition(c.From, c.To) {
					t.Fatalf("advance produced illegal move %v", c)
				}
			}
		}
		if len(Diff(before, s)) != 0 {
			t.Fatalf("advance mutated its input")
		}
	})
}
