package tracker

import (
	"context"
	"math"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/storage"
)

// Summary describes one entity's progress.
type Summary struct {
	CurrentPhase    *phase.Name `json:"current_phase"`
	PhasesCompleted int         `json:"phases_completed"`
	PhasesTotal     int         `json:"phases_total"`
	CompletionPct   float64     `json:"completion_pct"`
	Phases          phase.Set   `json:"phases"`
}

// Analytics aggregates phase statuses over the entities of one kind.
type Analytics struct {
	Kind                 phase.EntityKind                    `json:"kind"`
	TotalEntities        int                                 `json:"total_entities"`
	ByPhase              map[phase.Name]map[phase.Status]int `json:"by_phase"`
	BlockedCount         int                                 `json:"blocked_count"`
	AverageCompletionPct float64                             `json:"average_completion_pct"`
}

// Summarize computes the summary of a phase set. Skipped phases do not count
// as completed.
func Summarize(s phase.Set) Summary {
	sum := Summary{
		PhasesCompleted: s.Count(phase.StatusCompleted),
		PhasesTotal:     s.Len(),
		Phases:          s,
	}
	if cur, ok := s.Current(); ok {
		sum.CurrentPhase = &cur
	}
	sum.CompletionPct = completionPct(sum.PhasesCompleted, sum.PhasesTotal)
	return sum
}

func completionPct(completed, total int) float64 {
	if total == 0 {
		return 0
	}
	return round1(100 * float64(completed) / float64(total))
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}

// GetPhaseSummary returns the progress summary of one entity.
func (e *Engine) GetPhaseSummary(ctx context.Context, kind phase.EntityKind, id string) (_ Summary, err error) {
	defer e.metrics.observe("get_phase_summary", time.Now(), &err)

	set, err := e.GetPhases(ctx, kind, id)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(set), nil
}

// GetPhaseAnalytics aggregates over entities of kind in id order. limit <= 0
// scans every entity; otherwise at most limit entities are counted.
func (e *Engine) GetPhaseAnalytics(ctx context.Context, kind phase.EntityKind, limit int) (_ Analytics, err error) {
	defer e.metrics.observe("get_phase_analytics", time.Now(), &err)

	seq, err := phase.SequenceFor(kind)
	if err != nil {
		return Analytics{}, err
	}

	a := Analytics{
		Kind:    kind,
		ByPhase: make(map[phase.Name]map[phase.Status]int, len(seq)),
	}
	for _, n := range seq {
		counts := make(map[phase.Status]int, len(phase.ValidStatuses()))
		for _, st := range phase.ValidStatuses() {
			counts[st] = 0
		}
		a.ByPhase[n] = counts
	}

	var pctSum float64
	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		a.TotalEntities++
		blocked := false
		for name, r := range entry.Phases.All() {
			a.ByPhase[name][r.Status]++
			if r.Status == phase.StatusBlocked {
				blocked = true
			}
		}
		if blocked {
			a.BlockedCount++
		}
		pctSum += 100 * float64(entry.Phases.Count(phase.StatusCompleted)) / float64(entry.Phases.Len())
		return limit <= 0 || a.TotalEntities < limit
	})
	if err != nil {
		return Analytics{}, err
	}
	if a.TotalEntities > 0 {
		a.AverageCompletionPct = round1(pctSum / float64(a.TotalEntities))
	}
	return a, nil
}

// GetAllAnalytics computes analytics for every entity kind concurrently.
func (e *Engine) GetAllAnalytics(ctx context.Context, limit int) (map[phase.EntityKind]Analytics, error) {
	g, ctx := errgroup.WithContext(ctx)

	var mu sync.Mutex
	out := make(map[phase.EntityKind]Analytics, len(phase.AllKinds))
	for _, kind := range phase.AllKinds {
		g.Go(func() error {
			a, err := e.GetPhaseAnalytics(ctx, kind, limit)
			if err != nil {
				return err
			}
			mu.Lock()
			out[kind] = a
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}
