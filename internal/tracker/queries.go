package tracker

import (
	"context"
	"encoding/json"
	"time"

	"github.com/tidwall/gjson"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/storage"
)

// BlockedPhase is one blocked phase found by FindWithBlockedPhase.
type BlockedPhase struct {
	ID     string     `json:"id"`
	Phase  phase.Name `json:"phase"`
	Reason string     `json:"reason"`
}

// scan streams every entity of kind through fn. fn returns false to stop.
func (e *Engine) scan(ctx context.Context, kind phase.EntityKind, fn func(storage.Entry) bool) error {
	if !kind.Valid() {
		return pterrors.ErrUnknownEntityKind(string(kind))
	}
	for entry, err := range e.store.ListAll(ctx, kind) {
		if err != nil {
			return err
		}
		if !fn(entry) {
			return nil
		}
	}
	return nil
}

// ListEntities returns the ids of every entity of kind in ascending order.
func (e *Engine) ListEntities(ctx context.Context, kind phase.EntityKind) (ids []string, err error) {
	defer e.metrics.observe("list_entities", time.Now(), &err)

	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		ids = append(ids, entry.ID)
		return true
	})
	return ids, err
}

// FindByPhaseStatus returns entities whose named phase has status st.
func (e *Engine) FindByPhaseStatus(ctx context.Context, kind phase.EntityKind, name phase.Name, st phase.Status) (ids []string, err error) {
	defer e.metrics.observe("find_by_phase_status", time.Now(), &err)

	if _, err := phase.ParseName(kind, string(name)); err != nil {
		return nil, err
	}
	if _, err := phase.ParseStatus(string(st)); err != nil {
		return nil, err
	}
	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		if r, err := entry.Phases.Get(name); err == nil && r.Status == st {
			ids = append(ids, entry.ID)
		}
		return true
	})
	return ids, err
}

// FindWithBlockedPhase returns every blocked phase across all entities of
// kind, in entity then sequence order.
func (e *Engine) FindWithBlockedPhase(ctx context.Context, kind phase.EntityKind) (out []BlockedPhase, err error) {
	defer e.metrics.observe("find_with_blocked_phase", time.Now(), &err)

	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		for name, r := range entry.Phases.All() {
			if r.Status != phase.StatusBlocked {
				continue
			}
			bp := BlockedPhase{ID: entry.ID, Phase: name}
			if r.BlockedReason != nil {
				bp.Reason = *r.BlockedReason
			}
			out = append(out, bp)
		}
		return true
	})
	return out, err
}

// FindByCurrentPhase returns entities whose first non-terminal phase is name.
func (e *Engine) FindByCurrentPhase(ctx context.Context, kind phase.EntityKind, name phase.Name) (ids []string, err error) {
	defer e.metrics.observe("find_by_current_phase", time.Now(), &err)

	if _, err := phase.ParseName(kind, string(name)); err != nil {
		return nil, err
	}
	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		if cur, ok := entry.Phases.Current(); ok && cur == name {
			ids = append(ids, entry.ID)
		}
		return true
	})
	return ids, err
}

// FindByCustomField returns entities whose named phase has a custom field at
// path (gjson syntax) whose string form equals value.
func (e *Engine) FindByCustomField(ctx context.Context, kind phase.EntityKind, name phase.Name, path, value string) (ids []string, err error) {
	defer e.metrics.observe("find_by_custom_field", time.Now(), &err)

	if _, err := phase.ParseName(kind, string(name)); err != nil {
		return nil, err
	}
	if path == "" {
		return nil, pterrors.ErrInvalidArgument("path", "a custom field path is required")
	}

	var scanErr error
	err = e.scan(ctx, kind, func(entry storage.Entry) bool {
		r, err := entry.Phases.Get(name)
		if err != nil || len(r.CustomFields) == 0 {
			return true
		}
		doc, err := json.Marshal(r.CustomFields)
		if err != nil {
			scanErr = err
			return false
		}
		if res := gjson.GetBytes(doc, path); res.Exists() && res.String() == value {
			ids = append(ids, entry.ID)
		}
		return true
	})
	if err == nil {
		err = scanErr
	}
	return ids, err
}
