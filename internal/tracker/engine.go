// Package tracker exposes the phase lifecycle of tracked entities. Each
// per-entity operation loads the phase set, applies a state machine
// operation, saves it against the loaded version and publishes the resulting
// changes. Cross-entity queries stream the store's ListAll.
package tracker

import (
	"bytes"
	"context"
	"log/slog"
	"time"

	"github.com/google/uuid"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/events"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/storage"
)

// Engine is the phase tracking API. Safe for concurrent use; per-entity
// atomicity comes from the store's versioned Save.
type Engine struct {
	store     storage.EntityStore
	logger    *slog.Logger
	publisher events.Publisher
	metrics   *Metrics
}

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the engine logger.
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithPublisher sets the publisher that receives change events.
func WithPublisher(p events.Publisher) Option {
	return func(e *Engine) {
		if p != nil {
			e.publisher = p
		}
	}
}

// WithMetrics enables Prometheus instrumentation.
func WithMetrics(m *Metrics) Option {
	return func(e *Engine) {
		e.metrics = m
	}
}

// New creates an engine over store.
func New(store storage.EntityStore, opts ...Option) *Engine {
	e := &Engine{
		store:     store,
		logger:    slog.Default(),
		publisher: events.NewNopPublisher(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Store returns the underlying entity store.
func (e *Engine) Store() storage.EntityStore {
	return e.store
}

// CreateEntity starts tracking a new entity with every phase not_started.
// An empty id is replaced with a generated UUID; the id used is returned.
func (e *Engine) CreateEntity(ctx context.Context, kind phase.EntityKind, id string) (_ string, _ phase.Set, err error) {
	defer e.metrics.observe("create_entity", time.Now(), &err)

	set, err := phase.NewSet(kind)
	if err != nil {
		return "", phase.Set{}, err
	}
	if id == "" {
		id = uuid.NewString()
	}
	if err := e.store.Create(ctx, kind, id, set); err != nil {
		return "", phase.Set{}, annotate(err, kind, id)
	}

	e.logger.Debug("entity created", "kind", kind, "id", id)
	e.publisher.Publish(events.NewEvent(events.EventEntityCreated, events.EntityKey(string(kind), id),
		events.EntityChange{Kind: string(kind), ID: id}))
	return id, set, nil
}

// DeleteEntity stops tracking an entity; its phase set is destroyed with it.
func (e *Engine) DeleteEntity(ctx context.Context, kind phase.EntityKind, id string) (err error) {
	defer e.metrics.observe("delete_entity", time.Now(), &err)

	if !kind.Valid() {
		return pterrors.ErrUnknownEntityKind(string(kind))
	}
	if err := e.store.Delete(ctx, kind, id); err != nil {
		return annotate(err, kind, id)
	}

	e.logger.Debug("entity deleted", "kind", kind, "id", id)
	e.publisher.Publish(events.NewEvent(events.EventEntityDeleted, events.EntityKey(string(kind), id),
		events.EntityChange{Kind: string(kind), ID: id}))
	return nil
}

// GetPhases returns the entity's phase set.
func (e *Engine) GetPhases(ctx context.Context, kind phase.EntityKind, id string) (_ phase.Set, err error) {
	defer e.metrics.observe("get_phases", time.Now(), &err)

	if !kind.Valid() {
		return phase.Set{}, pterrors.ErrUnknownEntityKind(string(kind))
	}
	set, _, err := e.store.Load(ctx, kind, id)
	if err != nil {
		return phase.Set{}, annotate(err, kind, id)
	}
	return set, nil
}

// GetPhase returns one phase record of the entity.
func (e *Engine) GetPhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name) (_ phase.Record, err error) {
	defer e.metrics.observe("get_phase", time.Now(), &err)

	if _, err := phase.ParseName(kind, string(name)); err != nil {
		return phase.Record{}, err
	}
	set, _, err := e.store.Load(ctx, kind, id)
	if err != nil {
		return phase.Record{}, annotate(err, kind, id)
	}
	return set.Get(name)
}

// PhaseUpdate is the generic change applied by UpdatePhase. Nil fields are
// left alone. A reason is only accepted together with the status it belongs
// to: BlockedReason with blocked, SkipReason with skipped.
type PhaseUpdate struct {
	Status        *phase.Status  `json:"status,omitempty"`
	BlockedReason *string        `json:"blocked_reason,omitempty"`
	SkipReason    *string        `json:"skip_reason,omitempty"`
	CustomFields  map[string]any `json:"custom_fields,omitempty"`
}

// Empty reports whether the update requests no change.
func (u PhaseUpdate) Empty() bool {
	return u.Status == nil && u.BlockedReason == nil && u.SkipReason == nil && len(u.CustomFields) == 0
}

func (u PhaseUpdate) validate() (reason *string, err error) {
	if err := phase.ValidateCustomFields(u.CustomFields); err != nil {
		return nil, err
	}
	if u.BlockedReason != nil && (u.Status == nil || *u.Status != phase.StatusBlocked) {
		return nil, pterrors.ErrInvalidArgument("blocked_reason", "blocked_reason is only accepted with status blocked")
	}
	if u.SkipReason != nil && (u.Status == nil || *u.Status != phase.StatusSkipped) {
		return nil, pterrors.ErrInvalidArgument("skip_reason", "skip_reason is only accepted with status skipped")
	}
	if u.Status == nil {
		return nil, nil
	}
	switch *u.Status {
	case phase.StatusBlocked:
		return u.BlockedReason, nil
	case phase.StatusSkipped:
		return u.SkipReason, nil
	}
	return nil, nil
}

// UpdatePhase routes a status change through the state machine and merges
// custom fields into the phase's existing map. An empty update returns the
// current phases without writing.
func (e *Engine) UpdatePhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name, u PhaseUpdate) (_ phase.Set, err error) {
	defer e.metrics.observe("update_phase", time.Now(), &err)

	reason, err := u.validate()
	if err != nil {
		return phase.Set{}, annotate(err, kind, id)
	}
	if u.Empty() {
		if _, err := phase.ParseName(kind, string(name)); err != nil {
			return phase.Set{}, err
		}
		set, _, err := e.store.Load(ctx, kind, id)
		if err != nil {
			return phase.Set{}, annotate(err, kind, id)
		}
		return set, nil
	}

	return e.mutate(ctx, "update_phase", kind, id, name, func(s phase.Set) (phase.Set, error) {
		if u.Status != nil {
			var err error
			s, err = s.Apply(name, func(n phase.Name, r phase.Record) (phase.Record, error) {
				return phase.SetStatus(n, r, *u.Status, reason)
			})
			if err != nil {
				return s, err
			}
		}
		if len(u.CustomFields) > 0 {
			return s.MergeCustomFields(name, u.CustomFields)
		}
		return s, nil
	})
}

// StartPhase moves a phase to in_progress.
func (e *Engine) StartPhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
	return e.applyOp(ctx, "start_phase", kind, id, name, phase.Start)
}

// CompletePhase moves an in_progress phase to completed.
func (e *Engine) CompletePhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
	return e.applyOp(ctx, "complete_phase", kind, id, name, phase.Complete)
}

// BlockPhase blocks an in_progress phase. reason must be non-nil; "" is allowed.
func (e *Engine) BlockPhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name, reason *string) (phase.Set, error) {
	return e.applyOp(ctx, "block_phase", kind, id, name, func(n phase.Name, r phase.Record) (phase.Record, error) {
		return phase.Block(n, r, reason)
	})
}

// UnblockPhase returns a blocked phase to in_progress.
func (e *Engine) UnblockPhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
	return e.applyOp(ctx, "unblock_phase", kind, id, name, phase.Unblock)
}

// SkipPhase skips a phase that is not yet terminal. reason must be non-nil.
func (e *Engine) SkipPhase(ctx context.Context, kind phase.EntityKind, id string, name phase.Name, reason *string) (phase.Set, error) {
	return e.applyOp(ctx, "skip_phase", kind, id, name, func(n phase.Name, r phase.Record) (phase.Record, error) {
		return phase.Skip(n, r, reason)
	})
}

// Advance moves the entity forward along its phase sequence.
func (e *Engine) Advance(ctx context.Context, kind phase.EntityKind, id string) (_ phase.Set, err error) {
	defer e.metrics.observe("advance", time.Now(), &err)
	return e.mutate(ctx, "advance", kind, id, "", phase.Advance)
}

func (e *Engine) applyOp(ctx context.Context, op string, kind phase.EntityKind, id string, name phase.Name, fn func(phase.Name, phase.Record) (phase.Record, error)) (_ phase.Set, err error) {
	defer e.metrics.observe(op, time.Now(), &err)
	return e.mutate(ctx, op, kind, id, name, func(s phase.Set) (phase.Set, error) {
		return s.Apply(name, fn)
	})
}

// mutate runs one load, change, save cycle. A stale version is reported to
// the caller as CONCURRENT_MODIFICATION; it is never retried here because the
// change has to be re-validated against the fresh state.
func (e *Engine) mutate(ctx context.Context, op string, kind phase.EntityKind, id string, name phase.Name, change func(phase.Set) (phase.Set, error)) (phase.Set, error) {
	if !kind.Valid() {
		return phase.Set{}, pterrors.ErrUnknownEntityKind(string(kind))
	}
	if name != "" {
		if _, err := phase.ParseName(kind, string(name)); err != nil {
			return phase.Set{}, err
		}
	}

	before, version, err := e.store.Load(ctx, kind, id)
	if err != nil {
		return phase.Set{}, annotate(err, kind, id)
	}

	after, err := change(before)
	if err != nil {
		return phase.Set{}, annotate(err, kind, id)
	}

	if sameState(before, after) {
		return after, nil
	}
	changes := phase.Diff(before, after)

	if _, err := e.store.Save(ctx, kind, id, after, version); err != nil {
		if pterrors.HasCode(err, pterrors.CodeConcurrentModification) {
			e.logger.Warn("concurrent modification",
				"operation", op, "kind", kind, "id", id, "expected_version", version)
		}
		return phase.Set{}, annotate(err, kind, id)
	}

	key := events.EntityKey(string(kind), id)
	for _, c := range changes {
		e.logger.Debug("phase transition",
			"kind", kind, "id", id, "phase", c.Phase, "from", c.From, "to", c.To)
		e.metrics.transition(string(kind), string(c.Phase), string(c.To))
		e.publisher.Publish(events.NewEvent(events.EventPhaseChanged, key, events.PhaseChange{
			Kind:  string(kind),
			ID:    id,
			Phase: string(c.Phase),
			From:  string(c.From),
			To:    string(c.To),
		}))
	}
	return after, nil
}

// sameState reports whether a change left every record untouched, in which
// case nothing is written.
func sameState(before, after phase.Set) bool {
	b, err := before.MarshalJSON()
	if err != nil {
		return false
	}
	a, err := after.MarshalJSON()
	if err != nil {
		return false
	}
	return bytes.Equal(a, b)
}

// annotate attaches entity context to domain errors.
func annotate(err error, kind phase.EntityKind, id string) error {
	if te := pterrors.AsTrackError(err); te != nil {
		return te.WithEntity(string(kind), id)
	}
	return err
}
