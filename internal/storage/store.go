// Package storage persists phase sets per entity. Every write is guarded by an
// entity version so concurrent read-modify-write cycles cannot lose updates.
package storage

import (
	"context"
	"fmt"
	"iter"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

// Entry is one stored entity as yielded by ListAll.
type Entry struct {
	ID      string
	Phases  phase.Set
	Version int64
}

// EntityStore is the persistence contract used by the tracker.
// All implementations must be safe for concurrent access.
type EntityStore interface {
	// Create stores a new entity at version 1. Fails with ENTITY_EXISTS if
	// the (kind, id) pair is already present.
	Create(ctx context.Context, kind phase.EntityKind, id string, set phase.Set) error

	// Load returns the entity's phases and current version.
	Load(ctx context.Context, kind phase.EntityKind, id string) (phase.Set, int64, error)

	// Save replaces the entity's phases if its version still equals
	// expected, returning the new version. A stale expected version yields
	// CONCURRENT_MODIFICATION.
	Save(ctx context.Context, kind phase.EntityKind, id string, set phase.Set, expected int64) (int64, error)

	// Delete removes the entity.
	Delete(ctx context.Context, kind phase.EntityKind, id string) error

	// ListAll yields every entity of kind in ascending id order. Iteration
	// is lazy; entities deleted mid-scan are skipped.
	ListAll(ctx context.Context, kind phase.EntityKind) iter.Seq2[Entry, error]

	// Lifecycle
	Close() error
}

func checkSet(kind phase.EntityKind, set phase.Set) error {
	if !kind.Valid() {
		return pterrors.ErrUnknownEntityKind(string(kind))
	}
	if set.Kind() != kind {
		return pterrors.ErrInvalidArgument("phases", fmt.Sprintf("phase set belongs to %q, not %q", set.Kind(), kind))
	}
	return nil
}
