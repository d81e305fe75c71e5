package storage

import (
	"context"
	"iter"
	"slices"
	"sync"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

type entityKey struct {
	kind phase.EntityKind
	id   string
}

type memEntry struct {
	set     phase.Set
	version int64
}

// MemoryStore keeps entities in process memory. Sets are cloned on the way
// in and out so callers never share state with the store.
type MemoryStore struct {
	mu       sync.RWMutex
	entities map[entityKey]memEntry
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{entities: make(map[entityKey]memEntry)}
}

func (m *MemoryStore) Create(ctx context.Context, kind phase.EntityKind, id string, set phase.Set) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if err := checkSet(kind, set); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{kind, id}
	if _, ok := m.entities[key]; ok {
		return pterrors.ErrEntityExists(string(kind), id)
	}
	m.entities[key] = memEntry{set: set.Clone(), version: 1}
	return nil
}

func (m *MemoryStore) Load(ctx context.Context, kind phase.EntityKind, id string) (phase.Set, int64, error) {
	if err := ctx.Err(); err != nil {
		return phase.Set{}, 0, err
	}

	m.mu.RLock()
	defer m.mu.RUnlock()

	e, ok := m.entities[entityKey{kind, id}]
	if !ok {
		return phase.Set{}, 0, pterrors.ErrEntityNotFound(string(kind), id)
	}
	return e.set.Clone(), e.version, nil
}

func (m *MemoryStore) Save(ctx context.Context, kind phase.EntityKind, id string, set phase.Set, expected int64) (int64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	if err := checkSet(kind, set); err != nil {
		return 0, err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{kind, id}
	e, ok := m.entities[key]
	if !ok {
		return 0, pterrors.ErrEntityNotFound(string(kind), id)
	}
	if e.version != expected {
		return 0, pterrors.ErrConcurrentModification(string(kind), id, expected)
	}
	e = memEntry{set: set.Clone(), version: e.version + 1}
	m.entities[key] = e
	return e.version, nil
}

func (m *MemoryStore) Delete(ctx context.Context, kind phase.EntityKind, id string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	key := entityKey{kind, id}
	if _, ok := m.entities[key]; !ok {
		return pterrors.ErrEntityNotFound(string(kind), id)
	}
	delete(m.entities, key)
	return nil
}

func (m *MemoryStore) ListAll(ctx context.Context, kind phase.EntityKind) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		m.mu.RLock()
		var ids []string
		for k := range m.entities {
			if k.kind == kind {
				ids = append(ids, k.id)
			}
		}
		m.mu.RUnlock()
		slices.Sort(ids)

		for _, id := range ids {
			if err := ctx.Err(); err != nil {
				yield(Entry{}, err)
				return
			}
			m.mu.RLock()
			e, ok := m.entities[entityKey{kind, id}]
			m.mu.RUnlock()
			if !ok {
				continue
			}
			if !yield(Entry{ID: id, Phases: e.set.Clone(), Version: e.version}, nil) {
				return
			}
		}
	}
}

// Close is a no-op for the in-memory store.
func (m *MemoryStore) Close() error {
	return nil
}

var _ EntityStore = (*MemoryStore)(nil)
