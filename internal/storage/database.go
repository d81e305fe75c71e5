package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"iter"
	"log/slog"
	"time"

	"github.com/randalmurphal/phasetrack/internal/db"
	"github.com/randalmurphal/phasetrack/internal/db/driver"
	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

// DefaultPageSize is the number of entities ListAll reads per query.
const DefaultPageSize = 100

// DatabaseStore persists entities in SQLite or PostgreSQL. Optimistic
// concurrency is enforced by the entities.version column, so several
// processes may share one database.
type DatabaseStore struct {
	db       *db.DB
	pageSize int
	logger   *slog.Logger
	now      func() time.Time
}

// DatabaseOption configures a DatabaseStore.
type DatabaseOption func(*DatabaseStore)

// WithPageSize sets how many entities ListAll fetches per query.
func WithPageSize(n int) DatabaseOption {
	return func(s *DatabaseStore) {
		if n > 0 {
			s.pageSize = n
		}
	}
}

// WithStoreLogger sets the logger for debug messages.
func WithStoreLogger(l *slog.Logger) DatabaseOption {
	return func(s *DatabaseStore) {
		if l != nil {
			s.logger = l
		}
	}
}

// NewDatabaseStore wraps an open, migrated database.
func NewDatabaseStore(d *db.DB, opts ...DatabaseOption) *DatabaseStore {
	s := &DatabaseStore{
		db:       d,
		pageSize: DefaultPageSize,
		logger:   slog.New(slog.DiscardHandler),
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// OpenDatabaseStore opens the database at dsn and wraps it.
func OpenDatabaseStore(ctx context.Context, dsn string, dialect driver.Dialect, opts ...DatabaseOption) (*DatabaseStore, error) {
	d, err := db.OpenWithDialect(ctx, dsn, dialect)
	if err != nil {
		return nil, fmt.Errorf("open %s database: %w", dialect, err)
	}
	return NewDatabaseStore(d, opts...), nil
}

// DB returns the underlying database.
func (s *DatabaseStore) DB() *db.DB {
	return s.db
}

func (s *DatabaseStore) Create(ctx context.Context, kind phase.EntityKind, id string, set phase.Set) error {
	if err := checkSet(kind, set); err != nil {
		return err
	}
	rows, err := toRows(kind, id, set)
	if err != nil {
		return err
	}

	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		created, err := db.InsertEntityTx(tx, string(kind), id, s.now())
		if err != nil {
			return err
		}
		if !created {
			return pterrors.ErrEntityExists(string(kind), id)
		}
		for i := range rows {
			if err := db.SavePhaseRowTx(tx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *DatabaseStore) Load(ctx context.Context, kind phase.EntityKind, id string) (phase.Set, int64, error) {
	var (
		set     phase.Set
		version int64
	)
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		e, err := db.GetEntityTx(tx, string(kind), id)
		if err != nil {
			return err
		}
		if e == nil {
			return pterrors.ErrEntityNotFound(string(kind), id)
		}
		rows, err := db.GetPhaseRowsTx(tx, string(kind), id)
		if err != nil {
			return err
		}
		set, err = fromRows(kind, rows[id])
		if err != nil {
			return err
		}
		version = e.Version
		return nil
	})
	if err != nil {
		return phase.Set{}, 0, err
	}
	return set, version, nil
}

func (s *DatabaseStore) Save(ctx context.Context, kind phase.EntityKind, id string, set phase.Set, expected int64) (int64, error) {
	if err := checkSet(kind, set); err != nil {
		return 0, err
	}
	rows, err := toRows(kind, id, set)
	if err != nil {
		return 0, err
	}

	err = s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		ok, err := db.BumpVersionTx(tx, string(kind), id, expected, s.now())
		if err != nil {
			return err
		}
		if !ok {
			e, err := db.GetEntityTx(tx, string(kind), id)
			if err != nil {
				return err
			}
			if e == nil {
				return pterrors.ErrEntityNotFound(string(kind), id)
			}
			s.logger.Debug("stale entity version",
				"kind", kind, "id", id, "expected", expected, "actual", e.Version)
			return pterrors.ErrConcurrentModification(string(kind), id, expected)
		}
		for i := range rows {
			if err := db.SavePhaseRowTx(tx, &rows[i]); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return 0, err
	}
	return expected + 1, nil
}

func (s *DatabaseStore) Delete(ctx context.Context, kind phase.EntityKind, id string) error {
	return s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		deleted, err := db.DeleteEntityTx(tx, string(kind), id)
		if err != nil {
			return err
		}
		if !deleted {
			return pterrors.ErrEntityNotFound(string(kind), id)
		}
		return nil
	})
}

// ListAll pages through entities with keyset pagination. Each page is read in
// full before anything is yielded, so the caller may issue other queries
// against the same database while iterating.
func (s *DatabaseStore) ListAll(ctx context.Context, kind phase.EntityKind) iter.Seq2[Entry, error] {
	return func(yield func(Entry, error) bool) {
		after := ""
		for {
			page, err := s.loadPage(ctx, kind, after)
			if err != nil {
				yield(Entry{}, err)
				return
			}
			for _, e := range page {
				if !yield(e, nil) {
					return
				}
			}
			if len(page) < s.pageSize {
				return
			}
			after = page[len(page)-1].ID
		}
	}
}

func (s *DatabaseStore) loadPage(ctx context.Context, kind phase.EntityKind, after string) ([]Entry, error) {
	var page []Entry
	err := s.db.RunInTx(ctx, func(tx *db.TxOps) error {
		entities, err := db.ListEntitiesTx(tx, string(kind), after, s.pageSize)
		if err != nil {
			return err
		}
		ids := make([]string, len(entities))
		for i, e := range entities {
			ids[i] = e.ID
		}
		rows, err := db.GetPhaseRowsTx(tx, string(kind), ids...)
		if err != nil {
			return err
		}
		page = make([]Entry, 0, len(entities))
		for _, e := range entities {
			set, err := fromRows(kind, rows[e.ID])
			if err != nil {
				return fmt.Errorf("entity %s/%s: %w", kind, e.ID, err)
			}
			page = append(page, Entry{ID: e.ID, Phases: set, Version: e.Version})
		}
		return nil
	})
	return page, err
}

// Close closes the underlying database.
func (s *DatabaseStore) Close() error {
	return s.db.Close()
}

var _ EntityStore = (*DatabaseStore)(nil)

func toRows(kind phase.EntityKind, id string, set phase.Set) ([]db.PhaseRow, error) {
	rows := make([]db.PhaseRow, 0, set.Len())
	for name, r := range set.All() {
		row := db.PhaseRow{
			Kind:          string(kind),
			EntityID:      id,
			Phase:         string(name),
			Status:        string(r.Status),
			BlockedReason: r.BlockedReason,
			SkipReason:    r.SkipReason,
			StartedAt:     r.StartedAt,
			CompletedAt:   r.CompletedAt,
		}
		if len(r.CustomFields) > 0 {
			b, err := json.Marshal(r.CustomFields)
			if err != nil {
				return nil, fmt.Errorf("marshal %s custom fields: %w", name, err)
			}
			row.CustomFields = string(b)
		}
		rows = append(rows, row)
	}
	return rows, nil
}

func fromRows(kind phase.EntityKind, rows []db.PhaseRow) (phase.Set, error) {
	records := make(map[phase.Name]phase.Record, len(rows))
	for _, row := range rows {
		r := phase.Record{
			Status:        phase.Status(row.Status),
			BlockedReason: row.BlockedReason,
			SkipReason:    row.SkipReason,
			CustomFields:  map[string]any{},
			StartedAt:     row.StartedAt,
			CompletedAt:   row.CompletedAt,
		}
		if row.CustomFields != "" {
			if err := json.Unmarshal([]byte(row.CustomFields), &r.CustomFields); err != nil {
				return phase.Set{}, fmt.Errorf("decode %s custom fields: %w", row.Phase, err)
			}
		}
		records[phase.Name(row.Phase)] = r
	}
	return phase.Restore(kind, records)
}
