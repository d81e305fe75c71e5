package db

import (
	"database/sql"
	"fmt"
	"strings"
	"time"
)

// Entity is a row of the entities table.
type Entity struct {
	Kind      string
	ID        string
	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

// PhaseRow is a row of the entity_phases table. CustomFields holds the raw
// JSON object, or "" when the phase has none.
type PhaseRow struct {
	Kind          string
	EntityID      string
	Phase         string
	Status        string
	BlockedReason *string
	SkipReason    *string
	CustomFields  string
	StartedAt     *time.Time
	CompletedAt   *time.Time
}

const phaseColumns = `kind, entity_id, phase, status, blocked_reason, skip_reason, custom_fields, started_at, completed_at`

// InsertEntityTx inserts an entity at version 1. It reports false when an
// entity with the same kind and id already exists.
func InsertEntityTx(tx *TxOps, kind, id string, now time.Time) (bool, error) {
	ts := formatTime(now)
	res, err := tx.Exec(`
		INSERT INTO entities (kind, id, version, created_at, updated_at)
		VALUES (?, ?, 1, ?, ?)
		ON CONFLICT (kind, id) DO NOTHING
	`, kind, id, ts, ts)
	if err != nil {
		return false, fmt.Errorf("insert entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("insert entity rows affected: %w", err)
	}
	return n == 1, nil
}

// GetEntityTx returns the entity, or nil when it does not exist.
func GetEntityTx(tx *TxOps, kind, id string) (*Entity, error) {
	var e Entity
	var created, updated string
	err := tx.QueryRow(`
		SELECT kind, id, version, created_at, updated_at
		FROM entities WHERE kind = ? AND id = ?
	`, kind, id).Scan(&e.Kind, &e.ID, &e.Version, &created, &updated)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get entity: %w", err)
	}
	if err := e.setTimes(created, updated); err != nil {
		return nil, err
	}
	return &e, nil
}

// BumpVersionTx increments an entity's version if it still equals expected.
// It reports false when the row is missing or the version has moved on.
func BumpVersionTx(tx *TxOps, kind, id string, expected int64, now time.Time) (bool, error) {
	res, err := tx.Exec(`
		UPDATE entities SET version = version + 1, updated_at = ?
		WHERE kind = ? AND id = ? AND version = ?
	`, formatTime(now), kind, id, expected)
	if err != nil {
		return false, fmt.Errorf("bump entity version: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("bump entity version rows affected: %w", err)
	}
	return n == 1, nil
}

// DeleteEntityTx removes an entity and its phase rows. It reports false when
// nothing was deleted.
func DeleteEntityTx(tx *TxOps, kind, id string) (bool, error) {
	if _, err := tx.Exec("DELETE FROM entity_phases WHERE kind = ? AND entity_id = ?", kind, id); err != nil {
		return false, fmt.Errorf("delete entity phases: %w", err)
	}
	res, err := tx.Exec("DELETE FROM entities WHERE kind = ? AND id = ?", kind, id)
	if err != nil {
		return false, fmt.Errorf("delete entity: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("delete entity rows affected: %w", err)
	}
	return n == 1, nil
}

// ListEntitiesTx returns up to limit entities of kind with id greater than
// afterID, ordered by id.
func ListEntitiesTx(tx *TxOps, kind, afterID string, limit int) ([]Entity, error) {
	rows, err := tx.Query(`
		SELECT kind, id, version, created_at, updated_at
		FROM entities
		WHERE kind = ? AND id > ?
		ORDER BY id
		LIMIT ?
	`, kind, afterID, limit)
	if err != nil {
		return nil, fmt.Errorf("list entities: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Entity
	for rows.Next() {
		var e Entity
		var created, updated string
		if err := rows.Scan(&e.Kind, &e.ID, &e.Version, &created, &updated); err != nil {
			return nil, fmt.Errorf("scan entity: %w", err)
		}
		if err := e.setTimes(created, updated); err != nil {
			return nil, err
		}
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate entities: %w", err)
	}
	return out, nil
}

// SavePhaseRowTx creates or replaces a phase row.
func SavePhaseRowTx(tx *TxOps, row *PhaseRow) error {
	var custom *string
	if row.CustomFields != "" {
		custom = &row.CustomFields
	}
	_, err := tx.Exec(`
		INSERT INTO entity_phases (`+phaseColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (kind, entity_id, phase) DO UPDATE SET
			status = excluded.status,
			blocked_reason = excluded.blocked_reason,
			skip_reason = excluded.skip_reason,
			custom_fields = excluded.custom_fields,
			started_at = excluded.started_at,
			completed_at = excluded.completed_at
	`, row.Kind, row.EntityID, row.Phase, row.Status, row.BlockedReason, row.SkipReason, custom,
		formatTimePtr(row.StartedAt), formatTimePtr(row.CompletedAt))
	if err != nil {
		return fmt.Errorf("save phase row %s: %w", row.Phase, err)
	}
	return nil
}

// GetPhaseRowsTx returns every phase row for the given entities, grouped by
// entity id.
func GetPhaseRowsTx(tx *TxOps, kind string, entityIDs ...string) (map[string][]PhaseRow, error) {
	out := make(map[string][]PhaseRow, len(entityIDs))
	if len(entityIDs) == 0 {
		return out, nil
	}

	args := make([]any, 0, len(entityIDs)+1)
	args = append(args, kind)
	for _, id := range entityIDs {
		args = append(args, id)
	}
	placeholders := strings.TrimSuffix(strings.Repeat("?, ", len(entityIDs)), ", ")

	rows, err := tx.Query(`
		SELECT `+phaseColumns+`
		FROM entity_phases
		WHERE kind = ? AND entity_id IN (`+placeholders+`)
	`, args...)
	if err != nil {
		return nil, fmt.Errorf("get phase rows: %w", err)
	}
	defer func() { _ = rows.Close() }()

	for rows.Next() {
		var r PhaseRow
		var blocked, skip, custom, started, completed sql.NullString
		if err := rows.Scan(&r.Kind, &r.EntityID, &r.Phase, &r.Status,
			&blocked, &skip, &custom, &started, &completed); err != nil {
			return nil, fmt.Errorf("scan phase row: %w", err)
		}
		if blocked.Valid {
			r.BlockedReason = &blocked.String
		}
		if skip.Valid {
			r.SkipReason = &skip.String
		}
		if custom.Valid {
			r.CustomFields = custom.String
		}
		if r.StartedAt, err = parseTime(started); err != nil {
			return nil, fmt.Errorf("phase row %s/%s started_at: %w", r.EntityID, r.Phase, err)
		}
		if r.CompletedAt, err = parseTime(completed); err != nil {
			return nil, fmt.Errorf("phase row %s/%s completed_at: %w", r.EntityID, r.Phase, err)
		}
		out[r.EntityID] = append(out[r.EntityID], r)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate phase rows: %w", err)
	}
	return out, nil
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func formatTimePtr(t *time.Time) *string {
	if t == nil {
		return nil
	}
	s := formatTime(*t)
	return &s
}

func parseTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	ts, err := time.Parse(time.RFC3339Nano, s.String)
	if err != nil {
		return nil, fmt.Errorf("parse timestamp %q: %w", s.String, err)
	}
	return &ts, nil
}

func (e *Entity) setTimes(created, updated string) error {
	var err error
	if e.CreatedAt, err = time.Parse(time.RFC3339Nano, created); err != nil {
		return fmt.Errorf("entity %s/%s created_at: %w", e.Kind, e.ID, err)
	}
	if e.UpdatedAt, err = time.Parse(time.RFC3339Nano, updated); err != nil {
		return fmt.Errorf("entity %s/%s updated_at: %w", e.Kind, e.ID, err)
	}
	return nil
}
