// Package phase defines the phase vocabulary for each entity kind and the
// state machine that moves a single phase, or a whole phase set, through its
// lifecycle.
//
// Every function in this package is pure: records and sets are values, and
// operations return new values instead of mutating their inputs.
package phase

import (
	"slices"
	"time"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// EntityKind identifies the kind of work entity that owns a phase set.
type EntityKind string

const (
	KindTask    EntityKind = "task"
	KindSprint  EntityKind = "sprint"
	KindProject EntityKind = "project"
)

// AllKinds lists every supported entity kind.
var AllKinds = []EntityKind{KindTask, KindSprint, KindProject}

// ParseEntityKind parses an entity kind string.
func ParseEntityKind(s string) (EntityKind, error) {
	k := EntityKind(s)
	if !k.Valid() {
		return "", pterrors.ErrUnknownEntityKind(s)
	}
	return k, nil
}

// Valid reports whether k is a supported entity kind.
func (k EntityKind) Valid() bool {
	_, ok := sequences[k]
	return ok
}

// Name identifies a phase within an entity kind's sequence.
type Name string

const (
	Research       Name = "research"
	Planning       Name = "planning"
	Implementation Name = "implementation"
	Testing        Name = "testing"
)

// Order matters: Advance walks these front to back.
var sequences = map[EntityKind][]Name{
	KindTask:    {Research, Planning, Implementation, Testing},
	KindSprint:  {Planning, Implementation},
	KindProject: {Research, Planning},
}

// SequenceFor returns the ordered phase sequence for kind.
// The returned slice is a copy and may be modified by the caller.
func SequenceFor(kind EntityKind) ([]Name, error) {
	seq, ok := sequences[kind]
	if !ok {
		return nil, pterrors.ErrUnknownEntityKind(string(kind))
	}
	return slices.Clone(seq), nil
}

// ParseName validates that s names a phase of kind.
func ParseName(kind EntityKind, s string) (Name, error) {
	seq, ok := sequences[kind]
	if !ok {
		return "", pterrors.ErrUnknownEntityKind(string(kind))
	}
	if !slices.Contains(seq, Name(s)) {
		return "", pterrors.ErrUnknownPhase(string(kind), s)
	}
	return Name(s), nil
}

// Status is the lifecycle status of one phase.
type Status string

const (
	StatusNotStarted Status = "not_started"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusSkipped    Status = "skipped"
	StatusBlocked    Status = "blocked"
)

// ValidStatuses returns all valid status values.
func ValidStatuses() []Status {
	return []Status{StatusNotStarted, StatusInProgress, StatusCompleted, StatusSkipped, StatusBlocked}
}

// ParseStatus parses a status string.
func ParseStatus(s string) (Status, error) {
	st := Status(s)
	if !slices.Contains(ValidStatuses(), st) {
		return "", pterrors.ErrInvalidArgument("status", "must be one of not_started, in_progress, completed, skipped, blocked")
	}
	return st, nil
}

// IsTerminal reports whether no further transitions are possible from s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusSkipped
}

// Record is the state of one named phase of one entity.
type Record struct {
	Status        Status         `json:"status"`
	BlockedReason *string        `json:"blocked_reason,omitempty"`
	SkipReason    *string        `json:"skip_reason,omitempty"`
	CustomFields  map[string]any `json:"custom_fields"`
	StartedAt     *time.Time     `json:"started_at,omitempty"`
	CompletedAt   *time.Time     `json:"completed_at,omitempty"`
}

// NewRecord returns a not_started record with empty custom fields.
func NewRecord() Record {
	return Record{
		Status:       StatusNotStarted,
		CustomFields: map[string]any{},
	}
}

// Clone returns a deep copy of r.
func (r Record) Clone() Record {
	c := r
	if r.BlockedReason != nil {
		c.BlockedReason = ptr(*r.BlockedReason)
	}
	if r.SkipReason != nil {
		c.SkipReason = ptr(*r.SkipReason)
	}
	if r.StartedAt != nil {
		c.StartedAt = ptr(*r.StartedAt)
	}
	if r.CompletedAt != nil {
		c.CompletedAt = ptr(*r.CompletedAt)
	}
	c.CustomFields = cloneFields(r.CustomFields)
	return c
}

func cloneFields(m map[string]any) map[string]any {
	out := make(map[string]any, len(m))
	for k, v := range m {
		out[k] = cloneValue(v)
	}
	return out
}

func cloneValue(v any) any {
	switch t := v.(type) {
	case map[string]any:
		return cloneFields(t)
	case []any:
		out := make([]any, len(t))
		for i, e := range t {
			out[i] = cloneValue(e)
		}
		return out
	default:
		return v
	}
}

func ptr[T any](v T) *T {
	return &v
}
