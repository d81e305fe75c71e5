package phase

import (
	"bytes"
	"encoding/json"
	"fmt"
	"iter"
	"maps"
	"slices"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// Set holds every phase record of one entity, keyed by the entity kind's
// phase sequence. A Set built by NewSet or Restore always contains exactly the
// kind's phases; it can only be changed through Apply and MergeCustomFields.
type Set struct {
	kind    EntityKind
	records map[Name]Record
}

// NewSet returns a set with every phase of kind at not_started.
func NewSet(kind EntityKind) (Set, error) {
	seq, err := SequenceFor(kind)
	if err != nil {
		return Set{}, err
	}
	records := make(map[Name]Record, len(seq))
	for _, n := range seq {
		records[n] = NewRecord()
	}
	return Set{kind: kind, records: records}, nil
}

// Restore rebuilds a set from stored records. Phases missing from records are
// materialized as not_started; names outside the kind's sequence are rejected.
func Restore(kind EntityKind, records map[Name]Record) (Set, error) {
	s, err := NewSet(kind)
	if err != nil {
		return Set{}, err
	}
	for n, r := range records {
		if _, ok := s.records[n]; !ok {
			return Set{}, pterrors.ErrUnknownPhase(string(kind), string(n))
		}
		if !slices.Contains(ValidStatuses(), r.Status) {
			return Set{}, fmt.Errorf("restore %s phase %s: invalid status %q", kind, n, r.Status)
		}
		s.records[n] = r.Clone()
	}
	return s, nil
}

// Kind returns the entity kind the set belongs to.
func (s Set) Kind() EntityKind {
	return s.kind
}

// Len returns the number of phases in the set.
func (s Set) Len() int {
	return len(s.records)
}

// Get returns a copy of the named phase record.
func (s Set) Get(name Name) (Record, error) {
	r, ok := s.records[name]
	if !ok {
		return Record{}, pterrors.ErrUnknownPhase(string(s.kind), string(name))
	}
	return r.Clone(), nil
}

// All iterates over the phases in sequence order.
func (s Set) All() iter.Seq2[Name, Record] {
	return func(yield func(Name, Record) bool) {
		for _, n := range sequences[s.kind] {
			if !yield(n, s.records[n].Clone()) {
				return
			}
		}
	}
}

// Records returns a copy of the records keyed by phase name.
func (s Set) Records() map[Name]Record {
	out := make(map[Name]Record, len(s.records))
	for n, r := range s.records {
		out[n] = r.Clone()
	}
	return out
}

// Clone returns a deep copy of s.
func (s Set) Clone() Set {
	return Set{kind: s.kind, records: s.Records()}
}

// Current returns the first phase that is not in a terminal status.
// ok is false when every phase is terminal.
func (s Set) Current() (name Name, ok bool) {
	for _, n := range sequences[s.kind] {
		if !s.records[n].Status.IsTerminal() {
			return n, true
		}
	}
	return "", false
}

// Count returns the number of phases with status st.
func (s Set) Count(st Status) int {
	n := 0
	for _, r := range s.records {
		if r.Status == st {
			n++
		}
	}
	return n
}

// Apply runs op against the named phase and returns a new set holding the
// result. s itself is never modified.
func (s Set) Apply(name Name, op func(Name, Record) (Record, error)) (Set, error) {
	r, err := s.Get(name)
	if err != nil {
		return s, err
	}
	next, err := op(name, r)
	if err != nil {
		return s, err
	}
	out := s.Clone()
	out.records[name] = next
	return out, nil
}

// MergeCustomFields adds fields to the named phase, overwriting keys that are
// already present and leaving all others untouched.
func (s Set) MergeCustomFields(name Name, fields map[string]any) (Set, error) {
	if err := ValidateCustomFields(fields); err != nil {
		return s, err
	}
	return s.Apply(name, func(_ Name, r Record) (Record, error) {
		if r.CustomFields == nil {
			r.CustomFields = map[string]any{}
		}
		maps.Copy(r.CustomFields, cloneFields(fields))
		return r, nil
	})
}

// ValidateCustomFields rejects empty keys and values that cannot be encoded
// as JSON.
func ValidateCustomFields(fields map[string]any) error {
	for k, v := range fields {
		if k == "" {
			return pterrors.ErrInvalidArgument("custom_fields", "field names must not be empty")
		}
		if _, err := json.Marshal(v); err != nil {
			return pterrors.ErrInvalidArgument("custom_fields", fmt.Sprintf("field %q is not JSON encodable: %v", k, err))
		}
	}
	return nil
}

// MarshalJSON encodes the set as an object keyed by phase name, in sequence
// order.
func (s Set) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, n := range sequences[s.kind] {
		if i > 0 {
			buf.WriteByte(',')
		}
		key, err := json.Marshal(string(n))
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(s.records[n])
		if err != nil {
			return nil, fmt.Errorf("marshal phase %s: %w", n, err)
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Change describes one phase whose status differs between two sets.
type Change struct {
	Phase Name   `json:"phase"`
	From  Status `json:"from"`
	To    Status `json:"to"`
}

// Diff lists the status changes from before to after, in sequence order.
func Diff(before, after Set) []Change {
	var changes []Change
	for _, n := range sequences[after.kind] {
		from := before.records[n].Status
		to := after.records[n].Status
		if from != to {
			changes = append(changes, Change{Phase: n, From: from, To: to})
		}
	}
	return changes
}
