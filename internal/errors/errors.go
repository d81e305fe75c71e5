// Package errors provides structured error types for phasetrack.
package errors

import (
	"encoding/json"
	stderrors "errors"
	"fmt"
	"strings"
)

// Code represents a unique error code.
type Code string

// Error codes for phasetrack.
const (
	// Vocabulary errors
	CodeUnknownEntityKind Code = "UNKNOWN_ENTITY_KIND"
	CodeUnknownPhase      Code = "UNKNOWN_PHASE"

	// Entity errors
	CodeEntityNotFound Code = "ENTITY_NOT_FOUND"
	CodeEntityExists   Code = "ENTITY_EXISTS"

	// State machine errors
	CodeIllegalTransition Code = "ILLEGAL_PHASE_TRANSITION"
	CodeInvalidArgument   Code = "INVALID_ARGUMENT"
	CodePhaseBlocked      Code = "PHASE_BLOCKED"

	// Storage errors
	CodeConcurrentModification Code = "CONCURRENT_MODIFICATION"

	// Config errors
	CodeConfigInvalid Code = "CONFIG_INVALID"
)

// Category groups error codes for HTTP status mapping.
type Category int

const (
	CategoryUnknown Category = iota
	CategoryNotFound
	CategoryBadRequest
	CategoryConflict
	CategoryInternal
)

var codeCategories = map[Code]Category{
	CodeUnknownEntityKind:      CategoryBadRequest,
	CodeUnknownPhase:           CategoryBadRequest,
	CodeEntityNotFound:         CategoryNotFound,
	CodeEntityExists:           CategoryConflict,
	CodeIllegalTransition:      CategoryBadRequest,
	CodeInvalidArgument:        CategoryBadRequest,
	CodePhaseBlocked:           CategoryBadRequest,
	CodeConcurrentModification: CategoryConflict,
	CodeConfigInvalid:          CategoryBadRequest,
}

// HTTPStatus returns the HTTP status code for a category.
func (c Category) HTTPStatus() int {
	switch c {
	case CategoryNotFound:
		return 404
	case CategoryBadRequest:
		return 400
	case CategoryConflict:
		return 409
	default:
		return 500
	}
}

// TrackError is the structured error type for phasetrack.
//
// The context fields are optional and only populated when they apply to the
// failure, so callers can render precise feedback without parsing What.
type TrackError struct {
	Code Code   `json:"code"`
	What string `json:"what"`
	Why  string `json:"why,omitempty"`
	Fix  string `json:"fix,omitempty"`

	EntityKind string `json:"entity_kind,omitempty"`
	EntityID   string `json:"entity_id,omitempty"`
	Phase      string `json:"phase,omitempty"`
	From       string `json:"from,omitempty"`
	To         string `json:"to,omitempty"`
	Reason     string `json:"reason,omitempty"`

	Cause error `json:"-"`
}

// Error implements the error interface.
func (e *TrackError) Error() string {
	var b strings.Builder
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString(": ")
		b.WriteString(e.Why)
	}
	if e.Cause != nil {
		b.WriteString(": ")
		b.WriteString(e.Cause.Error())
	}
	return b.String()
}

// Unwrap returns the underlying cause.
func (e *TrackError) Unwrap() error {
	return e.Cause
}

// UserMessage returns a user-friendly message for CLI output.
func (e *TrackError) UserMessage() string {
	var b strings.Builder
	b.WriteString("Error: ")
	b.WriteString(e.What)
	if e.Why != "" {
		b.WriteString("\n\nWhy: ")
		b.WriteString(e.Why)
	}
	if e.Fix != "" {
		b.WriteString("\n\nFix: ")
		b.WriteString(e.Fix)
	}
	return b.String()
}

// Category returns the error category for HTTP status mapping.
func (e *TrackError) Category() Category {
	if cat, ok := codeCategories[e.Code]; ok {
		return cat
	}
	return CategoryUnknown
}

// HTTPStatus returns the appropriate HTTP status code for this error.
func (e *TrackError) HTTPStatus() int {
	return e.Category().HTTPStatus()
}

// Details returns the populated context fields keyed by their JSON names.
func (e *TrackError) Details() map[string]string {
	d := make(map[string]string)
	add := func(k, v string) {
		if v != "" {
			d[k] = v
		}
	}
	add("entity_kind", e.EntityKind)
	add("entity_id", e.EntityID)
	add("phase", e.Phase)
	add("from", e.From)
	add("to", e.To)
	// An empty blocked reason is legal, so reason is always reported for PHASE_BLOCKED.
	if e.Reason != "" || e.Code == CodePhaseBlocked {
		d["reason"] = e.Reason
	}
	if len(d) == 0 {
		return nil
	}
	return d
}

// MarshalJSON implements json.Marshaler.
func (e *TrackError) MarshalJSON() ([]byte, error) {
	type alias TrackError
	aux := struct {
		*alias
		CauseMsg string `json:"cause,omitempty"`
	}{
		alias: (*alias)(e),
	}
	if e.Cause != nil {
		aux.CauseMsg = e.Cause.Error()
	}
	return json.Marshal(aux)
}

// Is reports whether target is a TrackError with the same code.
func (e *TrackError) Is(target error) bool {
	t, ok := target.(*TrackError)
	if !ok {
		return false
	}
	return e.Code == t.Code
}

// WithCause returns a copy of the error with the given cause.
func (e *TrackError) WithCause(err error) *TrackError {
	c := *e
	c.Cause = err
	return &c
}

// WithEntity returns a copy of the error annotated with the owning entity.
func (e *TrackError) WithEntity(kind, id string) *TrackError {
	c := *e
	c.EntityKind = kind
	c.EntityID = id
	return &c
}

// --- Error constructors ---

// ErrUnknownEntityKind returns an error for an unsupported entity kind.
func ErrUnknownEntityKind(kind string) *TrackError {
	return &TrackError{
		Code:       CodeUnknownEntityKind,
		What:       fmt.Sprintf("unknown entity kind %q", kind),
		Why:        "Entity kind must be one of task, sprint, project",
		EntityKind: kind,
	}
}

// ErrUnknownPhase returns an error for a phase outside the kind's sequence.
func ErrUnknownPhase(kind, phase string) *TrackError {
	return &TrackError{
		Code:       CodeUnknownPhase,
		What:       fmt.Sprintf("unknown phase %q for %s", phase, kind),
		Why:        fmt.Sprintf("Phase is not part of the %s phase sequence", kind),
		Fix:        fmt.Sprintf("Run 'phasetrack phases show %s <id>' to list valid phases", kind),
		EntityKind: kind,
		Phase:      phase,
	}
}

// ErrEntityNotFound returns an error when an entity doesn't exist.
func ErrEntityNotFound(kind, id string) *TrackError {
	return &TrackError{
		Code:       CodeEntityNotFound,
		What:       fmt.Sprintf("%s %s not found", kind, id),
		Why:        "No entity with this ID exists in the store",
		Fix:        fmt.Sprintf("Create it with 'phasetrack entity create %s %s'", kind, id),
		EntityKind: kind,
		EntityID:   id,
	}
}

// ErrEntityExists returns an error when creating an entity that already exists.
func ErrEntityExists(kind, id string) *TrackError {
	return &TrackError{
		Code:       CodeEntityExists,
		What:       fmt.Sprintf("%s %s already exists", kind, id),
		EntityKind: kind,
		EntityID:   id,
	}
}

// ErrIllegalTransition returns an error for a transition outside the phase graph.
func ErrIllegalTransition(phase, from, to string) *TrackError {
	return &TrackError{
		Code:  CodeIllegalTransition,
		What:  fmt.Sprintf("cannot move phase %s from %s to %s", phase, from, to),
		Why:   "The transition is not allowed by the phase state graph",
		Phase: phase,
		From:  from,
		To:    to,
	}
}

// ErrInvalidArgument returns an error for a missing or malformed argument.
func ErrInvalidArgument(field, reason string) *TrackError {
	return &TrackError{
		Code: CodeInvalidArgument,
		What: fmt.Sprintf("invalid argument: %s", field),
		Why:  reason,
	}
}

// ErrPhaseBlocked returns an error when advance reaches a blocked phase.
func ErrPhaseBlocked(phase, reason string) *TrackError {
	return &TrackError{
		Code:   CodePhaseBlocked,
		What:   fmt.Sprintf("phase %s is blocked", phase),
		Why:    reason,
		Fix:    "Unblock or skip the phase before advancing",
		Phase:  phase,
		Reason: reason,
	}
}

// ErrConcurrentModification returns an error when a save loses an optimistic lock.
func ErrConcurrentModification(kind, id string, expected int64) *TrackError {
	return &TrackError{
		Code:       CodeConcurrentModification,
		What:       fmt.Sprintf("%s %s was modified concurrently", kind, id),
		Why:        fmt.Sprintf("Stored version no longer matches expected version %d", expected),
		Fix:        "Reload the entity and retry the operation",
		EntityKind: kind,
		EntityID:   id,
	}
}

// ErrConfigInvalid returns an error for invalid configuration.
func ErrConfigInvalid(field, reason string) *TrackError {
	return &TrackError{
		Code: CodeConfigInvalid,
		What: fmt.Sprintf("invalid configuration: %s", field),
		Why:  reason,
		Fix:  "Check .phasetrack/config.yaml and fix the invalid field",
	}
}

// AsTrackError attempts to convert an error to a TrackError.
// Returns nil if the error is not a TrackError.
func AsTrackError(err error) *TrackError {
	var te *TrackError
	if stderrors.As(err, &te) {
		return te
	}
	return nil
}

// HasCode reports whether err carries a TrackError with the given code.
func HasCode(err error, code Code) bool {
	te := AsTrackError(err)
	return te != nil && te.Code == code
}
