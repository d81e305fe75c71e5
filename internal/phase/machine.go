package phase

import (
	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// allowedTransitions is the phase state graph. Terminal statuses have no
// outgoing edges.
var allowedTransitions = map[Status]map[Status]struct{}{
	StatusNotStarted: {
		StatusInProgress: {},
		StatusSkipped:    {},
	},
	StatusInProgress: {
		StatusCompleted: {},
		StatusBlocked:   {},
		StatusSkipped:   {},
	},
	StatusBlocked: {
		StatusInProgress: {},
		StatusSkipped:    {},
	},
	StatusCompleted: {},
	StatusSkipped:   {},
}

// CanTransition reports whether the graph has an edge from -> to.
func CanTransition(from, to Status) bool {
	_, ok := allowedTransitions[from][to]
	return ok
}

// checkFrom fails with an illegal transition unless r is in one of the given
// source statuses and the graph allows the move to target.
func checkFrom(name Name, r Record, target Status, from ...Status) error {
	for _, s := range from {
		if r.Status == s && CanTransition(s, target) {
			return nil
		}
	}
	return pterrors.ErrIllegalTransition(string(name), string(r.Status), string(target))
}

// Start moves a not_started or blocked phase to in_progress.
// started_at is only set the first time the phase starts.
func Start(name Name, r Record) (Record, error) {
	if err := checkFrom(name, r, StatusInProgress, StatusNotStarted, StatusBlocked); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Status = StatusInProgress
	out.BlockedReason = nil
	if out.StartedAt == nil {
		out.StartedAt = ptr(timeNow().UTC())
	}
	return out, nil
}

// Complete moves an in_progress phase to completed.
func Complete(name Name, r Record) (Record, error) {
	if err := checkFrom(name, r, StatusCompleted, StatusInProgress); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Status = StatusCompleted
	out.CompletedAt = ptr(timeNow().UTC())
	return out, nil
}

// Block moves an in_progress phase to blocked. reason must be non-nil; an
// empty reason is accepted.
func Block(name Name, r Record, reason *string) (Record, error) {
	if reason == nil {
		return r, requiredReason("blocked_reason", name)
	}
	if err := checkFrom(name, r, StatusBlocked, StatusInProgress); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Status = StatusBlocked
	out.BlockedReason = ptr(*reason)
	return out, nil
}

// Unblock moves a blocked phase back to in_progress.
func Unblock(name Name, r Record) (Record, error) {
	if err := checkFrom(name, r, StatusInProgress, StatusBlocked); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Status = StatusInProgress
	out.BlockedReason = nil
	return out, nil
}

// Skip moves a not_started, in_progress or blocked phase to skipped.
// Skipping an already skipped phase is an illegal transition.
func Skip(name Name, r Record, reason *string) (Record, error) {
	if reason == nil {
		return r, requiredReason("skip_reason", name)
	}
	if err := checkFrom(name, r, StatusSkipped, StatusNotStarted, StatusInProgress, StatusBlocked); err != nil {
		return r, err
	}
	out := r.Clone()
	out.Status = StatusSkipped
	out.BlockedReason = nil
	out.SkipReason = ptr(*reason)
	return out, nil
}

// SetStatus dispatches to the operation that reaches target. reason is only
// consulted for blocked and skipped, where it is required.
func SetStatus(name Name, r Record, target Status, reason *string) (Record, error) {
	switch target {
	case StatusInProgress:
		return Start(name, r)
	case StatusCompleted:
		return Complete(name, r)
	case StatusBlocked:
		return Block(name, r, reason)
	case StatusSkipped:
		return Skip(name, r, reason)
	case StatusNotStarted:
		// No edge leads back to not_started.
		return r, pterrors.ErrIllegalTransition(string(name), string(r.Status), string(target))
	default:
		return r, pterrors.ErrInvalidArgument("status", "unknown status "+string(target))
	}
}

func requiredReason(field string, name Name) error {
	e := pterrors.ErrInvalidArgument(field, "a reason must be provided (it may be empty)")
	e.Phase = string(name)
	return e
}
