package phase

import (
	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
)

// Advance moves s to its next logical state.
//
// The current phase (first non-terminal one) is started if it has not been
// started, or completed if it is in progress, after which the next
// not_started phase is started. A blocked current phase fails with
// PHASE_BLOCKED and s is returned unchanged. When every phase is terminal
// Advance is a no-op.
func Advance(s Set) (Set, error) {
	cur, ok := s.Current()
	if !ok {
		return s, nil
	}
	r := s.records[cur]

	switch r.Status {
	case StatusNotStarted:
		return s.Apply(cur, Start)
	case StatusBlocked:
		reason := ""
		if r.BlockedReason != nil {
			reason = *r.BlockedReason
		}
		return s, pterrors.ErrPhaseBlocked(string(cur), reason)
	case StatusInProgress:
		out, err := s.Apply(cur, Complete)
		if err != nil {
			return s, err
		}
		next, ok := out.Current()
		// A later phase that was started or blocked out of order is left as is.
		if !ok || out.records[next].Status != StatusNotStarted {
			return out, nil
		}
		out, err = out.Apply(next, Start)
		if err != nil {
			return s, err
		}
		return out, nil
	default:
		return s, pterrors.ErrIllegalTransition(string(cur), string(r.Status), string(StatusInProgress))
	}
}
