package api

import (
	"net/http"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// queryPhase reads the required ?phase parameter.
func queryPhase(r *http.Request, kind phase.EntityKind) (phase.Name, error) {
	raw := r.URL.Query().Get("phase")
	if raw == "" {
		return "", pterrors.ErrInvalidArgument("phase", "the phase query parameter is required")
	}
	return phase.ParseName(kind, raw)
}

func (s *Server) handleFindByStatus(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	name, err := queryPhase(r, kind)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	st, err := phase.ParseStatus(r.URL.Query().Get("status"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	ids, err := s.engine.FindByPhaseStatus(r.Context(), kind, name, st)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, idsResponse(kind, ids))
}

func (s *Server) handleFindBlocked(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	blocked, err := s.engine.FindWithBlockedPhase(r.Context(), kind)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if blocked == nil {
		blocked = []tracker.BlockedPhase{}
	}
	JSONResponse(w, map[string]any{"kind": kind, "blocked": blocked})
}

func (s *Server) handleFindByCurrent(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	name, err := queryPhase(r, kind)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	ids, err := s.engine.FindByCurrentPhase(r.Context(), kind, name)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, idsResponse(kind, ids))
}

func (s *Server) handleFindByCustomField(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	name, err := queryPhase(r, kind)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	q := r.URL.Query()
	ids, err := s.engine.FindByCustomField(r.Context(), kind, name, q.Get("path"), q.Get("value"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, idsResponse(kind, ids))
}

func (s *Server) handleAnalytics(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	limit, err := queryLimit(r, s.defaultLimit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	a, err := s.engine.GetPhaseAnalytics(r.Context(), kind, limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, a)
}

func (s *Server) handleAllAnalytics(w http.ResponseWriter, r *http.Request) {
	limit, err := queryLimit(r, s.defaultLimit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	all, err := s.engine.GetAllAnalytics(r.Context(), limit)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, all)
}
