package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// EntityResponse is returned when an entity is created.
type EntityResponse struct {
	Kind   phase.EntityKind `json:"kind"`
	ID     string           `json:"id"`
	Phases phase.Set        `json:"phases"`
}

// IDsResponse is returned by queries that yield entity IDs.
type IDsResponse struct {
	Kind phase.EntityKind `json:"kind"`
	IDs  []string         `json:"ids"`
}

// ReasonRequest is the body of block and skip requests. Reason must be
// present; an empty string is accepted.
type ReasonRequest struct {
	Reason *string `json:"reason"`
}

// CreateEntityRequest is the optional body of an entity create request.
type CreateEntityRequest struct {
	ID string `json:"id,omitempty"`
}

// decodeBody decodes an optional JSON body into v. An empty body leaves v
// untouched.
func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return pterrors.ErrInvalidArgument("body", "request body is not valid JSON for this endpoint").WithCause(err)
	}
	return nil
}

func pathKind(r *http.Request) (phase.EntityKind, error) {
	return phase.ParseEntityKind(r.PathValue("kind"))
}

// pathTarget parses kind, id and phase from the route.
func pathTarget(r *http.Request) (phase.EntityKind, string, phase.Name, error) {
	kind, err := pathKind(r)
	if err != nil {
		return "", "", "", err
	}
	name, err := phase.ParseName(kind, r.PathValue("phase"))
	if err != nil {
		return "", "", "", err
	}
	return kind, r.PathValue("id"), name, nil
}

func idsResponse(kind phase.EntityKind, ids []string) IDsResponse {
	if ids == nil {
		ids = []string{}
	}
	return IDsResponse{Kind: kind, IDs: ids}
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	ids, err := s.engine.ListEntities(r.Context(), kind)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, idsResponse(kind, ids))
}

func (s *Server) handleCreateEntity(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	var req CreateEntityRequest
	if err := decodeBody(r, &req); err != nil {
		s.handleError(w, r, err)
		return
	}
	id, set, err := s.engine.CreateEntity(r.Context(), kind, req.ID)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponseStatus(w, EntityResponse{Kind: kind, ID: id, Phases: set}, http.StatusCreated)
}

func (s *Server) handleDeleteEntity(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	if err := s.engine.DeleteEntity(r.Context(), kind, r.PathValue("id")); err != nil {
		s.handleError(w, r, err)
		return
	}
	NoContent(w)
}

func (s *Server) handleGetPhases(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	set, err := s.engine.GetPhases(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, set)
}

func (s *Server) handleGetSummary(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	sum, err := s.engine.GetPhaseSummary(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, sum)
}

func (s *Server) handleGetPhase(w http.ResponseWriter, r *http.Request) {
	kind, id, name, err := pathTarget(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	rec, err := s.engine.GetPhase(r.Context(), kind, id, name)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, rec)
}

func (s *Server) handleUpdatePhase(w http.ResponseWriter, r *http.Request) {
	kind, id, name, err := pathTarget(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	var u tracker.PhaseUpdate
	if err := decodeBody(r, &u); err != nil {
		s.handleError(w, r, err)
		return
	}
	set, err := s.engine.UpdatePhase(r.Context(), kind, id, name, u)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, set)
}

func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request) {
	kind, err := pathKind(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	set, err := s.engine.Advance(r.Context(), kind, r.PathValue("id"))
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, set)
}

// transitionFunc is one of the engine's single-phase operations.
type transitionFunc func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error)

func (s *Server) handleTransition(w http.ResponseWriter, r *http.Request, fn transitionFunc) {
	kind, id, name, err := pathTarget(r)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	set, err := fn(r, kind, id, name)
	if err != nil {
		s.handleError(w, r, err)
		return
	}
	JSONResponse(w, set)
}

func (s *Server) handleStartPhase(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
		return s.engine.StartPhase(r.Context(), kind, id, name)
	})
}

func (s *Server) handleCompletePhase(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
		return s.engine.CompletePhase(r.Context(), kind, id, name)
	})
}

func (s *Server) handleBlockPhase(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
		var req ReasonRequest
		if err := decodeBody(r, &req); err != nil {
			return phase.Set{}, err
		}
		return s.engine.BlockPhase(r.Context(), kind, id, name, req.Reason)
	})
}

func (s *Server) handleUnblockPhase(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
		return s.engine.UnblockPhase(r.Context(), kind, id, name)
	})
}

func (s *Server) handleSkipPhase(w http.ResponseWriter, r *http.Request) {
	s.handleTransition(w, r, func(r *http.Request, kind phase.EntityKind, id string, name phase.Name) (phase.Set, error) {
		var req ReasonRequest
		if err := decodeBody(r, &req); err != nil {
			return phase.Set{}, err
		}
		return s.engine.SkipPhase(r.Context(), kind, id, name, req.Reason)
	})
}

// queryLimit reads ?limit, falling back to def when absent.
func queryLimit(r *http.Request, def int) (int, error) {
	raw := r.URL.Query().Get("limit")
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, pterrors.ErrInvalidArgument("limit", "limit must be an integer")
	}
	return n, nil
}
