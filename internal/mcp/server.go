// Package mcp exposes the phase tracking engine as MCP (Model Context
// Protocol) tools so AI assistants can read and drive entity phases.
package mcp

import (
	"context"
	"fmt"
	"log/slog"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"

	pterrors "github.com/randalmurphal/phasetrack/internal/errors"
	"github.com/randalmurphal/phasetrack/internal/phase"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// Server wraps the engine and exposes it as MCP tools.
type Server struct {
	server       *gomcp.Server
	engine       *tracker.Engine
	logger       *slog.Logger
	defaultLimit int
}

// Option configures a Server.
type Option func(*Server)

// WithLogger sets the logger for tool failures.
func WithLogger(l *slog.Logger) Option {
	return func(s *Server) {
		if l != nil {
			s.logger = l
		}
	}
}

// WithDefaultLimit sets the analytics limit used when a call passes none.
func WithDefaultLimit(n int) Option {
	return func(s *Server) { s.defaultLimit = n }
}

// NewServer creates a new MCP server over engine.
func NewServer(engine *tracker.Engine, version string, opts ...Option) *Server {
	if version == "" {
		version = "dev"
	}

	s := &Server{
		engine: engine,
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.server = gomcp.NewServer(
		&gomcp.Implementation{Name: "phasetrack", Version: version},
		nil,
	)

	s.registerTools()

	return s
}

// Run serves MCP over stdio, blocking until the client disconnects or the
// context is cancelled.
func (s *Server) Run(ctx context.Context) error {
	return s.server.Run(ctx, &gomcp.StdioTransport{})
}

// MCPServer returns the underlying mcp.Server for testing purposes.
func (s *Server) MCPServer() *gomcp.Server {
	return s.server
}

// --- Tool input/output types ---

type entityInput struct {
	Kind string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	ID   string `json:"id" jsonschema:"entity identifier"`
}

type createEntityInput struct {
	Kind string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	ID   string `json:"id,omitempty" jsonschema:"entity identifier; generated when omitted"`
}

type kindInput struct {
	Kind string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
}

type phaseInput struct {
	Kind  string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	ID    string `json:"id" jsonschema:"entity identifier"`
	Phase string `json:"phase" jsonschema:"phase name, e.g. research, planning, implementation, testing"`
}

type reasonInput struct {
	Kind   string  `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	ID     string  `json:"id" jsonschema:"entity identifier"`
	Phase  string  `json:"phase" jsonschema:"phase name"`
	Reason *string `json:"reason,omitempty" jsonschema:"why the phase is blocked or skipped; required, may be empty"`
}

type updatePhaseInput struct {
	Kind          string         `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	ID            string         `json:"id" jsonschema:"entity identifier"`
	Phase         string         `json:"phase" jsonschema:"phase name"`
	Status        *string        `json:"status,omitempty" jsonschema:"target status: in_progress, completed, blocked or skipped"`
	BlockedReason *string        `json:"blocked_reason,omitempty" jsonschema:"reason, only with status blocked"`
	SkipReason    *string        `json:"skip_reason,omitempty" jsonschema:"reason, only with status skipped"`
	CustomFields  map[string]any `json:"custom_fields,omitempty" jsonschema:"fields merged into the phase's custom fields"`
}

type phaseStatusInput struct {
	Kind   string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	Phase  string `json:"phase" jsonschema:"phase name"`
	Status string `json:"status" jsonschema:"not_started, in_progress, completed, skipped or blocked"`
}

type currentPhaseInput struct {
	Kind  string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	Phase string `json:"phase" jsonschema:"phase name"`
}

type customFieldInput struct {
	Kind  string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	Phase string `json:"phase" jsonschema:"phase name"`
	Path  string `json:"path" jsonschema:"dotted path into custom fields, e.g. review.round"`
	Value string `json:"value" jsonschema:"value to match against the field's string form"`
}

type analyticsInput struct {
	Kind  string `json:"kind" jsonschema:"entity kind: task, sprint or project"`
	Limit *int   `json:"limit,omitempty" jsonschema:"maximum entities to scan; 0 or less scans all"`
}

type allAnalyticsInput struct {
	Limit *int `json:"limit,omitempty" jsonschema:"maximum entities to scan per kind; 0 or less scans all"`
}

type phasesOutput struct {
	Kind   phase.EntityKind `json:"kind"`
	ID     string           `json:"id"`
	Phases phase.Set        `json:"phases"`
}

type idsOutput struct {
	Kind  phase.EntityKind `json:"kind"`
	IDs   []string         `json:"ids"`
	Count int              `json:"count"`
}

// --- Tool registration ---

func (s *Server) registerTools() {
	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "create_entity",
		Description: "Start tracking a task, sprint or project. Every phase begins not_started.",
	}, s.handleCreateEntity)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "delete_entity",
		Description: "Stop tracking an entity and discard its phases.",
	}, s.handleDeleteEntity)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "list_entities",
		Description: "List the IDs of every tracked entity of a kind.",
	}, s.handleListEntities)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_phases",
		Description: "Get every phase of an entity in sequence order.",
	}, s.handleGetPhases)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_phase",
		Description: "Get one phase of an entity.",
	}, s.handleGetPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "update_phase",
		Description: "Change a phase's status through the state machine and/or merge custom fields.",
	}, s.handleUpdatePhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "start_phase",
		Description: "Move a not_started or blocked phase to in_progress.",
	}, s.handleStartPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "complete_phase",
		Description: "Move an in_progress phase to completed.",
	}, s.handleCompletePhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "block_phase",
		Description: "Block an in_progress phase with a reason.",
	}, s.handleBlockPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "unblock_phase",
		Description: "Return a blocked phase to in_progress.",
	}, s.handleUnblockPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "skip_phase",
		Description: "Skip a phase that is not completed, with a reason.",
	}, s.handleSkipPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "advance_phases",
		Description: "Complete the current in_progress phase and start the next one. Fails if the current phase is blocked.",
	}, s.handleAdvance)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_phase_summary",
		Description: "Get an entity's current phase and completion percentage.",
	}, s.handleGetSummary)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_by_phase_status",
		Description: "Find entities whose named phase has the given status.",
	}, s.handleFindByPhaseStatus)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_blocked_phases",
		Description: "List every blocked phase of a kind with its reason.",
	}, s.handleFindBlocked)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_by_current_phase",
		Description: "Find entities whose current (first unfinished) phase is the named phase.",
	}, s.handleFindByCurrentPhase)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "find_by_custom_field",
		Description: "Find entities whose phase has a custom field at path equal to value.",
	}, s.handleFindByCustomField)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_phase_analytics",
		Description: "Aggregate phase statuses, blocked count and average completion for a kind.",
	}, s.handleGetAnalytics)

	gomcp.AddTool(s.server, &gomcp.Tool{
		Name:        "get_all_analytics",
		Description: "Phase analytics for every entity kind.",
	}, s.handleGetAllAnalytics)
}

// --- Tool handlers ---

func (s *Server) handleCreateEntity(ctx context.Context, _ *gomcp.CallToolRequest, in createEntityInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("create_entity", err), nil, nil
	}
	id, set, err := s.engine.CreateEntity(ctx, kind, in.ID)
	if err != nil {
		return s.errorResult("create_entity", err), nil, nil
	}
	return nil, phasesOutput{Kind: kind, ID: id, Phases: set}, nil
}

func (s *Server) handleDeleteEntity(ctx context.Context, _ *gomcp.CallToolRequest, in entityInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("delete_entity", err), nil, nil
	}
	if err := s.engine.DeleteEntity(ctx, kind, in.ID); err != nil {
		return s.errorResult("delete_entity", err), nil, nil
	}
	return nil, map[string]any{"kind": kind, "id": in.ID, "deleted": true}, nil
}

func (s *Server) handleListEntities(ctx context.Context, _ *gomcp.CallToolRequest, in kindInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("list_entities", err), nil, nil
	}
	ids, err := s.engine.ListEntities(ctx, kind)
	if err != nil {
		return s.errorResult("list_entities", err), nil, nil
	}
	return nil, newIDs(kind, ids), nil
}

func (s *Server) handleGetPhases(ctx context.Context, _ *gomcp.CallToolRequest, in entityInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("get_phases", err), nil, nil
	}
	set, err := s.engine.GetPhases(ctx, kind, in.ID)
	if err != nil {
		return s.errorResult("get_phases", err), nil, nil
	}
	return nil, phasesOutput{Kind: kind, ID: in.ID, Phases: set}, nil
}

func (s *Server) handleGetPhase(ctx context.Context, _ *gomcp.CallToolRequest, in phaseInput) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult("get_phase", err), nil, nil
	}
	rec, err := s.engine.GetPhase(ctx, kind, in.ID, name)
	if err != nil {
		return s.errorResult("get_phase", err), nil, nil
	}
	return nil, rec, nil
}

func (s *Server) handleUpdatePhase(ctx context.Context, _ *gomcp.CallToolRequest, in updatePhaseInput) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult("update_phase", err), nil, nil
	}
	u := tracker.PhaseUpdate{
		BlockedReason: in.BlockedReason,
		SkipReason:    in.SkipReason,
		CustomFields:  in.CustomFields,
	}
	if in.Status != nil {
		st := phase.Status(*in.Status)
		u.Status = &st
	}
	set, err := s.engine.UpdatePhase(ctx, kind, in.ID, name, u)
	if err != nil {
		return s.errorResult("update_phase", err), nil, nil
	}
	return nil, phasesOutput{Kind: kind, ID: in.ID, Phases: set}, nil
}

// transition runs one single-phase engine operation and renders the result.
func (s *Server) transition(tool string, in phaseInput, fn func(phase.EntityKind, phase.Name) (phase.Set, error)) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult(tool, err), nil, nil
	}
	set, err := fn(kind, name)
	if err != nil {
		return s.errorResult(tool, err), nil, nil
	}
	return nil, phasesOutput{Kind: kind, ID: in.ID, Phases: set}, nil
}

func (s *Server) handleStartPhase(ctx context.Context, _ *gomcp.CallToolRequest, in phaseInput) (*gomcp.CallToolResult, any, error) {
	return s.transition("start_phase", in, func(kind phase.EntityKind, name phase.Name) (phase.Set, error) {
		return s.engine.StartPhase(ctx, kind, in.ID, name)
	})
}

func (s *Server) handleCompletePhase(ctx context.Context, _ *gomcp.CallToolRequest, in phaseInput) (*gomcp.CallToolResult, any, error) {
	return s.transition("complete_phase", in, func(kind phase.EntityKind, name phase.Name) (phase.Set, error) {
		return s.engine.CompletePhase(ctx, kind, in.ID, name)
	})
}

func (s *Server) handleBlockPhase(ctx context.Context, _ *gomcp.CallToolRequest, in reasonInput) (*gomcp.CallToolResult, any, error) {
	return s.transition("block_phase", phaseInput{Kind: in.Kind, ID: in.ID, Phase: in.Phase}, func(kind phase.EntityKind, name phase.Name) (phase.Set, error) {
		return s.engine.BlockPhase(ctx, kind, in.ID, name, in.Reason)
	})
}

func (s *Server) handleUnblockPhase(ctx context.Context, _ *gomcp.CallToolRequest, in phaseInput) (*gomcp.CallToolResult, any, error) {
	return s.transition("unblock_phase", in, func(kind phase.EntityKind, name phase.Name) (phase.Set, error) {
		return s.engine.UnblockPhase(ctx, kind, in.ID, name)
	})
}

func (s *Server) handleSkipPhase(ctx context.Context, _ *gomcp.CallToolRequest, in reasonInput) (*gomcp.CallToolResult, any, error) {
	return s.transition("skip_phase", phaseInput{Kind: in.Kind, ID: in.ID, Phase: in.Phase}, func(kind phase.EntityKind, name phase.Name) (phase.Set, error) {
		return s.engine.SkipPhase(ctx, kind, in.ID, name, in.Reason)
	})
}

func (s *Server) handleAdvance(ctx context.Context, _ *gomcp.CallToolRequest, in entityInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("advance_phases", err), nil, nil
	}
	set, err := s.engine.Advance(ctx, kind, in.ID)
	if err != nil {
		return s.errorResult("advance_phases", err), nil, nil
	}
	return nil, phasesOutput{Kind: kind, ID: in.ID, Phases: set}, nil
}

func (s *Server) handleGetSummary(ctx context.Context, _ *gomcp.CallToolRequest, in entityInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("get_phase_summary", err), nil, nil
	}
	sum, err := s.engine.GetPhaseSummary(ctx, kind, in.ID)
	if err != nil {
		return s.errorResult("get_phase_summary", err), nil, nil
	}
	return nil, sum, nil
}

func (s *Server) handleFindByPhaseStatus(ctx context.Context, _ *gomcp.CallToolRequest, in phaseStatusInput) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult("find_by_phase_status", err), nil, nil
	}
	st, err := phase.ParseStatus(in.Status)
	if err != nil {
		return s.errorResult("find_by_phase_status", err), nil, nil
	}
	ids, err := s.engine.FindByPhaseStatus(ctx, kind, name, st)
	if err != nil {
		return s.errorResult("find_by_phase_status", err), nil, nil
	}
	return nil, newIDs(kind, ids), nil
}

func (s *Server) handleFindBlocked(ctx context.Context, _ *gomcp.CallToolRequest, in kindInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("find_blocked_phases", err), nil, nil
	}
	blocked, err := s.engine.FindWithBlockedPhase(ctx, kind)
	if err != nil {
		return s.errorResult("find_blocked_phases", err), nil, nil
	}
	if blocked == nil {
		blocked = []tracker.BlockedPhase{}
	}
	return nil, map[string]any{"kind": kind, "blocked": blocked, "count": len(blocked)}, nil
}

func (s *Server) handleFindByCurrentPhase(ctx context.Context, _ *gomcp.CallToolRequest, in currentPhaseInput) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult("find_by_current_phase", err), nil, nil
	}
	ids, err := s.engine.FindByCurrentPhase(ctx, kind, name)
	if err != nil {
		return s.errorResult("find_by_current_phase", err), nil, nil
	}
	return nil, newIDs(kind, ids), nil
}

func (s *Server) handleFindByCustomField(ctx context.Context, _ *gomcp.CallToolRequest, in customFieldInput) (*gomcp.CallToolResult, any, error) {
	kind, name, err := parseTarget(in.Kind, in.Phase)
	if err != nil {
		return s.errorResult("find_by_custom_field", err), nil, nil
	}
	ids, err := s.engine.FindByCustomField(ctx, kind, name, in.Path, in.Value)
	if err != nil {
		return s.errorResult("find_by_custom_field", err), nil, nil
	}
	return nil, newIDs(kind, ids), nil
}

func (s *Server) handleGetAnalytics(ctx context.Context, _ *gomcp.CallToolRequest, in analyticsInput) (*gomcp.CallToolResult, any, error) {
	kind, err := phase.ParseEntityKind(in.Kind)
	if err != nil {
		return s.errorResult("get_phase_analytics", err), nil, nil
	}
	a, err := s.engine.GetPhaseAnalytics(ctx, kind, s.limit(in.Limit))
	if err != nil {
		return s.errorResult("get_phase_analytics", err), nil, nil
	}
	return nil, a, nil
}

func (s *Server) handleGetAllAnalytics(ctx context.Context, _ *gomcp.CallToolRequest, in allAnalyticsInput) (*gomcp.CallToolResult, any, error) {
	all, err := s.engine.GetAllAnalytics(ctx, s.limit(in.Limit))
	if err != nil {
		return s.errorResult("get_all_analytics", err), nil, nil
	}
	return nil, all, nil
}

// --- Helpers ---

func parseTarget(kindStr, phaseStr string) (phase.EntityKind, phase.Name, error) {
	kind, err := phase.ParseEntityKind(kindStr)
	if err != nil {
		return "", "", err
	}
	name, err := phase.ParseName(kind, phaseStr)
	if err != nil {
		return "", "", err
	}
	return kind, name, nil
}

func (s *Server) limit(n *int) int {
	if n == nil {
		return s.defaultLimit
	}
	return *n
}

func newIDs(kind phase.EntityKind, ids []string) idsOutput {
	if ids == nil {
		ids = []string{}
	}
	return idsOutput{Kind: kind, IDs: ids, Count: len(ids)}
}

// errorResult renders err as a tool error. TrackErrors are prefixed with
// their code so callers can branch on it.
func (s *Server) errorResult(tool string, err error) *gomcp.CallToolResult {
	msg := err.Error()
	if te := pterrors.AsTrackError(err); te != nil {
		msg = fmt.Sprintf("%s: %s", te.Code, te.Error())
	} else {
		s.logger.Error("mcp tool failed", "tool", tool, "error", err)
	}
	return &gomcp.CallToolResult{
		Content: []gomcp.Content{&gomcp.TextContent{Text: msg}},
		IsError: true,
	}
}
