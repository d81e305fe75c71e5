package mcp

import (
	"context"
	"encoding/json"
	"log/slog"
	"strings"
	"testing"

	gomcp "github.com/modelcontextprotocol/go-sdk/mcp"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/phasetrack/internal/storage"
	"github.com/randalmurphal/phasetrack/internal/tracker"
)

// connect starts srv on an in-memory transport and returns a client session.
func connect(t *testing.T, srv *Server) *gomcp.ClientSession {
	t.Helper()

	ctx, cancel := context.WithCancel(context.Background())
	client := gomcp.NewClient(&gomcp.Implementation{Name: "test-client", Version: "v0.0.1"}, nil)
	t1, t2 := gomcp.NewInMemoryTransports()

	go func() {
		_ = srv.MCPServer().Run(ctx, t1)
	}()

	session, err := client.Connect(ctx, t2, nil)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = session.Close()
		cancel()
	})
	return session
}

func newSession(t *testing.T) *gomcp.ClientSession {
	t.Helper()
	logger := slog.New(slog.DiscardHandler)
	eng := tracker.New(storage.NewMemoryStore(), tracker.WithLogger(logger))
	return connect(t, NewServer(eng, "test", WithLogger(logger)))
}

func call(t *testing.T, session *gomcp.ClientSession, tool string, args map[string]any) *gomcp.CallToolResult {
	t.Helper()
	result, err := session.CallTool(context.Background(), &gomcp.CallToolParams{
		Name:      tool,
		Arguments: args,
	})
	require.NoError(t, err, tool)
	return result
}

func extractText(result *gomcp.CallToolResult) string {
	var b strings.Builder
	for _, c := range result.Content {
		if tc, ok := c.(*gomcp.TextContent); ok {
			b.WriteString(tc.Text)
		}
	}
	return b.String()
}

// callOK calls tool, requires success and decodes the JSON output.
func callOK[T any](t *testing.T, session *gomcp.ClientSession, tool string, args map[string]any) T {
	t.Helper()
	result := call(t, session, tool, args)
	require.False(t, result.IsError, "%s: %s", tool, extractText(result))
	var out T
	require.NoError(t, json.Unmarshal([]byte(extractText(result)), &out))
	return out
}

// callErr calls tool and requires a tool error carrying code.
func callErr(t *testing.T, session *gomcp.ClientSession, tool string, args map[string]any, code string) {
	t.Helper()
	result := call(t, session, tool, args)
	require.True(t, result.IsError, "%s should fail", tool)
	assert.True(t, strings.HasPrefix(extractText(result), code+":"), extractText(result))
}

type phasesResult struct {
	Kind   string                    `json:"kind"`
	ID     string                    `json:"id"`
	Phases map[string]map[string]any `json:"phases"`
}

type idsResult struct {
	IDs   []string `json:"ids"`
	Count int      `json:"count"`
}

func TestListTools(t *testing.T) {
	t.Parallel()
	session := newSession(t)

	res, err := session.ListTools(context.Background(), nil)
	require.NoError(t, err)

	var names []string
	for _, tool := range res.Tools {
		names = append(names, tool.Name)
	}
	for _, want := range []string{
		"create_entity", "get_phases", "get_phase", "update_phase",
		"start_phase", "complete_phase", "block_phase", "unblock_phase", "skip_phase",
		"advance_phases", "get_phase_summary", "find_by_phase_status",
		"find_blocked_phases", "find_by_current_phase", "get_phase_analytics",
	} {
		assert.Contains(t, names, want)
	}
}

func TestPhaseWorkflow(t *testing.T) {
	t.Parallel()
	session := newSession(t)

	created := callOK[phasesResult](t, session, "create_entity", map[string]any{"kind": "project", "id": "P1"})
	assert.Equal(t, "P1", created.ID)
	assert.Len(t, created.Phases, 2)

	callErr(t, session, "create_entity", map[string]any{"kind": "project", "id": "P1"}, "ENTITY_EXISTS")

	out := callOK[phasesResult](t, session, "advance_phases", map[string]any{"kind": "project", "id": "P1"})
	assert.Equal(t, "in_progress", out.Phases["research"]["status"])

	out = callOK[phasesResult](t, session, "block_phase", map[string]any{
		"kind": "project", "id": "P1", "phase": "research", "reason": "budget",
	})
	assert.Equal(t, "blocked", out.Phases["research"]["status"])
	assert.Equal(t, "budget", out.Phases["research"]["blocked_reason"])

	callErr(t, session, "advance_phases", map[string]any{"kind": "project", "id": "P1"}, "PHASE_BLOCKED")

	blocked := callOK[struct {
		Count int `json:"count"`
	}](t, session, "find_blocked_phases", map[string]any{"kind": "project"})
	assert.Equal(t, 1, blocked.Count)

	callOK[phasesResult](t, session, "unblock_phase", map[string]any{"kind": "project", "id": "P1", "phase": "research"})
	callOK[phasesResult](t, session, "complete_phase", map[string]any{"kind": "project", "id": "P1", "phase": "research"})
	out = callOK[phasesResult](t, session, "skip_phase", map[string]any{
		"kind": "project", "id": "P1", "phase": "planning", "reason": "",
	})
	assert.Equal(t, "skipped", out.Phases["planning"]["status"])

	sum := callOK[tracker.Summary](t, session, "get_phase_summary", map[string]any{"kind": "project", "id": "P1"})
	assert.Nil(t, sum.CurrentPhase)
	assert.Equal(t, 50.0, sum.CompletionPct)
}

func TestReasonOmitted(t *testing.T) {
	t.Parallel()
	session := newSession(t)
	callOK[phasesResult](t, session, "create_entity", map[string]any{"kind": "sprint", "id": "S1"})
	callOK[phasesResult](t, session, "start_phase", map[string]any{"kind": "sprint", "id": "S1", "phase": "planning"})

	callErr(t, session, "block_phase", map[string]any{"kind": "sprint", "id": "S1", "phase": "planning"}, "INVALID_ARGUMENT")
	callErr(t, session, "skip_phase", map[string]any{"kind": "sprint", "id": "S1", "phase": "implementation"}, "INVALID_ARGUMENT")

	out := callOK[phasesResult](t, session, "get_phases", map[string]any{"kind": "sprint", "id": "S1"})
	assert.Equal(t, "in_progress", out.Phases["planning"]["status"])
	assert.Equal(t, "not_started", out.Phases["implementation"]["status"])
}

func TestUpdatePhaseAndGetPhase(t *testing.T) {
	t.Parallel()
	session := newSession(t)
	callOK[phasesResult](t, session, "create_entity", map[string]any{"kind": "task", "id": "T1"})

	callOK[phasesResult](t, session, "update_phase", map[string]any{
		"kind": "task", "id": "T1", "phase": "research",
		"status":        "in_progress",
		"custom_fields": map[string]any{"owner": "kim"},
	})

	rec := callOK[map[string]any](t, session, "get_phase", map[string]any{"kind": "task", "id": "T1", "phase": "research"})
	assert.Equal(t, "in_progress", rec["status"])
	assert.Equal(t, map[string]any{"owner": "kim"}, rec["custom_fields"])

	callErr(t, session, "update_phase", map[string]any{
		"kind": "task", "id": "T1", "phase": "research",
		"status": "completed", "blocked_reason": "nope",
	}, "INVALID_ARGUMENT")

	callErr(t, session, "get_phase", map[string]any{"kind": "task", "id": "T1", "phase": "deploy"}, "UNKNOWN_PHASE")
	callErr(t, session, "get_phases", map[string]any{"kind": "epic", "id": "T1"}, "UNKNOWN_ENTITY_KIND")
	callErr(t, session, "get_phases", map[string]any{"kind": "task", "id": "T9"}, "ENTITY_NOT_FOUND")
}

func TestQueriesAndAnalytics(t *testing.T) {
	t.Parallel()
	session := newSession(t)
	for _, id := range []string{"S1", "S2"} {
		callOK[phasesResult](t, session, "create_entity", map[string]any{"kind": "sprint", "id": id})
	}
	callOK[phasesResult](t, session, "start_phase", map[string]any{"kind": "sprint", "id": "S2", "phase": "planning"})
	callOK[phasesResult](t, session, "update_phase", map[string]any{
		"kind": "sprint", "id": "S2", "phase": "planning",
		"custom_fields": map[string]any{"goal": "ship"},
	})

	ids := callOK[idsResult](t, session, "find_by_phase_status", map[string]any{
		"kind": "sprint", "phase": "planning", "status": "not_started",
	})
	assert.Equal(t, []string{"S1"}, ids.IDs)

	ids = callOK[idsResult](t, session, "find_by_current_phase", map[string]any{"kind": "sprint", "phase": "planning"})
	assert.Equal(t, []string{"S1", "S2"}, ids.IDs)

	ids = callOK[idsResult](t, session, "find_by_custom_field", map[string]any{
		"kind": "sprint", "phase": "planning", "path": "goal", "value": "ship",
	})
	assert.Equal(t, []string{"S2"}, ids.IDs)

	ids = callOK[idsResult](t, session, "list_entities", map[string]any{"kind": "sprint"})
	assert.Equal(t, 2, ids.Count)

	a := callOK[tracker.Analytics](t, session, "get_phase_analytics", map[string]any{"kind": "sprint"})
	assert.Equal(t, 2, a.TotalEntities)
	assert.Equal(t, 1, a.ByPhase["planning"]["in_progress"])

	a = callOK[tracker.Analytics](t, session, "get_phase_analytics", map[string]any{"kind": "sprint", "limit": 1})
	assert.Equal(t, 1, a.TotalEntities)

	all := callOK[map[string]tracker.Analytics](t, session, "get_all_analytics", map[string]any{})
	assert.Len(t, all, 3)

	callOK[map[string]any](t, session, "delete_entity", map[string]any{"kind": "sprint", "id": "S1"})
	ids = callOK[idsResult](t, session, "list_entities", map[string]any{"kind": "sprint"})
	assert.Equal(t, []string{"S2"}, ids.IDs)
}
