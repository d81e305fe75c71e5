package api

import (
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func dialWS(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + "/api/ws"
	conn, resp, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	if resp != nil && resp.Body != nil {
		_ = resp.Body.Close()
	}
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func readJSON(t *testing.T, conn *websocket.Conn) map[string]any {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	var msg map[string]any
	require.NoError(t, conn.ReadJSON(&msg))
	return msg
}

func post(t *testing.T, ts *httptest.Server, path, body string) {
	t.Helper()
	resp, err := http.Post(ts.URL+path, "application/json", strings.NewReader(body))
	require.NoError(t, err)
	_ = resp.Body.Close()
	require.Less(t, resp.StatusCode, 300, path)
}

func TestWebSocket_PingAndErrors(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Key: "epic/E1"}))
	msg := readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "dance"}))
	msg = readJSON(t, conn)
	assert.Equal(t, "error", msg["type"])
	assert.Contains(t, msg["error"], "dance")

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	assert.Equal(t, "error", readJSON(t, conn)["type"])
}

func TestWebSocket_ForwardsEntityEvents(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Key: "task/T1"}))
	ack := readJSON(t, conn)
	require.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, "task/T1", ack["key"])

	// Events for other entities are not delivered.
	post(t, ts, "/api/entities/task", `{"id":"T2"}`)
	post(t, ts, "/api/entities/task", `{"id":"T1"}`)
	post(t, ts, "/api/phases/task/T1/research/start", "")

	created := readJSON(t, conn)
	assert.Equal(t, "event", created["type"])
	assert.Equal(t, "entity_created", created["event"])
	assert.Equal(t, "task/T1", created["key"])

	changed := readJSON(t, conn)
	assert.Equal(t, "phase_changed", changed["event"])
	data := changed["data"].(map[string]any)
	assert.Equal(t, "research", data["phase"])
	assert.Equal(t, "not_started", data["from"])
	assert.Equal(t, "in_progress", data["to"])
}

func TestWebSocket_KindSubscription(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Key: "sprint/*"}))
	require.Equal(t, "subscribed", readJSON(t, conn)["type"])

	post(t, ts, "/api/entities/task", `{"id":"T1"}`)
	post(t, ts, "/api/entities/sprint", `{"id":"S1"}`)

	msg := readJSON(t, conn)
	assert.Equal(t, "entity_created", msg["event"])
	assert.Equal(t, "sprint/S1", msg["key"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "unsubscribe"}))
	assert.Equal(t, "unsubscribed", readJSON(t, conn)["type"])
}

func TestWebSocket_Resubscribe(t *testing.T) {
	t.Parallel()
	ts := httptest.NewServer(newTestServer(t).Handler())
	defer ts.Close()
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Key: "sprint/*"}))
	require.Equal(t, "subscribed", readJSON(t, conn)["type"])
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "subscribe", Key: "task/*"}))
	ack := readJSON(t, conn)
	require.Equal(t, "subscribed", ack["type"])
	assert.Equal(t, "task/*", ack["key"])

	// The sprint subscription was replaced, so only the task event arrives.
	post(t, ts, "/api/entities/sprint", `{"id":"S1"}`)
	post(t, ts, "/api/entities/task", `{"id":"T1"}`)
	msg := readJSON(t, conn)
	assert.Equal(t, "entity_created", msg["event"])
	assert.Equal(t, "task/T1", msg["key"])

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "unsubscribe"}))
	require.Equal(t, "unsubscribed", readJSON(t, conn)["type"])

	post(t, ts, "/api/entities/task", `{"id":"T2"}`)
	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	assert.Equal(t, "pong", readJSON(t, conn)["type"])
}

func TestWSHandler_CloseDropsConnections(t *testing.T) {
	t.Parallel()
	s := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()
	conn := dialWS(t, ts)

	require.NoError(t, conn.WriteJSON(WSMessage{Type: "ping"}))
	readJSON(t, conn)
	assert.Equal(t, 1, s.wsHandler.ConnectionCount())

	s.wsHandler.Close()
	assert.Equal(t, 0, s.wsHandler.ConnectionCount())

	require.NoError(t, conn.SetReadDeadline(time.Now().Add(5*time.Second)))
	_, _, err := conn.ReadMessage()
	assert.Error(t, err)
}

func TestValidKey(t *testing.T) {
	t.Parallel()

	for key, want := range map[string]bool{
		"*":         true,
		"task/*":    true,
		"task/T1":   true,
		"project/a": true,
		"task/":     false,
		"task":      false,
		"epic/E1":   false,
		"":          false,
	} {
		assert.Equal(t, want, validKey(key), key)
	}
}
