package api

import (
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/randalmurphal/phasetrack/internal/events"
	"github.com/randalmurphal/phasetrack/internal/phase"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10 // must be less than pongWait
	maxMessageSize = 64 * 1024
	sendBuffer     = 256
)

// WSMessage is a client to server WebSocket message.
type WSMessage struct {
	Type string `json:"type"` // subscribe, unsubscribe, ping
	Key  string `json:"key,omitempty"`
}

// wsReply acknowledges a client message.
type wsReply struct {
	Type  string `json:"type"`
	Key   string `json:"key,omitempty"`
	Error string `json:"error,omitempty"`
}

// wsEvent carries one published event to the client.
type wsEvent struct {
	Type  string    `json:"type"`
	Event string    `json:"event"`
	Key   string    `json:"key"`
	Data  any       `json:"data"`
	Time  time.Time `json:"time"`
}

// WSHandler upgrades /api/ws requests and streams phase events to clients.
type WSHandler struct {
	upgrader  websocket.Upgrader
	publisher events.Publisher
	logger    *slog.Logger

	mu      sync.Mutex
	clients map[*wsClient]struct{}
}

// wsClient is one connected socket. sub is the active subscription, nil
// when the client is not subscribed.
type wsClient struct {
	conn   *websocket.Conn
	send   chan []byte
	closed chan struct{}
	once   sync.Once

	mu  sync.Mutex
	sub *subscription
}

// subscription is one publisher channel owned by a client. stop is closed
// when the client replaces or drops it.
type subscription struct {
	key    string
	events <-chan events.Event
	stop   chan struct{}
}

// NewWSHandler creates a new WebSocket handler.
func NewWSHandler(pub events.Publisher, logger *slog.Logger) *WSHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &WSHandler{
		upgrader: websocket.Upgrader{
			ReadBufferSize:  1024,
			WriteBufferSize: 1024,
			CheckOrigin:     func(*http.Request) bool { return true },
		},
		publisher: pub,
		logger:    logger,
		clients:   make(map[*wsClient]struct{}),
	}
}

// ServeHTTP handles WebSocket upgrade requests.
func (h *WSHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Error("websocket upgrade failed", "error", err)
		return
	}

	c := &wsClient{
		conn:   conn,
		send:   make(chan []byte, sendBuffer),
		closed: make(chan struct{}),
	}
	h.mu.Lock()
	h.clients[c] = struct{}{}
	h.mu.Unlock()

	go h.readLoop(c)
	go h.writeLoop(c)
}

func (h *WSHandler) readLoop(c *wsClient) {
	defer h.disconnect(c)

	c.conn.SetReadLimit(maxMessageSize)
	_ = c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read error", "error", err)
			}
			return
		}
		h.dispatch(c, data)
	}
}

// writeLoop owns all writes to the socket. Each queued message is written
// as its own text frame.
func (h *WSHandler) writeLoop(c *wsClient) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()
	defer func() { _ = c.conn.Close() }()

	for {
		var (
			kind int
			data []byte
		)
		select {
		case <-c.closed:
			return
		case data = <-c.send:
			kind = websocket.TextMessage
		case <-ticker.C:
			kind = websocket.PingMessage
		}
		_ = c.conn.SetWriteDeadline(time.Now().Add(writeWait))
		if err := c.conn.WriteMessage(kind, data); err != nil {
			return
		}
	}
}

func (h *WSHandler) dispatch(c *wsClient, data []byte) {
	var msg WSMessage
	if err := json.Unmarshal(data, &msg); err != nil {
		h.reply(c, wsReply{Type: "error", Error: "invalid message format"})
		return
	}

	switch msg.Type {
	case "subscribe":
		if !validKey(msg.Key) {
			h.reply(c, wsReply{Type: "error", Error: `key must be "kind/id", "kind/*" or "*"`})
			return
		}
		h.subscribe(c, msg.Key)
		h.reply(c, wsReply{Type: "subscribed", Key: msg.Key})
	case "unsubscribe":
		h.unsubscribe(c)
		h.reply(c, wsReply{Type: "unsubscribed"})
	case "ping":
		h.reply(c, wsReply{Type: "pong"})
	default:
		h.reply(c, wsReply{Type: "error", Error: "unknown message type: " + msg.Type})
	}
}

// validKey accepts "*", "kind/*" and "kind/id" for a known kind.
func validKey(key string) bool {
	if key == events.GlobalKey {
		return true
	}
	kind, id, ok := strings.Cut(key, "/")
	return ok && id != "" && phase.EntityKind(kind).Valid()
}

// subscribe replaces the client's subscription with one for key.
func (h *WSHandler) subscribe(c *wsClient, key string) {
	s := &subscription{
		key:    key,
		events: h.publisher.Subscribe(key),
		stop:   make(chan struct{}),
	}

	c.mu.Lock()
	h.dropLocked(c)
	c.sub = s
	c.mu.Unlock()

	go h.forward(c, s)
	h.logger.Debug("websocket subscribed", "key", key)
}

func (h *WSHandler) unsubscribe(c *wsClient) {
	c.mu.Lock()
	h.dropLocked(c)
	c.mu.Unlock()
}

// dropLocked ends the active subscription. c.mu must be held.
func (h *WSHandler) dropLocked(c *wsClient) {
	if c.sub == nil {
		return
	}
	close(c.sub.stop)
	h.publisher.Unsubscribe(c.sub.key, c.sub.events)
	c.sub = nil
}

// forward relays events from s until it is dropped or the client goes
// away. Events are queued under c.mu so nothing from s follows the reply
// to an unsubscribe.
func (h *WSHandler) forward(c *wsClient, s *subscription) {
	for {
		select {
		case <-s.stop:
			return
		case <-c.closed:
			return
		case ev, ok := <-s.events:
			if !ok {
				return
			}
			data, err := json.Marshal(wsEvent{
				Type:  "event",
				Event: string(ev.Type),
				Key:   ev.Key,
				Data:  ev.Data,
				Time:  ev.Time,
			})
			if err != nil {
				h.logger.Error("marshal websocket event", "error", err)
				continue
			}
			c.mu.Lock()
			if c.sub != s {
				c.mu.Unlock()
				return
			}
			h.enqueue(c, data)
			c.mu.Unlock()
		}
	}
}

func (h *WSHandler) reply(c *wsClient, r wsReply) {
	data, err := json.Marshal(r)
	if err != nil {
		h.logger.Error("marshal websocket reply", "error", err)
		return
	}
	h.enqueue(c, data)
}

// enqueue never blocks; a client that stops reading loses messages.
func (h *WSHandler) enqueue(c *wsClient, data []byte) {
	select {
	case c.send <- data:
	default:
		h.logger.Warn("websocket send buffer full, dropping message")
	}
}

// disconnect removes the client and releases its subscription. Safe to call
// more than once.
func (h *WSHandler) disconnect(c *wsClient) {
	c.once.Do(func() {
		h.mu.Lock()
		delete(h.clients, c)
		h.mu.Unlock()

		h.unsubscribe(c)
		close(c.closed)
		_ = c.conn.Close()
	})
}

// ConnectionCount returns the number of active connections.
func (h *WSHandler) ConnectionCount() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.clients)
}

// Close disconnects every client.
func (h *WSHandler) Close() {
	h.mu.Lock()
	clients := make([]*wsClient, 0, len(h.clients))
	for c := range h.clients {
		clients = append(clients, c)
	}
	h.mu.Unlock()

	for _, c := range clients {
		h.disconnect(c)
	}
}
