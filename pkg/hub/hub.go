// Package hub fans thread messages out to the WebSocket connections of each
// session. Inbound user messages are persisted before broadcast; the echo back
// to the sender is its delivery confirmation, and client-side dedup by id makes
// redelivery harmless.
package hub

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"github.com/oklog/ulid/v2"

	"github.com/codeready-toolchain/relay/pkg/store"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// DefaultWriteTimeout bounds a single WebSocket write. A connection that
// cannot accept a frame within this window is dropped rather than allowed to
// block the session.
const DefaultWriteTimeout = 10 * time.Second

// persistTimeout bounds the store write for one inbound message.
const persistTimeout = 5 * time.Second

// Hub is the per-session thread connection registry.
type Hub struct {
	store        store.Store
	writeTimeout time.Duration

	mu          sync.RWMutex
	connections map[string]*conn           // connection_id -> conn
	sessions    map[string]map[string]bool // session_id -> set of connection_ids
}

// conn is a single thread WebSocket client.
type conn struct {
	id        string
	sessionID string
	ws        *websocket.Conn
	ctx       context.Context
	cancel    context.CancelFunc
}

// New creates a Hub persisting through the given store.
func New(st store.Store, writeTimeout time.Duration) *Hub {
	if writeTimeout <= 0 {
		writeTimeout = DefaultWriteTimeout
	}
	return &Hub{
		store:        st,
		writeTimeout: writeTimeout,
		connections:  make(map[string]*conn),
		sessions:     make(map[string]map[string]bool),
	}
}

// HandleThread runs the read loop for one thread connection. Called by the
// WebSocket handler after upgrade; blocks until the connection closes.
func (h *Hub) HandleThread(parentCtx context.Context, sessionID string, ws *websocket.Conn) {
	ctx, cancel := context.WithCancel(parentCtx)
	c := &conn{
		id:        uuid.New().String(),
		sessionID: sessionID,
		ws:        ws,
		ctx:       ctx,
		cancel:    cancel,
	}

	h.register(c)
	defer h.unregister(c)

	h.sendStatus(c, "connected", "")

	for {
		_, data, err := ws.Read(ctx)
		if err != nil {
			return
		}

		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			slog.Warn("Invalid thread envelope",
				"connection_id", c.id, "session_id", sessionID, "error", err)
			continue
		}
		h.handleEnvelope(ctx, c, env)
	}
}

// Publish persists a message and broadcasts it to every thread connection of
// the session. ID and timestamp are assigned when absent so external
// publishers can send bare content; the stored message is returned so callers
// can hand the assigned identity back to the publisher.
func (h *Hub) Publish(ctx context.Context, sessionID string, raw wire.RawMessage) (wire.RawMessage, error) {
	if raw.ID == "" {
		raw.ID = ulid.Make().String()
	}
	if raw.Ts.IsZero() {
		raw.Ts = time.Now().UTC()
	}
	if raw.Type == "" {
		raw.Type = wire.RawTypeAgentMessage
	}

	persistCtx, cancel := context.WithTimeout(ctx, persistTimeout)
	defer cancel()
	if err := h.store.SaveMessage(persistCtx, sessionID, raw.ThreadMessage()); err != nil {
		return wire.RawMessage{}, fmt.Errorf("save message: %w", err)
	}

	env, err := wire.NewEnvelope(wire.TypeThreadMessage, raw)
	if err != nil {
		return wire.RawMessage{}, fmt.Errorf("encode thread message: %w", err)
	}
	frame, err := env.Encode()
	if err != nil {
		return wire.RawMessage{}, fmt.Errorf("encode thread message: %w", err)
	}
	h.broadcast(sessionID, frame)
	return raw, nil
}

// ActiveConnections returns the count of open thread connections.
func (h *Hub) ActiveConnections() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.connections)
}

// Shutdown closes every thread connection with a going-away status so
// clients reconnect instead of waiting on a dead socket. The HTTP server
// never closes hijacked connections itself, so graceful shutdown calls this
// after the listener stops.
func (h *Hub) Shutdown() {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.connections))
	for _, c := range h.connections {
		conns = append(conns, c)
	}
	h.mu.RUnlock()

	for _, c := range conns {
		_ = c.ws.Close(websocket.StatusGoingAway, "server shutting down")
		c.cancel()
	}
}

// sessionConns returns the number of connections for a session.
// Unexported, used by tests to poll instead of sleeping.
func (h *Hub) sessionConns(sessionID string) int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions[sessionID])
}

func (h *Hub) handleEnvelope(ctx context.Context, c *conn, env wire.Envelope) {
	switch env.Type {
	case wire.TypeUserMessage:
		var p wire.UserMessagePayload
		if err := env.DecodeData(&p); err != nil {
			slog.Warn("Malformed user_message payload",
				"connection_id", c.id, "session_id", c.sessionID, "error", err)
			h.sendError(c, "malformed user_message payload")
			return
		}
		content := strings.TrimSpace(p.Content)
		if content == "" {
			return
		}
		raw := wire.RawMessage{
			ID:      env.ID,
			Type:    wire.RawTypeUserInput,
			Content: content,
			Ts:      parseTimestamp(env.Timestamp),
		}
		if _, err := h.Publish(ctx, c.sessionID, raw); err != nil {
			slog.Error("Failed to publish user message",
				"connection_id", c.id, "session_id", c.sessionID, "error", err)
			h.sendError(c, "failed to persist message")
		}

	case wire.TypePing:
		h.sendEnvelope(c, wire.TypePong, nil)

	default:
		slog.Debug("Ignoring envelope on thread channel",
			"type", env.Type, "connection_id", c.id)
	}
}

// broadcast sends a frame to every connection of a session. Connections are
// snapshotted under the lock and written outside it so a slow write cannot
// stall register/unregister. A failed write cancels the connection; its read
// loop then unwinds and cleans up.
func (h *Hub) broadcast(sessionID string, frame []byte) {
	h.mu.RLock()
	conns := make([]*conn, 0, len(h.sessions[sessionID]))
	for id := range h.sessions[sessionID] {
		if c, ok := h.connections[id]; ok {
			conns = append(conns, c)
		}
	}
	h.mu.RUnlock()

	for _, c := range conns {
		if err := h.send(c, frame); err != nil {
			slog.Warn("Dropping thread connection after failed write",
				"connection_id", c.id, "session_id", sessionID, "error", err)
			c.cancel()
		}
	}
}

func (h *Hub) register(c *conn) {
	h.mu.Lock()
	h.connections[c.id] = c
	if _, ok := h.sessions[c.sessionID]; !ok {
		h.sessions[c.sessionID] = make(map[string]bool)
	}
	h.sessions[c.sessionID][c.id] = true
	n := len(h.sessions[c.sessionID])
	h.mu.Unlock()

	slog.Info("Thread connection opened",
		"connection_id", c.id, "session_id", c.sessionID, "session_conns", n)
}

func (h *Hub) unregister(c *conn) {
	h.mu.Lock()
	delete(h.connections, c.id)
	if subs, ok := h.sessions[c.sessionID]; ok {
		delete(subs, c.id)
		if len(subs) == 0 {
			delete(h.sessions, c.sessionID)
		}
	}
	h.mu.Unlock()

	c.cancel()
	_ = c.ws.Close(websocket.StatusNormalClosure, "")
	slog.Info("Thread connection closed",
		"connection_id", c.id, "session_id", c.sessionID)
}

func (h *Hub) sendStatus(c *conn, status, message string) {
	h.sendEnvelope(c, wire.TypeConnectionStatus, wire.ConnectionStatusPayload{
		Status:  status,
		Message: message,
	})
}

func (h *Hub) sendError(c *conn, msg string) {
	h.sendEnvelope(c, wire.TypeError, wire.ErrorPayload{Error: msg})
}

func (h *Hub) sendEnvelope(c *conn, typ string, payload any) {
	env, err := wire.NewEnvelope(typ, payload)
	if err != nil {
		slog.Warn("Failed to encode envelope",
			"connection_id", c.id, "type", typ, "error", err)
		return
	}
	frame, err := env.Encode()
	if err != nil {
		slog.Warn("Failed to encode envelope",
			"connection_id", c.id, "type", typ, "error", err)
		return
	}
	if err := h.send(c, frame); err != nil {
		slog.Warn("Failed to send to thread connection",
			"connection_id", c.id, "type", typ, "error", err)
		c.cancel()
	}
}

// send writes raw bytes to a single connection with a write timeout.
func (h *Hub) send(c *conn, frame []byte) error {
	writeCtx, cancel := context.WithTimeout(c.ctx, h.writeTimeout)
	defer cancel()
	return c.ws.Write(writeCtx, websocket.MessageText, frame)
}

// parseTimestamp returns the envelope timestamp, or the current time when the
// field is absent or malformed.
func parseTimestamp(s string) time.Time {
	if s == "" {
		return time.Now().UTC()
	}
	ts, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Now().UTC()
	}
	return ts.UTC()
}
