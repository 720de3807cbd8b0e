package hub

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/coder/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/store"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

func setupTestHub(t *testing.T) (*Hub, *store.MemoryStore, *httptest.Server) {
	t.Helper()

	st := store.NewMemoryStore()
	h := New(st, 5*time.Second)
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			InsecureSkipVerify: true,
		})
		if err != nil {
			t.Logf("WebSocket accept error: %v", err)
			return
		}
		h.HandleThread(r.Context(), r.URL.Query().Get("session"), conn)
	}))

	t.Cleanup(server.Close)
	return h, st, server
}

func connectThread(t *testing.T, server *httptest.Server, sessionID string) *websocket.Conn {
	t.Helper()
	url := "ws" + server.URL[len("http"):] + "/?session=" + sessionID
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	conn, _, err := websocket.Dial(ctx, url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close(websocket.StatusNormalClosure, "") })
	return conn
}

func readEnvelope(t *testing.T, conn *websocket.Conn) wire.Envelope {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, data, err := conn.Read(ctx)
	require.NoError(t, err)

	env, err := wire.DecodeEnvelope(data)
	require.NoError(t, err)
	return env
}

func writeEnvelope(t *testing.T, conn *websocket.Conn, env wire.Envelope) {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	frame, err := env.Encode()
	require.NoError(t, err)
	require.NoError(t, conn.Write(ctx, websocket.MessageText, frame))
}

func TestHub_ConnectionGreeting(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectThread(t, server, "greeting-session")

	env := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeConnectionStatus, env.Type)

	var p wire.ConnectionStatusPayload
	require.NoError(t, env.DecodeData(&p))
	assert.Equal(t, "connected", p.Status)
}

func TestHub_UserMessageBroadcast(t *testing.T) {
	h, st, server := setupTestHub(t)

	sender := connectThread(t, server, "alpha")
	peer := connectThread(t, server, "alpha")
	other := connectThread(t, server, "beta")

	readEnvelope(t, sender) // connection_status
	readEnvelope(t, peer)
	readEnvelope(t, other)

	require.Eventually(t, func() bool { return h.sessionConns("alpha") == 2 },
		time.Second, 10*time.Millisecond)

	env, err := wire.NewEnvelope(wire.TypeUserMessage, wire.UserMessagePayload{Content: "hello relay"})
	require.NoError(t, err)
	writeEnvelope(t, sender, env)

	// Every connection of the session receives the broadcast, the sender
	// included: the echo is its delivery confirmation.
	for _, conn := range []*websocket.Conn{sender, peer} {
		got := readEnvelope(t, conn)
		assert.Equal(t, wire.TypeThreadMessage, got.Type)

		var raw wire.RawMessage
		require.NoError(t, got.DecodeData(&raw))
		assert.Equal(t, wire.RawTypeUserInput, raw.Type)
		assert.Equal(t, "hello relay", raw.Content)
		assert.Len(t, raw.ID, 26, "server should assign a ULID when the client sends none")
		assert.False(t, raw.Ts.IsZero())
	}

	// The message is persisted before broadcast.
	page, err := st.ThreadPage(context.Background(), "alpha", 10, "")
	require.NoError(t, err)
	require.Equal(t, 1, page.Total)
	assert.Equal(t, "hello relay", page.Messages[0].Content)
	assert.Equal(t, wire.RoleUser, page.Messages[0].Role)

	// A connection on another session sees nothing. The deadline-bounded
	// read also tears the conn down, so this check comes last.
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()
	_, _, err = other.Read(ctx)
	assert.Error(t, err, "other sessions must not receive the broadcast")
}

func TestHub_PreservesClientMessageID(t *testing.T) {
	_, st, server := setupTestHub(t)
	conn := connectThread(t, server, "gamma")
	readEnvelope(t, conn)

	env, err := wire.NewEnvelope(wire.TypeUserMessage, wire.UserMessagePayload{Content: "with id"})
	require.NoError(t, err)
	env.ID = "client-id-1"
	writeEnvelope(t, conn, env)

	got := readEnvelope(t, conn)
	var raw wire.RawMessage
	require.NoError(t, got.DecodeData(&raw))
	assert.Equal(t, "client-id-1", raw.ID)

	page, err := st.ThreadPage(context.Background(), "gamma", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "client-id-1", page.Messages[0].ID)
}

func TestHub_PingPong(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectThread(t, server, "ping-session")
	readEnvelope(t, conn)

	env, err := wire.NewEnvelope(wire.TypePing, nil)
	require.NoError(t, err)
	writeEnvelope(t, conn, env)

	got := readEnvelope(t, conn)
	assert.Equal(t, wire.TypePong, got.Type)
}

func TestHub_PublishReachesSubscribers(t *testing.T) {
	h, st, server := setupTestHub(t)
	conn := connectThread(t, server, "delta")
	readEnvelope(t, conn)

	require.Eventually(t, func() bool { return h.sessionConns("delta") == 1 },
		time.Second, 10*time.Millisecond)

	stored, err := h.Publish(context.Background(), "delta", wire.RawMessage{
		Type:    wire.RawTypeAgentMessage,
		Content: "build finished",
	})
	require.NoError(t, err)
	assert.Len(t, stored.ID, 26)
	assert.False(t, stored.Ts.IsZero())

	got := readEnvelope(t, conn)
	assert.Equal(t, wire.TypeThreadMessage, got.Type)

	var raw wire.RawMessage
	require.NoError(t, got.DecodeData(&raw))
	assert.Equal(t, wire.RawTypeAgentMessage, raw.Type)
	assert.Equal(t, "build finished", raw.Content)
	assert.Len(t, raw.ID, 26)

	page, err := st.ThreadPage(context.Background(), "delta", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, wire.RoleAgent, page.Messages[0].Role)
}

func TestHub_BlankUserMessageDropped(t *testing.T) {
	_, st, server := setupTestHub(t)
	conn := connectThread(t, server, "blank-session")
	readEnvelope(t, conn)

	env, err := wire.NewEnvelope(wire.TypeUserMessage, wire.UserMessagePayload{Content: "   "})
	require.NoError(t, err)
	writeEnvelope(t, conn, env)

	// The ping-pong round trip proves the blank message produced no frame.
	ping, err := wire.NewEnvelope(wire.TypePing, nil)
	require.NoError(t, err)
	writeEnvelope(t, conn, ping)

	got := readEnvelope(t, conn)
	assert.Equal(t, wire.TypePong, got.Type)

	page, err := st.ThreadPage(context.Background(), "blank-session", 10, "")
	require.NoError(t, err)
	assert.Empty(t, page.Messages)
}

func TestHub_MalformedFrameKeepsConnection(t *testing.T) {
	_, _, server := setupTestHub(t)
	conn := connectThread(t, server, "malformed-session")
	readEnvelope(t, conn)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, conn.Write(ctx, websocket.MessageText, []byte("not json")))

	ping, err := wire.NewEnvelope(wire.TypePing, nil)
	require.NoError(t, err)
	writeEnvelope(t, conn, ping)

	got := readEnvelope(t, conn)
	assert.Equal(t, wire.TypePong, got.Type)
}

func TestHub_ConnectionCleanup(t *testing.T) {
	h, _, server := setupTestHub(t)

	conn := connectThread(t, server, "cleanup-session")
	readEnvelope(t, conn)

	require.Eventually(t, func() bool { return h.ActiveConnections() == 1 },
		time.Second, 10*time.Millisecond)

	require.NoError(t, conn.Close(websocket.StatusNormalClosure, ""))

	require.Eventually(t, func() bool { return h.ActiveConnections() == 0 },
		time.Second, 10*time.Millisecond, "closed connection should be unregistered")
	assert.Equal(t, 0, h.sessionConns("cleanup-session"))
}

func TestHub_ShutdownClosesConnections(t *testing.T) {
	h, _, server := setupTestHub(t)

	a := connectThread(t, server, "shutdown-session")
	b := connectThread(t, server, "shutdown-session")
	readEnvelope(t, a)
	readEnvelope(t, b)

	require.Eventually(t, func() bool { return h.ActiveConnections() == 2 },
		time.Second, 10*time.Millisecond)

	h.Shutdown()

	// Both clients observe the close; reads fail once the frame arrives.
	for _, conn := range []*websocket.Conn{a, b} {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		_, _, err := conn.Read(ctx)
		cancel()
		require.Error(t, err)
		assert.Equal(t, websocket.StatusGoingAway, websocket.CloseStatus(err))
	}

	require.Eventually(t, func() bool { return h.ActiveConnections() == 0 },
		time.Second, 10*time.Millisecond)
}
