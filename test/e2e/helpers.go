package e2e

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/transport"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// ────────────────────────────────────────────────────────────
// REST helpers
// ────────────────────────────────────────────────────────────

// CreateSession posts /api/sessions and returns the new session's info.
func (app *TestApp) CreateSession(t *testing.T) session.Info {
	t.Helper()
	var info session.Info
	app.doJSON(t, http.MethodPost, "/api/sessions", nil, &info, http.StatusCreated)
	return info
}

// ListSessions fetches /api/sessions.
func (app *TestApp) ListSessions(t *testing.T) []session.Info {
	t.Helper()
	var infos []session.Info
	app.doJSON(t, http.MethodGet, "/api/sessions", nil, &infos, http.StatusOK)
	return infos
}

// GetSession fetches /api/sessions/:id.
func (app *TestApp) GetSession(t *testing.T, id string) session.Info {
	t.Helper()
	var info session.Info
	app.doJSON(t, http.MethodGet, "/api/sessions/"+id, nil, &info, http.StatusOK)
	return info
}

// DeleteSession tears a session down, history included.
func (app *TestApp) DeleteSession(t *testing.T, id string) {
	t.Helper()
	app.doJSON(t, http.MethodDelete, "/api/sessions/"+id, nil, nil, http.StatusNoContent)
}

// PublishMessage injects a thread message over REST, the way an external
// agent process would, and returns the stored message with its assigned
// identity.
func (app *TestApp) PublishMessage(t *testing.T, sessionID, msgType, content string) wire.RawMessage {
	t.Helper()
	body := map[string]string{"content": content}
	if msgType != "" {
		body["type"] = msgType
	}
	var msg wire.RawMessage
	app.doJSON(t, http.MethodPost, "/api/sessions/"+sessionID+"/thread", body, &msg, http.StatusCreated)
	return msg
}

// GetThread fetches the newest page of a session's history.
func (app *TestApp) GetThread(t *testing.T, sessionID string) wire.HistoryResponse {
	t.Helper()
	var resp wire.HistoryResponse
	app.doJSON(t, http.MethodGet, "/api/sessions/"+sessionID+"/thread", nil, &resp, http.StatusOK)
	return resp
}

// getStatus performs a request and returns only the response status code.
func (app *TestApp) getStatus(t *testing.T, method, path string) int {
	t.Helper()
	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, nil)
	require.NoError(t, err)
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	return resp.StatusCode
}

// doJSON performs a JSON request against the app and decodes the response
// into target when it is non-nil.
func (app *TestApp) doJSON(t *testing.T, method, path string, body, target any, expectedStatus int) {
	t.Helper()

	var reader *bytes.Reader
	if body != nil {
		data, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(data)
	} else {
		reader = bytes.NewReader(nil)
	}

	req, err := http.NewRequestWithContext(context.Background(), method, app.BaseURL+path, reader)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer func() { _ = resp.Body.Close() }()
	require.Equal(t, expectedStatus, resp.StatusCode, "%s %s: unexpected status", method, path)

	if target != nil {
		require.NoError(t, json.NewDecoder(resp.Body).Decode(target))
	}
}

// ────────────────────────────────────────────────────────────
// Transport helpers
// ────────────────────────────────────────────────────────────

// dialOptions returns transport options tuned for tests: short backoff and
// an unlimited attempt budget, pointed at the given channel path.
func (app *TestApp) dialOptions(path string) transport.Options {
	opts := transport.DefaultOptions()
	opts.BaseURL = app.BaseURL
	opts.Path = path
	opts.MaxReconnectAttempts = -1
	opts.ReconnectDelay = 50 * time.Millisecond
	opts.MaxReconnectDelay = 500 * time.Millisecond
	opts.ConnectionTimeout = 5 * time.Second
	return opts
}

// stateRecorder buffers transport state transitions so tests can wait for a
// specific one without missing intermediate hops.
type stateRecorder struct {
	ch chan transport.State
}

func recordStates(conn *transport.Conn) *stateRecorder {
	r := &stateRecorder{ch: make(chan transport.State, 64)}
	conn.OnState(func(st transport.State) {
		select {
		case r.ch <- st:
		default:
		}
	})
	return r
}

// await consumes transitions until want appears.
func (r *stateRecorder) await(t *testing.T, want transport.State) {
	t.Helper()
	deadline := time.After(10 * time.Second)
	for {
		select {
		case st := <-r.ch:
			if st == want {
				return
			}
		case <-deadline:
			t.Fatalf("timed out waiting for transport state %s", want)
		}
	}
}

// ────────────────────────────────────────────────────────────
// Collectors
// ────────────────────────────────────────────────────────────

// threadCollector accumulates live thread messages from an adapter callback.
type threadCollector struct {
	mu   sync.Mutex
	msgs []wire.ThreadMessage
}

func (c *threadCollector) add(msg wire.ThreadMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.msgs = append(c.msgs, msg)
}

func (c *threadCollector) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.msgs)
}

func (c *threadCollector) contents() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]string, len(c.msgs))
	for i, m := range c.msgs {
		out[i] = m.Content
	}
	return out
}

// outputCollector accumulates terminal output.
type outputCollector struct {
	mu  sync.Mutex
	buf bytes.Buffer
}

func (c *outputCollector) add(data string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.buf.WriteString(data)
}

func (c *outputCollector) String() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.buf.String()
}
