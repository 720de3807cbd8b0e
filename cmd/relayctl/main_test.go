package main

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

func runCommand(t *testing.T, args ...string) (string, error) {
	t.Helper()

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestRootHelpIncludesSubcommands(t *testing.T) {
	out, err := runCommand(t, "--help")
	require.NoError(t, err)

	for _, sub := range []string{"sessions", "attach", "thread", "history", "version"} {
		assert.Contains(t, out, sub)
	}
}

func TestBaseURLResolution(t *testing.T) {
	t.Run("flag wins", func(t *testing.T) {
		opts := &cliOptions{server: "https://relay.example.com/"}
		assert.Equal(t, "https://relay.example.com", opts.baseURL())
	})

	t.Run("env fallback", func(t *testing.T) {
		t.Setenv("RELAY_SERVER", "http://10.0.0.5:9090")
		opts := &cliOptions{}
		assert.Equal(t, "http://10.0.0.5:9090", opts.baseURL())
	})

	t.Run("local default", func(t *testing.T) {
		t.Setenv("RELAY_SERVER", "")
		opts := &cliOptions{}
		assert.Equal(t, defaultServer, opts.baseURL())
	})
}

func TestSessionsList(t *testing.T) {
	created := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodGet, r.Method)
		require.Equal(t, "/api/sessions", r.URL.Path)
		_ = json.NewEncoder(w).Encode([]session.Info{
			{ID: "abc-123", CreatedAt: created, LastActive: created, Running: true, Cols: 120, Rows: 40},
		})
	}))
	defer ts.Close()

	out, err := runCommand(t, "sessions", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "abc-123")
	assert.Contains(t, out, "running 120x40")
}

func TestSessionsListJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]session.Info{{ID: "abc-123"}})
	}))
	defer ts.Close()

	out, err := runCommand(t, "sessions", "--server", ts.URL, "--json")
	require.NoError(t, err)

	var infos []session.Info
	require.NoError(t, json.Unmarshal([]byte(out), &infos))
	require.Len(t, infos, 1)
	assert.Equal(t, "abc-123", infos[0].ID)
}

func TestSessionsListEmpty(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode([]session.Info{})
	}))
	defer ts.Close()

	out, err := runCommand(t, "sessions", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "no sessions")
}

func TestSessionsCreate(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodPost, r.Method)
		require.Equal(t, "/api/sessions", r.URL.Path)
		w.WriteHeader(http.StatusCreated)
		_ = json.NewEncoder(w).Encode(session.Info{ID: "fresh-session"})
	}))
	defer ts.Close()

	out, err := runCommand(t, "sessions", "create", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "fresh-session")
}

func TestSessionsDelete(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, http.MethodDelete, r.Method)
		require.Equal(t, "/api/sessions/abc-123", r.URL.Path)
		w.WriteHeader(http.StatusNoContent)
	}))
	defer ts.Close()

	out, err := runCommand(t, "sessions", "delete", "abc-123", "--server", ts.URL)
	require.NoError(t, err)
	assert.Contains(t, out, "deleted abc-123")
}

func TestServerErrorSurfacesMessage(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusNotFound)
		_, _ = w.Write([]byte(`{"message":"session not found"}`))
	}))
	defer ts.Close()

	_, err := runCommand(t, "sessions", "delete", "ghost", "--server", ts.URL)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "session not found")
}

func TestHistoryCommand(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/api/sessions/abc-123/thread", r.URL.Path)
		_ = json.NewEncoder(w).Encode(wire.HistoryResponse{
			Messages: []wire.RawMessage{
				{
					ID:      "msg-01",
					Type:    wire.RawTypeUserInput,
					Content: "run the tests",
					Ts:      time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC),
				},
				{
					ID:      "msg-02",
					Type:    wire.RawTypeAgentMessage,
					Content: "all green",
					Ts:      time.Date(2025, 6, 1, 12, 0, 5, 0, time.UTC),
					Metadata: &wire.MessageMetadata{
						Kind: "test_run",
					},
				},
			},
			Total: 2,
		})
	}))
	defer ts.Close()

	out, err := runCommand(t, "history", "abc-123", "--server", ts.URL)
	require.NoError(t, err)

	assert.Contains(t, out, "run the tests")
	assert.Contains(t, out, "all green")
	assert.Contains(t, out, "user")
	assert.Contains(t, out, "agent")
	assert.Contains(t, out, "(test_run)")
}

func TestHistoryCommandJSON(t *testing.T) {
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		_ = json.NewEncoder(w).Encode(wire.HistoryResponse{
			Messages: []wire.RawMessage{
				{ID: "msg-01", Type: wire.RawTypeUserInput, Content: "hello", Ts: time.Now().UTC()},
			},
			Total: 1,
		})
	}))
	defer ts.Close()

	out, err := runCommand(t, "history", "abc-123", "--server", ts.URL, "--json")
	require.NoError(t, err)

	var msgs []wire.ThreadMessage
	require.NoError(t, json.Unmarshal([]byte(out), &msgs))
	require.Len(t, msgs, 1)
	assert.Equal(t, wire.RoleUser, msgs[0].Role)
}

func TestAttachRequiresTerminal(t *testing.T) {
	// Test processes have no TTY on stdin; attach must refuse before dialing.
	_, err := runCommand(t, "attach", "abc-123")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "requires a terminal")
}

func TestFormatThreadMessage(t *testing.T) {
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)

	plain := formatThreadMessage(wire.ThreadMessage{Role: wire.RoleUser, Content: "hi", Ts: ts})
	assert.Contains(t, plain, "user")
	assert.Contains(t, plain, "hi")
	assert.NotContains(t, plain, "(")

	tagged := formatThreadMessage(wire.ThreadMessage{
		Role:     wire.RoleAgent,
		Content:  "patched main.go",
		Ts:       ts,
		Metadata: &wire.MessageMetadata{Kind: "edit", Files: []string{"main.go"}},
	})
	assert.Contains(t, tagged, "(edit)")
}
