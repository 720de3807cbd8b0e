package api

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

func seedThread(t *testing.T, s *Server, sessionID string, n int) {
	t.Helper()
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	for i := 0; i < n; i++ {
		require.NoError(t, s.store.SaveMessage(context.Background(), sessionID, wire.ThreadMessage{
			ID:      fmt.Sprintf("msg-%02d", i),
			Role:    wire.RoleUser,
			Content: fmt.Sprintf("message %d", i),
			Ts:      base.Add(time.Duration(i) * time.Second),
		}))
	}
}

func getHistory(t *testing.T, s *Server, target string) (int, wire.HistoryResponse) {
	t.Helper()
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, target, nil))

	var page wire.HistoryResponse
	if rec.Code == http.StatusOK {
		require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &page))
	}
	return rec.Code, page
}

func postJSON(t *testing.T, s *Server, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, target, strings.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, req)
	return rec
}

func TestThreadHistoryPagination(t *testing.T) {
	s := newTestServer(t, Config{})
	seedThread(t, s, "hist", 5)

	// newest page
	code, page := getHistory(t, s, "/api/sessions/hist/thread?limit=2")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "msg-03", page.Messages[0].ID)
	assert.Equal(t, "msg-04", page.Messages[1].ID)
	assert.Equal(t, wire.RawTypeUserInput, page.Messages[0].Type)
	assert.True(t, page.HasMore)
	assert.Equal(t, 5, page.Total)
	require.NotEmpty(t, page.NextCursor)

	// walk older
	code, page = getHistory(t, s, "/api/sessions/hist/thread?limit=2&after="+page.NextCursor)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Messages, 2)
	assert.Equal(t, "msg-01", page.Messages[0].ID)
	assert.Equal(t, "msg-02", page.Messages[1].ID)
	assert.True(t, page.HasMore)

	// last page
	code, page = getHistory(t, s, "/api/sessions/hist/thread?limit=2&after="+page.NextCursor)
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, "msg-00", page.Messages[0].ID)
	assert.False(t, page.HasMore)
}

func TestThreadHistoryEmptySession(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/sessions/empty/thread", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	// messages must be a JSON array even when there are none
	assert.Contains(t, rec.Body.String(), `"messages":[]`)
}

func TestThreadHistoryRejectsBadParams(t *testing.T) {
	s := newTestServer(t, Config{})

	tests := []struct {
		name   string
		target string
	}{
		{"non-numeric limit", "/api/sessions/x/thread?limit=abc"},
		{"zero limit", "/api/sessions/x/thread?limit=0"},
		{"negative limit", "/api/sessions/x/thread?limit=-5"},
		{"garbage cursor", "/api/sessions/x/thread?after=not-a-cursor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := httptest.NewRecorder()
			s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, tt.target, nil))
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPublishThreadMessage(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/sessions/pub/thread", `{"type":"system","content":"deploy finished"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg wire.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Len(t, msg.ID, 26, "hub assigns a ULID when the publisher sends none")
	assert.Equal(t, wire.RawTypeSystem, msg.Type)
	assert.False(t, msg.Ts.IsZero())

	page, err := s.store.ThreadPage(context.Background(), "pub", 10, "")
	require.NoError(t, err)
	require.Len(t, page.Messages, 1)
	assert.Equal(t, wire.RoleSystem, page.Messages[0].Role)
	assert.Equal(t, "deploy finished", page.Messages[0].Content)
}

func TestPublishDefaultsToAgentMessage(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/sessions/pub/thread", `{"content":"ran 3 tests"}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	var msg wire.RawMessage
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &msg))
	assert.Equal(t, wire.RawTypeAgentMessage, msg.Type)
}

func TestPublishValidation(t *testing.T) {
	s := newTestServer(t, Config{})

	tests := []struct {
		name string
		body string
	}{
		{"missing content", `{"type":"system"}`},
		{"blank content", `{"content":"   "}`},
		{"unknown type", `{"type":"banana","content":"hi"}`},
		{"malformed json", `{"content":`},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := postJSON(t, s, "/api/sessions/pub/thread", tt.body)
			assert.Equal(t, http.StatusBadRequest, rec.Code)
		})
	}
}

func TestPublishMetadataRoundTrip(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := postJSON(t, s, "/api/sessions/meta/thread",
		`{"content":"patched main.go","metadata":{"kind":"edit","files":["main.go"]}}`)
	require.Equal(t, http.StatusCreated, rec.Code)

	code, page := getHistory(t, s, "/api/sessions/meta/thread")
	require.Equal(t, http.StatusOK, code)
	require.Len(t, page.Messages, 1)
	require.NotNil(t, page.Messages[0].Metadata)
	assert.Equal(t, "edit", page.Messages[0].Metadata.Kind)
	assert.Equal(t, []string{"main.go"}, page.Messages[0].Metadata.Files)
}
