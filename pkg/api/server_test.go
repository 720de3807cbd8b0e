package api

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/codeready-toolchain/relay/pkg/hub"
	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/store"
)

// newTestServer builds a Server over an in-memory store and a /bin/sh
// session manager with the reaper running.
func newTestServer(t *testing.T, cfg Config) *Server {
	t.Helper()

	st := store.NewMemoryStore()
	mgr := session.NewManager(session.Config{
		Shell:        []string{"/bin/sh"},
		IdleTimeout:  time.Minute,
		ReapInterval: time.Minute,
	})
	mgr.Start()
	t.Cleanup(mgr.Stop)

	return NewServer(st, hub.New(st, 0), mgr, cfg)
}

func TestSecurityHeaders(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "DENY", rec.Header().Get("X-Frame-Options"))
	assert.Equal(t, "nosniff", rec.Header().Get("X-Content-Type-Options"))
	assert.Equal(t, "strict-origin-when-cross-origin", rec.Header().Get("Referrer-Policy"))
	assert.Equal(t, "camera=(), microphone=(), geolocation=()", rec.Header().Get("Permissions-Policy"))
}

func TestUnknownRoute(t *testing.T) {
	s := newTestServer(t, Config{})

	rec := httptest.NewRecorder()
	s.echo.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/api/nope", nil))

	assert.Equal(t, http.StatusNotFound, rec.Code)
}
