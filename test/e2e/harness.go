// Package e2e boots a complete relay over real sockets and drives it with
// the client packages.
package e2e

import (
	"context"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/api"
	"github.com/codeready-toolchain/relay/pkg/config"
	"github.com/codeready-toolchain/relay/pkg/hub"
	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/store"
)

// TestApp is a full relay instance listening on an ephemeral port: real
// config file, real store, real PTY sessions.
type TestApp struct {
	Config   *config.Config
	Store    store.Store
	Sessions *session.Manager
	Hub      *hub.Hub
	Server   *api.Server

	// Addr is the bound listen address, e.g. "127.0.0.1:54321".
	Addr string
	// BaseURL is "http://" + Addr. The transport rewrites the scheme for
	// WebSocket paths itself.
	BaseURL string

	t *testing.T
}

// testAppConfig holds options accumulated before creating the TestApp.
type testAppConfig struct {
	yaml string
}

// TestAppOption configures the test app.
type TestAppOption func(*testAppConfig)

// WithYAML replaces the default relay.yaml content. The file still goes
// through config.Initialize, so it is validated like a real deployment's.
func WithYAML(content string) TestAppOption {
	return func(c *testAppConfig) { c.yaml = content }
}

// defaultTestYAML configures a SQLite store under dir and a plain /bin/sh
// shell. Timeouts are deployment-scale; tests that need a reap drive it
// through their own config.
func defaultTestYAML(dir string) string {
	return fmt.Sprintf(`
server:
  write_timeout: "5s"

store:
  backend: sqlite
  path: %s

session:
  shell: ["/bin/sh"]
  replay_bytes: 65536
  idle_timeout: "1m"
  reap_interval: "1m"
`, filepath.Join(dir, "relay.db"))
}

// NewTestApp assembles and starts a relay the way cmd/relay does, from a
// relay.yaml written to a temp config dir. Shutdown is registered via
// t.Cleanup automatically.
func NewTestApp(t *testing.T, opts ...TestAppOption) *TestApp {
	t.Helper()

	tc := &testAppConfig{}
	for _, opt := range opts {
		opt(tc)
	}

	dir := t.TempDir()
	yamlContent := tc.yaml
	if yamlContent == "" {
		yamlContent = defaultTestYAML(dir)
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, "relay.yaml"), []byte(yamlContent), 0o644))

	ctx := context.Background()
	cfg, err := config.Initialize(ctx, dir)
	require.NoError(t, err)

	st := openStore(t, cfg.Store)

	sessions := session.NewManager(session.Config{
		Shell:        cfg.Session.Shell,
		WorkDir:      cfg.Session.WorkDir,
		Env:          cfg.Session.Env,
		ReplayBytes:  cfg.Session.ReplayBytes,
		IdleTimeout:  cfg.Session.IdleTimeout,
		ReapInterval: cfg.Session.ReapInterval,
	})
	sessions.Start()

	threadHub := hub.New(st, cfg.Server.WriteTimeout)

	app := &TestApp{
		Config:   cfg,
		Store:    st,
		Sessions: sessions,
		Hub:      threadHub,
		t:        t,
	}
	app.Server = app.newServer()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	app.Addr = ln.Addr().String()
	app.BaseURL = "http://" + app.Addr

	go func() { _ = app.Server.StartWithListener(ln) }()

	// Reverse-creation order; the store closes last.
	t.Cleanup(func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = app.Server.Shutdown(shutdownCtx)
		threadHub.Shutdown()
		sessions.Stop()
		_ = st.Close()
	})

	return app
}

// RestartServer simulates a relay restart from the transport's point of
// view: the listener drops, every thread socket is severed, and a fresh
// server binds the same address over the surviving store and sessions.
func (app *TestApp) RestartServer() {
	app.t.Helper()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(app.t, app.Server.Shutdown(shutdownCtx))
	app.Hub.Shutdown()

	app.Server = app.newServer()

	// The freed port can take a beat to rebind.
	var (
		ln  net.Listener
		err error
	)
	for i := 0; i < 50; i++ {
		ln, err = net.Listen("tcp", app.Addr)
		if err == nil {
			break
		}
		time.Sleep(20 * time.Millisecond)
	}
	require.NoError(app.t, err, "rebind %s", app.Addr)

	srv := app.Server
	go func() { _ = srv.StartWithListener(ln) }()
}

func (app *TestApp) newServer() *api.Server {
	return api.NewServer(app.Store, app.Hub, app.Sessions, api.Config{
		AllowDefaultSession: app.Config.Session.AllowDefault,
		AllowedOrigins:      app.Config.Server.AllowedWSOrigins,
		WriteTimeout:        app.Config.Server.WriteTimeout,
	})
}

// openStore mirrors cmd/relay's backend selection for the config-driven
// backends tests use.
func openStore(t *testing.T, cfg *config.StoreConfig) store.Store {
	t.Helper()
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		st, err := store.NewSQLiteStore(context.Background(), cfg.Path)
		require.NoError(t, err)
		return st
	case config.StoreBackendMemory:
		return store.NewMemoryStore()
	default:
		t.Fatalf("e2e harness does not support store backend %q", cfg.Backend)
		return nil
	}
}
