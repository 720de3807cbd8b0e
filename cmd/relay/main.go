// Relay server: hosts interactive shell sessions behind a
// reconnect-capable WebSocket surface and persists the conversation
// thread alongside them.
package main

import (
	"context"
	"flag"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/codeready-toolchain/relay/pkg/api"
	"github.com/codeready-toolchain/relay/pkg/cleanup"
	"github.com/codeready-toolchain/relay/pkg/config"
	"github.com/codeready-toolchain/relay/pkg/hub"
	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/store"
	"github.com/codeready-toolchain/relay/pkg/version"
	"github.com/joho/godotenv"
)

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// openStore builds the thread history store selected in relay.yaml.
func openStore(ctx context.Context, cfg *config.StoreConfig) (store.Store, error) {
	switch cfg.Backend {
	case config.StoreBackendSQLite:
		return store.NewSQLiteStore(ctx, cfg.Path)
	case config.StoreBackendPostgres:
		return store.NewPostgresStoreFromDSN(ctx, cfg.DSN, "relay")
	default:
		return store.NewMemoryStore(), nil
	}
}

func main() {
	configDir := flag.String("config-dir",
		getEnv("CONFIG_DIR", "./deploy/config"),
		"Path to configuration directory")
	flag.Parse()

	// .env sits beside relay.yaml; load it before config reads the
	// environment.
	envPath := filepath.Join(*configDir, ".env")
	if err := godotenv.Load(envPath); err != nil {
		slog.Warn("No .env file loaded, using existing environment",
			"path", envPath, "error", err)
	} else {
		slog.Info("Loaded environment", "path", envPath)
	}

	slog.Info("Starting relay",
		"version", version.Full(),
		"config_dir", *configDir)

	ctx := context.Background()

	// 1. Initialize configuration
	cfg, err := config.Initialize(ctx, *configDir)
	if err != nil {
		slog.Error("Failed to initialize configuration", "error", err)
		os.Exit(1)
	}

	// 2. Open the thread history store
	st, err := openStore(ctx, cfg.Store)
	if err != nil {
		slog.Error("Failed to open store", "backend", cfg.Store.Backend, "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := st.Close(); err != nil {
			slog.Error("Error closing store", "error", err)
		}
	}()
	slog.Info("Store ready", "backend", cfg.Store.Backend)

	// 3. Start the session manager (idle reaper runs from here)
	sessions := session.NewManager(session.Config{
		Shell:        cfg.Session.Shell,
		WorkDir:      cfg.Session.WorkDir,
		Env:          cfg.Session.Env,
		ReplayBytes:  cfg.Session.ReplayBytes,
		IdleTimeout:  cfg.Session.IdleTimeout,
		ReapInterval: cfg.Session.ReapInterval,
	})
	sessions.Start()

	// 4. Start the retention sweeper when a window is configured
	var retention *cleanup.Service
	if cfg.Retention.MaxAge > 0 {
		retention = cleanup.NewService(st, cfg.Retention.MaxAge, cfg.Retention.Interval)
		retention.Start(ctx)
	}

	// 5. Wire the thread hub and HTTP server
	threadHub := hub.New(st, cfg.Server.WriteTimeout)
	srv := api.NewServer(st, threadHub, sessions, api.Config{
		AllowDefaultSession: cfg.Session.AllowDefault,
		AllowedOrigins:      cfg.Server.AllowedWSOrigins,
		WriteTimeout:        cfg.Server.WriteTimeout,
	})

	// 6. Start HTTP server (non-blocking)
	// HTTP_PORT overrides the configured port for container deployments
	addr := cfg.Server.Addr()
	if port := os.Getenv("HTTP_PORT"); port != "" {
		addr = net.JoinHostPort(cfg.Server.Host, port)
	}

	errCh := make(chan error, 1)
	go func() {
		if err := srv.Start(addr); err != nil && err != http.ErrServerClosed {
			slog.Error("HTTP server error", "error", err)
			errCh <- err
		}
	}()

	slog.Info("Relay started successfully",
		"addr", addr,
		"shell", cfg.Session.Shell[0],
		"allow_default_session", cfg.Session.AllowDefault)

	// 7. Wait for shutdown signal or server error
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)

	select {
	case sig := <-sigCh:
		slog.Info("Shutdown signal received", "signal", sig)
	case err := <-errCh:
		slog.Error("Server failed, shutting down", "error", err)
	}

	// 8. Graceful shutdown. Close the listener first so no new sessions or
	// sockets arrive, then tear down live sessions.
	httpShutdownCtx, httpCancel := context.WithTimeout(ctx, 5*time.Second)
	defer httpCancel()
	if err := srv.Shutdown(httpShutdownCtx); err != nil {
		slog.Error("HTTP server shutdown error", "error", err)
	}
	threadHub.Shutdown()

	if retention != nil {
		retention.Stop()
	}

	done := make(chan struct{})
	go func() {
		sessions.Stop()
		close(done)
	}()

	select {
	case <-done:
		slog.Info("Session manager stopped gracefully")
	case <-time.After(10 * time.Second):
		slog.Warn("Session manager shutdown timeout exceeded")
	}

	slog.Info("Shutdown complete")
}
