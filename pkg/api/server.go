// Package api exposes the relay's HTTP surface: session management and
// thread history over REST, live terminal and thread traffic over WebSocket.
package api

import (
	"context"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/relay/pkg/hub"
	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/store"
)

// defaultSessionID names the shared session behind the bare /ws endpoint.
const defaultSessionID = "default"

// Config carries the HTTP-surface settings.
type Config struct {
	// AllowDefaultSession additionally serves a bare /ws terminal endpoint
	// attached to a lazily created shared session.
	AllowDefaultSession bool
	// AllowedOrigins restricts WebSocket upgrades to matching Origin host
	// patterns. Empty accepts any origin.
	AllowedOrigins []string
	// WriteTimeout bounds a single WebSocket write on the terminal channel.
	WriteTimeout time.Duration
}

// Server wires the HTTP routes to the hub, the session manager and the store.
type Server struct {
	echo     *echo.Echo
	http     *http.Server
	store    store.Store
	hub      *hub.Hub
	sessions *session.Manager

	allowDefault   bool
	allowedOrigins []string
	writeTimeout   time.Duration
}

// NewServer builds the echo instance and registers all routes.
func NewServer(st store.Store, h *hub.Hub, sessions *session.Manager, cfg Config) *Server {
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = hub.DefaultWriteTimeout
	}
	s := &Server{
		echo:           echo.New(),
		store:          st,
		hub:            h,
		sessions:       sessions,
		allowDefault:   cfg.AllowDefaultSession,
		allowedOrigins: cfg.AllowedOrigins,
		writeTimeout:   cfg.WriteTimeout,
	}

	e := s.echo
	e.Use(requestLogger(), securityHeaders())

	e.GET("/health", s.healthHandler)

	e.POST("/api/sessions", s.createSessionHandler)
	e.GET("/api/sessions", s.listSessionsHandler)
	e.GET("/api/sessions/:id", s.getSessionHandler)
	e.DELETE("/api/sessions/:id", s.deleteSessionHandler)
	e.GET("/api/sessions/:id/thread", s.getThreadHandler)
	e.POST("/api/sessions/:id/thread", s.publishThreadHandler)

	e.GET("/ws/thread/:id", s.threadSocketHandler)
	e.GET("/ws/:id", s.terminalSocketHandler)
	if s.allowDefault {
		e.GET("/ws", s.defaultTerminalSocketHandler)
	}

	return s
}

// Start listens on addr and serves until Shutdown. It returns
// http.ErrServerClosed after a graceful shutdown.
func (s *Server) Start(addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	return s.StartWithListener(ln)
}

// StartWithListener serves on a pre-bound listener. Tests use it to run on
// an ephemeral port.
func (s *Server) StartWithListener(ln net.Listener) error {
	s.http = &http.Server{
		Handler:           s.echo,
		ReadHeaderTimeout: 10 * time.Second,
	}
	slog.Info("HTTP server listening", "addr", ln.Addr().String())
	return s.http.Serve(ln)
}

// Shutdown stops accepting connections and waits for in-flight requests up
// to the context deadline. Live WebSockets are not waited on; they close
// when the hub and the session manager shut down.
func (s *Server) Shutdown(ctx context.Context) error {
	if s.http == nil {
		return nil
	}
	return s.http.Shutdown(ctx)
}

// acceptOptions builds the WebSocket upgrade options. Origin verification
// only applies when origins are configured; without them any Origin header
// is accepted, which covers same-host browser clients and non-browser
// tooling alike.
func (s *Server) acceptOptions() *websocket.AcceptOptions {
	if len(s.allowedOrigins) > 0 {
		return &websocket.AcceptOptions{OriginPatterns: s.allowedOrigins}
	}
	return &websocket.AcceptOptions{InsecureSkipVerify: true}
}
