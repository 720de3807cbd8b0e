package api

import (
	"context"
	"log/slog"
	"time"

	"github.com/coder/websocket"
	echo "github.com/labstack/echo/v5"

	"github.com/codeready-toolchain/relay/pkg/session"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// terminalSocketHandler handles GET /ws/:id.
// Attaches the WebSocket to the session's PTY; the shell is spawned on the
// first attach.
func (s *Server) terminalSocketHandler(c *echo.Context) error {
	sess, err := s.sessions.Get(c.Param("id"))
	if err != nil {
		return mapComponentError(err)
	}
	return s.serveTerminal(c, sess)
}

// defaultTerminalSocketHandler handles GET /ws.
// Registered only when session-less operation is enabled; attaches to a
// lazily created shared session.
func (s *Server) defaultTerminalSocketHandler(c *echo.Context) error {
	return s.serveTerminal(c, s.sessions.GetOrCreate(defaultSessionID))
}

func (s *Server) serveTerminal(c *echo.Context, sess *session.Session) error {
	att, err := sess.Attach()
	if err != nil {
		return mapComponentError(err)
	}

	conn, err := websocket.Accept(c.Response(), c.Request(), s.acceptOptions())
	if err != nil {
		att.Close()
		return err
	}

	b := &terminalBridge{
		conn:         conn,
		sess:         sess,
		att:          att,
		writeTimeout: s.writeTimeout,
	}
	// run blocks until the WebSocket or the attachment closes.
	b.run(c.Request().Context())
	return nil
}

// terminalBridge pumps bytes between one WebSocket client and one PTY
// attachment: PTY output goes out as output envelopes, inbound input,
// resize and control envelopes are applied to the session.
type terminalBridge struct {
	conn         *websocket.Conn
	sess         *session.Session
	att          *session.Attachment
	writeTimeout time.Duration
}

func (b *terminalBridge) run(parentCtx context.Context) {
	ctx, cancel := context.WithCancel(parentCtx)
	defer cancel()
	defer b.att.Close()
	defer b.conn.Close(websocket.StatusNormalClosure, "")

	slog.Info("Terminal connection opened",
		"session_id", b.sess.ID, "attachment_id", b.att.ID())

	// Greeting before the write loop starts, so it precedes any replay.
	b.writeEnvelope(ctx, wire.TypeConnectionStatus, wire.ConnectionStatusPayload{
		Status: "connected",
	})

	go b.writeLoop(ctx, cancel)
	b.readLoop(ctx)

	slog.Info("Terminal connection closed",
		"session_id", b.sess.ID, "attachment_id", b.att.ID())
}

// writeLoop drains PTY output into the WebSocket. The attachment channel
// closes when the shell exits or the session drops a slow consumer; either
// way the socket is closed so the client reconnects into a fresh attach.
func (b *terminalBridge) writeLoop(ctx context.Context, cancel context.CancelFunc) {
	defer cancel()
	for chunk := range b.att.Output() {
		if err := b.writeEnvelope(ctx, wire.TypeOutput, wire.IOPayload{Data: string(chunk)}); err != nil {
			return
		}
	}
	b.conn.Close(websocket.StatusNormalClosure, "session detached")
}

func (b *terminalBridge) readLoop(ctx context.Context) {
	for {
		_, data, err := b.conn.Read(ctx)
		if err != nil {
			return
		}
		env, err := wire.DecodeEnvelope(data)
		if err != nil {
			slog.Warn("Invalid terminal envelope",
				"session_id", b.sess.ID, "error", err)
			continue
		}
		b.handleEnvelope(ctx, env)
	}
}

func (b *terminalBridge) handleEnvelope(ctx context.Context, env wire.Envelope) {
	switch env.Type {
	case wire.TypeInput:
		var p wire.IOPayload
		if err := env.DecodeData(&p); err != nil {
			b.sendError(ctx, "malformed input payload")
			return
		}
		if err := b.sess.WriteInput([]byte(p.Data)); err != nil {
			slog.Warn("Terminal input rejected",
				"session_id", b.sess.ID, "error", err)
			b.sendError(ctx, err.Error())
		}

	case wire.TypeResize:
		// Resize is fire-and-forget on both ends; failures are logged, never
		// reported back.
		var p wire.ResizePayload
		if err := env.DecodeData(&p); err != nil {
			slog.Warn("Malformed resize payload",
				"session_id", b.sess.ID, "error", err)
			return
		}
		if err := b.sess.Resize(p.Cols, p.Rows); err != nil {
			slog.Warn("Terminal resize rejected",
				"session_id", b.sess.ID, "cols", p.Cols, "rows", p.Rows, "error", err)
		}

	case wire.TypeControl:
		var p wire.ControlPayload
		if err := env.DecodeData(&p); err != nil {
			b.sendError(ctx, "malformed control payload")
			return
		}
		if err := b.sess.Signal(p.Signal); err != nil {
			b.sendError(ctx, err.Error())
		}

	case wire.TypePing:
		b.writeEnvelope(ctx, wire.TypePong, nil)

	default:
		slog.Debug("Ignoring envelope on terminal channel",
			"session_id", b.sess.ID, "type", env.Type)
	}
}

// sendError reports a failure to the client without closing the connection.
func (b *terminalBridge) sendError(ctx context.Context, msg string) {
	if err := b.writeEnvelope(ctx, wire.TypeError, wire.ErrorPayload{Error: msg}); err != nil {
		slog.Warn("Failed to send terminal error",
			"session_id", b.sess.ID, "error", err)
	}
}

func (b *terminalBridge) writeEnvelope(ctx context.Context, typ string, payload any) error {
	env, err := wire.NewEnvelope(typ, payload)
	if err != nil {
		return err
	}
	frame, err := env.Encode()
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	return b.conn.Write(writeCtx, websocket.MessageText, frame)
}
