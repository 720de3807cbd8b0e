// Package thread implements the chat side of a relay session: the channel
// adapter that speaks user_message/thread_message envelopes over an attached
// transport, and the history reconciler that merges the live stream with
// paged REST history into one deduplicated, timestamp-ordered view.
//
// ═══════════════════════════════════════════════════════════════════════════
// MESSAGE FLOW
// ═══════════════════════════════════════════════════════════════════════════
//
//	SendMessage ──► user_message ──► server ──► thread_message (echo)
//	                                              │
//	thread_message ──► Reconciler.AddMessage ──► OnMessage callback
//	connection_status ──► OnStatus callback
//	error ──► OnError callback
//
// The server echoes every published message back as a thread_message; the
// echo is the delivery confirmation, and reconciler dedup by ID keeps the
// view consistent when the same message also arrives via a history page.
package thread

import (
	"fmt"
	"log/slog"
	"strings"
	"sync"

	"github.com/google/uuid"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Transport is the slice of the connection the adapter needs. Satisfied by
// *transport.Conn.
type Transport interface {
	// Send transmits an envelope, failing when the connection is not
	// established.
	Send(env wire.Envelope) error
	// OnMessage registers an observer for inbound envelopes and returns its
	// removal function.
	OnMessage(fn func(env wire.Envelope)) func()
}

// Config carries the adapter's callbacks. All are optional; nil callbacks
// drop their events.
type Config struct {
	// OnMessage fires for each live message newly merged into the history
	// view. Duplicates already held (for example the echo of a message a
	// history page delivered first) do not fire it.
	OnMessage func(msg wire.ThreadMessage)
	// OnStatus fires for server-sent connection_status envelopes.
	OnStatus func(status, message string)
	// OnError fires for protocol faults, remote error envelopes, and failed
	// sends. The connection itself stays up; reconnects are the transport's
	// business.
	OnError func(err error)

	Logger *slog.Logger
}

// Adapter binds a thread channel to a transport connection.
type Adapter struct {
	conn    Transport
	history *Reconciler
	cfg     Config
	logger  *slog.Logger

	closeOnce sync.Once
	remove    func()
}

// NewAdapter attaches a thread adapter to conn. Inbound envelopes are routed
// until Close.
func NewAdapter(conn Transport, history *Reconciler, cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		conn:    conn,
		history: history,
		cfg:     cfg,
		logger:  logger,
	}
	a.remove = conn.OnMessage(a.route)
	return a
}

// History returns the reconciler backing this adapter's message view.
func (a *Adapter) History() *Reconciler {
	return a.history
}

// SendMessage publishes a user message. Content is trimmed first; a message
// that is empty after trimming is a local no-op and transmits nothing. A send
// while not connected fails synchronously and fires OnError; nothing is
// queued for later.
func (a *Adapter) SendMessage(content string) error {
	trimmed := strings.TrimSpace(content)
	if trimmed == "" {
		return nil
	}

	env, err := wire.NewEnvelope(wire.TypeUserMessage, wire.UserMessagePayload{Content: trimmed})
	if err != nil {
		return fmt.Errorf("encode user message: %w", err)
	}
	env.ID = uuid.New().String()

	if err := a.conn.Send(env); err != nil {
		err = fmt.Errorf("send message: %w", err)
		a.reportError(err)
		return err
	}
	return nil
}

// Close detaches the adapter from the transport. The connection itself is
// left to its owner.
func (a *Adapter) Close() {
	a.closeOnce.Do(a.remove)
}

// route dispatches one inbound envelope. Envelope types the thread channel
// does not own are ignored; a malformed payload is a protocol fault reported
// via OnError, never a reason to tear the connection down.
func (a *Adapter) route(env wire.Envelope) {
	switch env.Type {
	case wire.TypeThreadMessage:
		var raw wire.RawMessage
		if err := env.DecodeData(&raw); err != nil {
			a.reportError(fmt.Errorf("decode thread message: %w", err))
			return
		}
		msg := raw.ThreadMessage()
		if a.history.AddMessage(msg) && a.cfg.OnMessage != nil {
			a.cfg.OnMessage(msg)
		}

	case wire.TypeConnectionStatus:
		var p wire.ConnectionStatusPayload
		if err := env.DecodeData(&p); err != nil {
			a.reportError(fmt.Errorf("decode connection status: %w", err))
			return
		}
		if a.cfg.OnStatus != nil {
			a.cfg.OnStatus(p.Status, p.Message)
		}

	case wire.TypeError:
		var p wire.ErrorPayload
		if err := env.DecodeData(&p); err != nil {
			a.reportError(fmt.Errorf("decode error payload: %w", err))
			return
		}
		a.reportError(fmt.Errorf("remote error: %s", p.Error))

	default:
		a.logger.Debug("Ignoring envelope on thread channel", "type", env.Type)
	}
}

func (a *Adapter) reportError(err error) {
	a.logger.Warn("Thread channel error", "error", err)
	if a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}
