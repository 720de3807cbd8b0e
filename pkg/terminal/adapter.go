// Package terminal implements the PTY side of a relay session: the channel
// adapter that carries keystrokes, output, resizes, and control signals over
// an attached transport.
//
// Outbound operations differ in how they fail when the connection is down,
// matching what each one means to the user:
//
//   - SendInput fails loudly. A swallowed keystroke looks like a hung shell.
//   - Resize is dropped silently. Layouts settle before connects finish and
//     a resize is worthless once the next one arrives.
//   - SendControlSignal fails loudly and reports. A dropped interrupt leaves
//     a runaway process behind.
package terminal

import (
	"errors"
	"fmt"
	"log/slog"
	"sync"

	"github.com/codeready-toolchain/relay/pkg/transport"
	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Transport is the slice of the connection the adapter needs. Satisfied by
// *transport.Conn.
type Transport interface {
	Send(env wire.Envelope) error
	OnMessage(fn func(env wire.Envelope)) func()
}

// Config carries the adapter's callbacks. All are optional.
type Config struct {
	// OnOutput receives verbatim terminal output, escape sequences included.
	// Rendering is the caller's business.
	OnOutput func(data string)
	// OnError fires for protocol faults, remote error envelopes, and failed
	// control sends.
	OnError func(err error)

	Logger *slog.Logger
}

// Adapter binds a terminal channel to a transport connection.
type Adapter struct {
	conn   Transport
	cfg    Config
	logger *slog.Logger

	closeOnce sync.Once
	remove    func()
}

// NewAdapter attaches a terminal adapter to conn. Inbound envelopes are
// routed until Close.
func NewAdapter(conn Transport, cfg Config) *Adapter {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	a := &Adapter{
		conn:   conn,
		cfg:    cfg,
		logger: logger,
	}
	a.remove = conn.OnMessage(a.route)
	return a
}

// SendInput transmits keystrokes. Fails when the connection is not
// established; the caller decides whether to surface or discard that.
func (a *Adapter) SendInput(data string) error {
	env, err := wire.NewEnvelope(wire.TypeInput, wire.IOPayload{Data: data})
	if err != nil {
		return fmt.Errorf("encode input: %w", err)
	}
	if err := a.conn.Send(env); err != nil {
		return fmt.Errorf("send input: %w", err)
	}
	return nil
}

// Resize announces the client's terminal dimensions. A resize while not
// connected is dropped with a nil error; the dimensions travel with the next
// resize once the connection is back.
func (a *Adapter) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}
	env, err := wire.NewEnvelope(wire.TypeResize, wire.ResizePayload{Cols: cols, Rows: rows})
	if err != nil {
		return fmt.Errorf("encode resize: %w", err)
	}
	if err := a.conn.Send(env); err != nil {
		if errors.Is(err, transport.ErrNotConnected) {
			a.logger.Debug("Dropping resize while not connected", "cols", cols, "rows", rows)
			return nil
		}
		return fmt.Errorf("send resize: %w", err)
	}
	return nil
}

// SendControlSignal delivers a signal to the remote process. Unknown signal
// names are rejected before anything is sent; a send failure fires OnError as
// well as returning, since a lost interrupt must not pass unnoticed.
func (a *Adapter) SendControlSignal(signal string) error {
	if !wire.KnownSignal(signal) {
		err := fmt.Errorf("unknown control signal %q", signal)
		a.reportError(err)
		return err
	}
	env, err := wire.NewEnvelope(wire.TypeControl, wire.ControlPayload{Signal: signal})
	if err != nil {
		return fmt.Errorf("encode control: %w", err)
	}
	if err := a.conn.Send(env); err != nil {
		err = fmt.Errorf("send %s: %w", signal, err)
		a.reportError(err)
		return err
	}
	return nil
}

// Interrupt is SendControlSignal(SIGINT), the overwhelmingly common case.
func (a *Adapter) Interrupt() error {
	return a.SendControlSignal(wire.SignalInterrupt)
}

// Close detaches the adapter from the transport.
func (a *Adapter) Close() {
	a.closeOnce.Do(a.remove)
}

func (a *Adapter) route(env wire.Envelope) {
	switch env.Type {
	case wire.TypeOutput:
		var p wire.IOPayload
		if err := env.DecodeData(&p); err != nil {
			a.reportError(fmt.Errorf("decode output: %w", err))
			return
		}
		if a.cfg.OnOutput != nil {
			a.cfg.OnOutput(p.Data)
		}

	case wire.TypeError:
		var p wire.ErrorPayload
		if err := env.DecodeData(&p); err != nil {
			a.reportError(fmt.Errorf("decode error payload: %w", err))
			return
		}
		a.reportError(fmt.Errorf("remote error: %s", p.Error))

	default:
		a.logger.Debug("Ignoring envelope on terminal channel", "type", env.Type)
	}
}

func (a *Adapter) reportError(err error) {
	a.logger.Warn("Terminal channel error", "error", err)
	if a.cfg.OnError != nil {
		a.cfg.OnError(err)
	}
}
