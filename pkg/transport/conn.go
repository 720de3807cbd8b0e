// Package transport implements the reconnect-capable WebSocket discipline
// shared by relay's terminal and thread channels: one connection state
// machine per attach, exponential-backoff reconnection, heartbeat keepalive,
// and ordered observer notification.
package transport

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/coder/websocket"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Sentinel errors callers branch on.
var (
	// ErrNotConnected is returned by Send when no socket is established.
	// Nothing is queued; the caller owns retry semantics.
	ErrNotConnected = errors.New("not connected")
	// ErrClosed is returned by Connect after the conn has been torn down.
	ErrClosed = errors.New("connection closed")
)

type eventKind int

const (
	eventState eventKind = iota
	eventMessage
	eventError
)

// event is one queued observer notification.
type event struct {
	kind  eventKind
	state State
	env   wire.Envelope
	err   error
}

// Conn owns one WebSocket attach: its socket, its three timers (reconnect,
// heartbeat, connection timeout), and its observer sets. All observer
// callbacks are delivered serialized on a single dispatcher goroutine, in
// the order the transitions occurred.
type Conn struct {
	opts Options
	url  string

	mu         sync.Mutex
	state      State
	attempt    int
	epoch      int // bumped by Disconnect; invalidates outstanding timers and sockets
	sock       *websocket.Conn
	sockCtx    context.Context
	sockCancel context.CancelFunc
	dialCancel context.CancelFunc
	reconnect  *time.Timer

	writeMu sync.Mutex // serializes socket writes

	dispatchMu   sync.Mutex
	dispatchCond *sync.Cond
	queue        []event
	dispatchDone bool

	stateObs stateObservers
	msgObs   messageObservers
	errObs   errorObservers
}

// New creates a Conn for the channel endpoint described by opts. The conn
// starts DISCONNECTED; nothing touches the network until Connect.
func New(opts Options) (*Conn, error) {
	opts = opts.withDefaults()
	u, err := WebSocketURL(opts.BaseURL, opts.Path)
	if err != nil {
		return nil, err
	}
	c := &Conn{
		opts:  opts,
		url:   u,
		state: StateDisconnected,
	}
	c.dispatchCond = sync.NewCond(&c.dispatchMu)
	go c.dispatchLoop()
	return c, nil
}

// State returns the current connection state.
func (c *Conn) State() State {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.state
}

// OnState registers a state observer. The returned func removes it.
func (c *Conn) OnState(fn func(State)) func() { return c.stateObs.add(fn) }

// OnMessage registers an envelope observer for inbound frames. Keepalive
// frames (ping/pong) are handled by the transport and never delivered here.
func (c *Conn) OnMessage(fn func(wire.Envelope)) func() { return c.msgObs.add(fn) }

// OnError registers an error observer. It receives protocol faults
// (malformed frames) and exhaustion faults (attempt budget spent); transient
// socket closes are reported only as state changes.
func (c *Conn) OnError(fn func(error)) func() { return c.errObs.add(fn) }

// Connect starts connection establishment. It is a no-op when already
// CONNECTED or when an attempt is in flight, and fails only after teardown.
func (c *Conn) Connect() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return ErrClosed
	case StateConnected, StateConnecting, StateReconnecting:
		return nil
	case StateError:
		// An external retry out of ERROR starts a fresh attempt budget;
		// otherwise the first failed dial would exhaust it immediately.
		c.attempt = 0
	}
	c.connectLocked()
	return nil
}

// Disconnect tears down the socket and suppresses reconnection: every
// pending timer is invalidated before the state changes, so a stale timer
// can never revive the conn. A Disconnect while already DISCONNECTED moves
// the conn to CLOSED and releases its dispatcher.
func (c *Conn) Disconnect() {
	c.mu.Lock()
	defer c.mu.Unlock()
	switch c.state {
	case StateClosed:
		return
	case StateDisconnected:
		c.setStateLocked(StateClosed)
		c.dispatchMu.Lock()
		c.dispatchDone = true
		c.dispatchCond.Broadcast()
		c.dispatchMu.Unlock()
		return
	}
	c.epoch++
	if c.reconnect != nil {
		c.reconnect.Stop()
		c.reconnect = nil
	}
	if c.dialCancel != nil {
		c.dialCancel()
		c.dialCancel = nil
	}
	c.teardownSocketLocked()
	c.setStateLocked(StateDisconnected)
}

// Send transmits an envelope on the established socket. It never queues:
// when not CONNECTED it fails synchronously with ErrNotConnected.
func (c *Conn) Send(env wire.Envelope) error {
	c.mu.Lock()
	if c.state != StateConnected || c.sock == nil {
		c.mu.Unlock()
		return ErrNotConnected
	}
	sock, ctx := c.sock, c.sockCtx
	c.mu.Unlock()

	if err := c.write(ctx, sock, env); err != nil {
		return fmt.Errorf("send %s: %w", env.Type, err)
	}
	return nil
}

// connectLocked transitions to CONNECTING and starts a dial bounded by the
// connection-establishment timeout. Caller holds mu.
func (c *Conn) connectLocked() {
	c.setStateLocked(StateConnecting)
	epoch := c.epoch
	dialCtx, cancel := context.WithTimeout(context.Background(), c.opts.ConnectionTimeout)
	c.dialCancel = cancel
	go c.dial(dialCtx, cancel, epoch)
}

func (c *Conn) dial(ctx context.Context, cancel context.CancelFunc, epoch int) {
	sock, _, err := websocket.Dial(ctx, c.url, nil) //nolint:bodyclose // response body is managed by the websocket conn
	cancel()

	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state != StateConnecting {
		// Manually disconnected while dialing; discard whatever we got.
		if sock != nil {
			_ = sock.CloseNow()
		}
		return
	}
	c.dialCancel = nil

	if err != nil {
		c.opts.Logger.Warn("connection attempt failed", "url", c.url, "error", err)
		c.handleCloseLocked()
		return
	}

	sockCtx, sockCancel := context.WithCancel(context.Background())
	c.sock = sock
	c.sockCtx = sockCtx
	c.sockCancel = sockCancel
	c.attempt = 0
	c.setStateLocked(StateConnected)

	go c.readLoop(sockCtx, sock, epoch)
	go c.heartbeatLoop(sockCtx, sock)
}

// handleCloseLocked applies the reconnection policy after an unexpected
// close, a failed dial, or a connection timeout. Caller holds mu with a
// current epoch; manual disconnects never reach here.
func (c *Conn) handleCloseLocked() {
	if !c.opts.AutoReconnect {
		c.setStateLocked(StateDisconnected)
		return
	}
	if c.opts.MaxReconnectAttempts >= 0 && c.attempt >= c.opts.MaxReconnectAttempts {
		c.enqueue(event{
			kind: eventError,
			err:  fmt.Errorf("connection closed after %d reconnection attempts", c.opts.MaxReconnectAttempts),
		})
		c.setStateLocked(StateError)
		return
	}

	delay := reconnectDelay(c.attempt, c.opts.ReconnectDelay, c.opts.MaxReconnectDelay)
	c.attempt++
	c.setStateLocked(StateReconnecting)
	epoch := c.epoch
	c.reconnect = time.AfterFunc(delay, func() { c.onReconnectTimer(epoch) })
	c.opts.Logger.Info("reconnect scheduled", "attempt", c.attempt, "delay", delay)
}

func (c *Conn) onReconnectTimer(epoch int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch || c.state != StateReconnecting {
		return // canceled by a manual disconnect before firing
	}
	c.reconnect = nil
	c.connectLocked()
}

func (c *Conn) readLoop(ctx context.Context, sock *websocket.Conn, epoch int) {
	for {
		_, data, err := sock.Read(ctx)
		if err != nil {
			c.onSocketClosed(epoch, err)
			return
		}

		env, derr := wire.DecodeEnvelope(data)
		if derr != nil {
			// Protocol fault: reported, connection stays up.
			c.opts.Logger.Warn("dropping malformed frame", "error", derr)
			c.enqueue(event{kind: eventError, err: derr})
			continue
		}

		switch env.Type {
		case wire.TypePing:
			pong, _ := wire.NewEnvelope(wire.TypePong, nil)
			if werr := c.write(ctx, sock, pong); werr != nil {
				c.opts.Logger.Warn("pong write failed", "error", werr)
			}
		case wire.TypePong:
			// Accepted but untracked: liveness is inferred from socket
			// close events, not pong accounting.
		default:
			c.enqueue(event{kind: eventMessage, env: env})
		}
	}
}

func (c *Conn) onSocketClosed(epoch int, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.epoch != epoch {
		return // manual teardown already handled this socket
	}
	c.teardownSocketLocked()
	c.opts.Logger.Warn("socket closed unexpectedly",
		"status", int(websocket.CloseStatus(err)), "error", err)
	c.handleCloseLocked()
}

func (c *Conn) teardownSocketLocked() {
	if c.sockCancel != nil {
		c.sockCancel()
		c.sockCancel = nil
	}
	if c.sock != nil {
		_ = c.sock.CloseNow()
		c.sock = nil
	}
	c.sockCtx = nil
}

// heartbeatLoop pings on a fixed cadence while the socket lives. Its only
// job is to keep intermediaries from reaping an idle socket; pong receipt is
// deliberately not tracked against a deadline.
func (c *Conn) heartbeatLoop(ctx context.Context, sock *websocket.Conn) {
	ticker := time.NewTicker(c.opts.HeartbeatInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ping, _ := wire.NewEnvelope(wire.TypePing, nil)
			if err := c.write(ctx, sock, ping); err != nil {
				c.opts.Logger.Debug("heartbeat write failed", "error", err)
				return
			}
		}
	}
}

func (c *Conn) write(ctx context.Context, sock *websocket.Conn, env wire.Envelope) error {
	b, err := env.Encode()
	if err != nil {
		return err
	}
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return sock.Write(wctx, websocket.MessageText, b)
}

func (c *Conn) setStateLocked(next State) {
	if c.state == next {
		return // no duplicate notifications for repeated identical states
	}
	c.state = next
	c.opts.Logger.Debug("connection state changed", "state", string(next))
	c.enqueue(event{kind: eventState, state: next})
}

func (c *Conn) enqueue(ev event) {
	c.dispatchMu.Lock()
	if !c.dispatchDone {
		c.queue = append(c.queue, ev)
		c.dispatchCond.Signal()
	}
	c.dispatchMu.Unlock()
}

// dispatchLoop delivers queued events one at a time, in transition order.
// FIFO delivery is what makes Disconnect final from an observer's point of
// view: the epoch guard stops timers from producing transitions after a
// manual disconnect, so the DISCONNECTED notification is always the last
// state an observer sees.
func (c *Conn) dispatchLoop() {
	for {
		c.dispatchMu.Lock()
		for len(c.queue) == 0 && !c.dispatchDone {
			c.dispatchCond.Wait()
		}
		if len(c.queue) == 0 && c.dispatchDone {
			c.dispatchMu.Unlock()
			return
		}
		ev := c.queue[0]
		c.queue = c.queue[1:]
		c.dispatchMu.Unlock()

		switch ev.kind {
		case eventState:
			c.stateObs.emit(ev.state)
		case eventMessage:
			c.msgObs.emit(ev.env)
		case eventError:
			c.errObs.emit(ev.err)
		}
	}
}
