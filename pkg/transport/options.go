package transport

import (
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"
)

// Defaults applied by DefaultOptions and by New for unset numeric fields.
const (
	DefaultMaxReconnectAttempts = 5
	DefaultReconnectDelay       = 1 * time.Second
	DefaultMaxReconnectDelay    = 30 * time.Second
	DefaultHeartbeatInterval    = 30 * time.Second
	DefaultConnectionTimeout    = 10 * time.Second
)

// writeTimeout bounds every socket write so a stalled peer cannot wedge the
// sender.
const writeTimeout = 10 * time.Second

// Options configures one connection attach.
type Options struct {
	// BaseURL is the server base, ws://, wss://, http:// or https://
	// (HTTP schemes are rewritten to their WebSocket equivalents).
	BaseURL string
	// Path is the channel endpoint, e.g. "/ws/thread/abc-123".
	Path string

	// MaxReconnectAttempts is the attempt budget N before the conn goes to
	// ERROR. Negative disables the budget check (retry forever).
	MaxReconnectAttempts int
	// ReconnectDelay is the base backoff delay d; the n-th retry waits
	// min(d * 2^n, MaxReconnectDelay).
	ReconnectDelay    time.Duration
	MaxReconnectDelay time.Duration
	// AutoReconnect enables the reconnection policy on unexpected closes.
	// Manual Disconnect never reconnects regardless of this setting.
	AutoReconnect bool
	// HeartbeatInterval is the ping cadence while connected.
	HeartbeatInterval time.Duration
	// ConnectionTimeout bounds connection establishment; it only applies
	// while CONNECTING.
	ConnectionTimeout time.Duration

	// Logger receives transport-level logs. Defaults to slog.Default().
	Logger *slog.Logger
}

// DefaultOptions returns the options a typical attach starts from.
func DefaultOptions() Options {
	return Options{
		MaxReconnectAttempts: DefaultMaxReconnectAttempts,
		ReconnectDelay:       DefaultReconnectDelay,
		MaxReconnectDelay:    DefaultMaxReconnectDelay,
		AutoReconnect:        true,
		HeartbeatInterval:    DefaultHeartbeatInterval,
		ConnectionTimeout:    DefaultConnectionTimeout,
	}
}

// withDefaults fills unset fields so partially populated Options behave.
func (o Options) withDefaults() Options {
	if o.MaxReconnectAttempts == 0 {
		o.MaxReconnectAttempts = DefaultMaxReconnectAttempts
	}
	if o.ReconnectDelay <= 0 {
		o.ReconnectDelay = DefaultReconnectDelay
	}
	if o.MaxReconnectDelay <= 0 {
		o.MaxReconnectDelay = DefaultMaxReconnectDelay
	}
	if o.HeartbeatInterval <= 0 {
		o.HeartbeatInterval = DefaultHeartbeatInterval
	}
	if o.ConnectionTimeout <= 0 {
		o.ConnectionTimeout = DefaultConnectionTimeout
	}
	if o.Logger == nil {
		o.Logger = slog.Default()
	}
	return o
}

// WebSocketURL joins base and path, rewriting HTTP schemes to WebSocket ones.
func WebSocketURL(base, path string) (string, error) {
	u, err := url.Parse(base)
	if err != nil {
		return "", fmt.Errorf("parse base url: %w", err)
	}
	switch u.Scheme {
	case "ws", "wss":
	case "http":
		u.Scheme = "ws"
	case "https":
		u.Scheme = "wss"
	default:
		return "", fmt.Errorf("unsupported scheme %q in base url", u.Scheme)
	}
	u.Path = strings.TrimRight(u.Path, "/") + path
	return u.String(), nil
}
