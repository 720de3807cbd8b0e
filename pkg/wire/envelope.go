// Package wire defines the envelope protocol spoken over relay's WebSocket
// channels and the REST history surface.
//
// ════════════════════════════════════════════════════════════════
// Envelope Protocol
// ════════════════════════════════════════════════════════════════
//
// Every WebSocket frame carries one JSON envelope:
//
//	{"type": "...", "data": {...}, "timestamp": "RFC3339", "id": "..."}
//
// "type" selects the payload shape; "data" is opaque to the transport and
// decoded by whichever channel adapter recognizes the type. "timestamp" is
// stamped at send time when the sender left it zero. "id" is caller-assigned
// on outbound messages for correlation; it only needs to be unique within one
// thread's dedup window, never globally.
//
// The two channels interpret disjoint type vocabularies:
//
//	thread:   user_message (out), thread_message (in),
//	          connection_status (in), error (in)
//	terminal: input (out), output (in), resize (out), control (out)
//	shared:   ping, pong
//
// Unrecognized types are logged and skipped by receivers, never treated as
// fatal, so the vocabulary can grow without breaking deployed clients.
//
// ════════════════════════════════════════════════════════════════
package wire

import (
	"encoding/json"
	"fmt"
	"time"
)

// Thread channel envelope types.
const (
	TypeUserMessage      = "user_message"      // client → server: send a chat message
	TypeThreadMessage    = "thread_message"    // server → client: a chat message (live or echo)
	TypeConnectionStatus = "connection_status" // server → client: informational status
	TypeError            = "error"             // server → client: reportable failure
)

// Terminal channel envelope types.
const (
	TypeInput   = "input"   // client → server: verbatim keystroke bytes
	TypeOutput  = "output"  // server → client: verbatim PTY output bytes
	TypeResize  = "resize"  // client → server: terminal geometry change
	TypeControl = "control" // client → server: signal delivery
)

// Keepalive envelope types, shared by both channels.
const (
	TypePing = "ping"
	TypePong = "pong"
)

// Envelope is the typed wrapper carried over the transport.
type Envelope struct {
	Type      string          `json:"type"`
	Data      json.RawMessage `json:"data,omitempty"`
	Timestamp string          `json:"timestamp,omitempty"` // RFC3339Nano
	ID        string          `json:"id,omitempty"`
}

// NewEnvelope builds an envelope of the given type, marshaling data as the
// payload. A nil data produces an envelope without a data field (ping/pong).
// The timestamp is stamped here so every outbound envelope carries one.
func NewEnvelope(typ string, data any) (Envelope, error) {
	env := Envelope{
		Type:      typ,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
	}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return Envelope{}, fmt.Errorf("marshal %s payload: %w", typ, err)
		}
		env.Data = raw
	}
	return env, nil
}

// Encode serializes the envelope for the wire.
func (e Envelope) Encode() ([]byte, error) {
	if e.Type == "" {
		return nil, fmt.Errorf("envelope has no type")
	}
	b, err := json.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("marshal envelope: %w", err)
	}
	return b, nil
}

// DecodeEnvelope parses a wire frame. Unknown fields are tolerated; a missing
// type is not, since nothing downstream can dispatch the frame.
func DecodeEnvelope(b []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(b, &env); err != nil {
		return Envelope{}, fmt.Errorf("malformed envelope: %w", err)
	}
	if env.Type == "" {
		return Envelope{}, fmt.Errorf("envelope missing type")
	}
	return env, nil
}

// DecodeData unmarshals the envelope payload into v.
func (e Envelope) DecodeData(v any) error {
	if len(e.Data) == 0 {
		return fmt.Errorf("%s envelope has no data", e.Type)
	}
	if err := json.Unmarshal(e.Data, v); err != nil {
		return fmt.Errorf("decode %s payload: %w", e.Type, err)
	}
	return nil
}
