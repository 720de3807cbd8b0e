package wire

import "time"

// Role identifies who authored a thread message.
type Role string

const (
	RoleUser   Role = "user"
	RoleAgent  Role = "agent"
	RoleSystem Role = "system"
)

// Raw history message types as served by the REST endpoint. Anything not
// listed here maps to RoleAgent.
const (
	RawTypeUserInput    = "user_input"
	RawTypeSystem       = "system"
	RawTypeAgentMessage = "agent_message"
)

// MessageMetadata carries optional structured context attached to a thread
// message (tool results, touched files, command exit codes).
type MessageMetadata struct {
	Kind     string   `json:"kind,omitempty"`
	Files    []string `json:"files,omitempty"`
	ExitCode *int     `json:"exitCode,omitempty"`
}

// ThreadMessage is one chat message as consumers see it. Identity is ID;
// Ts determines display order, not arrival order.
type ThreadMessage struct {
	ID       string           `json:"id"`
	Role     Role             `json:"role"`
	Content  string           `json:"content"`
	Ts       time.Time        `json:"ts"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// Before reports whether m sorts ahead of other in the thread view.
// Equal timestamps tie-break on ID so ordering is deterministic.
func (m ThreadMessage) Before(other ThreadMessage) bool {
	if m.Ts.Equal(other.Ts) {
		return m.ID < other.ID
	}
	return m.Ts.Before(other.Ts)
}

// RawMessage is the REST history wire shape. Its Type field predates the
// role enum, so history responses are converted via ThreadMessage().
type RawMessage struct {
	ID       string           `json:"id"`
	Type     string           `json:"type"`
	Content  string           `json:"content"`
	Ts       time.Time        `json:"ts"`
	Metadata *MessageMetadata `json:"metadata,omitempty"`
}

// ThreadMessage converts the raw history shape, mapping Type to a Role:
// user_input → user, system → system, everything else → agent.
func (r RawMessage) ThreadMessage() ThreadMessage {
	role := RoleAgent
	switch r.Type {
	case RawTypeUserInput:
		role = RoleUser
	case RawTypeSystem:
		role = RoleSystem
	}
	return ThreadMessage{
		ID:       r.ID,
		Role:     role,
		Content:  r.Content,
		Ts:       r.Ts,
		Metadata: r.Metadata,
	}
}

// RawTypeForRole is the server-side inverse of the Type → Role mapping.
func RawTypeForRole(role Role) string {
	switch role {
	case RoleUser:
		return RawTypeUserInput
	case RoleSystem:
		return RawTypeSystem
	default:
		return RawTypeAgentMessage
	}
}

// HistoryResponse is the REST history page as it crosses the wire.
// Cursors are server-opaque tokens; clients echo them back unparsed.
type HistoryResponse struct {
	Messages   []RawMessage `json:"messages"`
	HasMore    bool         `json:"hasMore"`
	Total      int          `json:"total"`
	NextCursor string       `json:"nextCursor,omitempty"`
	PrevCursor string       `json:"prevCursor,omitempty"`
}

// UserMessagePayload is the data of a user_message envelope.
type UserMessagePayload struct {
	Content string `json:"content"`
}

// ConnectionStatusPayload is the data of a connection_status envelope.
type ConnectionStatusPayload struct {
	Status  string `json:"status"`
	Message string `json:"message,omitempty"`
}

// ErrorPayload is the data of an error envelope.
type ErrorPayload struct {
	Error string `json:"error"`
}
