// Package store persists thread messages and serves them back as
// cursor-paged history. Three backends share one contract: an in-memory map
// for tests and dev, SQLite for single-node deployments, and PostgreSQL for
// everything else. SQL backends apply embedded migrations on startup.
//
// Pages are keyed on (ts, id) descending: the first page holds the newest
// messages, and the after cursor walks toward older ones. Messages inside a
// page are returned ascending so consumers can append them directly.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// Page limits. Requests outside the range are clamped, not rejected.
const (
	DefaultPageLimit = 50
	MaxPageLimit     = 200
)

// ErrBadCursor is returned when a history cursor fails to decode. Cursors are
// opaque tokens minted by this package; anything else is a caller bug.
var ErrBadCursor = errors.New("malformed history cursor")

// Page is one slice of a session's thread history.
type Page struct {
	Messages   []wire.ThreadMessage // ascending by (ts, id)
	HasMore    bool                 // older messages exist past NextCursor
	Total      int                  // all messages in the session, not just this page
	NextCursor string               // walks older; empty when the page is empty
	PrevCursor string               // walks newer; empty when the page is empty
}

// Store is the persistence contract for thread history.
type Store interface {
	// SaveMessage persists one message. Saving an (session, id) pair that
	// already exists is a no-op, so publish retries are safe.
	SaveMessage(ctx context.Context, sessionID string, msg wire.ThreadMessage) error
	// ThreadPage returns up to limit messages, newest page first. after is a
	// cursor from a previous page, or empty for the newest page.
	ThreadPage(ctx context.Context, sessionID string, limit int, after string) (Page, error)
	// DeleteSession removes every message of a session. Unknown sessions
	// delete nothing and return nil.
	DeleteSession(ctx context.Context, sessionID string) error
	// DeleteMessagesBefore removes all messages older than cutoff, across
	// every session, and reports how many were removed.
	DeleteMessagesBefore(ctx context.Context, cutoff time.Time) (int64, error)
	// Ping verifies the backend is reachable.
	Ping(ctx context.Context) error
	Close() error
}

// validateMessage rejects records the schema cannot hold. IDs and timestamps
// are assigned upstream (the hub stamps them before persisting).
func validateMessage(sessionID string, msg wire.ThreadMessage) error {
	if sessionID == "" {
		return fmt.Errorf("save message: session id is required")
	}
	if msg.ID == "" {
		return fmt.Errorf("save message: message id is required")
	}
	if msg.Ts.IsZero() {
		return fmt.Errorf("save message: timestamp is required")
	}
	return nil
}

// normalizeLimit clamps a requested page size into the allowed range.
func normalizeLimit(limit int) int {
	if limit <= 0 {
		return DefaultPageLimit
	}
	if limit > MaxPageLimit {
		return MaxPageLimit
	}
	return limit
}

// buildPage shapes rows fetched newest-first (up to limit+1 of them, the
// extra row signalling more pages) into an ascending Page with cursors.
func buildPage(rows []wire.ThreadMessage, limit, total int) Page {
	hasMore := len(rows) > limit
	if hasMore {
		rows = rows[:limit]
	}
	page := Page{HasMore: hasMore, Total: total}
	if len(rows) == 0 {
		return page
	}

	newest := rows[0]
	oldest := rows[len(rows)-1]
	page.PrevCursor = encodeCursor(newest.Ts, newest.ID)
	page.NextCursor = encodeCursor(oldest.Ts, oldest.ID)

	for i, j := 0, len(rows)-1; i < j; i, j = i+1, j-1 {
		rows[i], rows[j] = rows[j], rows[i]
	}
	page.Messages = rows
	return page
}
