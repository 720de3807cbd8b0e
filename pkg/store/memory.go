package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// MemoryStore keeps thread history in process memory. Used by tests and by
// dev deployments that don't care about history surviving a restart.
type MemoryStore struct {
	mu       sync.RWMutex
	sessions map[string][]wire.ThreadMessage // ascending by (ts, id)
	index    map[string]map[string]struct{}
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		sessions: make(map[string][]wire.ThreadMessage),
		index:    make(map[string]map[string]struct{}),
	}
}

// SaveMessage persists one message, keeping the session slice sorted.
func (s *MemoryStore) SaveMessage(_ context.Context, sessionID string, msg wire.ThreadMessage) error {
	if err := validateMessage(sessionID, msg); err != nil {
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	ids, ok := s.index[sessionID]
	if !ok {
		ids = make(map[string]struct{})
		s.index[sessionID] = ids
	}
	if _, dup := ids[msg.ID]; dup {
		return nil
	}
	ids[msg.ID] = struct{}{}

	msgs := append(s.sessions[sessionID], msg)
	sort.Slice(msgs, func(i, j int) bool { return msgs[i].Before(msgs[j]) })
	s.sessions[sessionID] = msgs
	return nil
}

// ThreadPage pages backward through a session's history.
func (s *MemoryStore) ThreadPage(_ context.Context, sessionID string, limit int, after string) (Page, error) {
	limit = normalizeLimit(limit)

	s.mu.RLock()
	defer s.mu.RUnlock()

	msgs := s.sessions[sessionID]
	eligible := msgs
	if after != "" {
		ts, id, err := decodeCursor(after)
		if err != nil {
			return Page{}, fmt.Errorf("thread page: %w", err)
		}
		// Everything strictly older than the cursor position.
		pos := wire.ThreadMessage{ID: id, Ts: ts}
		cut := sort.Search(len(msgs), func(i int) bool { return !msgs[i].Before(pos) })
		eligible = msgs[:cut]
	}

	page := Page{Total: len(msgs)}
	if len(eligible) == 0 {
		return page, nil
	}

	start := len(eligible) - limit
	if start < 0 {
		start = 0
	}
	window := eligible[start:]
	page.HasMore = start > 0
	page.Messages = make([]wire.ThreadMessage, len(window))
	copy(page.Messages, window)
	page.NextCursor = encodeCursor(window[0].Ts, window[0].ID)
	page.PrevCursor = encodeCursor(window[len(window)-1].Ts, window[len(window)-1].ID)
	return page, nil
}

// DeleteSession drops all messages of a session.
func (s *MemoryStore) DeleteSession(_ context.Context, sessionID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, sessionID)
	delete(s.index, sessionID)
	return nil
}

// DeleteMessagesBefore drops messages with ts older than cutoff from every
// session. Sessions whose history empties out are removed entirely.
func (s *MemoryStore) DeleteMessagesBefore(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var removed int64
	for sessionID, msgs := range s.sessions {
		// Slices are ascending by (ts, id); everything before the first
		// surviving message goes.
		cut := sort.Search(len(msgs), func(i int) bool { return !msgs[i].Ts.Before(cutoff) })
		if cut == 0 {
			continue
		}
		removed += int64(cut)
		for _, old := range msgs[:cut] {
			delete(s.index[sessionID], old.ID)
		}
		if cut == len(msgs) {
			delete(s.sessions, sessionID)
			delete(s.index, sessionID)
			continue
		}
		s.sessions[sessionID] = append([]wire.ThreadMessage(nil), msgs[cut:]...)
	}
	return removed, nil
}

// Ping always succeeds; memory is never down.
func (s *MemoryStore) Ping(context.Context) error { return nil }

// Close is a no-op.
func (s *MemoryStore) Close() error { return nil }
