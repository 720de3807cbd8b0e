package thread

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// ErrLoadInFlight is returned when a history load is requested while a
// previous one has not finished. The in-flight load's outcome is what the
// caller should wait for.
var ErrLoadInFlight = errors.New("history load already in flight")

// Fetcher retrieves one history page. afterCursor is the server-opaque token
// from a previous page, or empty for the newest page. Implemented by
// HistoryClient.
type Fetcher interface {
	FetchPage(ctx context.Context, afterCursor string) (wire.HistoryResponse, error)
}

// Reconciler merges thread messages from two sources, the paged REST history
// and the live WebSocket stream, into one deduplicated view ordered by
// timestamp. Live messages may arrive before, during, or after a page fetch;
// the merge is idempotent on message ID, so the same message delivered over
// both paths appears exactly once.
//
// The mutex guards the message set and the single-flight load flag. Page
// fetches run outside it so a slow server never blocks live merges.
type Reconciler struct {
	fetcher Fetcher

	mu         sync.Mutex
	messages   []wire.ThreadMessage
	seen       map[string]struct{}
	hasMore    bool
	total      int
	nextCursor string
	prevCursor string
	loading    bool
}

// NewReconciler creates an empty reconciler. hasMore starts true: until the
// first page is fetched, there may be history to load.
func NewReconciler(fetcher Fetcher) *Reconciler {
	return &Reconciler{
		fetcher: fetcher,
		seen:    make(map[string]struct{}),
		hasMore: true,
	}
}

// LoadHistory fetches the newest page and merges it into the view. A call
// while another load is in flight does not issue a second request; it returns
// ErrLoadInFlight.
func (r *Reconciler) LoadHistory(ctx context.Context) error {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return ErrLoadInFlight
	}
	r.loading = true
	r.mu.Unlock()

	return r.fetch(ctx, "", false)
}

// LoadMore fetches the page preceding the oldest loaded one. It is a no-op
// when everything is already loaded or a load is in flight; paging past the
// end is not an error.
func (r *Reconciler) LoadMore(ctx context.Context) error {
	r.mu.Lock()
	if r.loading || !r.hasMore {
		r.mu.Unlock()
		return nil
	}
	cursor := r.nextCursor
	r.loading = true
	r.mu.Unlock()

	return r.fetch(ctx, cursor, false)
}

// Refresh discards the held set and reloads the newest page, replacing local
// state. Used to resync after a reconnect where the stream may have gapped.
// The old set is kept if the fetch fails.
func (r *Reconciler) Refresh(ctx context.Context) error {
	r.mu.Lock()
	if r.loading {
		r.mu.Unlock()
		return ErrLoadInFlight
	}
	r.loading = true
	r.mu.Unlock()

	return r.fetch(ctx, "", true)
}

// fetch runs one page request with the single-flight flag held and applies
// the result. Must only be called after the caller has set r.loading.
func (r *Reconciler) fetch(ctx context.Context, after string, replace bool) error {
	page, err := r.fetcher.FetchPage(ctx, after)

	r.mu.Lock()
	defer r.mu.Unlock()
	r.loading = false

	if err != nil {
		return fmt.Errorf("fetch thread page: %w", err)
	}

	if replace {
		r.messages = nil
		r.seen = make(map[string]struct{})
	}
	for _, raw := range page.Messages {
		r.addLocked(raw.ThreadMessage())
	}
	r.sortLocked()

	r.hasMore = page.HasMore
	r.total = page.Total
	r.nextCursor = page.NextCursor
	r.prevCursor = page.PrevCursor
	return nil
}

// AddMessage merges one live message into the view. Re-adding an ID that is
// already present changes nothing. Reports whether the message was new.
func (r *Reconciler) AddMessage(msg wire.ThreadMessage) bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := r.addLocked(msg)
	if added {
		r.sortLocked()
	}
	return added
}

// AddMessages merges a batch, returning how many were new.
func (r *Reconciler) AddMessages(msgs []wire.ThreadMessage) int {
	r.mu.Lock()
	defer r.mu.Unlock()
	added := 0
	for _, msg := range msgs {
		if r.addLocked(msg) {
			added++
		}
	}
	if added > 0 {
		r.sortLocked()
	}
	return added
}

// addLocked appends msg unless its ID is already present. Messages without an
// ID cannot be deduplicated and are always kept. Does not re-sort.
func (r *Reconciler) addLocked(msg wire.ThreadMessage) bool {
	if msg.ID != "" {
		if _, dup := r.seen[msg.ID]; dup {
			return false
		}
		r.seen[msg.ID] = struct{}{}
	}
	r.messages = append(r.messages, msg)
	return true
}

func (r *Reconciler) sortLocked() {
	sort.Slice(r.messages, func(i, j int) bool {
		return r.messages[i].Before(r.messages[j])
	})
}

// Clear empties the view and resets pagination so the next load starts from
// the newest page again.
func (r *Reconciler) Clear() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.messages = nil
	r.seen = make(map[string]struct{})
	r.hasMore = true
	r.total = 0
	r.nextCursor = ""
	r.prevCursor = ""
}

// Messages returns a snapshot of the merged view, ordered oldest first. The
// returned slice is the caller's to keep.
func (r *Reconciler) Messages() []wire.ThreadMessage {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]wire.ThreadMessage, len(r.messages))
	copy(out, r.messages)
	return out
}

// Len returns the number of held messages.
func (r *Reconciler) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.messages)
}

// HasMore reports whether older pages remain to be fetched.
func (r *Reconciler) HasMore() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.hasMore
}

// Total returns the server-reported total message count from the last page
// fetch, which may exceed the number held locally.
func (r *Reconciler) Total() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.total
}
