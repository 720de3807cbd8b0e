package store

import (
	"encoding/base64"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Cursors encode a (ts, id) position as base64("nanos|id"). They are opaque
// to clients; the encoding may change between releases since cursors are
// only expected to survive a paging session, not storage.

func encodeCursor(ts time.Time, id string) string {
	raw := fmt.Sprintf("%d|%s", ts.UnixNano(), id)
	return base64.RawURLEncoding.EncodeToString([]byte(raw))
}

func decodeCursor(token string) (time.Time, string, error) {
	raw, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	nanosStr, id, found := strings.Cut(string(raw), "|")
	if !found || id == "" {
		return time.Time{}, "", ErrBadCursor
	}
	nanos, err := strconv.ParseInt(nanosStr, 10, 64)
	if err != nil {
		return time.Time{}, "", fmt.Errorf("%w: %v", ErrBadCursor, err)
	}
	return time.Unix(0, nanos).UTC(), id, nil
}
