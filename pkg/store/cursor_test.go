package store

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCursor_RoundTrip(t *testing.T) {
	ts := time.Date(2026, 3, 1, 10, 0, 0, 123456789, time.UTC)

	token := encodeCursor(ts, "01JK3Y9PZD8Q4R")
	gotTs, gotID, err := decodeCursor(token)
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTs), "nanosecond precision survives")
	assert.Equal(t, "01JK3Y9PZD8Q4R", gotID)
}

func TestCursor_IDMayContainSeparator(t *testing.T) {
	ts := time.Unix(0, 42).UTC()

	token := encodeCursor(ts, "odd|id|chars")
	gotTs, gotID, err := decodeCursor(token)
	require.NoError(t, err)
	assert.True(t, ts.Equal(gotTs))
	assert.Equal(t, "odd|id|chars", gotID)
}

func TestDecodeCursor_Malformed(t *testing.T) {
	tests := []struct {
		name  string
		token string
	}{
		{name: "not base64", token: "!!!"},
		{name: "no separator", token: "MTIzNDU"},        // "12345"
		{name: "bad nanos", token: "YWJjfG0x"},          // "abc|m1"
		{name: "empty id", token: "MTIzfA"},             // "123|"
		{name: "empty token", token: ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, err := decodeCursor(tt.token)
			assert.ErrorIs(t, err, ErrBadCursor)
		})
	}
}
