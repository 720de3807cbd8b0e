package transport

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestReconnectDelay(t *testing.T) {
	base := 1 * time.Second
	max := 30 * time.Second

	tests := []struct {
		name    string
		attempt int
		want    time.Duration
	}{
		{name: "first retry waits the base delay", attempt: 0, want: 1 * time.Second},
		{name: "second retry doubles", attempt: 1, want: 2 * time.Second},
		{name: "third retry doubles again", attempt: 2, want: 4 * time.Second},
		{name: "fifth retry", attempt: 4, want: 16 * time.Second},
		{name: "cap applies", attempt: 5, want: 30 * time.Second},
		{name: "far past the cap stays capped", attempt: 20, want: 30 * time.Second},
		{name: "negative attempt treated as zero", attempt: -3, want: 1 * time.Second},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, reconnectDelay(tt.attempt, base, max))
		})
	}
}

func TestReconnectDelay_OverflowGuard(t *testing.T) {
	// Doubling a large base enough times would overflow time.Duration;
	// the cap must win instead of going negative.
	got := reconnectDelay(80, time.Hour, 24*time.Hour)
	assert.Equal(t, 24*time.Hour, got)
}

func TestReconnectDelay_ExactFormula(t *testing.T) {
	base := 250 * time.Millisecond
	max := 10 * time.Second
	for k := 0; k < 8; k++ {
		want := base * (1 << k)
		if want > max {
			want = max
		}
		assert.Equal(t, want, reconnectDelay(k, base, max), "attempt %d", k)
	}
}
