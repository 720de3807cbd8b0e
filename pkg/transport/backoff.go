package transport

import "time"

// reconnectDelay computes the backoff before the n-th retry (0-based):
// min(base * 2^n, max). No jitter; each conn serves a single interactive
// attach, not a fleet.
func reconnectDelay(attempt int, base, max time.Duration) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	delay := base
	for i := 0; i < attempt; i++ {
		delay *= 2
		if delay >= max || delay <= 0 { // <= 0 guards duration overflow
			return max
		}
	}
	if delay > max {
		return max
	}
	return delay
}
