package transport

// State is the lifecycle state of one connection attach.
type State string

const (
	// StateDisconnected is the initial state, and the result of a manual
	// Disconnect. No socket, no timers.
	StateDisconnected State = "DISCONNECTED"
	// StateConnecting means a dial is in flight, bounded by the
	// connection-establishment timeout.
	StateConnecting State = "CONNECTING"
	// StateConnected means the socket is open; the heartbeat monitor and
	// channel adapters are active.
	StateConnected State = "CONNECTED"
	// StateReconnecting means an unexpected close occurred and the backoff
	// timer for the next attempt is pending.
	StateReconnecting State = "RECONNECTING"
	// StateError is terminal for the policy: the attempt budget is exhausted.
	// Only an external Connect() leaves it.
	StateError State = "ERROR"
	// StateClosed is the torn-down state; the conn will not be used again.
	StateClosed State = "CLOSED"
)
