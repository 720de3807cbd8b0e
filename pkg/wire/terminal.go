package wire

// IOPayload is the data of input and output envelopes: verbatim bytes,
// carried as a string (terminal streams are UTF-8 with escape sequences).
type IOPayload struct {
	Data string `json:"data"`
}

// ResizePayload is the data of a resize envelope.
type ResizePayload struct {
	Cols int `json:"cols"`
	Rows int `json:"rows"`
}

// ControlPayload is the data of a control envelope.
type ControlPayload struct {
	Signal string `json:"signal"`
}

// Signals deliverable through a control envelope.
const (
	SignalInterrupt = "SIGINT"
	SignalTerminate = "SIGTERM"
	SignalKill      = "SIGKILL"
	SignalStop      = "SIGTSTP"
	SignalContinue  = "SIGCONT"
	SignalQuit      = "SIGQUIT"
)

var knownSignals = map[string]struct{}{
	SignalInterrupt: {},
	SignalTerminate: {},
	SignalKill:      {},
	SignalStop:      {},
	SignalContinue:  {},
	SignalQuit:      {},
}

// KnownSignal reports whether name is a signal control envelopes may carry.
func KnownSignal(name string) bool {
	_, ok := knownSignals[name]
	return ok
}
