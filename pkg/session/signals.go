package session

import (
	"syscall"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

// signalsByName maps wire-level control signal names onto the signals
// delivered to the shell's process group.
var signalsByName = map[string]syscall.Signal{
	wire.SignalInterrupt: syscall.SIGINT,
	wire.SignalTerminate: syscall.SIGTERM,
	wire.SignalKill:      syscall.SIGKILL,
	wire.SignalStop:      syscall.SIGTSTP,
	wire.SignalContinue:  syscall.SIGCONT,
	wire.SignalQuit:      syscall.SIGQUIT,
}
