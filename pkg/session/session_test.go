package session

import (
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/codeready-toolchain/relay/pkg/wire"
)

const (
	waitFor = 5 * time.Second
	tick    = 20 * time.Millisecond
)

func testConfig() Config {
	return Config{
		Shell:        []string{"/bin/sh"},
		ReplayBytes:  DefaultReplayBytes,
		IdleTimeout:  time.Minute,
		ReapInterval: time.Minute,
	}
}

// outputSink accumulates attachment output so tests can poll for markers
// instead of reading the channel inline.
type outputSink struct {
	mu     sync.Mutex
	data   []byte
	closed bool
}

func collect(t *testing.T, a *Attachment) *outputSink {
	t.Helper()
	sink := &outputSink{}
	go func() {
		for chunk := range a.Output() {
			sink.mu.Lock()
			sink.data = append(sink.data, chunk...)
			sink.mu.Unlock()
		}
		sink.mu.Lock()
		sink.closed = true
		sink.mu.Unlock()
	}()
	return sink
}

func (s *outputSink) contains(marker string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return strings.Contains(string(s.data), marker)
}

func (s *outputSink) isClosed() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.closed
}

func TestSessionRunsShellCommand(t *testing.T) {
	s := newSession("run-test", testConfig())
	t.Cleanup(s.Close)

	a, err := s.Attach()
	require.NoError(t, err)
	sink := collect(t, a)

	// The arithmetic expansion distinguishes real shell output from the
	// PTY's echo of the typed command.
	require.NoError(t, s.WriteInput([]byte("echo relay-$((6*7))\n")))
	require.Eventually(t, func() bool { return sink.contains("relay-42") }, waitFor, tick,
		"shell output should reach the attachment")
	assert.True(t, s.Running())
}

func TestAttachReplaysScrollback(t *testing.T) {
	s := newSession("replay-test", testConfig())
	t.Cleanup(s.Close)

	a, err := s.Attach()
	require.NoError(t, err)
	first := collect(t, a)

	require.NoError(t, s.WriteInput([]byte("echo first-marker\n")))
	require.Eventually(t, func() bool { return first.contains("first-marker") }, waitFor, tick)

	// A later attachment must receive the buffered scrollback.
	b, err := s.Attach()
	require.NoError(t, err)
	second := collect(t, b)

	require.Eventually(t, func() bool { return second.contains("first-marker") }, waitFor, tick,
		"replay buffer should be delivered on attach")
}

func TestReplayBufferBounded(t *testing.T) {
	cfg := testConfig()
	cfg.ReplayBytes = 128
	s := newSession("bounded-test", cfg)
	t.Cleanup(s.Close)

	a, err := s.Attach()
	require.NoError(t, err)
	first := collect(t, a)

	script := "i=0; while [ $i -lt 100 ]; do echo line-$i; i=$((i+1)); done\n"
	require.NoError(t, s.WriteInput([]byte(script)))
	require.Eventually(t, func() bool { return first.contains("line-99") }, waitFor, tick)

	b, err := s.Attach()
	require.NoError(t, err)
	second := collect(t, b)

	require.Eventually(t, func() bool { return second.contains("line-99") }, waitFor, tick)
	assert.False(t, second.contains("line-0\r"),
		"early output should have been trimmed from the replay buffer")
}

func TestShellExitClosesAttachmentsAndRespawns(t *testing.T) {
	cfg := testConfig()
	cfg.Shell = []string{"/bin/sh", "-c", "echo once-marker; exit 0"}
	s := newSession("exit-test", cfg)
	t.Cleanup(s.Close)

	a, err := s.Attach()
	require.NoError(t, err)
	sink := collect(t, a)

	require.Eventually(t, func() bool { return sink.contains("once-marker") }, waitFor, tick)
	require.Eventually(t, sink.isClosed, waitFor, tick,
		"shell exit should close the attachment")
	assert.False(t, s.Running())

	// The next attach starts a fresh shell with an empty replay buffer, so
	// the marker appearing again proves a respawn.
	b, err := s.Attach()
	require.NoError(t, err)
	respawned := collect(t, b)

	require.Eventually(t, func() bool { return respawned.contains("once-marker") }, waitFor, tick,
		"attach after exit should respawn the shell")
}

func TestSignalReachesProcessGroup(t *testing.T) {
	script := `trap 'echo got-interrupt; exit 0' INT
echo trap-ready
while true; do sleep 1; done`
	cfg := testConfig()
	cfg.Shell = []string{"/bin/sh", "-c", script}
	s := newSession("signal-test", cfg)
	t.Cleanup(s.Close)

	a, err := s.Attach()
	require.NoError(t, err)
	sink := collect(t, a)

	require.Eventually(t, func() bool { return sink.contains("trap-ready") }, waitFor, tick)

	require.NoError(t, s.Signal(wire.SignalInterrupt))
	require.Eventually(t, func() bool { return sink.contains("got-interrupt") }, waitFor, tick,
		"SIGINT should reach the shell's process group")
}

func TestSignalValidation(t *testing.T) {
	s := newSession("signal-validation-test", testConfig())
	t.Cleanup(s.Close)

	assert.ErrorContains(t, s.Signal("SIGWAT"), "unknown signal")
	assert.ErrorIs(t, s.Signal(wire.SignalTerminate), ErrNotRunning)
}

func TestSignalTableCoversKnownSignals(t *testing.T) {
	names := []string{
		wire.SignalInterrupt,
		wire.SignalTerminate,
		wire.SignalKill,
		wire.SignalStop,
		wire.SignalContinue,
		wire.SignalQuit,
	}
	for _, name := range names {
		assert.True(t, wire.KnownSignal(name), "wire should know %s", name)
		_, ok := signalsByName[name]
		assert.True(t, ok, "session should map %s", name)
	}
	assert.False(t, wire.KnownSignal("SIGWAT"))
}

func TestResizeValidatesAndPersists(t *testing.T) {
	s := newSession("resize-test", testConfig())
	t.Cleanup(s.Close)

	assert.Error(t, s.Resize(0, 24))
	assert.Error(t, s.Resize(80, -1))

	// Dimensions set before the shell spawns apply at spawn time.
	require.NoError(t, s.Resize(120, 40))
	info := s.Info()
	assert.False(t, info.Running)
	assert.Equal(t, 120, info.Cols)
	assert.Equal(t, 40, info.Rows)

	a, err := s.Attach()
	require.NoError(t, err)
	sink := collect(t, a)

	require.NoError(t, s.WriteInput([]byte("stty size\n")))
	require.Eventually(t, func() bool { return sink.contains("40 120") }, waitFor, tick,
		"shell should spawn with the stored dimensions")

	require.NoError(t, s.Resize(100, 30))
	require.NoError(t, s.WriteInput([]byte("stty size\n")))
	require.Eventually(t, func() bool { return sink.contains("30 100") }, waitFor, tick,
		"live resize should propagate to the PTY")
}

func TestWriteInputBeforeAttach(t *testing.T) {
	s := newSession("input-test", testConfig())
	t.Cleanup(s.Close)

	assert.ErrorIs(t, s.WriteInput([]byte("ls\n")), ErrNotRunning)
}

func TestCloseIsIdempotent(t *testing.T) {
	s := newSession("close-test", testConfig())

	a, err := s.Attach()
	require.NoError(t, err)
	sink := collect(t, a)

	s.Close()
	s.Close()

	require.Eventually(t, sink.isClosed, waitFor, tick)
	assert.False(t, s.Running())

	_, err = s.Attach()
	assert.ErrorIs(t, err, ErrClosed)
	assert.ErrorIs(t, s.WriteInput([]byte("x")), ErrNotRunning)
}
