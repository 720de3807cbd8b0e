package session

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/exec"
	"sync"
	"syscall"
	"time"

	"github.com/creack/pty"
	"github.com/google/uuid"
)

const (
	// DefaultReplayBytes bounds the scrollback replayed to a newly attached
	// consumer.
	DefaultReplayBytes = 256 << 10

	defaultCols = 80
	defaultRows = 24

	readBufSize   = 4096
	outputChanCap = 128
)

var (
	// ErrClosed is returned when operating on a session that has been closed.
	ErrClosed = errors.New("session closed")

	// ErrNotRunning is returned when an operation needs a live shell and the
	// session has none. The shell spawns on the first Attach.
	ErrNotRunning = errors.New("session not running")
)

// Session hosts a single PTY-backed shell. The shell spawns lazily on the
// first Attach and respawns on the next Attach after it exits. PTY output
// fans out to every attachment and accumulates in a bounded replay buffer so
// reconnecting clients recover recent scrollback.
type Session struct {
	ID        string
	CreatedAt time.Time

	shell       []string
	workDir     string
	env         []string
	replayLimit int

	mu          sync.Mutex
	ptmx        *os.File
	cmd         *exec.Cmd
	running     bool
	closed      bool
	cols        uint16
	rows        uint16
	lastActive  time.Time
	attachments map[string]*Attachment
	replay      []byte
}

// Attachment is one consumer of a session's terminal output. Output delivers
// replayed scrollback first, then live PTY output. The channel closes when
// the attachment detaches, the shell exits, or the session closes.
type Attachment struct {
	id      string
	out     chan []byte
	session *Session
	once    sync.Once
}

// Info is a point-in-time snapshot of a session for API responses.
type Info struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"createdAt"`
	LastActive  time.Time `json:"lastActive"`
	Running     bool      `json:"running"`
	Attachments int       `json:"attachments"`
	Cols        int       `json:"cols"`
	Rows        int       `json:"rows"`
}

func newSession(id string, cfg Config) *Session {
	now := time.Now()
	return &Session{
		ID:          id,
		CreatedAt:   now,
		shell:       cfg.Shell,
		workDir:     cfg.WorkDir,
		env:         cfg.Env,
		replayLimit: cfg.ReplayBytes,
		cols:        defaultCols,
		rows:        defaultRows,
		lastActive:  now,
		attachments: make(map[string]*Attachment),
	}
}

// Attach registers an output consumer, spawning the shell on first use. Any
// buffered scrollback is queued on the returned attachment ahead of live
// output.
func (s *Session) Attach() (*Attachment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.closed {
		return nil, ErrClosed
	}
	if !s.running {
		if err := s.startLocked(); err != nil {
			return nil, err
		}
	}

	a := &Attachment{
		id:      uuid.New().String(),
		out:     make(chan []byte, outputChanCap),
		session: s,
	}
	if len(s.replay) > 0 {
		replay := make([]byte, len(s.replay))
		copy(replay, s.replay)
		a.out <- replay
	}
	s.attachments[a.id] = a
	s.lastActive = time.Now()
	return a, nil
}

// WriteInput writes keystrokes to the shell's PTY.
func (s *Session) WriteInput(data []byte) error {
	s.mu.Lock()
	ptmx := s.ptmx
	if ptmx != nil {
		s.lastActive = time.Now()
	}
	s.mu.Unlock()

	if ptmx == nil {
		return ErrNotRunning
	}
	if _, err := ptmx.Write(data); err != nil {
		return fmt.Errorf("write to pty: %w", err)
	}
	return nil
}

// Resize updates the terminal dimensions, applying them to the live PTY when
// one is running. Dimensions persist across respawns.
func (s *Session) Resize(cols, rows int) error {
	if cols <= 0 || rows <= 0 || cols > 0xffff || rows > 0xffff {
		return fmt.Errorf("invalid terminal size %dx%d", cols, rows)
	}

	s.mu.Lock()
	s.cols = uint16(cols)
	s.rows = uint16(rows)
	ptmx := s.ptmx
	s.mu.Unlock()

	if ptmx == nil {
		return nil
	}
	if err := pty.Setsize(ptmx, &pty.Winsize{Rows: uint16(rows), Cols: uint16(cols)}); err != nil {
		return fmt.Errorf("resize pty: %w", err)
	}
	return nil
}

// Signal delivers a named control signal to the shell's process group.
func (s *Session) Signal(name string) error {
	sig, ok := signalsByName[name]
	if !ok {
		return fmt.Errorf("unknown signal: %s", name)
	}

	s.mu.Lock()
	cmd := s.cmd
	s.mu.Unlock()

	if cmd == nil || cmd.Process == nil {
		return ErrNotRunning
	}
	// The shell is a session leader (pty.Start sets Setsid), so its pid is
	// also its process group id. The negative pid addresses the whole group.
	if err := syscall.Kill(-cmd.Process.Pid, sig); err != nil {
		return fmt.Errorf("signal %s: %w", name, err)
	}
	return nil
}

// Running reports whether a shell is currently attached to the PTY.
func (s *Session) Running() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}

// Info returns a snapshot of the session.
func (s *Session) Info() Info {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Info{
		ID:          s.ID,
		CreatedAt:   s.CreatedAt,
		LastActive:  s.lastActive,
		Running:     s.running,
		Attachments: len(s.attachments),
		Cols:        int(s.cols),
		Rows:        int(s.rows),
	}
}

// Close terminates the shell and releases every attachment. Safe to call
// more than once.
func (s *Session) Close() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.closed = true
	atts := s.detachAllLocked()
	ptmx := s.ptmx
	cmd := s.cmd
	s.ptmx = nil
	s.cmd = nil
	s.running = false
	s.mu.Unlock()

	for _, a := range atts {
		a.closeOut()
	}
	if ptmx != nil {
		_ = ptmx.Close()
	}
	if cmd != nil && cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
}

// startLocked spawns the shell and the PTY read loop. Caller holds s.mu.
func (s *Session) startLocked() error {
	cmd := exec.Command(s.shell[0], s.shell[1:]...)
	cmd.Dir = s.workDir
	cmd.Env = append(os.Environ(), "TERM=xterm-256color")
	cmd.Env = append(cmd.Env, s.env...)

	ptmx, err := pty.StartWithSize(cmd, &pty.Winsize{Rows: s.rows, Cols: s.cols})
	if err != nil {
		return fmt.Errorf("start shell: %w", err)
	}

	s.ptmx = ptmx
	s.cmd = cmd
	s.running = true
	s.replay = nil

	go s.readLoop(ptmx, cmd)
	slog.Info("Shell started",
		"session_id", s.ID, "pid", cmd.Process.Pid, "shell", s.shell[0])
	return nil
}

// readLoop pumps PTY output to the attachments until the shell exits or the
// session closes.
func (s *Session) readLoop(ptmx *os.File, cmd *exec.Cmd) {
	buf := make([]byte, readBufSize)
	for {
		n, err := ptmx.Read(buf)
		if n > 0 {
			chunk := make([]byte, n)
			copy(chunk, buf[:n])
			s.fanout(chunk)
		}
		if err != nil {
			s.handleExit(ptmx, cmd, err)
			return
		}
	}
}

// fanout appends a chunk to the replay buffer and delivers it to every
// attachment. Sends are non-blocking: an attachment whose channel is full is
// dropped rather than allowed to stall the PTY read loop.
func (s *Session) fanout(chunk []byte) {
	s.mu.Lock()
	s.replay = append(s.replay, chunk...)
	if over := len(s.replay) - s.replayLimit; over > 0 {
		s.replay = append([]byte(nil), s.replay[over:]...)
	}

	var dropped []*Attachment
	for _, a := range s.attachments {
		select {
		case a.out <- chunk:
		default:
			dropped = append(dropped, a)
		}
	}
	for _, a := range dropped {
		delete(s.attachments, a.id)
	}
	s.mu.Unlock()

	for _, a := range dropped {
		slog.Warn("Dropping slow terminal attachment",
			"session_id", s.ID, "attachment_id", a.id)
		a.closeOut()
	}
}

// handleExit tears down a spawn after its PTY read fails. The next Attach
// starts a fresh shell with an empty replay buffer.
func (s *Session) handleExit(ptmx *os.File, cmd *exec.Cmd, readErr error) {
	s.mu.Lock()
	if s.closed || s.ptmx != ptmx {
		// Close already reclaimed this spawn.
		s.mu.Unlock()
		return
	}
	atts := s.detachAllLocked()
	s.ptmx = nil
	s.cmd = nil
	s.running = false
	s.replay = nil
	s.lastActive = time.Now()
	s.mu.Unlock()

	for _, a := range atts {
		a.closeOut()
	}
	_ = ptmx.Close()
	if cmd.Process != nil {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	}
	slog.Info("Shell exited", "session_id", s.ID, "error", readErr)
}

func (s *Session) detachAllLocked() []*Attachment {
	atts := make([]*Attachment, 0, len(s.attachments))
	for _, a := range s.attachments {
		atts = append(atts, a)
	}
	s.attachments = make(map[string]*Attachment)
	return atts
}

func (s *Session) detach(a *Attachment) {
	s.mu.Lock()
	if _, ok := s.attachments[a.id]; ok {
		delete(s.attachments, a.id)
		s.lastActive = time.Now()
	}
	s.mu.Unlock()
	a.closeOut()
}

// idleSince reports whether the session has had no attachments since before
// the cutoff.
func (s *Session) idleSince(cutoff time.Time) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attachments) == 0 && s.lastActive.Before(cutoff)
}

// ID returns the attachment's unique identifier.
func (a *Attachment) ID() string { return a.id }

// Output returns the channel of terminal output chunks.
func (a *Attachment) Output() <-chan []byte { return a.out }

// Close detaches from the session. Undelivered output is discarded.
func (a *Attachment) Close() { a.session.detach(a) }

func (a *Attachment) closeOut() {
	a.once.Do(func() { close(a.out) })
}
