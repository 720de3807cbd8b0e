// Package session hosts PTY-backed terminal sessions. A Manager owns the
// registry and an idle reaper; each Session spawns the configured shell
// lazily on first attach and fans PTY output out to its attachments.
package session

import (
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// ErrNotFound is returned when a session ID is not in the registry.
var ErrNotFound = errors.New("session not found")

// Config controls shell spawning and session lifecycle.
type Config struct {
	Shell        []string      // command and args, default ["/bin/bash", "--login"]
	WorkDir      string        // working directory for spawned shells, inherited when empty
	Env          []string      // extra KEY=VALUE entries for spawned shells
	ReplayBytes  int           // scrollback replayed on attach, default 256 KiB
	IdleTimeout  time.Duration // reap sessions with no attachments after this, default 10m
	ReapInterval time.Duration // reaper poll interval, default 1m
}

func (c *Config) applyDefaults() {
	if len(c.Shell) == 0 {
		c.Shell = []string{"/bin/bash", "--login"}
	}
	if c.ReplayBytes <= 0 {
		c.ReplayBytes = DefaultReplayBytes
	}
	if c.IdleTimeout <= 0 {
		c.IdleTimeout = 10 * time.Minute
	}
	if c.ReapInterval <= 0 {
		c.ReapInterval = time.Minute
	}
}

// Manager owns the session registry and the idle reaper.
type Manager struct {
	cfg Config

	mu       sync.RWMutex
	sessions map[string]*Session

	startMu  sync.Mutex
	started  bool
	stopCh   chan struct{}
	stopOnce sync.Once
	wg       sync.WaitGroup
}

// NewManager creates a session manager. Call Start to run the idle reaper.
func NewManager(cfg Config) *Manager {
	cfg.applyDefaults()
	return &Manager{
		cfg:      cfg,
		sessions: make(map[string]*Session),
		stopCh:   make(chan struct{}),
	}
}

// Start launches the idle reaper. Subsequent calls are no-ops.
func (m *Manager) Start() {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	if m.started {
		return
	}
	m.started = true

	m.wg.Add(1)
	go m.reapLoop()
	slog.Info("Session manager started",
		"shell", m.cfg.Shell[0], "idle_timeout", m.cfg.IdleTimeout)
}

// Started reports whether the idle reaper is running.
func (m *Manager) Started() bool {
	m.startMu.Lock()
	defer m.startMu.Unlock()
	return m.started
}

// Stop halts the reaper and closes every session.
func (m *Manager) Stop() {
	m.stopOnce.Do(func() {
		close(m.stopCh)
	})
	m.wg.Wait()

	m.startMu.Lock()
	m.started = false
	m.startMu.Unlock()

	m.mu.Lock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	for _, s := range sessions {
		s.Close()
	}
	slog.Info("Session manager stopped", "sessions_closed", len(sessions))
}

// Create registers a new session with a generated ID.
func (m *Manager) Create() *Session {
	s := newSession(uuid.New().String(), m.cfg)

	m.mu.Lock()
	m.sessions[s.ID] = s
	m.mu.Unlock()

	slog.Info("Session created", "session_id", s.ID)
	return s
}

// GetOrCreate returns the session with the given ID, registering a new one
// when absent. Serves the default session behind the bare terminal endpoint.
func (m *Manager) GetOrCreate(id string) *Session {
	m.mu.Lock()
	defer m.mu.Unlock()

	if s, ok := m.sessions[id]; ok {
		return s
	}
	s := newSession(id, m.cfg)
	m.sessions[id] = s
	slog.Info("Session created", "session_id", id)
	return s
}

// Get returns the session with the given ID.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return s, nil
}

// List returns a snapshot of every session, newest first.
func (m *Manager) List() []Info {
	m.mu.RLock()
	sessions := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		sessions = append(sessions, s)
	}
	m.mu.RUnlock()

	infos := make([]Info, 0, len(sessions))
	for _, s := range sessions {
		infos = append(infos, s.Info())
	}
	sort.Slice(infos, func(i, j int) bool {
		return infos[i].CreatedAt.After(infos[j].CreatedAt)
	})
	return infos
}

// Delete closes a session and removes it from the registry.
func (m *Manager) Delete(id string) error {
	m.mu.Lock()
	s, ok := m.sessions[id]
	if ok {
		delete(m.sessions, id)
	}
	m.mu.Unlock()

	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	s.Close()
	return nil
}

// Count returns the number of registered sessions.
func (m *Manager) Count() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.sessions)
}

func (m *Manager) reapLoop() {
	defer m.wg.Done()

	ticker := time.NewTicker(m.cfg.ReapInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.stopCh:
			return
		case <-ticker.C:
			m.reapIdle()
		}
	}
}

// reapIdle closes sessions that have had no attachments for IdleTimeout.
func (m *Manager) reapIdle() {
	cutoff := time.Now().Add(-m.cfg.IdleTimeout)

	m.mu.RLock()
	candidates := make([]*Session, 0, len(m.sessions))
	for _, s := range m.sessions {
		candidates = append(candidates, s)
	}
	m.mu.RUnlock()

	for _, s := range candidates {
		if !s.idleSince(cutoff) {
			continue
		}
		slog.Info("Reaping idle session",
			"session_id", s.ID, "idle_timeout", m.cfg.IdleTimeout)
		_ = m.Delete(s.ID)
	}
}
