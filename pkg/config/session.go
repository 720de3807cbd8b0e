package config

import "time"

// SessionConfig holds resolved terminal session settings.
type SessionConfig struct {
	Shell        []string
	WorkDir      string
	Env          []string
	ReplayBytes  int
	IdleTimeout  time.Duration
	ReapInterval time.Duration
	AllowDefault bool
}

// SessionYAMLConfig holds the session section as it appears in relay.yaml.
// Durations are human-readable strings ("10m", "90s"). AllowDefault enables
// the bare /ws endpoint backed by a lazily created "default" session.
type SessionYAMLConfig struct {
	Shell        []string `yaml:"shell,omitempty"`
	WorkDir      string   `yaml:"workdir,omitempty"`
	Env          []string `yaml:"env,omitempty"`
	ReplayBytes  int      `yaml:"replay_bytes,omitempty"`
	IdleTimeout  string   `yaml:"idle_timeout,omitempty"`
	ReapInterval string   `yaml:"reap_interval,omitempty"`
	AllowDefault bool     `yaml:"allow_default,omitempty"`
}

// DefaultSessionConfig returns session settings used when relay.yaml leaves
// the section out.
func DefaultSessionConfig() *SessionConfig {
	return &SessionConfig{
		Shell:        []string{"/bin/bash", "--login"},
		ReplayBytes:  256 << 10,
		IdleTimeout:  10 * time.Minute,
		ReapInterval: time.Minute,
	}
}
