package config

import (
	"net"
	"strconv"
	"time"
)

// ServerConfig holds resolved HTTP and WebSocket server settings.
type ServerConfig struct {
	Host             string
	Port             int
	AllowedWSOrigins []string
	WriteTimeout     time.Duration
}

// ServerYAMLConfig holds the server section as it appears in relay.yaml.
// WriteTimeout is a human-readable duration string ("10s", "1m").
type ServerYAMLConfig struct {
	Host             string   `yaml:"host,omitempty"`
	Port             int      `yaml:"port,omitempty"`
	AllowedWSOrigins []string `yaml:"allowed_ws_origins,omitempty"`
	WriteTimeout     string   `yaml:"write_timeout,omitempty"`
}

// DefaultServerConfig returns server settings used when relay.yaml leaves
// the section out. The relay binds loopback only unless configured
// otherwise; it hands out shells, so exposing it wider is a deliberate act.
func DefaultServerConfig() *ServerConfig {
	return &ServerConfig{
		Host:         "127.0.0.1",
		Port:         8080,
		WriteTimeout: 10 * time.Second,
	}
}

// Addr returns the host:port listen address.
func (c *ServerConfig) Addr() string {
	return net.JoinHostPort(c.Host, strconv.Itoa(c.Port))
}
