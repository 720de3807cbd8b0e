package config

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"dario.cat/mergo"
	"gopkg.in/yaml.v3"
)

// RelayYAMLConfig represents the complete relay.yaml file structure
type RelayYAMLConfig struct {
	Server    *ServerYAMLConfig    `yaml:"server"`
	Store     *StoreConfig         `yaml:"store"`
	Session   *SessionYAMLConfig   `yaml:"session"`
	Retention *RetentionYAMLConfig `yaml:"retention"`
}

// Initialize is the entry point for server configuration. It reads
// relay.yaml from configDir, resolves it against built-in defaults, and
// validates the result.
//
// Steps performed:
//  1. Load relay.yaml from configDir
//  2. Expand {{.VAR}} environment references
//  3. Parse YAML into structs
//  4. Merge user values over built-in defaults
//  5. Validate the resolved configuration
//  6. Return Config ready for use
func Initialize(ctx context.Context, configDir string) (*Config, error) {
	log := slog.With("config_dir", configDir)
	log.Info("Initializing configuration")

	// 1. Load and resolve configuration files
	cfg, err := load(ctx, configDir)
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}

	// 2. Validate the resolved configuration
	if err := validate(cfg); err != nil {
		return nil, fmt.Errorf("configuration validation failed: %w", err)
	}

	log.Info("Configuration initialized successfully",
		"listen_addr", cfg.Server.Addr(),
		"store_backend", cfg.Store.Backend,
		"shell", cfg.Session.Shell[0],
		"idle_timeout", cfg.Session.IdleTimeout)

	return cfg, nil
}

// load reads and resolves relay.yaml without validating it.
func load(_ context.Context, configDir string) (*Config, error) {
	loader := &configLoader{
		configDir: configDir,
	}

	// 1. Load relay.yaml (server, store, and session sections)
	relayConfig, err := loader.loadRelayYAML()
	if err != nil {
		return nil, NewLoadError("relay.yaml", err)
	}

	// 2. Resolve store config. Merging user values over the defaults keeps
	// defaults for anything the YAML left unset.
	storeConfig := DefaultStoreConfig()
	if relayConfig.Store != nil {
		if err := mergo.Merge(storeConfig, relayConfig.Store, mergo.WithOverride); err != nil {
			return nil, fmt.Errorf("failed to merge store config: %w", err)
		}
	}

	// 3. Resolve the remaining sections (duration strings parsed here)
	return &Config{
		configDir: configDir,
		Server:    resolveServerConfig(relayConfig.Server),
		Store:     storeConfig,
		Session:   resolveSessionConfig(relayConfig.Session),
		Retention: resolveRetentionConfig(relayConfig.Retention),
	}, nil
}

type configLoader struct {
	configDir string
}

// loadYAML reads a YAML file from the config dir, expands environment
// variables, and unmarshals it into target.
func (l *configLoader) loadYAML(filename string, target any) error {
	path := filepath.Join(l.configDir, filename)

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return fmt.Errorf("%w: %s", ErrConfigNotFound, path)
		}
		return fmt.Errorf("failed to read file: %w", err)
	}

	expanded := ExpandEnv(data)

	if err := yaml.Unmarshal(expanded, target); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidYAML, err)
	}

	return nil
}

func (l *configLoader) loadRelayYAML() (*RelayYAMLConfig, error) {
	var config RelayYAMLConfig

	if err := l.loadYAML("relay.yaml", &config); err != nil {
		return nil, err
	}

	return &config, nil
}

// resolveServerConfig resolves server settings from YAML, applying defaults.
func resolveServerConfig(y *ServerYAMLConfig) *ServerConfig {
	cfg := DefaultServerConfig()

	if y == nil {
		return cfg
	}

	if y.Host != "" {
		cfg.Host = y.Host
	}
	if y.Port != 0 {
		cfg.Port = y.Port
	}
	if len(y.AllowedWSOrigins) > 0 {
		cfg.AllowedWSOrigins = y.AllowedWSOrigins
	}
	cfg.WriteTimeout = parseDurationField("server.write_timeout", y.WriteTimeout, cfg.WriteTimeout)

	return cfg
}

// resolveSessionConfig resolves terminal session settings from YAML,
// applying defaults.
func resolveSessionConfig(y *SessionYAMLConfig) *SessionConfig {
	cfg := DefaultSessionConfig()

	if y == nil {
		return cfg
	}

	if len(y.Shell) > 0 {
		cfg.Shell = y.Shell
	}
	if y.WorkDir != "" {
		cfg.WorkDir = y.WorkDir
	}
	if len(y.Env) > 0 {
		cfg.Env = y.Env
	}
	if y.ReplayBytes != 0 {
		cfg.ReplayBytes = y.ReplayBytes
	}
	cfg.IdleTimeout = parseDurationField("session.idle_timeout", y.IdleTimeout, cfg.IdleTimeout)
	cfg.ReapInterval = parseDurationField("session.reap_interval", y.ReapInterval, cfg.ReapInterval)
	cfg.AllowDefault = y.AllowDefault

	return cfg
}

// resolveRetentionConfig resolves retention settings from YAML, applying
// defaults.
func resolveRetentionConfig(y *RetentionYAMLConfig) *RetentionConfig {
	cfg := DefaultRetentionConfig()

	if y == nil {
		return cfg
	}

	cfg.MaxAge = parseDurationField("retention.max_age", y.MaxAge, cfg.MaxAge)
	cfg.Interval = parseDurationField("retention.interval", y.Interval, cfg.Interval)

	return cfg
}

// parseDurationField parses a duration string from YAML, falling back to
// the given default on empty or malformed values.
func parseDurationField(field, value string, fallback time.Duration) time.Duration {
	if value == "" {
		return fallback
	}

	d, err := time.ParseDuration(value)
	if err != nil {
		slog.Warn("Invalid duration in config, using default",
			"field", field,
			"value", value,
			"default", fallback,
			"error", err)
		return fallback
	}

	return d
}

// validate checks the resolved configuration for values the relay cannot
// run with.
func validate(cfg *Config) error {
	if cfg.Server.Port < 1 || cfg.Server.Port > 65535 {
		return fmt.Errorf("%w: server.port %d", ErrInvalidValue, cfg.Server.Port)
	}
	if cfg.Server.WriteTimeout <= 0 {
		return fmt.Errorf("%w: server.write_timeout %s", ErrInvalidValue, cfg.Server.WriteTimeout)
	}

	switch cfg.Store.Backend {
	case StoreBackendMemory:
	case StoreBackendSQLite:
		if cfg.Store.Path == "" {
			return fmt.Errorf("%w: store.path (required for the sqlite backend)", ErrMissingRequiredField)
		}
	case StoreBackendPostgres:
		if cfg.Store.DSN == "" {
			return fmt.Errorf("%w: store.dsn (required for the postgres backend)", ErrMissingRequiredField)
		}
	default:
		return fmt.Errorf("%w: store.backend %q (expected %s, %s, or %s)",
			ErrInvalidValue, cfg.Store.Backend,
			StoreBackendMemory, StoreBackendSQLite, StoreBackendPostgres)
	}

	if cfg.Session.ReplayBytes <= 0 {
		return fmt.Errorf("%w: session.replay_bytes %d", ErrInvalidValue, cfg.Session.ReplayBytes)
	}
	if cfg.Session.IdleTimeout <= 0 {
		return fmt.Errorf("%w: session.idle_timeout %s", ErrInvalidValue, cfg.Session.IdleTimeout)
	}
	if cfg.Session.ReapInterval <= 0 {
		return fmt.Errorf("%w: session.reap_interval %s", ErrInvalidValue, cfg.Session.ReapInterval)
	}

	if cfg.Retention.MaxAge < 0 {
		return fmt.Errorf("%w: retention.max_age %s", ErrInvalidValue, cfg.Retention.MaxAge)
	}
	if cfg.Retention.Interval <= 0 {
		return fmt.Errorf("%w: retention.interval %s", ErrInvalidValue, cfg.Retention.Interval)
	}

	return nil
}
