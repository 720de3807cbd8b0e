package config

// Config is the umbrella configuration object returned by Initialize and
// handed to the composition root. Each section maps onto one runtime
// component of the relay.
type Config struct {
	configDir string // where relay.yaml was loaded from

	Server    *ServerConfig
	Store     *StoreConfig
	Session   *SessionConfig
	Retention *RetentionConfig
}

// ConfigDir returns the directory relay.yaml was loaded from.
func (c *Config) ConfigDir() string {
	return c.configDir
}
