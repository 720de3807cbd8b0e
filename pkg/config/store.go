package config

// Store backends selectable via store.backend in relay.yaml.
const (
	StoreBackendMemory   = "memory"
	StoreBackendSQLite   = "sqlite"
	StoreBackendPostgres = "postgres"
)

// StoreConfig selects and parameterizes the thread history store. The same
// struct serves as the YAML section and the resolved configuration; user
// values are merged over DefaultStoreConfig.
type StoreConfig struct {
	Backend string `yaml:"backend,omitempty"`
	Path    string `yaml:"path,omitempty"` // sqlite database file
	DSN     string `yaml:"dsn,omitempty"`  // postgres connection string
}

// DefaultStoreConfig selects sqlite with a working-directory database file,
// so an unconfigured relay still keeps thread history across restarts. The
// memory backend is for tests and throwaway runs.
func DefaultStoreConfig() *StoreConfig {
	return &StoreConfig{
		Backend: StoreBackendSQLite,
		Path:    "relay.db",
	}
}
