package config

import "time"

// RetentionConfig controls how long thread history is kept.
type RetentionConfig struct {
	// MaxAge is the maximum age of a thread message before the retention
	// sweep deletes it. Zero keeps history forever and disables the sweep.
	MaxAge time.Duration

	// Interval is how often the sweep runs.
	Interval time.Duration
}

// RetentionYAMLConfig is the retention section of relay.yaml. Durations
// travel as strings ("720h", "12h") and are parsed during resolution.
type RetentionYAMLConfig struct {
	MaxAge   string `yaml:"max_age,omitempty"`
	Interval string `yaml:"interval,omitempty"`
}

// DefaultRetentionConfig keeps history forever and, should a max_age be
// configured, sweeps twice a day.
func DefaultRetentionConfig() *RetentionConfig {
	return &RetentionConfig{
		MaxAge:   0,
		Interval: 12 * time.Hour,
	}
}
