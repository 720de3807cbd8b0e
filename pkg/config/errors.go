package config

import (
	"errors"
	"fmt"
)

// Sentinel errors callers branch on with errors.Is. Validation failures wrap
// ErrInvalidValue or ErrMissingRequiredField together with the offending
// field's path, so one errors.Is check covers every field.
var (
	ErrConfigNotFound       = errors.New("configuration file not found")
	ErrInvalidYAML          = errors.New("invalid YAML syntax")
	ErrMissingRequiredField = errors.New("missing required field")
	ErrInvalidValue         = errors.New("invalid field value")
)

// LoadError ties a configuration failure to the file it came from.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("failed to load %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error {
	return e.Err
}

// NewLoadError wraps err with the name of the file being loaded.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
