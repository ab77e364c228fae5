package config

import (
	"errors"
	"fmt"
)

// Sentinel errors for configuration loading and validation. Callers match
// them with errors.Is; loader failures additionally carry file context via
// LoadError.
var (
	ErrConfigNotFound       = errors.New("config file not found")
	ErrInvalidYAML          = errors.New("malformed YAML")
	ErrMissingRequiredField = errors.New("required field missing")
	ErrInvalidValue         = errors.New("invalid value")
)

// LoadError records which file a configuration error came from.
type LoadError struct {
	File string
	Err  error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("config %s: %v", e.File, e.Err)
}

func (e *LoadError) Unwrap() error { return e.Err }

// NewLoadError wraps err with the path of the file being loaded.
func NewLoadError(file string, err error) *LoadError {
	return &LoadError{File: file, Err: err}
}
