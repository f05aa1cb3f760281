package config

import (
	"errors"
	"strings"
)

// Sentinel kinds for configuration failures.
var (
	ErrInvalidConfig = errors.New("invalid config")
	ErrLoadConfig    = errors.New("load config failed")
)

// ValidationError lists every rule a Config broke. It matches
// ErrInvalidConfig.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return ErrInvalidConfig.Error() + ": " + strings.Join(e.Problems, "; ")
}

func (e *ValidationError) Unwrap() error { return ErrInvalidConfig }
