package task

import (
	"errors"
	"fmt"
)

// #region sentinels
var (
	ErrEmptyPool    = errors.New("empty reward pool")
	ErrOutOfRange   = errors.New("value out of range")
	ErrMissing      = errors.New("missing value")
	ErrIncompatible = errors.New("incompatible values")
	ErrUnknown      = errors.New("unknown value")
)

// #endregion sentinels

// #region config-error
// ConfigError reports a malformed or out-of-range configuration field.
// Path is the dotted JSON path of the offending field.
type ConfigError struct {
	Path string
	Err  error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("config %s: %v", e.Path, e.Err)
}

func (e *ConfigError) Unwrap() error {
	return e.Err
}

// Errorf builds a ConfigError whose cause wraps sentinel with a formatted detail.
func Errorf(path string, sentinel error, format string, args ...any) *ConfigError {
	return &ConfigError{Path: path, Err: fmt.Errorf("%w: %s", sentinel, fmt.Sprintf(format, args...))}
}

// #endregion config-error
