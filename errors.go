package refmap

import (
	"errors"
	"fmt"
)

var (
	// ErrNilKey is reported when a nil key is passed to a map operation.
	ErrNilKey = errors.New("nil key")
	// ErrNilValue is reported when a nil value is passed to a map operation.
	ErrNilValue = errors.New("nil value")
	// ErrIllegalState is returned by Iterator.Remove when there is no
	// element left to remove.
	ErrIllegalState = errors.New("illegal iterator state")
	// ErrUnsupportedStrength is reported when Weak or Soft strength is
	// requested for a type that is not a pointer.
	ErrUnsupportedStrength = errors.New("strength requires a pointer type")
	// ErrCorruptStream is returned by ReadFrom when a pair has only one
	// of its two fields set.
	ErrCorruptStream = errors.New("corrupt pair stream")
)

// ArgumentError is the panic value for invalid arguments, such as a
// nil key or value.
type ArgumentError struct {
	Op  string
	Err error
}

func (e *ArgumentError) Error() string {
	return fmt.Sprintf("refmap: %s: %v", e.Op, e.Err)
}

func (e *ArgumentError) Unwrap() error { return e.Err }

// ConfigError is the panic value for an invalid map configuration.
type ConfigError struct {
	Field string
	Err   error
}

func (e *ConfigError) Error() string {
	return fmt.Sprintf("refmap: invalid %s: %v", e.Field, e.Err)
}

func (e *ConfigError) Unwrap() error { return e.Err }
