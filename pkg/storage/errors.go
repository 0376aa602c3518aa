package storage

import (
	"errors"
	"fmt"
)

// ErrUnknownBackendType is returned by the strategy factory when asked for a
// backend type outside the supported set.
var ErrUnknownBackendType = errors.New("unknown backend type")

// StorageError is the single failure type for entity and value persistence.
// Every storage mutation or read failure wraps its cause in one of these, so
// callers have one error shape to match on regardless of which value table or
// code path failed.
type StorageError struct {
	Message string
	Summary string
	Context map[string]any
	Err     error
}

// NewStorageError creates a storage error with an empty context map.
func NewStorageError(message, summary string) *StorageError {
	return &StorageError{
		Message: message,
		Summary: summary,
		Context: make(map[string]any),
	}
}

func (e *StorageError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s", e.Message, e.Err.Error())
	}
	return e.Message
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

// Wrap attaches the underlying cause and mirrors its message into the
// context map for structured logging.
func (e *StorageError) Wrap(err error) *StorageError {
	e.Err = err
	if err != nil {
		e.Context["error"] = err.Error()
	}
	return e
}

// AddContext attaches one diagnostic key to the error.
func (e *StorageError) AddContext(key string, value any) *StorageError {
	e.Context[key] = value
	return e
}

// IsStorageError reports whether err is (or wraps) a StorageError.
func IsStorageError(err error) bool {
	var se *StorageError
	return errors.As(err, &se)
}
