package schema

import (
	"errors"
	"fmt"
)

// SynchronizationError is raised when schema creation or synchronization
// fails. It always carries the original cause and a context map with enough
// detail to diagnose (entity type code, triggering error). Callers must treat
// it as fatal to the current operation; the failed transaction has already
// been rolled back when it surfaces.
type SynchronizationError struct {
	Message string
	Summary string
	Context map[string]any
	Err     error
}

func NewSynchronizationError(message, summary string) *SynchronizationError {
	return &SynchronizationError{
		Message: message,
		Summary: summary,
		Context: map[string]any{},
	}
}

func (e *SynchronizationError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *SynchronizationError) Unwrap() error {
	return e.Err
}

// Wrap records the underlying cause and mirrors it into the context map.
func (e *SynchronizationError) Wrap(err error) *SynchronizationError {
	e.Err = err
	if err != nil {
		e.Context["error"] = err.Error()
	}
	return e
}

// AddContext attaches one diagnostic key to the error.
func (e *SynchronizationError) AddContext(key string, value any) *SynchronizationError {
	e.Context[key] = value
	return e
}

// IsSynchronizationError reports whether err is (or wraps) a
// SynchronizationError.
func IsSynchronizationError(err error) bool {
	var se *SynchronizationError
	return errors.As(err, &se)
}
