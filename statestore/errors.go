package statestore

import (
	"errors"
	"fmt"
)

// UnprocessedError is returned when a batch call still had unprocessed keys
// or rows after the retry ceiling. The remaining set is carried for the caller.
type UnprocessedError struct {
	Op       string
	Attempts int
	Keys     []Key
	Rows     []Row
}

// Error implements error.
func (e *UnprocessedError) Error() string {
	n := len(e.Keys) + len(e.Rows)
	return fmt.Sprintf("statestore: %s left %d unprocessed after %d attempts", e.Op, n, e.Attempts)
}

// Is matches ErrUnprocessed.
func (e *UnprocessedError) Is(target error) bool {
	return target == ErrUnprocessed
}

// Transient wraps err so that IsTransient reports true.
func Transient(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %w", ErrTransient, err)
}

// IsTransient reports whether err is worth retrying.
func IsTransient(err error) bool {
	return errors.Is(err, ErrTransient)
}

// IsNotFound reports whether err is ErrNotFound.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConditionFailed reports whether err is ErrConditionFailed.
func IsConditionFailed(err error) bool {
	return errors.Is(err, ErrConditionFailed)
}
