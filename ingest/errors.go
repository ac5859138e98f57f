package ingest

import (
	"errors"
	"fmt"
)

// ErrFatalVersion is returned when an item carries the configured fatal
// compaction version.
var ErrFatalVersion = errors.New("ingest: fatal compaction version")

// TypeError is the failure of one logical type.
type TypeError struct {
	Type string
	Err  error
}

func (e *TypeError) Error() string {
	return fmt.Sprintf("type %s: %v", e.Type, e.Err)
}

func (e *TypeError) Unwrap() error {
	return e.Err
}
