package runtime

import (
	"context"
	"errors"

	"github.com/justapithecus/sitemapper/ingest"
)

// InvocationError classifies invocation failures for outcome determination.
type InvocationError struct {
	// Kind is the failure class.
	Kind InvocationErrorKind
	// Err is the underlying error.
	Err error
}

// InvocationErrorKind classifies invocation errors.
type InvocationErrorKind int

const (
	// InvocationErrorType indicates a failed type. The checkpoint must not advance.
	InvocationErrorType InvocationErrorKind = iota
	// InvocationErrorPrecondition indicates a batch rejected before any write.
	InvocationErrorPrecondition
	// InvocationErrorFatalVersion indicates an item carrying the fatal version.
	InvocationErrorFatalVersion
	// InvocationErrorCanceled indicates context cancellation.
	InvocationErrorCanceled
)

// String implements fmt.Stringer.
func (k InvocationErrorKind) String() string {
	switch k {
	case InvocationErrorType:
		return "type_failed"
	case InvocationErrorPrecondition:
		return "precondition_failed"
	case InvocationErrorFatalVersion:
		return "fatal_version"
	case InvocationErrorCanceled:
		return "canceled"
	default:
		return "unknown"
	}
}

func (e *InvocationError) Error() string {
	return e.Err.Error()
}

func (e *InvocationError) Unwrap() error {
	return e.Err
}

// IsPrecondition returns true if the batch was rejected before any write.
func IsPrecondition(err error) bool {
	return kindOf(err) == InvocationErrorPrecondition
}

// IsFatalVersion returns true if the batch carried the fatal version.
func IsFatalVersion(err error) bool {
	return kindOf(err) == InvocationErrorFatalVersion
}

// IsCanceled returns true if the invocation was canceled.
func IsCanceled(err error) bool {
	return kindOf(err) == InvocationErrorCanceled
}

func kindOf(err error) InvocationErrorKind {
	var invErr *InvocationError
	if errors.As(err, &invErr) {
		return invErr.Kind
	}
	return -1
}

// classify wraps a per-type engine error.
func classify(err error) *InvocationError {
	switch {
	case errors.Is(err, ingest.ErrFatalVersion):
		return &InvocationError{Kind: InvocationErrorFatalVersion, Err: err}
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return &InvocationError{Kind: InvocationErrorCanceled, Err: err}
	default:
		return &InvocationError{Kind: InvocationErrorType, Err: err}
	}
}
