package host

import (
	"errors"
	"fmt"
)

// Service errors.
var (
	// ErrClosed indicates the service has been shut down.
	ErrClosed = errors.New("service closed")

	// ErrUnknownSurface indicates a message from a surface that never
	// attached.
	ErrUnknownSurface = errors.New("unknown surface")
)

// OperationError represents an error that occurred during a specific
// host operation.
type OperationError struct {
	Op     string // Operation name (e.g. "edit", "save", "attach")
	Target string // Target of the operation (document identity or surface)
	Err    error  // Underlying error
}

// Error returns the error message.
func (e *OperationError) Error() string {
	if e.Target != "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Target, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying error.
func (e *OperationError) Unwrap() error {
	return e.Err
}

// opError creates an OperationError.
func opError(op, target string, err error) *OperationError {
	return &OperationError{Op: op, Target: target, Err: err}
}
