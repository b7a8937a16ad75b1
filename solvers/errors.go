package solvers

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to branch on the
// failure class rather than the message text.
type Kind string

const (
	// InvalidArgument marks configuration or input defects detected
	// before any assembly work starts.
	InvalidArgument Kind = "invalid_argument"

	// IOError marks filesystem failures while reading meshes or
	// writing artifacts.
	IOError Kind = "io_error"

	// AlgorithmError marks numerical failures such as singular
	// systems or non-finite results.
	AlgorithmError Kind = "algorithm_error"

	// UnregisteredSolver marks an unknown solver class name.
	UnregisteredSolver Kind = "unregistered_solver"
)

// Error carries a failure kind together with the user-facing message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

// Unwrap returns the wrapped cause for error chain traversal.
func (e *Error) Unwrap() error { return e.Err }

// Invalidf builds an InvalidArgument error.
func Invalidf(format string, args ...any) *Error {
	return &Error{Kind: InvalidArgument, Message: fmt.Sprintf(format, args...)}
}

// IOf builds an IOError wrapping err.
func IOf(err error, format string, args ...any) *Error {
	return &Error{Kind: IOError, Message: fmt.Sprintf(format, args...), Err: err}
}

// Algorithmf builds an AlgorithmError.
func Algorithmf(format string, args ...any) *Error {
	return &Error{Kind: AlgorithmError, Message: fmt.Sprintf(format, args...)}
}

// KindOf extracts the failure kind from an error chain. Errors that do
// not carry a kind classify as AlgorithmError.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return AlgorithmError
}
