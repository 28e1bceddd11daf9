package platform

import (
	"fmt"

	"github.com/pkg/errors"
)

// ErrUnsupported is returned by collaborators for operations they cannot
// perform on this host.
var ErrUnsupported = errors.New("operation not supported")

// ResultError is a failure carrying a numeric result code from a
// collaborator module.
type ResultError struct {
	Module string
	Code   int
	Err    error
}

// Result wraps err with a module result code.
func Result(module string, code int, err error) error {
	return &ResultError{Module: module, Code: code, Err: err}
}

func (e *ResultError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: result %d", e.Module, e.Code)
	}
	return fmt.Sprintf("%s: result %d: %v", e.Module, e.Code, e.Err)
}

// Cause supports errors.Cause.
func (e *ResultError) Cause() error { return e.Err }

// Unwrap supports errors.Is and errors.As.
func (e *ResultError) Unwrap() error { return e.Err }

// Code extracts the result code from err, or -1 when err carries none.
func Code(err error) int {
	var r *ResultError
	if errors.As(err, &r) {
		return r.Code
	}
	return -1
}
