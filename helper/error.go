package helper

import (
	"fmt"
	"strings"
)

// Error wraps an original error with the trace of operations it passed through.
type Error struct {
	Original error
	Trace    []string
}

// Error returns the original message followed by the operation trace.
func (e Error) Error() string {
	return fmt.Sprintf("%v | trace: %s", e.Original, strings.Join(e.Trace, ", "))
}

// Unwrap returns the original error so errors.Is and errors.As see through the wrapper.
func (e Error) Unwrap() error {
	return e.Original
}

// NewError wraps err with the given trace.
// If err already is an Error the trace is appended instead of nesting wrappers.
func NewError(trace string, err error) error {
	if err == nil {
		return nil
	}

	if traced, ok := err.(Error); ok {
		traces := append(append([]string{}, traced.Trace...), trace)
		return Error{Original: traced.Original, Trace: traces}
	}

	return Error{Original: err, Trace: []string{trace}}
}
