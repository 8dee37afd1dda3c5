// Package errors provides error construction helpers used across the project.
//
// Errors created by this package carry a stack trace, errors from other
// sources can be wrapped by the WithStack function.
package errors

import (
	"errors"
	"fmt"
	"runtime"
)

// StackTrace is a list of program counters captured at the error creation.
type StackTrace []uintptr

type stackTracer interface {
	StackTrace() StackTrace
}

type withStack struct {
	err   error
	trace StackTrace
}

func New(text string) error {
	return &withStack{err: errors.New(text), trace: callers()}
}

func Errorf(format string, a ...any) error {
	return &withStack{err: fmt.Errorf(format, a...), trace: callers()}
}

// WithStack wraps the error with the current stack trace, if it has none.
func WithStack(err error) error {
	if err == nil {
		return nil
	}
	var tracer stackTracer
	if errors.As(err, &tracer) {
		return err
	}
	return &withStack{err: err, trace: callers()}
}

func Is(err, target error) bool {
	return errors.Is(err, target)
}

func As(err error, target any) bool {
	return errors.As(err, target)
}

func Unwrap(err error) error {
	return errors.Unwrap(err)
}

func (e *withStack) Error() string {
	return e.err.Error()
}

func (e *withStack) Unwrap() error {
	return e.err
}

func (e *withStack) StackTrace() StackTrace {
	return e.trace
}

func callers() StackTrace {
	var pcs [32]uintptr
	n := runtime.Callers(3, pcs[:])
	return pcs[0:n]
}
