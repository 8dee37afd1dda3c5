package errors

import (
	"fmt"
	"strings"
)

type prefixedError struct {
	err    error
	prefix string
}

// PrefixError adds a prefix to the error message.
func PrefixError(err error, prefix string) error {
	if err == nil {
		return nil
	}
	return &prefixedError{err: err, prefix: prefix}
}

// PrefixErrorf adds a formatted prefix to the error message.
func PrefixErrorf(err error, format string, a ...any) error {
	return PrefixError(err, fmt.Sprintf(format, a...))
}

func (e *prefixedError) Error() string {
	return strings.TrimRight(e.prefix, ".,:") + ": " + e.err.Error()
}

func (e *prefixedError) Unwrap() error {
	return e.err
}
