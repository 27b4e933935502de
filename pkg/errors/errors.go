// Package errors provides error wrapping utilities for context-aware error messages
// and the fatal error kind used to abort a bootstrap or rollout.
package errors

import (
	stderrors "errors"
	"fmt"
)

// Wrap wraps an error with additional context information.
// If err is nil, it returns nil without wrapping.
func Wrap(err error, context string) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%s: %w", context, err)
}

// FatalError marks a condition that retrying cannot fix (storage failure,
// exhausted volume search). It carries enough context to diagnose.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	if e.Err == nil {
		return "fatal: " + e.Op
	}
	return fmt.Sprintf("fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error {
	return e.Err
}

// Fatal builds a FatalError for op.
func Fatal(op string, err error) error {
	return &FatalError{Op: op, Err: err}
}

// Fatalf builds a FatalError with a formatted cause.
func Fatalf(op string, format string, args ...any) error {
	return &FatalError{Op: op, Err: fmt.Errorf(format, args...)}
}

// IsFatal reports whether any error in err's chain is a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return stderrors.As(err, &fe)
}
