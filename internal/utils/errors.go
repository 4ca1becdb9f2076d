// Package utils holds small cross-cutting helpers: logging setup, error
// wrapping, latency tracking, and time conversions.
package utils

import "fmt"

// AppError wraps an operation, human-facing message, and underlying error.
// It unwraps, so errors.Is and errors.As see through it.
type AppError struct {
	Op  string
	Msg string
	Err error
}

func (e *AppError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("%s: %s", e.Op, e.Msg)
	}
	return fmt.Sprintf("%s: %s: %v", e.Op, e.Msg, e.Err)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

// NewAppError constructs an AppError.
func NewAppError(op, msg string, err error) error {
	return &AppError{Op: op, Msg: msg, Err: err}
}
