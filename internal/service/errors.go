package service

import (
	"errors"
	"fmt"
)

// PreconditionError reports an unmet fulfillment precondition. The
// message carries a remediation hint and is safe to show the caller.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func preconditionf(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// LimitError reports an exhausted per-agent fulfillment window.
type LimitError struct {
	Message string
}

func (e *LimitError) Error() string { return e.Message }

// ValidationError reports rejected input. Input is never silently
// coerced.
type ValidationError struct {
	Message string
}

func (e *ValidationError) Error() string { return e.Message }

// IntegrityError reports a money-path conflict: a double sale or a
// processor-reported amount that does not match the stored order.
type IntegrityError struct {
	Message string
}

func (e *IntegrityError) Error() string { return e.Message }

// ErrNotOwner is returned when a caller touches a beat it does not own.
var ErrNotOwner = errors.New("beat does not belong to the caller")
