package engine

import (
	"errors"
	"fmt"
)

// Sentinel errors for order operations. The API layer maps these onto HTTP
// status codes; match with errors.Is.
var (
	ErrNotFound       = errors.New("not found")
	ErrNotOwner       = errors.New("order belongs to another account")
	ErrNotCancellable = errors.New("order is not cancellable")
	ErrNotAmendable   = errors.New("order is not amendable")
	ErrHalted         = errors.New("engine halted")
)

// ValidationError rejects an order request before it touches the book.
// Match with errors.As.
type ValidationError struct {
	Reason string
}

func (e *ValidationError) Error() string {
	return "invalid order: " + e.Reason
}

func invalidf(format string, args ...any) error {
	return &ValidationError{Reason: fmt.Sprintf(format, args...)}
}
