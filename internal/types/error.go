package types

import (
	"errors"
	"fmt"
)

var ErrNotFound = errors.New("not found")
var ErrNoRows = errors.New("no records found")

// Dispatch error taxonomy. Blocked and configuration errors are never
// retried; rate limiting is back-pressure, not a failure; adapter errors
// count toward the retry budget.
var ErrBlockedByCompliance = errors.New("recipient is blocked by compliance")
var ErrConfiguration = errors.New("configuration error")
var ErrStoreUnavailable = errors.New("record store unavailable")
var ErrInvalidTransition = errors.New("invalid status transition")

// AdapterError is a transient failure reported by a channel adapter,
// including timeouts.
type AdapterError struct {
	Code    string
	Message string
}

func (e *AdapterError) Error() string {
	return fmt.Sprintf("channel adapter error [%s]: %s", e.Code, e.Message)
}

func NewAdapterError(code, message string) error {
	return &AdapterError{Code: code, Message: message}
}

// AsAdapterError returns the AdapterError in err's chain, if any.
func AsAdapterError(err error) (*AdapterError, bool) {
	var ae *AdapterError
	if errors.As(err, &ae) {
		return ae, true
	}
	return nil, false
}
