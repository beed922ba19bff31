package exchange

import (
	"errors"
	"fmt"
)

// NetworkError wraps a transport-level failure. Transient: callers may retry.
type NetworkError struct {
	Op  string
	Err error
}

func (e *NetworkError) Error() string {
	return fmt.Sprintf("network error during %s: %v", e.Op, e.Err)
}

func (e *NetworkError) Unwrap() error { return e.Err }

// ExchangeError reports a venue-side failure (overload, maintenance, 5xx).
// Transient: callers may retry.
type ExchangeError struct {
	Op   string
	Code int
	Msg  string
}

func (e *ExchangeError) Error() string {
	return fmt.Sprintf("exchange error during %s (code %d): %s", e.Op, e.Code, e.Msg)
}

// RejectionError reports that the venue understood and refused the request
// (invalid order, insufficient funds). Never retried.
type RejectionError struct {
	Op   string
	Code int
	Msg  string
}

func (e *RejectionError) Error() string {
	return fmt.Sprintf("order rejected during %s (code %d): %s", e.Op, e.Code, e.Msg)
}

// IsTransient reports whether err may succeed on retry.
func IsTransient(err error) bool {
	var ne *NetworkError
	var ee *ExchangeError
	return errors.As(err, &ne) || errors.As(err, &ee)
}
