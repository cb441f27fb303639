package connection

import (
	"errors"
	"fmt"
)

// Sentinel errors for the connection package.
var (
	// ErrInvalidEndpoint indicates the endpoint is not a ws:// or wss:// URL.
	ErrInvalidEndpoint = errors.New("connection: invalid endpoint")

	// ErrClosed indicates the transport was closed by the caller.
	ErrClosed = errors.New("connection: closed")
)

// TransportError describes a dial, read, or write failure on the transport.
type TransportError struct {
	// Op is the failed operation: "dial", "read" or "write".
	Op string

	// Endpoint is the URL the transport was bound to.
	Endpoint string

	// StatusCode is the HTTP status of a failed handshake, if any.
	StatusCode int

	// Err is the underlying cause.
	Err error

	// Retryable indicates whether a new attempt can reasonably succeed.
	Retryable bool
}

// Error implements the error interface.
func (e *TransportError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("connection: %s %s (HTTP %d): %v", e.Op, e.Endpoint, e.StatusCode, e.Err)
	}
	return fmt.Sprintf("connection: %s %s: %v", e.Op, e.Endpoint, e.Err)
}

// Unwrap returns the underlying cause.
func (e *TransportError) Unwrap() error {
	return e.Err
}

// IsRetryable returns true if reconnection should be attempted.
func (e *TransportError) IsRetryable() bool {
	return e.Retryable
}

// IsRetryable returns true if err is a retryable transport failure.
func IsRetryable(err error) bool {
	var te *TransportError
	if errors.As(err, &te) {
		return te.IsRetryable()
	}
	return false
}

// IsRejected returns true if err is a handshake the server refused outright,
// such as an authentication failure. Retrying will not help.
func IsRejected(err error) bool {
	var te *TransportError
	return errors.As(err, &te) && te.Op == "dial" && !IsRetryable(err)
}
