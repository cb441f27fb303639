package capture

import (
	"errors"
	"fmt"
)

// Sentinel errors for the capture package.
var (
	// ErrDeviceLost indicates the device disappeared while capturing.
	ErrDeviceLost = errors.New("capture: device lost")

	// ErrUnsupported indicates the backend cannot serve the requested target
	// on this platform or build.
	ErrUnsupported = errors.New("capture: unsupported")

	// ErrClosed indicates the source was already closed.
	ErrClosed = errors.New("capture: source closed")
)

// CaptureError is a device or permission failure. It is user-visible and
// ends the session.
type CaptureError struct {
	// Op is the failed operation: "open", "start" or "read".
	Op string

	// Backend is the audio backend name.
	Backend string

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *CaptureError) Error() string {
	if e.Backend != "" {
		return fmt.Sprintf("capture: %s (%s): %v", e.Op, e.Backend, e.Err)
	}
	return fmt.Sprintf("capture: %s: %v", e.Op, e.Err)
}

// Unwrap returns the underlying cause.
func (e *CaptureError) Unwrap() error {
	return e.Err
}

// IsCaptureError reports whether err is a *CaptureError.
func IsCaptureError(err error) bool {
	var ce *CaptureError
	return errors.As(err, &ce)
}
