//go:build !cgo

package capture

import (
	"fmt"
	"log/slog"
)

const malgoAvailable = false

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, &CaptureError{Op: "open", Backend: "malgo", Err: fmt.Errorf("%w: malgo requires cgo", ErrUnsupported)}
}

// ListDevices is unavailable without cgo.
func ListDevices() ([]DeviceInfo, error) {
	return nil, fmt.Errorf("%w: malgo requires cgo", ErrUnsupported)
}
