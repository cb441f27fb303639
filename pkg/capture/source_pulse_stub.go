//go:build !linux

package capture

import (
	"fmt"
	"log/slog"
)

const pulseAvailable = false

func newPulseSource(cfg Config, logger *slog.Logger) (Source, error) {
	return nil, &CaptureError{Op: "open", Backend: "pulse", Err: fmt.Errorf("%w: pulse requires linux", ErrUnsupported)}
}
