package capture

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"runtime"
)

// Source captures raw PCM16 audio from a device.
type Source interface {
	// Start begins capture. A device or permission failure is returned as
	// a *CaptureError.
	Start(ctx context.Context) error

	// Stream delivers interleaved samples as the device produces them.
	Stream() <-chan []int16

	// Errors reports device loss after Start succeeded.
	Errors() <-chan error

	// Name returns the backend name (e.g., "pulse", "malgo", "mock").
	Name() string

	// Close stops capture and releases the device.
	// It is safe to call Close multiple times.
	io.Closer
}

// DeviceInfo describes a capture device.
type DeviceInfo struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// SourceFactory creates a Source for a configuration.
type SourceFactory func(cfg Config, logger *slog.Logger) (Source, error)

// NewSource creates a source for cfg. BackendAuto picks PulseAudio on Linux
// and miniaudio elsewhere.
func NewSource(cfg Config, logger *slog.Logger) (Source, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if logger == nil {
		logger = slog.Default()
	}

	backend := cfg.Backend
	if backend == BackendAuto || backend == "" {
		backend = detectBestBackend()
	}

	logger.Info("creating audio source",
		"backend", backend,
		"target", cfg.Target,
		"sample_rate", cfg.SampleRate,
		"channels", cfg.Channels,
	)

	switch backend {
	case BackendMock:
		return NewMockSource(cfg, logger), nil
	case BackendPulse:
		return newPulseSource(cfg, logger)
	case BackendMalgo:
		return newMalgoSource(cfg, logger)
	default:
		return nil, &CaptureError{Op: "open", Backend: string(backend), Err: fmt.Errorf("%w: backend %q (available: %v)", ErrUnsupported, backend, AvailableBackends())}
	}
}

func detectBestBackend() Backend {
	switch runtime.GOOS {
	case "linux":
		return BackendPulse
	case "darwin", "windows":
		return BackendMalgo
	default:
		return BackendMock
	}
}

// AvailableBackends returns the backends compiled into this build.
func AvailableBackends() []Backend {
	backends := []Backend{BackendMock}
	if pulseAvailable {
		backends = append(backends, BackendPulse)
	}
	if malgoAvailable {
		backends = append(backends, BackendMalgo)
	}
	return backends
}

// deliver hands samples to ch without blocking. It reports whether the
// samples were accepted.
func deliver(ch chan []int16, samples []int16) bool {
	select {
	case ch <- samples:
		return true
	default:
		return false
	}
}
