//go:build cgo

package capture

import (
	"context"
	"encoding/hex"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"

	"github.com/gen2brain/malgo"
)

const malgoAvailable = true

// malgoSource records through miniaudio. TargetSystem uses loopback, which
// miniaudio supports on WASAPI only; elsewhere device init fails with a
// CaptureError.
type malgoSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	ctx      *malgo.AllocatedContext
	device   *malgo.Device
	streamCh chan []int16
	errCh    chan error
	closed   bool
	stopping atomic.Bool
}

func newMalgoSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &malgoSource{
		cfg:      cfg,
		logger:   logger.With("backend", "malgo"),
		streamCh: make(chan []int16, 64),
		errCh:    make(chan error, 1),
	}, nil
}

func (m *malgoSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &CaptureError{Op: "start", Backend: "malgo", Err: ErrClosed}
	}
	if m.device != nil {
		return nil
	}

	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return &CaptureError{Op: "open", Backend: "malgo", Err: err}
	}

	deviceType := malgo.Capture
	if m.cfg.Target == TargetSystem {
		deviceType = malgo.Loopback
	}

	deviceConfig := malgo.DefaultDeviceConfig(deviceType)
	deviceConfig.Capture.Format = malgo.FormatS16
	deviceConfig.Capture.Channels = uint32(m.cfg.Channels)
	deviceConfig.SampleRate = uint32(m.cfg.SampleRate)

	if m.cfg.Device != "" {
		idBytes, err := hex.DecodeString(m.cfg.Device)
		if err != nil {
			m.freeContext(mctx)
			return &CaptureError{Op: "open", Backend: "malgo", Err: fmt.Errorf("invalid device ID: %w", err)}
		}
		var devID malgo.DeviceID
		copy(devID[:], idBytes)
		deviceConfig.Capture.DeviceID = devID.Pointer()
	}

	callbacks := malgo.DeviceCallbacks{
		Data: func(_, data []byte, _ uint32) {
			if !deliver(m.streamCh, BytesToSamples(data)) {
				m.logger.Debug("malgo source: buffer full, dropping samples")
			}
		},
		Stop: func() {
			if m.stopping.Load() {
				return
			}
			select {
			case m.errCh <- fmt.Errorf("%w: device stopped", ErrDeviceLost):
			default:
			}
		},
	}

	dev, err := malgo.InitDevice(mctx.Context, deviceConfig, callbacks)
	if err != nil {
		m.freeContext(mctx)
		return &CaptureError{Op: "open", Backend: "malgo", Err: err}
	}
	if err := dev.Start(); err != nil {
		dev.Uninit()
		m.freeContext(mctx)
		return &CaptureError{Op: "start", Backend: "malgo", Err: err}
	}

	m.ctx = mctx
	m.device = dev

	m.logger.Info("malgo capture started", "target", m.cfg.Target, "device", m.cfg.Device)
	return nil
}

func (m *malgoSource) freeContext(mctx *malgo.AllocatedContext) {
	_ = mctx.Uninit()
	mctx.Free()
}

func (m *malgoSource) Stream() <-chan []int16 { return m.streamCh }
func (m *malgoSource) Errors() <-chan error   { return m.errCh }
func (m *malgoSource) Name() string           { return "malgo" }

func (m *malgoSource) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return nil
	}
	m.closed = true
	m.stopping.Store(true)

	if m.device != nil {
		_ = m.device.Stop()
		m.device.Uninit()
		m.device = nil
	}
	if m.ctx != nil {
		m.freeContext(m.ctx)
		m.ctx = nil
	}
	m.logger.Info("malgo capture released")
	return nil
}

// ListDevices returns capture devices as hex IDs usable in Config.Device.
func ListDevices() ([]DeviceInfo, error) {
	mctx, err := malgo.InitContext(nil, malgo.ContextConfig{}, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		_ = mctx.Uninit()
		mctx.Free()
	}()

	devices, err := mctx.Devices(malgo.Capture)
	if err != nil {
		return nil, fmt.Errorf("malgo devices: %w", err)
	}
	result := make([]DeviceInfo, 0, len(devices))
	for _, d := range devices {
		result = append(result, DeviceInfo{
			ID:   d.ID.String(),
			Name: d.Name(),
		})
	}
	return result, nil
}
