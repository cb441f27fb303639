package capture

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"sync"
	"sync/atomic"
	"time"
)

// MockSource generates synthetic audio (silence or sine wave) for tests and
// hardware-free development.
type MockSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	running  bool
	closed   bool
	streamCh chan []int16
	errCh    chan error
	stopCh   chan struct{}
	done     chan struct{}

	frameDuration time.Duration
	frequency     float64 // Hz, 0 = silence
	amplitude     float64 // 0.0 to 1.0
	phase         float64
	startErr      error
	failAfter     time.Duration

	framesGenerated atomic.Int64
	releases        atomic.Int32
}

// MockSourceOption configures a MockSource.
type MockSourceOption func(*MockSource)

// WithSineWave configures the mock to generate a sine wave.
func WithSineWave(frequency, amplitude float64) MockSourceOption {
	return func(m *MockSource) {
		m.frequency = frequency
		m.amplitude = amplitude
	}
}

// WithFrameDuration sets how often the mock produces samples.
func WithFrameDuration(d time.Duration) MockSourceOption {
	return func(m *MockSource) {
		m.frameDuration = d
	}
}

// WithStartError makes Start fail, as a denied microphone permission would.
func WithStartError(err error) MockSourceOption {
	return func(m *MockSource) {
		m.startErr = err
	}
}

// WithDeviceLossAfter makes the mock report device loss after d.
func WithDeviceLossAfter(d time.Duration) MockSourceOption {
	return func(m *MockSource) {
		m.failAfter = d
	}
}

// NewMockSource creates a new mock audio source.
func NewMockSource(cfg Config, logger *slog.Logger, opts ...MockSourceOption) *MockSource {
	if logger == nil {
		logger = slog.Default()
	}

	m := &MockSource{
		cfg:           cfg,
		logger:        logger,
		streamCh:      make(chan []int16, 32),
		errCh:         make(chan error, 1),
		frameDuration: 20 * time.Millisecond,
		amplitude:     0.5,
	}

	for _, opt := range opts {
		opt(m)
	}

	return m
}

// Start begins generating audio.
func (m *MockSource) Start(ctx context.Context) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.closed {
		return &CaptureError{Op: "start", Backend: "mock", Err: ErrClosed}
	}
	if m.startErr != nil {
		return &CaptureError{Op: "start", Backend: "mock", Err: m.startErr}
	}
	if m.running {
		return nil
	}

	m.running = true
	m.stopCh = make(chan struct{})
	m.done = make(chan struct{})

	go m.generateLoop(ctx, m.stopCh, m.done)

	m.logger.Info("mock audio source started",
		"sample_rate", m.cfg.SampleRate,
		"frequency", m.frequency,
	)
	return nil
}

func (m *MockSource) generateLoop(ctx context.Context, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(m.frameDuration)
	defer ticker.Stop()

	var lost <-chan time.Time
	if m.failAfter > 0 {
		timer := time.NewTimer(m.failAfter)
		defer timer.Stop()
		lost = timer.C
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-lost:
			m.logger.Warn("mock audio source: simulated device loss")
			select {
			case m.errCh <- errors.New("mock device unplugged"):
			default:
			}
			return
		case <-ticker.C:
			if !deliver(m.streamCh, m.generateFrame()) {
				m.logger.Debug("mock source: buffer full, dropping frame")
			}
		}
	}
}

func (m *MockSource) generateFrame() []int16 {
	n := int(float64(m.cfg.SampleRate) * m.frameDuration.Seconds())
	samples := make([]int16, n*m.cfg.Channels)

	if m.frequency > 0 {
		for i := 0; i < n; i++ {
			v := int16(m.amplitude * 32767 * math.Sin(2*math.Pi*m.frequency*m.phase/float64(m.cfg.SampleRate)))
			for ch := 0; ch < m.cfg.Channels; ch++ {
				samples[i*m.cfg.Channels+ch] = v
			}
			m.phase++
			if m.phase >= float64(m.cfg.SampleRate) {
				m.phase = 0
			}
		}
	}

	m.framesGenerated.Add(1)
	return samples
}

// Stream returns the sample channel.
func (m *MockSource) Stream() <-chan []int16 {
	return m.streamCh
}

// Errors returns the device-loss channel.
func (m *MockSource) Errors() <-chan error {
	return m.errCh
}

// Name returns "mock".
func (m *MockSource) Name() string {
	return "mock"
}

// Close stops generation and releases the simulated device.
func (m *MockSource) Close() error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return nil
	}
	m.closed = true
	running := m.running
	m.running = false
	stop, done := m.stopCh, m.done
	m.mu.Unlock()

	if running {
		close(stop)
		<-done
	}
	m.releases.Add(1)
	m.logger.Info("mock audio source released")
	return nil
}

// Releases returns how many times the simulated device was released.
func (m *MockSource) Releases() int {
	return int(m.releases.Load())
}

// FramesGenerated returns the number of frames produced.
func (m *MockSource) FramesGenerated() int64 {
	return m.framesGenerated.Load()
}

var _ Source = (*MockSource)(nil)
