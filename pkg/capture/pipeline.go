package capture

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"
)

// Chunk is one fixed-interval slice of encoded audio.
type Chunk struct {
	// Seq is the chunk index within the capture, starting at 0.
	Seq uint64

	// CapturedAt is the wall-clock time the interval closed.
	CapturedAt time.Time

	// Data is the encoded payload.
	Data []byte

	// Codec is the payload encoding.
	Codec Codec

	// Level is the normalized RMS level of the interval in 0..1.
	Level float64
}

// Pipeline starts captures.
type Pipeline struct {
	logger    *slog.Logger
	newSource SourceFactory
}

// PipelineOption configures a Pipeline.
type PipelineOption func(*Pipeline)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) PipelineOption {
	return func(p *Pipeline) {
		p.logger = l
	}
}

// WithSourceFactory replaces the device factory, e.g. with a mock.
func WithSourceFactory(f SourceFactory) PipelineOption {
	return func(p *Pipeline) {
		p.newSource = f
	}
}

// NewPipeline creates a Pipeline.
func NewPipeline(opts ...PipelineOption) *Pipeline {
	p := &Pipeline{
		logger:    slog.Default(),
		newSource: NewSource,
	}
	for _, opt := range opts {
		opt(p)
	}
	p.logger = p.logger.With("component", "capture")
	return p
}

// Start opens the source described by cfg and begins producing chunks. A
// device or permission failure is returned as a *CaptureError and nothing
// is left open.
func (p *Pipeline) Start(ctx context.Context, cfg Config) (*Handle, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	enc, err := NewStreamEncoder(cfg)
	if err != nil {
		return nil, &CaptureError{Op: "open", Err: err}
	}

	src, err := p.newSource(cfg, p.logger)
	if err != nil {
		if IsCaptureError(err) {
			return nil, err
		}
		return nil, &CaptureError{Op: "open", Err: err}
	}

	if err := src.Start(ctx); err != nil {
		_ = src.Close()
		if IsCaptureError(err) {
			return nil, err
		}
		return nil, &CaptureError{Op: "start", Backend: src.Name(), Err: err}
	}

	h := &Handle{
		cfg:     cfg,
		logger:  p.logger.With("backend", src.Name()),
		source:  src,
		encoder: enc,
		chunks:  make(chan Chunk, 16),
		errs:    make(chan error, 1),
		stopCh:  make(chan struct{}),
		done:    make(chan struct{}),
	}
	if cfg.Retain {
		h.recording = NewRecording(cfg.SampleRate, cfg.Channels)
	}

	go h.loop()
	go func() {
		select {
		case <-ctx.Done():
			h.Stop()
		case <-h.stopCh:
		}
	}()

	h.logger.Info("capture started",
		"target", cfg.Target,
		"codec", cfg.Codec,
		"interval", cfg.ChunkInterval,
		"retain", cfg.Retain,
	)
	return h, nil
}

// Stop stops h. It is equivalent to h.Stop().
func (p *Pipeline) Stop(h *Handle) {
	if h != nil {
		h.Stop()
	}
}

// Handle is a running capture. Chunks is a lazy, non-restartable sequence
// that ends when the capture stops or the device is lost.
type Handle struct {
	cfg       Config
	logger    *slog.Logger
	source    Source
	encoder   StreamEncoder
	recording *Recording

	chunks chan Chunk
	errs   chan error
	stopCh chan struct{}
	done   chan struct{}

	stopOnce sync.Once
	releases atomic.Int32
	seq      uint64
	overruns atomic.Uint64
}

// Chunks returns the chunk stream. It is closed after Stop.
func (h *Handle) Chunks() <-chan Chunk {
	return h.chunks
}

// Errors reports device loss as a *CaptureError. It is closed after Stop.
func (h *Handle) Errors() <-chan error {
	return h.errs
}

// Recording returns the retained recording, or nil if retention is off.
func (h *Handle) Recording() *Recording {
	return h.recording
}

// Config returns the capture configuration.
func (h *Handle) Config() Config {
	return h.cfg
}

// Releases returns how many times the device was released.
func (h *Handle) Releases() int {
	return int(h.releases.Load())
}

// Overruns returns how many chunks the consumer was too slow to take.
func (h *Handle) Overruns() uint64 {
	return h.overruns.Load()
}

// Stop ends the capture, waits for the chunk loop to exit, and releases the
// device. It is idempotent and safe to call after a device error.
func (h *Handle) Stop() {
	h.stopOnce.Do(func() {
		close(h.stopCh)
		<-h.done

		if err := h.source.Close(); err != nil {
			h.logger.Warn("release failed", "error", err)
		}
		h.releases.Add(1)

		close(h.chunks)
		close(h.errs)

		h.logger.Info("capture stopped", "chunks", h.seq, "overruns", h.overruns.Load())
	})
}

func (h *Handle) loop() {
	defer close(h.done)

	ticker := time.NewTicker(h.cfg.ChunkInterval)
	defer ticker.Stop()

	stream := h.source.Stream()
	deviceErrs := h.source.Errors()
	var pending []int16

	for {
		select {
		case <-h.stopCh:
			h.emit(pending, true)
			return

		case samples, ok := <-stream:
			if !ok {
				h.fail(fmt.Errorf("%w: stream closed", ErrDeviceLost))
				return
			}
			pending = append(pending, samples...)

		case err := <-deviceErrs:
			h.emit(pending, true)
			if !errors.Is(err, ErrDeviceLost) {
				err = fmt.Errorf("%w: %v", ErrDeviceLost, err)
			}
			h.fail(err)
			return

		case <-ticker.C:
			h.emit(pending, false)
			pending = nil
		}
	}
}

// emit retains samples, then hands the encoded chunk to the consumer
// without blocking. Retention never depends on the consumer keeping up.
func (h *Handle) emit(samples []int16, final bool) {
	if h.recording != nil && len(samples) > 0 {
		h.recording.Append(samples)
	}

	var (
		data []byte
		err  error
	)
	if len(samples) > 0 {
		data, err = h.encoder.Encode(samples)
		if err != nil {
			h.logger.Warn("encode failed", "error", err)
			return
		}
	}
	if final {
		tail, err := h.encoder.Flush()
		if err != nil {
			h.logger.Warn("flush failed", "error", err)
		}
		data = append(data, tail...)
	}
	if len(data) == 0 {
		return
	}

	chunk := Chunk{
		Seq:        h.seq,
		CapturedAt: time.Now(),
		Data:       data,
		Codec:      h.cfg.Codec,
		Level:      RMS(samples),
	}
	h.seq++
	select {
	case h.chunks <- chunk:
	default:
		h.overruns.Add(1)
	}
}

func (h *Handle) fail(err error) {
	h.logger.Error("capture device lost", "error", err)
	select {
	case h.errs <- &CaptureError{Op: "read", Backend: h.source.Name(), Err: err}:
	default:
	}
}
