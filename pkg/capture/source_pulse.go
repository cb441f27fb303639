//go:build linux

package capture

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/jfreymuth/pulse"
)

const pulseAvailable = true

// pulseSource records from a PulseAudio source. For TargetSystem it records
// the monitor of the default (or named) sink, which carries the remote party.
type pulseSource struct {
	cfg    Config
	logger *slog.Logger

	mu       sync.Mutex
	client   *pulse.Client
	stream   *pulse.RecordStream
	streamCh chan []int16
	errCh    chan error
	stop     chan struct{}
	done     chan struct{}
	closed   bool
}

func newPulseSource(cfg Config, logger *slog.Logger) (Source, error) {
	return &pulseSource{
		cfg:      cfg,
		logger:   logger.With("backend", "pulse"),
		streamCh: make(chan []int16, 64),
		errCh:    make(chan error, 1),
	}, nil
}

func (p *pulseSource) Start(ctx context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return &CaptureError{Op: "start", Backend: "pulse", Err: ErrClosed}
	}
	if p.stream != nil {
		return nil
	}

	client, err := pulse.NewClient(pulse.ClientApplicationName("go-coach"))
	if err != nil {
		return &CaptureError{Op: "open", Backend: "pulse", Err: err}
	}

	writer := pulse.Int16Writer(func(buf []int16) (int, error) {
		if len(buf) == 0 {
			return 0, nil
		}
		samples := make([]int16, len(buf))
		copy(samples, buf)
		if !deliver(p.streamCh, samples) {
			p.logger.Debug("pulse source: buffer full, dropping samples")
		}
		return len(buf), nil
	})

	opts := []pulse.RecordOption{
		pulse.RecordSampleRate(p.cfg.SampleRate),
		pulse.RecordLatency(0.05),
	}
	if p.cfg.Channels == 1 {
		opts = append(opts, pulse.RecordMono)
	} else {
		opts = append(opts, pulse.RecordStereo)
	}

	target, err := p.recordTarget(client)
	if err != nil {
		client.Close()
		return &CaptureError{Op: "open", Backend: "pulse", Err: err}
	}
	opts = append(opts, target)

	stream, err := client.NewRecord(writer, opts...)
	if err != nil {
		client.Close()
		return &CaptureError{Op: "start", Backend: "pulse", Err: err}
	}

	p.client = client
	p.stream = stream
	p.stop = make(chan struct{})
	p.done = make(chan struct{})

	stream.Start()
	go p.watch(ctx, stream, p.stop, p.done)

	p.logger.Info("pulse capture started", "target", p.cfg.Target, "device", p.cfg.Device)
	return nil
}

func (p *pulseSource) recordTarget(client *pulse.Client) (pulse.RecordOption, error) {
	switch p.cfg.Target {
	case TargetSystem:
		var (
			sink *pulse.Sink
			err  error
		)
		if p.cfg.Device != "" {
			sink, err = client.SinkByID(p.cfg.Device)
		} else {
			sink, err = client.DefaultSink()
		}
		if err != nil {
			return nil, fmt.Errorf("resolve sink: %w", err)
		}
		return pulse.RecordMonitor(sink), nil
	default:
		var (
			src *pulse.Source
			err error
		)
		if p.cfg.Device != "" {
			src, err = client.SourceByID(p.cfg.Device)
		} else {
			src, err = client.DefaultSource()
		}
		if err != nil {
			return nil, fmt.Errorf("resolve source: %w", err)
		}
		return pulse.RecordSource(src), nil
	}
}

// watch surfaces stream failure as device loss.
func (p *pulseSource) watch(ctx context.Context, stream *pulse.RecordStream, stop, done chan struct{}) {
	defer close(done)

	ticker := time.NewTicker(250 * time.Millisecond)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-stop:
			return
		case <-ticker.C:
			if err := stream.Error(); err != nil {
				p.logger.Warn("pulse stream failed", "error", err)
				select {
				case p.errCh <- fmt.Errorf("%w: %v", ErrDeviceLost, err):
				default:
				}
				return
			}
		}
	}
}

func (p *pulseSource) Stream() <-chan []int16 { return p.streamCh }
func (p *pulseSource) Errors() <-chan error   { return p.errCh }
func (p *pulseSource) Name() string           { return "pulse" }

func (p *pulseSource) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.closed {
		return nil
	}
	p.closed = true

	if p.stream != nil {
		close(p.stop)
		<-p.done
		p.stream.Stop()
		p.stream.Close()
		p.stream = nil
	}
	if p.client != nil {
		p.client.Close()
		p.client = nil
	}
	p.logger.Info("pulse capture released")
	return nil
}
