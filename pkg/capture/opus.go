//go:build cgo

package capture

import (
	"encoding/binary"
	"fmt"

	"gopkg.in/hraban/opus.v2"
)

// opusFrameMillis is the Opus frame length used for voice.
const opusFrameMillis = 20

// maxOpusPacket is the recommended upper bound for one encoded packet.
const maxOpusPacket = 4000

type opusEncoder struct {
	enc       *opus.Encoder
	frameSize int // interleaved samples per frame
	pending   []int16
	packet    []byte
}

func newOpusEncoder(cfg Config) (StreamEncoder, error) {
	enc, err := opus.NewEncoder(cfg.SampleRate, cfg.Channels, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("capture: opus encoder: %w", err)
	}
	if cfg.Bitrate > 0 {
		if err := enc.SetBitrate(cfg.Bitrate); err != nil {
			return nil, fmt.Errorf("capture: opus bitrate %d: %w", cfg.Bitrate, err)
		}
	}
	return &opusEncoder{
		enc:       enc,
		frameSize: cfg.SampleRate * opusFrameMillis / 1000 * cfg.Channels,
		packet:    make([]byte, maxOpusPacket),
	}, nil
}

func (e *opusEncoder) Encode(samples []int16) ([]byte, error) {
	e.pending = append(e.pending, samples...)

	var out []byte
	for len(e.pending) >= e.frameSize {
		var err error
		out, err = e.encodeFrame(out, e.pending[:e.frameSize])
		if err != nil {
			return nil, err
		}
		e.pending = e.pending[e.frameSize:]
	}
	// Compact so the backing array does not grow without bound.
	e.pending = append([]int16(nil), e.pending...)
	return out, nil
}

func (e *opusEncoder) Flush() ([]byte, error) {
	if len(e.pending) == 0 {
		return nil, nil
	}
	frame := make([]int16, e.frameSize)
	copy(frame, e.pending)
	e.pending = nil
	return e.encodeFrame(nil, frame)
}

func (e *opusEncoder) encodeFrame(out []byte, frame []int16) ([]byte, error) {
	n, err := e.enc.Encode(frame, e.packet)
	if err != nil {
		return nil, fmt.Errorf("capture: opus encode: %w", err)
	}
	out = binary.BigEndian.AppendUint16(out, uint16(n))
	return append(out, e.packet[:n]...), nil
}
