package capture

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"sync"
	"time"

	"github.com/mewkiz/flac"
	"github.com/mewkiz/flac/frame"
	"github.com/mewkiz/flac/meta"
)

const (
	bitsPerSample  = 16
	flacBlockSize  = 4096
	wavHeaderBytes = 44
)

// Recording retains every captured sample of a call for whole-recording
// upload. It is safe for concurrent use.
type Recording struct {
	sampleRate int
	channels   int
	startedAt  time.Time

	mu      sync.Mutex
	samples []int16
}

// NewRecording creates an empty recording.
func NewRecording(sampleRate, channels int) *Recording {
	return &Recording{
		sampleRate: sampleRate,
		channels:   channels,
		startedAt:  time.Now(),
	}
}

// Append retains samples.
func (r *Recording) Append(samples []int16) {
	r.mu.Lock()
	r.samples = append(r.samples, samples...)
	r.mu.Unlock()
}

// Samples returns a copy of the retained samples.
func (r *Recording) Samples() []int16 {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]int16, len(r.samples))
	copy(out, r.samples)
	return out
}

// Len returns the number of retained interleaved samples.
func (r *Recording) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.samples)
}

// SampleRate returns the recording sample rate.
func (r *Recording) SampleRate() int { return r.sampleRate }

// Channels returns the recording channel count.
func (r *Recording) Channels() int { return r.channels }

// StartedAt returns when retention began.
func (r *Recording) StartedAt() time.Time { return r.startedAt }

// Duration returns the retained audio length.
func (r *Recording) Duration() time.Duration {
	if r.sampleRate == 0 || r.channels == 0 {
		return 0
	}
	frames := r.Len() / r.channels
	return time.Duration(frames) * time.Second / time.Duration(r.sampleRate)
}

// FLAC encodes the recording as a FLAC stream.
func (r *Recording) FLAC() ([]byte, error) {
	samples := r.Samples()
	perChannel := Deinterleave(samples, r.channels)

	var buf bytes.Buffer
	info := &meta.StreamInfo{
		BlockSizeMin:  flacBlockSize,
		BlockSizeMax:  flacBlockSize,
		SampleRate:    uint32(r.sampleRate),
		NChannels:     uint8(r.channels),
		BitsPerSample: bitsPerSample,
		NSamples:      uint64(len(perChannel[0])),
	}
	enc, err := flac.NewEncoder(&buf, info)
	if err != nil {
		return nil, fmt.Errorf("capture: flac encoder: %w", err)
	}

	channels := frame.ChannelsMono
	if r.channels == 2 {
		channels = frame.ChannelsLR
	}

	n := len(perChannel[0])
	for start := 0; start < n; start += flacBlockSize {
		end := start + flacBlockSize
		if end > n {
			end = n
		}

		subframes := make([]*frame.Subframe, len(perChannel))
		for ch, data := range perChannel {
			block := make([]int32, end-start)
			for i, s := range data[start:end] {
				block[i] = int32(s)
			}
			subframes[ch] = &frame.Subframe{
				SubHeader: frame.SubHeader{Pred: frame.PredVerbatim},
				Samples:   block,
				NSamples:  len(block),
			}
		}

		f := &frame.Frame{
			Header: frame.Header{
				HasFixedBlockSize: true,
				BlockSize:         uint16(end - start),
				SampleRate:        uint32(r.sampleRate),
				Channels:          channels,
				BitsPerSample:     bitsPerSample,
				Num:               uint64(start / flacBlockSize),
			},
			Subframes: subframes,
		}
		if err := enc.WriteFrame(f); err != nil {
			return nil, fmt.Errorf("capture: flac frame: %w", err)
		}
	}

	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("capture: flac close: %w", err)
	}
	return buf.Bytes(), nil
}

// WAV encodes the recording as a 16-bit PCM WAV file.
func (r *Recording) WAV() []byte {
	samples := r.Samples()
	dataLen := uint32(len(samples) * 2)
	byteRate := uint32(r.sampleRate * r.channels * 2)

	buf := make([]byte, wavHeaderBytes, wavHeaderBytes+int(dataLen))
	copy(buf[0:4], "RIFF")
	binary.LittleEndian.PutUint32(buf[4:8], 36+dataLen)
	copy(buf[8:12], "WAVE")
	copy(buf[12:16], "fmt ")
	binary.LittleEndian.PutUint32(buf[16:20], 16)
	binary.LittleEndian.PutUint16(buf[20:22], 1)
	binary.LittleEndian.PutUint16(buf[22:24], uint16(r.channels))
	binary.LittleEndian.PutUint32(buf[24:28], uint32(r.sampleRate))
	binary.LittleEndian.PutUint32(buf[28:32], byteRate)
	binary.LittleEndian.PutUint16(buf[32:34], uint16(r.channels*2))
	binary.LittleEndian.PutUint16(buf[34:36], bitsPerSample)
	copy(buf[36:40], "data")
	binary.LittleEndian.PutUint32(buf[40:44], dataLen)

	return append(buf, SamplesToBytes(samples)...)
}
