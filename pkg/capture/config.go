// Package capture records call audio and slices it into fixed-interval
// chunks for realtime streaming, while optionally retaining the whole
// recording for upload after the call.
//
// Supported sources:
//   - PulseAudio (Linux) - microphone or monitor of the default sink
//   - miniaudio via malgo - microphone, or WASAPI loopback for system audio
//   - Mock - CI/Testing without hardware
package capture

import (
	"fmt"
	"time"
)

// Target selects what is captured.
type Target string

const (
	// TargetMicrophone captures the local speaker.
	TargetMicrophone Target = "microphone"
	// TargetSystem captures the call's playback audio (the counterpart).
	TargetSystem Target = "system"
)

// Backend selects the audio backend.
type Backend string

const (
	// BackendAuto selects the best backend for the platform.
	BackendAuto Backend = "auto"
	// BackendPulse uses PulseAudio.
	BackendPulse Backend = "pulse"
	// BackendMalgo uses miniaudio.
	BackendMalgo Backend = "malgo"
	// BackendMock generates synthetic audio.
	BackendMock Backend = "mock"
)

// Codec is the wire encoding of streamed chunks.
type Codec string

const (
	// CodecPCM16 is raw little-endian 16-bit PCM.
	CodecPCM16 Codec = "pcm16"
	// CodecOpus is a sequence of Opus packets, each prefixed with its
	// big-endian uint16 length.
	CodecOpus Codec = "opus"
)

// Config holds capture configuration.
type Config struct {
	// Target is what to capture.
	// Default: "microphone"
	Target Target `yaml:"target" json:"target"`

	// Backend is the audio backend.
	// Default: "auto"
	Backend Backend `yaml:"backend" json:"backend"`

	// Device is the platform-specific device identifier, empty for default.
	Device string `yaml:"device" json:"device"`

	// Codec is the streaming codec.
	// Default: "pcm16"
	Codec Codec `yaml:"codec" json:"codec"`

	// SampleRate is the capture sample rate in Hz.
	// Default: 16000
	SampleRate int `yaml:"sample_rate" json:"sample_rate"`

	// Channels is the number of channels.
	// Default: 1 (mono)
	Channels int `yaml:"channels" json:"channels"`

	// Bitrate is the Opus target bitrate in bits per second.
	// Default: 128000
	Bitrate int `yaml:"bitrate" json:"bitrate"`

	// ChunkInterval is the wall-clock interval between streamed chunks.
	// Default: 250ms
	ChunkInterval time.Duration `yaml:"chunk_interval" json:"chunk_interval"`

	// Retain keeps every captured sample for whole-recording upload.
	// Default: true
	Retain bool `yaml:"retain" json:"retain"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() Config {
	return Config{
		Target:        TargetMicrophone,
		Backend:       BackendAuto,
		Codec:         CodecPCM16,
		SampleRate:    16000,
		Channels:      1,
		Bitrate:       128000,
		ChunkInterval: 250 * time.Millisecond,
		Retain:        true,
	}
}

// Validate checks that the configuration is valid.
func (c *Config) Validate() error {
	switch c.Target {
	case TargetMicrophone, TargetSystem:
	default:
		return fmt.Errorf("capture: unknown target %q", c.Target)
	}
	switch c.Codec {
	case CodecPCM16:
	case CodecOpus:
		switch c.SampleRate {
		case 8000, 12000, 16000, 24000, 48000:
		default:
			return fmt.Errorf("capture: opus does not support sample_rate %d", c.SampleRate)
		}
	default:
		return fmt.Errorf("capture: unknown codec %q", c.Codec)
	}
	if c.SampleRate <= 0 {
		return fmt.Errorf("capture: sample_rate must be positive, got %d", c.SampleRate)
	}
	if c.Channels != 1 && c.Channels != 2 {
		return fmt.Errorf("capture: channels must be 1 or 2, got %d", c.Channels)
	}
	if c.ChunkInterval <= 0 {
		return fmt.Errorf("capture: chunk_interval must be positive, got %v", c.ChunkInterval)
	}
	return nil
}

// ChunkSamples returns the number of interleaved samples in one chunk interval.
func (c *Config) ChunkSamples() int {
	return int(float64(c.SampleRate)*c.ChunkInterval.Seconds()) * c.Channels
}
