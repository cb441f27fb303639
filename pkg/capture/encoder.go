package capture

import "fmt"

// StreamEncoder turns captured PCM into the bytes of one streamed chunk.
type StreamEncoder interface {
	// Encode consumes samples and returns the chunk payload. Encoders that
	// work on fixed frames keep the remainder for the next call.
	Encode(samples []int16) ([]byte, error)

	// Flush encodes any buffered remainder, padding with silence.
	Flush() ([]byte, error)
}

// NewStreamEncoder returns the encoder for cfg.Codec.
func NewStreamEncoder(cfg Config) (StreamEncoder, error) {
	switch cfg.Codec {
	case CodecPCM16, "":
		return pcmEncoder{}, nil
	case CodecOpus:
		return newOpusEncoder(cfg)
	default:
		return nil, fmt.Errorf("capture: unknown codec %q", cfg.Codec)
	}
}

type pcmEncoder struct{}

func (pcmEncoder) Encode(samples []int16) ([]byte, error) {
	return SamplesToBytes(samples), nil
}

func (pcmEncoder) Flush() ([]byte, error) {
	return nil, nil
}
