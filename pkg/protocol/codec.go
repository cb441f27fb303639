package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors for the protocol package.
var (
	// ErrMalformed indicates a control frame that is not valid JSON or whose
	// data does not match its type.
	ErrMalformed = errors.New("protocol: malformed message")

	// ErrMissingType indicates a control frame without a type discriminator.
	ErrMissingType = errors.New("protocol: missing message type")

	// ErrBinaryFrame indicates a binary frame was handed to the control decoder.
	ErrBinaryFrame = errors.New("protocol: binary frame is not a control message")

	// ErrNilEvent indicates Encode was called without an event.
	ErrNilEvent = errors.New("protocol: nil event")
)

// DecodeError describes a frame that could not be decoded. It is never fatal
// to the connection: callers log it and discard the frame.
type DecodeError struct {
	// Type is the message type, if the envelope could be read.
	Type MessageType

	// Kind is the transport frame kind.
	Kind FrameKind

	// Size is the payload length in bytes.
	Size int

	// Err is the underlying cause.
	Err error
}

// Error implements the error interface.
func (e *DecodeError) Error() string {
	if e.Type != "" {
		return fmt.Sprintf("protocol: decode %s frame (%s, %d bytes): %v", e.Type, e.Kind, e.Size, e.Err)
	}
	return fmt.Sprintf("protocol: decode %s frame (%d bytes): %v", e.Kind, e.Size, e.Err)
}

// Unwrap returns the underlying cause.
func (e *DecodeError) Unwrap() error {
	return e.Err
}

// Encode serializes a control event into a text frame.
func Encode(ev Event) (Frame, error) {
	if ev == nil {
		return Frame{}, ErrNilEvent
	}

	var msg *Message
	if u, ok := ev.(Unrecognized); ok {
		msg = &Message{Type: u.Type, Data: u.Data}
	} else {
		var err error
		msg, err = NewMessage(ev.EventType(), ev)
		if err != nil {
			return Frame{}, err
		}
	}

	data, err := msg.Bytes()
	if err != nil {
		return Frame{}, fmt.Errorf("protocol: encode %s: %w", ev.EventType(), err)
	}
	return TextFrame(data), nil
}

// EncodeAudio wraps an encoded audio chunk in a binary frame.
func EncodeAudio(chunk []byte) Frame {
	return BinaryFrame(chunk)
}

// Decode parses a control frame into a typed event. Unknown message types
// decode into Unrecognized. Any failure is returned as a *DecodeError.
func Decode(f Frame) (Event, error) {
	if f.Kind == FrameBinary {
		return nil, &DecodeError{Kind: f.Kind, Size: len(f.Payload), Err: ErrBinaryFrame}
	}

	var msg Message
	if err := json.Unmarshal(f.Payload, &msg); err != nil {
		return nil, &DecodeError{Kind: f.Kind, Size: len(f.Payload), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	if msg.Type == "" {
		return nil, &DecodeError{Kind: f.Kind, Size: len(f.Payload), Err: ErrMissingType}
	}

	if !msg.Type.Known() {
		return Unrecognized{Type: msg.Type, Data: bytes.Clone(msg.Data)}, nil
	}
	ev, err := decodeMessage(&msg)
	if err != nil {
		return nil, &DecodeError{Type: msg.Type, Kind: f.Kind, Size: len(f.Payload), Err: fmt.Errorf("%w: %v", ErrMalformed, err)}
	}
	return ev, nil
}

func decodeMessage(msg *Message) (Event, error) {
	switch msg.Type {
	case TypeStartTranscription:
		return decodeAs[StartTranscription](msg)
	case TypeStopTranscription:
		return decodeAs[StopTranscription](msg)
	case TypeToggleCoach:
		return decodeAs[ToggleCoach](msg)
	case TypeSessionStarted:
		return decodeAs[SessionStarted](msg)
	case TypeTranscriptUpdate:
		return decodeAs[TranscriptUpdate](msg)
	case TypeObjectionDetected:
		return decodeAs[ObjectionDetected](msg)
	case TypeSuggestionReady:
		return decodeAs[SuggestionReady](msg)
	case TypeCallCompleted:
		return decodeAs[CallCompleted](msg)
	case TypePing:
		return Ping{}, nil
	case TypePong:
		return decodeAs[Pong](msg)
	default:
		return nil, fmt.Errorf("no decoder for %q", msg.Type)
	}
}

func decodeAs[T Event](msg *Message) (Event, error) {
	var v T
	if err := msg.ParseData(&v); err != nil {
		return nil, err
	}
	return v, nil
}

// IsDecodeError reports whether err is a *DecodeError.
func IsDecodeError(err error) bool {
	var de *DecodeError
	return errors.As(err, &de)
}
