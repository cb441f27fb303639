// Package protocol defines the realtime message codec spoken between the
// coaching client and the transcription backend.
//
// Control messages travel as JSON text frames of the form {"type", "data"}.
// Audio travels as raw binary frames with no envelope. The frame kind is
// supplied by the transport and trusted as-is.
package protocol

import (
	"encoding/json"
	"fmt"
)

// MessageType identifies the type of a control message.
type MessageType string

const (
	// Client → Server messages
	TypeStartTranscription MessageType = "start_transcription"
	TypeStopTranscription  MessageType = "stop_transcription"
	TypeToggleCoach        MessageType = "toggle_coach"

	// Server → Client messages
	TypeSessionStarted    MessageType = "session_started"
	TypeTranscriptUpdate  MessageType = "transcript_update"
	TypeObjectionDetected MessageType = "objection_detected"
	TypeSuggestionReady   MessageType = "suggestion_ready"
	TypeCallCompleted     MessageType = "call_completed"

	// Bidirectional
	TypePing MessageType = "ping"
	TypePong MessageType = "pong"
)

// Known reports whether t is a message type this package decodes into a
// typed event.
func (t MessageType) Known() bool {
	switch t {
	case TypeStartTranscription, TypeStopTranscription, TypeToggleCoach,
		TypeSessionStarted, TypeTranscriptUpdate, TypeObjectionDetected,
		TypeSuggestionReady, TypeCallCompleted, TypePing, TypePong:
		return true
	}
	return false
}

// Message is the JSON envelope for every control frame.
type Message struct {
	Type MessageType     `json:"type"`
	Data json.RawMessage `json:"data,omitempty"`
}

// NewMessage creates a message with data marshaled into the envelope.
func NewMessage(msgType MessageType, data any) (*Message, error) {
	var rawData json.RawMessage
	if data != nil {
		var err error
		rawData, err = json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("protocol: marshal %s data: %w", msgType, err)
		}
	}
	return &Message{Type: msgType, Data: rawData}, nil
}

// ParseData unmarshals the message data into v. Absent data leaves v untouched.
func (m *Message) ParseData(v any) error {
	if len(m.Data) == 0 || string(m.Data) == "null" {
		return nil
	}
	return json.Unmarshal(m.Data, v)
}

// Bytes returns the JSON-encoded message.
func (m *Message) Bytes() ([]byte, error) {
	return json.Marshal(m)
}

// ParseMessage parses a JSON envelope from bytes.
func ParseMessage(data []byte) (*Message, error) {
	var msg Message
	if err := json.Unmarshal(data, &msg); err != nil {
		return nil, fmt.Errorf("protocol: parse message: %w", err)
	}
	return &msg, nil
}

// FrameKind is the transport-level frame tag.
type FrameKind int

const (
	// FrameText carries a JSON control message.
	FrameText FrameKind = iota
	// FrameBinary carries raw encoded audio.
	FrameBinary
)

func (k FrameKind) String() string {
	switch k {
	case FrameText:
		return "text"
	case FrameBinary:
		return "binary"
	default:
		return fmt.Sprintf("frame(%d)", int(k))
	}
}

// Frame is a single unit handed to or received from the transport.
type Frame struct {
	Kind    FrameKind
	Payload []byte
}

// TextFrame wraps an encoded control message.
func TextFrame(payload []byte) Frame {
	return Frame{Kind: FrameText, Payload: payload}
}

// BinaryFrame wraps a raw audio chunk.
func BinaryFrame(payload []byte) Frame {
	return Frame{Kind: FrameBinary, Payload: payload}
}
