// Package hub fans dashboard events out to websocket clients.
package hub

import "encoding/json"

// Kind is the websocket frame kind a Message is written as.
type Kind int

const (
	// Text frames carry JSON events.
	Text Kind = iota
	// Binary frames carry raw audio or other opaque payloads.
	Binary
)

// Message is one frame queued for clients.
type Message struct {
	Kind Kind
	Data []byte
}

// TextMessage wraps pre-encoded JSON.
func TextMessage(data []byte) Message {
	return Message{Kind: Text, Data: data}
}

// BinaryMessage wraps raw bytes.
func BinaryMessage(data []byte) Message {
	return Message{Kind: Binary, Data: data}
}

// Encode marshals v into a text message.
func Encode(v any) (Message, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return Message{}, err
	}
	return TextMessage(data), nil
}
