package connection

import (
	"fmt"
	"time"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Status is the connection status.
type Status int

const (
	StatusDisconnected Status = iota
	StatusConnecting
	StatusOpen
	StatusClosing
)

func (s Status) String() string {
	switch s {
	case StatusDisconnected:
		return "disconnected"
	case StatusConnecting:
		return "connecting"
	case StatusOpen:
		return "open"
	case StatusClosing:
		return "closing"
	default:
		return fmt.Sprintf("status(%d)", int(s))
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Status) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// State is a read-only copy of the manager's connection state.
type State struct {
	Status    Status `json:"status"`
	Endpoint  string `json:"endpoint,omitempty"`
	Attempts  int    `json:"attempts"`
	LastError error  `json:"-"`
}

// EventKind discriminates manager events.
type EventKind int

const (
	// EventOpen fires when a transport is established.
	EventOpen EventKind = iota
	// EventMessage carries a decoded inbound control message.
	EventMessage
	// EventClose fires when the transport is lost or retries are exhausted.
	EventClose
	// EventError reports a non-fatal failure: a failed dial or a frame that
	// could not be decoded.
	EventError
)

func (k EventKind) String() string {
	switch k {
	case EventOpen:
		return "open"
	case EventMessage:
		return "message"
	case EventClose:
		return "close"
	case EventError:
		return "error"
	default:
		return fmt.Sprintf("event(%d)", int(k))
	}
}

// CloseReason explains an EventClose.
type CloseReason string

const (
	// ReasonDropped is a transient loss; a reconnect is scheduled.
	ReasonDropped CloseReason = "dropped"
	// ReasonExhausted is terminal; no further attempts will be made.
	ReasonExhausted CloseReason = "exhausted"
	// ReasonRejected is terminal; the server refused the handshake.
	ReasonRejected CloseReason = "rejected"
)

// Event is emitted on the manager's Events channel.
type Event struct {
	Kind EventKind

	// Message is set for EventMessage.
	Message protocol.Event

	// Reason is set for EventClose.
	Reason CloseReason

	// Attempt is the reconnect attempt about to be made (dropped) or the
	// number of attempts made (exhausted, rejected).
	Attempt int

	// RetryIn is the backoff before the next attempt (dropped only).
	RetryIn time.Duration

	// Err is set for EventError and carries the cause of an EventClose.
	Err error
}

// Terminal reports whether the event ends the connection for good.
func (e Event) Terminal() bool {
	return e.Kind == EventClose && (e.Reason == ReasonExhausted || e.Reason == ReasonRejected)
}
