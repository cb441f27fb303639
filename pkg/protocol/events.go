package protocol

import "encoding/json"

// Event is a decoded control message. Every concrete event reports the
// message type it travels as.
type Event interface {
	EventType() MessageType
}

// =============================================================================
// Client → Server Events
// =============================================================================

// StartTranscription asks the backend to begin processing audio for the call.
type StartTranscription struct {
	Timestamp string `json:"timestamp"`
}

// StopTranscription asks the backend to finish processing and summarize.
type StopTranscription struct {
	Timestamp string `json:"timestamp"`
}

// ToggleCoach enables or disables suggestion generation.
type ToggleCoach struct {
	Enabled bool `json:"enabled"`
}

// =============================================================================
// Server → Client Events
// =============================================================================

// SessionStarted acknowledges the session for a call.
type SessionStarted struct {
	CallID    string `json:"call_id"`
	Timestamp string `json:"timestamp,omitempty"`
	Message   string `json:"message,omitempty"`
}

// TranscriptUpdate carries one new transcript segment.
type TranscriptUpdate struct {
	Speaker    Speaker `json:"speaker"`
	Text       string  `json:"text"`
	TsMs       Millis  `json:"ts_ms"`
	Confidence float64 `json:"confidence"`
	IsFinal    bool    `json:"is_final,omitempty"`
	CallID     string  `json:"call_id,omitempty"`
}

// ObjectionDetected flags an objection raised on the call.
type ObjectionDetected struct {
	Type       string  `json:"type"`
	Text       string  `json:"text"`
	TsMs       Millis  `json:"ts_ms"`
	Confidence float64 `json:"confidence"`
	Source     string  `json:"source,omitempty"`
}

// SuggestionReady carries a coaching suggestion.
type SuggestionReady struct {
	Type   string `json:"type"`
	Text   string `json:"text"`
	TsMs   Millis `json:"ts_ms"`
	Source string `json:"source,omitempty"`
}

// CallCompleted carries the final call summary.
type CallCompleted struct {
	EndTime  string       `json:"end_time,omitempty"`
	Duration float64      `json:"duration,omitempty"`
	Summary  *CallSummary `json:"summary,omitempty"`
}

// =============================================================================
// Bidirectional Events
// =============================================================================

// Ping is a liveness check.
type Ping struct{}

// Pong answers a Ping.
type Pong struct {
	Timestamp string `json:"timestamp,omitempty"`
}

// Unrecognized is a well-formed message whose type this client does not know.
// Decoding it succeeds so that backend additions never break the client.
type Unrecognized struct {
	Type MessageType
	Data json.RawMessage
}

func (StartTranscription) EventType() MessageType { return TypeStartTranscription }
func (StopTranscription) EventType() MessageType  { return TypeStopTranscription }
func (ToggleCoach) EventType() MessageType        { return TypeToggleCoach }
func (SessionStarted) EventType() MessageType     { return TypeSessionStarted }
func (TranscriptUpdate) EventType() MessageType   { return TypeTranscriptUpdate }
func (ObjectionDetected) EventType() MessageType  { return TypeObjectionDetected }
func (SuggestionReady) EventType() MessageType    { return TypeSuggestionReady }
func (CallCompleted) EventType() MessageType      { return TypeCallCompleted }
func (Ping) EventType() MessageType               { return TypePing }
func (Pong) EventType() MessageType               { return TypePong }
func (u Unrecognized) EventType() MessageType     { return u.Type }
