// Package coach implements the live call-coaching session: the Session
// aggregate with its reducer, and the Controller state machine that
// coordinates the backend connection with audio capture.
package coach

import (
	"slices"
	"time"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Status is the domain status of a Session.
type Status string

const (
	StatusIdle       Status = "idle"
	StatusConnecting Status = "connecting"
	StatusLive       Status = "live"
	StatusEnded      Status = "ended"
)

// EndReason explains why a session ended.
type EndReason string

const (
	EndStopped      EndReason = "stopped"
	EndExhausted    EndReason = "exhausted"
	EndCaptureError EndReason = "capture_error"
	EndConnectError EndReason = "connect_error"
	EndShutdown     EndReason = "shutdown"
)

// Segment is one attributed, timestamped span of transcribed speech.
type Segment struct {
	Speaker     protocol.Speaker `json:"speaker"`
	Text        string           `json:"text"`
	TimestampMs int64            `json:"timestamp_ms"`
	Confidence  float64          `json:"confidence"`
	IsObjection bool             `json:"is_objection"`
}

// Objection is a detected customer objection.
type Objection struct {
	Type        string  `json:"type"`
	Text        string  `json:"text"`
	TimestampMs int64   `json:"timestamp_ms"`
	Confidence  float64 `json:"confidence"`
	Source      string  `json:"source,omitempty"`
}

// Suggestion is a coaching suggestion.
type Suggestion struct {
	Type        string `json:"type"`
	Text        string `json:"text"`
	TimestampMs int64  `json:"timestamp_ms"`
	Source      string `json:"source,omitempty"`
}

// Session is the state of one call. It is owned by the Controller; readers
// get deep copies.
type Session struct {
	CallID       string                `json:"call_id"`
	Endpoint     string                `json:"endpoint"`
	Status       Status                `json:"status"`
	Reconnecting bool                  `json:"reconnecting"`
	CoachEnabled bool                  `json:"coach_enabled"`
	Transcript   []Segment             `json:"transcript"`
	Objections   []Objection           `json:"objections"`
	Suggestions  []Suggestion          `json:"suggestions"`
	Summary      *protocol.CallSummary `json:"summary,omitempty"`
	StartedAt    time.Time             `json:"started_at"`
	EndedAt      time.Time             `json:"ended_at,omitempty"`
	EndReason    EndReason             `json:"end_reason,omitempty"`
	Error        string                `json:"error,omitempty"`
	LastPongAt   time.Time             `json:"last_pong_at,omitempty"`
}

// NewSession creates a session for a call.
func NewSession(callID, endpoint string, coachEnabled bool) *Session {
	return &Session{
		CallID:       callID,
		Endpoint:     endpoint,
		Status:       StatusIdle,
		CoachEnabled: coachEnabled,
		Transcript:   []Segment{},
		Objections:   []Objection{},
		Suggestions:  []Suggestion{},
	}
}

// Change describes what a reducer step did to the session.
type Change struct {
	Kind UpdateKind

	// Segment is set for transcript changes.
	Segment *Segment

	// Objection is set for objection changes.
	Objection *Objection

	// Flagged is the index of the retro-flagged segment, or -1.
	Flagged int

	// Suggestion is set for suggestion changes.
	Suggestion *Suggestion

	// Summary is set when the call summary arrives.
	Summary *protocol.CallSummary
}

// Apply folds one inbound event into the session and reports the change.
// It depends only on the session and the event, so replaying the same
// events onto a fresh session yields the same state.
func (s *Session) Apply(ev protocol.Event) (Change, bool) {
	switch e := ev.(type) {
	case protocol.SessionStarted:
		if e.CallID != "" && s.CallID == "" {
			s.CallID = e.CallID
		}
		return Change{Kind: UpdateSessionStarted, Flagged: -1}, true

	case protocol.TranscriptUpdate:
		seg := Segment{
			Speaker:     e.Speaker,
			Text:        e.Text,
			TimestampMs: int64(e.TsMs),
			Confidence:  e.Confidence,
		}
		s.Transcript = append(s.Transcript, seg)
		return Change{Kind: UpdateTranscript, Segment: &seg, Flagged: -1}, true

	case protocol.ObjectionDetected:
		obj := Objection{
			Type:        e.Type,
			Text:        e.Text,
			TimestampMs: int64(e.TsMs),
			Confidence:  e.Confidence,
			Source:      e.Source,
		}
		s.Objections = append(s.Objections, obj)

		flagged := -1
		if n := len(s.Transcript); n > 0 {
			s.Transcript[n-1].IsObjection = true
			flagged = n - 1
		}
		return Change{Kind: UpdateObjection, Objection: &obj, Flagged: flagged}, true

	case protocol.SuggestionReady:
		sug := Suggestion{
			Type:        e.Type,
			Text:        e.Text,
			TimestampMs: int64(e.TsMs),
			Source:      e.Source,
		}
		s.Suggestions = append(s.Suggestions, sug)
		return Change{Kind: UpdateSuggestion, Suggestion: &sug, Flagged: -1}, true

	case protocol.CallCompleted:
		if e.Summary != nil {
			sum := *e.Summary
			s.Summary = &sum
		}
		return Change{Kind: UpdateSummary, Summary: s.Summary, Flagged: -1}, true
	}
	return Change{Flagged: -1}, false
}

// Replay applies events in order to a fresh session.
func Replay(callID string, events []protocol.Event) *Session {
	s := NewSession(callID, "", true)
	for _, ev := range events {
		s.Apply(ev)
	}
	return s
}

// RecentSuggestions returns up to n of the latest suggestions, newest last.
func (s *Session) RecentSuggestions(n int) []Suggestion {
	if n <= 0 || len(s.Suggestions) == 0 {
		return nil
	}
	if n > len(s.Suggestions) {
		n = len(s.Suggestions)
	}
	out := make([]Suggestion, n)
	copy(out, s.Suggestions[len(s.Suggestions)-n:])
	return out
}

// Duration returns how long the call lasted, or has lasted so far.
func (s *Session) Duration() time.Duration {
	if s.StartedAt.IsZero() {
		return 0
	}
	if s.EndedAt.IsZero() {
		return time.Since(s.StartedAt)
	}
	return s.EndedAt.Sub(s.StartedAt)
}

// Clone returns a deep copy. Empty slices stay empty rather than nil.
func (s *Session) Clone() *Session {
	c := *s
	c.Transcript = slices.Clone(s.Transcript)
	c.Objections = slices.Clone(s.Objections)
	c.Suggestions = slices.Clone(s.Suggestions)
	if s.Summary != nil {
		sum := *s.Summary
		sum.KeyTopics = slices.Clone(s.Summary.KeyTopics)
		sum.NextSteps = slices.Clone(s.Summary.NextSteps)
		sum.ObjectionTypes = slices.Clone(s.Summary.ObjectionTypes)
		c.Summary = &sum
	}
	return &c
}
