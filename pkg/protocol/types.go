package protocol

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// Speaker attributes a transcript segment to one side of the call.
type Speaker int

const (
	// SpeakerSelf is the local user (microphone channel 0).
	SpeakerSelf Speaker = iota
	// SpeakerCounterpart is the remote party (loopback channel 1).
	SpeakerCounterpart
)

func (s Speaker) String() string {
	switch s {
	case SpeakerSelf:
		return "self"
	case SpeakerCounterpart:
		return "counterpart"
	default:
		return "speaker_" + strconv.Itoa(int(s))
	}
}

// MarshalJSON encodes the speaker as its channel index.
func (s Speaker) MarshalJSON() ([]byte, error) {
	return []byte(strconv.Itoa(int(s))), nil
}

// UnmarshalJSON accepts a channel index or one of the string names
// "self", "mic", "user", "counterpart", "loop", "customer".
func (s *Speaker) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*s = SpeakerSelf
		return nil
	}
	if data[0] == '"' {
		var name string
		if err := json.Unmarshal(data, &name); err != nil {
			return err
		}
		return s.parseName(name)
	}
	n, err := strconv.Atoi(string(data))
	if err != nil {
		return fmt.Errorf("protocol: invalid speaker %s", data)
	}
	if n < 0 {
		return fmt.Errorf("protocol: negative speaker %d", n)
	}
	*s = Speaker(n)
	return nil
}

func (s *Speaker) parseName(name string) error {
	switch strings.ToLower(strings.TrimSpace(name)) {
	case "self", "mic", "user", "agent", "0":
		*s = SpeakerSelf
	case "counterpart", "loop", "customer", "remote", "1":
		*s = SpeakerCounterpart
	default:
		return fmt.Errorf("protocol: unknown speaker %q", name)
	}
	return nil
}

// Millis is a millisecond timestamp that tolerates being sent as a JSON
// number or a numeric string.
type Millis int64

// UnmarshalJSON implements json.Unmarshaler.
func (m *Millis) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || string(data) == "null" {
		*m = 0
		return nil
	}
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
		if len(data) == 0 {
			*m = 0
			return nil
		}
	}
	if n, err := strconv.ParseInt(string(data), 10, 64); err == nil {
		*m = Millis(n)
		return nil
	}
	f, err := strconv.ParseFloat(string(data), 64)
	if err != nil {
		return fmt.Errorf("protocol: invalid millisecond timestamp %s", data)
	}
	*m = Millis(f)
	return nil
}

// Duration converts the timestamp to a time.Duration offset.
func (m Millis) Duration() time.Duration {
	return time.Duration(m) * time.Millisecond
}

// timestampLayouts are the layouts accepted by ParseTimestamp. The backend
// emits naive ISO-8601 local times without a zone.
var timestampLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05.999999999",
}

// Timestamp returns the current time formatted for outbound payloads.
func Timestamp(t time.Time) string {
	return t.Format(time.RFC3339Nano)
}

// ParseTimestamp parses an ISO-8601 timestamp as sent by the backend.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range timestampLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("protocol: invalid timestamp %q", s)
}

// CallSummary is the post-call analysis attached to call_completed.
type CallSummary struct {
	Overview        string   `json:"overview"`
	KeyTopics       []string `json:"key_topics,omitempty"`
	NextSteps       []string `json:"next_steps,omitempty"`
	ConfidenceScore float64  `json:"confidence_score"`
	TotalObjections int      `json:"total_objections"`
	ObjectionTypes  []string `json:"objection_types,omitempty"`
}
