package coach

import (
	"encoding/json"
	"math/rand"
	"reflect"
	"strings"
	"testing"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

func transcript(speaker protocol.Speaker, text string, ts int64) protocol.TranscriptUpdate {
	return protocol.TranscriptUpdate{Speaker: speaker, Text: text, TsMs: protocol.Millis(ts), Confidence: 0.9}
}

func objection(kind, text string, ts int64) protocol.ObjectionDetected {
	return protocol.ObjectionDetected{Type: kind, Text: text, TsMs: protocol.Millis(ts), Confidence: 0.8}
}

func TestApplyRetroFlagsLastSegment(t *testing.T) {
	s := NewSession("web_1", "", true)

	s.Apply(transcript(protocol.SpeakerSelf, "Thanks for taking the call", 1000))
	s.Apply(transcript(protocol.SpeakerCounterpart, "Honestly this seems too expensive", 2000))

	change, ok := s.Apply(objection("price", "too expensive", 2100))
	if !ok || change.Kind != UpdateObjection {
		t.Fatalf("Apply(objection) = %+v, %v", change, ok)
	}
	if change.Flagged != 1 {
		t.Errorf("Flagged = %d, want 1", change.Flagged)
	}
	if s.Transcript[0].IsObjection {
		t.Error("earlier segment should not be flagged")
	}
	if !s.Transcript[1].IsObjection {
		t.Error("last segment should be flagged")
	}
	if len(s.Objections) != 1 || s.Objections[0].Type != "price" {
		t.Errorf("Objections = %+v", s.Objections)
	}
}

func TestApplyObjectionWithoutTranscript(t *testing.T) {
	s := NewSession("web_1", "", true)

	change, ok := s.Apply(objection("timing", "not now", 0))
	if !ok {
		t.Fatal("Apply(objection) should report a change")
	}
	if change.Flagged != -1 {
		t.Errorf("Flagged = %d, want -1 with empty transcript", change.Flagged)
	}
	if len(s.Objections) != 1 {
		t.Errorf("objection not recorded")
	}
}

// Over random event sequences, a segment is flagged exactly when it was the
// last segment at the time some objection arrived, and flags never revert.
func TestApplyRetroFlagProperty(t *testing.T) {
	rng := rand.New(rand.NewSource(42))

	for run := 0; run < 200; run++ {
		s := NewSession("web_prop", "", true)
		want := map[int]bool{}
		prevFlags := []bool{}

		for step := 0; step < 50; step++ {
			if rng.Intn(3) == 0 {
				s.Apply(objection("price", "o", int64(step)))
				if n := len(s.Transcript); n > 0 {
					want[n-1] = true
				}
			} else {
				s.Apply(transcript(protocol.Speaker(rng.Intn(2)), "t", int64(step)))
			}

			for i, seg := range s.Transcript {
				if seg.IsObjection != want[i] {
					t.Fatalf("run %d step %d: segment %d flagged = %v, want %v", run, step, i, seg.IsObjection, want[i])
				}
				if i < len(prevFlags) && prevFlags[i] && !seg.IsObjection {
					t.Fatalf("run %d step %d: segment %d flag reverted", run, step, i)
				}
			}
			prevFlags = prevFlags[:0]
			for _, seg := range s.Transcript {
				prevFlags = append(prevFlags, seg.IsObjection)
			}
		}
	}
}

func TestReplayDeterministic(t *testing.T) {
	events := []protocol.Event{
		protocol.SessionStarted{CallID: "web_abc"},
		transcript(protocol.SpeakerSelf, "Hi there", 100),
		transcript(protocol.SpeakerCounterpart, "We already use a competitor", 900),
		objection("competitor", "already use a competitor", 950),
		protocol.SuggestionReady{Type: "reframe", Text: "Ask what they would change", TsMs: 960},
		protocol.Pong{},
		protocol.Unrecognized{Type: "debug_info"},
		protocol.CallCompleted{Summary: &protocol.CallSummary{Overview: "short call", TotalObjections: 1}},
	}

	a := Replay("", events)
	b := Replay("", events)
	if !reflect.DeepEqual(a, b) {
		t.Error("replaying the same events produced different sessions")
	}
	if a.CallID != "web_abc" {
		t.Errorf("CallID = %q, want web_abc", a.CallID)
	}
	if len(a.Transcript) != 2 || len(a.Objections) != 1 || len(a.Suggestions) != 1 {
		t.Errorf("counts = %d/%d/%d", len(a.Transcript), len(a.Objections), len(a.Suggestions))
	}
	if a.Summary == nil || a.Summary.TotalObjections != 1 {
		t.Errorf("Summary = %+v", a.Summary)
	}
}

func TestApplyIgnoresUnknown(t *testing.T) {
	s := NewSession("web_1", "", true)
	for _, ev := range []protocol.Event{protocol.Pong{}, protocol.Unrecognized{Type: "x"}, protocol.Ping{}} {
		if _, ok := s.Apply(ev); ok {
			t.Errorf("Apply(%T) reported a change", ev)
		}
	}
}

func TestRecentSuggestions(t *testing.T) {
	s := NewSession("web_1", "", true)
	for i, text := range []string{"a", "b", "c", "d"} {
		s.Apply(protocol.SuggestionReady{Type: "tip", Text: text, TsMs: protocol.Millis(i)})
	}

	tests := []struct {
		n    int
		want []string
	}{
		{0, nil},
		{2, []string{"c", "d"}},
		{10, []string{"a", "b", "c", "d"}},
	}
	for _, tt := range tests {
		got := s.RecentSuggestions(tt.n)
		var texts []string
		for _, sug := range got {
			texts = append(texts, sug.Text)
		}
		if !reflect.DeepEqual(texts, tt.want) {
			t.Errorf("RecentSuggestions(%d) = %v, want %v", tt.n, texts, tt.want)
		}
	}
}

func TestCloneIsIndependent(t *testing.T) {
	s := NewSession("web_1", "", true)
	s.Apply(transcript(protocol.SpeakerSelf, "hello", 1))
	s.Apply(protocol.CallCompleted{Summary: &protocol.CallSummary{KeyTopics: []string{"pricing"}}})

	c := s.Clone()
	c.Transcript[0].Text = "changed"
	c.Summary.KeyTopics[0] = "changed"

	if s.Transcript[0].Text != "hello" {
		t.Error("clone shares transcript")
	}
	if s.Summary.KeyTopics[0] != "pricing" {
		t.Error("clone shares summary")
	}
}

func TestCloneKeepsEmptySlices(t *testing.T) {
	s := NewSession("web_1", "", true)

	data, err := json.Marshal(s.Clone())
	if err != nil {
		t.Fatalf("Marshal() error = %v", err)
	}
	for _, want := range []string{`"transcript":[]`, `"objections":[]`, `"suggestions":[]`} {
		if !strings.Contains(string(data), want) {
			t.Errorf("snapshot JSON missing %s: %s", want, data)
		}
	}
}
