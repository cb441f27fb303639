package protocol

import (
	"encoding/json"
	"errors"
	"reflect"
	"strings"
	"testing"
	"time"
)

func TestNewMessage(t *testing.T) {
	tests := []struct {
		name    string
		msgType MessageType
		data    any
		wantErr bool
	}{
		{
			name:    "toggle coach",
			msgType: TypeToggleCoach,
			data:    ToggleCoach{Enabled: true},
		},
		{
			name:    "transcript update",
			msgType: TypeTranscriptUpdate,
			data:    TranscriptUpdate{Speaker: SpeakerCounterpart, Text: "hola", TsMs: 1200},
		},
		{
			name:    "nil data",
			msgType: TypePing,
			data:    nil,
		},
		{
			name:    "unmarshalable data",
			msgType: TypePing,
			data:    make(chan int),
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg, err := NewMessage(tt.msgType, tt.data)
			if (err != nil) != tt.wantErr {
				t.Fatalf("NewMessage() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.wantErr {
				return
			}
			if msg.Type != tt.msgType {
				t.Errorf("NewMessage() type = %v, want %v", msg.Type, tt.msgType)
			}
			if tt.data == nil && msg.Data != nil {
				t.Errorf("NewMessage() data = %s, want nil", msg.Data)
			}
		})
	}
}

func TestEncodeWireShape(t *testing.T) {
	tests := []struct {
		name string
		ev   Event
		want string
	}{
		{
			name: "start transcription",
			ev:   StartTranscription{Timestamp: "2025-01-01T10:00:00Z"},
			want: `{"type":"start_transcription","data":{"timestamp":"2025-01-01T10:00:00Z"}}`,
		},
		{
			name: "stop transcription",
			ev:   StopTranscription{Timestamp: "2025-01-01T10:05:00Z"},
			want: `{"type":"stop_transcription","data":{"timestamp":"2025-01-01T10:05:00Z"}}`,
		},
		{
			name: "toggle coach off",
			ev:   ToggleCoach{Enabled: false},
			want: `{"type":"toggle_coach","data":{"enabled":false}}`,
		},
		{
			name: "ping",
			ev:   Ping{},
			want: `{"type":"ping","data":{}}`,
		},
		{
			name: "unrecognized passthrough",
			ev:   Unrecognized{Type: "custom", Data: json.RawMessage(`{"x":1}`)},
			want: `{"type":"custom","data":{"x":1}}`,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f, err := Encode(tt.ev)
			if err != nil {
				t.Fatalf("Encode() error = %v", err)
			}
			if f.Kind != FrameText {
				t.Errorf("Encode() kind = %v, want text", f.Kind)
			}
			if string(f.Payload) != tt.want {
				t.Errorf("Encode() = %s, want %s", f.Payload, tt.want)
			}
		})
	}
}

func TestEncodeNil(t *testing.T) {
	if _, err := Encode(nil); !errors.Is(err, ErrNilEvent) {
		t.Errorf("Encode(nil) error = %v, want ErrNilEvent", err)
	}
}

func TestSuggestionReadyRoundTrip(t *testing.T) {
	original := SuggestionReady{
		Type:   "price",
		Text:   "Anchor on the ROI before discussing discounts.",
		TsMs:   48250,
		Source: "llm",
	}

	f, err := Encode(original)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	ev, err := Decode(f)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}

	got, ok := ev.(SuggestionReady)
	if !ok {
		t.Fatalf("Decode() = %T, want SuggestionReady", ev)
	}
	if got != original {
		t.Errorf("round trip = %+v, want %+v", got, original)
	}
}

func TestDecodeServerMessages(t *testing.T) {
	tests := []struct {
		name    string
		payload string
		want    Event
	}{
		{
			name:    "session started",
			payload: `{"type":"session_started","data":{"call_id":"web_1a2b3c4d","message":"Session started","timestamp":"2025-01-01T10:00:00.123456"}}`,
			want:    SessionStarted{CallID: "web_1a2b3c4d", Message: "Session started", Timestamp: "2025-01-01T10:00:00.123456"},
		},
		{
			name:    "transcript update numeric speaker",
			payload: `{"type":"transcript_update","data":{"call_id":"c1","speaker":1,"ts_ms":1500,"text":"too expensive","is_final":true,"confidence":0.91}}`,
			want:    TranscriptUpdate{CallID: "c1", Speaker: SpeakerCounterpart, TsMs: 1500, Text: "too expensive", IsFinal: true, Confidence: 0.91},
		},
		{
			name:    "transcript update string speaker and string ts",
			payload: `{"type":"transcript_update","data":{"speaker":"self","ts_ms":"2000","text":"ok","confidence":1}}`,
			want:    TranscriptUpdate{Speaker: SpeakerSelf, TsMs: 2000, Text: "ok", Confidence: 1},
		},
		{
			name:    "objection detected",
			payload: `{"type":"objection_detected","data":{"type":"price","text":"too expensive","ts_ms":1500,"confidence":0.8,"source":"rules"}}`,
			want:    ObjectionDetected{Type: "price", Text: "too expensive", TsMs: 1500, Confidence: 0.8, Source: "rules"},
		},
		{
			name:    "call completed with summary",
			payload: `{"type":"call_completed","data":{"end_time":"2025-01-01T10:30:00","duration":1800.5,"summary":{"overview":"good call","key_topics":["pricing"],"next_steps":["send quote"],"confidence_score":0.7,"total_objections":2,"objection_types":["price"]}}}`,
			want: CallCompleted{
				EndTime:  "2025-01-01T10:30:00",
				Duration: 1800.5,
				Summary: &CallSummary{
					Overview:        "good call",
					KeyTopics:       []string{"pricing"},
					NextSteps:       []string{"send quote"},
					ConfidenceScore: 0.7,
					TotalObjections: 2,
					ObjectionTypes:  []string{"price"},
				},
			},
		},
		{
			name:    "pong without data",
			payload: `{"type":"pong"}`,
			want:    Pong{},
		},
		{
			name:    "ping with empty data",
			payload: `{"type":"ping","data":{}}`,
			want:    Ping{},
		},
		{
			name:    "unknown type is not an error",
			payload: `{"type":"sentiment_update","data":{"score":0.4}}`,
			want:    Unrecognized{Type: "sentiment_update", Data: json.RawMessage(`{"score":0.4}`)},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := Decode(TextFrame([]byte(tt.payload)))
			if err != nil {
				t.Fatalf("Decode() error = %v", err)
			}
			if !reflect.DeepEqual(got, tt.want) {
				t.Errorf("Decode() = %#v, want %#v", got, tt.want)
			}
		})
	}
}

func TestDecodeErrors(t *testing.T) {
	tests := []struct {
		name    string
		frame   Frame
		wantErr error
	}{
		{"invalid json", TextFrame([]byte(`{not json`)), ErrMalformed},
		{"missing type", TextFrame([]byte(`{"data":{}}`)), ErrMissingType},
		{"data type mismatch", TextFrame([]byte(`{"type":"toggle_coach","data":{"enabled":"yes"}}`)), ErrMalformed},
		{"bad speaker", TextFrame([]byte(`{"type":"transcript_update","data":{"speaker":"narrator"}}`)), ErrMalformed},
		{"binary frame", BinaryFrame([]byte{0x01, 0x02}), ErrBinaryFrame},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ev, err := Decode(tt.frame)
			if err == nil {
				t.Fatalf("Decode() = %#v, want error", ev)
			}
			if !IsDecodeError(err) {
				t.Errorf("Decode() error type = %T, want *DecodeError", err)
			}
			if !errors.Is(err, tt.wantErr) {
				t.Errorf("Decode() error = %v, want %v", err, tt.wantErr)
			}
		})
	}
}

func TestBinaryFrameNotInspected(t *testing.T) {
	// JSON-looking bytes in a binary frame are still audio.
	f := EncodeAudio([]byte(`{"type":"pong"}`))
	if f.Kind != FrameBinary {
		t.Fatalf("EncodeAudio() kind = %v, want binary", f.Kind)
	}
	if _, err := Decode(f); !errors.Is(err, ErrBinaryFrame) {
		t.Errorf("Decode(binary) error = %v, want ErrBinaryFrame", err)
	}
}

func TestSpeakerJSON(t *testing.T) {
	tests := []struct {
		in      string
		want    Speaker
		wantErr bool
	}{
		{`0`, SpeakerSelf, false},
		{`1`, SpeakerCounterpart, false},
		{`"mic"`, SpeakerSelf, false},
		{`"loop"`, SpeakerCounterpart, false},
		{`"Customer"`, SpeakerCounterpart, false},
		{`null`, SpeakerSelf, false},
		{`-1`, 0, true},
		{`"nobody"`, 0, true},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var s Speaker
			err := json.Unmarshal([]byte(tt.in), &s)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Unmarshal(%s) error = %v, wantErr %v", tt.in, err, tt.wantErr)
			}
			if !tt.wantErr && s != tt.want {
				t.Errorf("Unmarshal(%s) = %v, want %v", tt.in, s, tt.want)
			}
		})
	}

	out, _ := json.Marshal(SpeakerCounterpart)
	if string(out) != "1" {
		t.Errorf("Marshal(SpeakerCounterpart) = %s, want 1", out)
	}
}

func TestMillisJSON(t *testing.T) {
	tests := []struct {
		in   string
		want Millis
	}{
		{`1500`, 1500},
		{`"1500"`, 1500},
		{`1500.7`, 1500},
		{`""`, 0},
		{`null`, 0},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			var m Millis
			if err := json.Unmarshal([]byte(tt.in), &m); err != nil {
				t.Fatalf("Unmarshal(%s) error = %v", tt.in, err)
			}
			if m != tt.want {
				t.Errorf("Unmarshal(%s) = %d, want %d", tt.in, m, tt.want)
			}
		})
	}

	if got := Millis(1500).Duration(); got != 1500*time.Millisecond {
		t.Errorf("Duration() = %v, want 1.5s", got)
	}
}

func TestParseTimestamp(t *testing.T) {
	tests := []string{
		"2025-01-01T10:00:00Z",
		"2025-01-01T10:00:00.123456",
		"2025-01-01T10:00:00",
		"2025-01-01T10:00:00+02:00",
	}
	for _, in := range tests {
		t.Run(in, func(t *testing.T) {
			ts, err := ParseTimestamp(in)
			if err != nil {
				t.Fatalf("ParseTimestamp(%q) error = %v", in, err)
			}
			if ts.Year() != 2025 || ts.Hour() != 10 {
				t.Errorf("ParseTimestamp(%q) = %v", in, ts)
			}
		})
	}

	if _, err := ParseTimestamp("yesterday"); err == nil {
		t.Error("ParseTimestamp(yesterday) should fail")
	}
}

func TestMessageTypeKnown(t *testing.T) {
	known := []MessageType{
		TypeStartTranscription, TypeStopTranscription, TypeToggleCoach,
		TypeSessionStarted, TypeTranscriptUpdate, TypeObjectionDetected,
		TypeSuggestionReady, TypeCallCompleted, TypePing, TypePong,
	}
	for _, typ := range known {
		t.Run(string(typ), func(t *testing.T) {
			if !typ.Known() {
				t.Fatalf("%s should be known", typ)
			}
			_, err := decodeMessage(&Message{Type: typ, Data: json.RawMessage(`{}`)})
			if err != nil && strings.Contains(err.Error(), "no decoder") {
				t.Errorf("known type %s has no decoder", typ)
			}
		})
	}
	if MessageType("sentiment_update").Known() {
		t.Error("sentiment_update should not be known")
	}
}
