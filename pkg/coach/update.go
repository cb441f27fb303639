package coach

import (
	"sync"
	"time"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Phase is the controller lifecycle phase.
type Phase int

const (
	PhaseIdle Phase = iota
	PhaseConnecting
	PhaseLive
	PhaseReconnecting
	PhaseEnding
	PhaseEnded
)

func (p Phase) String() string {
	switch p {
	case PhaseIdle:
		return "idle"
	case PhaseConnecting:
		return "connecting"
	case PhaseLive:
		return "live"
	case PhaseReconnecting:
		return "reconnecting"
	case PhaseEnding:
		return "ending"
	case PhaseEnded:
		return "ended"
	default:
		return "unknown"
	}
}

// MarshalText implements encoding.TextMarshaler.
func (p Phase) MarshalText() ([]byte, error) {
	return []byte(p.String()), nil
}

// status maps a phase onto the session's domain status.
func (p Phase) status() Status {
	switch p {
	case PhaseConnecting:
		return StatusConnecting
	case PhaseLive, PhaseReconnecting, PhaseEnding:
		return StatusLive
	case PhaseEnded:
		return StatusEnded
	default:
		return StatusIdle
	}
}

// UpdateKind identifies an Update.
type UpdateKind string

const (
	UpdatePhase          UpdateKind = "phase"
	UpdateSessionStarted UpdateKind = "session_started"
	UpdateTranscript     UpdateKind = "transcript"
	UpdateObjection      UpdateKind = "objection"
	UpdateSuggestion     UpdateKind = "suggestion"
	UpdateSummary        UpdateKind = "summary"
	UpdateCoach          UpdateKind = "coach"
	UpdateLiveness       UpdateKind = "liveness"
	UpdateAudio          UpdateKind = "audio"
	UpdateFinalized      UpdateKind = "finalized"
	UpdateError          UpdateKind = "error"
)

// Update is published to subscribers after every state change.
type Update struct {
	Kind   UpdateKind `json:"kind"`
	Phase  Phase      `json:"phase"`
	CallID string     `json:"call_id"`
	At     time.Time  `json:"at"`

	Segment    *Segment              `json:"segment,omitempty"`
	Flagged    *int                  `json:"flagged,omitempty"`
	Objection  *Objection            `json:"objection,omitempty"`
	Suggestion *Suggestion           `json:"suggestion,omitempty"`
	Summary    *protocol.CallSummary `json:"summary,omitempty"`

	CoachEnabled bool      `json:"coach_enabled"`
	EndReason    EndReason `json:"end_reason,omitempty"`
	Error        string    `json:"error,omitempty"`

	// Attempt and RetryIn describe a pending reconnect.
	Attempt int           `json:"attempt,omitempty"`
	RetryIn time.Duration `json:"retry_in,omitempty"`

	// Level is the audio level of the last chunk in 0..1.
	Level float64 `json:"level,omitempty"`
}

// broadcaster fans updates out to subscribers. Slow subscribers lose
// updates rather than stalling the controller.
type broadcaster struct {
	buffer int

	mu     sync.Mutex
	nextID int
	subs   map[int]chan Update
	closed bool
}

func newBroadcaster(buffer int) *broadcaster {
	return &broadcaster{
		buffer: buffer,
		subs:   make(map[int]chan Update),
	}
}

func (b *broadcaster) subscribe() (<-chan Update, func()) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		ch := make(chan Update)
		close(ch)
		return ch, func() {}
	}

	id := b.nextID
	b.nextID++
	ch := make(chan Update, b.buffer)
	b.subs[id] = ch

	var once sync.Once
	return ch, func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			if c, ok := b.subs[id]; ok {
				delete(b.subs, id)
				close(c)
			}
		})
	}
}

// publish returns how many subscribers missed the update.
func (b *broadcaster) publish(u Update) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	missed := 0
	for _, ch := range b.subs {
		select {
		case ch <- u:
		default:
			missed++
		}
	}
	return missed
}

// closeAll closes every subscription. Later subscribers get a closed channel.
func (b *broadcaster) closeAll() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.closed = true
	for id, ch := range b.subs {
		delete(b.subs, id)
		close(ch)
	}
}
