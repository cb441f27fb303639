package tui

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	tea "github.com/charmbracelet/bubbletea"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

type fakeController struct {
	mu       sync.Mutex
	phase    coach.Phase
	session  coach.Session
	updates  chan coach.Update
	started  []coach.StartParams
	stopped  int
	toggled  []bool
	startErr error
}

func newFakeController() *fakeController {
	return &fakeController{
		session: *coach.NewSession("", "", true),
		updates: make(chan coach.Update, 8),
	}
}

func (f *fakeController) Start(ctx context.Context, p coach.StartParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.started = append(f.started, p)
	return f.startErr
}

func (f *fakeController) Stop(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stopped++
	return nil
}

func (f *fakeController) ToggleCoach(ctx context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggled = append(f.toggled, enabled)
	return nil
}

func (f *fakeController) Phase() coach.Phase {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.phase
}

func (f *fakeController) Snapshot() coach.Session {
	f.mu.Lock()
	defer f.mu.Unlock()
	return *f.session.Clone()
}

func (f *fakeController) Subscribe() (<-chan coach.Update, func()) {
	return f.updates, func() {}
}

// SimulateSession replaces the session the controller reports.
func (f *fakeController) SimulateSession(phase coach.Phase, s *coach.Session) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.phase = phase
	f.session = *s
}

func liveSession() *coach.Session {
	s := coach.NewSession("web_1234abcd", "ws://localhost:8000/ws/web_1234abcd", true)
	s.StartedAt = time.Now().Add(-time.Minute)
	s.Transcript = []coach.Segment{
		{Speaker: protocol.SpeakerSelf, Text: "Thanks for taking the call."},
		{Speaker: protocol.SpeakerCounterpart, Text: "It sounds too expensive.", IsObjection: true},
	}
	s.Objections = []coach.Objection{{Type: "price", Text: "It sounds too expensive."}}
	s.Suggestions = []coach.Suggestion{{Type: "price", Text: "Reframe around return on investment."}}
	return s
}

func key(s string) tea.KeyMsg {
	switch s {
	case keyUp:
		return tea.KeyMsg{Type: tea.KeyUp}
	case keyDown:
		return tea.KeyMsg{Type: tea.KeyDown}
	case keyBottom:
		return tea.KeyMsg{Type: tea.KeyEnd}
	case keyCtrlC:
		return tea.KeyMsg{Type: tea.KeyCtrlC}
	}
	return tea.KeyMsg{Type: tea.KeyRunes, Runes: []rune(s)}
}

func sized(m Model) Model {
	m.width = 100
	m.height = 30
	return m
}

func TestNewModel(t *testing.T) {
	m := New(newFakeController())
	if m.phase != coach.PhaseIdle {
		t.Errorf("phase = %v, want idle", m.phase)
	}
	if !m.live {
		t.Error("new model should follow the transcript")
	}
	if m.Init() == nil {
		t.Error("Init should wait for updates")
	}
}

func TestUpdateRefreshesSnapshot(t *testing.T) {
	ctrl := newFakeController()
	m := sized(New(ctrl))

	ctrl.SimulateSession(coach.PhaseLive, liveSession())
	updated, cmd := m.Update(UpdateMsg{Update: coach.Update{Kind: coach.UpdateTranscript, Phase: coach.PhaseLive}})
	model := updated.(Model)

	if cmd == nil {
		t.Error("expected a command to keep listening")
	}
	if model.phase != coach.PhaseLive {
		t.Errorf("phase = %v, want live", model.phase)
	}
	if len(model.session.Transcript) != 2 {
		t.Errorf("transcript = %d segments, want 2", len(model.session.Transcript))
	}
	if model.session.CallID != "web_1234abcd" {
		t.Errorf("call id = %q", model.session.CallID)
	}
}

func TestAudioUpdateOnlySetsLevel(t *testing.T) {
	ctrl := newFakeController()
	m := sized(New(ctrl))

	ctrl.SimulateSession(coach.PhaseLive, liveSession())
	updated, _ := m.Update(UpdateMsg{Update: coach.Update{Kind: coach.UpdateAudio, Phase: coach.PhaseLive, Level: 0.5}})
	model := updated.(Model)

	if model.level != 0.5 {
		t.Errorf("level = %v, want 0.5", model.level)
	}
	if len(model.session.Transcript) != 0 {
		t.Error("audio updates should not refresh the snapshot")
	}
}

func TestReconnectPhase(t *testing.T) {
	m := sized(New(newFakeController()))

	updated, _ := m.Update(UpdateMsg{Update: coach.Update{
		Kind:    coach.UpdatePhase,
		Phase:   coach.PhaseReconnecting,
		Attempt: 2,
		RetryIn: 4 * time.Second,
	}})
	model := updated.(Model)

	if model.attempt != 2 || model.retryIn != 4*time.Second {
		t.Errorf("attempt = %d retryIn = %v", model.attempt, model.retryIn)
	}
	if !strings.Contains(model.View(), "RECONNECTING (attempt 2, retry in 4s)") {
		t.Error("status bar should show reconnect progress")
	}

	updated, _ = model.Update(UpdateMsg{Update: coach.Update{Kind: coach.UpdatePhase, Phase: coach.PhaseLive}})
	model = updated.(Model)
	if model.attempt != 0 || model.retryIn != 0 {
		t.Error("reconnect state should reset once live")
	}
}

func TestKeys(t *testing.T) {
	tests := []struct {
		name        string
		phase       coach.Phase
		key         string
		wantPending string
		wantCmd     bool
	}{
		{"start when idle", coach.PhaseIdle, keyStart, "start", true},
		{"start after ended", coach.PhaseEnded, keyStart, "start", true},
		{"start while live", coach.PhaseLive, keyStart, "", false},
		{"stop while live", coach.PhaseLive, keyStop, "stop", true},
		{"stop while reconnecting", coach.PhaseReconnecting, keyStop, "stop", true},
		{"stop when idle", coach.PhaseIdle, keyStop, "", false},
		{"toggle coach", coach.PhaseLive, keyCoach, "", true},
		{"unbound key", coach.PhaseLive, "z", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := sized(New(newFakeController()))
			m.phase = tt.phase

			updated, cmd := m.Update(key(tt.key))
			model := updated.(Model)

			if model.pending != tt.wantPending {
				t.Errorf("pending = %q, want %q", model.pending, tt.wantPending)
			}
			if (cmd != nil) != tt.wantCmd {
				t.Errorf("cmd = %v, want cmd %v", cmd != nil, tt.wantCmd)
			}
		})
	}
}

func TestKeyCommandsReachController(t *testing.T) {
	ctrl := newFakeController()
	m := sized(New(ctrl))

	_, cmd := m.Update(key(keyStart))
	res, ok := cmd().(CommandResultMsg)
	if !ok || res.Action != "start" || res.Err != nil {
		t.Fatalf("start result = %+v", res)
	}
	if len(ctrl.started) != 1 {
		t.Errorf("Start called %d times, want 1", len(ctrl.started))
	}

	m.phase = coach.PhaseLive
	m.pending = ""
	_, cmd = m.Update(key(keyStop))
	cmd()
	if ctrl.stopped != 1 {
		t.Errorf("Stop called %d times, want 1", ctrl.stopped)
	}

	_, cmd = m.Update(key(keyCoach))
	cmd()
	if len(ctrl.toggled) != 1 || ctrl.toggled[0] != false {
		t.Errorf("toggled = %v, want [false]", ctrl.toggled)
	}
}

func TestSecondStartIgnoredWhilePending(t *testing.T) {
	m := sized(New(newFakeController()))

	updated, _ := m.Update(key(keyStart))
	_, cmd := updated.(Model).Update(key(keyStart))
	if cmd != nil {
		t.Error("start should be ignored while a command is pending")
	}
}

func TestQuit(t *testing.T) {
	for _, k := range []string{keyQuit, keyCtrlC} {
		t.Run(k, func(t *testing.T) {
			m := New(newFakeController())
			_, cmd := m.Update(key(k))
			if cmd == nil {
				t.Fatal("expected quit command")
			}
			if _, ok := cmd().(tea.QuitMsg); !ok {
				t.Error("expected tea.QuitMsg")
			}
		})
	}
}

func TestCommandErrorIsTransient(t *testing.T) {
	m := sized(New(newFakeController()))
	m.pending = "start"

	updated, cmd := m.Update(CommandResultMsg{Action: "start", Err: fmt.Errorf("dial refused")})
	model := updated.(Model)

	if model.pending != "" {
		t.Error("pending should clear on result")
	}
	if model.errorMessage != "start: dial refused" {
		t.Errorf("errorMessage = %q", model.errorMessage)
	}
	if cmd == nil {
		t.Error("expected a clear timer")
	}

	updated, _ = model.Update(ClearTransientErrorMsg{})
	if updated.(Model).errorMessage != "" {
		t.Error("transient error should clear")
	}
}

func TestSessionErrorPersists(t *testing.T) {
	m := sized(New(newFakeController()))

	updated, _ := m.Update(UpdateMsg{Update: coach.Update{
		Kind:  coach.UpdateError,
		Phase: coach.PhaseEnded,
		Error: "reconnect attempts exhausted",
	}})
	updated, _ = updated.(Model).Update(ClearTransientErrorMsg{})
	model := updated.(Model)

	if model.errorMessage != "reconnect attempts exhausted" {
		t.Errorf("errorMessage = %q", model.errorMessage)
	}
	if !strings.Contains(model.View(), "reconnect attempts exhausted") {
		t.Error("view should show the error")
	}
}

func TestUpdatesClosed(t *testing.T) {
	m := sized(New(newFakeController()))
	updated, cmd := m.Update(UpdatesClosedMsg{})
	if cmd != nil {
		t.Error("should stop listening after close")
	}
	if updated.(Model).errorMessage == "" {
		t.Error("expected an error message")
	}
}

func TestViewBeforeSize(t *testing.T) {
	m := New(newFakeController())
	if got := m.View(); got != "Initializing..." {
		t.Errorf("View = %q", got)
	}
}

func TestViewLiveSession(t *testing.T) {
	ctrl := newFakeController()
	ctrl.SimulateSession(coach.PhaseLive, liveSession())
	m := sized(New(ctrl))

	view := m.View()
	for _, want := range []string{
		"COACH",
		"web_1234abcd",
		"LIVE",
		"coach on",
		"TRANSCRIPT (2)",
		"Thanks for taking the call.",
		"Them",
		"OBJECTIONS (1)",
		"price: It sounds too expensive.",
		"Reframe around return on",
	} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestViewEndedWithSummary(t *testing.T) {
	s := liveSession()
	s.EndedAt = time.Now()
	s.EndReason = coach.EndStopped
	s.Summary = &protocol.CallSummary{
		Overview:  "Customer raised price.",
		NextSteps: []string{"Send proposal"},
	}
	ctrl := newFakeController()
	ctrl.SimulateSession(coach.PhaseEnded, s)
	m := sized(New(ctrl))

	view := m.View()
	for _, want := range []string{"ENDED", "(stopped)", "SUMMARY", "Customer raised price.", "- Send proposal"} {
		if !strings.Contains(view, want) {
			t.Errorf("view missing %q", want)
		}
	}
}

func TestScroll(t *testing.T) {
	s := liveSession()
	s.Transcript = nil
	for i := 0; i < 40; i++ {
		s.Transcript = append(s.Transcript, coach.Segment{Text: fmt.Sprintf("line %d", i)})
	}
	ctrl := newFakeController()
	ctrl.SimulateSession(coach.PhaseLive, s)
	m := New(ctrl)
	m.width = 100
	m.height = 17

	updated, _ := m.Update(UpdateMsg{Update: coach.Update{Kind: coach.UpdateTranscript, Phase: coach.PhaseLive}})
	model := updated.(Model)
	if model.scroll != 30 {
		t.Fatalf("scroll = %d, want 30", model.scroll)
	}

	updated, _ = model.Update(key(keyUp))
	model = updated.(Model)
	if model.live || model.scroll != 29 {
		t.Errorf("after up: live = %v scroll = %d", model.live, model.scroll)
	}
	if !strings.Contains(model.View(), "[scrolled]") {
		t.Error("view should mark scrolled mode")
	}

	updated, _ = model.Update(key(keyBottom))
	model = updated.(Model)
	if !model.live || model.scroll != 30 {
		t.Errorf("after end: live = %v scroll = %d", model.live, model.scroll)
	}
}

func TestRenderLevelMeter(t *testing.T) {
	tests := []struct {
		level float64
		on    int
	}{
		{0, 0},
		{0.5, 5},
		{1, 10},
		{3, 10},
	}
	for _, tt := range tests {
		t.Run(fmt.Sprint(tt.level), func(t *testing.T) {
			got := renderLevelMeter(tt.level)
			if n := strings.Count(got, "█"); n != tt.on {
				t.Errorf("filled = %d, want %d", n, tt.on)
			}
		})
	}
}
