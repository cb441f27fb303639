package web

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/hub"
	"github.com/teslashibe/go-coach/pkg/protocol"
	"github.com/teslashibe/go-coach/pkg/store"
)

type fakeController struct {
	mu       sync.Mutex
	phase    coach.Phase
	session  coach.Session
	startErr error
	starts   []coach.StartParams
	stops    int
	toggles  []bool
	updates  chan coach.Update
}

func newFakeController() *fakeController {
	return &fakeController{
		session: *coach.NewSession("", "", true),
		updates: make(chan coach.Update, 8),
	}
}

func (f *fakeController) Start(_ context.Context, p coach.StartParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.startErr != nil {
		return f.startErr
	}
	f.starts = append(f.starts, p)
	f.phase = coach.PhaseConnecting
	f.session.CallID = p.CallID
	return nil
}

func (f *fakeController) Stop(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.stops++
	f.phase = coach.PhaseEnded
	return nil
}

func (f *fakeController) ToggleCoach(_ context.Context, enabled bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.toggles = append(f.toggles, enabled)
	f.session.CoachEnabled = enabled
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

func (f *fakeController) Stats() coach.Stats { return coach.Stats{ChunksSent: 7} }

func (f *fakeController) Subscribe() (<-chan coach.Update, func()) {
	return f.updates, func() {}
}

func (f *fakeController) SimulateUpdate(u coach.Update) { f.updates <- u }

func newTestServer(t *testing.T, ctrl Controller, opts ...Option) *Server {
	t.Helper()
	opts = append(opts, WithLogger(slog.New(slog.NewTextHandler(io.Discard, nil))))
	return NewServer(ctrl, opts...)
}

func doJSON(t *testing.T, s *Server, method, path, body string) (int, map[string]any) {
	t.Helper()
	var r io.Reader
	if body != "" {
		r = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, r)
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := s.app.Test(req, 2000)
	if err != nil {
		t.Fatalf("%s %s: %v", method, path, err)
	}
	defer resp.Body.Close()

	out := map[string]any{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil && err != io.EOF {
		t.Fatalf("%s %s: decode: %v", method, path, err)
	}
	return resp.StatusCode, out
}

func TestSessionRoutes(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, ctrl)

	status, body := doJSON(t, s, http.MethodGet, "/api/session", "")
	if status != http.StatusOK || body["phase"] != "idle" {
		t.Fatalf("GET /api/session = %d %v", status, body)
	}
	if stats, _ := body["stats"].(map[string]any); stats["chunks_sent"] != float64(7) {
		t.Errorf("stats = %v", body["stats"])
	}

	status, body = doJSON(t, s, http.MethodPost, "/api/session/start", `{"call_id":"web_1234abcd"}`)
	if status != http.StatusAccepted {
		t.Fatalf("POST start = %d %v", status, body)
	}
	if len(ctrl.starts) != 1 || ctrl.starts[0].CallID != "web_1234abcd" {
		t.Errorf("starts = %+v", ctrl.starts)
	}
	if session, _ := body["session"].(map[string]any); session["call_id"] != "web_1234abcd" {
		t.Errorf("session = %v", body["session"])
	}

	status, body = doJSON(t, s, http.MethodPost, "/api/session/stop", "")
	if status != http.StatusOK || body["phase"] != "ended" || ctrl.stops != 1 {
		t.Errorf("POST stop = %d %v, stops=%d", status, body, ctrl.stops)
	}
}

func TestStartWithoutBody(t *testing.T) {
	ctrl := newFakeController()
	s := newTestServer(t, ctrl)

	if status, body := doJSON(t, s, http.MethodPost, "/api/session/start", ""); status != http.StatusAccepted {
		t.Fatalf("POST start = %d %v", status, body)
	}
	if len(ctrl.starts) != 1 || ctrl.starts[0].CallID != "" {
		t.Errorf("starts = %+v", ctrl.starts)
	}
}

func TestControlErrors(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"busy", coach.ErrNotIdle, http.StatusConflict},
		{"not running", coach.ErrNotRunning, http.StatusServiceUnavailable},
		{"other", io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			ctrl.startErr = tt.err
			s := newTestServer(t, ctrl)

			status, body := doJSON(t, s, http.MethodPost, "/api/session/start", "")
			if status != tt.want {
				t.Errorf("status = %d, want %d", status, tt.want)
			}
			if body["error"] != tt.err.Error() {
				t.Errorf("error = %v, want %q", body["error"], tt.err.Error())
			}
		})
	}
}

func TestCoachToggle(t *testing.T) {
	tests := []struct {
		name    string
		body    string
		want    int
		toggles []bool
	}{
		{"disable", `{"enabled":false}`, http.StatusOK, []bool{false}},
		{"enable", `{"enabled":true}`, http.StatusOK, []bool{true}},
		{"missing field", `{}`, http.StatusBadRequest, nil},
		{"bad json", `{"enabled":`, http.StatusBadRequest, nil},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			s := newTestServer(t, ctrl)

			status, body := doJSON(t, s, http.MethodPost, "/api/coach", tt.body)
			if status != tt.want {
				t.Fatalf("status = %d, want %d (%v)", status, tt.want, body)
			}
			if len(ctrl.toggles) != len(tt.toggles) {
				t.Fatalf("toggles = %v, want %v", ctrl.toggles, tt.toggles)
			}
			for i := range tt.toggles {
				if ctrl.toggles[i] != tt.toggles[i] {
					t.Errorf("toggles = %v, want %v", ctrl.toggles, tt.toggles)
				}
			}
		})
	}
}

func TestArchiveRoutes(t *testing.T) {
	archive, err := store.Open(":memory:")
	if err != nil {
		t.Fatalf("store.Open() error = %v", err)
	}
	defer archive.Close()

	sess := coach.NewSession("web_arch0001", "ws://localhost:8000/ws/web_arch0001", true)
	sess.StartedAt = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	sess.Apply(protocol.TranscriptUpdate{Speaker: protocol.SpeakerCounterpart, Text: "Send me a proposal", TsMs: 400})
	if err := archive.SaveSession(context.Background(), *sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	s := newTestServer(t, newFakeController(), WithArchive(archive))

	status, body := doJSON(t, s, http.MethodGet, "/api/calls", "")
	calls, _ := body["calls"].([]any)
	if status != http.StatusOK || len(calls) != 1 {
		t.Fatalf("GET /api/calls = %d %v", status, body)
	}

	status, body = doJSON(t, s, http.MethodGet, "/api/calls/web_arch0001", "")
	if status != http.StatusOK || body["call_id"] != "web_arch0001" {
		t.Errorf("GET call = %d %v", status, body)
	}

	if status, _ := doJSON(t, s, http.MethodGet, "/api/calls/web_nope", ""); status != http.StatusNotFound {
		t.Errorf("GET missing call = %d, want 404", status)
	}
}

func TestArchiveDisabled(t *testing.T) {
	s := newTestServer(t, newFakeController())
	if status, body := doJSON(t, s, http.MethodGet, "/api/calls", ""); status != http.StatusNotFound || body["error"] != ErrNoArchive.Error() {
		t.Errorf("GET /api/calls = %d %v", status, body)
	}
}

func TestHealth(t *testing.T) {
	s := newTestServer(t, newFakeController())
	status, body := doJSON(t, s, http.MethodGet, "/health", "")
	if status != http.StatusOK || body["ok"] != true {
		t.Errorf("GET /health = %d %v", status, body)
	}
}

func TestEventsRequireUpgrade(t *testing.T) {
	s := newTestServer(t, newFakeController())
	status, _ := doJSON(t, s, http.MethodGet, "/ws/events", "")
	if status != http.StatusUpgradeRequired {
		t.Errorf("GET /ws/events without upgrade = %d, want 426", status)
	}
}

func TestDashboardPage(t *testing.T) {
	s := newTestServer(t, newFakeController())
	resp, err := s.app.Test(httptest.NewRequest(http.MethodGet, "/", nil))
	if err != nil {
		t.Fatalf("GET / error = %v", err)
	}
	defer resp.Body.Close()
	page, _ := io.ReadAll(resp.Body)
	if resp.StatusCode != http.StatusOK || !strings.Contains(string(page), "/ws/events") {
		t.Errorf("GET / = %d", resp.StatusCode)
	}
}

type recordingConn struct {
	mu     sync.Mutex
	frames []string
	closed chan struct{}
	once   sync.Once
}

func (r *recordingConn) SetReadLimit(int64) {}
func (r *recordingConn) SetReadDeadline(time.Time) error { return nil }
func (r *recordingConn) SetWriteDeadline(time.Time) error { return nil }
func (r *recordingConn) SetPongHandler(func(string) error) {}

func (r *recordingConn) ReadMessage() (int, []byte, error) {
	<-r.closed
	return 0, nil, io.EOF
}

func (r *recordingConn) WriteMessage(typ int, data []byte) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if typ == 1 {
		r.frames = append(r.frames, string(data))
	}
	return nil
}

func (r *recordingConn) Close() error {
	r.once.Do(func() { close(r.closed) })
	return nil
}

func (r *recordingConn) Frames() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.frames...)
}

func TestPumpForwardsUpdates(t *testing.T) {
	tests := []struct {
		name         string
		forwardAudio bool
		wantKinds    []coach.UpdateKind
	}{
		{"with audio", true, []coach.UpdateKind{coach.UpdateAudio, coach.UpdateTranscript}},
		{"without audio", false, []coach.UpdateKind{coach.UpdateTranscript}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := newFakeController()
			s := newTestServer(t, ctrl, WithForwardAudio(tt.forwardAudio))

			ctx, cancel := context.WithCancel(context.Background())
			defer cancel()
			go s.events.Run(ctx)

			conn := &recordingConn{closed: make(chan struct{})}
			client, err := hub.NewClient(s.events, conn)
			if err != nil {
				t.Fatalf("NewClient() error = %v", err)
			}
			go client.Run()
			go s.pumpUpdates(ctx)

			ctrl.SimulateUpdate(coach.Update{Kind: coach.UpdateAudio, Level: 0.4})
			ctrl.SimulateUpdate(coach.Update{Kind: coach.UpdateTranscript, Segment: &coach.Segment{Text: "hello"}})

			deadline := time.Now().Add(2 * time.Second)
			for len(conn.Frames()) < len(tt.wantKinds) && time.Now().Before(deadline) {
				time.Sleep(5 * time.Millisecond)
			}

			frames := conn.Frames()
			if len(frames) != len(tt.wantKinds) {
				t.Fatalf("frames = %v, want kinds %v", frames, tt.wantKinds)
			}
			for i, f := range frames {
				var u struct {
					Kind coach.UpdateKind `json:"kind"`
				}
				if err := json.Unmarshal([]byte(f), &u); err != nil {
					t.Fatalf("frame %d: %v", i, err)
				}
				if u.Kind != tt.wantKinds[i] {
					t.Errorf("frame %d kind = %s, want %s", i, u.Kind, tt.wantKinds[i])
				}
			}
		})
	}
}
