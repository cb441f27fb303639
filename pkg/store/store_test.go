package store

import (
	"context"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(":memory:")
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func endedSession(callID string, started time.Time) coach.Session {
	s := coach.NewSession(callID, "ws://localhost:8000/ws/"+callID, true)
	s.StartedAt = started
	s.Apply(protocol.TranscriptUpdate{Speaker: protocol.SpeakerSelf, Text: "Hi, thanks for the time", TsMs: 100, Confidence: 0.95})
	s.Apply(protocol.TranscriptUpdate{Speaker: protocol.SpeakerCounterpart, Text: "The price is too high", TsMs: 900, Confidence: 0.9})
	s.Apply(protocol.ObjectionDetected{Type: "price", Text: "price is too high", TsMs: 950, Confidence: 0.85})
	s.Apply(protocol.SuggestionReady{Type: "value", Text: "Anchor on ROI", TsMs: 960})
	s.Apply(protocol.CallCompleted{Summary: &protocol.CallSummary{Overview: "Pricing pushback", TotalObjections: 1}})
	s.Status = coach.StatusEnded
	s.EndedAt = started.Add(5 * time.Minute)
	s.EndReason = coach.EndStopped
	return *s
}

func TestSaveAndGetSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	started := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	if err := s.SaveSession(ctx, endedSession("web_a1", started)); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	got, err := s.GetSession(ctx, "web_a1")
	if err != nil {
		t.Fatalf("GetSession() error = %v", err)
	}
	if len(got.Transcript) != 2 || !got.Transcript[1].IsObjection {
		t.Errorf("Transcript = %+v", got.Transcript)
	}
	if got.Summary == nil || got.Summary.Overview != "Pricing pushback" {
		t.Errorf("Summary = %+v", got.Summary)
	}
	if got.EndReason != coach.EndStopped {
		t.Errorf("EndReason = %s", got.EndReason)
	}

	if _, err := s.GetSession(ctx, "web_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetSession(missing) error = %v, want ErrNotFound", err)
	}
}

func TestListSessionsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	base := time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC)
	for i, id := range []string{"web_old", "web_mid", "web_new"} {
		if err := s.SaveSession(ctx, endedSession(id, base.Add(time.Duration(i)*time.Hour))); err != nil {
			t.Fatalf("SaveSession(%s) error = %v", id, err)
		}
	}

	all, err := s.ListSessions(ctx, 0)
	if err != nil {
		t.Fatalf("ListSessions() error = %v", err)
	}
	if len(all) != 3 || all[0].CallID != "web_new" || all[2].CallID != "web_old" {
		t.Fatalf("ListSessions() order = %+v", all)
	}
	if all[0].Segments != 2 || all[0].Objections != 1 || all[0].Suggestions != 1 {
		t.Errorf("counts = %+v", all[0])
	}
	if all[0].EndedAt == nil || !all[0].EndedAt.Equal(base.Add(2*time.Hour+5*time.Minute)) {
		t.Errorf("EndedAt = %v", all[0].EndedAt)
	}

	limited, err := s.ListSessions(ctx, 2)
	if err != nil || len(limited) != 2 {
		t.Errorf("ListSessions(2) = %d rows, %v", len(limited), err)
	}
}

func TestSaveSessionReplaces(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	sess := endedSession("web_r1", time.Now())
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	sess.Transcript = sess.Transcript[:1]
	sess.EndReason = coach.EndExhausted
	if err := s.SaveSession(ctx, sess); err != nil {
		t.Fatalf("second SaveSession() error = %v", err)
	}

	list, _ := s.ListSessions(ctx, 0)
	if len(list) != 1 || list[0].Segments != 1 || list[0].EndReason != coach.EndExhausted {
		t.Errorf("ListSessions() = %+v", list)
	}

	matches, err := s.SearchSegments(ctx, "price", 0)
	if err != nil {
		t.Fatalf("SearchSegments() error = %v", err)
	}
	if len(matches) != 0 {
		t.Errorf("stale segments survived replace: %+v", matches)
	}
}

func TestSearchSegments(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, endedSession("web_s1", time.Now())); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}

	matches, err := s.SearchSegments(ctx, "too high", 10)
	if err != nil {
		t.Fatalf("SearchSegments() error = %v", err)
	}
	if len(matches) != 1 {
		t.Fatalf("matches = %+v", matches)
	}
	m := matches[0]
	if m.CallID != "web_s1" || m.Seq != 1 || m.Segment.Speaker != protocol.SpeakerCounterpart || !m.Segment.IsObjection {
		t.Errorf("match = %+v", m)
	}

	if matches, _ := s.SearchSegments(ctx, "100%", 10); len(matches) != 0 {
		t.Errorf("wildcard in query matched %d segments", len(matches))
	}
}

func TestDeleteSession(t *testing.T) {
	s := openTestStore(t)
	ctx := context.Background()

	if err := s.SaveSession(ctx, endedSession("web_d1", time.Now())); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	if err := s.DeleteSession(ctx, "web_d1"); err != nil {
		t.Fatalf("DeleteSession() error = %v", err)
	}
	if err := s.DeleteSession(ctx, "web_d1"); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteSession() error = %v, want ErrNotFound", err)
	}
}

func TestSaveSessionRequiresCallID(t *testing.T) {
	s := openTestStore(t)
	if err := s.SaveSession(context.Background(), coach.Session{}); err == nil {
		t.Error("SaveSession() without call id should fail")
	}
}

func TestOpenFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "sessions.sqlite")

	s, err := Open(path)
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	if err := s.SaveSession(context.Background(), endedSession("web_f1", time.Now())); err != nil {
		t.Fatalf("SaveSession() error = %v", err)
	}
	s.Close()

	reopened, err := Open(path)
	if err != nil {
		t.Fatalf("reopen error = %v", err)
	}
	defer reopened.Close()

	if _, err := reopened.GetSession(context.Background(), "web_f1"); err != nil {
		t.Errorf("GetSession() after reopen error = %v", err)
	}
}
