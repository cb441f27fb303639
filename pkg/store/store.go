// Package store archives ended coaching sessions in a local SQLite database.
package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"github.com/teslashibe/go-coach/pkg/coach"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// ErrNotFound is returned when a call is not in the archive.
var ErrNotFound = errors.New("store: call not found")

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	call_id       TEXT PRIMARY KEY,
	started_at    REAL NOT NULL,
	ended_at      REAL,
	end_reason    TEXT NOT NULL DEFAULT '',
	error         TEXT NOT NULL DEFAULT '',
	coach_enabled INTEGER NOT NULL DEFAULT 1,
	segments      INTEGER NOT NULL DEFAULT 0,
	objections    INTEGER NOT NULL DEFAULT 0,
	suggestions   INTEGER NOT NULL DEFAULT 0,
	overview      TEXT NOT NULL DEFAULT '',
	data          TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS segments (
	call_id      TEXT NOT NULL REFERENCES sessions(call_id) ON DELETE CASCADE,
	seq          INTEGER NOT NULL,
	speaker      INTEGER NOT NULL,
	text         TEXT NOT NULL,
	ts_ms        INTEGER NOT NULL,
	confidence   REAL,
	is_objection INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (call_id, seq)
);

CREATE INDEX IF NOT EXISTS idx_sessions_started ON sessions(started_at DESC);
`

// Summary is one row of the archive listing.
type Summary struct {
	CallID       string          `json:"call_id"`
	StartedAt    time.Time       `json:"started_at"`
	EndedAt      *time.Time      `json:"ended_at,omitempty"`
	EndReason    coach.EndReason `json:"end_reason"`
	Error        string          `json:"error,omitempty"`
	CoachEnabled bool            `json:"coach_enabled"`
	Segments     int             `json:"segments"`
	Objections   int             `json:"objections"`
	Suggestions  int             `json:"suggestions"`
	Overview     string          `json:"overview,omitempty"`
}

// Store is the session archive.
type Store struct {
	db *sql.DB
}

// DefaultDBPath returns the default database path.
func DefaultDBPath() string {
	dir, err := os.UserConfigDir()
	if err != nil {
		dir = "."
	}
	return filepath.Join(dir, "go-coach", "sessions.sqlite")
}

// Open opens or creates the archive at path. ":memory:" gives a private
// in-memory archive.
func Open(path string) (*Store, error) {
	memory := path == ":memory:"
	dsn := path
	if !memory {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("store: create directory: %w", err)
		}
		dsn = fmt.Sprintf("file:%s?_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_pragma=busy_timeout(5000)", path)
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("store: open database: %w", err)
	}
	if memory {
		// Each connection to :memory: is a separate database.
		db.SetMaxOpenConns(1)
	}

	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: ping database: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("store: create schema: %w", err)
	}

	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveSession archives a session, replacing any earlier copy of the same
// call.
func (s *Store) SaveSession(ctx context.Context, sess coach.Session) error {
	if sess.CallID == "" {
		return errors.New("store: session has no call id")
	}

	data, err := json.Marshal(sess)
	if err != nil {
		return fmt.Errorf("store: marshal session: %w", err)
	}

	overview := ""
	if sess.Summary != nil {
		overview = sess.Summary.Overview
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("store: begin: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM segments WHERE call_id = ?`, sess.CallID); err != nil {
		return fmt.Errorf("store: clear segments: %w", err)
	}

	_, err = tx.ExecContext(ctx, `
		INSERT INTO sessions (call_id, started_at, ended_at, end_reason, error, coach_enabled,
			segments, objections, suggestions, overview, data)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(call_id) DO UPDATE SET
			started_at = excluded.started_at,
			ended_at = excluded.ended_at,
			end_reason = excluded.end_reason,
			error = excluded.error,
			coach_enabled = excluded.coach_enabled,
			segments = excluded.segments,
			objections = excluded.objections,
			suggestions = excluded.suggestions,
			overview = excluded.overview,
			data = excluded.data
	`,
		sess.CallID,
		unixFromTime(sess.StartedAt),
		nullableTime(sess.EndedAt),
		string(sess.EndReason),
		sess.Error,
		sess.CoachEnabled,
		len(sess.Transcript),
		len(sess.Objections),
		len(sess.Suggestions),
		overview,
		string(data),
	)
	if err != nil {
		return fmt.Errorf("store: upsert session: %w", err)
	}

	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO segments (call_id, seq, speaker, text, ts_ms, confidence, is_objection)
		VALUES (?, ?, ?, ?, ?, ?, ?)
	`)
	if err != nil {
		return fmt.Errorf("store: prepare segments: %w", err)
	}
	defer stmt.Close()

	for i, seg := range sess.Transcript {
		if _, err := stmt.ExecContext(ctx, sess.CallID, i, int(seg.Speaker), seg.Text,
			seg.TimestampMs, seg.Confidence, seg.IsObjection); err != nil {
			return fmt.Errorf("store: insert segment %d: %w", i, err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("store: commit: %w", err)
	}
	return nil
}

// ListSessions returns the most recent sessions first. A limit of zero or
// less returns all of them.
func (s *Store) ListSessions(ctx context.Context, limit int) ([]Summary, error) {
	query := `
		SELECT call_id, started_at, ended_at, end_reason, error, coach_enabled,
			segments, objections, suggestions, overview
		FROM sessions
		ORDER BY started_at DESC
	`
	args := []any{}
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("store: query sessions: %w", err)
	}
	defer rows.Close()

	summaries := []Summary{}
	for rows.Next() {
		var (
			sum       Summary
			startedAt float64
			endedAt   sql.NullFloat64
			reason    string
		)
		if err := rows.Scan(&sum.CallID, &startedAt, &endedAt, &reason, &sum.Error,
			&sum.CoachEnabled, &sum.Segments, &sum.Objections, &sum.Suggestions, &sum.Overview); err != nil {
			return nil, fmt.Errorf("store: scan session: %w", err)
		}
		sum.StartedAt = timeFromUnix(startedAt)
		if endedAt.Valid {
			t := timeFromUnix(endedAt.Float64)
			sum.EndedAt = &t
		}
		sum.EndReason = coach.EndReason(reason)
		summaries = append(summaries, sum)
	}
	return summaries, rows.Err()
}

// GetSession returns the archived session for a call.
func (s *Store) GetSession(ctx context.Context, callID string) (*coach.Session, error) {
	var data string
	err := s.db.QueryRowContext(ctx, `SELECT data FROM sessions WHERE call_id = ?`, callID).Scan(&data)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("store: query session: %w", err)
	}

	var sess coach.Session
	if err := json.Unmarshal([]byte(data), &sess); err != nil {
		return nil, fmt.Errorf("store: decode session: %w", err)
	}
	return &sess, nil
}

// SearchSegments returns archived segments whose text contains query,
// newest call first.
func (s *Store) SearchSegments(ctx context.Context, query string, limit int) ([]Match, error) {
	if limit <= 0 {
		limit = 50
	}
	pattern := "%" + strings.NewReplacer("%", `\%`, "_", `\_`).Replace(query) + "%"

	rows, err := s.db.QueryContext(ctx, `
		SELECT g.call_id, g.seq, g.speaker, g.text, g.ts_ms, g.confidence, g.is_objection
		FROM segments g
		JOIN sessions s ON s.call_id = g.call_id
		WHERE g.text LIKE ? ESCAPE '\'
		ORDER BY s.started_at DESC, g.seq ASC
		LIMIT ?
	`, pattern, limit)
	if err != nil {
		return nil, fmt.Errorf("store: search segments: %w", err)
	}
	defer rows.Close()

	var matches []Match
	for rows.Next() {
		var (
			m          Match
			speaker    int
			confidence sql.NullFloat64
		)
		if err := rows.Scan(&m.CallID, &m.Seq, &speaker, &m.Segment.Text, &m.Segment.TimestampMs,
			&confidence, &m.Segment.IsObjection); err != nil {
			return nil, fmt.Errorf("store: scan segment: %w", err)
		}
		m.Segment.Speaker = protocol.Speaker(speaker)
		m.Segment.Confidence = confidence.Float64
		matches = append(matches, m)
	}
	return matches, rows.Err()
}

// DeleteSession removes a call from the archive.
func (s *Store) DeleteSession(ctx context.Context, callID string) error {
	res, err := s.db.ExecContext(ctx, `DELETE FROM sessions WHERE call_id = ?`, callID)
	if err != nil {
		return fmt.Errorf("store: delete session: %w", err)
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return ErrNotFound
	}
	if _, err := s.db.ExecContext(ctx, `DELETE FROM segments WHERE call_id = ?`, callID); err != nil {
		return fmt.Errorf("store: delete segments: %w", err)
	}
	return nil
}

// Match is a segment found by SearchSegments.
type Match struct {
	CallID  string        `json:"call_id"`
	Seq     int           `json:"seq"`
	Segment coach.Segment `json:"segment"`
}

func unixFromTime(t time.Time) float64 {
	return float64(t.UnixNano()) / 1e9
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return unixFromTime(t)
}

func timeFromUnix(ts float64) time.Time {
	sec := int64(ts)
	nsec := int64((ts - float64(sec)) * 1e9)
	return time.Unix(sec, nsec)
}
