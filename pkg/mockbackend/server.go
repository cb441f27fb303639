// Package mockbackend is a development backend speaking the coaching wire
// protocol. It replays a scripted conversation as audio arrives and keeps
// each call's transcript, audio and final upload in memory.
package mockbackend

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gofiber/contrib/websocket"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/teslashibe/go-coach/pkg/backend"
	"github.com/teslashibe/go-coach/pkg/capture"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Config holds mock backend settings.
type Config struct {
	// ChunksPerSegment is how many audio chunks produce one transcript line.
	ChunksPerSegment int

	// Script is replayed line by line.
	Script []Line

	// Rules classify counterpart lines as objections.
	Rules []Rule

	// Playbook maps objection types to suggestions.
	Playbook map[string]string

	// SampleRate and Channels describe inbound pcm16 audio.
	SampleRate int
	Channels   int

	Logger *slog.Logger
}

// DefaultConfig returns the default mock backend settings.
func DefaultConfig() *Config {
	return &Config{
		ChunksPerSegment: 10,
		Script:           DefaultScript,
		Rules:            DefaultRules,
		Playbook:         DefaultPlaybook,
		SampleRate:       16000,
		Channels:         1,
	}
}

// Option configures the mock backend.
type Option func(*Config)

// WithChunksPerSegment sets how many chunks produce one transcript line.
func WithChunksPerSegment(n int) Option {
	return func(c *Config) {
		c.ChunksPerSegment = n
	}
}

// WithScript replaces the scripted conversation.
func WithScript(lines []Line) Option {
	return func(c *Config) {
		c.Script = lines
	}
}

// WithAudioFormat sets the inbound pcm16 format.
func WithAudioFormat(sampleRate, channels int) Option {
	return func(c *Config) {
		c.SampleRate = sampleRate
		c.Channels = channels
	}
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Config) {
		c.Logger = l
	}
}

// call is the server-side state of one call.
type call struct {
	id        string
	startTime time.Time

	mu          sync.Mutex
	endTime     time.Time
	started     bool
	coach       bool
	chunks      int
	next        int
	transcript  []protocol.TranscriptUpdate
	objections  []protocol.ObjectionDetected
	suggestions []protocol.SuggestionReady
	summary     *protocol.CallSummary
	audio       *capture.Recording
	final       []byte
	finalName   string
	conn        *websocket.Conn
}

// Server is the mock coaching backend.
type Server struct {
	cfg    *Config
	logger *slog.Logger
	app    *fiber.App

	mu    sync.RWMutex
	calls map[string]*call

	// Stats
	messagesReceived atomic.Uint64
	messagesSent     atomic.Uint64
	chunksReceived   atomic.Uint64
}

// New creates a mock backend.
func New(opts ...Option) *Server {
	cfg := DefaultConfig()
	for _, opt := range opts {
		opt(cfg)
	}
	if cfg.ChunksPerSegment < 1 {
		cfg.ChunksPerSegment = 1
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	s := &Server{
		cfg:    cfg,
		logger: logger.With("component", "mockbackend"),
		calls:  make(map[string]*call),
	}

	app := fiber.New(fiber.Config{
		AppName:               "Coach Mock Backend",
		DisableStartupMessage: true,
		BodyLimit:             64 << 20,
	})
	s.RegisterRoutes(app)
	s.app = app
	return s
}

// RegisterRoutes registers the REST and websocket routes on a Fiber app.
func (s *Server) RegisterRoutes(app *fiber.App) {
	app.Get("/", s.handleInfo)
	app.Get("/health", s.handleHealth)
	app.Get("/healthz", s.handleHealth)
	app.Get("/stats", func(c *fiber.Ctx) error { return c.JSON(s.GetStats()) })

	app.Post("/session/start", s.handleStartSession)
	app.Post("/upload-final/:id", s.handleUploadFinal)
	app.Get("/calls", s.handleListCalls)
	app.Get("/calls/:id/transcript.json", s.handleTranscriptJSON)
	app.Get("/calls/:id/transcript.txt", s.handleTranscriptText)
	app.Get("/calls/:id/audio/:file", s.handleAudio)

	// WebSocket upgrade middleware
	app.Use("/ws", func(c *fiber.Ctx) error {
		if websocket.IsWebSocketUpgrade(c) {
			return c.Next()
		}
		return fiber.ErrUpgradeRequired
	})
	app.Get("/ws/:call_id", websocket.New(s.handleCall))
}

// Serve serves on ln until Shutdown.
func (s *Server) Serve(ln net.Listener) error {
	return s.app.Listener(ln)
}

// Run listens on addr until ctx is done.
func (s *Server) Run(ctx context.Context, addr string) error {
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("mockbackend: listen: %w", err)
	}
	s.logger.Info("mock backend listening", "addr", ln.Addr().String())

	errCh := make(chan error, 1)
	go func() { errCh <- s.Serve(ln) }()

	select {
	case <-ctx.Done():
		return s.Shutdown()
	case err := <-errCh:
		return err
	}
}

// Shutdown stops the server and closes every call socket.
func (s *Server) Shutdown() error {
	s.mu.RLock()
	for _, cl := range s.calls {
		cl.mu.Lock()
		if cl.conn != nil {
			cl.conn.Close()
		}
		cl.mu.Unlock()
	}
	s.mu.RUnlock()
	return s.app.Shutdown()
}

// Drop closes the live socket of a call, simulating a network failure.
// It reports whether a socket was open.
func (s *Server) Drop(callID string) bool {
	cl := s.lookup(callID)
	if cl == nil {
		return false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.conn == nil {
		return false
	}
	cl.conn.Close()
	return true
}

// Connected reports whether a call currently has a live socket.
func (s *Server) Connected(callID string) bool {
	cl := s.lookup(callID)
	if cl == nil {
		return false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.conn != nil
}

// FinalUpload returns the uploaded final recording of a call.
func (s *Server) FinalUpload(callID string) (string, []byte, bool) {
	cl := s.lookup(callID)
	if cl == nil {
		return "", nil, false
	}
	cl.mu.Lock()
	defer cl.mu.Unlock()
	return cl.finalName, cl.final, cl.final != nil
}

// Stats contains server statistics
type Stats struct {
	Calls            int    `json:"calls"`
	MessagesReceived uint64 `json:"messages_received"`
	MessagesSent     uint64 `json:"messages_sent"`
	ChunksReceived   uint64 `json:"chunks_received"`
}

// GetStats returns server statistics
func (s *Server) GetStats() Stats {
	s.mu.RLock()
	n := len(s.calls)
	s.mu.RUnlock()
	return Stats{
		Calls:            n,
		MessagesReceived: s.messagesReceived.Load(),
		MessagesSent:     s.messagesSent.Load(),
		ChunksReceived:   s.chunksReceived.Load(),
	}
}

func (s *Server) lookup(id string) *call {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.calls[id]
}

func (s *Server) getOrCreate(id string) *call {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cl, ok := s.calls[id]; ok {
		return cl
	}
	cl := &call{
		id:          id,
		startTime:   time.Now(),
		coach:       true,
		transcript:  []protocol.TranscriptUpdate{},
		objections:  []protocol.ObjectionDetected{},
		suggestions: []protocol.SuggestionReady{},
		audio:       capture.NewRecording(s.cfg.SampleRate, s.cfg.Channels),
	}
	s.calls[id] = cl
	return cl
}

// =============================================================================
// WebSocket
// =============================================================================

// handleCall serves one call socket. A reconnect for the same call id
// replaces the previous socket and resumes the script where it left off.
func (s *Server) handleCall(c *websocket.Conn) {
	cl := s.getOrCreate(c.Params("call_id"))

	cl.mu.Lock()
	if cl.conn != nil {
		cl.conn.Close()
	}
	cl.conn = c
	cl.mu.Unlock()

	logger := s.logger.With("call_id", cl.id)
	logger.Info("call connected")

	defer func() {
		cl.mu.Lock()
		if cl.conn == c {
			cl.conn = nil
		}
		cl.mu.Unlock()
		logger.Info("call disconnected")
	}()

	s.send(cl, protocol.SessionStarted{
		CallID:    cl.id,
		Message:   "session started",
		Timestamp: protocol.Timestamp(time.Now()),
	})

	for {
		mt, data, err := c.ReadMessage()
		if err != nil {
			logger.Debug("read ended", "error", err)
			return
		}
		s.messagesReceived.Add(1)

		if mt == websocket.BinaryMessage {
			s.handleChunk(cl, data)
			continue
		}

		ev, err := protocol.Decode(protocol.TextFrame(data))
		if err != nil {
			logger.Warn("discarding frame", "error", err)
			continue
		}
		s.handleControl(cl, ev)
	}
}

func (s *Server) handleControl(cl *call, ev protocol.Event) {
	switch ev := ev.(type) {
	case protocol.Ping:
		s.send(cl, protocol.Pong{Timestamp: protocol.Timestamp(time.Now())})

	case protocol.StartTranscription:
		cl.mu.Lock()
		cl.started = true
		cl.mu.Unlock()

	case protocol.ToggleCoach:
		cl.mu.Lock()
		cl.coach = ev.Enabled
		cl.mu.Unlock()

	case protocol.StopTranscription:
		cl.mu.Lock()
		cl.started = false
		cl.endTime = time.Now()
		cl.summary = summarize(cl)
		done := protocol.CallCompleted{
			EndTime:  protocol.Timestamp(cl.endTime),
			Duration: cl.endTime.Sub(cl.startTime).Seconds(),
			Summary:  cl.summary,
		}
		cl.mu.Unlock()
		s.send(cl, done)

	default:
		s.logger.Debug("ignoring message", "type", ev.EventType())
	}
}

func (s *Server) handleChunk(cl *call, data []byte) {
	s.chunksReceived.Add(1)

	cl.mu.Lock()
	cl.chunks++
	if len(data)%2 == 0 {
		cl.audio.Append(capture.BytesToSamples(data))
	}
	if !cl.started || cl.chunks%s.cfg.ChunksPerSegment != 0 || cl.next >= len(s.cfg.Script) {
		cl.mu.Unlock()
		return
	}

	line := s.cfg.Script[cl.next]
	cl.next++
	tsMs := protocol.Millis(time.Since(cl.startTime).Milliseconds())
	out := []protocol.Event{protocol.TranscriptUpdate{
		CallID:     cl.id,
		Speaker:    line.Speaker,
		Text:       line.Text,
		TsMs:       tsMs,
		IsFinal:    true,
		Confidence: 0.95,
	}}
	cl.transcript = append(cl.transcript, out[0].(protocol.TranscriptUpdate))

	if line.Speaker == protocol.SpeakerCounterpart {
		if typ, ok := classify(s.cfg.Rules, line.Text); ok {
			obj := protocol.ObjectionDetected{Type: typ, Text: line.Text, TsMs: tsMs, Confidence: 0.92, Source: "rules"}
			cl.objections = append(cl.objections, obj)
			out = append(out, obj)

			if hint, ok := s.cfg.Playbook[typ]; ok && cl.coach {
				sug := protocol.SuggestionReady{Type: typ, Text: hint, TsMs: tsMs, Source: "playbook"}
				cl.suggestions = append(cl.suggestions, sug)
				out = append(out, sug)
			}
		}
	}
	cl.mu.Unlock()

	for _, ev := range out {
		s.send(cl, ev)
	}
}

// send writes an event to the call's live socket, if any.
func (s *Server) send(cl *call, ev protocol.Event) {
	f, err := protocol.Encode(ev)
	if err != nil {
		s.logger.Error("encode", "type", ev.EventType(), "error", err)
		return
	}

	cl.mu.Lock()
	defer cl.mu.Unlock()
	if cl.conn == nil {
		return
	}
	if err := cl.conn.WriteMessage(websocket.TextMessage, f.Payload); err != nil {
		s.logger.Debug("write failed", "call_id", cl.id, "error", err)
		return
	}
	s.messagesSent.Add(1)
}

// summarize builds the post-call summary. Callers hold cl.mu.
func summarize(cl *call) *protocol.CallSummary {
	seen := map[string]bool{}
	var types []string
	for _, o := range cl.objections {
		if !seen[o.Type] {
			seen[o.Type] = true
			types = append(types, o.Type)
		}
	}
	sort.Strings(types)

	var next []string
	if seen["price"] {
		next = append(next, "Send a pilot proposal with ROI figures")
	}
	if seen["authority"] {
		next = append(next, "Schedule a follow-up with the decision maker")
	}
	if len(next) == 0 {
		next = append(next, "Send a recap email")
	}

	score := 1 - 0.1*float64(len(types))
	if score < 0.1 {
		score = 0.1
	}

	return &protocol.CallSummary{
		Overview:        fmt.Sprintf("Call with %d transcript segments and %d objections.", len(cl.transcript), len(cl.objections)),
		KeyTopics:       types,
		NextSteps:       next,
		ConfidenceScore: score,
		TotalObjections: len(cl.objections),
		ObjectionTypes:  types,
	}
}

// =============================================================================
// REST
// =============================================================================

func detail(c *fiber.Ctx, status int, msg string) error {
	return c.Status(status).JSON(fiber.Map{"detail": msg})
}

func (s *Server) handleInfo(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"name":    "coach mock backend",
		"version": "1.0.0",
		"endpoints": fiber.Map{
			"start_session": "POST /session/start",
			"websocket":     "/ws/{call_id}",
			"upload_final":  "POST /upload-final/{call_id}",
			"calls":         "GET /calls",
		},
	})
}

func (s *Server) handleHealth(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{"ok": true})
}

func (s *Server) handleStartSession(c *fiber.Ctx) error {
	id := "web_" + strings.ReplaceAll(uuid.NewString(), "-", "")[:8]
	s.getOrCreate(id)
	return c.JSON(backend.SessionInfo{
		CallID: id,
		WSURL:  "ws://" + c.Hostname() + "/ws/" + id,
		Status: "started",
	})
}

func (s *Server) handleListCalls(c *fiber.Ctx) error {
	s.mu.RLock()
	ids := make([]string, 0, len(s.calls))
	for id := range s.calls {
		ids = append(ids, id)
	}
	s.mu.RUnlock()
	sort.Strings(ids)
	return c.JSON(fiber.Map{"calls": ids})
}

func (s *Server) handleTranscriptJSON(c *fiber.Ctx) error {
	cl := s.lookup(c.Params("id"))
	if cl == nil {
		return detail(c, fiber.StatusNotFound, "call not found")
	}

	cl.mu.Lock()
	rec := backend.CallRecord{
		CallID:      cl.id,
		StartTime:   protocol.Timestamp(cl.startTime),
		Transcript:  append([]protocol.TranscriptUpdate(nil), cl.transcript...),
		Objections:  append([]protocol.ObjectionDetected(nil), cl.objections...),
		Suggestions: append([]protocol.SuggestionReady(nil), cl.suggestions...),
		Summary:     cl.summary,
	}
	if !cl.endTime.IsZero() {
		rec.EndTime = protocol.Timestamp(cl.endTime)
	}
	cl.mu.Unlock()

	return c.JSON(rec)
}

func (s *Server) handleTranscriptText(c *fiber.Ctx) error {
	cl := s.lookup(c.Params("id"))
	if cl == nil {
		return detail(c, fiber.StatusNotFound, "call not found")
	}

	var b strings.Builder
	cl.mu.Lock()
	fmt.Fprintf(&b, "Call %s\n\n", cl.id)
	for _, seg := range cl.transcript {
		who := "You"
		if seg.Speaker == protocol.SpeakerCounterpart {
			who = "Counterpart"
		}
		d := seg.TsMs.Duration()
		fmt.Fprintf(&b, "[%02d:%02d] %s: %s\n", int(d.Minutes()), int(d.Seconds())%60, who, seg.Text)
	}
	cl.mu.Unlock()

	c.Set(fiber.HeaderContentType, fiber.MIMETextPlainCharsetUTF8)
	return c.SendString(b.String())
}

func (s *Server) handleAudio(c *fiber.Ctx) error {
	kind := backend.AudioKind(strings.TrimSuffix(c.Params("file"), ".wav"))
	if !kind.Valid() {
		return detail(c, fiber.StatusBadRequest, "invalid audio type, use mix, mic or loop")
	}
	cl := s.lookup(c.Params("id"))
	if cl == nil {
		return detail(c, fiber.StatusNotFound, "call not found")
	}

	c.Set(fiber.HeaderContentType, "audio/wav")
	return c.Send(channelWAV(cl.audio, kind))
}

// channelWAV renders one view of a call's audio. Channel 0 is the
// microphone and channel 1 the loopback; mono audio is all microphone.
func channelWAV(rec *capture.Recording, kind backend.AudioKind) []byte {
	if kind == backend.AudioMix {
		return rec.WAV()
	}

	ch := 0
	if kind == backend.AudioLoop {
		ch = 1
	}
	out := capture.NewRecording(rec.SampleRate(), 1)
	channels := capture.Deinterleave(rec.Samples(), rec.Channels())
	if ch < len(channels) {
		out.Append(channels[ch])
	}
	return out.WAV()
}

func (s *Server) handleUploadFinal(c *fiber.Ctx) error {
	fh, err := c.FormFile("file")
	if err != nil {
		return detail(c, fiber.StatusBadRequest, "missing file")
	}
	f, err := fh.Open()
	if err != nil {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return detail(c, fiber.StatusBadRequest, err.Error())
	}
	if len(data) == 0 {
		return detail(c, fiber.StatusBadRequest, "empty upload")
	}

	cl := s.getOrCreate(c.Params("id"))
	cl.mu.Lock()
	cl.final = data
	cl.finalName = fh.Filename
	cl.mu.Unlock()

	s.logger.Info("final upload", "call_id", cl.id, "filename", fh.Filename, "bytes", len(data))
	return c.JSON(backend.UploadResult{
		CallID:   cl.id,
		Filename: fh.Filename,
		Bytes:    len(data),
		Status:   "uploaded",
	})
}
