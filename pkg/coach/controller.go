package coach

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"github.com/teslashibe/go-coach/pkg/capture"
	"github.com/teslashibe/go-coach/pkg/connection"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Conn is the backend connection. *connection.Manager satisfies it.
type Conn interface {
	Open(endpoint string) error
	Close() error
	Send(f protocol.Frame) bool
	SendEvent(ev protocol.Event) bool
	Events() <-chan connection.Event
}

// Capturer starts audio captures. *capture.Pipeline satisfies it.
type Capturer interface {
	Start(ctx context.Context, cfg capture.Config) (*capture.Handle, error)
}

// StartParams describes a new session. Zero fields take defaults.
type StartParams struct {
	CallID   string          `json:"call_id,omitempty"`
	Endpoint string          `json:"endpoint,omitempty"`
	Capture  *capture.Config `json:"capture,omitempty"`
}

// Stats counts audio chunks forwarded to the backend.
type Stats struct {
	ChunksSent    uint64 `json:"chunks_sent"`
	ChunksDropped uint64 `json:"chunks_dropped"`

	// CaptureOverruns counts chunks lost inside capture before forwarding.
	CaptureOverruns uint64 `json:"capture_overruns"`
}

type commandKind int

const (
	cmdStart commandKind = iota
	cmdStop
	cmdToggle
)

type command struct {
	kind    commandKind
	params  StartParams
	enabled bool
	reply   chan error
}

// Controller runs one call session at a time. Every state change happens
// on the goroutine running Run; other methods post commands to it or read
// published snapshots.
type Controller struct {
	config   *Config
	logger   *slog.Logger
	conn     Conn
	capturer Capturer
	updates  *broadcaster

	cmds    chan command
	exited  chan struct{}
	running atomic.Bool

	phase    atomic.Int32
	snapshot atomic.Pointer[Session]
	sent     atomic.Uint64
	dropped  atomic.Uint64
	overruns atomic.Uint64
	hooks    sync.WaitGroup

	// Owned by Run.
	ctx          context.Context
	session      *Session
	captureCfg   capture.Config
	handle       *capture.Handle
	finalize     *time.Timer
	stopWaiters  []chan error
	coachEnabled bool
}

// NewController creates a Controller.
func NewController(conn Conn, capturer Capturer, opts ...Option) (*Controller, error) {
	if conn == nil {
		return nil, ErrNilConn
	}
	if capturer == nil {
		return nil, ErrNilCapturer
	}

	cfg := DefaultConfig()
	cfg.Apply(opts...)
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	c := &Controller{
		config:       cfg,
		logger:       cfg.Logger.With("component", "coach"),
		conn:         conn,
		capturer:     capturer,
		updates:      newBroadcaster(cfg.UpdateBuffer),
		cmds:         make(chan command),
		exited:       make(chan struct{}),
		coachEnabled: cfg.CoachEnabled,
	}
	c.snapshot.Store(NewSession("", "", cfg.CoachEnabled))
	return c, nil
}

// Run processes commands, connection events and audio until ctx is done.
// An active session is ended with EndShutdown before Run returns.
func (c *Controller) Run(ctx context.Context) error {
	if !c.running.CompareAndSwap(false, true) {
		return errors.New("coach: controller already running")
	}
	defer close(c.exited)

	c.ctx = ctx
	events := c.conn.Events()

	for {
		var (
			chunks   <-chan capture.Chunk
			capErrs  <-chan error
			finalize <-chan time.Time
		)
		if c.handle != nil {
			chunks = c.handle.Chunks()
			capErrs = c.handle.Errors()
		}
		if c.finalize != nil {
			finalize = c.finalize.C
		}

		select {
		case <-ctx.Done():
			c.shutdown()
			return ctx.Err()

		case cmd := <-c.cmds:
			c.handleCommand(cmd)

		case ev := <-events:
			c.handleConnEvent(ev)

		case chunk, ok := <-chunks:
			if !ok {
				c.stopCapture()
				continue
			}
			c.forwardChunk(chunk)

		case err, ok := <-capErrs:
			if !ok {
				c.stopCapture()
				continue
			}
			c.captureFailed(err)

		case <-finalize:
			c.finalize = nil
			c.logger.Warn("no call summary before timeout",
				"call_id", c.session.CallID,
				"timeout", c.config.FinalizeTimeout,
			)
			c.finish(EndStopped, nil)
		}
	}
}

// Start begins a session. It returns ErrNotIdle while another session is
// active.
func (c *Controller) Start(ctx context.Context, p StartParams) error {
	return c.post(ctx, command{kind: cmdStart, params: p})
}

// Stop ends the active session and returns once it has ended. It is a
// no-op when no session is active.
func (c *Controller) Stop(ctx context.Context) error {
	return c.post(ctx, command{kind: cmdStop})
}

// ToggleCoach turns coaching suggestions on or off.
func (c *Controller) ToggleCoach(ctx context.Context, enabled bool) error {
	return c.post(ctx, command{kind: cmdToggle, enabled: enabled})
}

// Phase returns the current phase.
func (c *Controller) Phase() Phase {
	return Phase(c.phase.Load())
}

// Snapshot returns a copy of the current session.
func (c *Controller) Snapshot() Session {
	return *c.snapshot.Load().Clone()
}

// Stats returns audio forwarding counters for the controller's lifetime.
func (c *Controller) Stats() Stats {
	return Stats{
		ChunksSent:      c.sent.Load(),
		ChunksDropped:   c.dropped.Load(),
		CaptureOverruns: c.overruns.Load(),
	}
}

// Subscribe returns a channel of updates and a function that cancels the
// subscription. The channel is closed when Run returns, or immediately if
// Run has already returned.
func (c *Controller) Subscribe() (<-chan Update, func()) {
	return c.updates.subscribe()
}

// post blocks until Run has handled cmd, Run has returned or ctx is done.
func (c *Controller) post(ctx context.Context, cmd command) error {
	cmd.reply = make(chan error, 1)

	select {
	case c.cmds <- cmd:
	case <-c.exited:
		return ErrNotRunning
	case <-ctx.Done():
		return ctx.Err()
	}

	select {
	case err := <-cmd.reply:
		return err
	case <-c.exited:
		select {
		case err := <-cmd.reply:
			return err
		default:
			return ErrNotRunning
		}
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (c *Controller) handleCommand(cmd command) {
	switch cmd.kind {
	case cmdStart:
		cmd.reply <- c.start(cmd.params)
	case cmdStop:
		c.stop(cmd.reply)
	case cmdToggle:
		cmd.reply <- c.toggle(cmd.enabled)
	}
}

func (c *Controller) active() bool {
	ph := c.Phase()
	return c.session != nil && ph != PhaseIdle && ph != PhaseEnded
}

func (c *Controller) start(p StartParams) error {
	if c.active() {
		return ErrNotIdle
	}

	capCfg := c.config.Capture
	if p.Capture != nil {
		capCfg = *p.Capture
	}
	if err := capCfg.Validate(); err != nil {
		return err
	}

	callID := p.CallID
	if callID == "" {
		callID = NewCallID(c.config.CallIDPrefix)
	}
	endpoint := p.Endpoint
	if endpoint == "" {
		endpoint = c.config.Endpoint(callID)
	}

	c.drainConnEvents()
	if err := c.conn.Open(endpoint); err != nil {
		return fmt.Errorf("coach: open %s: %w", endpoint, err)
	}

	s := NewSession(callID, endpoint, c.coachEnabled)
	s.StartedAt = time.Now()
	c.session = s
	c.captureCfg = capCfg
	c.setPhase(PhaseConnecting)
	c.publishState(Update{Kind: UpdatePhase})

	c.logger.Info("session starting", "call_id", callID, "endpoint", endpoint)
	return nil
}

// drainConnEvents discards events left over from a previous session.
func (c *Controller) drainConnEvents() {
	events := c.conn.Events()
	for {
		select {
		case <-events:
		default:
			return
		}
	}
}

func (c *Controller) stop(reply chan error) {
	switch c.Phase() {
	case PhaseIdle, PhaseEnded:
		reply <- nil
		return
	case PhaseEnding:
		c.stopWaiters = append(c.stopWaiters, reply)
		return
	}

	c.stopWaiters = append(c.stopWaiters, reply)

	if c.Phase() == PhaseConnecting {
		c.finish(EndStopped, nil)
		return
	}

	c.setPhase(PhaseEnding)
	c.publishState(Update{Kind: UpdatePhase})
	c.stopCapture()

	sent := c.conn.SendEvent(protocol.StopTranscription{Timestamp: protocol.Timestamp(time.Now())})
	if !sent {
		c.logger.Info("not connected, ending without summary", "call_id", c.session.CallID)
		c.finish(EndStopped, nil)
		return
	}
	c.finalize = time.NewTimer(c.config.FinalizeTimeout)
}

func (c *Controller) toggle(enabled bool) error {
	c.coachEnabled = enabled
	if c.active() {
		c.session.CoachEnabled = enabled
		if c.Phase() == PhaseLive {
			c.conn.SendEvent(protocol.ToggleCoach{Enabled: enabled})
		}
	} else if c.session == nil {
		c.snapshot.Store(NewSession("", "", enabled))
	}
	c.publishState(Update{Kind: UpdateCoach})
	c.logger.Info("coaching toggled", "enabled", enabled)
	return nil
}

func (c *Controller) handleConnEvent(ev connection.Event) {
	if !c.active() {
		return
	}

	switch ev.Kind {
	case connection.EventOpen:
		if c.Phase() == PhaseReconnecting {
			c.session.Reconnecting = false
			c.setPhase(PhaseLive)
			c.publishState(Update{Kind: UpdatePhase})
			c.logger.Info("reconnected", "call_id", c.session.CallID)
		}

	case connection.EventMessage:
		c.handleMessage(ev.Message)

	case connection.EventClose:
		if ev.Reason == connection.ReasonRejected {
			c.finish(EndConnectError, fmt.Errorf("connection rejected: %w", ev.Err))
			return
		}
		if ev.Terminal() {
			cause := fmt.Errorf("connection lost after %d attempts", ev.Attempt)
			if ev.Err != nil {
				cause = fmt.Errorf("%w: %v", cause, ev.Err)
			}
			c.finish(EndExhausted, cause)
			return
		}

		switch c.Phase() {
		case PhaseLive:
			c.session.Reconnecting = true
			c.setPhase(PhaseReconnecting)
			c.publishState(Update{Kind: UpdatePhase, Attempt: ev.Attempt, RetryIn: ev.RetryIn})
			c.logger.Warn("connection dropped, reconnecting",
				"call_id", c.session.CallID,
				"attempt", ev.Attempt,
				"retry_in", ev.RetryIn,
			)
		case PhaseConnecting, PhaseReconnecting:
			c.publishState(Update{Kind: UpdatePhase, Attempt: ev.Attempt, RetryIn: ev.RetryIn})
		case PhaseEnding:
			// The summary cannot arrive on a dead connection.
			c.finish(EndStopped, nil)
		}

	case connection.EventError:
		if protocol.IsDecodeError(ev.Err) {
			c.logger.Warn("inbound message discarded", "error", ev.Err)
			return
		}
		c.logger.Warn("connection error", "phase", c.Phase(), "error", ev.Err)
	}
}

func (c *Controller) handleMessage(msg protocol.Event) {
	ph := c.Phase()
	if _, ok := msg.(protocol.CallCompleted); ph == PhaseEnding && !ok {
		c.logger.Debug("ignoring message while ending", "type", msg.EventType())
		return
	}

	switch m := msg.(type) {
	case protocol.Pong:
		c.session.LastPongAt = time.Now()
		c.publishState(Update{Kind: UpdateLiveness})
		return
	case protocol.Unrecognized:
		c.logger.Debug("ignoring unrecognized message", "type", m.Type)
		return
	}

	change, ok := c.session.Apply(msg)
	if !ok {
		return
	}
	u := Update{
		Kind:       change.Kind,
		Segment:    change.Segment,
		Objection:  change.Objection,
		Suggestion: change.Suggestion,
		Summary:    change.Summary,
	}
	if change.Flagged >= 0 {
		flagged := change.Flagged
		u.Flagged = &flagged
	}
	c.publishState(u)

	switch msg.(type) {
	case protocol.SessionStarted:
		c.sessionStarted(ph)
	case protocol.CallCompleted:
		if ph == PhaseEnding {
			c.finish(EndStopped, nil)
		}
	}
}

func (c *Controller) sessionStarted(ph Phase) {
	switch ph {
	case PhaseConnecting:
		c.setPhase(PhaseLive)
		c.publishState(Update{Kind: UpdatePhase})
		c.sendStart()

		h, err := c.capturer.Start(c.ctx, c.captureCfg)
		if err != nil {
			c.captureFailed(err)
			return
		}
		c.handle = h
		c.logger.Info("session live", "call_id", c.session.CallID, "target", c.captureCfg.Target)

	case PhaseReconnecting:
		c.session.Reconnecting = false
		c.setPhase(PhaseLive)
		c.publishState(Update{Kind: UpdatePhase})
		c.sendStart()

	case PhaseLive:
		// A new connection after a reconnect; resume backend processing.
		c.sendStart()
	}
}

func (c *Controller) sendStart() {
	c.conn.SendEvent(protocol.StartTranscription{Timestamp: protocol.Timestamp(time.Now())})
	if !c.session.CoachEnabled {
		c.conn.SendEvent(protocol.ToggleCoach{Enabled: false})
	}
}

// forwardChunk sends one chunk. Chunks produced while disconnected are
// dropped by the connection and counted here.
func (c *Controller) forwardChunk(chunk capture.Chunk) {
	if c.conn.Send(protocol.EncodeAudio(chunk.Data)) {
		c.sent.Add(1)
	} else {
		c.dropped.Add(1)
	}
	c.publish(Update{Kind: UpdateAudio, CallID: c.session.CallID, Level: chunk.Level})
}

func (c *Controller) captureFailed(err error) {
	if !c.active() {
		return
	}
	c.logger.Error("capture failed", "call_id", c.session.CallID, "error", err)

	if c.Phase() != PhaseEnding {
		c.setPhase(PhaseEnding)
		c.publishState(Update{Kind: UpdatePhase})
	}
	c.stopCapture()
	c.conn.SendEvent(protocol.StopTranscription{Timestamp: protocol.Timestamp(time.Now())})
	c.finish(EndCaptureError, err)
}

// stopCapture releases the audio device, forwards any chunks still
// buffered, and hands the retained recording to the finalizer.
func (c *Controller) stopCapture() {
	h := c.handle
	if h == nil {
		return
	}
	c.handle = nil
	h.Stop()

	for chunk := range h.Chunks() {
		c.forwardChunk(chunk)
	}
	if n := h.Overruns(); n > 0 {
		c.overruns.Add(n)
		c.logger.Warn("capture overruns", "call_id", c.session.CallID, "chunks", n)
	}

	rec := h.Recording()
	if rec == nil || rec.Len() == 0 || c.config.Finalizer == nil {
		return
	}
	callID := c.session.CallID
	c.runHook("finalize", callID, func(ctx context.Context) error {
		return c.config.Finalizer(ctx, callID, rec)
	}, true)
}

func (c *Controller) finish(reason EndReason, cause error) {
	if c.finalize != nil {
		c.finalize.Stop()
		c.finalize = nil
	}
	c.stopCapture()
	if err := c.conn.Close(); err != nil {
		c.logger.Warn("connection close failed", "error", err)
	}

	s := c.session
	s.EndedAt = time.Now()
	s.EndReason = reason
	s.Reconnecting = false
	if cause != nil {
		s.Error = cause.Error()
	}

	if cause != nil {
		c.publishState(Update{Kind: UpdateError, EndReason: reason, Error: s.Error})
	}
	c.setPhase(PhaseEnded)
	c.publishState(Update{Kind: UpdatePhase, EndReason: reason, Error: s.Error})

	c.logger.Info("session ended",
		"call_id", s.CallID,
		"reason", reason,
		"duration", s.Duration().Round(time.Millisecond),
		"segments", len(s.Transcript),
		"objections", len(s.Objections),
	)

	if c.config.Archiver != nil {
		final := *s.Clone()
		c.runHook("archive", s.CallID, func(ctx context.Context) error {
			return c.config.Archiver(ctx, final)
		}, false)
	}

	for _, w := range c.stopWaiters {
		w <- nil
	}
	c.stopWaiters = nil
}

// runHook calls fn in the background, detached from Run's cancellation but
// bounded by the hook timeout.
func (c *Controller) runHook(name, callID string, fn func(context.Context) error, announce bool) {
	parent := context.WithoutCancel(c.ctx)
	c.hooks.Add(1)
	go func() {
		defer c.hooks.Done()

		ctx, cancel := context.WithTimeout(parent, c.config.HookTimeout)
		defer cancel()

		if err := fn(ctx); err != nil {
			c.logger.Error(name+" failed", "call_id", callID, "error", err)
			c.publish(Update{Kind: UpdateError, CallID: callID, Error: fmt.Sprintf("%s: %v", name, err)})
			return
		}
		c.logger.Info(name+" complete", "call_id", callID)
		if announce {
			c.publish(Update{Kind: UpdateFinalized, CallID: callID})
		}
	}()
}

func (c *Controller) shutdown() {
	if c.active() {
		c.finish(EndShutdown, nil)
	}
	c.hooks.Wait()
	c.updates.closeAll()
}

func (c *Controller) setPhase(p Phase) {
	c.phase.Store(int32(p))
	if c.session != nil {
		c.session.Status = p.status()
	}
}

// publish is safe to call from hook goroutines; it never touches the
// session.
func (c *Controller) publish(u Update) {
	u.Phase = c.Phase()
	if u.At.IsZero() {
		u.At = time.Now()
	}
	if missed := c.updates.publish(u); missed > 0 {
		c.logger.Debug("slow subscribers missed update", "kind", u.Kind, "missed", missed)
	}
}

// publishState refreshes the snapshot and publishes u.
func (c *Controller) publishState(u Update) {
	if c.session != nil {
		c.snapshot.Store(c.session.Clone())
		u.CallID = c.session.CallID
	}
	u.CoachEnabled = c.coachEnabled
	c.publish(u)
}

// NewCallID returns a short random call identifier with the given prefix.
func NewCallID(prefix string) string {
	id := strings.ReplaceAll(uuid.NewString(), "-", "")
	return prefix + id[:8]
}
