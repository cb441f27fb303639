// Package connection manages the single persistent websocket between the
// coaching client and the backend: connect, heartbeat, reconnect with
// exponential backoff, and teardown.
package connection

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Manager owns at most one live transport and reconnects it when the
// backend drops. Inbound messages, connectivity changes and failures are
// delivered in arrival order on Events.
type Manager struct {
	config *Config
	logger *slog.Logger
	dialer Dialer
	events chan Event
	ping   protocol.Frame

	// lifeMu serializes Open and Close.
	lifeMu sync.Mutex

	mu        sync.RWMutex
	state     State
	transport Transport
	cancel    context.CancelFunc
	done      chan struct{}

	sent       atomic.Uint64
	dropped    atomic.Uint64
	received   atomic.Uint64
	reconnects atomic.Uint64
}

// Stats contains manager counters.
type Stats struct {
	Sent       uint64 `json:"sent"`
	Dropped    uint64 `json:"dropped"`
	Received   uint64 `json:"received"`
	Reconnects uint64 `json:"reconnects"`
}

// NewManager creates a Manager.
func NewManager(opts ...Option) (*Manager, error) {
	cfg := DefaultConfig()
	cfg.Apply(opts...)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	dialer := cfg.Dialer
	if dialer == nil {
		dialer = &WebsocketDialer{
			HandshakeTimeout: cfg.HandshakeTimeout,
			WriteTimeout:     cfg.WriteTimeout,
			Header:           cfg.Header,
		}
	}

	ping, err := protocol.Encode(protocol.Ping{})
	if err != nil {
		return nil, fmt.Errorf("connection: encode ping: %w", err)
	}

	return &Manager{
		config: cfg,
		logger: cfg.Logger.With("component", "connection"),
		dialer: dialer,
		events: make(chan Event, cfg.EventBuffer),
		ping:   ping,
		state:  State{Status: StatusDisconnected},
	}, nil
}

// Events returns the event stream. The channel lives as long as the Manager
// and is shared by every Open/Close cycle.
func (m *Manager) Events() <-chan Event {
	return m.events
}

// State returns a copy of the connection state.
func (m *Manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns manager counters.
func (m *Manager) Stats() Stats {
	return Stats{
		Sent:       m.sent.Load(),
		Dropped:    m.dropped.Load(),
		Received:   m.received.Load(),
		Reconnects: m.reconnects.Load(),
	}
}

// Open begins connecting to endpoint and returns immediately. It is a no-op
// while already connecting or open to the same endpoint. A different
// endpoint tears down the current connection first.
func (m *Manager) Open(endpoint string) error {
	if err := ValidateEndpoint(endpoint); err != nil {
		return err
	}

	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()

	st := m.State()
	if st.Status != StatusDisconnected && st.Endpoint == endpoint {
		return nil
	}
	m.shutdown()

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan struct{})

	m.mu.Lock()
	m.cancel = cancel
	m.done = done
	m.state = State{Status: StatusConnecting, Endpoint: endpoint}
	m.mu.Unlock()

	m.logger.Info("opening connection", "endpoint", endpoint)
	go m.run(ctx, endpoint, done)
	return nil
}

// Close cancels any pending reconnect and the heartbeat, releases the
// transport, and waits for the manager's goroutines to exit. The manager
// stays disconnected until Open is called again.
func (m *Manager) Close() error {
	m.lifeMu.Lock()
	defer m.lifeMu.Unlock()
	m.shutdown()
	return nil
}

func (m *Manager) shutdown() {
	m.mu.Lock()
	cancel, done, t := m.cancel, m.done, m.transport
	if cancel == nil {
		m.mu.Unlock()
		return
	}
	m.cancel, m.done = nil, nil
	m.state.Status = StatusClosing
	m.mu.Unlock()

	cancel()
	if t != nil {
		_ = t.Close()
	}
	<-done

	m.mu.Lock()
	m.transport = nil
	m.state.Status = StatusDisconnected
	m.mu.Unlock()

	m.logger.Info("connection closed", "endpoint", m.State().Endpoint)
}

// Send writes f if the connection is open and drops it otherwise. There is
// no outbound queue.
func (m *Manager) Send(f protocol.Frame) bool {
	m.mu.RLock()
	t := m.transport
	open := m.state.Status == StatusOpen
	m.mu.RUnlock()

	if !open || t == nil {
		m.dropped.Add(1)
		return false
	}
	if err := t.WriteFrame(f); err != nil {
		m.dropped.Add(1)
		m.logger.Debug("send failed", "kind", f.Kind, "error", err)
		return false
	}
	m.sent.Add(1)
	return true
}

// SendEvent encodes ev and sends it as a text frame.
func (m *Manager) SendEvent(ev protocol.Event) bool {
	f, err := protocol.Encode(ev)
	if err != nil {
		m.logger.Error("encode failed", "type", ev.EventType(), "error", err)
		return false
	}
	return m.Send(f)
}

func (m *Manager) run(ctx context.Context, endpoint string, done chan struct{}) {
	defer close(done)

	for {
		t, err := m.dialer.Dial(ctx, endpoint)
		if err == nil {
			if !m.setOpen(ctx, t) {
				_ = t.Close()
				return
			}
			m.logger.Info("connection open", "endpoint", endpoint)
			m.emit(ctx, Event{Kind: EventOpen})

			err = m.serve(ctx, t)
			m.clearTransport(t)
			_ = t.Close()
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("connection lost", "endpoint", endpoint, "error", err)
		} else {
			if ctx.Err() != nil {
				return
			}
			m.logger.Warn("dial failed", "endpoint", endpoint, "error", err)
			m.emit(ctx, Event{Kind: EventError, Err: err})
		}

		if !m.backoff(ctx, err) {
			return
		}
	}
}

// backoff records a failure and waits for the next attempt. It returns false
// when the handshake was rejected, attempts are exhausted or the manager is
// closed.
func (m *Manager) backoff(ctx context.Context, cause error) bool {
	policy := m.config.Policy

	m.mu.Lock()
	attempts := m.state.Attempts
	m.state.LastError = cause
	if IsRejected(cause) {
		m.state.Status = StatusDisconnected
		m.mu.Unlock()

		m.logger.Error("handshake rejected", "attempts", attempts, "error", cause)
		m.emit(ctx, Event{Kind: EventClose, Reason: ReasonRejected, Attempt: attempts, Err: cause})
		return false
	}
	if policy.Exhausted(attempts) {
		m.state.Status = StatusDisconnected
		m.mu.Unlock()

		m.logger.Error("reconnect attempts exhausted", "attempts", attempts, "error", cause)
		m.emit(ctx, Event{Kind: EventClose, Reason: ReasonExhausted, Attempt: attempts, Err: cause})
		return false
	}
	delay := policy.Delay(attempts)
	m.state.Attempts = attempts + 1
	m.state.Status = StatusConnecting
	m.mu.Unlock()

	m.reconnects.Add(1)
	m.logger.Info("reconnect scheduled", "attempt", attempts+1, "delay", delay)
	m.emit(ctx, Event{Kind: EventClose, Reason: ReasonDropped, Attempt: attempts + 1, RetryIn: delay, Err: cause})

	timer := time.NewTimer(delay)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}

func (m *Manager) setOpen(ctx context.Context, t Transport) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ctx.Err() != nil {
		return false
	}
	m.transport = t
	m.state.Status = StatusOpen
	m.state.Attempts = 0
	m.state.LastError = nil
	return true
}

func (m *Manager) clearTransport(t Transport) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.transport == t {
		m.transport = nil
		if m.state.Status == StatusOpen {
			m.state.Status = StatusConnecting
		}
	}
}

// serve runs the read loop and heartbeat for one transport until it fails
// or ctx is canceled.
func (m *Manager) serve(ctx context.Context, t Transport) error {
	readErr := make(chan error, 1)
	go func() {
		readErr <- m.readLoop(ctx, t)
	}()

	var tick <-chan time.Time
	if m.config.HeartbeatInterval > 0 {
		ticker := time.NewTicker(m.config.HeartbeatInterval)
		defer ticker.Stop()
		tick = ticker.C
	}

	for {
		select {
		case <-ctx.Done():
			_ = t.Close()
			<-readErr
			return ErrClosed
		case err := <-readErr:
			return err
		case <-tick:
			if err := t.WriteFrame(m.ping); err != nil {
				m.logger.Debug("heartbeat failed", "error", err)
			}
		}
	}
}

func (m *Manager) readLoop(ctx context.Context, t Transport) error {
	for {
		f, err := t.ReadFrame()
		if err != nil {
			return err
		}
		m.received.Add(1)

		ev, err := protocol.Decode(f)
		if err != nil {
			m.logger.Warn("discarding frame", "error", err)
			if !m.emit(ctx, Event{Kind: EventError, Err: err}) {
				return ErrClosed
			}
			continue
		}
		if !m.emit(ctx, Event{Kind: EventMessage, Message: ev}) {
			return ErrClosed
		}
	}
}

func (m *Manager) emit(ctx context.Context, ev Event) bool {
	select {
	case m.events <- ev:
		return true
	case <-ctx.Done():
		return false
	}
}
