package connection

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"github.com/teslashibe/go-coach/pkg/protocol"
)

// Transport is a single live connection handle.
type Transport interface {
	// ReadFrame blocks until the next frame arrives or the transport fails.
	ReadFrame() (protocol.Frame, error)

	// WriteFrame writes one frame. Safe for concurrent use.
	WriteFrame(f protocol.Frame) error

	// Close releases the handle. Safe to call more than once.
	Close() error
}

// Dialer opens transports.
type Dialer interface {
	Dial(ctx context.Context, endpoint string) (Transport, error)
}

// WebsocketDialer dials gorilla websocket transports.
type WebsocketDialer struct {
	HandshakeTimeout time.Duration
	WriteTimeout     time.Duration
	Header           http.Header
}

// ValidateEndpoint checks that endpoint is a ws:// or wss:// URL.
func ValidateEndpoint(endpoint string) error {
	u, err := url.Parse(endpoint)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidEndpoint, err)
	}
	if u.Scheme != "ws" && u.Scheme != "wss" {
		return fmt.Errorf("%w: scheme %q", ErrInvalidEndpoint, u.Scheme)
	}
	if u.Host == "" {
		return fmt.Errorf("%w: missing host", ErrInvalidEndpoint)
	}
	return nil
}

// Dial implements Dialer.
func (d *WebsocketDialer) Dial(ctx context.Context, endpoint string) (Transport, error) {
	dialer := websocket.Dialer{
		HandshakeTimeout: d.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, endpoint, d.Header)
	if err != nil {
		if resp != nil {
			return nil, &TransportError{
				Op:         "dial",
				Endpoint:   endpoint,
				StatusCode: resp.StatusCode,
				Err:        err,
				Retryable:  resp.StatusCode >= 500 || resp.StatusCode == http.StatusTooManyRequests,
			}
		}
		return nil, &TransportError{Op: "dial", Endpoint: endpoint, Err: err, Retryable: true}
	}

	return &wsTransport{
		conn:         conn,
		endpoint:     endpoint,
		writeTimeout: d.WriteTimeout,
	}, nil
}

type wsTransport struct {
	conn         *websocket.Conn
	endpoint     string
	writeTimeout time.Duration

	writeMu   sync.Mutex
	closeOnce sync.Once
}

func (t *wsTransport) ReadFrame() (protocol.Frame, error) {
	for {
		mt, data, err := t.conn.ReadMessage()
		if err != nil {
			retryable := !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway)
			return protocol.Frame{}, &TransportError{Op: "read", Endpoint: t.endpoint, Err: err, Retryable: retryable}
		}
		switch mt {
		case websocket.TextMessage:
			return protocol.TextFrame(data), nil
		case websocket.BinaryMessage:
			return protocol.BinaryFrame(data), nil
		}
	}
}

func (t *wsTransport) WriteFrame(f protocol.Frame) error {
	mt := websocket.TextMessage
	if f.Kind == protocol.FrameBinary {
		mt = websocket.BinaryMessage
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if t.writeTimeout > 0 {
		_ = t.conn.SetWriteDeadline(time.Now().Add(t.writeTimeout))
	}
	if err := t.conn.WriteMessage(mt, f.Payload); err != nil {
		return &TransportError{Op: "write", Endpoint: t.endpoint, Err: err, Retryable: true}
	}
	return nil
}

func (t *wsTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		// WriteControl may run concurrently with WriteMessage.
		deadline := time.Now().Add(time.Second)
		_ = t.conn.WriteControl(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
			deadline,
		)
		err = t.conn.Close()
	})
	return err
}
