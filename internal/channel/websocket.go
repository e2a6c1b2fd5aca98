package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/helixir/literature-console/internal/domain"
)

const (
	writeWait      = 10 * time.Second
	pongWait       = 60 * time.Second
	pingPeriod     = (pongWait * 9) / 10
	maxMessageSize = 16 << 20
)

// WebSocketConfig configures a client websocket transport.
type WebSocketConfig struct {
	// URL is the ws:// or wss:// endpoint of the service.
	URL string
	// HandshakeTimeout bounds the opening handshake.
	HandshakeTimeout time.Duration
	// Header is sent with the handshake request.
	Header http.Header
}

// WebSocketTransport carries envelopes as JSON text frames over a websocket.
// It keeps the connection alive with pings and expects pongs within pongWait.
type WebSocketTransport struct {
	conn *websocket.Conn

	writeMu   sync.Mutex
	closeOnce sync.Once
	stop      chan struct{}
}

// DialWebSocket connects to a service endpoint.
func DialWebSocket(ctx context.Context, cfg WebSocketConfig) (*WebSocketTransport, error) {
	dialer := websocket.Dialer{
		Proxy:            http.ProxyFromEnvironment,
		HandshakeTimeout: cfg.HandshakeTimeout,
	}

	conn, resp, err := dialer.DialContext(ctx, cfg.URL, cfg.Header)
	if resp != nil && resp.Body != nil {
		resp.Body.Close()
	}
	if err != nil {
		return nil, fmt.Errorf("dial %s: %w", cfg.URL, err)
	}

	return NewWebSocketTransport(conn), nil
}

// NewWebSocketTransport wraps an established connection and starts its
// keepalive loop.
func NewWebSocketTransport(conn *websocket.Conn) *WebSocketTransport {
	conn.SetReadLimit(maxMessageSize)
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	t := &WebSocketTransport{
		conn: conn,
		stop: make(chan struct{}),
	}
	go t.pingLoop()
	return t
}

// ReadEnvelope reads the next text frame. Frames that are not valid envelopes
// are reported with an error matching domain.ErrDecode; the connection stays usable.
func (t *WebSocketTransport) ReadEnvelope(ctx context.Context) (Envelope, error) {
	stopWatch := context.AfterFunc(ctx, func() {
		t.conn.SetReadDeadline(time.Now())
	})
	defer stopWatch()

	msgType, msg, err := t.conn.ReadMessage()
	if err != nil {
		select {
		case <-t.stop:
			return Envelope{}, domain.ErrSessionClosed
		default:
		}
		if ctx.Err() != nil {
			return Envelope{}, ctx.Err()
		}
		return Envelope{}, fmt.Errorf("read frame: %w", err)
	}
	if msgType != websocket.TextMessage {
		return Envelope{}, fmt.Errorf("%w: unexpected frame type %d", domain.ErrDecode, msgType)
	}

	var env Envelope
	if err := json.Unmarshal(msg, &env); err != nil {
		return Envelope{}, fmt.Errorf("%w: %v", domain.ErrDecode, err)
	}
	if env.Event == "" {
		return Envelope{}, fmt.Errorf("%w: frame without event name", domain.ErrDecode)
	}
	return env, nil
}

// WriteEnvelope writes env as one text frame.
func (t *WebSocketTransport) WriteEnvelope(ctx context.Context, env Envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return fmt.Errorf("encode envelope: %w", err)
	}

	deadline := time.Now().Add(writeWait)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}

	t.writeMu.Lock()
	defer t.writeMu.Unlock()

	if err := t.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, data)
}

// Close sends a close frame and closes the connection.
func (t *WebSocketTransport) Close() error {
	var err error
	t.closeOnce.Do(func() {
		close(t.stop)
		msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, "")
		_ = t.conn.WriteControl(websocket.CloseMessage, msg, time.Now().Add(writeWait))
		err = t.conn.Close()
	})
	if errors.Is(err, websocket.ErrCloseSent) {
		return nil
	}
	return err
}

func (t *WebSocketTransport) pingLoop() {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-t.stop:
			return
		case <-ticker.C:
			if err := t.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}
