package channel

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-console/internal/domain"
)

// newEchoServer answers every envelope with "<event>_results" carrying the same data.
// Before echoing it writes the frames in preamble verbatim.
func newEchoServer(t *testing.T, preamble ...string) string {
	t.Helper()
	upgrader := websocket.Upgrader{}

	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()

		for _, frame := range preamble {
			if err := conn.WriteMessage(websocket.TextMessage, []byte(frame)); err != nil {
				return
			}
		}

		for {
			var env Envelope
			if err := conn.ReadJSON(&env); err != nil {
				return
			}
			reply := Envelope{Event: env.Event + "_results", Data: env.Data}
			if err := conn.WriteJSON(reply); err != nil {
				return
			}
		}
	}))
	t.Cleanup(srv.Close)

	return "ws" + strings.TrimPrefix(srv.URL, "http")
}

func TestWebSocketTransport_RoundTrip(t *testing.T) {
	url := newEchoServer(t)

	transport, err := DialWebSocket(context.Background(), WebSocketConfig{URL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)

	s := NewSession(domain.ChannelClassifier, transport, Config{}, zerolog.Nop(), nil)
	defer s.Close()

	received := make(chan json.RawMessage, 1)
	s.Subscribe(domain.EventTextClassificationResults, func(p json.RawMessage) { received <- p })
	require.NoError(t, s.Open(context.Background()))

	require.NoError(t, s.Send(domain.EventTextClassification, "graphene"))

	select {
	case p := <-received:
		assert.JSONEq(t, `"graphene"`, string(p))
	case <-time.After(3 * time.Second):
		t.Fatal("no echo received")
	}
}

func TestWebSocketTransport_MalformedFrame(t *testing.T) {
	url := newEchoServer(t, "not json", `{"data":1}`, `{"event":"hello","data":{"ok":true}}`)

	transport, err := DialWebSocket(context.Background(), WebSocketConfig{URL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)
	defer transport.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	_, err = transport.ReadEnvelope(ctx)
	assert.ErrorIs(t, err, domain.ErrDecode)

	_, err = transport.ReadEnvelope(ctx)
	assert.ErrorIs(t, err, domain.ErrDecode, "frame without event name")

	env, err := transport.ReadEnvelope(ctx)
	require.NoError(t, err)
	assert.Equal(t, "hello", env.Event)
	assert.JSONEq(t, `{"ok":true}`, string(env.Data))
}

func TestWebSocketTransport_CloseUnblocksRead(t *testing.T) {
	url := newEchoServer(t)

	transport, err := DialWebSocket(context.Background(), WebSocketConfig{URL: url, HandshakeTimeout: time.Second})
	require.NoError(t, err)

	errCh := make(chan error, 1)
	go func() {
		_, err := transport.ReadEnvelope(context.Background())
		errCh <- err
	}()

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, transport.Close())
	assert.NoError(t, transport.Close())

	select {
	case err := <-errCh:
		assert.ErrorIs(t, err, domain.ErrSessionClosed)
	case <-time.After(3 * time.Second):
		t.Fatal("read not unblocked by close")
	}
}

func TestDialWebSocket_Unreachable(t *testing.T) {
	_, err := DialWebSocket(context.Background(), WebSocketConfig{URL: "ws://127.0.0.1:1", HandshakeTimeout: 200 * time.Millisecond})
	assert.Error(t, err)
}
