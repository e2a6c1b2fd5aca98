package panel

import (
	"context"
	"encoding/json"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"

	"github.com/helixir/literature-console/internal/channel"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/outbox"
)

type sentEvent struct {
	event   string
	payload any
}

// fakeSession records sends and delivers events synchronously to the
// subscribed handler, the way a session reader goroutine would.
type fakeSession struct {
	mu       sync.Mutex
	handlers map[string]channel.Handler
	sent     []sentEvent
	sendErr  error
}

func newFakeSession() *fakeSession {
	return &fakeSession{handlers: make(map[string]channel.Handler)}
}

func (f *fakeSession) Send(event string, payload any) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, sentEvent{event: event, payload: payload})
	return nil
}

func (f *fakeSession) Subscribe(event string, h channel.Handler) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.handlers[event] = h
}

func (f *fakeSession) Unsubscribe(event string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	delete(f.handlers, event)
}

func (f *fakeSession) subscribed() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.handlers)
}

func (f *fakeSession) deliver(event, payload string) bool {
	f.mu.Lock()
	h := f.handlers[event]
	f.mu.Unlock()
	if h == nil {
		return false
	}
	h(json.RawMessage(payload))
	return true
}

func (f *fakeSession) events() []sentEvent {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]sentEvent(nil), f.sent...)
}

// captureSink collects published outbox events.
type captureSink struct {
	mu     sync.Mutex
	events []*domain.OutboxEvent
}

func (c *captureSink) Write(_ context.Context, event *domain.OutboxEvent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, event)
	return nil
}

func (c *captureSink) published() []*domain.OutboxEvent {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]*domain.OutboxEvent(nil), c.events...)
}

func testDeps(sink *captureSink) Deps {
	deps := Deps{Logger: zerolog.Nop()}
	if sink != nil {
		deps.Publisher = outbox.NewPublisher(outbox.NewEmitter(outbox.EmitterConfig{}), sink, zerolog.Nop(), nil)
	}
	return deps
}

func TestHub_LatestWins(t *testing.T) {
	h := newHub[int]()
	ch, cancel := h.watch(0)
	defer cancel()

	for i := 1; i <= 5; i++ {
		h.publish(i)
	}

	select {
	case v := <-ch:
		assert.Equal(t, 5, v, "a slow watcher only sees the latest snapshot")
	case <-time.After(time.Second):
		t.Fatal("no snapshot")
	}
}

func TestHub_CancelClosesChannel(t *testing.T) {
	h := newHub[string]()
	ch, cancel := h.watch("initial")
	assert.Equal(t, 1, h.size())

	cancel()
	cancel()

	assert.Equal(t, 0, h.size())
	assert.Equal(t, "initial", <-ch)
	_, ok := <-ch
	assert.False(t, ok)

	assert.NotPanics(t, func() { h.publish("after") })
}
