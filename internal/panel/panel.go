// Package panel holds the session state of the two UI contexts of the
// console: the classifier panel and the retriever panel.
//
// A panel owns a request gate, a route table mounted on its channel session
// and a snapshot of its outcome. Every state transition happens under the
// panel's mutex; watchers receive copies of the snapshot after each one.
package panel

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/channel"
	"github.com/helixir/literature-console/internal/demux"
	"github.com/helixir/literature-console/internal/observability"
	"github.com/helixir/literature-console/internal/outbox"
)

// Panel names used in logs and metrics.
const (
	NameClassifier = "classifier"
	NameRetriever  = "retriever"
)

// Session is the part of a channel session a panel needs.
type Session interface {
	Send(event string, payload any) error
	Subscribe(event string, handler channel.Handler)
	Unsubscribe(event string)
}

var _ demux.Subscriber = Session(nil)

// Deps carries the ambient collaborators shared by both panels.
type Deps struct {
	Logger    zerolog.Logger
	Metrics   *observability.Metrics
	Publisher *outbox.Publisher
	// Now replaces time.Now, for tests.
	Now func() time.Time
}

func (d Deps) now() time.Time {
	if d.Now != nil {
		return d.Now()
	}
	return time.Now()
}

// hub fans snapshots out to watchers. A watcher holds at most one pending
// snapshot; a newer one replaces it, so a slow watcher never blocks the
// panel.
type hub[T any] struct {
	mu   sync.Mutex
	next int
	subs map[int]chan T
}

func newHub[T any]() *hub[T] {
	return &hub[T]{subs: make(map[int]chan T)}
}

func (h *hub[T]) watch(initial T) (<-chan T, func()) {
	h.mu.Lock()
	defer h.mu.Unlock()

	id := h.next
	h.next++
	ch := make(chan T, 1)
	ch <- initial
	h.subs[id] = ch

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			h.mu.Lock()
			defer h.mu.Unlock()
			delete(h.subs, id)
			close(ch)
		})
	}
	return ch, cancel
}

func (h *hub[T]) publish(v T) {
	h.mu.Lock()
	defer h.mu.Unlock()

	for _, ch := range h.subs {
		select {
		case ch <- v:
		default:
			select {
			case <-ch:
			default:
			}
			select {
			case ch <- v:
			default:
			}
		}
	}
}

func (h *hub[T]) size() int {
	h.mu.Lock()
	defer h.mu.Unlock()
	return len(h.subs)
}

// requestMeta remembers who started the cycle in flight.
type requestMeta struct {
	correlationID string
}

func metaFromContext(ctx context.Context) requestMeta {
	return requestMeta{correlationID: observability.CorrelationIDFromContext(ctx)}
}

// publishContext bounds an outcome publication. The Kafka writer is
// asynchronous, so this only guards a misbehaving sink.
func publishContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), 5*time.Second)
}
