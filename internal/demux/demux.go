// Package demux routes named channel events of one UI context to typed
// handlers and clears the context's request gate on terminal events.
package demux

import (
	"encoding/json"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/channel"
	"github.com/helixir/literature-console/internal/gate"
)

// Kind classifies what an inbound event means for the request cycle.
type Kind int

const (
	// Success carries a result and ends the cycle.
	Success Kind = iota
	// Failure carries a remote error and ends the cycle.
	Failure
	// Artifact carries data for an ungated side flow; the gate is untouched.
	Artifact
)

// Terminal reports whether events of this kind settle the gate.
func (k Kind) Terminal() bool {
	return k == Success || k == Failure
}

// String returns the lowercase name of the kind.
func (k Kind) String() string {
	switch k {
	case Success:
		return "success"
	case Failure:
		return "failure"
	case Artifact:
		return "artifact"
	default:
		return "unknown"
	}
}

// Delivery is one inbound event handed to a route.
//
// A terminal delivery leaves the gate latched until the handler calls
// Settle, so a handler can take its own lock before the gate reopens. If
// the handler never calls it, the gate is settled after it returns.
type Delivery struct {
	Event   string
	Payload json.RawMessage
	// Terminal reports whether this event ends the request cycle.
	Terminal bool

	settlement *settlement
}

// settlement is the cycle that was in flight when a terminal event arrived.
type settlement struct {
	gate     Gate
	ticket   gate.Ticket
	inFlight bool
	done     bool
	ok       bool
}

// Settle moves the gate out of InFlight when the delivery is terminal. It
// returns the ticket of the cycle it ended. The boolean is false when no
// gated request was in flight on arrival, or when that request has since
// settled some other way. Repeated calls return the first result.
func (d Delivery) Settle() (gate.Ticket, bool) {
	s := d.settlement
	if s == nil {
		return gate.Ticket{}, false
	}
	if !s.done {
		s.done = true
		s.ok = s.inFlight && s.gate.Expire(s.ticket)
	}
	if !s.ok {
		return gate.Ticket{}, false
	}
	return s.ticket, true
}

// Route binds an event name to its kind and handler.
type Route struct {
	Event  string
	Kind   Kind
	Handle func(Delivery)
	// Settles, when set, decides per payload whether a terminal route
	// actually ends the cycle. A false result leaves the gate latched.
	Settles func(payload json.RawMessage) bool
}

// Subscriber is the part of a channel session the demultiplexer needs.
type Subscriber interface {
	Subscribe(event string, handler channel.Handler)
	Unsubscribe(event string)
}

// Gate is the part of a request gate the demultiplexer needs.
type Gate interface {
	Current() (gate.Ticket, bool)
	Expire(t gate.Ticket) bool
}

// Demux owns the subscriptions of one UI context.
type Demux struct {
	sub    Subscriber
	gate   Gate
	routes []Route
	logger zerolog.Logger

	mu         sync.Mutex
	mounted    bool
	generation uint64
}

// New creates an unmounted demultiplexer for routes.
func New(sub Subscriber, g Gate, routes []Route, logger zerolog.Logger) *Demux {
	return &Demux{
		sub:    sub,
		gate:   g,
		routes: routes,
		logger: logger.With().Str("component", "demux").Logger(),
	}
}

// Mount subscribes every route. Mounting a mounted demultiplexer is a no-op.
func (d *Demux) Mount() {
	d.mu.Lock()
	defer d.mu.Unlock()

	if d.mounted {
		return
	}
	d.mounted = true
	d.generation++
	for _, r := range d.routes {
		d.sub.Subscribe(r.Event, d.wrap(d.generation, r))
	}
	d.logger.Debug().Int("routes", len(d.routes)).Msg("mounted")
}

// Unmount unsubscribes every route. It tolerates repeated calls and routes
// that were never subscribed. Deliveries already queued for this context
// are dropped.
func (d *Demux) Unmount() {
	d.mu.Lock()
	defer d.mu.Unlock()

	for _, r := range d.routes {
		d.sub.Unsubscribe(r.Event)
	}
	if d.mounted {
		d.logger.Debug().Msg("unmounted")
	}
	d.mounted = false
	d.generation++
}

// Mounted reports whether the routes are subscribed.
func (d *Demux) Mounted() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.mounted
}

// Events returns the event names this demultiplexer routes, in table order.
func (d *Demux) Events() []string {
	events := make([]string, len(d.routes))
	for i, r := range d.routes {
		events[i] = r.Event
	}
	return events
}

func (d *Demux) wrap(generation uint64, r Route) channel.Handler {
	return func(payload json.RawMessage) {
		d.mu.Lock()
		live := d.mounted && d.generation == generation
		d.mu.Unlock()
		if !live {
			d.logger.Debug().Str("event", r.Event).Msg("dropping event for unmounted context")
			return
		}

		delivery := Delivery{Event: r.Event, Payload: payload}
		if r.Kind.Terminal() && (r.Settles == nil || r.Settles(payload)) {
			delivery.Terminal = true
			s := &settlement{gate: d.gate}
			s.ticket, s.inFlight = d.gate.Current()
			delivery.settlement = s
			defer func() {
				if _, ok := delivery.Settle(); !ok {
					d.logger.Debug().Str("event", r.Event).Msg("terminal event with no request in flight")
				}
			}()
		}
		r.Handle(delivery)
	}
}
