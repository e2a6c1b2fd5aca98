// Package gate serializes request/response cycles on a channel: at most one
// gated request per UI context may be awaiting its terminal event.
package gate

import (
	"sync"
	"time"

	"github.com/google/uuid"
)

// State is the position of a gate in its request cycle.
type State int

const (
	// Idle means no request was ever started.
	Idle State = iota
	// InFlight means a request was sent and no terminal event arrived yet.
	InFlight
	// Settled means the last request received a terminal event, failed
	// locally or timed out.
	Settled
)

// String returns the lowercase name of the state.
func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case InFlight:
		return "in_flight"
	case Settled:
		return "settled"
	default:
		return "unknown"
	}
}

// Ticket identifies one request cycle inside this process. The request ID is
// for logs and metrics only; it is never sent to a service.
type Ticket struct {
	RequestID string
	Operation string
	StartedAt time.Time
}

// Gate is a three-state machine Idle -> InFlight -> Settled -> InFlight ...
// It is safe for concurrent use.
type Gate struct {
	mu      sync.Mutex
	state   State
	current Ticket
	seq     uint64

	timeout   time.Duration
	onTimeout func(Ticket)
	timer     *time.Timer
	now       func() time.Time
}

// Option configures a Gate.
type Option func(*Gate)

// WithTimeout calls onTimeout with the ticket of a request still in flight
// after d. The gate stays latched until onTimeout calls Expire with that
// ticket, so the owner can settle its own state under its own lock first.
// A nil onTimeout settles the gate directly. A zero or negative d disables
// the timeout.
func WithTimeout(d time.Duration, onTimeout func(Ticket)) Option {
	return func(g *Gate) {
		g.timeout = d
		g.onTimeout = onTimeout
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(g *Gate) {
		g.now = now
	}
}

// New creates an idle gate.
func New(opts ...Option) *Gate {
	g := &Gate{now: time.Now}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// TryStart latches the gate for operation. It returns false, with no side
// effect, while another request is in flight.
func (g *Gate) TryStart(operation string) (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == InFlight {
		return Ticket{}, false
	}

	g.seq++
	g.state = InFlight
	g.current = Ticket{
		RequestID: uuid.NewString(),
		Operation: operation,
		StartedAt: g.now(),
	}

	if g.timeout > 0 {
		seq := g.seq
		g.timer = time.AfterFunc(g.timeout, func() { g.expire(seq) })
	}

	return g.current, true
}

// Complete leaves the in-flight state. It is unconditional and safe to call
// when nothing is in flight; the boolean reports whether a request was
// actually in flight, together with its ticket.
func (g *Gate) Complete() (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != InFlight {
		return Ticket{}, false
	}
	g.stopTimer()
	g.state = Settled
	return g.current, true
}

// State returns the current state.
func (g *Gate) State() State {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.state
}

// InFlight reports whether a request is awaiting its terminal event.
func (g *Gate) InFlight() bool {
	return g.State() == InFlight
}

// Current returns the ticket of the request in flight, if any.
func (g *Gate) Current() (Ticket, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.state != InFlight {
		return Ticket{}, false
	}
	return g.current, true
}

// Expire settles the request identified by t. It returns false, with no
// side effect, when t is no longer the request in flight: it already
// settled, or a newer request replaced it.
func (g *Gate) Expire(t Ticket) bool {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state != InFlight || g.current.RequestID != t.RequestID {
		return false
	}
	g.stopTimer()
	g.state = Settled
	return true
}

func (g *Gate) stopTimer() {
	if g.timer != nil {
		g.timer.Stop()
		g.timer = nil
	}
}

func (g *Gate) expire(seq uint64) {
	g.mu.Lock()
	if g.state != InFlight || g.seq != seq {
		g.mu.Unlock()
		return
	}
	g.timer = nil
	ticket := g.current
	onTimeout := g.onTimeout
	if onTimeout == nil {
		g.state = Settled
	}
	g.mu.Unlock()

	if onTimeout != nil {
		onTimeout(ticket)
	}
}
