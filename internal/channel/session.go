package channel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/observability"
)

const (
	defaultSendQueueSize = 64
	defaultWriteTimeout  = 10 * time.Second
)

// Config holds session tuning.
type Config struct {
	// SendQueueSize bounds the number of envelopes waiting for the writer.
	SendQueueSize int
	// WriteTimeout bounds a single transport write.
	WriteTimeout time.Duration
}

// Session is the process-wide connection to one service. It holds at most one
// handler per event name and delivers inbound events one at a time, in the
// order the transport produced them.
type Session struct {
	id        domain.ChannelID
	transport Transport
	cfg       Config
	logger    zerolog.Logger
	metrics   *observability.Metrics

	mu       sync.RWMutex
	handlers map[string]Handler
	state    sessionState

	outbound chan Envelope
	cancel   context.CancelFunc
	done     chan struct{}
	wg       sync.WaitGroup
}

type sessionState int

const (
	stateNew sessionState = iota
	stateOpen
	stateClosed
)

// NewSession creates a session over transport. The session does not read or
// write until Open is called; sends issued before Open are queued.
func NewSession(id domain.ChannelID, transport Transport, cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *Session {
	if cfg.SendQueueSize <= 0 {
		cfg.SendQueueSize = defaultSendQueueSize
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = defaultWriteTimeout
	}
	return &Session{
		id:        id,
		transport: transport,
		cfg:       cfg,
		logger:    observability.WithChannelContext(logger, string(id)).With().Str("component", "channel_session").Logger(),
		metrics:   metrics,
		handlers:  make(map[string]Handler),
		outbound:  make(chan Envelope, cfg.SendQueueSize),
		done:      make(chan struct{}),
	}
}

// ID returns the channel this session is connected to.
func (s *Session) ID() domain.ChannelID {
	return s.id
}

// Open starts the reader and writer loops. The loops stop when ctx is done,
// when Close is called or when the transport fails.
func (s *Session) Open(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	switch s.state {
	case stateOpen:
		return fmt.Errorf("session %s already open", s.id)
	case stateClosed:
		return domain.ErrSessionClosed
	}

	loopCtx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.state = stateOpen

	s.wg.Add(2)
	go s.readLoop(loopCtx)
	go s.writeLoop(loopCtx)

	s.metrics.SetChannelConnected(string(s.id), true)
	s.logger.Info().Msg("channel session opened")
	return nil
}

// Close stops the loops and closes the transport. It is safe to call more
// than once.
func (s *Session) Close() error {
	s.mu.Lock()
	if s.state == stateClosed {
		s.mu.Unlock()
		return nil
	}
	wasOpen := s.state == stateOpen
	s.state = stateClosed
	cancel := s.cancel
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	err := s.transport.Close()
	if wasOpen {
		s.wg.Wait()
	} else {
		close(s.done)
	}

	s.metrics.SetChannelConnected(string(s.id), false)
	s.logger.Info().Msg("channel session closed")
	return err
}

// Done is closed once the reader loop has stopped, either through Close or
// because the transport failed.
func (s *Session) Done() <-chan struct{} {
	return s.done
}

// Connected reports whether the session is open and its reader is running.
func (s *Session) Connected() bool {
	s.mu.RLock()
	open := s.state == stateOpen
	s.mu.RUnlock()
	if !open {
		return false
	}
	select {
	case <-s.done:
		return false
	default:
		return true
	}
}

// Send queues event for transmission and returns immediately. There is no
// acknowledgement; a response, if any, arrives later as a separate event.
// Send fails only when the session is closed or its queue is full.
func (s *Session) Send(event string, payload any) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s payload: %w", event, err)
	}

	s.mu.RLock()
	defer s.mu.RUnlock()

	if s.state == stateClosed {
		s.metrics.RecordSendFailure(string(s.id), "closed")
		return domain.ErrSessionClosed
	}

	select {
	case s.outbound <- Envelope{Event: event, Data: data}:
		return nil
	default:
		s.metrics.RecordSendFailure(string(s.id), "queue_full")
		s.logger.Warn().Str("event", event).Msg("send queue full, dropping event")
		return domain.ErrSendQueueFull
	}
}

// Subscribe registers handler for event, replacing any previous handler.
func (s *Session) Subscribe(event string, handler Handler) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.handlers[event]; ok {
		s.logger.Debug().Str("event", event).Msg("replacing event handler")
	}
	s.handlers[event] = handler
}

// Unsubscribe removes the handler for event. Removing an unknown handler is a no-op.
func (s *Session) Unsubscribe(event string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.handlers, event)
}

// Subscribed reports whether a handler is registered for event.
func (s *Session) Subscribed(event string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.handlers[event]
	return ok
}

func (s *Session) readLoop(ctx context.Context) {
	defer s.wg.Done()
	defer close(s.done)

	for {
		env, err := s.transport.ReadEnvelope(ctx)
		if err != nil {
			if ctx.Err() != nil || errors.Is(err, domain.ErrSessionClosed) {
				return
			}
			if errors.Is(err, domain.ErrDecode) {
				s.logger.Warn().Err(err).Msg("skipping malformed frame")
				continue
			}
			s.logger.Error().Err(err).Msg("channel read failed, stopping session reader")
			s.metrics.SetChannelConnected(string(s.id), false)
			return
		}
		s.dispatch(env)
	}
}

func (s *Session) dispatch(env Envelope) {
	s.metrics.RecordEventReceived(string(s.id), env.Event)

	s.mu.RLock()
	handler := s.handlers[env.Event]
	s.mu.RUnlock()

	if handler == nil {
		s.metrics.RecordEventDropped(string(s.id), env.Event)
		s.logger.Debug().Str("event", env.Event).Msg("no handler subscribed, dropping event")
		return
	}

	defer func() {
		if r := recover(); r != nil {
			s.logger.Error().Str("event", env.Event).Interface("panic", r).Msg("event handler panicked")
		}
	}()
	handler(env.Data)
}

func (s *Session) writeLoop(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case env := <-s.outbound:
			writeCtx, cancel := context.WithTimeout(ctx, s.cfg.WriteTimeout)
			err := s.transport.WriteEnvelope(writeCtx, env)
			cancel()
			if err != nil {
				if ctx.Err() != nil {
					return
				}
				s.metrics.RecordSendFailure(string(s.id), "transport")
				s.logger.Error().Err(err).Str("event", env.Event).Msg("failed to write event")
				continue
			}
			s.metrics.RecordEventSent(string(s.id), env.Event)
			s.logger.Debug().Str("event", env.Event).Msg("event sent")
		}
	}
}
