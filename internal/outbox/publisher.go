package outbox

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/observability"
)

// Sink stores or transmits an outbox event.
type Sink interface {
	Write(ctx context.Context, event *domain.OutboxEvent) error
}

// Publisher combines the Emitter and a Sink. All methods are safe on a nil
// *Publisher, which publishes nothing.
type Publisher struct {
	emitter *Emitter
	sink    Sink
	logger  zerolog.Logger
	metrics *observability.Metrics
}

// NewPublisher creates a new Publisher with the given emitter and sink.
func NewPublisher(emitter *Emitter, sink Sink, logger zerolog.Logger, metrics *observability.Metrics) *Publisher {
	return &Publisher{
		emitter: emitter,
		sink:    sink,
		logger:  logger.With().Str("component", "outbox").Logger(),
		metrics: metrics,
	}
}

// Publish emits an event and writes it to the sink.
func (p *Publisher) Publish(ctx context.Context, params EmitParams) error {
	if p == nil {
		return nil
	}

	event, err := p.emitter.Emit(params)
	if err != nil {
		return fmt.Errorf("emit event: %w", err)
	}

	if err := p.sink.Write(ctx, event); err != nil {
		p.metrics.RecordOutboxPublishFailed(params.EventType)
		return fmt.Errorf("publish event: %w", err)
	}

	p.metrics.RecordOutboxPublished(params.EventType)
	p.logger.Debug().
		Str("event_id", event.EventID).
		Str("event_type", event.EventType).
		Str("aggregate_id", event.AggregateID).
		Msg("outcome event published")
	return nil
}

// Emitter returns the underlying emitter.
func (p *Publisher) Emitter() *Emitter {
	if p == nil {
		return nil
	}
	return p.emitter
}
