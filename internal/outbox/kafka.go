package outbox

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/observability"
)

// Config holds configuration for the Kafka writer.
type Config struct {
	// Brokers is the list of Kafka broker addresses.
	Brokers []string
	// Topic is the Kafka topic for outcome events.
	Topic string
	// BatchSize is the maximum number of messages per batch.
	BatchSize int
	// BatchTimeout is how long to wait for a batch to fill.
	BatchTimeout time.Duration
}

// MessageWriter is the subset of *kafka.Writer used by KafkaSink.
type MessageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// NewKafkaWriter creates an asynchronous writer: WriteMessages returns at
// once and delivery failures are logged and counted on completion.
func NewKafkaWriter(cfg Config, logger zerolog.Logger, metrics *observability.Metrics) *kafka.Writer {
	log := logger.With().Str("component", "kafka_writer").Logger()
	return &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		BatchSize:    cfg.BatchSize,
		BatchTimeout: cfg.BatchTimeout,
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		Completion: func(messages []kafka.Message, err error) {
			if err == nil {
				return
			}
			for _, m := range messages {
				eventType := headerValue(m.Headers, "event_type")
				metrics.RecordOutboxPublishFailed(eventType)
				log.Error().Err(err).
					Str("event_type", eventType).
					Str("aggregate_id", string(m.Key)).
					Msg("failed to deliver outcome event")
			}
		},
	}
}

// KafkaSink writes outbox events to Kafka, keyed by aggregate ID.
type KafkaSink struct {
	writer MessageWriter
}

// NewKafkaSink creates a sink over writer.
func NewKafkaSink(writer MessageWriter) *KafkaSink {
	return &KafkaSink{writer: writer}
}

// Write encodes event and hands it to the writer.
func (s *KafkaSink) Write(ctx context.Context, event *domain.OutboxEvent) error {
	value, err := json.Marshal(event)
	if err != nil {
		return fmt.Errorf("encode event: %w", err)
	}

	msg := kafka.Message{
		Key:   []byte(event.AggregateID),
		Value: value,
		Headers: []kafka.Header{
			{Key: "event_type", Value: []byte(event.EventType)},
			{Key: "event_id", Value: []byte(event.EventID)},
		},
		Time: event.CreatedAt,
	}
	if err := s.writer.WriteMessages(ctx, msg); err != nil {
		return fmt.Errorf("write message: %w", err)
	}
	return nil
}

// Close flushes and closes the writer.
func (s *KafkaSink) Close() error {
	return s.writer.Close()
}

func headerValue(headers []kafka.Header, key string) string {
	for _, h := range headers {
		if h.Key == key {
			return string(h.Value)
		}
	}
	return ""
}
