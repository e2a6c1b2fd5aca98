// Package outbox publishes the settled outcomes of the console panels to
// Kafka, so other services can follow what users classify and search.
//
// # Components
//
//   - Emitter: builds domain.OutboxEvent values enriched with the console's
//     service name and correlation metadata
//   - KafkaSink: writes events to a Kafka topic through a kafka-go Writer
//   - Publisher: combines both; a nil *Publisher publishes nothing
//
// # Event Types
//
//   - classification.settled: a classifier request reached a terminal outcome
//   - search.settled: a search, page, title filter or import reached a
//     terminal outcome
//   - export.materialized: a RIS export is ready for download
//
// # Usage
//
//	writer := outbox.NewKafkaWriter(cfg, logger, metrics)
//	publisher := outbox.NewPublisher(
//	    outbox.NewEmitter(outbox.EmitterConfig{ServiceName: "literature-console"}),
//	    outbox.NewKafkaSink(writer),
//	    logger, metrics,
//	)
//	err := publisher.Publish(ctx, outbox.EmitParams{
//	    AggregateID:   ticket.RequestID,
//	    AggregateType: outbox.AggregateTypeRetriever,
//	    EventType:     domain.EventTypeSearchSettled,
//	    Payload:       payload,
//	})
package outbox
