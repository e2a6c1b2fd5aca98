// Package channel implements long-lived, event-named sessions with the
// classifier and retriever services.
package channel

import (
	"context"
	"encoding/json"
)

// Envelope is one named event on a channel. On the wire it is the JSON text
// frame {"event": "<name>", "data": <payload>}.
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data"`
}

// Transport moves envelopes between this process and a service.
// ReadEnvelope blocks until an envelope arrives, the context is done or the
// transport is closed. Implementations must allow one concurrent reader and
// one concurrent writer.
type Transport interface {
	ReadEnvelope(ctx context.Context) (Envelope, error)
	WriteEnvelope(ctx context.Context, env Envelope) error
	Close() error
}

// Handler processes the payload of one inbound event.
type Handler func(payload json.RawMessage)
