package outbox

import (
	"fmt"

	"github.com/helixir/literature-console/internal/domain"
)

const (
	// AggregateTypeClassifier is the aggregate type of classifier panel events.
	AggregateTypeClassifier = "classifier_panel"

	// AggregateTypeRetriever is the aggregate type of retriever panel events.
	AggregateTypeRetriever = "retriever_panel"

	defaultServiceName = "literature-console"
)

// EmitterConfig configures the Emitter with service context.
type EmitterConfig struct {
	// ServiceName identifies the source service.
	ServiceName string
}

// EmitParams contains the parameters for emitting an event.
type EmitParams struct {
	// AggregateID is the local request ID of the settled cycle, or the
	// artifact name for exports.
	AggregateID string
	// AggregateType is one of the AggregateType constants.
	AggregateType string
	// EventType is the type of event (e.g., "search.settled").
	EventType string
	// Payload is the event payload that will be JSON-serialized.
	Payload interface{}
	// CorrelationID of the HTTP request that started the cycle (optional).
	CorrelationID string
}

// Emitter creates outbox events enriched with console context.
type Emitter struct {
	config EmitterConfig
}

// NewEmitter creates a new Emitter with the given service configuration.
func NewEmitter(config EmitterConfig) *Emitter {
	if config.ServiceName == "" {
		config.ServiceName = defaultServiceName
	}
	return &Emitter{config: config}
}

// Emit creates an outbox event from the given parameters.
func (e *Emitter) Emit(params EmitParams) (*domain.OutboxEvent, error) {
	if params.AggregateID == "" {
		return nil, fmt.Errorf("aggregate_id is required")
	}
	if params.EventType == "" {
		return nil, fmt.Errorf("event_type is required")
	}

	event, err := domain.NewOutboxEvent(params.EventType, params.AggregateID, params.AggregateType, params.Payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	metadata := map[string]string{"source": e.config.ServiceName}
	if params.CorrelationID != "" {
		metadata["correlation_id"] = params.CorrelationID
	}
	return event.WithMetadata(metadata), nil
}
