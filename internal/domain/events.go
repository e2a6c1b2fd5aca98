package domain

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// ChannelID names one of the two long-lived service channels.
type ChannelID string

const (
	ChannelClassifier ChannelID = "classifier"
	ChannelRetriever  ChannelID = "retriever"
)

// Outbound event names on the classifier channel.
const (
	EventTextClassification       = "text_classification"
	EventJSONClassification       = "json_classification"
	EventLegacyTextClassification = "classification"

	// EventDatasetClassification classifies one bibliographic record of a
	// dataset being labelled.
	EventDatasetClassification = "dataset_classification"
)

// Inbound event names on the classifier channel.
const (
	EventTextClassificationResults    = "text_classification_results"
	EventJSONClassificationResults    = "json_classification_results"
	EventLegacyClassificationResults  = "classification_results"
	EventDatasetClassificationResults = "dataset_classification_results"
	EventClassificationError          = "classification_error"
)

// Outbound event names on the retriever channel.
const (
	EventSearchQuery         = "search_query"
	EventSearchQueryCursor   = "search_query_cursor"
	EventConvertFromOpenAlex = "convert_from_openalex"
	EventConvertFromRIS      = "convert_from_ris"
	EventConvertToRIS        = "convert_from_crossref_style_to_ris"
)

// Inbound event names on the retriever channel.
const (
	EventSearchResults        = "search_results"
	EventSearchError          = "search_error"
	EventConversionRISResults = "conversion_ris_results"
	// EventLegacyJSONImportError is still emitted by older retriever builds
	// when an OpenAlex import fails.
	EventLegacyJSONImportError = "json_classification_error"
)

// Event type constants for outbox events.
const (
	EventTypeClassificationSettled = "classification.settled"
	EventTypeSearchSettled         = "search.settled"
	EventTypeExportMaterialized    = "export.materialized"
)

// OutboxEvent represents an event published to Kafka when a panel settles.
type OutboxEvent struct {
	EventID       string            `json:"event_id"`
	EventVersion  int               `json:"event_version"`
	AggregateID   string            `json:"aggregate_id"`
	AggregateType string            `json:"aggregate_type"`
	EventType     string            `json:"event_type"`
	Payload       json.RawMessage   `json:"payload"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
}

// NewOutboxEvent creates a new outbox event with the given parameters.
// The payload is JSON-serialized automatically.
func NewOutboxEvent(eventType, aggregateID, aggregateType string, payload interface{}) (*OutboxEvent, error) {
	payloadBytes, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}

	return &OutboxEvent{
		EventID:       uuid.New().String(),
		EventVersion:  1,
		AggregateID:   aggregateID,
		AggregateType: aggregateType,
		EventType:     eventType,
		Payload:       payloadBytes,
		CreatedAt:     time.Now(),
	}, nil
}

// WithMetadata sets the metadata on the event.
func (e *OutboxEvent) WithMetadata(metadata map[string]string) *OutboxEvent {
	e.Metadata = metadata
	return e
}

// ClassificationSettledPayload is the payload for classification.settled events.
type ClassificationSettledPayload struct {
	RequestID  string              `json:"request_id"`
	DOI        string              `json:"doi,omitempty"`
	Outcome    OutcomeStatus       `json:"outcome"`
	Categories map[string][]string `json:"categories,omitempty"`
	Error      string              `json:"error,omitempty"`
	DurationMS int64               `json:"duration_ms"`
}

// SearchSettledPayload is the payload for search.settled events.
type SearchSettledPayload struct {
	RequestID  string        `json:"request_id"`
	Origin     string        `json:"origin"`
	Outcome    OutcomeStatus `json:"outcome"`
	ItemCount  int           `json:"item_count"`
	Page       int           `json:"page"`
	Error      string        `json:"error,omitempty"`
	DurationMS int64         `json:"duration_ms"`
}

// ExportMaterializedPayload is the payload for export.materialized events.
type ExportMaterializedPayload struct {
	Name   string `json:"name"`
	Format string `json:"format"`
	Bytes  int    `json:"bytes"`
}
