package outbox

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/helixir/literature-console/internal/domain"
)

func TestNewEmitter(t *testing.T) {
	t.Run("uses default service name when empty", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{})
		assert.Equal(t, "literature-console", emitter.config.ServiceName)
	})

	t.Run("uses provided service name", func(t *testing.T) {
		emitter := NewEmitter(EmitterConfig{ServiceName: "custom-console"})
		assert.Equal(t, "custom-console", emitter.config.ServiceName)
	})
}

func TestEmitter_Emit(t *testing.T) {
	emitter := NewEmitter(EmitterConfig{ServiceName: "test-console"})

	t.Run("creates event with all fields", func(t *testing.T) {
		params := EmitParams{
			AggregateID:   "req-123",
			AggregateType: AggregateTypeRetriever,
			EventType:     domain.EventTypeSearchSettled,
			Payload: domain.SearchSettledPayload{
				RequestID: "req-123",
				Origin:    string(domain.OriginQuery),
				Outcome:   domain.OutcomeSuccess,
				ItemCount: 3,
				Page:      1,
			},
			CorrelationID: "corr-abc",
		}

		event, err := emitter.Emit(params)
		require.NoError(t, err)

		assert.NotEmpty(t, event.EventID)
		assert.Equal(t, 1, event.EventVersion)
		assert.Equal(t, "req-123", event.AggregateID)
		assert.Equal(t, AggregateTypeRetriever, event.AggregateType)
		assert.Equal(t, domain.EventTypeSearchSettled, event.EventType)
		assert.Equal(t, "test-console", event.Metadata["source"])
		assert.Equal(t, "corr-abc", event.Metadata["correlation_id"])

		var decoded domain.SearchSettledPayload
		require.NoError(t, json.Unmarshal(event.Payload, &decoded))
		assert.Equal(t, 3, decoded.ItemCount)
		assert.Equal(t, domain.OutcomeSuccess, decoded.Outcome)
	})

	t.Run("omits empty correlation id", func(t *testing.T) {
		event, err := emitter.Emit(EmitParams{
			AggregateID: "req-1",
			EventType:   domain.EventTypeClassificationSettled,
			Payload:     map[string]string{},
		})
		require.NoError(t, err)
		_, ok := event.Metadata["correlation_id"]
		assert.False(t, ok)
	})

	t.Run("returns error when aggregate_id is empty", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{EventType: domain.EventTypeSearchSettled})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "aggregate_id is required")
	})

	t.Run("returns error when event_type is empty", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{AggregateID: "req-1"})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "event_type is required")
	})

	t.Run("returns error when payload cannot be marshaled", func(t *testing.T) {
		_, err := emitter.Emit(EmitParams{
			AggregateID: "req-1",
			EventType:   domain.EventTypeSearchSettled,
			Payload:     make(chan int),
		})
		require.Error(t, err)
		assert.Contains(t, err.Error(), "marshal payload")
	})
}
