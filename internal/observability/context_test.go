package observability

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequestIDContext(t *testing.T) {
	t.Run("stores and retrieves request ID", func(t *testing.T) {
		ctx := context.Background()
		ctx = WithRequestID(ctx, "req-123")

		result := RequestIDFromContext(ctx)
		assert.Equal(t, "req-123", result)
	})

	t.Run("returns empty string when not set", func(t *testing.T) {
		ctx := context.Background()
		result := RequestIDFromContext(ctx)
		assert.Equal(t, "", result)
	})
}

func TestCorrelationIDContext(t *testing.T) {
	t.Run("stores and retrieves correlation ID", func(t *testing.T) {
		ctx := WithCorrelationID(context.Background(), "corr-1")
		assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
	})

	t.Run("does not collide with request ID", func(t *testing.T) {
		ctx := WithRequestID(context.Background(), "req-1")
		ctx = WithCorrelationID(ctx, "corr-1")

		assert.Equal(t, "req-1", RequestIDFromContext(ctx))
		assert.Equal(t, "corr-1", CorrelationIDFromContext(ctx))
	})
}

func TestPanelContext(t *testing.T) {
	ctx := WithPanel(context.Background(), "retriever")
	assert.Equal(t, "retriever", PanelFromContext(ctx))
	assert.Equal(t, "", PanelFromContext(context.Background()))
}

func TestContextIgnoresForeignValueTypes(t *testing.T) {
	ctx := context.WithValue(context.Background(), requestIDKey, 42)
	assert.Equal(t, "", RequestIDFromContext(ctx))
}
