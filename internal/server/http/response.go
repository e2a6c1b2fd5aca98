package httpserver

import (
	"time"

	"github.com/helixir/literature-console/internal/gate"
)

// Request and response types for JSON serialization.

type classifyTextRequest struct {
	Text string `json:"text" validate:"required,max=100000"`
}

type searchRequest struct {
	Query  string `json:"query" validate:"required,max=2000"`
	Sort   string `json:"sort,omitempty" validate:"omitempty,max=64"`
	Offset *int   `json:"offset,omitempty" validate:"omitempty,min=0"`
}

type requestAcceptedResponse struct {
	RequestID string    `json:"request_id"`
	Operation string    `json:"operation"`
	StartedAt time.Time `json:"started_at"`
	Message   string    `json:"message"`
}

type exportAcceptedResponse struct {
	Artifact string `json:"artifact"`
	Message  string `json:"message"`
}

// Converter functions

func ticketToResponse(t gate.Ticket, message string) requestAcceptedResponse {
	return requestAcceptedResponse{
		RequestID: t.RequestID,
		Operation: t.Operation,
		StartedAt: t.StartedAt,
		Message:   message,
	}
}
