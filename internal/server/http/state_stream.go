package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/rs/zerolog"
)

const (
	// sseMaxDuration is the default maximum time an SSE stream may remain open.
	sseMaxDuration = 4 * time.Hour
	// sseHeartbeatInterval keeps idle streams alive through proxies.
	sseHeartbeatInterval = 30 * time.Second
)

// SSE event types.
const (
	sseEventSnapshot = "snapshot"
	sseEventTimeout  = "timeout"
)

// streamClassifier handles GET /classifier/stream (SSE).
func (s *Server) streamClassifier(w http.ResponseWriter, r *http.Request) {
	snapshots, cancel := s.classifier.Watch()
	defer cancel()
	streamSnapshots(r.Context(), w, snapshots, s.streamMax, s.logger)
}

// streamRetriever handles GET /retriever/stream (SSE).
func (s *Server) streamRetriever(w http.ResponseWriter, r *http.Request) {
	snapshots, cancel := s.retriever.Watch()
	defer cancel()
	streamSnapshots(r.Context(), w, snapshots, s.streamMax, s.logger)
}

// streamSnapshots writes every panel snapshot as an SSE event until the
// client goes away, the watch is cancelled or maxDuration elapses. A slow
// client only sees the latest snapshot.
func streamSnapshots[T any](ctx context.Context, w http.ResponseWriter, snapshots <-chan T, maxDuration time.Duration, logger zerolog.Logger) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	// Set SSE headers.
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	// Streams outlive the server write timeout.
	_ = http.NewResponseController(w).SetWriteDeadline(time.Time{})

	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	deadlineTimer := time.NewTimer(maxDuration)
	defer deadlineTimer.Stop()
	heartbeat := time.NewTicker(sseHeartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-ctx.Done():
			return

		case <-deadlineTimer.C:
			sendSSEEvent(w, flusher, sseEventTimeout, map[string]string{"message": "stream max duration exceeded"}, logger)
			return

		case <-heartbeat.C:
			fmt.Fprint(w, ": keep-alive\n\n")
			flusher.Flush()

		case snapshot, open := <-snapshots:
			if !open {
				return
			}
			sendSSEEvent(w, flusher, sseEventSnapshot, snapshot, logger)
		}
	}
}

// sendSSEEvent writes a single SSE event to the response writer.
func sendSSEEvent(w http.ResponseWriter, flusher http.Flusher, eventType string, v interface{}, logger zerolog.Logger) {
	data, err := json.Marshal(v)
	if err != nil {
		logger.Warn().Err(err).Str("event_type", eventType).Msg("failed to encode SSE event")
		return
	}
	fmt.Fprintf(w, "event: %s\ndata: %s\n\n", eventType, data)
	flusher.Flush()
}
