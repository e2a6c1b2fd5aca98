// Package httpserver provides the HTTP API of the literature console: it
// exposes the classifier and retriever panels as request endpoints, state
// snapshots and server-sent event streams.
package httpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/panel"
)

// ClassifierPanel is the classifier surface served over HTTP.
type ClassifierPanel interface {
	ClassifyText(ctx context.Context, text string) (gate.Ticket, error)
	ClassifyJSON(ctx context.Context, r io.Reader) (gate.Ticket, error)
	ClassifyDataset(ctx context.Context, record domain.Record) (gate.Ticket, error)
	State() panel.ClassifierState
	Watch() (<-chan panel.ClassifierState, func())
}

// RetrieverPanel is the retriever surface served over HTTP.
type RetrieverPanel interface {
	Search(ctx context.Context, req panel.SearchRequest) (gate.Ticket, error)
	SelectPage(ctx context.Context, page int) (gate.Ticket, error)
	FilterByTitle(ctx context.Context, record domain.Record) (gate.Ticket, error)
	ImportOpenAlex(ctx context.Context, r io.Reader) (gate.Ticket, error)
	ImportRIS(ctx context.Context, r io.Reader) (gate.Ticket, error)
	ExportRIS(ctx context.Context, record domain.Record) error
	ExportJSON(record domain.Record) (conversion.Artifact, error)
	State() panel.RetrieverState
	Watch() (<-chan panel.RetrieverState, func())
}

// Channel reports the connection state of one service channel.
type Channel interface {
	ID() domain.ChannelID
	Connected() bool
}

// ArtifactStore releases materialized exports.
type ArtifactStore interface {
	Take(name string) (conversion.Artifact, error)
}

// Server is the HTTP API server.
type Server struct {
	router     chi.Router
	httpServer *http.Server
	classifier ClassifierPanel
	retriever  RetrieverPanel
	channels   []Channel
	artifacts  ArtifactStore
	validate   *validator.Validate
	logger     zerolog.Logger
	streamMax  time.Duration
}

// Config holds HTTP server configuration.
type Config struct {
	Address         string
	ReadTimeout     time.Duration
	WriteTimeout    time.Duration
	IdleTimeout     time.Duration
	ShutdownTimeout time.Duration
	// StreamMaxDuration bounds a state stream. Zero selects four hours.
	StreamMaxDuration time.Duration
}

// Deps holds the collaborators of the server.
type Deps struct {
	Classifier ClassifierPanel
	Retriever  RetrieverPanel
	// Channels are checked by the readiness endpoint.
	Channels  []Channel
	Artifacts ArtifactStore
	Logger    zerolog.Logger
}

// NewServer creates a new HTTP server with all dependencies.
func NewServer(cfg Config, deps Deps) *Server {
	s := &Server{
		classifier: deps.Classifier,
		retriever:  deps.Retriever,
		channels:   deps.Channels,
		artifacts:  deps.Artifacts,
		validate:   validator.New(),
		logger:     deps.Logger.With().Str("component", "http-server").Logger(),
		streamMax:  cfg.StreamMaxDuration,
	}
	if s.streamMax <= 0 {
		s.streamMax = sseMaxDuration
	}
	s.validate.RegisterTagNameFunc(jsonTagName)

	s.router = s.buildRouter()

	s.httpServer = &http.Server{
		Addr:         cfg.Address,
		Handler:      s.router,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	return s
}

// buildRouter creates the chi router with all middleware and routes.
func (s *Server) buildRouter() chi.Router {
	r := chi.NewRouter()

	// Global middleware
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Recoverer)
	r.Use(correlationIDMiddleware)
	r.Use(requestLogger(s.logger))
	r.Use(jsonContentTypeMiddleware)

	r.Get("/healthz", s.healthHandler)
	r.Get("/readyz", s.readinessHandler)

	r.Route("/api/v1", func(r chi.Router) {
		r.Route("/classifier", func(r chi.Router) {
			r.Use(panelMiddleware(panel.NameClassifier))
			r.Post("/classifications", s.classifyText)
			r.Post("/documents", s.classifyDocument)
			r.Post("/datasets/records", s.classifyDatasetRecord)
			r.Get("/state", s.classifierState)
			r.Get("/stream", s.streamClassifier)
		})

		r.Route("/retriever", func(r chi.Router) {
			r.Use(panelMiddleware(panel.NameRetriever))
			r.Post("/searches", s.search)
			r.Post("/pages/{page}", s.selectPage)
			r.Post("/filters/title", s.filterByTitle)
			r.Post("/imports/openalex", s.importOpenAlex)
			r.Post("/imports/ris", s.importRIS)
			r.Post("/exports/ris", s.exportRIS)
			r.Post("/exports/json", s.exportJSON)
			r.Get("/artifacts/{name}", s.downloadArtifact)
			r.Get("/state", s.retrieverState)
			r.Get("/stream", s.streamRetriever)
		})
	})

	return r
}

// Handler returns the root handler of the server.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start starts the HTTP server.
func (s *Server) Start() error {
	s.logger.Info().Str("address", s.httpServer.Addr).Msg("HTTP server starting")
	ln, err := net.Listen("tcp", s.httpServer.Addr)
	if err != nil {
		return fmt.Errorf("listen on HTTP address: %w", err)
	}
	return s.httpServer.Serve(ln)
}

// Shutdown gracefully shuts down the HTTP server.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

// healthHandler returns basic liveness status.
func (s *Server) healthHandler(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

// readinessHandler reports ready once every service channel is connected.
func (s *Server) readinessHandler(w http.ResponseWriter, _ *http.Request) {
	status := make(map[string]string, len(s.channels)+1)
	ready := true
	for _, ch := range s.channels {
		if ch.Connected() {
			status[string(ch.ID())] = "connected"
			continue
		}
		status[string(ch.ID())] = "disconnected"
		ready = false
	}

	if !ready {
		status["status"] = "not_ready"
		writeJSON(w, http.StatusServiceUnavailable, status)
		return
	}
	status["status"] = "ready"
	writeJSON(w, http.StatusOK, status)
}

// writeJSON writes a JSON response with the given status code.
func writeJSON(w http.ResponseWriter, statusCode int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		// Best-effort log; headers already sent.
		_ = err
	}
}

// writeError writes a JSON error response.
func writeError(w http.ResponseWriter, statusCode int, message string) {
	writeJSON(w, statusCode, map[string]string{
		"error": message,
	})
}
