package panel

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/demux"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/gate"
	"github.com/helixir/literature-console/internal/observability"
	"github.com/helixir/literature-console/internal/outbox"
	"github.com/helixir/literature-console/internal/pagination"
	"github.com/helixir/literature-console/internal/results"
)

// Retriever operations, as named in logs, metrics and tickets.
const (
	OperationSearch      = "search"
	OperationFilterTitle = "filter_title"
	OperationExportRIS   = "export_ris"
)

// importFailurePrefix marks errors reported on the legacy import error event.
const importFailurePrefix = "Import failed: "

// RetrieverConfig tunes a RetrieverPanel.
type RetrieverConfig struct {
	// GateTimeout settles a request that got no answer. Zero disables it.
	GateTimeout time.Duration
	// Pages is the size of the page window. Zero selects the default.
	Pages int
	// MaxDocumentBytes bounds an imported document.
	MaxDocumentBytes int64
	// ExportLimiter bounds RIS exports. Nil disables limiting.
	ExportLimiter *conversion.RateLimiter
	// Artifacts receives materialized RIS exports.
	Artifacts conversion.ArtifactSink
}

// SearchRequest is a free-text query.
type SearchRequest struct {
	Query  string `json:"query" validate:"required,max=2000"`
	Sort   string `json:"sort,omitempty" validate:"omitempty,max=64"`
	Offset *int   `json:"offset,omitempty" validate:"omitempty,min=0"`
}

// searchQueryPayload is the body of search_query.
type searchQueryPayload struct {
	Query  string `json:"query"`
	Sort   string `json:"sort,omitempty"`
	Offset *int   `json:"offset,omitempty"`
}

// ArtifactInfo describes the last materialized export.
type ArtifactInfo struct {
	Name      string    `json:"name"`
	Bytes     int       `json:"bytes"`
	CreatedAt time.Time `json:"created_at"`
}

// RetrieverState is a snapshot of the retriever panel.
//
// Items is nil while the outcome is pending or failed, and a possibly
// empty list after a successful result.
type RetrieverState struct {
	Outcome        domain.OutcomeStatus `json:"outcome"`
	Loading        bool                 `json:"loading"`
	Gate           string               `json:"gate"`
	RequestID      string               `json:"request_id,omitempty"`
	Operation      string               `json:"operation,omitempty"`
	Origin         domain.SearchOrigin  `json:"origin,omitempty"`
	Query          string               `json:"query,omitempty"`
	Items          []domain.Record      `json:"items"`
	Error          string               `json:"error,omitempty"`
	Page           int                  `json:"page"`
	Pages          []pagination.Page    `json:"pages"`
	PendingExports int                  `json:"pending_exports"`
	LastArtifact   *ArtifactInfo        `json:"last_artifact,omitempty"`
	UpdatedAt      time.Time            `json:"updated_at"`
}

// RetrieverPanel correlates search, pagination, import and export
// requests with the retriever's answers.
type RetrieverPanel struct {
	session  Session
	gate     *gate.Gate
	demux    *demux.Demux
	cursor   *pagination.Controller
	importer *conversion.Importer
	exporter *conversion.Exporter

	deps   Deps
	logger zerolog.Logger

	mu    sync.Mutex
	state RetrieverState
	meta  requestMeta
	hub   *hub[RetrieverState]
}

// NewRetrieverPanel creates an unmounted retriever panel over session.
func NewRetrieverPanel(session Session, cfg RetrieverConfig, deps Deps) *RetrieverPanel {
	p := &RetrieverPanel{
		session: session,
		deps:    deps,
		logger:  deps.Logger.With().Str("component", "panel").Str("panel", NameRetriever).Logger(),
		hub:     newHub[RetrieverState](),
	}
	p.gate = gate.New(gate.WithTimeout(cfg.GateTimeout, p.onTimeout))
	p.cursor = pagination.New(p.gate, session, pagination.WithPages(cfg.Pages))
	p.importer = conversion.NewImporter(session, p.gate, cfg.MaxDocumentBytes, deps.Logger)

	artifacts := cfg.Artifacts
	if artifacts == nil {
		artifacts = conversion.NewMemoryStore()
	}
	p.exporter = conversion.NewExporter(session, cfg.ExportLimiter, artifacts, deps.Logger, deps.Metrics)

	p.state = RetrieverState{
		Outcome:   domain.OutcomePending,
		UpdatedAt: deps.now(),
	}

	p.demux = demux.New(session, p.gate, []demux.Route{
		{
			Event:   domain.EventSearchResults,
			Kind:    demux.Success,
			Handle:  p.onResults,
			Settles: results.HasResults,
		},
		{Event: domain.EventSearchError, Kind: demux.Failure, Handle: p.onError},
		{Event: domain.EventLegacyJSONImportError, Kind: demux.Failure, Handle: p.onImportError},
		{Event: domain.EventConversionRISResults, Kind: demux.Artifact, Handle: p.onRISResult},
	}, p.logger)

	return p
}

// Mount subscribes the panel's routes on its session.
func (p *RetrieverPanel) Mount() {
	p.demux.Mount()
}

// Unmount unsubscribes the panel's routes. Results arriving afterwards are
// dropped, so a request still in flight is abandoned: the gate is released
// and the outcome stays pending. It is safe to call repeatedly.
func (p *RetrieverPanel) Unmount() {
	p.demux.Unmount()

	p.mu.Lock()
	defer p.mu.Unlock()
	if ticket, ok := p.gate.Complete(); ok {
		p.publishLocked()
		log := observability.WithRequestContext(p.logger, ticket.RequestID, NameRetriever, ticket.Operation)
		log.Debug().Msg("request abandoned on unmount")
	}
}

// Mounted reports whether the panel's routes are subscribed.
func (p *RetrieverPanel) Mounted() bool {
	return p.demux.Mounted()
}

// Search sends a free-text query. The page cursor is left where it is.
func (p *RetrieverPanel) Search(ctx context.Context, req SearchRequest) (gate.Ticket, error) {
	query := strings.TrimSpace(req.Query)
	if query == "" {
		p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, OperationSearch)
		return gate.Ticket{}, domain.NewValidationError("query", "query is required")
	}
	if req.Offset != nil && *req.Offset < 0 {
		p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, OperationSearch)
		return gate.Ticket{}, domain.NewValidationError("offset", "must not be negative")
	}

	body, err := json.Marshal(searchQueryPayload{Query: query, Sort: req.Sort, Offset: req.Offset})
	if err != nil {
		return gate.Ticket{}, fmt.Errorf("encode search query: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx, OperationSearch, domain.OriginQuery, query, string(body))
}

// FilterByTitle searches for the title of record from the first offset.
func (p *RetrieverPanel) FilterByTitle(ctx context.Context, record domain.Record) (gate.Ticket, error) {
	title := strings.TrimSpace(record.FilterTitle())
	if title == "" {
		p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, OperationFilterTitle)
		return gate.Ticket{}, domain.NewValidationError("record", "record has no title")
	}

	offset := 0
	body, err := json.Marshal(searchQueryPayload{Query: title, Offset: &offset})
	if err != nil {
		return gate.Ticket{}, fmt.Errorf("encode search query: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx, OperationFilterTitle, domain.OriginTitleFilter, title, string(body))
}

// SelectPage moves the cursor to page and requests its offset.
func (p *RetrieverPanel) SelectPage(ctx context.Context, page int) (gate.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, err := p.cursor.SelectPage(page)
	switch {
	case err == nil:
	case errors.Is(err, domain.ErrRequestInFlight):
		p.deps.Metrics.RecordRequestRejected(NameRetriever, pagination.OperationSelectPage)
		return gate.Ticket{}, err
	case errors.Is(err, domain.ErrInvalidInput):
		p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, pagination.OperationSelectPage)
		return gate.Ticket{}, err
	default:
		p.sendFailedLocked(pagination.OperationSelectPage, err)
		return gate.Ticket{}, err
	}

	p.beginLocked(ctx, ticket, domain.OriginPage, p.state.Query)
	return ticket, nil
}

// ImportOpenAlex sends a local OpenAlex JSON document for conversion. A
// malformed document is reported in the panel state as a local error;
// nothing is sent and the gate stays unlatched.
func (p *RetrieverPanel) ImportOpenAlex(ctx context.Context, r io.Reader) (gate.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, err := p.importer.ImportOpenAlex(r)
	return p.importedLocked(ctx, ticket, err, conversion.OperationImportOpenAlex, domain.OriginImportOpenAlex)
}

// ImportRIS sends a local RIS document for conversion.
func (p *RetrieverPanel) ImportRIS(ctx context.Context, r io.Reader) (gate.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, err := p.importer.ImportRIS(r)
	return p.importedLocked(ctx, ticket, err, conversion.OperationImportRIS, domain.OriginImportRIS)
}

// ExportRIS asks the retriever to convert record to RIS. The export does
// not use the request gate and has no error event; the result becomes a
// publication.ris artifact.
func (p *RetrieverPanel) ExportRIS(ctx context.Context, record domain.Record) error {
	if err := p.exporter.ExportRIS(record); err != nil {
		if errors.Is(err, domain.ErrInvalidInput) {
			p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, OperationExportRIS)
		}
		return err
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	p.state.PendingExports++
	p.publishLocked()
	log := observability.WithHTTPContext(ctx, p.logger)
	log.Debug().Str("doi", record.DOI()).Msg("RIS export requested")
	return nil
}

// ExportJSON renders record as a downloadable JSON document.
func (p *RetrieverPanel) ExportJSON(record domain.Record) (conversion.Artifact, error) {
	return p.exporter.ExportJSON(record)
}

// State returns the current snapshot.
func (p *RetrieverPanel) State() RetrieverState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Watch returns a channel receiving the current snapshot and every later
// one, and a function that stops the watch and closes the channel.
func (p *RetrieverPanel) Watch() (<-chan RetrieverState, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hub.watch(p.snapshotLocked())
}

func (p *RetrieverPanel) startLocked(ctx context.Context, operation string, origin domain.SearchOrigin, query, payload string) (gate.Ticket, error) {
	ticket, ok := p.gate.TryStart(operation)
	if !ok {
		p.deps.Metrics.RecordRequestRejected(NameRetriever, operation)
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	if err := p.session.Send(domain.EventSearchQuery, payload); err != nil {
		p.gate.Complete()
		p.sendFailedLocked(operation, err)
		return gate.Ticket{}, fmt.Errorf("send %s: %w", domain.EventSearchQuery, err)
	}

	p.beginLocked(ctx, ticket, origin, query)
	return ticket, nil
}

func (p *RetrieverPanel) importedLocked(ctx context.Context, ticket gate.Ticket, err error, operation string, origin domain.SearchOrigin) (gate.Ticket, error) {
	var vErr *domain.ValidationError
	switch {
	case err == nil:
		p.beginLocked(ctx, ticket, origin, "")
		return ticket, nil
	case errors.Is(err, domain.ErrRequestInFlight):
		p.deps.Metrics.RecordRequestRejected(NameRetriever, operation)
	case errors.As(err, &vErr):
		p.deps.Metrics.RecordLocalValidationFailure(NameRetriever, operation)
		p.logger.Debug().Err(err).Str("operation", operation).Msg("rejecting local document")
		p.state.Outcome = domain.OutcomeFailure
		p.state.RequestID = ""
		p.state.Operation = operation
		p.state.Origin = origin
		p.state.Items = nil
		p.state.Error = vErr.Message
		p.publishLocked()
	default:
		p.sendFailedLocked(operation, err)
	}
	return gate.Ticket{}, err
}

func (p *RetrieverPanel) beginLocked(ctx context.Context, ticket gate.Ticket, origin domain.SearchOrigin, query string) {
	p.meta = metaFromContext(ctx)
	p.state.Outcome = domain.OutcomePending
	p.state.RequestID = ticket.RequestID
	p.state.Operation = ticket.Operation
	p.state.Origin = origin
	p.state.Query = query
	p.state.Items = nil
	p.state.Error = ""

	p.deps.Metrics.RecordRequestStarted(NameRetriever, ticket.Operation)
	p.publishLocked()
	log := observability.WithRequestContext(p.logger, ticket.RequestID, NameRetriever, ticket.Operation)
	log.Debug().Str("origin", string(origin)).Msg("retriever request sent")
}

func (p *RetrieverPanel) sendFailedLocked(operation string, err error) {
	p.state.Outcome = domain.OutcomeFailure
	p.state.RequestID = ""
	p.state.Operation = operation
	p.state.Items = nil
	p.state.Error = err.Error()
	p.publishLocked()
	p.logger.Warn().Err(err).Str("operation", operation).Msg("failed to send retriever request")
}

func (p *RetrieverPanel) onResults(d demux.Delivery) {
	records, err := results.DecodeRecords(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	if errors.Is(err, domain.ErrNoResults) {
		log := p.deliveryLogger(d.Event, gate.Ticket{}, false)
		log.Debug().Msg("search_results without results, waiting for search_error")
		return
	}

	ticket, settled := d.Settle()
	log := p.deliveryLogger(d.Event, ticket, settled)
	if err != nil {
		log.Warn().Err(err).Msg("undecodable search results")
		p.failLocked(ticket, settled, fmt.Sprintf("invalid search results: %v", err))
		return
	}

	p.deps.Metrics.RecordSearchItems(len(records))
	p.state.Outcome = domain.OutcomeSuccess
	p.state.Items = records
	p.state.Error = ""
	p.settleLocked(ticket, settled)
	log.Info().Int("items", len(records)).Msg("search settled")
}

func (p *RetrieverPanel) onError(d demux.Delivery) {
	msg := results.DecodeErrorMessage(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, settled := d.Settle()
	log := p.deliveryLogger(d.Event, ticket, settled)
	log.Warn().Str("error", msg).Msg("retriever reported an error")
	p.failLocked(ticket, settled, msg)
}

func (p *RetrieverPanel) onImportError(d demux.Delivery) {
	msg := results.DecodeErrorMessage(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, settled := d.Settle()
	log := p.deliveryLogger(d.Event, ticket, settled)
	log.Warn().Str("error", msg).Msg("retriever reported an import error")
	p.failLocked(ticket, settled, importFailurePrefix+msg)
}

func (p *RetrieverPanel) onRISResult(d demux.Delivery) {
	artifact, err := p.exporter.HandleRISResult(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.state.PendingExports > 0 {
		p.state.PendingExports--
	}
	if err != nil {
		log := p.deliveryLogger(d.Event, gate.Ticket{}, false)
		log.Warn().Err(err).Msg("failed to materialize RIS export")
		p.publishLocked()
		return
	}

	p.state.LastArtifact = &ArtifactInfo{
		Name:      artifact.Name,
		Bytes:     len(artifact.Data),
		CreatedAt: artifact.CreatedAt,
	}
	p.publishLocked()

	ctx, cancel := publishContext()
	defer cancel()
	if err := p.deps.Publisher.Publish(ctx, outbox.EmitParams{
		AggregateID:   artifact.Name,
		AggregateType: outbox.AggregateTypeRetriever,
		EventType:     domain.EventTypeExportMaterialized,
		Payload: domain.ExportMaterializedPayload{
			Name:   artifact.Name,
			Format: "ris",
			Bytes:  len(artifact.Data),
		},
	}); err != nil {
		p.logger.Warn().Err(err).Msg("failed to publish export outcome")
	}
}

func (p *RetrieverPanel) onTimeout(ticket gate.Ticket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.gate.Expire(ticket) {
		return
	}
	p.deps.Metrics.RecordRequestTimedOut(NameRetriever)
	log := observability.WithRequestContext(p.logger, ticket.RequestID, NameRetriever, ticket.Operation)
	log.Warn().Msg("retriever request timed out")
	p.failLocked(ticket, true, domain.ErrTimeout.Error())
}

func (p *RetrieverPanel) failLocked(ticket gate.Ticket, settled bool, msg string) {
	p.state.Outcome = domain.OutcomeFailure
	p.state.Items = nil
	p.state.Error = msg
	p.settleLocked(ticket, settled)
}

func (p *RetrieverPanel) settleLocked(ticket gate.Ticket, settled bool) {
	p.publishLocked()
	if !settled {
		return
	}

	duration := p.deps.now().Sub(ticket.StartedAt)
	p.deps.Metrics.RecordRequestSettled(NameRetriever, string(p.state.Outcome), duration.Seconds())

	ctx, cancel := publishContext()
	defer cancel()
	if err := p.deps.Publisher.Publish(ctx, outbox.EmitParams{
		AggregateID:   ticket.RequestID,
		AggregateType: outbox.AggregateTypeRetriever,
		EventType:     domain.EventTypeSearchSettled,
		Payload: domain.SearchSettledPayload{
			RequestID:  ticket.RequestID,
			Origin:     string(p.state.Origin),
			Outcome:    p.state.Outcome,
			ItemCount:  len(p.state.Items),
			Page:       p.cursor.Current(),
			Error:      p.state.Error,
			DurationMS: duration.Milliseconds(),
		},
		CorrelationID: p.meta.correlationID,
	}); err != nil {
		p.logger.Warn().Err(err).Str("request_id", ticket.RequestID).Msg("failed to publish search outcome")
	}
}

func (p *RetrieverPanel) deliveryLogger(event string, ticket gate.Ticket, settled bool) zerolog.Logger {
	log := observability.WithEventContext(p.logger, NameRetriever, event)
	if settled {
		log = log.With().Str("request_id", ticket.RequestID).Logger()
	}
	return log
}

func (p *RetrieverPanel) publishLocked() {
	p.state.UpdatedAt = p.deps.now()
	p.hub.publish(p.snapshotLocked())
}

func (p *RetrieverPanel) snapshotLocked() RetrieverState {
	s := p.state
	s.Gate = p.gate.State().String()
	s.Loading = s.Gate == gate.InFlight.String()
	s.Page = p.cursor.Current()
	s.Pages = p.cursor.Pages()
	if s.Items != nil {
		s.Items = make([]domain.Record, len(p.state.Items))
		copy(s.Items, p.state.Items)
	}
	if s.LastArtifact != nil {
		info := *s.LastArtifact
		s.LastArtifact = &info
	}
	return s
}
