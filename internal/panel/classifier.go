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
	"github.com/helixir/literature-console/internal/results"
)

// Classifier operations, as named in logs, metrics and tickets.
const (
	OperationClassifyText    = "classify_text"
	OperationClassifyJSON    = "classify_json"
	OperationClassifyDataset = "classify_dataset"
)

// ClassifierConfig tunes a ClassifierPanel.
type ClassifierConfig struct {
	// Categories is the ordered category set to decode. Empty selects
	// domain.DefaultCategories.
	Categories []domain.Category
	// TextEvent is the outbound event of text classification. Empty
	// selects text_classification.
	TextEvent string
	// GateTimeout settles a request that got no answer. Zero disables it.
	GateTimeout time.Duration
	// MaxDocumentBytes bounds a JSON document. Zero selects the
	// conversion default.
	MaxDocumentBytes int64
}

// ClassifierState is a snapshot of the classifier panel.
//
// Categories is nil while the outcome is pending or failed. After a
// successful result every configured category is present, with an empty
// Values list when nothing matched. DOI is the record a dataset
// classification was asked for, replaced by the DOI a result echoes.
type ClassifierState struct {
	Outcome    domain.OutcomeStatus    `json:"outcome"`
	Loading    bool                    `json:"loading"`
	Gate       string                  `json:"gate"`
	RequestID  string                  `json:"request_id,omitempty"`
	Operation  string                  `json:"operation,omitempty"`
	DOI        string                  `json:"doi,omitempty"`
	Categories []domain.CategoryValues `json:"categories"`
	Error      string                  `json:"error,omitempty"`
	UpdatedAt  time.Time               `json:"updated_at"`
}

// ClassifierPanel correlates classifier requests with their results.
type ClassifierPanel struct {
	session    Session
	gate       *gate.Gate
	demux      *demux.Demux
	categories []domain.Category
	textEvent  string
	maxBytes   int64

	deps   Deps
	logger zerolog.Logger

	mu    sync.Mutex
	state ClassifierState
	meta  requestMeta
	hub   *hub[ClassifierState]
}

// NewClassifierPanel creates an unmounted classifier panel over session.
func NewClassifierPanel(session Session, cfg ClassifierConfig, deps Deps) *ClassifierPanel {
	categories := cfg.Categories
	if len(categories) == 0 {
		categories = domain.DefaultCategories()
	}
	textEvent := cfg.TextEvent
	if textEvent == "" {
		textEvent = domain.EventTextClassification
	}
	maxBytes := cfg.MaxDocumentBytes
	if maxBytes <= 0 {
		maxBytes = conversion.DefaultMaxDocumentBytes
	}

	p := &ClassifierPanel{
		session:    session,
		categories: categories,
		textEvent:  textEvent,
		maxBytes:   maxBytes,
		deps:       deps,
		logger:     deps.Logger.With().Str("component", "panel").Str("panel", NameClassifier).Logger(),
		hub:        newHub[ClassifierState](),
	}
	p.gate = gate.New(gate.WithTimeout(cfg.GateTimeout, p.onTimeout))
	p.state = ClassifierState{
		Outcome:   domain.OutcomePending,
		Gate:      gate.Idle.String(),
		UpdatedAt: deps.now(),
	}

	p.demux = demux.New(session, p.gate, []demux.Route{
		{Event: domain.EventTextClassificationResults, Kind: demux.Success, Handle: p.onResults},
		{Event: domain.EventJSONClassificationResults, Kind: demux.Success, Handle: p.onResults},
		{Event: domain.EventLegacyClassificationResults, Kind: demux.Success, Handle: p.onResults},
		{Event: domain.EventDatasetClassificationResults, Kind: demux.Success, Handle: p.onResults},
		{Event: domain.EventClassificationError, Kind: demux.Failure, Handle: p.onError},
	}, p.logger)

	return p
}

// Mount subscribes the panel's routes on its session.
func (p *ClassifierPanel) Mount() {
	p.demux.Mount()
}

// Unmount unsubscribes the panel's routes. Results arriving afterwards are
// dropped, so a request still in flight is abandoned: the gate is released
// and the outcome stays pending. It is safe to call repeatedly.
func (p *ClassifierPanel) Unmount() {
	p.demux.Unmount()

	p.mu.Lock()
	defer p.mu.Unlock()
	if ticket, ok := p.gate.Complete(); ok {
		p.publishLocked()
		log := observability.WithRequestContext(p.logger, ticket.RequestID, NameClassifier, ticket.Operation)
		log.Debug().Msg("request abandoned on unmount")
	}
}

// Mounted reports whether the panel's routes are subscribed.
func (p *ClassifierPanel) Mounted() bool {
	return p.demux.Mounted()
}

// Categories returns the configured category set.
func (p *ClassifierPanel) Categories() []domain.Category {
	return append([]domain.Category(nil), p.categories...)
}

// ClassifyText sends text for classification.
func (p *ClassifierPanel) ClassifyText(ctx context.Context, text string) (gate.Ticket, error) {
	if strings.TrimSpace(text) == "" {
		p.deps.Metrics.RecordLocalValidationFailure(NameClassifier, OperationClassifyText)
		return gate.Ticket{}, domain.NewValidationError("text", "text is required")
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx, OperationClassifyText, p.textEvent, text, "")
}

// ClassifyDataset sends one record of a dataset for classification. The
// record must carry a DOI; the classifier echoes it in the result so
// labels can be matched to their record.
func (p *ClassifierPanel) ClassifyDataset(ctx context.Context, record domain.Record) (gate.Ticket, error) {
	doi := strings.TrimSpace(record.DOI())
	if doi == "" {
		p.deps.Metrics.RecordLocalValidationFailure(NameClassifier, OperationClassifyDataset)
		return gate.Ticket{}, domain.NewValidationError("DOI", "record DOI is required")
	}
	body, err := json.Marshal(record)
	if err != nil {
		return gate.Ticket{}, fmt.Errorf("encode record: %w", err)
	}

	p.mu.Lock()
	defer p.mu.Unlock()
	return p.startLocked(ctx, OperationClassifyDataset, domain.EventDatasetClassification, string(body), doi)
}

// ClassifyJSON validates the JSON document read from r and sends it for
// classification. A malformed document is reported in the panel state as
// a local error; nothing is sent and the gate stays unlatched.
func (p *ClassifierPanel) ClassifyJSON(ctx context.Context, r io.Reader) (gate.Ticket, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.gate.InFlight() {
		p.deps.Metrics.RecordRequestRejected(NameClassifier, OperationClassifyJSON)
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	doc, err := conversion.ReadDocument(r, p.maxBytes)
	if err == nil {
		var text string
		text, err = conversion.CompactJSON(doc)
		if err == nil {
			return p.startLocked(ctx, OperationClassifyJSON, domain.EventJSONClassification, text, "")
		}
	}

	var vErr *domain.ValidationError
	if errors.As(err, &vErr) {
		p.deps.Metrics.RecordLocalValidationFailure(NameClassifier, OperationClassifyJSON)
		p.logger.Debug().Err(err).Msg("rejecting local JSON document")
		p.state.Outcome = domain.OutcomeFailure
		p.state.RequestID = ""
		p.state.Operation = OperationClassifyJSON
		p.state.DOI = ""
		p.state.Categories = nil
		p.state.Error = vErr.Message
		p.publishLocked()
	}
	return gate.Ticket{}, err
}

// State returns the current snapshot.
func (p *ClassifierPanel) State() ClassifierState {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.snapshotLocked()
}

// Watch returns a channel receiving the current snapshot and every later
// one, and a function that stops the watch and closes the channel.
func (p *ClassifierPanel) Watch() (<-chan ClassifierState, func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.hub.watch(p.snapshotLocked())
}

func (p *ClassifierPanel) startLocked(ctx context.Context, operation, event, payload, doi string) (gate.Ticket, error) {
	ticket, ok := p.gate.TryStart(operation)
	if !ok {
		p.deps.Metrics.RecordRequestRejected(NameClassifier, operation)
		return gate.Ticket{}, domain.ErrRequestInFlight
	}

	log := observability.WithRequestContext(p.logger, ticket.RequestID, NameClassifier, operation)
	p.meta = metaFromContext(ctx)
	p.state.Outcome = domain.OutcomePending
	p.state.RequestID = ticket.RequestID
	p.state.Operation = operation
	p.state.DOI = doi
	p.state.Categories = nil
	p.state.Error = ""

	if err := p.session.Send(event, payload); err != nil {
		p.gate.Complete()
		p.state.Outcome = domain.OutcomeFailure
		p.state.Error = err.Error()
		p.publishLocked()
		log.Warn().Err(err).Msg("failed to send classification request")
		return gate.Ticket{}, fmt.Errorf("send %s: %w", event, err)
	}

	p.deps.Metrics.RecordRequestStarted(NameClassifier, operation)
	p.publishLocked()
	log.Debug().Str("event", event).Int("bytes", len(payload)).Msg("classification requested")
	return ticket, nil
}

func (p *ClassifierPanel) onResults(d demux.Delivery) {
	values, err := results.UnpackCategories(d.Payload, p.categories)
	doi := results.DecodeDOI(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, settled := d.Settle()
	log := p.deliveryLogger(d.Event, ticket, settled)
	if values == nil {
		log.Warn().Err(err).Msg("undecodable classification result")
		p.failLocked(ticket, settled, fmt.Sprintf("invalid classification result: %v", err))
		return
	}

	for _, cv := range values {
		if cv.Error != "" {
			p.deps.Metrics.RecordCategoryDecodeError(cv.Key)
		}
	}
	if err != nil {
		log.Warn().Err(err).Msg("some categories could not be decoded")
	}

	p.state.Outcome = domain.OutcomeSuccess
	p.state.Categories = values
	p.state.Error = ""
	if doi != "" {
		p.state.DOI = doi
	}
	p.settleLocked(ticket, settled)
	log.Info().Str("doi", p.state.DOI).Msg("classification settled")
}

func (p *ClassifierPanel) onError(d demux.Delivery) {
	msg := results.DecodeErrorMessage(d.Payload)

	p.mu.Lock()
	defer p.mu.Unlock()

	ticket, settled := d.Settle()
	log := p.deliveryLogger(d.Event, ticket, settled)
	log.Warn().Str("error", msg).Msg("classifier reported an error")
	p.failLocked(ticket, settled, msg)
}

// onTimeout runs on the gate's timer. The ticket may belong to a cycle that
// settled while the timer fired; Expire then reports false.
func (p *ClassifierPanel) onTimeout(ticket gate.Ticket) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.gate.Expire(ticket) {
		return
	}
	p.deps.Metrics.RecordRequestTimedOut(NameClassifier)
	log := observability.WithRequestContext(p.logger, ticket.RequestID, NameClassifier, ticket.Operation)
	log.Warn().Msg("classification timed out")
	p.failLocked(ticket, true, domain.ErrTimeout.Error())
}

func (p *ClassifierPanel) failLocked(ticket gate.Ticket, settled bool, msg string) {
	p.state.Outcome = domain.OutcomeFailure
	p.state.Categories = nil
	p.state.Error = msg
	p.settleLocked(ticket, settled)
}

// settleLocked publishes the new snapshot and, when this event ended the
// cycle in flight, records and announces the outcome.
func (p *ClassifierPanel) settleLocked(ticket gate.Ticket, settled bool) {
	p.publishLocked()
	if !settled {
		return
	}

	duration := p.deps.now().Sub(ticket.StartedAt)
	p.deps.Metrics.RecordRequestSettled(NameClassifier, string(p.state.Outcome), duration.Seconds())

	payload := domain.ClassificationSettledPayload{
		RequestID:  ticket.RequestID,
		DOI:        p.state.DOI,
		Outcome:    p.state.Outcome,
		Error:      p.state.Error,
		DurationMS: duration.Milliseconds(),
	}
	if p.state.Outcome == domain.OutcomeSuccess {
		payload.Categories = make(map[string][]string, len(p.state.Categories))
		for _, cv := range p.state.Categories {
			if cv.Error == "" {
				payload.Categories[cv.Key] = cv.Values
			}
		}
	}

	ctx, cancel := publishContext()
	defer cancel()
	if err := p.deps.Publisher.Publish(ctx, outbox.EmitParams{
		AggregateID:   ticket.RequestID,
		AggregateType: outbox.AggregateTypeClassifier,
		EventType:     domain.EventTypeClassificationSettled,
		Payload:       payload,
		CorrelationID: p.meta.correlationID,
	}); err != nil {
		p.logger.Warn().Err(err).Str("request_id", ticket.RequestID).Msg("failed to publish classification outcome")
	}
}

func (p *ClassifierPanel) deliveryLogger(event string, ticket gate.Ticket, settled bool) zerolog.Logger {
	log := observability.WithEventContext(p.logger, NameClassifier, event)
	if settled {
		log = log.With().Str("request_id", ticket.RequestID).Logger()
	}
	return log
}

func (p *ClassifierPanel) publishLocked() {
	p.state.UpdatedAt = p.deps.now()
	p.hub.publish(p.snapshotLocked())
}

func (p *ClassifierPanel) snapshotLocked() ClassifierState {
	s := p.state
	s.Gate = p.gate.State().String()
	s.Loading = s.Gate == gate.InFlight.String()
	if s.Categories != nil {
		s.Categories = make([]domain.CategoryValues, len(p.state.Categories))
		copy(s.Categories, p.state.Categories)
	}
	return s
}
