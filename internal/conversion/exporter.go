package conversion

import (
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/observability"
	"github.com/helixir/literature-console/internal/results"
)

// Exporter converts single records. RIS exports round-trip through the
// retriever outside the request gate; the retriever has no error event for
// them, so a failed conversion is never reported back.
type Exporter struct {
	sender  Sender
	limiter *RateLimiter
	sink    ArtifactSink
	logger  zerolog.Logger
	metrics *observability.Metrics
	now     func() time.Time
}

// NewExporter creates an exporter. A nil limiter disables rate limiting.
func NewExporter(sender Sender, limiter *RateLimiter, sink ArtifactSink, logger zerolog.Logger, metrics *observability.Metrics) *Exporter {
	return &Exporter{
		sender:  sender,
		limiter: limiter,
		sink:    sink,
		logger:  logger.With().Str("component", "exporter").Logger(),
		metrics: metrics,
		now:     time.Now,
	}
}

// ExportRIS sends record as indented JSON for conversion to RIS. It returns
// domain.ErrRateLimited when the export rate is exceeded.
func (e *Exporter) ExportRIS(record domain.Record) error {
	if len(record) == 0 {
		return domain.NewValidationError("record", "record is required")
	}
	if e.limiter != nil && !e.limiter.Allow() {
		e.metrics.RecordExportRateLimited()
		return domain.ErrRateLimited
	}

	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return fmt.Errorf("encode record: %w", err)
	}
	if err := e.sender.Send(domain.EventConvertToRIS, string(body)); err != nil {
		return fmt.Errorf("send %s: %w", domain.EventConvertToRIS, err)
	}

	e.logger.Debug().Str("doi", record.DOI()).Msg("record sent for RIS conversion")
	return nil
}

// HandleRISResult materializes a conversion_ris_results payload as
// publication.ris.
func (e *Exporter) HandleRISResult(payload json.RawMessage) (Artifact, error) {
	text, err := results.DecodeText(payload)
	if err != nil {
		return Artifact{}, err
	}

	artifact := Artifact{
		Name:        RISFilename,
		ContentType: ContentTypeRIS,
		Data:        []byte(text),
		CreatedAt:   e.now(),
	}
	if err := e.sink.Materialize(artifact); err != nil {
		return Artifact{}, fmt.Errorf("materialize %s: %w", artifact.Name, err)
	}

	e.metrics.RecordArtifactMaterialized("ris")
	e.logger.Info().Str("artifact", artifact.Name).Int("bytes", len(artifact.Data)).Msg("RIS export ready")
	return artifact, nil
}

// ExportJSON renders record as an indented JSON artifact named after its
// title. It does not contact any service.
func (e *Exporter) ExportJSON(record domain.Record) (Artifact, error) {
	if len(record) == 0 {
		return Artifact{}, domain.NewValidationError("record", "record is required")
	}
	body, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return Artifact{}, fmt.Errorf("encode record: %w", err)
	}

	e.metrics.RecordArtifactMaterialized("json")
	return Artifact{
		Name:        record.MetadataFilename(),
		ContentType: ContentTypeJSON,
		Data:        body,
		CreatedAt:   e.now(),
	}, nil
}
