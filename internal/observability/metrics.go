package observability

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics contains all Prometheus metrics for the literature console.
// Metrics are organized by subsystem: channels, gated requests, result decoding,
// exports, and outcome publishing. All counters and histograms are registered via
// promauto with the default Prometheus registry.
//
// Record methods are safe to call on a nil *Metrics, which records nothing.
type Metrics struct {
	// ChannelEventsSent counts envelopes handed to a transport, labeled by channel and event.
	ChannelEventsSent *prometheus.CounterVec

	// ChannelSendFailures counts sends that never reached the transport, labeled by channel and reason.
	ChannelSendFailures *prometheus.CounterVec

	// ChannelEventsReceived counts inbound envelopes, labeled by channel and event.
	ChannelEventsReceived *prometheus.CounterVec

	// ChannelEventsDropped counts inbound envelopes with no subscribed handler.
	ChannelEventsDropped *prometheus.CounterVec

	// ChannelConnected is 1 while the session of a channel has a live transport.
	ChannelConnected *prometheus.GaugeVec

	// RequestsStarted counts gated requests that were sent, labeled by panel and operation.
	RequestsStarted *prometheus.CounterVec

	// RequestsRejected counts requests dropped because the gate was in flight.
	RequestsRejected *prometheus.CounterVec

	// RequestsSettled counts request cycles that reached a terminal outcome, labeled by panel and outcome.
	RequestsSettled *prometheus.CounterVec

	// RequestDuration observes the time from send to terminal event in seconds.
	RequestDuration *prometheus.HistogramVec

	// RequestsTimedOut counts request cycles settled by the gate timeout, labeled by panel.
	RequestsTimedOut *prometheus.CounterVec

	// LocalValidationFailures counts operations rejected before sending, labeled by panel and operation.
	LocalValidationFailures *prometheus.CounterVec

	// CategoryDecodeErrors counts classification categories that failed to decode, labeled by category.
	CategoryDecodeErrors *prometheus.CounterVec

	// SearchItemsReceived observes the number of records per settled search.
	SearchItemsReceived prometheus.Histogram

	// ArtifactsMaterialized counts artifacts offered for download, labeled by format.
	ArtifactsMaterialized *prometheus.CounterVec

	// ExportsRateLimited counts RIS exports rejected by the export rate limiter.
	ExportsRateLimited prometheus.Counter

	// OutboxPublished counts outcome events handed to Kafka.
	OutboxPublished *prometheus.CounterVec

	// OutboxPublishFailed counts outcome events that could not be published.
	OutboxPublishFailed *prometheus.CounterVec
}

// NewMetrics creates a new Metrics instance with all metrics initialized.
// The namespace is used as a prefix for all metric names.
func NewMetrics(namespace string) *Metrics {
	return &Metrics{
		// Channels
		ChannelEventsSent: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_sent_total",
			Help:      "Total number of events handed to a channel transport",
		}, []string{"channel", "event"}),
		ChannelSendFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "send_failures_total",
			Help:      "Total number of events that could not be sent",
		}, []string{"channel", "reason"}),
		ChannelEventsReceived: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_received_total",
			Help:      "Total number of events received from a channel",
		}, []string{"channel", "event"}),
		ChannelEventsDropped: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "events_dropped_total",
			Help:      "Total number of received events with no subscribed handler",
		}, []string{"channel", "event"}),
		ChannelConnected: promauto.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "channel",
			Name:      "connected",
			Help:      "Whether the channel session has a live transport",
		}, []string{"channel"}),

		// Gated requests
		RequestsStarted: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_started_total",
			Help:      "Total number of gated requests sent",
		}, []string{"panel", "operation"}),
		RequestsRejected: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_rejected_total",
			Help:      "Total number of requests dropped while another request was in flight",
		}, []string{"panel", "operation"}),
		RequestsSettled: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_settled_total",
			Help:      "Total number of request cycles that reached a terminal outcome",
		}, []string{"panel", "outcome"}),
		RequestDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "request_duration_seconds",
			Help:      "Time from send to terminal event in seconds",
			Buckets:   []float64{0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60, 120},
		}, []string{"panel", "outcome"}),
		RequestsTimedOut: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "requests_timed_out_total",
			Help:      "Total number of request cycles settled by timeout",
		}, []string{"panel"}),
		LocalValidationFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "local_validation_failures_total",
			Help:      "Total number of operations rejected before sending",
		}, []string{"panel", "operation"}),

		// Results
		CategoryDecodeErrors: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "category_decode_errors_total",
			Help:      "Total number of classification categories that failed to decode",
		}, []string{"category"}),
		SearchItemsReceived: promauto.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "results",
			Name:      "search_items",
			Help:      "Distribution of records per settled search",
			Buckets:   []float64{0, 1, 5, 10, 20, 50, 100, 200},
		}),

		// Exports
		ArtifactsMaterialized: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "artifacts_materialized_total",
			Help:      "Total number of artifacts offered for download",
		}, []string{"format"}),
		ExportsRateLimited: promauto.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "export",
			Name:      "rate_limited_total",
			Help:      "Total number of exports rejected by the rate limiter",
		}),

		// Outbox
		OutboxPublished: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "published_total",
			Help:      "Total number of outcome events handed to Kafka",
		}, []string{"event_type"}),
		OutboxPublishFailed: promauto.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "outbox",
			Name:      "publish_failed_total",
			Help:      "Total number of outcome events that could not be published",
		}, []string{"event_type"}),
	}
}

// RecordEventSent records an envelope handed to a transport.
func (m *Metrics) RecordEventSent(channel, event string) {
	if m == nil {
		return
	}
	m.ChannelEventsSent.WithLabelValues(channel, event).Inc()
}

// RecordSendFailure records a send that never reached the transport.
func (m *Metrics) RecordSendFailure(channel, reason string) {
	if m == nil {
		return
	}
	m.ChannelSendFailures.WithLabelValues(channel, reason).Inc()
}

// RecordEventReceived records an inbound envelope.
func (m *Metrics) RecordEventReceived(channel, event string) {
	if m == nil {
		return
	}
	m.ChannelEventsReceived.WithLabelValues(channel, event).Inc()
}

// RecordEventDropped records an inbound envelope nobody subscribed to.
func (m *Metrics) RecordEventDropped(channel, event string) {
	if m == nil {
		return
	}
	m.ChannelEventsDropped.WithLabelValues(channel, event).Inc()
}

// SetChannelConnected updates the connection gauge of a channel.
func (m *Metrics) SetChannelConnected(channel string, connected bool) {
	if m == nil {
		return
	}
	v := 0.0
	if connected {
		v = 1
	}
	m.ChannelConnected.WithLabelValues(channel).Set(v)
}

// RecordRequestStarted records a gated request that was sent.
func (m *Metrics) RecordRequestStarted(panel, operation string) {
	if m == nil {
		return
	}
	m.RequestsStarted.WithLabelValues(panel, operation).Inc()
}

// RecordRequestRejected records a request dropped by an in-flight gate.
func (m *Metrics) RecordRequestRejected(panel, operation string) {
	if m == nil {
		return
	}
	m.RequestsRejected.WithLabelValues(panel, operation).Inc()
}

// RecordRequestSettled records a request cycle reaching a terminal outcome.
func (m *Metrics) RecordRequestSettled(panel, outcome string, durationSeconds float64) {
	if m == nil {
		return
	}
	m.RequestsSettled.WithLabelValues(panel, outcome).Inc()
	m.RequestDuration.WithLabelValues(panel, outcome).Observe(durationSeconds)
}

// RecordRequestTimedOut records a request cycle settled by the gate timeout.
func (m *Metrics) RecordRequestTimedOut(panel string) {
	if m == nil {
		return
	}
	m.RequestsTimedOut.WithLabelValues(panel).Inc()
}

// RecordLocalValidationFailure records an operation rejected before sending.
func (m *Metrics) RecordLocalValidationFailure(panel, operation string) {
	if m == nil {
		return
	}
	m.LocalValidationFailures.WithLabelValues(panel, operation).Inc()
}

// RecordCategoryDecodeError records a category that failed to decode.
func (m *Metrics) RecordCategoryDecodeError(category string) {
	if m == nil {
		return
	}
	m.CategoryDecodeErrors.WithLabelValues(category).Inc()
}

// RecordSearchItems records the number of records of a settled search.
func (m *Metrics) RecordSearchItems(count int) {
	if m == nil {
		return
	}
	m.SearchItemsReceived.Observe(float64(count))
}

// RecordArtifactMaterialized records an artifact offered for download.
func (m *Metrics) RecordArtifactMaterialized(format string) {
	if m == nil {
		return
	}
	m.ArtifactsMaterialized.WithLabelValues(format).Inc()
}

// RecordExportRateLimited records an export rejected by the rate limiter.
func (m *Metrics) RecordExportRateLimited() {
	if m == nil {
		return
	}
	m.ExportsRateLimited.Inc()
}

// RecordOutboxPublished records an outcome event handed to Kafka.
func (m *Metrics) RecordOutboxPublished(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublished.WithLabelValues(eventType).Inc()
}

// RecordOutboxPublishFailed records an outcome event that could not be published.
func (m *Metrics) RecordOutboxPublishFailed(eventType string) {
	if m == nil {
		return
	}
	m.OutboxPublishFailed.WithLabelValues(eventType).Inc()
}
