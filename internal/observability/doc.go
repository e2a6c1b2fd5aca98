// Package observability provides logging and metrics support for the
// literature console.
//
// # Logging
//
// Create a logger from configuration:
//
//	logger := observability.NewLogger(observability.LoggingConfig{
//	    Level:  "info",
//	    Format: "json",
//	    Output: "stdout",
//	})
//
// Derive loggers for channels and gated requests:
//
//	logger = observability.WithChannelContext(logger, "retriever")
//	logger = observability.WithRequestContext(logger, requestID, "retriever", "search")
//
// # Metrics
//
//	metrics := observability.NewMetrics("literature_console")
//	metrics.RecordRequestStarted("classifier", "classify_text")
//
// A nil *Metrics is valid and records nothing, so components can be built
// without metrics in tests.
//
// # Standard Fields
//
//   - channel: classifier or retriever
//   - event: channel event name
//   - request_id: local identifier of a gated request cycle (never sent)
//   - panel: classifier or retriever UI context
//   - correlation_id: HTTP correlation identifier
package observability
