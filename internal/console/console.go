// Package console assembles the literature console from configuration: it
// connects the classifier and retriever channels, builds both panels over
// them and wires the optional outcome publisher and artifact directory.
package console

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"github.com/rs/zerolog"

	"github.com/helixir/literature-console/internal/channel"
	"github.com/helixir/literature-console/internal/config"
	"github.com/helixir/literature-console/internal/conversion"
	"github.com/helixir/literature-console/internal/domain"
	"github.com/helixir/literature-console/internal/observability"
	"github.com/helixir/literature-console/internal/outbox"
	"github.com/helixir/literature-console/internal/panel"
)

// ServiceName identifies this process in published outcome events.
const ServiceName = "literature-console"

// DialFunc connects a transport to one service channel.
type DialFunc func(ctx context.Context, cfg channel.WebSocketConfig) (channel.Transport, error)

// Console owns the channel sessions and the panels built on them.
type Console struct {
	Classifier *panel.ClassifierPanel
	Retriever  *panel.RetrieverPanel
	// Artifacts holds materialized exports until they are downloaded.
	Artifacts *conversion.MemoryStore

	sessions []*channel.Session
	kafka    *outbox.KafkaSink
	logger   zerolog.Logger
}

type options struct {
	dial      DialFunc
	metrics   *observability.Metrics
	sink      outbox.Sink
	artifacts conversion.ArtifactSink
}

// Option customizes Start.
type Option func(*options)

// WithDialer replaces the websocket dialer.
func WithDialer(dial DialFunc) Option {
	return func(o *options) { o.dial = dial }
}

// WithMetrics records channel and panel metrics.
func WithMetrics(m *observability.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithOutboxSink publishes settled outcomes to sink instead of Kafka.
func WithOutboxSink(sink outbox.Sink) Option {
	return func(o *options) { o.sink = sink }
}

// WithArtifactSink also materializes exports into sink, next to the
// in-memory store and the configured export directory.
func WithArtifactSink(sink conversion.ArtifactSink) Option {
	return func(o *options) { o.artifacts = sink }
}

func dialWebSocket(ctx context.Context, cfg channel.WebSocketConfig) (channel.Transport, error) {
	return channel.DialWebSocket(ctx, cfg)
}

// Start connects both channels and mounts both panels. On error everything
// opened so far is closed again.
func Start(ctx context.Context, cfg *config.Config, logger zerolog.Logger, opts ...Option) (_ *Console, err error) {
	o := options{dial: dialWebSocket}
	for _, opt := range opts {
		opt(&o)
	}

	c := &Console{
		Artifacts: conversion.NewMemoryStore(),
		logger:    logger.With().Str("component", "console").Logger(),
	}
	defer func() {
		if err != nil {
			_ = c.Close()
		}
	}()

	classifierSession, err := c.connect(ctx, domain.ChannelClassifier, cfg.Classifier, o, logger)
	if err != nil {
		return nil, err
	}
	retrieverSession, err := c.connect(ctx, domain.ChannelRetriever, cfg.Retriever, o, logger)
	if err != nil {
		return nil, err
	}

	publisher, err := c.publisher(cfg, o, logger)
	if err != nil {
		return nil, err
	}

	sinks := conversion.Tee{c.Artifacts}
	if cfg.Export.Directory != "" {
		dir, dirErr := conversion.NewDirSink(cfg.Export.Directory)
		if dirErr != nil {
			return nil, fmt.Errorf("export directory: %w", dirErr)
		}
		sinks = append(sinks, dir)
	}
	if o.artifacts != nil {
		sinks = append(sinks, o.artifacts)
	}

	deps := panel.Deps{
		Logger:    logger,
		Metrics:   o.metrics,
		Publisher: publisher,
	}

	c.Classifier = panel.NewClassifierPanel(classifierSession, panel.ClassifierConfig{
		Categories:       cfg.ResolvedCategories(),
		TextEvent:        cfg.Classifier.TextEvent,
		GateTimeout:      cfg.Gate.Timeout,
		MaxDocumentBytes: cfg.Import.MaxDocumentBytes,
	}, deps)

	c.Retriever = panel.NewRetrieverPanel(retrieverSession, panel.RetrieverConfig{
		GateTimeout:      cfg.Gate.Timeout,
		Pages:            cfg.Pagination.Pages,
		MaxDocumentBytes: cfg.Import.MaxDocumentBytes,
		ExportLimiter:    conversion.NewRateLimiter(cfg.Export.RateLimit, cfg.Export.Burst),
		Artifacts:        sinks,
	}, deps)

	c.Classifier.Mount()
	c.Retriever.Mount()

	c.logger.Info().
		Str("classifier_url", cfg.Classifier.URL).
		Str("retriever_url", cfg.Retriever.URL).
		Bool("kafka", cfg.Kafka.Enabled).
		Msg("console started")
	return c, nil
}

func (c *Console) connect(ctx context.Context, id domain.ChannelID, cfg config.ChannelConfig, o options, logger zerolog.Logger) (*channel.Session, error) {
	transport, err := o.dial(ctx, channel.WebSocketConfig{
		URL:              cfg.URL,
		HandshakeTimeout: cfg.HandshakeTimeout,
	})
	if err != nil {
		return nil, fmt.Errorf("connect %s: %w", id, err)
	}

	session := channel.NewSession(id, transport, channel.Config{
		SendQueueSize: cfg.SendQueueSize,
		WriteTimeout:  cfg.WriteTimeout,
	}, logger, o.metrics)
	c.sessions = append(c.sessions, session)

	if err := session.Open(ctx); err != nil {
		return nil, fmt.Errorf("open %s session: %w", id, err)
	}
	return session, nil
}

func (c *Console) publisher(cfg *config.Config, o options, logger zerolog.Logger) (*outbox.Publisher, error) {
	emitter := outbox.NewEmitter(outbox.EmitterConfig{ServiceName: ServiceName})

	if o.sink != nil {
		return outbox.NewPublisher(emitter, o.sink, logger, o.metrics), nil
	}
	if !cfg.Kafka.Enabled {
		return nil, nil
	}

	writer := outbox.NewKafkaWriter(outbox.Config{
		Brokers:      cfg.Kafka.Brokers,
		Topic:        cfg.Kafka.Topic,
		BatchSize:    cfg.Kafka.BatchSize,
		BatchTimeout: cfg.Kafka.BatchTimeout,
	}, logger, o.metrics)
	c.kafka = outbox.NewKafkaSink(writer)
	return outbox.NewPublisher(emitter, c.kafka, logger, o.metrics), nil
}

// Sessions returns the open channel sessions, classifier first.
func (c *Console) Sessions() []*channel.Session {
	return c.sessions
}

// Done is closed once any channel session has stopped reading.
func (c *Console) Done() <-chan struct{} {
	done := make(chan struct{})
	var once sync.Once
	for _, s := range c.sessions {
		go func(stopped <-chan struct{}) {
			<-stopped
			once.Do(func() { close(done) })
		}(s.Done())
	}
	return done
}

// Close unmounts the panels, closes the sessions and flushes the outcome
// publisher. It is safe to call more than once.
func (c *Console) Close() error {
	if c.Classifier != nil {
		c.Classifier.Unmount()
	}
	if c.Retriever != nil {
		c.Retriever.Unmount()
	}

	var errs []error
	for _, s := range c.sessions {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s session: %w", s.ID(), err))
		}
	}
	if c.kafka != nil {
		if err := c.kafka.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close kafka writer: %w", err))
		}
		c.kafka = nil
	}
	return errors.Join(errs...)
}
