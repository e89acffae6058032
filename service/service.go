// Package service assembles the telemetry pipeline: MQTT ingest, the Influx
// gateway, the live feed and the HTTP surface, wired in dependency order.
package service

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/history"
	"github.com/timzifer/meteohub/ingest"
	"github.com/timzifer/meteohub/live"
	"github.com/timzifer/meteohub/server"
	"github.com/timzifer/meteohub/store"
	"github.com/timzifer/meteohub/telemetry"
)

// Service owns every long-lived component of one pipeline instance.
type Service struct {
	cfg    *config.Config
	logger zerolog.Logger

	store     *store.Influx
	feed      *live.Feed
	pipeline  *ingest.Pipeline
	assembler *history.Assembler
	server    *server.Server
	source    *ingest.Source
}

// New builds the full pipeline from the configuration. The MQTT source is not
// connected yet; Run establishes the broker connection so a config-check can
// construct the service without network access.
func New(cfg *config.Config, logger zerolog.Logger, collector telemetry.Collector) (*Service, error) {
	if cfg == nil {
		return nil, fmt.Errorf("configuration is nil")
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if collector == nil {
		collector = telemetry.Noop()
	}

	gateway := store.NewInflux(cfg.Influx, logger, collector)
	feed := live.NewFeed(logger, collector)
	pipeline := ingest.NewPipeline(gateway, feed, logger, collector)
	assembler := history.New(gateway, cfg.History, logger)
	srv := server.New(cfg, feed, assembler, logger)

	return &Service{
		cfg:       cfg,
		logger:    logger,
		store:     gateway,
		feed:      feed,
		pipeline:  pipeline,
		assembler: assembler,
		server:    srv,
	}, nil
}

// Addr returns the bound HTTP listen address, empty before Run.
func (s *Service) Addr() string {
	if s == nil {
		return ""
	}
	return s.server.Addr()
}

// Run connects to the broker, starts the HTTP server and blocks until the
// context is cancelled. Components are shut down before Run returns.
func (s *Service) Run(ctx context.Context) error {
	if s == nil {
		return fmt.Errorf("service is nil")
	}
	if err := s.server.Start(); err != nil {
		return err
	}

	source, err := ingest.NewSource(s.cfg.MQTT, s.pipeline.HandleMessage, s.logger)
	if err != nil {
		s.server.Close()
		return fmt.Errorf("connect ingest source: %w", err)
	}
	s.source = source

	s.logger.Info().
		Str("broker", s.cfg.MQTT.Broker).
		Str("topic", s.cfg.MQTT.Topic).
		Bool("store_enabled", s.store.Enabled()).
		Msg("service: running")

	<-ctx.Done()
	s.Close()
	return ctx.Err()
}

// Close tears the pipeline down in reverse dependency order: stop accepting
// new readings first, then the HTTP surface, then flush the store.
func (s *Service) Close() {
	if s == nil {
		return
	}
	if s.source != nil {
		s.source.Close()
		s.source = nil
	}
	if s.server != nil {
		s.server.Close()
	}
	if s.store != nil {
		s.store.Close()
	}
}
