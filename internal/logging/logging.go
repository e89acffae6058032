// Package logging builds the service logger: JSON to stdout by default,
// optional console rendering for local runs and optional Loki forwarding for
// aggregated deployments.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/grafana/loki-client-go/loki"
	"github.com/prometheus/common/model"
	"github.com/rs/zerolog"

	"github.com/timzifer/meteohub/config"
)

// Setup builds the root logger from the logging configuration. The returned
// cleanup stops background log shipping and must run before process exit.
func Setup(cfg config.LoggingConfig) (zerolog.Logger, func(), error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	writer, cleanup, err := buildWriter(cfg)
	if err != nil {
		return zerolog.Logger{}, nil, err
	}
	logger := zerolog.New(writer).Level(level).With().Timestamp().Logger()
	return logger, cleanup, nil
}

func parseLevel(raw string) (zerolog.Level, error) {
	if raw == "" {
		return zerolog.InfoLevel, nil
	}
	level, err := zerolog.ParseLevel(strings.ToLower(raw))
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("parse log level %q: %w", raw, err)
	}
	return level, nil
}

func buildWriter(cfg config.LoggingConfig) (io.Writer, func(), error) {
	var out io.Writer = os.Stdout
	if strings.EqualFold(cfg.Format, "text") {
		out = zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.RFC3339}
	}
	if !cfg.Loki.Enabled {
		return out, func() {}, nil
	}
	sink, stop, err := newLokiSink(cfg.Loki)
	if err != nil {
		return nil, nil, err
	}
	return zerolog.MultiLevelWriter(out, sink), stop, nil
}

// newLokiSink ships each log line to Loki under the configured label set.
// Labels come fully resolved from the config layer.
func newLokiSink(cfg config.LokiConfig) (io.Writer, func(), error) {
	if cfg.URL == "" {
		return nil, nil, fmt.Errorf("loki url is required")
	}
	clientCfg, err := loki.NewDefaultConfig(cfg.URL)
	if err != nil {
		return nil, nil, fmt.Errorf("prepare loki config: %w", err)
	}
	client, err := loki.New(clientCfg)
	if err != nil {
		return nil, nil, fmt.Errorf("create loki client: %w", err)
	}

	labels := make(model.LabelSet, len(cfg.Labels))
	for name, value := range cfg.Labels {
		labels[model.LabelName(name)] = model.LabelValue(value)
	}
	return &lokiSink{client: client, labels: labels}, client.Stop, nil
}

type lokiSink struct {
	client *loki.Client
	labels model.LabelSet
}

func (s *lokiSink) Write(p []byte) (int, error) {
	line := strings.TrimSpace(string(p))
	if line == "" {
		return len(p), nil
	}
	return len(p), s.client.Handle(s.labels, time.Now(), line)
}
