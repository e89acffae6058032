package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/timzifer/meteohub/config"
	"github.com/timzifer/meteohub/internal/logging"
	"github.com/timzifer/meteohub/internal/reload"
	"github.com/timzifer/meteohub/service"
	"github.com/timzifer/meteohub/telemetry"
)

func main() {
	cfgPath := flag.String("config", "", "Path to configuration file (optional, environment fills the gaps)")
	configCheck := flag.Bool("config-check", false, "Validate configuration and exit")
	flag.Parse()

	cfg, err := config.Load(*cfgPath)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load configuration")
	}

	if *configCheck {
		fmt.Println("Configuration is valid.")
		os.Exit(0)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	collector, err := newTelemetryCollector(cfg.Telemetry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "telemetry disabled: %v\n", err)
		collector = telemetry.Noop()
	}

	if cfg.HotReload && *cfgPath != "" {
		if err := runWithHotReload(ctx, *cfgPath, cfg, collector); err != nil && !errors.Is(err, context.Canceled) {
			log.Fatal().Err(err).Msg("service stopped")
		}
		return
	}

	logger, cleanup, err := logging.Setup(cfg.Logging)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to setup logger")
	}
	defer cleanup()
	log.Logger = logger

	svc, err := service.New(cfg, logger, collector)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to create service")
	}
	defer svc.Close()

	if err := svc.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("service stopped with error")
	}
}

func runWithHotReload(ctx context.Context, cfgPath string, initialCfg *config.Config, collector telemetry.Collector) error {
	watcher, err := reload.NewWatcher(cfgPath)
	if err != nil {
		return fmt.Errorf("create config watcher: %w", err)
	}
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()

	cfg := initialCfg
	for {
		logger, cleanup, err := logging.Setup(cfg.Logging)
		if err != nil {
			return err
		}
		log.Logger = logger

		svc, err := service.New(cfg, logger, collector)
		if err != nil {
			cleanup()
			return err
		}

		runCtx, cancelRun := context.WithCancel(ctx)
		errCh := make(chan error, 1)
		go func() {
			errCh <- svc.Run(runCtx)
		}()

		reloadRequested := false

	loop:
		for {
			select {
			case <-ctx.Done():
				cancelRun()
				err := <-errCh
				svc.Close()
				cleanup()
				if err != nil && !errors.Is(err, context.Canceled) {
					return err
				}
				return ctx.Err()
			case err := <-errCh:
				cancelRun()
				svc.Close()
				cleanup()
				return err
			case <-ticker.C:
				if !watcher.Changed() {
					continue
				}
				newCfg, err := config.Load(cfgPath)
				if err != nil {
					logger.Error().Err(err).Msg("failed to reload configuration")
					watcher.Update()
					continue
				}
				cancelRun()
				if err := <-errCh; err != nil && !errors.Is(err, context.Canceled) {
					logger.Error().Err(err).Msg("service stopped during reload")
				}
				svc.Close()
				cleanup()
				watcher.Update()
				cfg = newCfg
				reloadRequested = true
				break loop
			}
		}

		if !reloadRequested {
			return nil
		}
	}
}

func newTelemetryCollector(cfg config.TelemetryConfig) (telemetry.Collector, error) {
	if !cfg.Enabled {
		return telemetry.Noop(), nil
	}
	provider := strings.ToLower(strings.TrimSpace(cfg.Provider))
	switch provider {
	case "", "prometheus":
		return telemetry.NewPrometheusCollector(nil)
	default:
		return telemetry.Noop(), fmt.Errorf("unsupported telemetry provider %q", cfg.Provider)
	}
}
