// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package main is the entry point for the Palisade server.
//
// Palisade watches a web application's traffic for injection attempts,
// forgery, and behavioral anomalies, and turns confirmed findings into
// prioritized alerts.
//
// # Application Architecture
//
// The server initializes components in the following order:
//
//  1. Configuration: layered defaults, YAML file, and environment (Koanf v2)
//  2. Event log: bounded in-memory ring with optional BadgerDB archive
//  3. Threat intelligence: static reputation lists from configuration
//  4. Alerting: manager, in-process event bus, and notification channels
//  5. Anomaly scorer: per-event analysis plus a periodic sweep
//  6. Content classifier and request legitimacy validator
//  7. HTTP server: REST API with Prometheus metrics on /metrics
//
// # Configuration
//
// Configuration is loaded via Koanf v2 with layered sources (highest
// priority wins):
//   - Environment variables (PALISADE_ prefix, e.g. PALISADE_SERVER_PORT)
//   - Config file (config.yaml, or CONFIG_PATH)
//   - Built-in defaults
//
// # Signal Handling
//
// The server handles graceful shutdown on SIGINT and SIGTERM:
//   - Stops accepting new connections
//   - Waits for in-flight requests to complete (configurable timeout)
//   - Stops the anomaly sweep, drains the event recorder, closes the
//     alert bus and the archive database
package main

import (
	"context"
	"errors"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/palisade-sec/palisade/internal/alerting"
	"github.com/palisade-sec/palisade/internal/anomaly"
	"github.com/palisade-sec/palisade/internal/api"
	"github.com/palisade-sec/palisade/internal/classifier"
	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/config"
	"github.com/palisade-sec/palisade/internal/csrf"
	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/threatintel"
)

// alertSink routes detected anomalies into the alert manager, mapping
// the matched pattern to a first-class alert type.
type alertSink struct {
	alerts *alerting.Manager
}

func (s *alertSink) AnomalyDetected(result anomaly.Result, source eventlog.Event) {
	alertType := alerting.AlertTypeAnomaly
	for _, m := range result.Patterns {
		switch m.Pattern {
		case anomaly.PatternBruteForce:
			alertType = alerting.AlertTypeBruteForce
		case anomaly.PatternCredentialStuffing:
			alertType = alerting.AlertTypeCredentialStuffing
		case anomaly.PatternSessionHijack:
			alertType = alerting.AlertTypeSessionHijack
		}
	}

	meta, err := json.Marshal(map[string]any{
		"score":      result.Score,
		"indicators": result.Indicators,
	})
	if err != nil {
		logging.Error().Err(err).Msg("Failed to encode anomaly metadata")
		meta = nil
	}

	_, err = s.alerts.Create(context.Background(), alertType, alerting.CreateOptions{
		ActorKey:        source.Actor.Key(),
		RelatedEventIDs: []string{source.ID},
		Metadata:        meta,
	})
	if err != nil {
		logging.Error().Err(err).Str("type", string(alertType)).Msg("Failed to create alert from anomaly")
	}
}

func main() {
	cfg, err := config.Load()
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to load configuration")
	}

	logging.Init(logging.Config{
		Level:  cfg.Logging.Level,
		Format: cfg.Logging.Format,
		Caller: cfg.Logging.Caller,
	})
	logging.Info().Msg("Starting Palisade")

	clk := clock.New()

	// Event log, with optional durable archive for rotated entries.
	var archiver eventlog.Archiver
	var archiveDB *badger.DB
	if cfg.EventLog.ArchiveEnabled {
		opts := badger.DefaultOptions(cfg.EventLog.ArchivePath).WithLogger(nil)
		archiveDB, err = badger.Open(opts)
		if err != nil {
			logging.Fatal().Err(err).Str("path", cfg.EventLog.ArchivePath).Msg("Failed to open event archive")
		}
		archiver = eventlog.NewBadgerArchiver(archiveDB, cfg.EventLog.ArchiveRetention)
		logging.Info().
			Str("path", cfg.EventLog.ArchivePath).
			Dur("retention", cfg.EventLog.ArchiveRetention).
			Msg("Event archive enabled")
	}

	log := eventlog.NewLog(cfg.EventLog.MaxEntries, archiver, clk)
	recorder := eventlog.NewRecorder(log, cfg.EventLog.RecorderBuffer)

	intel, err := threatintel.NewStatic(cfg.Intel)
	if err != nil {
		logging.Fatal().Err(err).Msg("Failed to build threat intelligence provider")
	}

	bus := alerting.NewBus()
	alerts := alerting.NewManager(cfg.Alerting, bus, clk)
	if cfg.Webhook.WebhookURL != "" {
		alerts.AddChannel(alerting.NewWebhookNotifier(cfg.Webhook), cfg.Channel)
		logging.Info().Str("url", cfg.Webhook.WebhookURL).Msg("Webhook notifications enabled")
	}
	alerts.AddChannel(alerting.NewEmailNotifier(), cfg.Channel)
	alerts.AddChannel(alerting.NewSMSNotifier(), cfg.Channel)
	alerts.AddChannel(alerting.NewChatNotifier(), cfg.Channel)

	scorer := anomaly.NewScorer(cfg.Anomaly, log, intel, recorder, &alertSink{alerts: alerts}, clk)
	scorer.Start()

	// Per-event analysis: every event landing in the log is scored as
	// it arrives; the periodic sweep re-checks with fresh baselines.
	recorder.Observe(func(e *eventlog.Event) {
		scorer.Process(context.Background(), e)
	})

	cls := classifier.New(cfg.Classifier, recorder)
	validator := csrf.NewValidator(cfg.CSRF, recorder, clk)

	router := api.NewRouter(log, recorder, cls, validator, scorer, alerts)

	addr := net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port))
	server := &http.Server{
		Addr:         addr,
		Handler:      router.Setup(),
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		logging.Info().Str("addr", addr).Msg("HTTP server listening")
		serverErr <- server.ListenAndServe()
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logging.Info().Str("signal", sig.String()).Msg("Shutdown signal received")
	case err := <-serverErr:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			logging.Error().Err(err).Msg("HTTP server failed")
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		logging.Error().Err(err).Msg("HTTP server shutdown error")
	}

	scorer.Stop()
	recorder.Close()
	if err := bus.Close(); err != nil {
		logging.Error().Err(err).Msg("Error closing alert bus")
	}
	if archiveDB != nil {
		if err := archiveDB.Close(); err != nil {
			logging.Error().Err(err).Msg("Error closing event archive")
		}
	}

	logging.Info().Msg("Palisade stopped")
}
