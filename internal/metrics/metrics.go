// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package metrics exposes Prometheus instrumentation for the detection
// pipeline: event log throughput, classification outcomes, validation
// failures, anomaly sweeps, and alert lifecycle activity.
package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	// Event log metrics
	EventsLogged = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_events_logged_total",
			Help: "Total number of security events appended to the event log",
		},
		[]string{"type", "severity"},
	)

	EventsDropped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_events_dropped_total",
			Help: "Events dropped because the async append buffer was full",
		},
	)

	EventsArchived = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_events_archived_total",
			Help: "Events handed to the archiver during log rotation",
		},
	)

	// Classifier metrics
	Classifications = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_classifications_total",
			Help: "Content classifications by resulting threat level",
		},
		[]string{"content_type", "threat_level"},
	)

	ClassifyDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "palisade_classify_duration_seconds",
			Help:    "Duration of content classification calls",
			Buckets: prometheus.DefBuckets,
		},
	)

	// Validator metrics
	ValidationFailures = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_validation_failures_total",
			Help: "Request validation failures by attack type",
		},
		[]string{"attack_type"},
	)

	TokensIssued = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_csrf_tokens_issued_total",
			Help: "CSRF tokens generated",
		},
	)

	// Anomaly scorer metrics
	SweepDuration = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "palisade_anomaly_sweep_duration_seconds",
			Help:    "Duration of periodic anomaly sweeps",
			Buckets: prometheus.DefBuckets,
		},
	)

	SweepsSkipped = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_anomaly_sweeps_skipped_total",
			Help: "Sweep ticks skipped because a sweep was still running",
		},
	)

	AnomalyScores = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "palisade_anomaly_score",
			Help:    "Distribution of composite anomaly scores",
			Buckets: []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0},
		},
	)

	// Alert lifecycle metrics
	AlertsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_alerts_created_total",
			Help: "Alerts created by type and priority",
		},
		[]string{"type", "priority"},
	)

	AlertsSuppressed = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_alerts_suppressed_total",
			Help: "Alert notifications suppressed by cooldown or quiet hours",
		},
		[]string{"reason"},
	)

	AlertsEscalated = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "palisade_alerts_escalated_total",
			Help: "Alerts auto-escalated after the acknowledgement deadline",
		},
	)

	NotificationsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "palisade_notifications_sent_total",
			Help: "Notifications dispatched by channel and outcome",
		},
		[]string{"channel", "outcome"},
	)
)
