// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package anomaly correlates events into a composite risk score built
// from four independently capped signals: threat intel, sequence
// patterns, behavioral baseline deviation, and statistical heuristics.
package anomaly

import (
	"time"

	"github.com/palisade-sec/palisade/internal/eventlog"
)

// Pattern names a correlated event sequence.
type Pattern string

const (
	PatternBruteForce         Pattern = "brute_force"
	PatternCredentialStuffing Pattern = "credential_stuffing"
	PatternSessionHijack      Pattern = "session_hijack"
)

// patternSeverity is the floor severity an anomaly event carries when
// the pattern matched, independent of the composite score.
var patternSeverity = map[Pattern]eventlog.Severity{
	PatternBruteForce:         eventlog.SeverityCritical,
	PatternCredentialStuffing: eventlog.SeverityCritical,
	PatternSessionHijack:      eventlog.SeverityCritical,
}

// PatternMatch is one matched sequence pattern.
type PatternMatch struct {
	Pattern Pattern `json:"pattern"`

	// RiskMultiplier scales the pattern's score contribution.
	RiskMultiplier float64 `json:"risk_multiplier"`

	// Evidence summarizes why the pattern matched.
	Evidence string `json:"evidence"`
}

// Components is the per-signal score breakdown, each already capped.
type Components struct {
	Intel       float64 `json:"intel"`
	Sequence    float64 `json:"sequence"`
	Baseline    float64 `json:"baseline"`
	Statistical float64 `json:"statistical"`
}

// Result is the outcome of analyzing one event.
type Result struct {
	// Score is the clamped composite risk in [0,1].
	Score float64 `json:"score"`

	// Severity derived from Score and matched patterns.
	Severity eventlog.Severity `json:"severity"`

	// Components break the score down by signal.
	Components Components `json:"components"`

	// Patterns matched by the sequence matchers.
	Patterns []PatternMatch `json:"patterns,omitempty"`

	// Indicators aggregate tags from all signals.
	Indicators []string `json:"indicators,omitempty"`
}

// Anomalous reports whether the result crosses the low threshold.
func (r Result) Anomalous() bool {
	return r.Score >= thresholdLow
}

// Score thresholds mapping to severities.
const (
	thresholdLow      = 0.3
	thresholdMedium   = 0.5
	thresholdHigh     = 0.7
	thresholdCritical = 0.9
)

// severityForScore buckets a composite score.
func severityForScore(score float64) eventlog.Severity {
	switch {
	case score >= thresholdCritical:
		return eventlog.SeverityCritical
	case score >= thresholdHigh:
		return eventlog.SeverityHigh
	case score >= thresholdMedium:
		return eventlog.SeverityMedium
	case score >= thresholdLow:
		return eventlog.SeverityLow
	default:
		return eventlog.SeverityInfo
	}
}

// Per-signal caps.
const (
	capIntel       = 0.5
	capSequence    = 0.5
	capBaseline    = 0.5
	capStatistical = 0.3
)

// Config tunes the scorer and its periodic sweep.
type Config struct {
	// SweepInterval between periodic sweeps over the recent window.
	SweepInterval time.Duration `json:"sweep_interval" koanf:"sweep_interval"`

	// SweepWindow bounds how far back a sweep reads.
	SweepWindow time.Duration `json:"sweep_window" koanf:"sweep_window"`

	// LearningWindow bounds the history used to build baselines.
	LearningWindow time.Duration `json:"learning_window" koanf:"learning_window"`

	// MinBaselineEvents is the history size below which no baseline is
	// established and deviation contributes zero.
	MinBaselineEvents int `json:"min_baseline_events" koanf:"min_baseline_events" validate:"omitempty,min=1"`

	// BruteForceThreshold is the login-failure count per actor within
	// BruteForceWindow that flags the pattern.
	BruteForceThreshold int           `json:"brute_force_threshold" koanf:"brute_force_threshold"`
	BruteForceWindow    time.Duration `json:"brute_force_window" koanf:"brute_force_window"`

	// StuffingIPThreshold and StuffingEventThreshold flag credential
	// stuffing within StuffingWindow.
	StuffingIPThreshold    int           `json:"stuffing_ip_threshold" koanf:"stuffing_ip_threshold"`
	StuffingEventThreshold int           `json:"stuffing_event_threshold" koanf:"stuffing_event_threshold"`
	StuffingWindow         time.Duration `json:"stuffing_window" koanf:"stuffing_window"`

	// HijackWindow bounds the session-hijack IP comparison.
	HijackWindow time.Duration `json:"hijack_window" koanf:"hijack_window"`

	// RapidFireThreshold is the per-actor event count within one second
	// that trips the statistical burst heuristic.
	RapidFireThreshold int `json:"rapid_fire_threshold" koanf:"rapid_fire_threshold"`
}

// DefaultConfig returns the scorer defaults.
func DefaultConfig() Config {
	return Config{
		SweepInterval:          30 * time.Second,
		SweepWindow:            10 * time.Minute,
		LearningWindow:         7 * 24 * time.Hour,
		MinBaselineEvents:      100,
		BruteForceThreshold:    3,
		BruteForceWindow:       5 * time.Minute,
		StuffingIPThreshold:    5,
		StuffingEventThreshold: 20,
		StuffingWindow:         10 * time.Minute,
		HijackWindow:           10 * time.Minute,
		RapidFireThreshold:     10,
	}
}
