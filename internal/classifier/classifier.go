// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package classifier

import (
	"time"

	"github.com/goccy/go-json"

	"github.com/palisade-sec/palisade/internal/eventlog"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/metrics"
)

// EventRecorder is the event log append surface the classifier needs.
// Satisfied by *eventlog.Recorder.
type EventRecorder interface {
	Record(e *eventlog.Event) bool
}

// Classifier scans untrusted content against the signature tables and
// produces sanitized output. Classification itself is pure; the only
// side effect is a best-effort event log write for non-LOW findings.
type Classifier struct {
	config   Config
	recorder EventRecorder
}

// New creates a classifier. recorder may be nil to disable event logging.
func New(config Config, recorder EventRecorder) *Classifier {
	if config.MaxContentLength <= 0 {
		config.MaxContentLength = DefaultConfig().MaxContentLength
	}
	if config.EncodingRatioThreshold <= 0 {
		config.EncodingRatioThreshold = DefaultConfig().EncodingRatioThreshold
	}
	if config.MaxSamples <= 0 {
		config.MaxSamples = DefaultConfig().MaxSamples
	}
	if config.SampleLength <= 0 {
		config.SampleLength = DefaultConfig().SampleLength
	}

	return &Classifier{config: config, recorder: recorder}
}

// MaxContentLength reports the scan ceiling after defaulting.
func (c *Classifier) MaxContentLength() int {
	return c.config.MaxContentLength
}

// Classify evaluates content and returns a threat finding including the
// sanitized rendition. It never panics: any internal failure yields the
// fail-secure result (CRITICAL threat, empty sanitized output).
func (c *Classifier) Classify(content string, contentType ContentType) (finding Finding) {
	start := time.Now()

	defer func() {
		if r := recover(); r != nil {
			logging.Error().Interface("panic", r).Msg("classifier panic, failing secure")
			finding = Finding{
				IsThreat:    true,
				Confidence:  1.0,
				Level:       ThreatCritical,
				Sanitized:   "",
				ContentType: contentType,
			}
		}
		finding.Duration = time.Since(start)
		metrics.ClassifyDuration.Observe(finding.Duration.Seconds())
		metrics.Classifications.WithLabelValues(string(contentType), string(finding.Level)).Inc()
		c.logFinding(&finding)
	}()

	finding = c.classify(content, contentType)
	return finding
}

// classify runs the layered detection.
func (c *Classifier) classify(content string, contentType ContentType) Finding {
	finding := Finding{
		Level:       ThreatLow,
		ContentType: contentType,
	}

	// Cost bound: oversized content is flagged MEDIUM without scanning.
	if len(content) > c.config.MaxContentLength {
		finding.IsThreat = true
		finding.Truncated = true
		finding.Confidence = mediumThreshold
		finding.Level = ThreatMedium
		finding.Sanitized = ""
		return finding
	}

	confidence := 0.0
	for _, table := range signatureTables {
		matches := 0
		for _, p := range table.patterns {
			found := p.FindAllString(content, -1)
			matches += len(found)
			for _, m := range found {
				if len(finding.MatchedSamples) < c.config.MaxSamples {
					finding.MatchedSamples = append(finding.MatchedSamples, truncate(m, c.config.SampleLength))
				}
			}
		}
		if matches == 0 {
			continue
		}
		if matches > 3 {
			matches = 3
		}
		confidence += table.baseWeight * float64(matches)
		finding.AttackTypes = append(finding.AttackTypes, table.attack)
	}

	if confidence > 1 {
		confidence = 1
	}
	finding.Confidence = confidence
	finding.Level = levelFor(confidence)
	finding.IsThreat = finding.Level != ThreatLow

	// Independent signal: heavily escaped content is suspicious even when
	// no signature fires. Not folded into the category sum.
	if escapedCoverage(content) > c.config.EncodingRatioThreshold {
		finding.EncodingObfuscated = true
		if !finding.hasAttack(AttackEncodingObfuscation) {
			finding.AttackTypes = append(finding.AttackTypes, AttackEncodingObfuscation)
		}
	}

	finding.Sanitized = Sanitize(content, contentType)
	return finding
}

// logFinding writes a security event for non-LOW findings. Best effort:
// a full buffer or missing recorder never affects the caller.
func (c *Classifier) logFinding(finding *Finding) {
	if c.recorder == nil || finding.Level == ThreatLow {
		return
	}

	indicators := make([]string, 0, len(finding.AttackTypes))
	for _, a := range finding.AttackTypes {
		indicators = append(indicators, string(a))
	}

	details, err := json.Marshal(map[string]interface{}{
		"content_type": finding.ContentType,
		"samples":      finding.MatchedSamples,
		"truncated":    finding.Truncated,
	})
	if err != nil {
		details = nil
	}

	c.recorder.Record(&eventlog.Event{
		Type:        eventlog.EventTypeInjection,
		Severity:    severityFor(finding.Level),
		RiskScore:   finding.Confidence,
		Indicators:  indicators,
		Mitigations: []string{"render sanitized output", "reject raw content"},
		Details:     details,
	})
}

// severityFor maps a threat level to an event severity.
func severityFor(level ThreatLevel) eventlog.Severity {
	switch level {
	case ThreatCritical:
		return eventlog.SeverityCritical
	case ThreatHigh:
		return eventlog.SeverityHigh
	case ThreatMedium:
		return eventlog.SeverityMedium
	default:
		return eventlog.SeverityLow
	}
}

func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	return s[:max]
}
