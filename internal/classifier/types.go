// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package classifier detects and sanitizes injected markup, script, URL
// and CSS payloads in untrusted content.
//
// Detection is layered: every attack category keeps an ordered table of
// compiled signature patterns, all categories are checked against the
// full content, and each category contributes a weighted confidence
// component. Encoding obfuscation is tracked as an independent signal so
// heavily escaped payloads are flagged even when no signature fires.
package classifier

import "time"

// ContentType selects the classification and sanitization policy.
type ContentType string

const (
	ContentTypeHTML ContentType = "html"
	ContentTypeText ContentType = "text"
	ContentTypeURL  ContentType = "url"
	ContentTypeCSS  ContentType = "css"
	ContentTypeJSON ContentType = "json"
)

// AttackType identifies an injection attack category.
type AttackType string

const (
	AttackScriptInjection     AttackType = "script_injection"
	AttackMarkupInjection     AttackType = "markup_injection"
	AttackStyleInjection      AttackType = "style_injection"
	AttackAttributeInjection  AttackType = "attribute_injection"
	AttackDOMSinkInjection    AttackType = "dom_sink_injection"
	AttackEncodingObfuscation AttackType = "encoding_obfuscation"
)

// ThreatLevel buckets classification confidence.
type ThreatLevel string

const (
	ThreatLow      ThreatLevel = "low"
	ThreatMedium   ThreatLevel = "medium"
	ThreatHigh     ThreatLevel = "high"
	ThreatCritical ThreatLevel = "critical"
)

// Confidence thresholds for threat level bucketing.
const (
	mediumThreshold   = 0.3
	highThreshold     = 0.6
	criticalThreshold = 0.8
)

// levelFor buckets a confidence value into a threat level.
func levelFor(confidence float64) ThreatLevel {
	switch {
	case confidence >= criticalThreshold:
		return ThreatCritical
	case confidence >= highThreshold:
		return ThreatHigh
	case confidence >= mediumThreshold:
		return ThreatMedium
	default:
		return ThreatLow
	}
}

// Finding is the result of a single classification call. It is derived
// per call and not persisted beyond the event it may trigger.
type Finding struct {
	// IsThreat is true when the finding is MEDIUM or above.
	IsThreat bool `json:"is_threat"`

	// AttackTypes lists the categories that matched.
	AttackTypes []AttackType `json:"attack_types,omitempty"`

	// Confidence is the clamped weighted sum of category matches, in [0,1].
	Confidence float64 `json:"confidence"`

	// Level buckets the confidence (LOW / MEDIUM / HIGH / CRITICAL).
	Level ThreatLevel `json:"level"`

	// MatchedSamples holds truncated samples of matched payload fragments.
	MatchedSamples []string `json:"matched_samples,omitempty"`

	// EncodingObfuscated is set when escape sequences cover more than
	// the configured fraction of the content. Independent of Confidence.
	EncodingObfuscated bool `json:"encoding_obfuscated"`

	// Truncated is set when the content exceeded the length ceiling and
	// pattern scanning was skipped.
	Truncated bool `json:"truncated"`

	// Sanitized is the policy-sanitized rendition of the content.
	Sanitized string `json:"sanitized"`

	// ContentType the finding was produced for.
	ContentType ContentType `json:"content_type"`

	// Duration of the classification call.
	Duration time.Duration `json:"-"`
}

// hasAttack reports whether the finding already carries the category.
func (f *Finding) hasAttack(a AttackType) bool {
	for _, t := range f.AttackTypes {
		if t == a {
			return true
		}
	}
	return false
}

// Config configures the classifier.
type Config struct {
	// MaxContentLength is the scan ceiling. Longer content yields an
	// automatic MEDIUM finding without pattern scanning.
	MaxContentLength int `json:"max_content_length" koanf:"max_content_length"`

	// EncodingRatioThreshold is the escaped-content fraction above which
	// the encoding-obfuscation signal fires.
	EncodingRatioThreshold float64 `json:"encoding_ratio_threshold" koanf:"encoding_ratio_threshold"`

	// MaxSamples bounds the matched-pattern samples kept per finding.
	MaxSamples int `json:"max_samples" koanf:"max_samples"`

	// SampleLength truncates each kept sample.
	SampleLength int `json:"sample_length" koanf:"sample_length"`
}

// DefaultConfig returns sensible defaults.
func DefaultConfig() Config {
	return Config{
		MaxContentLength:       100000,
		EncodingRatioThreshold: 0.2,
		MaxSamples:             5,
		SampleLength:           80,
	}
}
