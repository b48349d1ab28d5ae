// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package eventlog provides the append-only, bounded, queryable store of
// security events. Events are immutable once appended; older entries are
// rotated out to an Archiver when the in-memory bound is reached.
package eventlog

import (
	"time"

	"github.com/goccy/go-json"
)

// EventType categorizes security events. The set is closed: producers pick
// from these constants rather than inventing strings.
type EventType string

const (
	// Authentication events
	EventTypeLoginSuccess EventType = "auth.login_success"
	EventTypeLoginFailure EventType = "auth.login_failure"
	EventTypeLogout       EventType = "auth.logout"
	EventTypeTokenInvalid EventType = "auth.token_invalid"

	// Content and request events
	EventTypeInjection  EventType = "content.injection"
	EventTypeForgery    EventType = "request.forgery"
	EventTypeSuspicious EventType = "request.suspicious"

	// Correlation output
	EventTypeAnomaly EventType = "anomaly.detected"

	// Data access events
	EventTypeDataExport EventType = "data.export"

	// Authorization events
	EventTypeAccessDenied EventType = "authz.denied"
)

// Severity indicates the severity level of a security event.
type Severity string

const (
	SeverityInfo     Severity = "info"
	SeverityLow      Severity = "low"
	SeverityMedium   Severity = "medium"
	SeverityHigh     Severity = "high"
	SeverityCritical Severity = "critical"
)

// Rank returns an ordinal for severity comparisons. Unknown severities
// rank below info.
func (s Severity) Rank() int {
	switch s {
	case SeverityInfo:
		return 1
	case SeverityLow:
		return 2
	case SeverityMedium:
		return 3
	case SeverityHigh:
		return 4
	case SeverityCritical:
		return 5
	default:
		return 0
	}
}

// Actor identifies who or what triggered an event. All fields are
// optional; unauthenticated traffic may carry only an IP address.
type Actor struct {
	UserID    string `json:"user_id,omitempty"`
	SessionID string `json:"session_id,omitempty"`
	DeviceID  string `json:"device_id,omitempty"`
	IPAddress string `json:"ip_address,omitempty"`
}

// Key returns the most specific available identity for per-actor
// grouping: user, then session, then device, then IP.
func (a Actor) Key() string {
	switch {
	case a.UserID != "":
		return "user:" + a.UserID
	case a.SessionID != "":
		return "session:" + a.SessionID
	case a.DeviceID != "":
		return "device:" + a.DeviceID
	case a.IPAddress != "":
		return "ip:" + a.IPAddress
	default:
		return ""
	}
}

// IsZero reports whether the actor carries no identity at all.
func (a Actor) IsZero() bool {
	return a == Actor{}
}

// Event is a single security event. Owned by the event log; immutable
// once appended.
type Event struct {
	// ID is a unique identifier assigned on append if empty.
	ID string `json:"id"`

	// Timestamp when the event occurred.
	Timestamp time.Time `json:"timestamp"`

	// Type categorizes the event.
	Type EventType `json:"type"`

	// Severity of the event.
	Severity Severity `json:"severity"`

	// Actor who triggered the event.
	Actor Actor `json:"actor"`

	// UserAgent of the originating client, if known.
	UserAgent string `json:"user_agent,omitempty"`

	// Resource the event relates to (path, document id, ...).
	Resource string `json:"resource,omitempty"`

	// RiskScore is the composite risk in [0,1] at logging time.
	RiskScore float64 `json:"risk_score"`

	// Indicators are anomaly tags attached by detectors.
	Indicators []string `json:"indicators,omitempty"`

	// Mitigations suggested for this event.
	Mitigations []string `json:"mitigations,omitempty"`

	// CorrelationID links related events.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Details carries event-specific structured payload.
	Details json.RawMessage `json:"details,omitempty"`
}

// clone returns a deep copy so stored events stay immutable.
func (e *Event) clone() *Event {
	dup := *e
	if e.Indicators != nil {
		dup.Indicators = append([]string(nil), e.Indicators...)
	}
	if e.Mitigations != nil {
		dup.Mitigations = append([]string(nil), e.Mitigations...)
	}
	if e.Details != nil {
		dup.Details = append(json.RawMessage(nil), e.Details...)
	}
	return &dup
}

// Filter defines query options for the event log.
type Filter struct {
	// Types filters by event types.
	Types []EventType `json:"types,omitempty"`

	// Severities filters by exact severity levels.
	Severities []Severity `json:"severities,omitempty"`

	// MinSeverity filters by minimum severity rank.
	MinSeverity Severity `json:"min_severity,omitempty"`

	// ActorKey filters by Actor.Key().
	ActorKey string `json:"actor_key,omitempty"`

	// SessionID filters by session.
	SessionID string `json:"session_id,omitempty"`

	// IPAddress filters by source IP.
	IPAddress string `json:"ip_address,omitempty"`

	// CorrelationID filters by correlation ID.
	CorrelationID string `json:"correlation_id,omitempty"`

	// Since is the inclusive start of the time range.
	Since *time.Time `json:"since,omitempty"`

	// Until is the exclusive end of the time range.
	Until *time.Time `json:"until,omitempty"`

	// Limit is the maximum number of results (0 = unlimited).
	Limit int `json:"limit,omitempty"`

	// Offset for pagination.
	Offset int `json:"offset,omitempty"`

	// OrderDesc returns newest events first.
	OrderDesc bool `json:"order_desc,omitempty"`
}

// matches reports whether the event satisfies the filter.
func (f Filter) matches(e *Event) bool {
	if len(f.Types) > 0 && !containsType(f.Types, e.Type) {
		return false
	}
	if len(f.Severities) > 0 && !containsSeverity(f.Severities, e.Severity) {
		return false
	}
	if f.MinSeverity != "" && e.Severity.Rank() < f.MinSeverity.Rank() {
		return false
	}
	if f.ActorKey != "" && e.Actor.Key() != f.ActorKey {
		return false
	}
	if f.SessionID != "" && e.Actor.SessionID != f.SessionID {
		return false
	}
	if f.IPAddress != "" && e.Actor.IPAddress != f.IPAddress {
		return false
	}
	if f.CorrelationID != "" && e.CorrelationID != f.CorrelationID {
		return false
	}
	if f.Since != nil && e.Timestamp.Before(*f.Since) {
		return false
	}
	if f.Until != nil && !e.Timestamp.Before(*f.Until) {
		return false
	}
	return true
}

func containsType(set []EventType, t EventType) bool {
	for _, v := range set {
		if v == t {
			return true
		}
	}
	return false
}

func containsSeverity(set []Severity, s Severity) bool {
	for _, v := range set {
		if v == s {
			return true
		}
	}
	return false
}
