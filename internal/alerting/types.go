// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

// Package alerting manages the lifecycle of security alerts: creation
// from typed configurations, cooldown-gated notification fan-out,
// quiet hours, escalation timers, and status transitions.
package alerting

import (
	"context"
	"time"

	"github.com/goccy/go-json"

	"github.com/palisade-sec/palisade/internal/eventlog"
)

// AlertType is the closed set of alert categories.
type AlertType string

const (
	AlertTypeAuthFailure        AlertType = "authentication_failure"
	AlertTypeBruteForce         AlertType = "brute_force"
	AlertTypeCredentialStuffing AlertType = "credential_stuffing"
	AlertTypeSessionHijack      AlertType = "session_hijack"
	AlertTypeInjection          AlertType = "injection_attempt"
	AlertTypeForgery            AlertType = "forgery_attempt"
	AlertTypeSuspicious         AlertType = "suspicious_activity"
	AlertTypeAnomaly            AlertType = "anomaly"
	AlertTypeDataExfiltration   AlertType = "data_exfiltration"
)

// Priority ranks alerts; P1 is the most urgent.
type Priority int

const (
	PriorityP1 Priority = 1
	PriorityP2 Priority = 2
	PriorityP3 Priority = 3
	PriorityP4 Priority = 4
)

// String returns the display form, e.g. "P1".
func (p Priority) String() string {
	switch p {
	case PriorityP1:
		return "P1"
	case PriorityP2:
		return "P2"
	case PriorityP3:
		return "P3"
	case PriorityP4:
		return "P4"
	default:
		return "P?"
	}
}

// Status is the alert state machine. Active transitions to exactly one
// of the other states; those are terminal.
type Status string

const (
	StatusActive        Status = "active"
	StatusAcknowledged  Status = "acknowledged"
	StatusResolved      Status = "resolved"
	StatusFalsePositive Status = "false_positive"
)

// Terminal reports whether the status accepts no further transitions.
func (s Status) Terminal() bool {
	return s != StatusActive
}

// Alert is a single tracked alert. Mutated only through Manager.
type Alert struct {
	ID        string    `json:"id"`
	Timestamp time.Time `json:"timestamp"`

	Type     AlertType         `json:"type"`
	Priority Priority          `json:"priority"`
	Severity eventlog.Severity `json:"severity"`

	Status Status `json:"status"`

	// Escalated is orthogonal to Status and may flip true while the
	// alert is still active. It is set at most once.
	Escalated bool `json:"escalated"`

	Title       string `json:"title"`
	Description string `json:"description"`

	// ActorKey groups the alert for per-actor cooldowns.
	ActorKey string `json:"actor_key,omitempty"`

	RelatedEventIDs  []string `json:"related_event_ids,omitempty"`
	SuggestedActions []string `json:"suggested_actions,omitempty"`
	TakenActions     []string `json:"taken_actions,omitempty"`

	// ExpiresAt, when set, removes the alert from active listings.
	ExpiresAt *time.Time `json:"expires_at,omitempty"`

	AcknowledgedBy string     `json:"acknowledged_by,omitempty"`
	AcknowledgedAt *time.Time `json:"acknowledged_at,omitempty"`

	// Metadata carries alert-specific structured payload.
	Metadata json.RawMessage `json:"metadata,omitempty"`
}

// clone returns a deep copy for handing out past the manager lock.
func (a *Alert) clone() *Alert {
	dup := *a
	if a.RelatedEventIDs != nil {
		dup.RelatedEventIDs = append([]string(nil), a.RelatedEventIDs...)
	}
	if a.SuggestedActions != nil {
		dup.SuggestedActions = append([]string(nil), a.SuggestedActions...)
	}
	if a.TakenActions != nil {
		dup.TakenActions = append([]string(nil), a.TakenActions...)
	}
	if a.ExpiresAt != nil {
		t := *a.ExpiresAt
		dup.ExpiresAt = &t
	}
	if a.AcknowledgedAt != nil {
		t := *a.AcknowledgedAt
		dup.AcknowledgedAt = &t
	}
	if a.Metadata != nil {
		dup.Metadata = append(json.RawMessage(nil), a.Metadata...)
	}
	return &dup
}

// TypeConfig is the static per-type alert template.
type TypeConfig struct {
	Priority         Priority          `json:"priority"`
	Severity         eventlog.Severity `json:"severity"`
	Title            string            `json:"title"`
	Description      string            `json:"description"`
	SuggestedActions []string          `json:"suggested_actions,omitempty"`

	// Expiry, when non-zero, sets the alert's ExpiresAt.
	Expiry time.Duration `json:"expiry,omitempty"`

	// Cooldown overrides the manager default for this type.
	Cooldown time.Duration `json:"cooldown,omitempty"`
}

// defaultTypeConfigs is the built-in alert catalog.
func defaultTypeConfigs() map[AlertType]TypeConfig {
	return map[AlertType]TypeConfig{
		AlertTypeAuthFailure: {
			Priority:    PriorityP2,
			Severity:    eventlog.SeverityHigh,
			Title:       "Repeated authentication failures",
			Description: "An actor is repeatedly failing to authenticate.",
			SuggestedActions: []string{
				"Review affected account activity",
				"Consider temporary account lockout",
			},
			Cooldown: 5 * time.Minute,
		},
		AlertTypeBruteForce: {
			Priority:    PriorityP1,
			Severity:    eventlog.SeverityCritical,
			Title:       "Brute force attack detected",
			Description: "Sustained login failures against a single account.",
			SuggestedActions: []string{
				"Lock the targeted account",
				"Block the source address",
				"Force credential rotation",
			},
		},
		AlertTypeCredentialStuffing: {
			Priority:    PriorityP1,
			Severity:    eventlog.SeverityCritical,
			Title:       "Credential stuffing campaign",
			Description: "Distributed login attempts across many source addresses.",
			SuggestedActions: []string{
				"Enable progressive rate limiting",
				"Require second factor on login",
			},
		},
		AlertTypeSessionHijack: {
			Priority:    PriorityP1,
			Severity:    eventlog.SeverityCritical,
			Title:       "Possible session hijacking",
			Description: "One session is in use from multiple source addresses.",
			SuggestedActions: []string{
				"Invalidate the session",
				"Notify the account owner",
			},
		},
		AlertTypeInjection: {
			Priority:    PriorityP2,
			Severity:    eventlog.SeverityHigh,
			Title:       "Content injection attempt",
			Description: "Submitted content matched injection signatures.",
			SuggestedActions: []string{
				"Review the sanitized content",
				"Inspect the submitting actor's history",
			},
		},
		AlertTypeForgery: {
			Priority:    PriorityP2,
			Severity:    eventlog.SeverityHigh,
			Title:       "Request forgery attempt",
			Description: "A state-changing request failed every legitimacy check.",
			SuggestedActions: []string{
				"Rotate the session token",
				"Review recent requests from the actor",
			},
		},
		AlertTypeSuspicious: {
			Priority:    PriorityP3,
			Severity:    eventlog.SeverityMedium,
			Title:       "Suspicious activity",
			Description: "Request patterns outside normal behavior.",
			SuggestedActions: []string{
				"Monitor the actor",
			},
			Cooldown: 15 * time.Minute,
			Expiry:   24 * time.Hour,
		},
		AlertTypeAnomaly: {
			Priority:    PriorityP2,
			Severity:    eventlog.SeverityHigh,
			Title:       "Anomalous event correlation",
			Description: "The anomaly scorer flagged correlated events.",
			SuggestedActions: []string{
				"Review the correlated events",
			},
		},
		AlertTypeDataExfiltration: {
			Priority:    PriorityP2,
			Severity:    eventlog.SeverityHigh,
			Title:       "Possible data exfiltration",
			Description: "Unusual data export activity was observed.",
			SuggestedActions: []string{
				"Audit the exported data set",
				"Suspend export privileges pending review",
			},
		},
	}
}

// Notifier delivers alerts to one notification channel.
type Notifier interface {
	// Send delivers an alert to the notification channel.
	Send(ctx context.Context, alert *Alert) error

	// Name returns the notifier name (e.g., "webhook", "email").
	Name() string

	// Enabled returns whether this notifier is enabled.
	Enabled() bool

	// SetEnabled enables or disables the notifier.
	SetEnabled(enabled bool)
}

// ChannelPolicy filters which alerts reach a channel.
type ChannelPolicy struct {
	// Priorities is the inclusion set. Empty means all priorities.
	Priorities []Priority `json:"priorities" koanf:"priorities"`

	// QuietStart and QuietEnd bound the quiet-hours window as "HH:MM".
	// The window may wrap midnight. During quiet hours only P1 alerts
	// notify. Both empty disables quiet hours.
	QuietStart string `json:"quiet_start" koanf:"quiet_start" validate:"omitempty,len=5"`
	QuietEnd   string `json:"quiet_end" koanf:"quiet_end" validate:"omitempty,len=5"`
}

// allows reports whether the policy admits the alert at the given time.
func (p ChannelPolicy) allows(a *Alert, now time.Time) bool {
	if len(p.Priorities) > 0 {
		var included bool
		for _, pr := range p.Priorities {
			if pr == a.Priority {
				included = true
				break
			}
		}
		if !included {
			return false
		}
	}

	if p.QuietStart != "" && p.QuietEnd != "" {
		if inQuietHours(now, p.QuietStart, p.QuietEnd) && a.Priority != PriorityP1 {
			return false
		}
	}

	return true
}

// inQuietHours reports whether now falls inside the [start, end) window.
// Times are "HH:MM" strings; a window with start > end wraps midnight.
func inQuietHours(now time.Time, start, end string) bool {
	current := now.Format("15:04")
	if start <= end {
		return current >= start && current < end
	}
	return current >= start || current < end
}

// Config configures the Manager.
type Config struct {
	// DefaultCooldown applies to types without an override.
	DefaultCooldown time.Duration `json:"default_cooldown" koanf:"default_cooldown"`

	// EscalationTimeout is how long a P1 alert may stay unacknowledged
	// before it escalates.
	EscalationTimeout time.Duration `json:"escalation_timeout" koanf:"escalation_timeout"`

	// MaxAlerts bounds the in-memory store.
	MaxAlerts int `json:"max_alerts" koanf:"max_alerts" validate:"omitempty,min=10"`
}

// DefaultConfig returns the manager defaults.
func DefaultConfig() Config {
	return Config{
		DefaultCooldown:   60 * time.Second,
		EscalationTimeout: 5 * time.Minute,
		MaxAlerts:         1000,
	}
}
