// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package alerting

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/palisade-sec/palisade/internal/clock"
	"github.com/palisade-sec/palisade/internal/logging"
	"github.com/palisade-sec/palisade/internal/metrics"
)

var (
	// ErrUnknownAlertType is returned for types outside the catalog.
	ErrUnknownAlertType = errors.New("unknown alert type")

	// ErrAlertNotFound is returned when an alert id does not exist.
	ErrAlertNotFound = errors.New("alert not found")

	// ErrTerminalStatus is returned for transitions out of a terminal
	// status.
	ErrTerminalStatus = errors.New("alert status is terminal")
)

// channel pairs a notifier with its delivery policy.
type channel struct {
	notifier Notifier
	policy   ChannelPolicy
}

// CreateOptions carry per-alert details into Create.
type CreateOptions struct {
	ActorKey        string
	RelatedEventIDs []string
	Metadata        []byte
}

// Manager owns the alert store, cooldowns, notification fan-out, and
// escalation timers.
type Manager struct {
	config  Config
	catalog map[AlertType]TypeConfig
	clk     clock.Clock
	bus     *Bus

	mu        sync.RWMutex
	alerts    map[string]*Alert
	order     []string // insertion order, for bounded eviction
	cooldowns map[string]*cooldownEntry
	channels  []channel
}

// cooldownEntry tracks when a type (or actor+type) key last notified
// and how many alerts arrived under it since.
type cooldownEntry struct {
	lastFire time.Time
	count    int
}

// NewManager creates a manager. bus may be nil to skip in-process
// fan-out; clk may be nil for wall-clock time.
func NewManager(config Config, bus *Bus, clk clock.Clock) *Manager {
	defaults := DefaultConfig()
	if config.DefaultCooldown == 0 {
		config.DefaultCooldown = defaults.DefaultCooldown
	}
	if config.EscalationTimeout == 0 {
		config.EscalationTimeout = defaults.EscalationTimeout
	}
	if config.MaxAlerts == 0 {
		config.MaxAlerts = defaults.MaxAlerts
	}
	if clk == nil {
		clk = clock.New()
	}

	return &Manager{
		config:    config,
		catalog:   defaultTypeConfigs(),
		clk:       clk,
		bus:       bus,
		alerts:    make(map[string]*Alert),
		cooldowns: make(map[string]*cooldownEntry),
	}
}

// AddChannel registers a notification channel with its policy.
func (m *Manager) AddChannel(n Notifier, policy ChannelPolicy) {
	m.mu.Lock()
	m.channels = append(m.channels, channel{notifier: n, policy: policy})
	m.mu.Unlock()
}

// SetTypeConfig overrides one catalog entry.
func (m *Manager) SetTypeConfig(t AlertType, config TypeConfig) {
	m.mu.Lock()
	m.catalog[t] = config
	m.mu.Unlock()
}

// Create builds an alert from the type catalog and stores it
// unconditionally. Notification fan-out is skipped when the type (or
// actor+type) cooldown is still armed; the alert is stored and
// returned either way.
func (m *Manager) Create(ctx context.Context, t AlertType, opts CreateOptions) (*Alert, error) {
	m.mu.Lock()
	tc, ok := m.catalog[t]
	if !ok {
		m.mu.Unlock()
		return nil, fmt.Errorf("%w: %s", ErrUnknownAlertType, t)
	}

	now := m.clk.Now()
	alert := &Alert{
		ID:               uuid.NewString(),
		Timestamp:        now,
		Type:             t,
		Priority:         tc.Priority,
		Severity:         tc.Severity,
		Status:           StatusActive,
		Title:            tc.Title,
		Description:      tc.Description,
		ActorKey:         opts.ActorKey,
		RelatedEventIDs:  append([]string(nil), opts.RelatedEventIDs...),
		SuggestedActions: append([]string(nil), tc.SuggestedActions...),
		Metadata:         opts.Metadata,
	}
	if tc.Expiry > 0 {
		expires := now.Add(tc.Expiry)
		alert.ExpiresAt = &expires
	}

	m.storeLocked(alert)
	metrics.AlertsCreated.WithLabelValues(string(t), alert.Priority.String()).Inc()

	cooldown := tc.Cooldown
	if cooldown == 0 {
		cooldown = m.config.DefaultCooldown
	}
	key := cooldownKey(t, opts.ActorKey)
	suppressed := false
	suppressedCount := 0
	if entry, armed := m.cooldowns[key]; armed && now.Sub(entry.lastFire) < cooldown {
		entry.count++
		suppressed = true
		suppressedCount = entry.count
	} else {
		m.cooldowns[key] = &cooldownEntry{lastFire: now, count: 1}
	}
	snapshot := alert.clone()
	m.mu.Unlock()

	if snapshot.Priority == PriorityP1 {
		m.armEscalation(snapshot.ID)
	}

	if suppressed {
		metrics.AlertsSuppressed.WithLabelValues("cooldown").Inc()
		logging.Debug().
			Str("alert_id", snapshot.ID).
			Str("type", string(t)).
			Int("cooldown_hits", suppressedCount).
			Msg("alert stored, notification suppressed by cooldown")
	} else {
		m.dispatch(ctx, snapshot)
	}

	if m.bus != nil {
		m.bus.PublishAlert(TopicAlertCreated, snapshot)
	}

	return snapshot, nil
}

// storeLocked inserts the alert, evicting the oldest past the bound.
func (m *Manager) storeLocked(alert *Alert) {
	m.alerts[alert.ID] = alert
	m.order = append(m.order, alert.ID)
	for len(m.order) > m.config.MaxAlerts {
		oldest := m.order[0]
		m.order = m.order[1:]
		delete(m.alerts, oldest)
	}
}

func cooldownKey(t AlertType, actorKey string) string {
	if actorKey == "" {
		return string(t)
	}
	return actorKey + "|" + string(t)
}

// dispatch fans the alert out to every admitting channel. Each send
// runs on its own goroutine; failures are logged, never propagated.
func (m *Manager) dispatch(ctx context.Context, alert *Alert) {
	m.mu.RLock()
	channels := append([]channel(nil), m.channels...)
	m.mu.RUnlock()

	now := m.clk.Now()
	for _, ch := range channels {
		if !ch.notifier.Enabled() {
			continue
		}
		if !ch.policy.allows(alert, now) {
			metrics.AlertsSuppressed.WithLabelValues("policy").Inc()
			continue
		}

		go func(ch channel) {
			if err := ch.notifier.Send(ctx, alert.clone()); err != nil {
				metrics.NotificationsSent.WithLabelValues(ch.notifier.Name(), "error").Inc()
				logging.Err(err).
					Str("channel", ch.notifier.Name()).
					Str("alert_id", alert.ID).
					Msg("notification failed")
				return
			}
			metrics.NotificationsSent.WithLabelValues(ch.notifier.Name(), "ok").Inc()
		}(ch)
	}
}

// armEscalation schedules the one-shot escalation check. The timer
// re-reads alert status at fire time, so acknowledging or resolving
// cancels escalation implicitly.
func (m *Manager) armEscalation(alertID string) {
	m.clk.AfterFunc(m.config.EscalationTimeout, func() {
		m.escalate(alertID)
	})
}

// escalate flips the escalated flag when the alert is still active.
func (m *Manager) escalate(alertID string) {
	m.mu.Lock()
	alert, ok := m.alerts[alertID]
	if !ok || alert.Status != StatusActive || alert.Escalated {
		m.mu.Unlock()
		return
	}
	alert.Escalated = true
	snapshot := alert.clone()
	m.mu.Unlock()

	metrics.AlertsEscalated.Inc()
	logging.Warn().
		Str("alert_id", alertID).
		Str("type", string(snapshot.Type)).
		Str("priority", snapshot.Priority.String()).
		Msg("alert escalated: unacknowledged past timeout")

	// Escalation bypasses cooldown: this is the higher-visibility
	// re-notification.
	m.dispatch(context.Background(), snapshot)

	if m.bus != nil {
		m.bus.PublishAlert(TopicAlertEscalated, snapshot)
	}
}

// Acknowledge transitions an active alert to acknowledged.
func (m *Manager) Acknowledge(id, by string) error {
	return m.transition(id, StatusAcknowledged, func(a *Alert) {
		now := m.clk.Now()
		a.AcknowledgedBy = by
		a.AcknowledgedAt = &now
	})
}

// Resolve transitions an active alert to resolved.
func (m *Manager) Resolve(id string) error {
	return m.transition(id, StatusResolved, nil)
}

// MarkFalsePositive transitions an active alert to false_positive.
func (m *Manager) MarkFalsePositive(id string) error {
	return m.transition(id, StatusFalsePositive, nil)
}

// AddTakenAction appends to the alert's taken-actions list. Allowed in
// any status.
func (m *Manager) AddTakenAction(id, action string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	alert, ok := m.alerts[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	alert.TakenActions = append(alert.TakenActions, action)
	return nil
}

func (m *Manager) transition(id string, to Status, mutate func(*Alert)) error {
	m.mu.Lock()
	alert, ok := m.alerts[id]
	if !ok {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	if alert.Status.Terminal() {
		m.mu.Unlock()
		return fmt.Errorf("%w: %s is %s", ErrTerminalStatus, id, alert.Status)
	}
	alert.Status = to
	if mutate != nil {
		mutate(alert)
	}
	snapshot := alert.clone()
	m.mu.Unlock()

	if m.bus != nil {
		m.bus.PublishAlert(TopicAlertUpdated, snapshot)
	}
	return nil
}

// Get returns a copy of the alert.
func (m *Manager) Get(id string) (*Alert, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	alert, ok := m.alerts[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAlertNotFound, id)
	}
	return alert.clone(), nil
}

// ListActive returns unexpired active alerts ordered by priority
// ascending, then timestamp descending.
func (m *Manager) ListActive() []*Alert {
	now := m.clk.Now()

	m.mu.RLock()
	active := make([]*Alert, 0, len(m.alerts))
	for _, alert := range m.alerts {
		if alert.Status != StatusActive {
			continue
		}
		if alert.ExpiresAt != nil && !now.Before(*alert.ExpiresAt) {
			continue
		}
		active = append(active, alert.clone())
	}
	m.mu.RUnlock()

	sort.Slice(active, func(i, j int) bool {
		if active[i].Priority != active[j].Priority {
			return active[i].Priority < active[j].Priority
		}
		return active[i].Timestamp.After(active[j].Timestamp)
	})
	return active
}

// CleanupExpired removes expired alerts using snapshot-then-delete.
func (m *Manager) CleanupExpired() int {
	now := m.clk.Now()

	m.mu.RLock()
	var expired []string
	for id, alert := range m.alerts {
		if alert.ExpiresAt != nil && !now.Before(*alert.ExpiresAt) {
			expired = append(expired, id)
		}
	}
	m.mu.RUnlock()

	if len(expired) == 0 {
		return 0
	}

	m.mu.Lock()
	removed := 0
	for _, id := range expired {
		if _, ok := m.alerts[id]; ok {
			delete(m.alerts, id)
			removed++
		}
	}
	kept := m.order[:0]
	for _, id := range m.order {
		if _, ok := m.alerts[id]; ok {
			kept = append(kept, id)
		}
	}
	m.order = kept
	m.mu.Unlock()

	logging.Debug().Int("removed", removed).Msg("expired alerts removed")
	return removed
}

// Len returns the number of stored alerts.
func (m *Manager) Len() int {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return len(m.alerts)
}
