// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package alerting

import (
	"context"
	"sync"

	"github.com/palisade-sec/palisade/internal/logging"
)

// StubNotifier stands in for external channel adapters (email, SMS,
// chat) that are wired by the embedding application. It logs the alert
// and records it for inspection.
type StubNotifier struct {
	name string

	mu      sync.Mutex
	enabled bool
	sent    []*Alert
}

// NewEmailNotifier returns a stub for an email channel.
func NewEmailNotifier() *StubNotifier {
	return &StubNotifier{name: "email", enabled: true}
}

// NewSMSNotifier returns a stub for an SMS channel.
func NewSMSNotifier() *StubNotifier {
	return &StubNotifier{name: "sms", enabled: true}
}

// NewChatNotifier returns a stub for a chat channel.
func NewChatNotifier() *StubNotifier {
	return &StubNotifier{name: "chat", enabled: true}
}

// Name returns the notifier name.
func (n *StubNotifier) Name() string {
	return n.name
}

// Enabled returns whether this notifier is enabled.
func (n *StubNotifier) Enabled() bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.enabled
}

// SetEnabled enables or disables the notifier.
func (n *StubNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// Send records the alert and logs it.
func (n *StubNotifier) Send(_ context.Context, alert *Alert) error {
	n.mu.Lock()
	n.sent = append(n.sent, alert)
	n.mu.Unlock()

	logging.Info().
		Str("channel", n.name).
		Str("alert_id", alert.ID).
		Str("type", string(alert.Type)).
		Str("priority", alert.Priority.String()).
		Msg("alert notification")
	return nil
}

// Sent returns a copy of the delivered alerts.
func (n *StubNotifier) Sent() []*Alert {
	n.mu.Lock()
	defer n.mu.Unlock()
	return append([]*Alert(nil), n.sent...)
}
