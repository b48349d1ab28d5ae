// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package alerting

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/goccy/go-json"
	"github.com/sony/gobreaker/v2"

	"github.com/palisade-sec/palisade/internal/logging"
)

// WebhookNotifier delivers alerts to a generic webhook endpoint. Sends
// run through a circuit breaker so a dead endpoint stops consuming
// request-path goroutines quickly.
type WebhookNotifier struct {
	webhookURL string
	headers    map[string]string
	client     *http.Client
	breaker    *gobreaker.CircuitBreaker[struct{}]
	enabled    bool
	mu         sync.RWMutex
}

// WebhookConfig configures the webhook notifier.
type WebhookConfig struct {
	WebhookURL string            `json:"webhook_url" koanf:"webhook_url" validate:"omitempty,url"`
	Headers    map[string]string `json:"headers,omitempty" koanf:"headers"`
	Enabled    bool              `json:"enabled" koanf:"enabled"`
	TimeoutMs  int               `json:"timeout_ms" koanf:"timeout_ms"`
}

// WebhookPayload is the JSON body posted to the endpoint.
type WebhookPayload struct {
	Alert     *Alert    `json:"alert"`
	EventType string    `json:"event_type"`
	Timestamp time.Time `json:"timestamp"`
	Source    string    `json:"source"`
}

// NewWebhookNotifier creates a webhook notifier.
func NewWebhookNotifier(config WebhookConfig) *WebhookNotifier {
	timeout := time.Duration(config.TimeoutMs) * time.Millisecond
	if timeout == 0 {
		timeout = 10 * time.Second
	}

	headers := make(map[string]string)
	for k, v := range config.Headers {
		headers[k] = v
	}

	breaker := gobreaker.NewCircuitBreaker[struct{}](gobreaker.Settings{
		Name:    "alert-webhook",
		Timeout: 30 * time.Second,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= 5
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logging.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("webhook circuit breaker state change")
		},
	})

	return &WebhookNotifier{
		webhookURL: config.WebhookURL,
		headers:    headers,
		enabled:    config.Enabled,
		breaker:    breaker,
		client: &http.Client{
			Timeout: timeout,
		},
	}
}

// Name returns the notifier name.
func (n *WebhookNotifier) Name() string {
	return "webhook"
}

// Enabled returns whether this notifier is enabled.
func (n *WebhookNotifier) Enabled() bool {
	n.mu.RLock()
	defer n.mu.RUnlock()
	return n.enabled && n.webhookURL != ""
}

// SetEnabled enables or disables the notifier.
func (n *WebhookNotifier) SetEnabled(enabled bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.enabled = enabled
}

// SetWebhookURL updates the endpoint.
func (n *WebhookNotifier) SetWebhookURL(url string) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.webhookURL = url
}

// Send delivers an alert through the circuit breaker.
func (n *WebhookNotifier) Send(ctx context.Context, alert *Alert) error {
	n.mu.RLock()
	if !n.enabled || n.webhookURL == "" {
		n.mu.RUnlock()
		return nil
	}
	webhookURL := n.webhookURL
	headers := make(map[string]string)
	for k, v := range n.headers {
		headers[k] = v
	}
	n.mu.RUnlock()

	_, err := n.breaker.Execute(func() (struct{}, error) {
		return struct{}{}, n.post(ctx, webhookURL, headers, alert)
	})
	return err
}

func (n *WebhookNotifier) post(ctx context.Context, url string, headers map[string]string, alert *Alert) error {
	payload := WebhookPayload{
		Alert:     alert,
		EventType: "security_alert",
		Timestamp: time.Now(),
		Source:    "palisade",
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("failed to marshal webhook payload: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, "POST", url, bytes.NewReader(body))
	if err != nil {
		return fmt.Errorf("failed to create webhook request: %w", err)
	}

	req.Header.Set("Content-Type", "application/json")
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := n.client.Do(req)
	if err != nil {
		return fmt.Errorf("failed to send webhook: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode >= 400 {
		return fmt.Errorf("webhook returned status %d", resp.StatusCode)
	}
	return nil
}
