// Palisade - Web Application Threat Detection and Alerting
// Copyright 2026 Palisade Authors
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/palisade-sec/palisade

package alerting

import (
	"context"

	"github.com/ThreeDotsLabs/watermill"
	"github.com/ThreeDotsLabs/watermill/message"
	"github.com/ThreeDotsLabs/watermill/pubsub/gochannel"
	"github.com/goccy/go-json"
	"github.com/google/uuid"

	"github.com/palisade-sec/palisade/internal/logging"
)

// Topics for in-process alert fan-out.
const (
	TopicAlertCreated   = "alerts.created"
	TopicAlertUpdated   = "alerts.updated"
	TopicAlertEscalated = "alerts.escalated"
)

// Bus is the in-process publish/subscribe channel for alert events.
// Subscribers are explicit and enumerable; the UI surface and channel
// adapters subscribe here rather than hooking manager internals.
type Bus struct {
	pubsub *gochannel.GoChannel
}

// NewBus creates an in-process alert bus.
func NewBus() *Bus {
	return &Bus{
		pubsub: gochannel.NewGoChannel(gochannel.Config{
			OutputChannelBuffer: 64,
		}, watermill.NopLogger{}),
	}
}

// PublishAlert serializes the alert and publishes it on the topic.
// Best effort: failures are logged and swallowed.
func (b *Bus) PublishAlert(topic string, alert *Alert) {
	payload, err := json.Marshal(alert)
	if err != nil {
		logging.Err(err).Str("topic", topic).Msg("alert marshal failed")
		return
	}

	msg := message.NewMessage(uuid.NewString(), payload)
	if err := b.pubsub.Publish(topic, msg); err != nil {
		logging.Err(err).Str("topic", topic).Msg("alert publish failed")
	}
}

// Subscribe returns the message stream for a topic. The subscription
// ends when ctx is cancelled.
func (b *Bus) Subscribe(ctx context.Context, topic string) (<-chan *message.Message, error) {
	return b.pubsub.Subscribe(ctx, topic)
}

// Close shuts the bus down and closes all subscriber channels.
func (b *Bus) Close() error {
	return b.pubsub.Close()
}

// DecodeAlert unmarshals a bus message back into an Alert.
func DecodeAlert(msg *message.Message) (*Alert, error) {
	var alert Alert
	if err := json.Unmarshal(msg.Payload, &alert); err != nil {
		return nil, err
	}
	return &alert, nil
}
