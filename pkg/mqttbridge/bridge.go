// Copyright 2024-2026 Aiku AI

// Package mqttbridge maps room statuses to MQTT payloads and back.
package mqttbridge

import (
	"fmt"

	"github.com/rs/zerolog"

	"github.com/aiku/roomstatus/pkg/roomstatus"
)

// Transport is the minimal MQTT client the bridge needs.
type Transport interface {
	Publish(topic string, payload []byte, retain bool) error
	Subscribe(topic string, handler func(topic string, payload []byte)) error
}

// Bridge publishes status changes to the status topic and turns messages on
// it back into statuses.
type Bridge struct {
	transport Transport
	table     *roomstatus.StatusTable
	topic     string
	log       zerolog.Logger
}

// New creates a bridge. An empty topic disables publishing and subscribing.
func New(transport Transport, table *roomstatus.StatusTable, topic string, log zerolog.Logger) *Bridge {
	return &Bridge{
		transport: transport,
		table:     table,
		topic:     topic,
		log:       log.With().Str("component", "mqtt").Str("topic", topic).Logger(),
	}
}

// PayloadFromStatus returns the wire form of status. Statuses without a
// config are sent as closed.
func (b *Bridge) PayloadFromStatus(status roomstatus.RoomStatus) []byte {
	return []byte(b.table.BrokerName(status))
}

// StatusFromPayload is the reverse lookup over concrete statuses. Payloads
// nobody configured give StatusUnknown.
func (b *Bridge) StatusFromPayload(payload []byte) roomstatus.RoomStatus {
	return b.table.StatusFromBrokerName(string(payload))
}

// PublishStatus publishes status to the status topic. It is a no-op when no
// topic is configured.
func (b *Bridge) PublishStatus(status roomstatus.RoomStatus, retain bool) error {
	if b.topic == "" {
		return nil
	}
	payload := b.PayloadFromStatus(status)
	if err := b.transport.Publish(b.topic, payload, retain); err != nil {
		return fmt.Errorf("failed to publish %s to %s: %w", payload, b.topic, err)
	}
	b.log.Debug().Str("payload", string(payload)).Bool("retain", retain).Msg("Published status")
	return nil
}

// Subscribe delivers every recognised status on the status topic to
// onStatus. Unknown payloads and other topics are logged and dropped.
// onStatus runs on the transport's goroutine and must not block.
func (b *Bridge) Subscribe(onStatus func(roomstatus.RoomStatus)) error {
	if b.topic == "" {
		return nil
	}
	err := b.transport.Subscribe(b.topic, func(topic string, payload []byte) {
		if topic != b.topic {
			b.log.Debug().Str("message_topic", topic).Msg("Ignoring message on unexpected topic")
			return
		}
		status := b.StatusFromPayload(payload)
		if status == roomstatus.StatusUnknown {
			b.log.Warn().Str("payload", string(payload)).Msg("Ignoring unknown status payload")
			return
		}
		onStatus(status)
	})
	if err != nil {
		return fmt.Errorf("failed to subscribe to %s: %w", b.topic, err)
	}
	return nil
}
