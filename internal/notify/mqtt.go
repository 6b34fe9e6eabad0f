// Package notify announces finished uploads to other systems.
package notify

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/audiolibrelab/micnote/internal/config"
	"github.com/audiolibrelab/micnote/internal/session"
)

const publishTimeout = 10 * time.Second

// Notifier is told about every successful upload
type Notifier interface {
	Notify(ctx context.Context, record *session.UploadRecord) error
	Close()
}

// publisher is the part of mqtt.Client the notifier uses
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTNotifier publishes upload records as JSON
type MQTTNotifier struct {
	client publisher
	topic  string
}

// NewMQTT connects to the configured broker. It returns nil, nil when no
// broker is configured.
func NewMQTT(cfg config.MQTTConfig) (*MQTTNotifier, error) {
	if cfg.Broker == "" {
		return nil, nil
	}

	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	opts.SetClientID(cfg.ClientID)
	opts.SetUsername(cfg.Username)
	opts.SetPassword(cfg.Password)
	opts.SetAutoReconnect(true)
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		slog.Warn("MQTT connection lost", "broker", cfg.Broker, "error", err)
	})

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("failed to connect to MQTT broker: %w", token.Error())
	}

	slog.Info("Connected to MQTT broker", "broker", cfg.Broker, "topic", cfg.Topic)
	return &MQTTNotifier{client: client, topic: cfg.Topic}, nil
}

func (n *MQTTNotifier) Notify(ctx context.Context, record *session.UploadRecord) error {
	payload, err := json.Marshal(record)
	if err != nil {
		return fmt.Errorf("failed to marshal upload record: %w", err)
	}

	topic := formatTopic(n.topic, record.DeviceID)
	token := n.client.Publish(topic, 1, false, payload)

	select {
	case <-token.Done():
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(publishTimeout):
		return fmt.Errorf("timed out publishing to %s", topic)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("failed to publish upload record: %w", err)
	}

	slog.Debug("Published upload record", "topic", topic, "row_key", record.RowKey)
	return nil
}

func (n *MQTTNotifier) Close() {
	n.client.Disconnect(250)
}

// formatTopic replaces the {device_id} placeholder
func formatTopic(pattern, deviceID string) string {
	return strings.ReplaceAll(pattern, "{device_id}", deviceID)
}
