// Copyright 2024-2026 Aiku AI

package mqttbridge

import (
	"errors"
	"fmt"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultTimeout bounds every broker operation.
const DefaultTimeout = 10 * time.Second

// ErrTimeout is returned when the broker does not acknowledge in time.
var ErrTimeout = errors.New("mqtt operation timed out")

// Config holds the broker connection settings.
type Config struct {
	Broker      string        `yaml:"broker"`
	ClientID    string        `yaml:"client_id"`
	Username    string        `yaml:"username"`
	Password    string        `yaml:"password"`
	StatusTopic string        `yaml:"status_topic"`
	QoS         byte          `yaml:"qos"`
	Timeout     time.Duration `yaml:"timeout"`
}

func (c *Config) Enabled() bool {
	return c.Broker != ""
}

type subscription struct {
	topic   string
	handler func(topic string, payload []byte)
}

// PahoTransport is a Transport backed by the Eclipse Paho client. It
// resubscribes after every reconnect, so retained messages are replayed.
type PahoTransport struct {
	client  mqtt.Client
	qos     byte
	timeout time.Duration
	log     zerolog.Logger

	subsMu sync.Mutex
	subs   []subscription
}

// NewPahoTransport creates an unconnected transport for cfg.
func NewPahoTransport(cfg Config, log zerolog.Logger) *PahoTransport {
	t := &PahoTransport{
		qos:     cfg.QoS,
		timeout: cfg.Timeout,
		log:     log.With().Str("component", "mqtt").Str("broker", cfg.Broker).Logger(),
	}
	if t.timeout <= 0 {
		t.timeout = DefaultTimeout
	}
	t.client = mqtt.NewClient(t.clientOptions(cfg))
	return t
}

func (t *PahoTransport) clientOptions(cfg Config) *mqtt.ClientOptions {
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "roomstatus-" + uuid.NewString()
	}
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(clientID).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetCleanSession(true).
		SetConnectTimeout(t.timeout).
		SetOnConnectHandler(t.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			t.log.Warn().Err(err).Msg("Lost connection to broker")
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
		opts.SetPassword(cfg.Password)
	}
	return opts
}

// onConnect restores subscriptions. A clean session forgets them on every
// reconnect.
func (t *PahoTransport) onConnect(client mqtt.Client) {
	t.log.Info().Msg("Connected to broker")
	t.subsMu.Lock()
	subs := append([]subscription(nil), t.subs...)
	t.subsMu.Unlock()
	for _, sub := range subs {
		token := client.Subscribe(sub.topic, t.qos, t.messageHandler(sub.handler))
		if err := t.wait(token); err != nil {
			t.log.Error().Err(err).Str("topic", sub.topic).Msg("Failed to resubscribe")
		}
	}
}

// Connect dials the broker and waits for the first connection.
func (t *PahoTransport) Connect() error {
	if err := t.wait(t.client.Connect()); err != nil {
		return fmt.Errorf("failed to connect to broker: %w", err)
	}
	return nil
}

// Close disconnects, giving in-flight messages a moment to go out.
func (t *PahoTransport) Close() {
	t.client.Disconnect(250)
}

func (t *PahoTransport) Publish(topic string, payload []byte, retain bool) error {
	return t.wait(t.client.Publish(topic, t.qos, retain, payload))
}

// Subscribe records the subscription and, when connected, subscribes right
// away. Otherwise it takes effect on the next connect.
func (t *PahoTransport) Subscribe(topic string, handler func(topic string, payload []byte)) error {
	t.subsMu.Lock()
	t.subs = append(t.subs, subscription{topic: topic, handler: handler})
	t.subsMu.Unlock()
	if !t.client.IsConnectionOpen() {
		return nil
	}
	return t.wait(t.client.Subscribe(topic, t.qos, t.messageHandler(handler)))
}

func (t *PahoTransport) messageHandler(handler func(string, []byte)) mqtt.MessageHandler {
	return func(_ mqtt.Client, msg mqtt.Message) {
		handler(msg.Topic(), msg.Payload())
	}
}

func (t *PahoTransport) wait(token mqtt.Token) error {
	if !token.WaitTimeout(t.timeout) {
		return ErrTimeout
	}
	return token.Error()
}
