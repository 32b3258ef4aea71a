package sink

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"github.com/mklimuk/timeswipe/record"
)

const (
	DefaultMQTTServer   = "tcp://localhost:1883"
	DefaultMQTTClientID = "timeswipe"
	DefaultMQTTTopic    = "timeswipe/bursts"
)

type MQTTConfig struct {
	Server   string
	ClientID string
	Topic    string
	Username string
	Password string
	// Timeout bounds a publish; zero waits for the default of one second.
	Timeout time.Duration
}

// publisher is the part of mqtt.Client used by the sink.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTT publishes burst statistics as JSON.
type MQTT struct {
	client     publisher
	disconnect func()
	topic      string
	timeout    time.Duration
}

func NewMQTT(cfg MQTTConfig) (*MQTT, error) {
	if cfg.Server == "" {
		cfg.Server = DefaultMQTTServer
	}
	if cfg.ClientID == "" {
		cfg.ClientID = DefaultMQTTClientID
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Server).SetClientID(cfg.ClientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect: %w", token.Error())
	}
	m := newMQTT(client, cfg)
	m.disconnect = func() { client.Disconnect(250) }
	return m, nil
}

func newMQTT(client publisher, cfg MQTTConfig) *MQTT {
	m := &MQTT{client: client, topic: cfg.Topic, timeout: cfg.Timeout}
	if m.topic == "" {
		m.topic = DefaultMQTTTopic
	}
	if m.timeout == 0 {
		m.timeout = time.Second
	}
	return m
}

func (m *MQTT) Write(b record.Batch, dropped uint64) error {
	payload, err := json.Marshal(Summarize(b, dropped))
	if err != nil {
		return err
	}
	token := m.client.Publish(m.topic, 0, false, payload)
	if !token.WaitTimeout(m.timeout) {
		return fmt.Errorf("mqtt publish to %s timed out", m.topic)
	}
	return token.Error()
}

func (m *MQTT) Close() error {
	if m.disconnect != nil {
		m.disconnect()
	}
	return nil
}
