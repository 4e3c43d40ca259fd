package relay

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"schoolbell/internal/eventbus"
)

type MQTTConfig struct {
	Enabled  bool
	Broker   string
	ClientID string
	Username string
	Password string
	Prefix   string // topic prefix; default "schoolbell"
	QoS      byte
}

// publisher is the part of mqtt.Client the sink uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
}

// MQTTSink publishes each event to <prefix>/<tenant>/<event> for bell
// controllers on the school network. Alarm events are retained so a controller
// that reconnects learns the current alarm state.
type MQTTSink struct {
	client publisher
	prefix string
	qos    byte
}

// DialMQTT connects to the broker and returns the client.
func DialMQTT(cfg MQTTConfig) (mqtt.Client, error) {
	opts := mqtt.NewClientOptions()
	opts.AddBroker(cfg.Broker)
	clientID := cfg.ClientID
	if clientID == "" {
		clientID = "schoolbell"
	}
	opts.SetClientID(clientID)
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetCleanSession(true)
	opts.SetConnectTimeout(10 * time.Second)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect mqtt broker: %w", token.Error())
	}
	return client, nil
}

func NewMQTTSink(client publisher, prefix string, qos byte) *MQTTSink {
	if prefix == "" {
		prefix = "schoolbell"
	}
	return &MQTTSink{client: client, prefix: strings.TrimSuffix(prefix, "/"), qos: qos}
}

func (m *MQTTSink) Name() string { return "mqtt" }

func (m *MQTTSink) Topic(tenant, event string) string {
	return m.prefix + "/" + tenant + "/" + event
}

func (m *MQTTSink) Send(ctx context.Context, e eventbus.Event) error {
	b, err := json.Marshal(e)
	if err != nil {
		return err
	}
	retained := e.Name == eventbus.PlayAlert || e.Name == eventbus.StopAlert
	topic := m.Topic(e.Tenant, e.Name)
	tok := m.client.Publish(topic, m.qos, retained, b)
	select {
	case <-tok.Done():
	case <-ctx.Done():
		return ctx.Err()
	}
	if err := tok.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", topic, err)
	}
	return nil
}
