package telemetry

import (
	"encoding/json"
	"fmt"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"
)

// MQTTConfig configures the MQTT publisher.
type MQTTConfig struct {
	Broker   string
	ClientID string
	Topic    string
	Retained bool
}

const publishTimeout = 100 * time.Millisecond

type mqttClient interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) mqtt.Token
	Disconnect(quiesce uint)
}

// MQTTPublisher sends every state as a JSON message.
type MQTTPublisher struct {
	client   mqttClient
	topic    string
	retained bool
	logger   *zap.Logger
}

// NewMQTTPublisher connects to the broker.
func NewMQTTPublisher(cfg MQTTConfig, logger *zap.Logger) (*MQTTPublisher, error) {
	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true)

	client := mqtt.NewClient(opts)
	if token := client.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("connect to %s: %w", cfg.Broker, token.Error())
	}
	p := newMQTTPublisher(client, cfg.Topic, cfg.Retained, logger)
	p.logger.Info("publishing telemetry", zap.String("broker", cfg.Broker), zap.String("topic", cfg.Topic))
	return p, nil
}

func newMQTTPublisher(client mqttClient, topic string, retained bool, logger *zap.Logger) *MQTTPublisher {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &MQTTPublisher{client: client, topic: topic, retained: retained, logger: logger}
}

// Publish does not wait longer than publishTimeout for the broker.
func (p *MQTTPublisher) Publish(state any) error {
	payload, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("encode state: %w", err)
	}
	token := p.client.Publish(p.topic, 0, p.retained, payload)
	if !token.WaitTimeout(publishTimeout) {
		p.logger.Debug("telemetry publish still pending", zap.String("topic", p.topic))
		return nil
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("publish %s: %w", p.topic, err)
	}
	return nil
}

func (p *MQTTPublisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
