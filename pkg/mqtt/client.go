// Package mqtt publishes completed forecasts to an MQTT broker for
// downstream dashboards
package mqtt

import (
	"encoding/json"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"

	"github.com/epitrend/epitrend/pkg/forecast"
	"github.com/epitrend/epitrend/pkg/logx"
)

// Config holds MQTT publisher configuration
type Config struct {
	Broker      string `json:"broker"`
	Port        int    `json:"port"`
	ClientID    string `json:"client_id"`
	Username    string `json:"username"`
	Password    string `json:"password"`
	TopicPrefix string `json:"topic_prefix"`
	QoS         int    `json:"qos"`
	Retain      bool   `json:"retain"`
	Enabled     bool   `json:"enabled"`
}

// DefaultConfig returns default MQTT configuration
func DefaultConfig() Config {
	return Config{
		Broker:      "localhost",
		Port:        1883,
		ClientID:    "epitrendd",
		TopicPrefix: "epitrend",
		QoS:         1,
		Retain:      false,
		Enabled:     false,
	}
}

// Publisher pushes forecast payloads to the broker
type Publisher struct {
	client MQTT.Client
	config Config
	logger *logx.Logger
}

// NewPublisher creates an MQTT publisher
func NewPublisher(config Config, logger *logx.Logger) *Publisher {
	return &Publisher{config: config, logger: logger}
}

// Connect establishes the broker connection. A disabled publisher
// connects to nothing and publishes nothing.
func (p *Publisher) Connect() error {
	if !p.config.Enabled {
		p.logger.Debug("MQTT publisher disabled")
		return nil
	}

	opts := MQTT.NewClientOptions()
	opts.AddBroker(fmt.Sprintf("tcp://%s:%d", p.config.Broker, p.config.Port))
	opts.SetClientID(p.config.ClientID)
	if p.config.Username != "" {
		opts.SetUsername(p.config.Username)
		opts.SetPassword(p.config.Password)
	}
	opts.SetAutoReconnect(true)
	opts.SetConnectRetry(true)
	opts.SetConnectRetryInterval(5 * time.Second)
	opts.SetMaxReconnectInterval(1 * time.Minute)
	opts.SetOnConnectHandler(func(MQTT.Client) {
		p.logger.Info("MQTT connected", "broker", p.config.Broker, "port", p.config.Port)
	})
	opts.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		p.logger.Warn("MQTT connection lost", "error", err)
	})

	p.client = MQTT.NewClient(opts)
	if token := p.client.Connect(); token.Wait() && token.Error() != nil {
		return fmt.Errorf("connect to MQTT broker: %w", token.Error())
	}
	return nil
}

// payload is the published forecast document
type payload struct {
	Region    string           `json:"region,omitempty"`
	Disease   string           `json:"disease,omitempty"`
	Generated time.Time        `json:"generated_at"`
	Forecast  *forecast.Result `json:"forecast"`
}

// PublishForecast pushes one delivered forecast to
// <prefix>/forecast/<region>
func (p *Publisher) PublishForecast(region, disease string, res *forecast.Result) error {
	if !p.config.Enabled || p.client == nil {
		return nil
	}

	topic := fmt.Sprintf("%s/forecast/%s", p.config.TopicPrefix, topicSegment(region))
	data, err := json.Marshal(payload{
		Region:    region,
		Disease:   disease,
		Generated: time.Now().UTC(),
		Forecast:  res,
	})
	if err != nil {
		return fmt.Errorf("encode forecast payload: %w", err)
	}

	token := p.client.Publish(topic, byte(p.config.QoS), p.config.Retain, data)
	if token.Wait() && token.Error() != nil {
		return fmt.Errorf("publish forecast: %w", token.Error())
	}
	p.logger.Debug("forecast published", "topic", topic, "bytes", len(data))
	return nil
}

// Disconnect closes the broker connection
func (p *Publisher) Disconnect() {
	if p.client != nil && p.client.IsConnected() {
		p.client.Disconnect(250)
	}
}

// topicSegment keeps region names usable as topic levels
func topicSegment(s string) string {
	if s == "" {
		return "all"
	}
	out := make([]rune, 0, len(s))
	for _, r := range s {
		switch r {
		case '/', '+', '#', ' ':
			out = append(out, '_')
		default:
			out = append(out, r)
		}
	}
	return string(out)
}
