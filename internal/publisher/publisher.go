// Package publisher hands rollup and live events to the message bus.
package publisher

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	MQTT "github.com/eclipse/paho.mqtt.golang"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// Event kinds, used as the last topic segment.
const (
	KindDaily   = "daily"
	KindMonthly = "monthly"
	KindLive    = "live"
)

// Publisher delivers one JSON payload per meter event. Delivery is fire-and-forget:
// a nil error means the event was handed to the transport, not that it was acknowledged.
type Publisher interface {
	Publish(meterID, kind string, payload interface{}) error
	Close()
}

// Topic builds "{prefix}/meters/{id}/{kind}".
func Topic(prefix, meterID, kind string) string {
	if prefix == "" {
		return fmt.Sprintf("meters/%s/%s", meterID, kind)
	}
	return fmt.Sprintf("%s/meters/%s/%s", prefix, meterID, kind)
}

// tokenPublisher is the part of MQTT.Client used here.
type tokenPublisher interface {
	Publish(topic string, qos byte, retained bool, payload interface{}) MQTT.Token
}

// MQTTConfig configures the broker connection.
type MQTTConfig struct {
	Broker        string
	ClientID      string
	TopicPrefix   string
	QoS           byte
	Timeout       time.Duration
	RetryInterval time.Duration // pause between connect attempts while the broker is unreachable
}

// MQTTPublisher publishes to an MQTT broker.
type MQTTPublisher struct {
	client tokenPublisher
	closer func()
	prefix string
	qos    byte
	logger *logrus.Logger
}

// NewMQTTPublisher starts connecting to the broker and waits up to cfg.Timeout for the
// first connect. An unreachable broker is not an error: the client keeps retrying in the
// background and events published meanwhile are dropped with a log line.
func NewMQTTPublisher(cfg MQTTConfig, logger *logrus.Logger) (*MQTTPublisher, error) {
	if cfg.Broker == "" {
		return nil, errors.New("mqtt broker is required")
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "pulsegate"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 10 * time.Second
	}
	if cfg.RetryInterval <= 0 {
		cfg.RetryInterval = 30 * time.Second
	}

	options := MQTT.NewClientOptions().AddBroker(cfg.Broker)
	options.SetClientID(cfg.ClientID + "-" + uuid.NewString()[:8])
	options.SetAutoReconnect(true)
	options.SetConnectRetry(true)
	options.SetConnectRetryInterval(cfg.RetryInterval)
	options.SetConnectTimeout(cfg.Timeout)
	options.SetConnectionLostHandler(func(_ MQTT.Client, err error) {
		logger.Warnf("MQTT connection lost: %v", err)
	})
	options.SetOnConnectHandler(func(MQTT.Client) {
		logger.WithField("broker", cfg.Broker).Info("Connected to MQTT broker")
	})

	client := MQTT.NewClient(options)
	token := client.Connect()
	switch {
	case !token.WaitTimeout(cfg.Timeout):
		logger.WithField("broker", cfg.Broker).Warn("MQTT broker not reachable yet, retrying in the background")
	case token.Error() != nil:
		logger.WithField("broker", cfg.Broker).Warnf("MQTT connect failed, retrying in the background: %v", token.Error())
	}

	return &MQTTPublisher{
		client: client,
		closer: func() { client.Disconnect(250) },
		prefix: cfg.TopicPrefix,
		qos:    cfg.QoS,
		logger: logger,
	}, nil
}

func (p *MQTTPublisher) Publish(meterID, kind string, payload interface{}) error {
	data, err := json.Marshal(payload)
	if err != nil {
		return fmt.Errorf("encode %s event for %s: %w", kind, meterID, err)
	}

	topic := Topic(p.prefix, meterID, kind)
	token := p.client.Publish(topic, p.qos, false, data)

	// Not awaited; failures surface in the log only.
	go func() {
		<-token.Done()
		if err := token.Error(); err != nil {
			p.logger.WithField("topic", topic).Errorf("Publish failed: %v", err)
		}
	}()
	return nil
}

func (p *MQTTPublisher) Close() {
	if p.closer != nil {
		p.closer()
	}
}

// NoopPublisher drops events. Used when no broker is configured.
type NoopPublisher struct {
	logger *logrus.Logger
}

func NewNoopPublisher(logger *logrus.Logger) *NoopPublisher {
	return &NoopPublisher{logger: logger}
}

func (p *NoopPublisher) Publish(meterID, kind string, payload interface{}) error {
	p.logger.WithFields(logrus.Fields{"meter_id": meterID, "kind": kind}).Debug("No broker configured, dropping event")
	return nil
}

func (p *NoopPublisher) Close() {}

var (
	_ Publisher = (*MQTTPublisher)(nil)
	_ Publisher = (*NoopPublisher)(nil)
)
