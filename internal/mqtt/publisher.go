// Package mqtt mirrors the fused position to an MQTT broker.
package mqtt

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	paho "github.com/eclipse/paho.mqtt.golang"
	"go.uber.org/zap"

	"ugps-bridge/internal/fusion"
	"ugps-bridge/internal/transport"
)

const defaultPublishTimeout = time.Second

type Config struct {
	Broker   string
	ClientID string
	Topic    string
	Username string
	Password string
	QoS      byte
	Retained bool
	// PublishTimeout bounds the wait for a publish acknowledgement when the
	// caller's context has no earlier deadline.
	PublishTimeout time.Duration
}

type client interface {
	IsConnectionOpen() bool
	Publish(topic string, qos byte, retained bool, payload interface{}) paho.Token
	Disconnect(quiesce uint)
}

type Publisher struct {
	c       client
	topic   string
	qos     byte
	retain  bool
	timeout time.Duration
}

// New starts connecting in the background and returns immediately; the
// paho client keeps retrying until Close.
func New(cfg Config, log *zap.Logger) (*Publisher, error) {
	if log == nil {
		log = zap.NewNop()
	}
	cfg.Broker = strings.TrimSpace(cfg.Broker)
	cfg.Topic = strings.TrimSpace(cfg.Topic)
	if cfg.Broker == "" {
		return nil, fmt.Errorf("mqtt broker is required")
	}
	if cfg.Topic == "" {
		return nil, fmt.Errorf("mqtt topic is required")
	}
	if cfg.QoS > 2 {
		return nil, fmt.Errorf("mqtt qos must be 0, 1 or 2 (got %d)", cfg.QoS)
	}
	if cfg.ClientID == "" {
		return nil, fmt.Errorf("mqtt client id is required")
	}

	opts := paho.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetCleanSession(true).
		SetAutoReconnect(true).
		SetConnectRetry(true).
		SetConnectRetryInterval(5 * time.Second).
		SetConnectTimeout(5 * time.Second).
		SetOnConnectHandler(func(paho.Client) {
			log.Info("mqtt connected", zap.String("broker", cfg.Broker))
		}).
		SetConnectionLostHandler(func(_ paho.Client, err error) {
			log.Warn("mqtt connection lost", zap.String("broker", cfg.Broker), zap.Error(err))
		})
	if cfg.Username != "" {
		opts.SetUsername(cfg.Username)
	}
	if cfg.Password != "" {
		opts.SetPassword(cfg.Password)
	}

	c := paho.NewClient(opts)
	// With ConnectRetry the token only completes once connected.
	c.Connect()
	return newPublisher(c, cfg), nil
}

func newPublisher(c client, cfg Config) *Publisher {
	timeout := cfg.PublishTimeout
	if timeout <= 0 {
		timeout = defaultPublishTimeout
	}
	return &Publisher{c: c, topic: cfg.Topic, qos: cfg.QoS, retain: cfg.Retained, timeout: timeout}
}

func (p *Publisher) Topic() string { return p.topic }

// Publish sends pub as JSON. It fails fast while the broker is unreachable
// rather than queueing stale positions.
func (p *Publisher) Publish(ctx context.Context, pub fusion.Published) error {
	endpoint := "MQTT " + p.topic
	if !p.c.IsConnectionOpen() {
		return transport.Errorf(transport.TransportWriteFailure, endpoint, "not connected")
	}
	payload, err := json.Marshal(pub)
	if err != nil {
		return fmt.Errorf("encode position: %w", err)
	}

	wait := p.timeout
	if dl, ok := ctx.Deadline(); ok {
		if d := time.Until(dl); d < wait {
			wait = d
		}
	}
	tok := p.c.Publish(p.topic, p.qos, p.retain, payload)
	if !tok.WaitTimeout(wait) {
		return transport.Errorf(transport.TransportWriteFailure, endpoint, "publish not acknowledged within %s", wait)
	}
	if err := tok.Error(); err != nil {
		return transport.Errorf(transport.TransportWriteFailure, endpoint, "publish: %w", err)
	}
	return nil
}

func (p *Publisher) Close() {
	if p == nil || p.c == nil {
		return
	}
	p.c.Disconnect(250)
}
