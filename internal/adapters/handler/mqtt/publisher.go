package mqtt

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	"crewfleet.hub/internal/core/domain"
)

// Publisher mirrors dashboard events to MQTT under <prefix>/events/<type>.
type Publisher struct {
	client mqtt.Client
	prefix string
	logger *slog.Logger
}

// NewPublisher connects to the broker
func NewPublisher(brokerURL string, logger *slog.Logger) (*Publisher, error) {
	l := logger.With("component", "mqtt")
	opts := mqtt.NewClientOptions()
	opts.AddBroker(brokerURL)
	opts.SetClientID(fmt.Sprintf("crewfleet-manager-%d", time.Now().UnixNano()))
	opts.SetKeepAlive(60 * time.Second)
	opts.SetPingTimeout(10 * time.Second)
	opts.SetAutoReconnect(true)
	opts.SetConnectionLostHandler(func(_ mqtt.Client, err error) {
		l.Warn("MQTT connection lost", "error", err)
	})

	client := mqtt.NewClient(opts)
	token := client.Connect()
	if token.Wait() && token.Error() != nil {
		return nil, token.Error()
	}

	l.Info("Connected to MQTT broker", "broker", brokerURL)
	return &Publisher{
		client: client,
		prefix: "crewfleet",
		logger: l,
	}, nil
}

func (p *Publisher) Name() string { return "mqtt" }

// Topic returns the topic an event type is published on.
func (p *Publisher) Topic(t domain.MessageType) string {
	return fmt.Sprintf("%s/events/%s", p.prefix, t)
}

func (p *Publisher) Publish(ctx context.Context, msg domain.Message) error {
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	token := p.client.Publish(p.Topic(msg.Type), 0, false, payload)
	select {
	case <-token.Done():
		return token.Error()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (p *Publisher) Ping(ctx context.Context) error {
	if !p.client.IsConnectionOpen() {
		return errors.New("mqtt connection is not open")
	}
	return nil
}

func (p *Publisher) Close() error {
	p.client.Disconnect(250)
	return nil
}
