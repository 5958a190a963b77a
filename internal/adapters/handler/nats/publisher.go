package nats

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/nats-io/nats.go"

	"crewfleet.hub/internal/core/domain"
)

// SubjectPrefix is followed by the event type, e.g. crewfleet.events.agent_updated.
const SubjectPrefix = "crewfleet.events."

// Publisher mirrors dashboard events to NATS.
type Publisher struct {
	nc     *nats.Conn
	logger *slog.Logger
}

func NewPublisher(url string, logger *slog.Logger) (*Publisher, error) {
	l := logger.With("component", "nats")
	opts := []nats.Option{
		nats.Name("crewfleet-manager"),
		nats.MaxReconnects(-1),
		nats.ReconnectWait(2 * time.Second),
		nats.DisconnectErrHandler(func(nc *nats.Conn, err error) {
			l.Warn("nats disconnected", "error", err)
		}),
		nats.ReconnectHandler(func(nc *nats.Conn) {
			l.Info("nats reconnected", "url", nc.ConnectedUrl())
		}),
	}
	nc, err := nats.Connect(url, opts...)
	if err != nil {
		return nil, err
	}
	return &Publisher{nc: nc, logger: l}, nil
}

func (p *Publisher) Name() string { return "nats" }

// Subject returns the subject an event type is published on.
func Subject(t domain.MessageType) string {
	return SubjectPrefix + string(t)
}

func (p *Publisher) Publish(ctx context.Context, msg domain.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if p.nc == nil || p.nc.IsClosed() {
		return errors.New("nats not connected")
	}
	payload, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return p.nc.Publish(Subject(msg.Type), payload)
}

func (p *Publisher) Ping(ctx context.Context) error {
	if p.nc == nil || !p.nc.IsConnected() {
		return errors.New("nats not connected")
	}
	return nil
}

func (p *Publisher) Close() error {
	if p.nc == nil {
		return nil
	}
	if err := p.nc.Drain(); err != nil {
		p.nc.Close()
		return err
	}
	return nil
}
