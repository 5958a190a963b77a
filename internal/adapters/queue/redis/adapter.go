package redis

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"crewfleet.hub/internal/core/domain"
)

// EventChannel carries every dashboard event as a JSON envelope.
const EventChannel = "crewfleet:events"

// EventPublisher mirrors dashboard events onto a Redis pub/sub channel.
type EventPublisher struct {
	client  *redis.Client
	channel string
}

func NewEventPublisher(url string) (*EventPublisher, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, fmt.Errorf("parsing redis url: %w", err)
	}
	return &EventPublisher{client: redis.NewClient(opts), channel: EventChannel}, nil
}

func (r *EventPublisher) Name() string { return "redis" }

func (r *EventPublisher) Publish(ctx context.Context, msg domain.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	return r.client.Publish(ctx, r.channel, data).Err()
}

func (r *EventPublisher) Ping(ctx context.Context) error {
	return r.client.Ping(ctx).Err()
}

func (r *EventPublisher) Close() error {
	return r.client.Close()
}
