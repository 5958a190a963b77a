package ports

import (
	"context"

	"crewfleet.hub/internal/core/domain"
)

// Broadcaster fans dashboard events out to live subscribers.
type Broadcaster interface {
	Broadcast(msg domain.Message)
}

// EventSink mirrors broadcast events to an external broker.
type EventSink interface {
	Name() string
	Publish(ctx context.Context, msg domain.Message) error
	Close() error
}

// ActionAuditor persists lifecycle actions issued through the manager.
type ActionAuditor interface {
	RecordAction(ctx context.Context, entry *domain.ActionAudit) error
	ListActions(ctx context.Context, agentID string, limit int) ([]*domain.ActionAudit, error)
}

// CatalogSource returns the current agent catalog. Implementations may
// re-read their backing file between calls.
type CatalogSource interface {
	Catalog() *domain.Catalog
}
