package audit

import (
	"context"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
)

// EventStore is the persistence contract for the append-only trail.
type EventStore interface {
	Insert(ctx context.Context, event *audit.Event) error
	Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Event, error)
}

// Notifier publishes trail notifications for external subscribers.
type Notifier interface {
	Publish(topic events.Topic, payload interface{})
}
