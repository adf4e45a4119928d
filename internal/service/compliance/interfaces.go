package compliance

import (
	"context"

	"github.com/google/uuid"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
)

// AuditLogger is the engine's write-side view of the audit trail.
type AuditLogger interface {
	LogEvent(ctx context.Context, draft audit.Event) uuid.UUID
}

// AuditQuerier is the reporter's read-side view of the audit trail.
type AuditQuerier interface {
	Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Event, error)
}

// Notifier publishes violation notifications for external subscribers.
type Notifier interface {
	Publish(topic events.Topic, payload interface{})
}
