package retention

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/domain/retention"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
)

// TrackingStore is the persistence contract for the tracked-records
// collection and the retention-actions log.
type TrackingStore interface {
	Track(ctx context.Context, record *retention.TrackedRecord) error
	ListExpired(ctx context.Context, dataType compliance.Classification, cutoff time.Time, limit int) ([]*retention.TrackedRecord, error)
	Delete(ctx context.Context, id uuid.UUID) error
	UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]string, status retention.RecordStatus) error
	RecordAction(ctx context.Context, action *retention.ActionRecord) error
}

// AuditLogger is the manager's write-side view of the audit trail.
type AuditLogger interface {
	LogEvent(ctx context.Context, draft audit.Event) uuid.UUID
}

// Notifier publishes retention notifications.
type Notifier interface {
	Publish(topic events.Topic, payload interface{})
}
