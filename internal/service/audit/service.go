package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
	"github.com/clinicore/compliance-engine/internal/metrics"
)

// Trail is the audit trail service. Writes are fire-and-forget from the
// caller's point of view: a failed audit write must never block the business
// operation it describes, but it must be observable, so failures surface as
// audit.storage_error notifications instead of returned errors.
type Trail struct {
	logger   *zap.Logger
	store    EventStore
	notifier Notifier
	metrics  *metrics.Metrics
}

func NewTrail(logger *zap.Logger, store EventStore, notifier Notifier, m *metrics.Metrics) *Trail {
	return &Trail{
		logger:   logger,
		store:    store,
		notifier: notifier,
		metrics:  m,
	}
}

// StorageError is the payload published on audit.storage_error.
type StorageError struct {
	EventID   uuid.UUID `json:"event_id"`
	Operation string    `json:"operation"`
	Error     string    `json:"error"`
}

// LogEvent assigns an id and timestamp to the draft, persists it, and emits
// a logged notification. The assigned id is returned even when persistence
// fails.
func (t *Trail) LogEvent(ctx context.Context, draft audit.Event) uuid.UUID {
	draft.ID = uuid.New()
	draft.Timestamp = time.Now().UTC()
	if draft.ActorID == "" {
		draft.ActorID = "system"
	}

	if err := draft.Validate(); err != nil {
		t.fail(draft, err)
		return draft.ID
	}

	if err := t.store.Insert(ctx, &draft); err != nil {
		t.fail(draft, err)
		return draft.ID
	}

	t.notifier.Publish(events.TopicAuditLogged, draft)
	return draft.ID
}

func (t *Trail) fail(event audit.Event, err error) {
	t.logger.Error("failed to persist audit event",
		zap.String("event_id", event.ID.String()),
		zap.String("operation", event.Operation),
		zap.Error(err),
	)
	t.metrics.RecordAuditWriteFailure()
	t.notifier.Publish(events.TopicAuditStorageError, StorageError{
		EventID:   event.ID,
		Operation: event.Operation,
		Error:     err.Error(),
	})
}

// Query returns events matching the filter, newest first.
func (t *Trail) Query(ctx context.Context, filter audit.QueryFilter) ([]*audit.Event, error) {
	return t.store.Query(ctx, filter)
}
