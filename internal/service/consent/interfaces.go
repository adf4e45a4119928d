package consent

import (
	"context"
	"time"

	"github.com/clinicore/compliance-engine/internal/domain/consent"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
)

// Store is the persistence contract for consent records.
type Store interface {
	Insert(ctx context.Context, record *consent.Record) error
	ListBySubject(ctx context.Context, subjectID string, consentType *consent.Type) ([]*consent.Record, error)
	Latest(ctx context.Context, subjectID string, consentType consent.Type) (*consent.Record, error)
}

// ValidityCache caches IsConsentValid answers. Optional: a nil cache is a
// pass-through to the store.
type ValidityCache interface {
	GetValidity(ctx context.Context, subjectID string, consentType consent.Type) (valid bool, found bool, err error)
	SetValidity(ctx context.Context, subjectID string, consentType consent.Type, valid bool, expiresAt *time.Time) error
	Invalidate(ctx context.Context, subjectID string, consentType consent.Type) error
}

// Notifier publishes consent lifecycle notifications.
type Notifier interface {
	Publish(topic events.Topic, payload interface{})
}
