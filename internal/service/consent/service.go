package consent

import (
	"context"
	"errors"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/clinicore/compliance-engine/internal/domain/consent"
	apperrors "github.com/clinicore/compliance-engine/internal/errors"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
	"github.com/clinicore/compliance-engine/internal/infrastructure/repository"
	"github.com/clinicore/compliance-engine/internal/metrics"
)

// Service manages the consent lifecycle. Unlike the audit trail, a failed
// consent write is a caller-visible failure: downstream processing must not
// proceed believing consent exists when it does not.
type Service struct {
	logger   *zap.Logger
	store    Store
	cache    ValidityCache
	notifier Notifier
	metrics  *metrics.Metrics
}

func NewService(logger *zap.Logger, store Store, cache ValidityCache, notifier Notifier, m *metrics.Metrics) *Service {
	return &Service{
		logger:   logger,
		store:    store,
		cache:    cache,
		notifier: notifier,
		metrics:  m,
	}
}

// StorageError is the payload published on consent.storage_error.
type StorageError struct {
	SubjectID   string       `json:"subject_id"`
	ConsentType consent.Type `json:"consent_type"`
	Error       string       `json:"error"`
}

// RecordConsent assigns an id and timestamp to the draft, persists it, and
// emits a recorded notification. Persistence failures are published and
// re-raised.
func (s *Service) RecordConsent(ctx context.Context, draft consent.Record) (uuid.UUID, error) {
	draft.ID = uuid.New()
	draft.Timestamp = time.Now().UTC()

	if err := draft.Validate(); err != nil {
		return uuid.Nil, err
	}

	if err := s.store.Insert(ctx, &draft); err != nil {
		s.logger.Error("failed to persist consent record",
			zap.String("subject_id", draft.SubjectID),
			zap.String("consent_type", string(draft.Type)),
			zap.Error(err),
		)
		s.metrics.RecordConsentWriteFailure()
		s.notifier.Publish(events.TopicConsentStorageError, StorageError{
			SubjectID:   draft.SubjectID,
			ConsentType: draft.Type,
			Error:       err.Error(),
		})
		return uuid.Nil, apperrors.NewInternalError("failed to record consent").WithCause(err)
	}

	if s.cache != nil {
		if err := s.cache.Invalidate(ctx, draft.SubjectID, draft.Type); err != nil {
			s.logger.Warn("failed to invalidate consent cache",
				zap.String("subject_id", draft.SubjectID),
				zap.Error(err),
			)
		}
	}

	s.notifier.Publish(events.TopicConsentRecorded, draft)

	s.logger.Info("consent recorded",
		zap.String("consent_id", draft.ID.String()),
		zap.String("subject_id", draft.SubjectID),
		zap.String("consent_type", string(draft.Type)),
		zap.String("status", string(draft.Status)),
	)
	return draft.ID, nil
}

// GetConsent returns a subject's consent history newest first, optionally
// restricted to one type.
func (s *Service) GetConsent(ctx context.Context, subjectID string, consentType *consent.Type) ([]*consent.Record, error) {
	if subjectID == "" {
		return nil, apperrors.NewValidationError("MISSING_SUBJECT_ID", "subject id is required")
	}
	return s.store.ListBySubject(ctx, subjectID, consentType)
}

// IsConsentValid reports whether the most recent record for the (subject,
// type) pair represents currently valid consent. Only the latest record is
// authoritative; earlier records never affect the answer. No record at all
// means no consent.
func (s *Service) IsConsentValid(ctx context.Context, subjectID string, consentType consent.Type) (bool, error) {
	if s.cache != nil {
		valid, found, err := s.cache.GetValidity(ctx, subjectID, consentType)
		if err != nil {
			s.logger.Warn("consent cache read failed, falling back to store",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		} else if found {
			return valid, nil
		}
	}

	record, err := s.store.Latest(ctx, subjectID, consentType)
	if err != nil {
		if errors.Is(err, repository.ErrNotFound) {
			return false, nil
		}
		return false, err
	}

	valid := record.IsValidAt(time.Now().UTC())

	if s.cache != nil {
		// The cache caps the entry TTL at the record's expiration so a
		// cached grant never answers past it.
		if err := s.cache.SetValidity(ctx, subjectID, consentType, valid, record.ExpiresAt); err != nil {
			s.logger.Warn("failed to cache consent validity",
				zap.String("subject_id", subjectID),
				zap.Error(err),
			)
		}
	}
	return valid, nil
}
