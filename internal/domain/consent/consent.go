package consent

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/compliance-engine/internal/errors"
)

// Type identifies what the subject consented to.
type Type string

const (
	TypeDataProcessing Type = "data_processing"
	TypeDataSharing    Type = "data_sharing"
	TypeMarketing      Type = "marketing"
	TypeResearch       Type = "research"
	TypeClinicalTrial  Type = "clinical_trial"
)

func (t Type) Valid() bool {
	switch t {
	case TypeDataProcessing, TypeDataSharing, TypeMarketing, TypeResearch, TypeClinicalTrial:
		return true
	}
	return false
}

// Status is the recorded state of a consent grant.
type Status string

const (
	StatusGranted   Status = "granted"
	StatusDenied    Status = "denied"
	StatusWithdrawn Status = "withdrawn"
	StatusExpired   Status = "expired"
)

func (s Status) Valid() bool {
	switch s {
	case StatusGranted, StatusDenied, StatusWithdrawn, StatusExpired:
		return true
	}
	return false
}

// LegalBasis is the GDPR Article 6 justification attached to a grant.
type LegalBasis string

const (
	BasisConsent             LegalBasis = "consent"
	BasisContract            LegalBasis = "contract"
	BasisLegalObligation     LegalBasis = "legal_obligation"
	BasisVitalInterests      LegalBasis = "vital_interests"
	BasisPublicTask          LegalBasis = "public_task"
	BasisLegitimateInterests LegalBasis = "legitimate_interests"
)

// Record is one consent lifecycle entry. Current validity is determined by
// the newest record per (subject, type), not by a separate latest pointer.
type Record struct {
	ID         uuid.UUID              `json:"id"`
	SubjectID  string                 `json:"subject_id"`
	Type       Type                   `json:"type"`
	Status     Status                 `json:"status"`
	Timestamp  time.Time              `json:"timestamp"`
	ExpiresAt  *time.Time             `json:"expires_at,omitempty"`
	Scope      []string               `json:"scope,omitempty"`
	LegalBasis LegalBasis             `json:"legal_basis,omitempty"`
	Metadata   map[string]interface{} `json:"metadata,omitempty"`
}

// Validate checks the record is persistable. ID and Timestamp are assigned by
// the consent service.
func (r *Record) Validate() error {
	if r.SubjectID == "" {
		return errors.NewValidationError("MISSING_SUBJECT_ID", "subject id is required")
	}
	if !r.Type.Valid() {
		return errors.NewValidationError("INVALID_CONSENT_TYPE", "consent type is not recognized")
	}
	if !r.Status.Valid() {
		return errors.NewValidationError("INVALID_CONSENT_STATUS", "consent status is not recognized")
	}
	return nil
}

// IsValidAt reports whether this record represents valid consent at the given
// instant: status granted and either no expiration or an expiration strictly
// after the instant.
func (r *Record) IsValidAt(now time.Time) bool {
	if r.Status != StatusGranted {
		return false
	}
	return r.ExpiresAt == nil || r.ExpiresAt.After(now)
}
