package retention

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/errors"
)

// Method is the terminal action a policy applies to expired records.
type Method string

const (
	MethodSecureDelete Method = "secure_delete"
	MethodAnonymize    Method = "anonymize"
	MethodPseudonymize Method = "pseudonymize"
)

func (m Method) Valid() bool {
	return m == MethodSecureDelete || m == MethodAnonymize || m == MethodPseudonymize
}

// RecordStatus marks how far along the retention lifecycle a tracked record is.
// Marking records keeps repeated sweeps idempotent: anonymized and
// pseudonymized records are never acted on again, and securely deleted
// records are physically absent.
type RecordStatus string

const (
	RecordActive        RecordStatus = "active"
	RecordAnonymized    RecordStatus = "anonymized"
	RecordPseudonymized RecordStatus = "pseudonymized"
)

// Policy governs how long one data type is retained and what happens after.
type Policy struct {
	ID            string                    `json:"id"`
	DataType      compliance.Classification `json:"data_type"`
	RetentionDays int                       `json:"retention_days"`
	ArchiveDays   *int                      `json:"archive_days,omitempty"`
	Method        Method                    `json:"method"`
	Exceptions    []string                  `json:"exceptions,omitempty"`
	Standards     []compliance.Standard     `json:"standards,omitempty"`
}

// Validate checks the policy is registrable.
func (p *Policy) Validate() error {
	if p.ID == "" {
		return errors.NewValidationError("MISSING_POLICY_ID", "policy id is required")
	}
	if p.DataType == "" {
		return errors.NewValidationError("MISSING_DATA_TYPE", "policy data type is required")
	}
	if p.RetentionDays <= 0 {
		return errors.NewValidationError("INVALID_RETENTION_PERIOD", "retention period must be positive")
	}
	if !p.Method.Valid() {
		return errors.NewValidationError("INVALID_DELETION_METHOD", "deletion method must be secure_delete, anonymize, or pseudonymize")
	}
	return nil
}

// Cutoff returns the creation-time threshold: records created before it have
// outlived their retention period.
func (p *Policy) Cutoff(now time.Time) time.Time {
	return now.AddDate(0, 0, -p.RetentionDays)
}

// Exempts reports whether a record's tags intersect the policy's exception
// set, which shields it from the sweep regardless of age.
func (p *Policy) Exempts(tags []string) bool {
	for _, tag := range tags {
		for _, exc := range p.Exceptions {
			if tag == exc {
				return true
			}
		}
	}
	return false
}

// TrackedRecord is one entry in the data_retention_tracking collection.
type TrackedRecord struct {
	ID        uuid.UUID                 `json:"id"`
	DataType  compliance.Classification `json:"data_type"`
	Reference string                    `json:"reference"` // table/collection the data lives in
	CreatedAt time.Time                 `json:"created_at"`
	Tags      []string                  `json:"tags,omitempty"`
	Status    RecordStatus              `json:"status"`

	// Identifying fields subject to anonymization/pseudonymization.
	Fields map[string]string `json:"fields,omitempty"`
}

// ActionRecord is one entry in the retention_actions log: what was done to
// which record under which policy.
type ActionRecord struct {
	RecordID  uuid.UUID              `json:"record_id"`
	PolicyID  string                 `json:"policy_id"`
	Action    Method                 `json:"action"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
}

// IdentifyingFields is the fixed set stripped by anonymization and replaced
// by pseudonymization.
var IdentifyingFields = []string{
	"name",
	"email",
	"phone",
	"address",
	"ssn",
	"mrn",
	"date_of_birth",
	"ip_address",
}

// DefaultPolicies returns the seeded policy set for HIPAA, GDPR, and FDA
// retention obligations.
func DefaultPolicies() []Policy {
	clinicalArchive := 3650
	return []Policy{
		{
			ID:            "hipaa-phi",
			DataType:      compliance.ClassificationPHI,
			RetentionDays: 2555,
			Method:        MethodSecureDelete,
			Exceptions:    []string{"research-data", "legal-hold"},
			Standards:     []compliance.Standard{compliance.StandardHIPAA},
		},
		{
			ID:            "gdpr-pii",
			DataType:      compliance.ClassificationPII,
			RetentionDays: 1095,
			Method:        MethodSecureDelete,
			Exceptions:    []string{"legal-obligation", "vital-interests"},
			Standards:     []compliance.Standard{compliance.StandardGDPR},
		},
		{
			ID:            "fda-clinical",
			DataType:      compliance.ClassificationClinicalData,
			RetentionDays: 5475,
			ArchiveDays:   &clinicalArchive,
			Method:        MethodSecureDelete,
			Exceptions:    []string{"ongoing-trial", "regulatory-review"},
			Standards:     []compliance.Standard{compliance.StandardFDA},
		},
	}
}
