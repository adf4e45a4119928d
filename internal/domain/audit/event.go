package audit

import (
	"time"

	"github.com/google/uuid"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/errors"
)

// Outcome records how the audited operation ended.
type Outcome string

const (
	OutcomeSuccess Outcome = "success"
	OutcomeFailure Outcome = "failure"
	OutcomeWarning Outcome = "warning"
)

func (o Outcome) Valid() bool {
	return o == OutcomeSuccess || o == OutcomeFailure || o == OutcomeWarning
}

// ComplianceFlags is a fixed-shape set of booleans marking which standards
// an event is relevant to. A fixed shape keeps the stored schema stable and
// queryable, unlike an open map.
type ComplianceFlags struct {
	HIPAA    bool `json:"hipaa"`
	GDPR     bool `json:"gdpr"`
	FDA      bool `json:"fda_21cfr11"`
	DICOM    bool `json:"dicom"`
	HL7FHIR  bool `json:"hl7_fhir"`
	ISO13485 bool `json:"iso_13485"`
	IEC62304 bool `json:"iec_62304"`
}

// FlagsFor returns flags with exactly the given standard set.
func FlagsFor(standard compliance.Standard) ComplianceFlags {
	var f ComplianceFlags
	f.Set(standard)
	return f
}

// Set marks the flag for a standard.
func (f *ComplianceFlags) Set(standard compliance.Standard) {
	switch standard {
	case compliance.StandardHIPAA:
		f.HIPAA = true
	case compliance.StandardGDPR:
		f.GDPR = true
	case compliance.StandardFDA:
		f.FDA = true
	case compliance.StandardDICOM:
		f.DICOM = true
	case compliance.StandardHL7FHIR:
		f.HL7FHIR = true
	case compliance.StandardISO13485:
		f.ISO13485 = true
	case compliance.StandardIEC62304:
		f.IEC62304 = true
	}
}

// Has reports whether the flag for a standard is set.
func (f ComplianceFlags) Has(standard compliance.Standard) bool {
	switch standard {
	case compliance.StandardHIPAA:
		return f.HIPAA
	case compliance.StandardGDPR:
		return f.GDPR
	case compliance.StandardFDA:
		return f.FDA
	case compliance.StandardDICOM:
		return f.DICOM
	case compliance.StandardHL7FHIR:
		return f.HL7FHIR
	case compliance.StandardISO13485:
		return f.ISO13485
	case compliance.StandardIEC62304:
		return f.IEC62304
	}
	return false
}

// Any reports whether any flag is set.
func (f ComplianceFlags) Any() bool {
	return f.HIPAA || f.GDPR || f.FDA || f.DICOM || f.HL7FHIR || f.ISO13485 || f.IEC62304
}

// Event is an immutable audit log entry. Once written it is never mutated or
// deleted by this subsystem; it is the system of record for reporting.
type Event struct {
	ID        uuid.UUID `json:"id"`
	ActorID   string    `json:"actor_id"`
	ActorRole string    `json:"actor_role,omitempty"`
	Operation string    `json:"operation"`
	Resource  string    `json:"resource"`
	Outcome   Outcome   `json:"outcome"`
	Timestamp time.Time `json:"timestamp"`

	// Network/client metadata
	ClientIP  string `json:"client_ip,omitempty"`
	UserAgent string `json:"user_agent,omitempty"`

	DataAccessed []string          `json:"data_accessed,omitempty"`
	Changes      map[string]Change `json:"changes,omitempty"`

	Flags    ComplianceFlags        `json:"compliance_flags"`
	Metadata map[string]interface{} `json:"metadata,omitempty"`
}

// Change is one before/after pair in an event's change diff.
type Change struct {
	Before interface{} `json:"before,omitempty"`
	After  interface{} `json:"after,omitempty"`
}

// Validate checks the event is loggable. ID and Timestamp are assigned by the
// trail service, not the caller, so they are not validated here.
func (e *Event) Validate() error {
	if e.ActorID == "" {
		return errors.NewValidationError("MISSING_ACTOR_ID", "actor id is required")
	}
	if e.Operation == "" {
		return errors.NewValidationError("MISSING_OPERATION", "operation is required")
	}
	if e.Resource == "" {
		return errors.NewValidationError("MISSING_RESOURCE", "resource is required")
	}
	if !e.Outcome.Valid() {
		return errors.NewValidationError("INVALID_OUTCOME", "outcome must be success, failure, or warning")
	}
	return nil
}

// QueryFilter selects events from the trail. All set fields combine with AND;
// the timestamp range is inclusive on both ends.
type QueryFilter struct {
	ActorID   string
	Operation string
	Resource  string
	Outcome   Outcome
	From      *time.Time
	To        *time.Time
	Limit     int
}

// Matches reports whether an event satisfies the filter. Repositories push
// these predicates into SQL; the in-process form exists for tests and for
// filtering already-loaded windows.
func (f QueryFilter) Matches(e *Event) bool {
	if f.ActorID != "" && e.ActorID != f.ActorID {
		return false
	}
	if f.Operation != "" && e.Operation != f.Operation {
		return false
	}
	if f.Resource != "" && e.Resource != f.Resource {
		return false
	}
	if f.Outcome != "" && e.Outcome != f.Outcome {
		return false
	}
	if f.From != nil && e.Timestamp.Before(*f.From) {
		return false
	}
	if f.To != nil && e.Timestamp.After(*f.To) {
		return false
	}
	return true
}

// Metadata keys the engine and reporter agree on.
const (
	MetaRiskLevel  = "risk_level"
	MetaRuleID     = "rule_id"
	MetaViolations = "violations"
	MetaCheckKind  = "check_kind"
)

// Operation names written by the engine and retention manager.
const (
	OperationComplianceCheck = "compliance_check"
	OperationRetentionAction = "retention_action"
)
