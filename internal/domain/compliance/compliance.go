package compliance

import (
	"time"

	"github.com/clinicore/compliance-engine/internal/errors"
)

// Standard identifies a regulatory standard a rule or event belongs to.
type Standard string

const (
	StandardHIPAA    Standard = "hipaa"
	StandardGDPR     Standard = "gdpr"
	StandardFDA      Standard = "fda_21cfr11"
	StandardDICOM    Standard = "dicom"
	StandardHL7FHIR  Standard = "hl7_fhir"
	StandardISO13485 Standard = "iso_13485"
	StandardIEC62304 Standard = "iec_62304"
)

// Standards returns the closed set of supported regulatory standards.
func Standards() []Standard {
	return []Standard{
		StandardHIPAA,
		StandardGDPR,
		StandardFDA,
		StandardDICOM,
		StandardHL7FHIR,
		StandardISO13485,
		StandardIEC62304,
	}
}

func (s Standard) Valid() bool {
	switch s {
	case StandardHIPAA, StandardGDPR, StandardFDA, StandardDICOM,
		StandardHL7FHIR, StandardISO13485, StandardIEC62304:
		return true
	}
	return false
}

// Category groups rules by the compliance concern they cover.
type Category string

const (
	CategoryDataProtection Category = "data_protection"
	CategoryAccessControl  Category = "access_control"
	CategoryAuditTrail     Category = "audit_trail"
	CategoryDataIntegrity  Category = "data_integrity"
	CategoryRiskManagement Category = "risk_management"
)

// Classification describes the sensitivity class of the data being processed.
type Classification string

const (
	ClassificationPHI          Classification = "phi"
	ClassificationPII          Classification = "pii"
	ClassificationClinicalData Classification = "clinical_data"
	ClassificationDeviceData   Classification = "device_data"
	ClassificationResearchData Classification = "research_data"
	ClassificationPublic       Classification = "public"
)

// IsPersonal reports whether the classification covers identifiable personal data.
func (c Classification) IsPersonal() bool {
	return c == ClassificationPHI || c == ClassificationPII
}

// IsRegulatedRecord reports whether the classification falls under FDA
// electronic records requirements.
func (c Classification) IsRegulatedRecord() bool {
	return c == ClassificationClinicalData || c == ClassificationDeviceData
}

// Severity ranks how serious a violation is.
type Severity int

const (
	SeverityLow Severity = iota
	SeverityMedium
	SeverityHigh
	SeverityCritical
)

func (s Severity) String() string {
	switch s {
	case SeverityLow:
		return "low"
	case SeverityMedium:
		return "medium"
	case SeverityHigh:
		return "high"
	case SeverityCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// RiskLevel is the aggregate verdict over one or more results.
type RiskLevel int

const (
	RiskLow RiskLevel = iota
	RiskMedium
	RiskHigh
	RiskCritical
)

func (r RiskLevel) String() string {
	switch r {
	case RiskLow:
		return "low"
	case RiskMedium:
		return "medium"
	case RiskHigh:
		return "high"
	case RiskCritical:
		return "critical"
	default:
		return "unknown"
	}
}

// ParseRiskLevel maps a stored string back to a RiskLevel. Unknown values map
// to RiskLow so malformed event metadata never inflates a report.
func ParseRiskLevel(s string) RiskLevel {
	switch s {
	case "critical":
		return RiskCritical
	case "high":
		return RiskHigh
	case "medium":
		return RiskMedium
	default:
		return RiskLow
	}
}

// Validator evaluates one regulatory concern against a context.
// Implementations must be pure functions of the context: no hidden state,
// deterministic for identical input.
type Validator interface {
	Evaluate(ctx Context) Result
}

// Rule binds a validator to a named regulatory concern.
type Rule struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Standard    Standard  `json:"standard"`
	Category    Category  `json:"category"`
	Severity    Severity  `json:"severity"`
	Description string    `json:"description"`
	Validator   Validator `json:"-"`
}

// Validate checks the rule is registrable.
func (r *Rule) Validate() error {
	if r.ID == "" {
		return errors.NewValidationError("MISSING_RULE_ID", "rule id is required")
	}
	if r.Name == "" {
		return errors.NewValidationError("MISSING_RULE_NAME", "rule name is required")
	}
	if !r.Standard.Valid() {
		return errors.NewValidationError("INVALID_STANDARD", "rule standard must be a supported regulatory standard")
	}
	if r.Validator == nil {
		return errors.NewValidationError("MISSING_VALIDATOR", "rule must bind a validator")
	}
	return nil
}

// GDPRFacts carries the inputs the lawful-basis validator needs. A nil
// GDPRFacts on a context reads as "no lawful basis established".
type GDPRFacts struct {
	LawfulBasis      string `json:"lawful_basis,omitempty"`
	ConsentRecordID  string `json:"consent_record_id,omitempty"`
	LocationCountry  string `json:"location_country,omitempty"`
	CompliantProcess bool   `json:"compliant_process,omitempty"`
}

// RecordControls carries the FDA 21 CFR Part 11 control attestations for a
// context. A nil RecordControls reads as "no controls in place".
type RecordControls struct {
	ElectronicSignature bool `json:"electronic_signature,omitempty"`
	AuditTrailComplete  bool `json:"audit_trail_complete,omitempty"`
	IntegrityCheck      bool `json:"integrity_check,omitempty"`
	SystemValidated     bool `json:"system_validated,omitempty"`
}

// Context is the sole input to validators. It must carry everything a
// validator needs; validators never reach outside it for decision inputs.
type Context struct {
	Operation      string                 `json:"operation"`
	ActorID        string                 `json:"actor_id,omitempty"`
	ActorRole      string                 `json:"actor_role,omitempty"`
	Classification Classification         `json:"classification"`
	Payload        map[string]interface{} `json:"payload,omitempty"`
	Timestamp      time.Time              `json:"timestamp"`

	// Typed per-standard facts replace a free-form metadata bag so missing
	// fields surface as zero values, not runtime type assertions.
	GDPR    *GDPRFacts      `json:"gdpr,omitempty"`
	Records *RecordControls `json:"records,omitempty"`
}

// NewContext builds a context stamped with the current time.
func NewContext(operation string, classification Classification) Context {
	return Context{
		Operation:      operation,
		Classification: classification,
		Timestamp:      time.Now().UTC(),
	}
}
