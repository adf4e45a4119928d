package compliance

import (
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

// Canonical rule ids.
const (
	RuleMinimumNecessary  = "hipaa-minimum-necessary"
	RuleLawfulBasis       = "gdpr-lawful-basis"
	RuleElectronicRecords = "fda-electronic-records"
)

// DefaultRules returns the seeded rule set binding the three canonical
// validators.
func DefaultRules() []compliance.Rule {
	return []compliance.Rule{
		{
			ID:          RuleMinimumNecessary,
			Name:        "HIPAA Minimum Necessary",
			Standard:    compliance.StandardHIPAA,
			Category:    compliance.CategoryAccessControl,
			Severity:    compliance.SeverityHigh,
			Description: "Limits PHI access and disclosure to what the task requires.",
			Validator:   NewMinimumNecessaryValidator(),
		},
		{
			ID:          RuleLawfulBasis,
			Name:        "GDPR Lawful Basis",
			Standard:    compliance.StandardGDPR,
			Category:    compliance.CategoryDataProtection,
			Severity:    compliance.SeverityCritical,
			Description: "Requires an established Article 6 lawful basis for personal data processing.",
			Validator:   NewLawfulBasisValidator(),
		},
		{
			ID:          RuleElectronicRecords,
			Name:        "FDA 21 CFR Part 11 Electronic Records",
			Standard:    compliance.StandardFDA,
			Category:    compliance.CategoryDataIntegrity,
			Severity:    compliance.SeverityCritical,
			Description: "Requires signature, audit trail, and integrity controls on regulated records.",
			Validator:   NewElectronicRecordsValidator(),
		},
	}
}
