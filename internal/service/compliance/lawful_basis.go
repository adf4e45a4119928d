package compliance

import (
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

// euCountries is the fixed snapshot of EU member states (ISO 3166-1 alpha-2)
// used for GDPR applicability. Snapshot-at-build: historical membership
// changes are not tracked.
var euCountries = map[string]bool{
	"AT": true, "BE": true, "BG": true, "HR": true, "CY": true,
	"CZ": true, "DK": true, "EE": true, "FI": true, "FR": true,
	"DE": true, "GR": true, "HU": true, "IE": true, "IT": true,
	"LV": true, "LT": true, "LU": true, "MT": true, "NL": true,
	"PL": true, "PT": true, "RO": true, "SK": true, "SI": true,
	"ES": true, "SE": true,
}

// LawfulBasisValidator enforces GDPR Article 6: processing of personal data
// requires an established lawful basis, consent-based processing requires a
// referenced consent record, and processing located in an EU jurisdiction
// requires a GDPR-compliant process attestation.
type LawfulBasisValidator struct{}

func NewLawfulBasisValidator() *LawfulBasisValidator {
	return &LawfulBasisValidator{}
}

func (v *LawfulBasisValidator) Evaluate(cctx compliance.Context) compliance.Result {
	if !cctx.Classification.IsPersonal() {
		return compliance.NewResult(RuleLawfulBasis, nil)
	}

	var violations []compliance.Violation
	facts := cctx.GDPR

	switch {
	case facts == nil || facts.LawfulBasis == "":
		violations = append(violations, compliance.Violation{
			Type:        "missing_lawful_basis",
			Description: "personal data processing without an established lawful basis",
			Severity:    compliance.SeverityCritical,
			Remediation: "establish and record a lawful basis before processing",
		})
	case facts.LawfulBasis == "consent" && facts.ConsentRecordID == "":
		violations = append(violations, compliance.Violation{
			Type:        "missing_consent_reference",
			Description: "consent-based processing must reference the consent record it relies on",
			Severity:    compliance.SeverityCritical,
			Remediation: "link the consent record id to the processing context",
		})
	}

	if facts != nil && euCountries[facts.LocationCountry] && !facts.CompliantProcess {
		violations = append(violations, compliance.Violation{
			Type:        "missing_gdpr_process",
			Description: "processing in an EU jurisdiction without a GDPR-compliant process attestation",
			Severity:    compliance.SeverityHigh,
			Field:       "location_country",
			Value:       facts.LocationCountry,
			Remediation: "attest the processing pipeline against the GDPR process checklist",
		})
	}

	return compliance.NewResult(RuleLawfulBasis, violations)
}
