package compliance

import (
	"strings"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

// writeOperationMarkers identify operations that create or modify electronic
// records and therefore require signature and audit-trail controls.
var writeOperationMarkers = []string{
	"create", "update", "delete", "write", "entry", "sign",
}

func isWriteOperation(operation string) bool {
	op := strings.ToLower(operation)
	for _, marker := range writeOperationMarkers {
		if strings.Contains(op, marker) {
			return true
		}
	}
	return false
}

// ElectronicRecordsValidator enforces FDA 21 CFR Part 11 controls on
// clinical and device data: write operations require an electronic signature
// and a complete audit trail, and any regulated context requires integrity
// checking and a validated system.
type ElectronicRecordsValidator struct{}

func NewElectronicRecordsValidator() *ElectronicRecordsValidator {
	return &ElectronicRecordsValidator{}
}

func (v *ElectronicRecordsValidator) Evaluate(cctx compliance.Context) compliance.Result {
	if !cctx.Classification.IsRegulatedRecord() {
		return compliance.NewResult(RuleElectronicRecords, nil)
	}

	var violations []compliance.Violation
	controls := cctx.Records
	if controls == nil {
		controls = &compliance.RecordControls{}
	}

	if isWriteOperation(cctx.Operation) {
		if !controls.ElectronicSignature {
			violations = append(violations, compliance.Violation{
				Type:        "missing_electronic_signature",
				Description: "electronic record modification without an electronic signature",
				Severity:    compliance.SeverityCritical,
				Remediation: "capture an electronic signature before committing the record",
			})
		}
		if !controls.AuditTrailComplete {
			violations = append(violations, compliance.Violation{
				Type:        "incomplete_audit_trail",
				Description: "electronic record modification without a complete audit trail",
				Severity:    compliance.SeverityHigh,
				Remediation: "enable full audit trail capture for this operation",
			})
		}
	}

	if !controls.IntegrityCheck {
		violations = append(violations, compliance.Violation{
			Type:        "missing_data_integrity",
			Description: "regulated data handled without a data integrity check",
			Severity:    compliance.SeverityHigh,
			Remediation: "verify record integrity with checksums or equivalent controls",
		})
	}
	if !controls.SystemValidated {
		violations = append(violations, compliance.Violation{
			Type:        "system_not_validated",
			Description: "regulated data handled on a system without validation evidence",
			Severity:    compliance.SeverityMedium,
			Remediation: "complete system validation per the computerized system validation plan",
		})
	}

	return compliance.NewResult(RuleElectronicRecords, violations)
}
