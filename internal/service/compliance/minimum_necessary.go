package compliance

import (
	"fmt"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

// sensitiveFields is the fixed set of payload fields whose presence requires
// an explicitly permitted review operation. The set is deliberately explicit
// and auditable: minimum-necessary access is a named legal requirement, not
// a heuristic.
var sensitiveFields = []string{
	"ssn",
	"genetic_data",
	"mental_health",
	"substance_abuse",
	"hiv_status",
}

// reviewOperations is the whitelist of operations allowed to carry sensitive
// payload fields.
var reviewOperations = map[string]bool{
	"compliance_review": true,
	"audit_review":      true,
	"legal_review":      true,
}

// MinimumNecessaryValidator enforces the HIPAA minimum-necessary principle:
// PHI access requires a known actor role, and sensitive payload fields may
// only appear in whitelisted review operations.
type MinimumNecessaryValidator struct{}

func NewMinimumNecessaryValidator() *MinimumNecessaryValidator {
	return &MinimumNecessaryValidator{}
}

func (v *MinimumNecessaryValidator) Evaluate(cctx compliance.Context) compliance.Result {
	var violations []compliance.Violation

	if cctx.Classification == compliance.ClassificationPHI && cctx.ActorRole == "" {
		violations = append(violations, compliance.Violation{
			Type:        "missing_role",
			Description: "PHI access without an actor role cannot be evaluated for minimum necessary",
			Severity:    compliance.SeverityHigh,
			Remediation: "attach the actor's role to the request context",
		})
	}

	if len(cctx.Payload) > 0 && !reviewOperations[cctx.Operation] {
		for _, field := range sensitiveFields {
			if _, ok := cctx.Payload[field]; ok {
				violations = append(violations, compliance.Violation{
					Type:        "sensitive_data_exposure",
					Description: fmt.Sprintf("sensitive field %q present outside a permitted review operation", field),
					Severity:    compliance.SeverityCritical,
					Field:       field,
					Remediation: "strip the field or route the request through a permitted review operation",
				})
			}
		}
	}

	return compliance.NewResult(RuleMinimumNecessary, violations)
}
