package compliance

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

func violationTypes(result compliance.Result) []string {
	types := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		types[i] = v.Type
	}
	return types
}

func severityOf(t *testing.T, result compliance.Result, violationType string) compliance.Severity {
	t.Helper()
	for _, v := range result.Violations {
		if v.Type == violationType {
			return v.Severity
		}
	}
	t.Fatalf("violation %q not found in %v", violationType, violationTypes(result))
	return 0
}

func TestMinimumNecessaryValidator(t *testing.T) {
	v := NewMinimumNecessaryValidator()

	t.Run("phi access without role", func(t *testing.T) {
		cctx := compliance.NewContext("patient_record_read", compliance.ClassificationPHI)
		result := v.Evaluate(cctx)

		assert.False(t, result.Compliant)
		assert.Contains(t, violationTypes(result), "missing_role")
		assert.Equal(t, compliance.SeverityHigh, severityOf(t, result, "missing_role"))
	})

	t.Run("phi access with role is compliant", func(t *testing.T) {
		cctx := compliance.NewContext("patient_record_read", compliance.ClassificationPHI)
		cctx.ActorRole = "physician"
		result := v.Evaluate(cctx)
		assert.True(t, result.Compliant)
	})

	t.Run("sensitive field outside review operation is critical", func(t *testing.T) {
		cctx := compliance.NewContext("billing_export", compliance.ClassificationPHI)
		cctx.ActorRole = "billing_clerk"
		cctx.Payload = map[string]interface{}{
			"name": "Jane Doe",
			"ssn":  "000-00-0000",
		}
		result := v.Evaluate(cctx)

		assert.False(t, result.Compliant)
		assert.Contains(t, violationTypes(result), "sensitive_data_exposure")
		assert.Equal(t, compliance.SeverityCritical, severityOf(t, result, "sensitive_data_exposure"))
		assert.Equal(t, compliance.RiskCritical, result.RiskLevel)
	})

	t.Run("sensitive field inside review operation is allowed", func(t *testing.T) {
		for _, op := range []string{"compliance_review", "audit_review", "legal_review"} {
			cctx := compliance.NewContext(op, compliance.ClassificationPHI)
			cctx.ActorRole = "compliance_officer"
			cctx.Payload = map[string]interface{}{"hiv_status": "redacted"}
			result := v.Evaluate(cctx)
			assert.True(t, result.Compliant, "operation %s", op)
		}
	})

	t.Run("one violation per sensitive field", func(t *testing.T) {
		cctx := compliance.NewContext("data_export", compliance.ClassificationPHI)
		cctx.ActorRole = "analyst"
		cctx.Payload = map[string]interface{}{
			"ssn":          "000-00-0000",
			"genetic_data": "sequence",
			"diagnosis":    "benign",
		}
		result := v.Evaluate(cctx)
		assert.Len(t, result.Violations, 2)
	})

	t.Run("non-phi without role is fine", func(t *testing.T) {
		cctx := compliance.NewContext("report_view", compliance.ClassificationPublic)
		result := v.Evaluate(cctx)
		assert.True(t, result.Compliant)
	})
}

func TestLawfulBasisValidator(t *testing.T) {
	v := NewLawfulBasisValidator()

	t.Run("non-personal data needs no basis", func(t *testing.T) {
		cctx := compliance.NewContext("device_telemetry_write", compliance.ClassificationDeviceData)
		result := v.Evaluate(cctx)
		assert.True(t, result.Compliant)
	})

	t.Run("personal data without basis is critical", func(t *testing.T) {
		for _, class := range []compliance.Classification{
			compliance.ClassificationPHI,
			compliance.ClassificationPII,
		} {
			cctx := compliance.NewContext("profile_update", class)
			result := v.Evaluate(cctx)

			assert.False(t, result.Compliant, "classification %s", class)
			assert.Contains(t, violationTypes(result), "missing_lawful_basis")
			assert.Equal(t, compliance.SeverityCritical, severityOf(t, result, "missing_lawful_basis"))
		}
	})

	t.Run("empty basis string reads as missing", func(t *testing.T) {
		cctx := compliance.NewContext("profile_update", compliance.ClassificationPII)
		cctx.GDPR = &compliance.GDPRFacts{}
		result := v.Evaluate(cctx)
		assert.Contains(t, violationTypes(result), "missing_lawful_basis")
	})

	t.Run("consent basis requires a consent record reference", func(t *testing.T) {
		cctx := compliance.NewContext("profile_update", compliance.ClassificationPII)
		cctx.GDPR = &compliance.GDPRFacts{LawfulBasis: "consent"}
		result := v.Evaluate(cctx)

		assert.Contains(t, violationTypes(result), "missing_consent_reference")
		assert.Equal(t, compliance.SeverityCritical, severityOf(t, result, "missing_consent_reference"))

		cctx.GDPR.ConsentRecordID = "c-123"
		assert.True(t, v.Evaluate(cctx).Compliant)
	})

	t.Run("non-consent basis needs no reference", func(t *testing.T) {
		cctx := compliance.NewContext("billing_run", compliance.ClassificationPII)
		cctx.GDPR = &compliance.GDPRFacts{LawfulBasis: "contract"}
		assert.True(t, v.Evaluate(cctx).Compliant)
	})

	t.Run("eu processing without compliant process", func(t *testing.T) {
		cctx := compliance.NewContext("profile_update", compliance.ClassificationPII)
		cctx.GDPR = &compliance.GDPRFacts{
			LawfulBasis:     "contract",
			LocationCountry: "DE",
		}
		result := v.Evaluate(cctx)

		assert.Contains(t, violationTypes(result), "missing_gdpr_process")
		assert.Equal(t, compliance.SeverityHigh, severityOf(t, result, "missing_gdpr_process"))

		cctx.GDPR.CompliantProcess = true
		assert.True(t, v.Evaluate(cctx).Compliant)
	})

	t.Run("non-eu location skips the process check", func(t *testing.T) {
		cctx := compliance.NewContext("profile_update", compliance.ClassificationPII)
		cctx.GDPR = &compliance.GDPRFacts{
			LawfulBasis:     "contract",
			LocationCountry: "US",
		}
		assert.True(t, v.Evaluate(cctx).Compliant)
	})
}

func TestElectronicRecordsValidator(t *testing.T) {
	v := NewElectronicRecordsValidator()

	t.Run("unregulated data is out of scope", func(t *testing.T) {
		cctx := compliance.NewContext("record_create", compliance.ClassificationPII)
		assert.True(t, v.Evaluate(cctx).Compliant)
	})

	t.Run("clinical data entry without controls", func(t *testing.T) {
		cctx := compliance.NewContext("clinical_data_entry", compliance.ClassificationClinicalData)
		result := v.Evaluate(cctx)

		require.False(t, result.Compliant)
		types := violationTypes(result)
		assert.Contains(t, types, "missing_electronic_signature")
		assert.Contains(t, types, "incomplete_audit_trail")
		assert.Contains(t, types, "missing_data_integrity")
		assert.Equal(t, compliance.SeverityCritical, severityOf(t, result, "missing_electronic_signature"))
		assert.Equal(t, compliance.RiskCritical, result.RiskLevel)
	})

	t.Run("read operation skips write controls", func(t *testing.T) {
		cctx := compliance.NewContext("clinical_data_view", compliance.ClassificationClinicalData)
		result := v.Evaluate(cctx)

		types := violationTypes(result)
		assert.NotContains(t, types, "missing_electronic_signature")
		assert.NotContains(t, types, "incomplete_audit_trail")
		assert.Contains(t, types, "missing_data_integrity")
		assert.Contains(t, types, "system_not_validated")
	})

	t.Run("full controls are compliant", func(t *testing.T) {
		cctx := compliance.NewContext("clinical_data_entry", compliance.ClassificationClinicalData)
		cctx.Records = &compliance.RecordControls{
			ElectronicSignature: true,
			AuditTrailComplete:  true,
			IntegrityCheck:      true,
			SystemValidated:     true,
		}
		assert.True(t, v.Evaluate(cctx).Compliant)
	})

	t.Run("write markers are substring matched", func(t *testing.T) {
		for _, op := range []string{"record_create", "batch_update", "result_sign", "DELETE_STUDY"} {
			assert.True(t, isWriteOperation(op), "operation %s", op)
		}
		assert.False(t, isWriteOperation("view_study"))
	})
}

func TestDefaultRules(t *testing.T) {
	rules := DefaultRules()
	require.Len(t, rules, 3)

	ids := make(map[string]compliance.Standard, len(rules))
	for _, rule := range rules {
		require.NoError(t, rule.Validate())
		ids[rule.ID] = rule.Standard
	}
	assert.Equal(t, compliance.StandardHIPAA, ids[RuleMinimumNecessary])
	assert.Equal(t, compliance.StandardGDPR, ids[RuleLawfulBasis])
	assert.Equal(t, compliance.StandardFDA, ids[RuleElectronicRecords])
}
