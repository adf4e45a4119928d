package retention

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/clinicore/compliance-engine/internal/domain/compliance"
)

func TestPolicyValidate(t *testing.T) {
	valid := Policy{
		ID:            "test-policy",
		DataType:      compliance.ClassificationPHI,
		RetentionDays: 30,
		Method:        MethodSecureDelete,
	}
	require.NoError(t, valid.Validate())

	tests := []struct {
		name   string
		mutate func(*Policy)
	}{
		{"missing id", func(p *Policy) { p.ID = "" }},
		{"missing data type", func(p *Policy) { p.DataType = "" }},
		{"zero retention", func(p *Policy) { p.RetentionDays = 0 }},
		{"negative retention", func(p *Policy) { p.RetentionDays = -7 }},
		{"unknown method", func(p *Policy) { p.Method = "shred" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			policy := valid
			tt.mutate(&policy)
			assert.Error(t, policy.Validate())
		})
	}
}

func TestPolicyCutoff(t *testing.T) {
	policy := Policy{RetentionDays: 2555}
	now := time.Date(2026, 8, 30, 12, 0, 0, 0, time.UTC)

	cutoff := policy.Cutoff(now)
	assert.Equal(t, now.AddDate(0, 0, -2555), cutoff)

	// A record created 2600 days ago is past the cutoff.
	created := now.AddDate(0, 0, -2600)
	assert.True(t, created.Before(cutoff))

	// A record created within the window is not.
	recent := now.AddDate(0, 0, -100)
	assert.False(t, recent.Before(cutoff))
}

func TestPolicyExempts(t *testing.T) {
	policy := Policy{Exceptions: []string{"research-data", "legal-hold"}}

	assert.True(t, policy.Exempts([]string{"research-data"}))
	assert.True(t, policy.Exempts([]string{"billing", "legal-hold"}))
	assert.False(t, policy.Exempts([]string{"billing"}))
	assert.False(t, policy.Exempts(nil))

	none := Policy{}
	assert.False(t, none.Exempts([]string{"legal-hold"}))
}

func TestDefaultPolicies(t *testing.T) {
	policies := DefaultPolicies()
	require.Len(t, policies, 3)

	byID := make(map[string]Policy, len(policies))
	for _, p := range policies {
		require.NoError(t, p.Validate())
		byID[p.ID] = p
	}

	phi := byID["hipaa-phi"]
	assert.Equal(t, compliance.ClassificationPHI, phi.DataType)
	assert.Equal(t, 2555, phi.RetentionDays)
	assert.Equal(t, MethodSecureDelete, phi.Method)
	assert.Contains(t, phi.Exceptions, "research-data")
	assert.Contains(t, phi.Exceptions, "legal-hold")

	pii := byID["gdpr-pii"]
	assert.Equal(t, compliance.ClassificationPII, pii.DataType)
	assert.Equal(t, 1095, pii.RetentionDays)

	clinical := byID["fda-clinical"]
	assert.Equal(t, compliance.ClassificationClinicalData, clinical.DataType)
	assert.Equal(t, 5475, clinical.RetentionDays)
	require.NotNil(t, clinical.ArchiveDays)
	assert.Equal(t, 3650, *clinical.ArchiveDays)
}
