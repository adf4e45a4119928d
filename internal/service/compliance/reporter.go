package compliance

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/errors"
)

// Report summarizes a time window of compliance-check audit events.
type Report struct {
	PeriodStart      time.Time             `json:"period_start"`
	PeriodEnd        time.Time             `json:"period_end"`
	Standards        []compliance.Standard `json:"standards,omitempty"`
	TotalChecks      int                   `json:"total_checks"`
	Violations       int                   `json:"violations"`
	ComplianceRate   float64               `json:"compliance_rate"`
	OverallRisk      compliance.RiskLevel  `json:"overall_risk"`
	ViolationsByType map[string]int        `json:"violations_by_type"`
	Recommendations  []string              `json:"recommendations"`
	GeneratedAt      time.Time             `json:"generated_at"`
}

// Reporter builds governance reports from the audit trail.
type Reporter struct {
	logger *zap.Logger
	trail  AuditQuerier
}

func NewReporter(logger *zap.Logger, trail AuditQuerier) *Reporter {
	return &Reporter{logger: logger, trail: trail}
}

// GenerateComplianceReport summarizes compliance checks in [start, end],
// optionally restricted to events tagged with any of the given standards.
// Reports include every detected violation regardless of whether the
// originating call was blocked: governance visibility is never reduced by
// the blocking policy.
func (r *Reporter) GenerateComplianceReport(ctx context.Context, start, end time.Time, standards []compliance.Standard) (*Report, error) {
	if end.Before(start) {
		return nil, errors.NewValidationError("INVALID_PERIOD", "report period end precedes start")
	}

	events, err := r.trail.Query(ctx, audit.QueryFilter{
		Operation: audit.OperationComplianceCheck,
		From:      &start,
		To:        &end,
	})
	if err != nil {
		return nil, errors.NewInternalError("failed to read audit trail for report").WithCause(err)
	}

	report := &Report{
		PeriodStart:      start,
		PeriodEnd:        end,
		Standards:        standards,
		OverallRisk:      compliance.RiskLow,
		ViolationsByType: make(map[string]int),
		GeneratedAt:      time.Now().UTC(),
	}

	for _, event := range events {
		if !matchesStandards(event, standards) {
			continue
		}
		report.TotalChecks++

		if event.Outcome != audit.OutcomeWarning {
			continue
		}
		report.Violations++

		if risk := eventRisk(event); risk > report.OverallRisk {
			report.OverallRisk = risk
		}
		for _, violationType := range eventViolationTypes(event) {
			report.ViolationsByType[violationType]++
		}
	}

	if report.TotalChecks == 0 {
		report.ComplianceRate = 1
	} else {
		report.ComplianceRate = 1 - float64(report.Violations)/float64(report.TotalChecks)
	}

	report.Recommendations = recommend(report.ViolationsByType)

	r.logger.Info("compliance report generated",
		zap.Time("period_start", start),
		zap.Time("period_end", end),
		zap.Int("total_checks", report.TotalChecks),
		zap.Int("violations", report.Violations),
		zap.Float64("compliance_rate", report.ComplianceRate),
		zap.String("overall_risk", report.OverallRisk.String()),
	)
	return report, nil
}

func matchesStandards(event *audit.Event, standards []compliance.Standard) bool {
	if len(standards) == 0 {
		return true
	}
	for _, s := range standards {
		if event.Flags.Has(s) {
			return true
		}
	}
	return false
}

// eventRisk reads the stored per-event risk metadata.
func eventRisk(event *audit.Event) compliance.RiskLevel {
	raw, ok := event.Metadata[audit.MetaRiskLevel]
	if !ok {
		return compliance.RiskLow
	}
	s, ok := raw.(string)
	if !ok {
		return compliance.RiskLow
	}
	return compliance.ParseRiskLevel(s)
}

// eventViolationTypes reads the violation type list out of event metadata.
// Values round-tripped through JSON arrive as []interface{}.
func eventViolationTypes(event *audit.Event) []string {
	raw, ok := event.Metadata[audit.MetaViolations]
	if !ok {
		return nil
	}
	switch list := raw.(type) {
	case []string:
		return list
	case []interface{}:
		out := make([]string, 0, len(list))
		for _, v := range list {
			if s, ok := v.(string); ok {
				out = append(out, s)
			}
		}
		return out
	}
	return nil
}

// recommendationThreshold is how many occurrences of a violation type it
// takes before the generator suggests a systemic fix.
const recommendationThreshold = 3

func recommend(byType map[string]int) []string {
	var recs []string

	if byType["missing_lawful_basis"]+byType["missing_consent_reference"] >= recommendationThreshold {
		recs = append(recs, "Implement an automated consent-collection flow; consent-related violations recur.")
	}
	if byType["missing_role"] >= recommendationThreshold {
		recs = append(recs, "Review role-based access controls; PHI is repeatedly accessed without an actor role.")
	}
	if byType["missing_electronic_signature"] > 0 {
		recs = append(recs, "Roll out electronic signature capture for regulated record operations.")
	}
	if byType["sensitive_data_exposure"] > 0 {
		recs = append(recs, "Audit payload construction paths; sensitive fields are leaving permitted review operations.")
	}

	if len(recs) == 0 {
		recs = append(recs, "Maintain current controls; no recurring violation patterns detected.")
	}
	return recs
}
