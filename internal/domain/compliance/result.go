package compliance

// Violation describes one regulatory concern a validator flagged.
type Violation struct {
	Type        string   `json:"type"`
	Description string   `json:"description"`
	Severity    Severity `json:"severity"`
	Field       string   `json:"field,omitempty"`
	Value       string   `json:"value,omitempty"`
	Remediation string   `json:"remediation,omitempty"`
}

// Result is the outcome of evaluating a single rule against a context.
// Compliant is derived from the violation list and never set independently.
type Result struct {
	RuleID          string                 `json:"rule_id"`
	Compliant       bool                   `json:"compliant"`
	Violations      []Violation            `json:"violations"`
	Recommendations []string               `json:"recommendations,omitempty"`
	RiskLevel       RiskLevel              `json:"risk_level"`
	Metadata        map[string]interface{} `json:"metadata,omitempty"`
}

// NewResult builds a result for a rule, deriving Compliant and RiskLevel
// from the violations so the compliant == (len(violations) == 0) invariant
// cannot be broken by construction.
func NewResult(ruleID string, violations []Violation, recommendations ...string) Result {
	return Result{
		RuleID:          ruleID,
		Compliant:       len(violations) == 0,
		Violations:      violations,
		Recommendations: recommendations,
		RiskLevel:       riskFromViolations(violations),
	}
}

func riskFromViolations(violations []Violation) RiskLevel {
	risk := RiskLow
	for _, v := range violations {
		if level := riskFromSeverity(v.Severity); level > risk {
			risk = level
		}
	}
	return risk
}

func riskFromSeverity(s Severity) RiskLevel {
	switch s {
	case SeverityCritical:
		return RiskCritical
	case SeverityHigh:
		return RiskHigh
	case SeverityMedium:
		return RiskMedium
	default:
		return RiskLow
	}
}

// AggregateRisk computes the overall risk across a result set by severity
// dominance: any critical dominates, then high, then medium, else low.
func AggregateRisk(results []Result) RiskLevel {
	risk := RiskLow
	for _, r := range results {
		if r.RiskLevel > risk {
			risk = r.RiskLevel
		}
	}
	return risk
}

// HasCritical reports whether any result carries a critical violation.
func HasCritical(results []Result) bool {
	for _, r := range results {
		for _, v := range r.Violations {
			if v.Severity == SeverityCritical {
				return true
			}
		}
	}
	return false
}
