package compliance

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	"github.com/clinicore/compliance-engine/internal/errors"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
	"github.com/clinicore/compliance-engine/internal/metrics"
)

// ErrCriticalViolation is returned by Enforce when any critical violation is
// present. Callers needing a hard stop use Enforce; advisory callers use
// ValidateCompliance directly.
var ErrCriticalViolation = errors.NewBusinessError("COMPLIANCE_CRITICAL",
	"critical compliance violation detected")

// EngineConfig holds the engine's evaluation settings.
type EngineConfig struct {
	ParallelEvaluation bool          `json:"parallel_evaluation"`
	EvaluationTimeout  time.Duration `json:"evaluation_timeout"`
}

// DefaultEngineConfig returns the default evaluation settings.
func DefaultEngineConfig() EngineConfig {
	return EngineConfig{
		ParallelEvaluation: true,
		EvaluationTimeout:  10 * time.Second,
	}
}

// ruleSet is an immutable registry snapshot. Readers load it atomically;
// administrative writers build a replacement and swap it under the writer
// mutex.
type ruleSet struct {
	version int64
	rules   []compliance.Rule
	index   map[string]int
}

// Engine runs every registered rule against a context and aggregates the
// results into a risk verdict. It is an explicitly constructed instance:
// callers inject their own audit trail and notifier, and parallel tests each
// get their own engine.
type Engine struct {
	logger     *zap.Logger
	auditTrail AuditLogger
	notifier   Notifier
	metrics    *metrics.Metrics
	tracer     trace.Tracer
	config     EngineConfig

	writerMu sync.Mutex
	rules    atomic.Pointer[ruleSet]
}

// NewEngine creates an engine with an empty registry.
func NewEngine(logger *zap.Logger, auditTrail AuditLogger, notifier Notifier, m *metrics.Metrics, config EngineConfig) *Engine {
	e := &Engine{
		logger:     logger,
		auditTrail: auditTrail,
		notifier:   notifier,
		metrics:    m,
		tracer:     otel.Tracer("compliance-engine"),
		config:     config,
	}
	e.rules.Store(&ruleSet{index: map[string]int{}})
	return e
}

// Register adds or replaces a rule by id. Registration is an administrative
// operation: writers are serialized, and each write publishes a fresh
// registry snapshot.
func (e *Engine) Register(rule compliance.Rule) error {
	if err := rule.Validate(); err != nil {
		return err
	}

	e.writerMu.Lock()
	defer e.writerMu.Unlock()

	current := e.rules.Load()
	next := &ruleSet{
		version: current.version + 1,
		rules:   make([]compliance.Rule, len(current.rules)),
		index:   make(map[string]int, len(current.index)+1),
	}
	copy(next.rules, current.rules)
	for id, i := range current.index {
		next.index[id] = i
	}

	if i, ok := next.index[rule.ID]; ok {
		next.rules[i] = rule
	} else {
		next.index[rule.ID] = len(next.rules)
		next.rules = append(next.rules, rule)
	}
	e.rules.Store(next)

	e.logger.Info("compliance rule registered",
		zap.String("rule_id", rule.ID),
		zap.String("standard", string(rule.Standard)),
		zap.Int64("registry_version", next.version),
	)
	return nil
}

// Reload replaces the entire registry with a new rule set in one swap.
func (e *Engine) Reload(rules []compliance.Rule) error {
	next := &ruleSet{
		rules: make([]compliance.Rule, 0, len(rules)),
		index: make(map[string]int, len(rules)),
	}
	for _, rule := range rules {
		if err := rule.Validate(); err != nil {
			return err
		}
		if _, ok := next.index[rule.ID]; ok {
			return errors.NewValidationError("DUPLICATE_RULE_ID",
				fmt.Sprintf("rule id %q appears more than once", rule.ID))
		}
		next.index[rule.ID] = len(next.rules)
		next.rules = append(next.rules, rule)
	}

	e.writerMu.Lock()
	defer e.writerMu.Unlock()
	next.version = e.rules.Load().version + 1
	e.rules.Store(next)

	e.logger.Info("compliance registry reloaded",
		zap.Int("rules", len(next.rules)),
		zap.Int64("registry_version", next.version),
	)
	return nil
}

// Rules returns a copy of the current registry.
func (e *Engine) Rules() []compliance.Rule {
	snapshot := e.rules.Load()
	out := make([]compliance.Rule, len(snapshot.rules))
	copy(out, snapshot.rules)
	return out
}

// ViolationNotice is the payload published on compliance.violation.
type ViolationNotice struct {
	RuleID     string                 `json:"rule_id"`
	Standard   compliance.Standard    `json:"standard"`
	Operation  string                 `json:"operation"`
	ActorID    string                 `json:"actor_id,omitempty"`
	RiskLevel  string                 `json:"risk_level"`
	Violations []compliance.Violation `json:"violations"`
}

// ValidateCompliance runs every registered rule against the context. All
// rules always run: compliance reporting needs full visibility over every
// applicable concern, not just the first failure. A validator that panics
// yields a synthetic failing result instead of crashing the caller or
// silently passing data through.
func (e *Engine) ValidateCompliance(ctx context.Context, cctx compliance.Context) []compliance.Result {
	ctx, span := e.tracer.Start(ctx, "engine.validate_compliance",
		trace.WithAttributes(
			attribute.String("operation", cctx.Operation),
			attribute.String("classification", string(cctx.Classification)),
		))
	defer span.End()

	if e.config.EvaluationTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, e.config.EvaluationTimeout)
		defer cancel()
	}

	e.metrics.RecordCheck()

	snapshot := e.rules.Load()
	results := make([]compliance.Result, len(snapshot.rules))

	if e.config.ParallelEvaluation && len(snapshot.rules) > 1 {
		// Validators share no mutable state, so fan-out bounded by the rule
		// count is safe.
		g, _ := errgroup.WithContext(ctx)
		g.SetLimit(len(snapshot.rules))
		for i, rule := range snapshot.rules {
			g.Go(func() error {
				results[i] = e.evaluateRule(rule, cctx)
				return nil
			})
		}
		_ = g.Wait()
	} else {
		for i, rule := range snapshot.rules {
			results[i] = e.evaluateRule(rule, cctx)
		}
	}

	clean := true
	for i, result := range results {
		if result.Compliant {
			continue
		}
		clean = false
		e.reportViolations(ctx, snapshot.rules[i], cctx, result)
	}

	// A fully compliant evaluation still leaves a trail entry so reports can
	// count total checks, not just failures.
	if clean && len(results) > 0 {
		var flags audit.ComplianceFlags
		for _, rule := range snapshot.rules {
			flags.Set(rule.Standard)
		}
		e.auditTrail.LogEvent(ctx, audit.Event{
			ActorID:   cctx.ActorID,
			ActorRole: cctx.ActorRole,
			Operation: audit.OperationComplianceCheck,
			Resource:  cctx.Operation,
			Outcome:   audit.OutcomeSuccess,
			Flags:     flags,
			Metadata: map[string]interface{}{
				audit.MetaRiskLevel: compliance.RiskLow.String(),
				audit.MetaCheckKind: cctx.Operation,
			},
		})
	}

	risk := compliance.AggregateRisk(results)
	span.SetAttributes(attribute.String("risk_level", risk.String()))

	e.logger.Debug("compliance validation completed",
		zap.String("operation", cctx.Operation),
		zap.Int("rules", len(results)),
		zap.String("risk_level", risk.String()),
	)
	return results
}

// Enforce validates the context and fails hard on any critical violation.
// Non-critical violations remain advisory and never block.
func (e *Engine) Enforce(ctx context.Context, cctx compliance.Context) ([]compliance.Result, error) {
	results := e.ValidateCompliance(ctx, cctx)
	if compliance.HasCritical(results) {
		return results, ErrCriticalViolation
	}
	return results, nil
}

// evaluateRule invokes one validator, converting a panic into a failing
// result with a single validation_error violation.
func (e *Engine) evaluateRule(rule compliance.Rule, cctx compliance.Context) (result compliance.Result) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Error("validator panicked",
				zap.String("rule_id", rule.ID),
				zap.Any("panic", r),
			)
			result = compliance.NewResult(rule.ID, []compliance.Violation{{
				Type:        "validation_error",
				Description: fmt.Sprintf("validator for rule %s failed: %v", rule.ID, r),
				Severity:    compliance.SeverityHigh,
				Remediation: "investigate the validator failure before trusting this rule's coverage",
			}})
		}
	}()
	return rule.Validator.Evaluate(cctx)
}

// reportViolations writes the audit trail entry and emits the violation
// notification for one non-compliant result.
func (e *Engine) reportViolations(ctx context.Context, rule compliance.Rule, cctx compliance.Context, result compliance.Result) {
	for _, v := range result.Violations {
		e.metrics.RecordViolation(v.Severity.String(), string(rule.Standard))
	}

	types := make([]string, len(result.Violations))
	for i, v := range result.Violations {
		types[i] = v.Type
	}

	e.auditTrail.LogEvent(ctx, audit.Event{
		ActorID:   cctx.ActorID,
		ActorRole: cctx.ActorRole,
		Operation: audit.OperationComplianceCheck,
		Resource:  rule.ID,
		Outcome:   audit.OutcomeWarning,
		Flags:     audit.FlagsFor(rule.Standard),
		Metadata: map[string]interface{}{
			audit.MetaRuleID:     rule.ID,
			audit.MetaRiskLevel:  result.RiskLevel.String(),
			audit.MetaViolations: types,
			audit.MetaCheckKind:  cctx.Operation,
		},
	})

	e.notifier.Publish(events.TopicViolation, ViolationNotice{
		RuleID:     rule.ID,
		Standard:   rule.Standard,
		Operation:  cctx.Operation,
		ActorID:    cctx.ActorID,
		RiskLevel:  result.RiskLevel.String(),
		Violations: result.Violations,
	})
}
