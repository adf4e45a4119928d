package retention

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/retention"
	"github.com/clinicore/compliance-engine/internal/errors"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
	"github.com/clinicore/compliance-engine/internal/metrics"
)

const sweepActor = "retention-manager"

// ManagerConfig holds the sweep settings.
type ManagerConfig struct {
	// BatchSize caps how many expired records one sweep examines per policy.
	BatchSize int
	// ActionsPerSecond throttles terminal actions; zero means unthrottled.
	ActionsPerSecond float64
	// PseudonymSalt feeds the deterministic pseudonym hash. It must stay
	// stable for the process lifetime so downstream joins on pseudonyms
	// remain consistent.
	PseudonymSalt string
}

// DefaultManagerConfig returns the default sweep settings.
func DefaultManagerConfig() ManagerConfig {
	return ManagerConfig{
		BatchSize:        500,
		ActionsPerSecond: 50,
		PseudonymSalt:    "dev-only-salt",
	}
}

// policySet is an immutable policy snapshot, swapped whole by administrative
// writers.
type policySet struct {
	version  int64
	policies []retention.Policy
	index    map[string]int
}

// Manager owns the retention policies and runs the sweep that applies
// terminal actions to records past their retention cutoff.
type Manager struct {
	logger   *zap.Logger
	store    TrackingStore
	trail    AuditLogger
	notifier Notifier
	metrics  *metrics.Metrics
	limiter  *rate.Limiter
	config   ManagerConfig

	writerMu sync.Mutex
	policies atomic.Pointer[policySet]
}

// NewManager creates a manager seeded with the default HIPAA/GDPR/FDA
// policies.
func NewManager(logger *zap.Logger, store TrackingStore, trail AuditLogger, notifier Notifier, m *metrics.Metrics, config ManagerConfig) (*Manager, error) {
	if config.BatchSize <= 0 {
		config.BatchSize = 500
	}
	var limiter *rate.Limiter
	if config.ActionsPerSecond > 0 {
		limiter = rate.NewLimiter(rate.Limit(config.ActionsPerSecond), 1)
	}

	mgr := &Manager{
		logger:   logger,
		store:    store,
		trail:    trail,
		notifier: notifier,
		metrics:  m,
		limiter:  limiter,
		config:   config,
	}
	mgr.policies.Store(&policySet{index: map[string]int{}})
	if err := mgr.ReloadPolicies(retention.DefaultPolicies()); err != nil {
		return nil, err
	}
	return mgr, nil
}

// RegisterPolicy adds or replaces a policy by id.
func (m *Manager) RegisterPolicy(policy retention.Policy) error {
	if err := policy.Validate(); err != nil {
		return err
	}

	m.writerMu.Lock()
	defer m.writerMu.Unlock()

	current := m.policies.Load()
	next := &policySet{
		version:  current.version + 1,
		policies: make([]retention.Policy, len(current.policies)),
		index:    make(map[string]int, len(current.index)+1),
	}
	copy(next.policies, current.policies)
	for id, i := range current.index {
		next.index[id] = i
	}

	if i, ok := next.index[policy.ID]; ok {
		next.policies[i] = policy
	} else {
		next.index[policy.ID] = len(next.policies)
		next.policies = append(next.policies, policy)
	}
	m.policies.Store(next)

	m.logger.Info("retention policy registered",
		zap.String("policy_id", policy.ID),
		zap.String("data_type", string(policy.DataType)),
		zap.Int("retention_days", policy.RetentionDays),
	)
	return nil
}

// ReloadPolicies replaces the whole policy set in one swap.
func (m *Manager) ReloadPolicies(policies []retention.Policy) error {
	next := &policySet{
		policies: make([]retention.Policy, 0, len(policies)),
		index:    make(map[string]int, len(policies)),
	}
	for _, policy := range policies {
		if err := policy.Validate(); err != nil {
			return err
		}
		if _, ok := next.index[policy.ID]; ok {
			return errors.NewValidationError("DUPLICATE_POLICY_ID",
				fmt.Sprintf("policy id %q appears more than once", policy.ID))
		}
		next.index[policy.ID] = len(next.policies)
		next.policies = append(next.policies, policy)
	}

	m.writerMu.Lock()
	defer m.writerMu.Unlock()
	next.version = m.policies.Load().version + 1
	m.policies.Store(next)
	return nil
}

// Policies returns a copy of the current policy set.
func (m *Manager) Policies() []retention.Policy {
	snapshot := m.policies.Load()
	out := make([]retention.Policy, len(snapshot.policies))
	copy(out, snapshot.policies)
	return out
}

// TrackRecord registers a record in the tracking collection so future sweeps
// can see it. A missing creation time defaults to now; status always starts
// active.
func (m *Manager) TrackRecord(ctx context.Context, record retention.TrackedRecord) (uuid.UUID, error) {
	record.ID = uuid.New()
	record.Status = retention.RecordActive
	if record.CreatedAt.IsZero() {
		record.CreatedAt = time.Now().UTC()
	}
	if record.DataType == "" {
		return uuid.Nil, errors.NewValidationError("MISSING_DATA_TYPE", "record data type is required")
	}
	if record.Reference == "" {
		return uuid.Nil, errors.NewValidationError("MISSING_REFERENCE", "record reference is required")
	}

	if err := m.store.Track(ctx, &record); err != nil {
		return uuid.Nil, errors.NewInternalError("failed to track record for retention").WithCause(err)
	}

	m.logger.Info("record tracked for retention",
		zap.String("record_id", record.ID.String()),
		zap.String("data_type", string(record.DataType)),
		zap.String("reference", record.Reference),
	)
	return record.ID, nil
}

// PolicyOutcome counts one policy's share of a sweep.
type PolicyOutcome struct {
	Examined int `json:"examined"`
	Actioned int `json:"actioned"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
}

// SweepSummary reports what one sweep did.
type SweepSummary struct {
	StartedAt time.Time                `json:"started_at"`
	Duration  time.Duration            `json:"duration"`
	Examined  int                      `json:"examined"`
	Actioned  int                      `json:"actioned"`
	Skipped   int                      `json:"skipped"`
	Failed    int                      `json:"failed"`
	PerPolicy map[string]PolicyOutcome `json:"per_policy"`
}

// ActionNotice is the payload published on retention.action and
// retention.action_error.
type ActionNotice struct {
	RecordID string           `json:"record_id"`
	PolicyID string           `json:"policy_id"`
	Action   retention.Method `json:"action"`
	DataType string           `json:"data_type"`
	Error    string           `json:"error,omitempty"`
}

// EvaluateRetention runs one sweep. For each policy it scans tracked records
// of the policy's data type created before the retention cutoff, skips
// exception-tagged records, and applies the policy's terminal action to the
// rest. Per-record failures are logged and counted but never abort the
// sweep. Cancellation is honored between policies and between records;
// an in-flight record action always completes together with its action log
// entry and audit event, so no record is left in an ambiguous deletion state.
func (m *Manager) EvaluateRetention(ctx context.Context) (*SweepSummary, error) {
	now := time.Now().UTC()
	summary := &SweepSummary{
		StartedAt: now,
		PerPolicy: make(map[string]PolicyOutcome),
	}
	defer func() {
		summary.Duration = time.Since(now)
		m.metrics.ObserveSweep(summary.Duration.Seconds())
	}()

	m.logger.Info("retention sweep started")

	snapshot := m.policies.Load()
	for _, policy := range snapshot.policies {
		if err := ctx.Err(); err != nil {
			m.logger.Warn("retention sweep cancelled",
				zap.String("next_policy", policy.ID),
			)
			return summary, err
		}

		outcome, err := m.sweepPolicy(ctx, policy, now)
		summary.PerPolicy[policy.ID] = outcome
		summary.Examined += outcome.Examined
		summary.Actioned += outcome.Actioned
		summary.Skipped += outcome.Skipped
		summary.Failed += outcome.Failed
		if err != nil {
			return summary, err
		}
	}

	m.logger.Info("retention sweep completed",
		zap.Int("examined", summary.Examined),
		zap.Int("actioned", summary.Actioned),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
		zap.Duration("duration", time.Since(now)),
	)
	return summary, nil
}

func (m *Manager) sweepPolicy(ctx context.Context, policy retention.Policy, now time.Time) (PolicyOutcome, error) {
	var outcome PolicyOutcome

	cutoff := policy.Cutoff(now)
	records, err := m.store.ListExpired(ctx, policy.DataType, cutoff, m.config.BatchSize)
	if err != nil {
		// A scan failure skips this policy but not the sweep.
		m.logger.Error("failed to scan expired records",
			zap.String("policy_id", policy.ID),
			zap.Error(err),
		)
		return outcome, nil
	}

	for _, record := range records {
		if err := ctx.Err(); err != nil {
			return outcome, err
		}

		outcome.Examined++
		if policy.Exempts(record.Tags) {
			outcome.Skipped++
			continue
		}

		if m.limiter != nil {
			if err := m.limiter.Wait(ctx); err != nil {
				return outcome, err
			}
		}

		// The action and its outcome records run on a detached context so an
		// in-flight record is never half-processed by cancellation: a record
		// that was deleted mid-cancel still gets its retention_actions entry
		// and audit event. Cancellation takes effect on the next iteration.
		actionCtx := context.WithoutCancel(ctx)
		if err := m.applyAction(actionCtx, policy, record); err != nil {
			outcome.Failed++
			m.recordOutcome(actionCtx, policy, record, err)
			continue
		}
		outcome.Actioned++
		m.recordOutcome(actionCtx, policy, record, nil)
	}
	return outcome, nil
}

// applyAction performs exactly one terminal action on a record.
func (m *Manager) applyAction(ctx context.Context, policy retention.Policy, record *retention.TrackedRecord) error {
	switch policy.Method {
	case retention.MethodSecureDelete:
		return m.store.Delete(ctx, record.ID)

	case retention.MethodAnonymize:
		fields := make(map[string]string, len(record.Fields))
		for k, v := range record.Fields {
			fields[k] = v
		}
		for _, field := range retention.IdentifyingFields {
			delete(fields, field)
		}
		return m.store.UpdateFields(ctx, record.ID, fields, retention.RecordAnonymized)

	case retention.MethodPseudonymize:
		fields := make(map[string]string, len(record.Fields))
		for k, v := range record.Fields {
			fields[k] = v
		}
		for _, field := range retention.IdentifyingFields {
			if value, ok := fields[field]; ok {
				fields[field] = m.Pseudonym(value)
			}
		}
		return m.store.UpdateFields(ctx, record.ID, fields, retention.RecordPseudonymized)

	default:
		return errors.NewBusinessError("UNSUPPORTED_METHOD",
			fmt.Sprintf("unsupported deletion method %q", policy.Method))
	}
}

// Pseudonym derives the stable token for an identifying value: a one-way
// salted hash, deterministic within the process so downstream joins on the
// pseudonym stay consistent.
func (m *Manager) Pseudonym(value string) string {
	sum := sha256.Sum256([]byte(m.config.PseudonymSalt + value))
	return "pseu_" + hex.EncodeToString(sum[:16])
}

// recordOutcome writes the retention-actions log entry, the audit trail
// entry, and the notification for one completed or failed action.
func (m *Manager) recordOutcome(ctx context.Context, policy retention.Policy, record *retention.TrackedRecord, actionErr error) {
	now := time.Now().UTC()

	actionMeta := map[string]interface{}{
		"data_type": string(record.DataType),
		"reference": record.Reference,
		"status":    "completed",
	}
	auditOutcome := audit.OutcomeSuccess
	topic := events.TopicRetentionAction
	notice := ActionNotice{
		RecordID: record.ID.String(),
		PolicyID: policy.ID,
		Action:   policy.Method,
		DataType: string(record.DataType),
	}

	if actionErr != nil {
		actionMeta["status"] = "failed"
		actionMeta["error"] = actionErr.Error()
		auditOutcome = audit.OutcomeFailure
		topic = events.TopicRetentionActionError
		notice.Error = actionErr.Error()

		m.metrics.RecordRetentionFailure()
		m.logger.Error("retention action failed",
			zap.String("record_id", record.ID.String()),
			zap.String("policy_id", policy.ID),
			zap.String("action", string(policy.Method)),
			zap.Error(actionErr),
		)
	} else {
		m.metrics.RecordRetentionAction(string(policy.Method))
		m.logger.Info("retention action applied",
			zap.String("record_id", record.ID.String()),
			zap.String("policy_id", policy.ID),
			zap.String("action", string(policy.Method)),
		)
	}

	if err := m.store.RecordAction(ctx, &retention.ActionRecord{
		RecordID:  record.ID,
		PolicyID:  policy.ID,
		Action:    policy.Method,
		Timestamp: now,
		Metadata:  actionMeta,
	}); err != nil {
		m.logger.Error("failed to write retention action entry",
			zap.String("record_id", record.ID.String()),
			zap.Error(err),
		)
	}

	var flags audit.ComplianceFlags
	for _, standard := range policy.Standards {
		flags.Set(standard)
	}
	m.trail.LogEvent(ctx, audit.Event{
		ActorID:   sweepActor,
		Operation: audit.OperationRetentionAction,
		Resource:  record.ID.String(),
		Outcome:   auditOutcome,
		Flags:     flags,
		Metadata: map[string]interface{}{
			"policy_id": policy.ID,
			"action":    string(policy.Method),
			"data_type": string(record.DataType),
		},
	})

	m.notifier.Publish(topic, notice)
}
