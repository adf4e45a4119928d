package retention

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"

	auditdomain "github.com/clinicore/compliance-engine/internal/domain/audit"
	"github.com/clinicore/compliance-engine/internal/domain/compliance"
	retentiondomain "github.com/clinicore/compliance-engine/internal/domain/retention"
	"github.com/clinicore/compliance-engine/internal/infrastructure/events"
)

type fakeTrackingStore struct {
	mu      sync.Mutex
	records map[compliance.Classification][]*retentiondomain.TrackedRecord

	deleted    []uuid.UUID
	deleteErr  error
	deleteHook func()
	updated    map[uuid.UUID]retentiondomain.RecordStatus
	fields     map[uuid.UUID]map[string]string
	actions    []*retentiondomain.ActionRecord
	listErr    map[compliance.Classification]error
}

func newFakeTrackingStore() *fakeTrackingStore {
	return &fakeTrackingStore{
		records: make(map[compliance.Classification][]*retentiondomain.TrackedRecord),
		updated: make(map[uuid.UUID]retentiondomain.RecordStatus),
		fields:  make(map[uuid.UUID]map[string]string),
		listErr: make(map[compliance.Classification]error),
	}
}

func (f *fakeTrackingStore) Track(ctx context.Context, record *retentiondomain.TrackedRecord) error {
	f.add(record)
	return nil
}

func (f *fakeTrackingStore) ListExpired(ctx context.Context, dataType compliance.Classification, cutoff time.Time, limit int) ([]*retentiondomain.TrackedRecord, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.listErr[dataType]; err != nil {
		return nil, err
	}
	var out []*retentiondomain.TrackedRecord
	for _, r := range f.records[dataType] {
		if r.Status == retentiondomain.RecordActive && r.CreatedAt.Before(cutoff) {
			out = append(out, r)
		}
		if limit > 0 && len(out) >= limit {
			break
		}
	}
	return out, nil
}

func (f *fakeTrackingStore) Delete(ctx context.Context, id uuid.UUID) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.deleteErr != nil {
		return f.deleteErr
	}
	if f.deleteHook != nil {
		f.deleteHook()
	}
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeTrackingStore) UpdateFields(ctx context.Context, id uuid.UUID, fields map[string]string, status retentiondomain.RecordStatus) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.updated[id] = status
	f.fields[id] = fields
	return nil
}

func (f *fakeTrackingStore) RecordAction(ctx context.Context, action *retentiondomain.ActionRecord) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	f.actions = append(f.actions, action)
	return nil
}

func (f *fakeTrackingStore) add(record *retentiondomain.TrackedRecord) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.records[record.DataType] = append(f.records[record.DataType], record)
}

type fakeTrail struct {
	mu     sync.Mutex
	events []auditdomain.Event
}

func (f *fakeTrail) LogEvent(ctx context.Context, draft auditdomain.Event) uuid.UUID {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.events = append(f.events, draft)
	return uuid.New()
}

type captureNotifier struct {
	mu     sync.Mutex
	topics []events.Topic
}

func (c *captureNotifier) Publish(topic events.Topic, payload interface{}) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.topics = append(c.topics, topic)
}

func (c *captureNotifier) count(topic events.Topic) int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, t := range c.topics {
		if t == topic {
			n++
		}
	}
	return n
}

func testConfig() ManagerConfig {
	return ManagerConfig{
		BatchSize:     100,
		PseudonymSalt: "test-salt",
		// Unthrottled so tests run fast.
		ActionsPerSecond: 0,
	}
}

func newTestManager(t *testing.T, store TrackingStore) (*Manager, *fakeTrail, *captureNotifier) {
	t.Helper()
	trail := &fakeTrail{}
	notifier := &captureNotifier{}
	mgr, err := NewManager(zaptest.NewLogger(t), store, trail, notifier, nil, testConfig())
	require.NoError(t, err)
	return mgr, trail, notifier
}

func agedRecord(dataType compliance.Classification, ageDays int, tags ...string) *retentiondomain.TrackedRecord {
	return &retentiondomain.TrackedRecord{
		ID:        uuid.New(),
		DataType:  dataType,
		Reference: "patients",
		CreatedAt: time.Now().UTC().AddDate(0, 0, -ageDays),
		Tags:      tags,
		Status:    retentiondomain.RecordActive,
	}
}

func TestTrackRecord(t *testing.T) {
	store := newFakeTrackingStore()
	mgr, _, _ := newTestManager(t, store)

	id, err := mgr.TrackRecord(context.Background(), retentiondomain.TrackedRecord{
		DataType:  compliance.ClassificationPHI,
		Reference: "patients",
	})
	require.NoError(t, err)
	assert.NotEqual(t, uuid.Nil, id)

	require.Len(t, store.records[compliance.ClassificationPHI], 1)
	tracked := store.records[compliance.ClassificationPHI][0]
	assert.Equal(t, retentiondomain.RecordActive, tracked.Status)
	assert.False(t, tracked.CreatedAt.IsZero())

	_, err = mgr.TrackRecord(context.Background(), retentiondomain.TrackedRecord{Reference: "patients"})
	assert.Error(t, err, "data type is required")
	_, err = mgr.TrackRecord(context.Background(), retentiondomain.TrackedRecord{DataType: compliance.ClassificationPHI})
	assert.Error(t, err, "reference is required")
}

func TestManagerSeedsDefaultPolicies(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())
	policies := mgr.Policies()
	require.Len(t, policies, 3)
}

func TestRegisterPolicyReplacesByID(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())

	require.NoError(t, mgr.RegisterPolicy(retentiondomain.Policy{
		ID:            "hipaa-phi",
		DataType:      compliance.ClassificationPHI,
		RetentionDays: 100,
		Method:        retentiondomain.MethodAnonymize,
	}))

	policies := mgr.Policies()
	assert.Len(t, policies, 3)
	for _, p := range policies {
		if p.ID == "hipaa-phi" {
			assert.Equal(t, 100, p.RetentionDays)
			assert.Equal(t, retentiondomain.MethodAnonymize, p.Method)
		}
	}

	assert.Error(t, mgr.RegisterPolicy(retentiondomain.Policy{ID: "broken"}))
}

func TestSweepSecureDeletesExpiredPHI(t *testing.T) {
	store := newFakeTrackingStore()
	expired := agedRecord(compliance.ClassificationPHI, 2600)
	fresh := agedRecord(compliance.ClassificationPHI, 100)
	store.add(expired)
	store.add(fresh)

	mgr, trail, notifier := newTestManager(t, store)
	summary, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Examined)
	assert.Equal(t, 1, summary.Actioned)
	assert.Equal(t, 0, summary.Failed)
	require.Len(t, store.deleted, 1)
	assert.Equal(t, expired.ID, store.deleted[0])

	// One retention_actions entry and one audit event per action.
	require.Len(t, store.actions, 1)
	assert.Equal(t, "hipaa-phi", store.actions[0].PolicyID)
	assert.Equal(t, retentiondomain.MethodSecureDelete, store.actions[0].Action)

	require.Len(t, trail.events, 1)
	assert.Equal(t, sweepActor, trail.events[0].ActorID)
	assert.Equal(t, auditdomain.OperationRetentionAction, trail.events[0].Operation)
	assert.Equal(t, auditdomain.OutcomeSuccess, trail.events[0].Outcome)
	assert.True(t, trail.events[0].Flags.Has(compliance.StandardHIPAA))

	assert.Equal(t, 1, notifier.count(events.TopicRetentionAction))
}

func TestSweepSkipsExceptionTaggedRecords(t *testing.T) {
	store := newFakeTrackingStore()
	store.add(agedRecord(compliance.ClassificationPHI, 2600, "research-data"))
	store.add(agedRecord(compliance.ClassificationPHI, 2600, "legal-hold"))

	mgr, trail, notifier := newTestManager(t, store)
	summary, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Examined)
	assert.Equal(t, 2, summary.Skipped)
	assert.Equal(t, 0, summary.Actioned)
	assert.Empty(t, store.deleted)
	assert.Empty(t, store.actions, "skipped records leave no action entry")
	assert.Empty(t, trail.events)
	assert.Equal(t, 0, notifier.count(events.TopicRetentionAction))
}

func TestSweepAnonymizeStripsIdentifyingFields(t *testing.T) {
	store := newFakeTrackingStore()
	record := agedRecord(compliance.ClassificationPII, 1200)
	record.Fields = map[string]string{
		"name":      "Jane Doe",
		"email":     "jane@example.com",
		"diagnosis": "benign",
	}
	store.add(record)

	mgr, _, _ := newTestManager(t, store)
	require.NoError(t, mgr.RegisterPolicy(retentiondomain.Policy{
		ID:            "gdpr-pii",
		DataType:      compliance.ClassificationPII,
		RetentionDays: 1095,
		Method:        retentiondomain.MethodAnonymize,
	}))

	_, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err)

	assert.Equal(t, retentiondomain.RecordAnonymized, store.updated[record.ID])
	fields := store.fields[record.ID]
	assert.NotContains(t, fields, "name")
	assert.NotContains(t, fields, "email")
	// Non-identifying fields survive.
	assert.Equal(t, "benign", fields["diagnosis"])
}

func TestSweepPseudonymizeReplacesIdentifyingFields(t *testing.T) {
	store := newFakeTrackingStore()
	record := agedRecord(compliance.ClassificationPII, 1200)
	record.Fields = map[string]string{
		"name":  "Jane Doe",
		"notes": "follow up in 6 months",
	}
	store.add(record)

	mgr, _, _ := newTestManager(t, store)
	require.NoError(t, mgr.RegisterPolicy(retentiondomain.Policy{
		ID:            "gdpr-pii",
		DataType:      compliance.ClassificationPII,
		RetentionDays: 1095,
		Method:        retentiondomain.MethodPseudonymize,
	}))

	_, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err)

	assert.Equal(t, retentiondomain.RecordPseudonymized, store.updated[record.ID])
	fields := store.fields[record.ID]
	assert.Equal(t, mgr.Pseudonym("Jane Doe"), fields["name"])
	assert.Equal(t, "follow up in 6 months", fields["notes"])
}

func TestPseudonymIsDeterministicAndOpaque(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())

	a := mgr.Pseudonym("Jane Doe")
	b := mgr.Pseudonym("Jane Doe")
	assert.Equal(t, a, b, "same input yields the same pseudonym")
	assert.NotEqual(t, a, mgr.Pseudonym("John Doe"))
	assert.Contains(t, a, "pseu_")
	assert.NotContains(t, a, "Jane")

	// A different salt yields different pseudonyms for the same value.
	other, err := NewManager(zaptest.NewLogger(t), newFakeTrackingStore(), &fakeTrail{}, &captureNotifier{}, nil,
		ManagerConfig{BatchSize: 10, PseudonymSalt: "other-salt"})
	require.NoError(t, err)
	assert.NotEqual(t, a, other.Pseudonym("Jane Doe"))
}

func TestSweepContinuesPastRecordFailures(t *testing.T) {
	store := newFakeTrackingStore()
	store.add(agedRecord(compliance.ClassificationPHI, 2600))
	store.add(agedRecord(compliance.ClassificationPHI, 2700))
	store.deleteErr = errors.New("row locked")

	mgr, trail, notifier := newTestManager(t, store)
	summary, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err, "per-record failures never abort the sweep")

	assert.Equal(t, 2, summary.Examined)
	assert.Equal(t, 2, summary.Failed)
	assert.Equal(t, 0, summary.Actioned)

	// Failed actions still leave failure audit events and notifications.
	require.Len(t, trail.events, 2)
	assert.Equal(t, auditdomain.OutcomeFailure, trail.events[0].Outcome)
	assert.Equal(t, 2, notifier.count(events.TopicRetentionActionError))
}

func TestSweepContinuesPastScanFailures(t *testing.T) {
	store := newFakeTrackingStore()
	store.listErr[compliance.ClassificationPHI] = errors.New("scan failed")
	store.add(agedRecord(compliance.ClassificationPII, 1200))

	mgr, _, _ := newTestManager(t, store)
	summary, err := mgr.EvaluateRetention(context.Background())
	require.NoError(t, err)

	// The PII policy still ran despite the PHI scan failing.
	assert.Equal(t, 1, summary.Actioned)
	outcome := summary.PerPolicy["hipaa-phi"]
	assert.Equal(t, 0, outcome.Examined)
}

func TestSweepHonorsCancellation(t *testing.T) {
	t.Run("pre-cancelled context does nothing", func(t *testing.T) {
		store := newFakeTrackingStore()
		store.add(agedRecord(compliance.ClassificationPHI, 2600))

		ctx, cancel := context.WithCancel(context.Background())
		cancel()

		mgr, _, _ := newTestManager(t, store)
		summary, err := mgr.EvaluateRetention(ctx)
		assert.ErrorIs(t, err, context.Canceled)
		assert.Equal(t, 0, summary.Actioned)
		assert.Empty(t, store.deleted)
	})

	t.Run("mid-action cancellation still records the outcome", func(t *testing.T) {
		store := newFakeTrackingStore()
		store.add(agedRecord(compliance.ClassificationPHI, 2600))

		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		// Cancel while the delete is in flight. The completed action must
		// still land in the action ledger and the audit trail; the sweep
		// stops at the next cancellation point.
		store.deleteHook = cancel

		mgr, trail, notifier := newTestManager(t, store)
		summary, err := mgr.EvaluateRetention(ctx)
		assert.ErrorIs(t, err, context.Canceled)

		assert.Equal(t, 1, summary.Actioned)
		require.Len(t, store.deleted, 1)
		require.Len(t, store.actions, 1,
			"a completed secure_delete must leave a retention_actions entry")
		assert.Equal(t, retentiondomain.MethodSecureDelete, store.actions[0].Action)

		require.Len(t, trail.events, 1)
		assert.Equal(t, auditdomain.OutcomeSuccess, trail.events[0].Outcome)
		assert.Equal(t, 1, notifier.count(events.TopicRetentionAction))
	})
}

func TestReloadPoliciesRejectsDuplicates(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())

	policy := retentiondomain.Policy{
		ID:            "dup",
		DataType:      compliance.ClassificationPHI,
		RetentionDays: 10,
		Method:        retentiondomain.MethodSecureDelete,
	}
	err := mgr.ReloadPolicies([]retentiondomain.Policy{policy, policy})
	assert.Error(t, err)
	// The previous snapshot survives a failed reload.
	assert.Len(t, mgr.Policies(), 3)
}
