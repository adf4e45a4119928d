package retention

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func TestSchedulerLifecycle(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())
	s := NewScheduler(mgr, "0 3 * * *", zaptest.NewLogger(t))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	require.NoError(t, s.Start(ctx))
	assert.True(t, s.IsRunning())

	s.Stop()
	assert.False(t, s.IsRunning())

	// Stop is idempotent.
	s.Stop()
}

func TestSchedulerDisabledWithoutSchedule(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())
	s := NewScheduler(mgr, "", zaptest.NewLogger(t))

	require.NoError(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}

func TestSchedulerRejectsInvalidSchedule(t *testing.T) {
	mgr, _, _ := newTestManager(t, newFakeTrackingStore())
	s := NewScheduler(mgr, "not a cron line", zaptest.NewLogger(t))

	assert.Error(t, s.Start(context.Background()))
	assert.False(t, s.IsRunning())
}
