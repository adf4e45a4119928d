package retention

import (
	"context"
	"fmt"
	"sync"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Scheduler runs the retention sweep on a cron schedule. The sweep is a
// background batch job, never a request-path operation.
type Scheduler struct {
	manager  *Manager
	schedule string
	cron     *cron.Cron
	logger   *zap.Logger

	mu      sync.Mutex
	running bool
}

// NewScheduler creates a scheduler for the manager. Common schedules:
//
//	"0 3 * * *"   daily at 3 AM
//	"0 */6 * * *" every 6 hours
//
// An empty schedule disables the scheduler.
func NewScheduler(manager *Manager, schedule string, logger *zap.Logger) *Scheduler {
	return &Scheduler{
		manager:  manager,
		schedule: schedule,
		cron:     cron.New(),
		logger:   logger,
	}
}

// Start begins scheduled sweeps and stops them when ctx is cancelled.
func (s *Scheduler) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.schedule == "" {
		s.logger.Info("retention schedule not configured, scheduler disabled")
		return nil
	}

	if _, err := cron.ParseStandard(s.schedule); err != nil {
		return fmt.Errorf("invalid retention schedule %q: %w", s.schedule, err)
	}

	if _, err := s.cron.AddFunc(s.schedule, func() {
		s.runSweep(ctx)
	}); err != nil {
		return fmt.Errorf("scheduling retention sweep: %w", err)
	}

	s.cron.Start()
	s.running = true
	s.logger.Info("retention scheduler started",
		zap.String("schedule", s.schedule),
	)

	go func() {
		<-ctx.Done()
		s.Stop()
	}()
	return nil
}

func (s *Scheduler) runSweep(ctx context.Context) {
	summary, err := s.manager.EvaluateRetention(ctx)
	if err != nil {
		s.logger.Error("scheduled retention sweep aborted",
			zap.Error(err),
		)
		return
	}
	s.logger.Info("scheduled retention sweep finished",
		zap.Int("actioned", summary.Actioned),
		zap.Int("skipped", summary.Skipped),
		zap.Int("failed", summary.Failed),
	)
}

// Stop halts the scheduler and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.cron != nil && s.running {
		<-s.cron.Stop().Done()
		s.running = false
		s.logger.Info("retention scheduler stopped")
	}
}

// IsRunning reports whether the scheduler is active.
func (s *Scheduler) IsRunning() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.running
}
