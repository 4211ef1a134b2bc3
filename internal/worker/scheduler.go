package worker

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"k8s.io/utils/clock"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
)

// Reconciler is the set of entry points the scheduler drives
type Reconciler interface {
	SyncMembers(ctx context.Context) (*domain.ReconciliationResult, error)
	SyncSuspensions(ctx context.Context) (*domain.LifecycleResult, error)
	Check3MonthInactivity(ctx context.Context) (*domain.LifecycleResult, error)
	Check6MonthInactivity(ctx context.Context) (*domain.LifecycleResult, error)
	ClearCache()
}

// Intervals configures how often each scheduled task runs. A zero interval
// disables that task.
type Intervals struct {
	Members     time.Duration
	Suspensions time.Duration
	Inactivity  time.Duration
}

// Scheduler periodically runs the reconciliation jobs and reports results
// with changes to the notifier.
type Scheduler struct {
	reconciler Reconciler
	notifier   domain.Notifier
	clock      clock.WithTicker
	intervals  Intervals
	runOnStart bool
	logger     *slog.Logger
}

// NewScheduler creates a new scheduler
func NewScheduler(
	reconciler Reconciler,
	notifier domain.Notifier,
	intervals Intervals,
	runOnStart bool,
	clk clock.WithTicker,
	logger *slog.Logger,
) *Scheduler {
	if clk == nil {
		clk = clock.RealClock{}
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Scheduler{
		reconciler: reconciler,
		notifier:   notifier,
		clock:      clk,
		intervals:  intervals,
		runOnStart: runOnStart,
		logger:     logger.With(slog.String("component", "scheduler")),
	}
}

type task struct {
	name     string
	interval time.Duration
	run      func(ctx context.Context) error
}

// Start runs every enabled task on its own ticker and blocks until ctx is done
func (s *Scheduler) Start(ctx context.Context) {
	tasks := []task{
		{name: domain.JobMembers, interval: s.intervals.Members, run: s.runMembers},
		{name: domain.JobSuspensions, interval: s.intervals.Suspensions, run: s.runSuspensions},
		{name: "inactivity", interval: s.intervals.Inactivity, run: s.runInactivity},
	}

	var wg sync.WaitGroup
	for _, t := range tasks {
		if t.interval <= 0 {
			s.logger.Info("scheduled task disabled", slog.String("task", t.name))
			continue
		}
		wg.Add(1)
		go func(t task) {
			defer wg.Done()
			s.loop(ctx, t)
		}(t)
	}
	wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) loop(ctx context.Context, t task) {
	ticker := s.clock.NewTicker(t.interval)
	defer ticker.Stop()

	s.logger.Info("scheduled task started",
		slog.String("task", t.name),
		slog.Duration("interval", t.interval),
	)
	if s.runOnStart {
		s.execute(ctx, t)
	}

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C():
			s.execute(ctx, t)
		}
	}
}

func (s *Scheduler) execute(ctx context.Context, t task) {
	if err := t.run(ctx); err != nil {
		s.logger.Error("scheduled task failed",
			slog.String("task", t.name),
			slog.String("error", err.Error()),
		)
	}
}

func (s *Scheduler) runMembers(ctx context.Context) error {
	result, err := s.reconciler.SyncMembers(ctx)
	if err != nil {
		return err
	}
	if result.HasChanges() {
		s.notifier.NotifyMembership(ctx, result)
	}
	return nil
}

// runSuspensions starts from fresh snapshots; each tick is its own execution window
func (s *Scheduler) runSuspensions(ctx context.Context) error {
	s.reconciler.ClearCache()
	return s.lifecycle(ctx, s.reconciler.SyncSuspensions)
}

// runInactivity runs both inactivity checks back to back over one set of
// snapshots. A failed 90-day check does not prevent the 180-day check.
func (s *Scheduler) runInactivity(ctx context.Context) error {
	s.reconciler.ClearCache()
	err90 := s.lifecycle(ctx, s.reconciler.Check3MonthInactivity)
	err180 := s.lifecycle(ctx, s.reconciler.Check6MonthInactivity)
	switch {
	case err90 != nil && err180 != nil:
		return fmt.Errorf("%w; %w", err90, err180)
	case err90 != nil:
		return err90
	default:
		return err180
	}
}

func (s *Scheduler) lifecycle(ctx context.Context, check func(context.Context) (*domain.LifecycleResult, error)) error {
	result, err := check(ctx)
	if err != nil {
		return err
	}
	if result.HasChanges() {
		s.notifier.NotifyLifecycle(ctx, result)
	}
	return nil
}
