package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"k8s.io/utils/clock"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitysync/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitysync/internal/security/audit"
	"github.com/aryan0dhankhar/identitysync/internal/security/ratelimit"
	"github.com/aryan0dhankhar/identitysync/pkg/cache"
	"github.com/aryan0dhankhar/identitysync/pkg/config"
)

// Dependencies are the external systems a Reconciler works against
type Dependencies struct {
	Directory     domain.DirectoryClient
	SourceControl domain.SourceControlClient
	Tenant        domain.TenantAdminClient
	Audit         *audit.Logger
	Logger        *slog.Logger
}

// Options holds reconciliation policy. Zero values fall back to the fixed
// defaults in pkg/config.
type Options struct {
	// NeverRemove lists source-control usernames that are never removed
	NeverRemove []string
	// SuspendStop lists tenant emails that are never suspended or deleted
	SuspendStop []string

	DryRun bool

	// GracePeriod protects recently added tenant accounts from
	// directory-absence suspension. Zero disables the policy.
	GracePeriod time.Duration

	CacheTTL time.Duration

	// Pacer spaces activity lookups; defaults to one call per
	// config.ActivityLookupInterval.
	Pacer ratelimit.Pacer
	Clock clock.PassiveClock
}

// Reconciler is the entry point for every reconciliation job. It owns the
// snapshot cache used by the tenant lifecycle checks.
type Reconciler struct {
	directory     domain.DirectoryClient
	sourceControl domain.SourceControlClient
	tenant        domain.TenantAdminClient

	neverRemove map[string]struct{}
	suspendStop map[string]struct{}
	dryRun      bool
	gracePeriod time.Duration
	cacheTTL    time.Duration

	cache *cache.Cache
	pacer ratelimit.Pacer
	clock clock.PassiveClock
	guard runGuard

	audit  *audit.Logger
	logger *slog.Logger
}

// NewReconciler creates a Reconciler. The allowlists are normalized once here
// and never change afterwards.
func NewReconciler(deps Dependencies, opts Options) *Reconciler {
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	auditLogger := deps.Audit
	if auditLogger == nil {
		auditLogger = audit.NewLogger(logger)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.RealClock{}
	}
	pacer := opts.Pacer
	if pacer == nil {
		pacer = ratelimit.NewPacer(config.ActivityLookupInterval)
	}
	ttl := opts.CacheTTL
	if ttl <= 0 {
		ttl = config.CacheTTL
	}

	return &Reconciler{
		directory:     deps.Directory,
		sourceControl: deps.SourceControl,
		tenant:        deps.Tenant,
		neverRemove:   domain.NormalizeSet(opts.NeverRemove),
		suspendStop:   domain.NormalizeSet(opts.SuspendStop),
		dryRun:        opts.DryRun,
		gracePeriod:   opts.GracePeriod,
		cacheTTL:      ttl,
		cache:         cache.NewWithClock(clk),
		pacer:         pacer,
		clock:         clk,
		audit:         auditLogger,
		logger:        logger.With(slog.String("component", "reconciler")),
	}
}

// SyncMembers reconciles source-control organization membership with the directory
func (r *Reconciler) SyncMembers(ctx context.Context) (*domain.ReconciliationResult, error) {
	return runJob(ctx, r, domain.JobMembers, r.syncMembers,
		func(res *domain.ReconciliationResult) int { return len(res.Invited) + len(res.Removed) })
}

// SyncSuspensions suspends active tenant accounts missing from the directory
func (r *Reconciler) SyncSuspensions(ctx context.Context) (*domain.LifecycleResult, error) {
	return runJob(ctx, r, domain.JobSuspensions, r.syncSuspensions, lifecycleChanges)
}

// Check3MonthInactivity suspends active accounts idle for more than 90 days
func (r *Reconciler) Check3MonthInactivity(ctx context.Context) (*domain.LifecycleResult, error) {
	return runJob(ctx, r, domain.JobInactivity90, r.check3MonthInactivity, lifecycleChanges)
}

// Check6MonthInactivity deletes inactive accounts idle for more than 180 days
func (r *Reconciler) Check6MonthInactivity(ctx context.Context) (*domain.LifecycleResult, error) {
	return runJob(ctx, r, domain.JobInactivity180, r.check6MonthInactivity, lifecycleChanges)
}

// ClearCache drops the directory and tenant snapshots. It blocks until any
// in-flight run has finished.
func (r *Reconciler) ClearCache() {
	r.guard.exclusive(func() {
		r.cache.Invalidate(snapshotKeyPrefix)
	})
	r.logger.Debug("snapshot cache cleared")
}

func lifecycleChanges(res *domain.LifecycleResult) int {
	return len(res.Suspended) + len(res.Deleted)
}

type jobFunc[T any] func(ctx context.Context, run domain.RunInfo) (T, error)

// runJob wraps one reconciliation in the run guard, a trace span, run
// metrics and start/finish logs. A started run ignores the caller's
// cancellation and always returns what it applied.
func runJob[T any](ctx context.Context, r *Reconciler, job string, fn jobFunc[T], changes func(T) int) (T, error) {
	var zero T

	value, err, shared := r.guard.do(job, func() (any, error) {
		run := domain.RunInfo{
			RunID:     uuid.NewString(),
			Job:       job,
			DryRun:    r.dryRun,
			StartedAt: r.clock.Now().UTC(),
		}
		log := r.logger.With(slog.String("run_id", run.RunID), slog.String("job", job))

		ctx, span := tracing.StartRun(context.WithoutCancel(ctx), job, run.RunID, run.DryRun)
		log.Info("reconciliation started", slog.Bool("dry_run", run.DryRun))

		result, err := fn(ctx, run)
		duration := r.clock.Since(run.StartedAt)
		if err != nil {
			tracing.EndRun(span, err, 0)
			metrics.ObserveRun(job, "error", duration)
			log.Error("reconciliation failed",
				slog.String("error", err.Error()),
				slog.Duration("duration", duration),
			)
			return nil, err
		}

		n := changes(result)
		tracing.EndRun(span, nil, n)
		metrics.ObserveRun(job, "success", duration)
		log.Info("reconciliation finished",
			slog.Int("changes", n),
			slog.Duration("duration", duration),
		)
		return result, nil
	})
	if shared {
		r.logger.Debug("joined in-flight run", slog.String("job", job))
	}
	if err != nil {
		return zero, fmt.Errorf("%s: %w", job, err)
	}
	return value.(T), nil
}
