package service

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitysync/pkg/cache"
	"github.com/aryan0dhankhar/identitysync/pkg/config"
)

const (
	targetAtlassian = "atlassian"

	snapshotKeyPrefix = "snapshot:"
	directoryCacheKey = snapshotKeyPrefix + "directory"
	tenantCacheKey    = snapshotKeyPrefix + "tenant"

	day = 24 * time.Hour
)

func (r *Reconciler) directorySnapshot(ctx context.Context) ([]domain.DirectoryUser, error) {
	users, hit, err := cache.Fetch(ctx, r.cache, directoryCacheKey, r.cacheTTL, r.directory.ListUsers)
	if err != nil {
		return nil, fmt.Errorf("fetching directory users: %w", err)
	}
	metrics.ObserveCacheLookup(directoryCacheKey, hit)
	return users, nil
}

func (r *Reconciler) tenantSnapshot(ctx context.Context) ([]domain.TenantUser, error) {
	users, hit, err := cache.Fetch(ctx, r.cache, tenantCacheKey, r.cacheTTL, r.tenant.ListTenantUsers)
	if err != nil {
		return nil, fmt.Errorf("fetching tenant users: %w", err)
	}
	metrics.ObserveCacheLookup(tenantCacheKey, hit)
	return users, nil
}

// candidates returns tenant accounts in the given status that are absent from
// the directory and not on the suspend-stop list. Accounts without an email
// cannot be matched against the directory and are never touched.
func (r *Reconciler) candidates(ctx context.Context, status domain.AccountStatus) ([]domain.TenantUser, error) {
	dirUsers, err := r.directorySnapshot(ctx)
	if err != nil {
		return nil, err
	}
	tenantUsers, err := r.tenantSnapshot(ctx)
	if err != nil {
		return nil, err
	}

	inDirectory := make(map[string]struct{}, len(dirUsers))
	for _, u := range dirUsers {
		if email := domain.Normalize(u.Email); email != "" {
			inDirectory[email] = struct{}{}
		}
	}

	var out []domain.TenantUser
	for _, u := range tenantUsers {
		if u.Status != status {
			continue
		}
		email := domain.Normalize(u.Email)
		if email == "" {
			continue
		}
		if _, ok := inDirectory[email]; ok {
			continue
		}
		if _, stop := r.suspendStop[email]; stop {
			continue
		}
		u.Email = email
		out = append(out, u)
	}
	return out, nil
}

func newLifecycleResult(run domain.RunInfo) *domain.LifecycleResult {
	return &domain.LifecycleResult{
		RunInfo:   run,
		Suspended: []domain.LifecycleAction{},
		Deleted:   []domain.LifecycleAction{},
		Errors:    []string{},
	}
}

func (r *Reconciler) syncSuspensions(ctx context.Context, run domain.RunInfo) (*domain.LifecycleResult, error) {
	log := r.logger.With(slog.String("run_id", run.RunID), slog.String("job", run.Job))

	accounts, err := r.candidates(ctx, domain.StatusActive)
	if err != nil {
		return nil, err
	}

	result := newLifecycleResult(run)
	now := r.clock.Now()
	protected := 0
	for _, u := range accounts {
		if r.withinGracePeriod(u, now) {
			protected++
			log.Debug("account within grace period, not suspending",
				slog.String("email", u.Email),
				slog.Time("joined_at", *u.JoinedAt),
			)
			continue
		}
		action := domain.LifecycleAction{Email: u.Email, AccountID: u.AccountID}
		r.applyLifecycle(ctx, log, result, "suspend", action)
	}

	log.Info("directory-absence check complete",
		slog.Int("candidates", len(accounts)),
		slog.Int("grace_protected", protected),
		slog.Int("suspended", len(result.Suspended)),
		slog.Int("errors", len(result.Errors)),
	)
	result.FinishedAt = r.clock.Now().UTC()
	return result, nil
}

// withinGracePeriod reports whether a recently added account is protected
// from directory-absence suspension. Unknown join dates are not protected.
func (r *Reconciler) withinGracePeriod(u domain.TenantUser, now time.Time) bool {
	if r.gracePeriod <= 0 || u.JoinedAt == nil {
		return false
	}
	return now.Sub(*u.JoinedAt) < r.gracePeriod
}

func (r *Reconciler) check3MonthInactivity(ctx context.Context, run domain.RunInfo) (*domain.LifecycleResult, error) {
	return r.checkInactivity(ctx, run, domain.StatusActive, config.SuspensionInactivity, "suspend")
}

func (r *Reconciler) check6MonthInactivity(ctx context.Context, run domain.RunInfo) (*domain.LifecycleResult, error) {
	return r.checkInactivity(ctx, run, domain.StatusInactive, config.DeletionInactivity, "delete")
}

// checkInactivity looks up activity one account at a time, paced by r.pacer,
// and acts on accounts idle for strictly more than threshold. Accounts with
// no recorded activity are skipped.
func (r *Reconciler) checkInactivity(ctx context.Context, run domain.RunInfo, status domain.AccountStatus, threshold time.Duration, action string) (*domain.LifecycleResult, error) {
	log := r.logger.With(slog.String("run_id", run.RunID), slog.String("job", run.Job))

	accounts, err := r.candidates(ctx, status)
	if err != nil {
		return nil, err
	}

	result := newLifecycleResult(run)
	thresholdDays := int(threshold / day)
	noActivity := 0
	for _, u := range accounts {
		if err := r.pacer.Wait(ctx); err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch activity for %s: waiting for lookup slot: %v", u.Email, err))
			metrics.ObserveAction(run.Job, "lookup", "failed")
			log.Warn("activity lookup not paced, skipping account",
				slog.String("email", u.Email),
				slog.String("error", err.Error()),
			)
			continue
		}

		record, err := r.tenant.GetLastActive(ctx, u.AccountID)
		if err != nil {
			result.Errors = append(result.Errors, fmt.Sprintf("failed to fetch activity for %s: %v", u.Email, err))
			metrics.ObserveAction(run.Job, "lookup", "failed")
			log.Warn("activity lookup failed",
				slog.String("email", u.Email),
				slog.String("account_id", u.AccountID),
				slog.String("error", err.Error()),
			)
			continue
		}

		last := record.MostRecent()
		if last == nil {
			noActivity++
			continue
		}
		days := inactiveDays(*last, r.clock.Now())
		if days <= thresholdDays {
			continue
		}

		r.applyLifecycle(ctx, log, result, action, domain.LifecycleAction{
			Email:        u.Email,
			AccountID:    u.AccountID,
			LastActive:   last,
			InactiveDays: days,
		})
	}

	log.Info("inactivity check complete",
		slog.Int("threshold_days", thresholdDays),
		slog.Int("candidates", len(accounts)),
		slog.Int("no_activity", noActivity),
		slog.Int("suspended", len(result.Suspended)),
		slog.Int("deleted", len(result.Deleted)),
		slog.Int("errors", len(result.Errors)),
	)
	result.FinishedAt = r.clock.Now().UTC()
	return result, nil
}

// inactiveDays counts whole days between last activity and now
func inactiveDays(last, now time.Time) int {
	if now.Before(last) {
		return 0
	}
	return int(now.Sub(last) / day)
}

// applyLifecycle suspends or deletes one account, or only records it in dry
// run. Failures go to result.Errors.
func (r *Reconciler) applyLifecycle(ctx context.Context, log *slog.Logger, result *domain.LifecycleResult, action string, a domain.LifecycleAction) {
	var err error
	if !r.dryRun {
		switch action {
		case "delete":
			err = r.tenant.Delete(ctx, a.AccountID)
		default:
			err = r.tenant.Suspend(ctx, a.AccountID)
		}
	}

	r.audit.LogMutation(ctx, result.RunID, result.Job, action, targetAtlassian, a.Email, r.dryRun, err)
	if err != nil {
		result.Errors = append(result.Errors, fmt.Sprintf("failed to %s %s (%s): %v", action, a.Email, a.AccountID, err))
		metrics.ObserveAction(result.Job, action, "failed")
		log.Warn("lifecycle action failed",
			slog.String("action", action),
			slog.String("email", a.Email),
			slog.String("account_id", a.AccountID),
			slog.String("error", err.Error()),
		)
		return
	}

	switch action {
	case "delete":
		result.Deleted = append(result.Deleted, a)
	default:
		result.Suspended = append(result.Suspended, a)
	}

	status := "success"
	if r.dryRun {
		status = "dry_run"
	}
	metrics.ObserveAction(result.Job, action, status)
	log.Info("lifecycle action applied",
		slog.String("action", action),
		slog.String("email", a.Email),
		slog.String("account_id", a.AccountID),
		slog.Int("inactive_days", a.InactiveDays),
		slog.Bool("dry_run", r.dryRun),
	)
}
