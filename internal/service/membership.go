package service

import (
	"context"
	"fmt"
	"log/slog"
	"sort"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/observability/metrics"
)

const targetGitHub = "github"

// membershipPlan is the invite/remove diff for one run
type membershipPlan struct {
	// wanted maps each linked username to the directory email it came from
	wanted   map[string]string
	toInvite []string
	toRemove []string
}

// planMembership diffs the directory against current members and pending
// invitations. toRemove only ever holds current members and toInvite never
// does, so the two sets are disjoint.
func planMembership(users []domain.DirectoryUser, members, pending []string, neverRemove map[string]struct{}) membershipPlan {
	wanted := make(map[string]string)
	for _, u := range users {
		username := domain.Normalize(u.GitHubUsername)
		if username == "" {
			continue
		}
		if _, dup := wanted[username]; !dup {
			wanted[username] = domain.Normalize(u.Email)
		}
	}

	memberSet := domain.NormalizeSet(members)
	pendingSet := domain.NormalizeSet(pending)

	plan := membershipPlan{wanted: wanted}
	for username := range wanted {
		_, isMember := memberSet[username]
		_, isPending := pendingSet[username]
		if !isMember && !isPending {
			plan.toInvite = append(plan.toInvite, username)
		}
	}
	for username := range memberSet {
		if _, ok := wanted[username]; ok {
			continue
		}
		if _, keep := neverRemove[username]; keep {
			continue
		}
		plan.toRemove = append(plan.toRemove, username)
	}

	sort.Strings(plan.toInvite)
	sort.Strings(plan.toRemove)
	return plan
}

func (r *Reconciler) syncMembers(ctx context.Context, run domain.RunInfo) (*domain.ReconciliationResult, error) {
	log := r.logger.With(slog.String("run_id", run.RunID), slog.String("job", run.Job))

	users, err := r.directory.ListUsers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching directory users: %w", err)
	}
	members, err := r.sourceControl.ListMembers(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching organization members: %w", err)
	}
	pending, err := r.sourceControl.ListPendingInvitations(ctx)
	if err != nil {
		return nil, fmt.Errorf("fetching pending invitations: %w", err)
	}

	plan := planMembership(users, members, pending, r.neverRemove)
	log.Info("membership diff computed",
		slog.Int("directory_users", len(users)),
		slog.Int("linked_usernames", len(plan.wanted)),
		slog.Int("members", len(members)),
		slog.Int("pending_invitations", len(pending)),
		slog.Int("to_invite", len(plan.toInvite)),
		slog.Int("to_remove", len(plan.toRemove)),
	)

	result := &domain.ReconciliationResult{
		RunInfo: run,
		Invited: []domain.InvitedUser{},
		Removed: []string{},
		Errors:  []string{},
	}

	for _, username := range plan.toInvite {
		r.invite(ctx, log, result, username, plan.wanted[username])
	}
	for _, username := range plan.toRemove {
		r.remove(ctx, log, result, username)
	}

	result.FinishedAt = r.clock.Now().UTC()
	return result, nil
}

func (r *Reconciler) invite(ctx context.Context, log *slog.Logger, result *domain.ReconciliationResult, username, email string) {
	if email == "" {
		r.recordMembershipError(ctx, log, result, "invite", username,
			fmt.Errorf("no directory email found for %s, skipping invitation", username))
		return
	}

	userID, err := r.sourceControl.GetUserID(ctx, username)
	if err != nil {
		r.recordMembershipError(ctx, log, result, "invite", username,
			fmt.Errorf("failed to resolve user id for %s: %w", username, err))
		return
	}

	if !r.dryRun {
		if err := r.sourceControl.Invite(ctx, userID); err != nil {
			r.recordMembershipError(ctx, log, result, "invite", username,
				fmt.Errorf("failed to invite %s (%s): %w", username, email, err))
			return
		}
	}

	result.Invited = append(result.Invited, domain.InvitedUser{Username: username, Email: email})
	r.recordMembershipSuccess(ctx, log, result, "invite", username)
}

func (r *Reconciler) remove(ctx context.Context, log *slog.Logger, result *domain.ReconciliationResult, username string) {
	if !r.dryRun {
		if err := r.sourceControl.RemoveMember(ctx, username); err != nil {
			r.recordMembershipError(ctx, log, result, "remove", username,
				fmt.Errorf("failed to remove %s: %w", username, err))
			return
		}
	}

	result.Removed = append(result.Removed, username)
	r.recordMembershipSuccess(ctx, log, result, "remove", username)
}

func (r *Reconciler) recordMembershipSuccess(ctx context.Context, log *slog.Logger, result *domain.ReconciliationResult, action, username string) {
	status := "success"
	if r.dryRun {
		status = "dry_run"
	}
	metrics.ObserveAction(result.Job, action, status)
	r.audit.LogMutation(ctx, result.RunID, result.Job, action, targetGitHub, username, r.dryRun, nil)
	log.Info("membership change applied",
		slog.String("action", action),
		slog.String("username", username),
		slog.Bool("dry_run", r.dryRun),
	)
}

func (r *Reconciler) recordMembershipError(ctx context.Context, log *slog.Logger, result *domain.ReconciliationResult, action, username string, err error) {
	result.Errors = append(result.Errors, err.Error())
	metrics.ObserveAction(result.Job, action, "failed")
	r.audit.LogMutation(ctx, result.RunID, result.Job, action, targetGitHub, username, r.dryRun, err)
	log.Warn("membership change failed",
		slog.String("action", action),
		slog.String("username", username),
		slog.String("error", err.Error()),
	)
}
