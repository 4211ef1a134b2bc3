package domain

import "time"

// Job names used for scheduling, triggers, metrics and logs
const (
	JobMembers       = "members"
	JobSuspensions   = "suspensions"
	JobInactivity90  = "inactivity-90"
	JobInactivity180 = "inactivity-180"
)

// RunInfo identifies a single reconciliation run
type RunInfo struct {
	RunID      string    `json:"runId"`
	Job        string    `json:"job"`
	DryRun     bool      `json:"dryRun"`
	StartedAt  time.Time `json:"startedAt"`
	FinishedAt time.Time `json:"finishedAt"`
}

// InvitedUser is a source-control invitation issued during a run
type InvitedUser struct {
	Username string `json:"username"`
	Email    string `json:"email"`
}

// ReconciliationResult is the outcome of a source-control membership sync
type ReconciliationResult struct {
	RunInfo
	Invited []InvitedUser `json:"invited"`
	Removed []string      `json:"removed"`
	Errors  []string      `json:"errors"`
}

// HasChanges reports whether the run produced anything worth reporting
func (r *ReconciliationResult) HasChanges() bool {
	return len(r.Invited) > 0 || len(r.Removed) > 0 || len(r.Errors) > 0
}

// LifecycleAction is a suspension or deletion of one tenant account
type LifecycleAction struct {
	Email        string     `json:"email"`
	AccountID    string     `json:"accountId"`
	LastActive   *time.Time `json:"lastActive,omitempty"`
	InactiveDays int        `json:"inactiveDays"`
}

// LifecycleResult is the outcome of a tenant suspension or deletion check
type LifecycleResult struct {
	RunInfo
	Suspended []LifecycleAction `json:"suspended"`
	Deleted   []LifecycleAction `json:"deleted"`
	Errors    []string          `json:"errors"`
}

// HasChanges reports whether the run produced anything worth reporting
func (r *LifecycleResult) HasChanges() bool {
	return len(r.Suspended) > 0 || len(r.Deleted) > 0 || len(r.Errors) > 0
}
