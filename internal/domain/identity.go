package domain

import (
	"context"
	"strings"
	"time"
)

// DirectoryUser is an authoritative identity record from the corporate directory
type DirectoryUser struct {
	Email          string     // Primary email, compared case-insensitively
	GitHubUsername string     // Linked source-control username from the custom schema (may be empty)
	JoinedAt       *time.Time // Directory creation time, nil when unknown
}

// AccountStatus is the product-access state of a collaboration-suite account
type AccountStatus string

const (
	StatusActive   AccountStatus = "active"
	StatusInactive AccountStatus = "inactive"
	StatusClosed   AccountStatus = "closed"
)

// TenantUser is a collaboration-suite account
type TenantUser struct {
	AccountID string
	Email     string
	Status    AccountStatus
	JoinedAt  *time.Time // When the account was added to the organization
}

// ProductActivity is the last-active date of an account for one product.
// LastActive is nil when the provider returned no parseable date.
type ProductActivity struct {
	Product    string
	LastActive *time.Time
}

// ActivityRecord holds per-product activity for a single account
type ActivityRecord struct {
	AccountID string
	Products  []ProductActivity
}

// MostRecent returns the latest last-active timestamp across all products,
// or nil if no product carries a valid timestamp.
func (r *ActivityRecord) MostRecent() *time.Time {
	if r == nil {
		return nil
	}
	var latest *time.Time
	for _, p := range r.Products {
		if p.LastActive == nil || p.LastActive.IsZero() {
			continue
		}
		if latest == nil || p.LastActive.After(*latest) {
			t := *p.LastActive
			latest = &t
		}
	}
	return latest
}

// Normalize lower-cases and trims an email or username for comparison
func Normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// NormalizeSet builds a lookup set from a list of identities, dropping blanks
func NormalizeSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if n := Normalize(v); n != "" {
			set[n] = struct{}{}
		}
	}
	return set
}

// DirectoryClient lists the authoritative set of identity records
type DirectoryClient interface {
	ListUsers(ctx context.Context) ([]DirectoryUser, error)
}

// SourceControlClient manages organization membership on the source-control host
type SourceControlClient interface {
	ListMembers(ctx context.Context) ([]string, error)
	ListPendingInvitations(ctx context.Context) ([]string, error)
	GetUserID(ctx context.Context, username string) (int64, error)
	Invite(ctx context.Context, userID int64) error
	RemoveMember(ctx context.Context, username string) error
}

// TenantAdminClient manages accounts in the collaboration-suite tenant
type TenantAdminClient interface {
	ListTenantUsers(ctx context.Context) ([]TenantUser, error)
	GetLastActive(ctx context.Context, accountID string) (*ActivityRecord, error)
	Suspend(ctx context.Context, accountID string) error
	Delete(ctx context.Context, accountID string) error
}

// Notifier renders reconciliation output to the chat channel
type Notifier interface {
	NotifyMembership(ctx context.Context, result *ReconciliationResult)
	NotifyLifecycle(ctx context.Context, result *LifecycleResult)
}
