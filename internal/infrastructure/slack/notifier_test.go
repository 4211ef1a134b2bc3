package slack

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
)

func TestFormatMembership(t *testing.T) {
	r := &domain.ReconciliationResult{
		RunInfo: domain.RunInfo{RunID: "r1", Job: domain.JobMembers, DryRun: true},
		Invited: []domain.InvitedUser{{Username: "alice", Email: "alice@example.com"}},
		Removed: []string{"carol"},
		Errors:  []string{"failed to resolve user id for ghost"},
	}

	text := FormatMembership(r)
	assert.Contains(t, text, "[DRY RUN] *GitHub membership sync* (run r1)")
	assert.Contains(t, text, "`alice` (alice@example.com)")
	assert.Contains(t, text, "*Removed (1)*")
	assert.Contains(t, text, "*Errors (1)*")
}

func TestFormatNoChanges(t *testing.T) {
	m := FormatMembership(&domain.ReconciliationResult{RunInfo: domain.RunInfo{Job: domain.JobMembers}})
	assert.Equal(t, "*GitHub membership sync*\nno changes detected", m)

	l := FormatLifecycle(&domain.LifecycleResult{RunInfo: domain.RunInfo{Job: domain.JobInactivity180}})
	assert.Equal(t, "*Atlassian 180-day inactivity check*\nno changes detected", l)
}

func TestFormatLifecycle(t *testing.T) {
	last := time.Date(2024, 1, 10, 0, 0, 0, 0, time.UTC)
	r := &domain.LifecycleResult{
		RunInfo: domain.RunInfo{Job: domain.JobInactivity90},
		Suspended: []domain.LifecycleAction{
			{Email: "old@example.com", AccountID: "a1", LastActive: &last, InactiveDays: 95},
			{Email: "gone@example.com", AccountID: "a2"},
		},
	}

	text := FormatLifecycle(r)
	assert.Contains(t, text, "*Atlassian 90-day inactivity check*")
	assert.Contains(t, text, "old@example.com (`a1`) last active 2024-01-10, 95 days ago")
	assert.Contains(t, text, "gone@example.com (`a2`)\n")
	assert.NotContains(t, text, "[DRY RUN]")
	assert.NotContains(t, text, "grace period")
}

func TestNotifierPostsWebhook(t *testing.T) {
	var got map[string]any
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusOK)
	}))
	defer server.Close()

	n := NewNotifier(server.URL, server.Client(), clocktesting.NewFakeClock(time.Now()), nil)
	n.NotifyLifecycle(context.Background(), &domain.LifecycleResult{
		RunInfo: domain.RunInfo{Job: domain.JobSuspensions},
		Deleted: []domain.LifecycleAction{{Email: "x@example.com", AccountID: "a9"}},
	})

	require.NotNil(t, got)
	assert.Contains(t, got["text"], "x@example.com")
}

func TestNotifierBreakerStopsPosting(t *testing.T) {
	var calls atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		calls.Add(1)
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	clk := clocktesting.NewFakeClock(time.Now())
	n := NewNotifier(server.URL, server.Client(), clk, nil)
	result := &domain.ReconciliationResult{RunInfo: domain.RunInfo{Job: domain.JobMembers}}

	for i := 0; i < 5; i++ {
		n.NotifyMembership(context.Background(), result)
	}
	assert.Equal(t, int32(3), calls.Load())

	clk.Step(6 * time.Minute)
	n.NotifyMembership(context.Background(), result)
	assert.Equal(t, int32(4), calls.Load(), "a trial request is let through after the timeout")
}

func TestNotifierWithoutWebhookIsNoop(t *testing.T) {
	n := NewNotifier("", nil, nil, nil)
	n.NotifyMembership(context.Background(), &domain.ReconciliationResult{})
	n.NotifyLifecycle(context.Background(), nil)
}
