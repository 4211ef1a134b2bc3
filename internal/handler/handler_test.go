package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
)

type stubReconciler struct {
	members   *domain.ReconciliationResult
	lifecycle *domain.LifecycleResult
	err       error
	cleared   int
	called    string
}

func (s *stubReconciler) SyncMembers(context.Context) (*domain.ReconciliationResult, error) {
	s.called = domain.JobMembers
	return s.members, s.err
}

func (s *stubReconciler) SyncSuspensions(context.Context) (*domain.LifecycleResult, error) {
	s.called = domain.JobSuspensions
	return s.lifecycle, s.err
}

func (s *stubReconciler) Check3MonthInactivity(context.Context) (*domain.LifecycleResult, error) {
	s.called = domain.JobInactivity90
	return s.lifecycle, s.err
}

func (s *stubReconciler) Check6MonthInactivity(context.Context) (*domain.LifecycleResult, error) {
	s.called = domain.JobInactivity180
	return s.lifecycle, s.err
}

func (s *stubReconciler) ClearCache() { s.cleared++ }

type stubNotifier struct {
	membership int
	lifecycle  int
}

func (n *stubNotifier) NotifyMembership(context.Context, *domain.ReconciliationResult) { n.membership++ }
func (n *stubNotifier) NotifyLifecycle(context.Context, *domain.LifecycleResult)       { n.lifecycle++ }

func newMux(rec *stubReconciler, notifier *stubNotifier) *http.ServeMux {
	h := NewTriggerHandler(rec, notifier, slog.New(slog.NewTextHandler(io.Discard, nil)))
	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync/{job}", h.Sync)
	mux.HandleFunc("POST /api/cache/clear", h.ClearCache)
	return mux
}

func TestSyncMembersWithChanges(t *testing.T) {
	rec := &stubReconciler{members: &domain.ReconciliationResult{Removed: []string{"carol"}}}
	notifier := &stubNotifier{}
	mux := newMux(rec, notifier)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/members", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]any
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, true, body["changes"])
	assert.NotContains(t, body, "message")
	assert.Equal(t, []any{"carol"}, body["result"].(map[string]any)["removed"])
	assert.Equal(t, 1, notifier.membership)
}

func TestSyncLifecycleJobsNoChanges(t *testing.T) {
	for _, job := range []string{domain.JobSuspensions, domain.JobInactivity90, domain.JobInactivity180} {
		t.Run(job, func(t *testing.T) {
			rec := &stubReconciler{lifecycle: &domain.LifecycleResult{}}
			notifier := &stubNotifier{}
			mux := newMux(rec, notifier)

			w := httptest.NewRecorder()
			mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/"+job, nil))
			require.Equal(t, http.StatusOK, w.Code)

			var body TriggerResponse
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
			assert.False(t, body.Changes)
			assert.Equal(t, "no changes detected", body.Message)
			assert.Equal(t, job, rec.called)
			assert.Equal(t, 1, notifier.lifecycle)
		})
	}
}

func TestSyncReportsDryRun(t *testing.T) {
	rec := &stubReconciler{lifecycle: &domain.LifecycleResult{
		RunInfo:   domain.RunInfo{Job: domain.JobSuspensions, DryRun: true},
		Suspended: []domain.LifecycleAction{{Email: "gone@example.com", AccountID: "a1"}},
	}}
	mux := newMux(rec, &stubNotifier{})

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/suspensions", nil))
	require.Equal(t, http.StatusOK, w.Code)

	var body TriggerResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.True(t, body.DryRun)
	assert.True(t, body.Changes)
}

func TestSyncFailureIsGeneric(t *testing.T) {
	rec := &stubReconciler{err: errors.New("fetching directory users: 403 secret detail")}
	notifier := &stubNotifier{}
	mux := newMux(rec, notifier)

	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/suspensions", nil))
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.JSONEq(t, `{"error":"sync failed"}`, w.Body.String())
	assert.Zero(t, notifier.lifecycle)
}

func TestSyncUnknownJob(t *testing.T) {
	mux := newMux(&stubReconciler{}, &stubNotifier{})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/sync/everything", nil))
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestClearCache(t *testing.T) {
	rec := &stubReconciler{}
	mux := newMux(rec, &stubNotifier{})
	w := httptest.NewRecorder()
	mux.ServeHTTP(w, httptest.NewRequest(http.MethodPost, "/api/cache/clear", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 1, rec.cleared)
}

func TestReadiness(t *testing.T) {
	logger := slog.New(slog.NewTextHandler(io.Discard, nil))

	ok := NewHealthHandler(map[string]ReadinessCheck{
		"atlassian": func(context.Context) error { return nil },
	}, logger)
	w := httptest.NewRecorder()
	ok.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ready","checks":{"atlassian":"ok"}}`, w.Body.String())

	failing := NewHealthHandler(map[string]ReadinessCheck{
		"atlassian": func(context.Context) error { return nil },
		"github":    func(context.Context) error { return errors.New("unreachable") },
	}, logger)
	w = httptest.NewRecorder()
	failing.Ready(w, httptest.NewRequest(http.MethodGet, "/readyz", nil))
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
	assert.Contains(t, w.Body.String(), "error: unreachable")

	w = httptest.NewRecorder()
	failing.Health(w, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	assert.Equal(t, http.StatusOK, w.Code)
}
