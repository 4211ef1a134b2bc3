package handler

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/worker"
)

// TriggerHandler runs reconciliation jobs on demand
type TriggerHandler struct {
	reconciler worker.Reconciler
	notifier   domain.Notifier
	logger     *slog.Logger
}

// NewTriggerHandler creates a new trigger handler
func NewTriggerHandler(reconciler worker.Reconciler, notifier domain.Notifier, logger *slog.Logger) *TriggerHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &TriggerHandler{
		reconciler: reconciler,
		notifier:   notifier,
		logger:     logger,
	}
}

// TriggerResponse is returned by POST /api/sync/{job}
type TriggerResponse struct {
	Job     string `json:"job"`
	Changes bool   `json:"changes"`
	DryRun  bool   `json:"dry_run"`
	Message string `json:"message,omitempty"`
	Result  any    `json:"result"`
}

// Sync handles POST /api/sync/{job}
func (h *TriggerHandler) Sync(w http.ResponseWriter, r *http.Request) {
	job := r.PathValue("job")
	ctx := r.Context()

	var (
		result  any
		run     domain.RunInfo
		changes bool
		err     error
	)
	switch job {
	case domain.JobMembers:
		var res *domain.ReconciliationResult
		if res, err = h.reconciler.SyncMembers(ctx); err == nil {
			result, run, changes = res, res.RunInfo, res.HasChanges()
			h.notifier.NotifyMembership(context.WithoutCancel(ctx), res)
		}
	case domain.JobSuspensions:
		result, run, changes, err = h.lifecycle(ctx, h.reconciler.SyncSuspensions)
	case domain.JobInactivity90:
		result, run, changes, err = h.lifecycle(ctx, h.reconciler.Check3MonthInactivity)
	case domain.JobInactivity180:
		result, run, changes, err = h.lifecycle(ctx, h.reconciler.Check6MonthInactivity)
	default:
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "unknown job"})
		return
	}

	if err != nil {
		h.logger.Error("manual sync failed",
			slog.String("job", job),
			slog.String("error", err.Error()),
		)
		writeJSON(w, http.StatusInternalServerError, map[string]string{"error": "sync failed"})
		return
	}

	resp := TriggerResponse{Job: job, Changes: changes, DryRun: run.DryRun, Result: result}
	if !changes {
		resp.Message = "no changes detected"
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *TriggerHandler) lifecycle(ctx context.Context, check func(context.Context) (*domain.LifecycleResult, error)) (any, domain.RunInfo, bool, error) {
	res, err := check(ctx)
	if err != nil {
		return nil, domain.RunInfo{}, false, err
	}
	h.notifier.NotifyLifecycle(context.WithoutCancel(ctx), res)
	return res, res.RunInfo, res.HasChanges(), nil
}

// ClearCache handles POST /api/cache/clear
func (h *TriggerHandler) ClearCache(w http.ResponseWriter, r *http.Request) {
	h.reconciler.ClearCache()
	h.logger.Info("cache cleared on request")
	writeJSON(w, http.StatusOK, map[string]string{"status": "cleared"})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
