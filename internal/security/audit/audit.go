package audit

import (
	"context"
	"log/slog"
	"time"
)

type requestIDKey struct{}

// WithRequestID stores the HTTP request id for later audit lines
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// Logger writes one structured "audit" line per mutating action or trigger
type Logger struct {
	logger *slog.Logger
}

func NewLogger(logger *slog.Logger) *Logger {
	if logger == nil {
		logger = slog.Default()
	}
	return &Logger{logger: logger}
}

// Entry describes a single audited action
type Entry struct {
	RunID    string
	Job      string
	Action   string // invite, remove, suspend, delete, trigger
	Target   string // system acted on: github, atlassian, api
	Identity string
	Status   string // success, failed, dry_run, denied
	DryRun   bool
	Details  string
}

func (al *Logger) LogAction(ctx context.Context, e Entry) {
	requestID := ""
	if reqID, ok := ctx.Value(requestIDKey{}).(string); ok {
		requestID = reqID
	}

	al.logger.Info("audit",
		slog.String("run_id", e.RunID),
		slog.String("job", e.Job),
		slog.String("action", e.Action),
		slog.String("target", e.Target),
		slog.String("identity", e.Identity),
		slog.String("status", e.Status),
		slog.Bool("dry_run", e.DryRun),
		slog.String("details", e.Details),
		slog.String("request_id", requestID),
		slog.Time("timestamp", time.Now()),
	)
}

// LogMutation records the outcome of one invite/remove/suspend/delete
func (al *Logger) LogMutation(ctx context.Context, runID, job, action, target, identity string, dryRun bool, err error) {
	status := "success"
	details := ""
	switch {
	case err != nil:
		status = "failed"
		details = err.Error()
	case dryRun:
		status = "dry_run"
	}
	al.LogAction(ctx, Entry{
		RunID:    runID,
		Job:      job,
		Action:   action,
		Target:   target,
		Identity: identity,
		Status:   status,
		DryRun:   dryRun,
		Details:  details,
	})
}

func (al *Logger) LogTrigger(ctx context.Context, subject, job string) {
	al.LogAction(ctx, Entry{Job: job, Action: "trigger", Target: "api", Identity: subject, Status: "initiated"})
}

func (al *Logger) LogDenied(ctx context.Context, subject, reason string) {
	al.LogAction(ctx, Entry{Action: "access_denied", Target: "api", Identity: subject, Status: "denied", Details: reason})
}
