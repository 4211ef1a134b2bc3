package slack

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/slack-go/slack"
	"k8s.io/utils/clock"

	"github.com/aryan0dhankhar/identitysync/internal/domain"
	"github.com/aryan0dhankhar/identitysync/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitysync/internal/reliability/circuitbreaker"
)

const noChanges = "no changes detected"

// Notifier renders reconciliation results and posts them to an incoming webhook.
// Delivery problems are logged and never surfaced to the caller.
type Notifier struct {
	webhookURL string
	httpClient *http.Client
	breaker    *circuitbreaker.CircuitBreaker
	logger     *slog.Logger
}

// NewNotifier creates a webhook notifier. An empty webhookURL disables delivery.
func NewNotifier(webhookURL string, httpClient *http.Client, clk clock.PassiveClock, logger *slog.Logger) *Notifier {
	if httpClient == nil {
		httpClient = &http.Client{Timeout: 10 * time.Second}
	}
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With(slog.String("component", "slack"))

	breaker := circuitbreaker.NewCircuitBreaker(3, 1, 5*time.Minute, clk)
	breaker.SetStateChangeCallback(func(from, to circuitbreaker.State) {
		logger.Warn("webhook circuit state changed",
			slog.String("from", from.String()),
			slog.String("to", to.String()),
		)
	})

	return &Notifier{
		webhookURL: webhookURL,
		httpClient: httpClient,
		breaker:    breaker,
		logger:     logger,
	}
}

// NotifyMembership posts a membership sync summary. Delivery failures are
// logged and counted, never returned.
func (n *Notifier) NotifyMembership(ctx context.Context, result *domain.ReconciliationResult) {
	if result == nil {
		return
	}
	n.post(ctx, result.Job, FormatMembership(result))
}

// NotifyLifecycle posts a suspension or inactivity check summary
func (n *Notifier) NotifyLifecycle(ctx context.Context, result *domain.LifecycleResult) {
	if result == nil {
		return
	}
	n.post(ctx, result.Job, FormatLifecycle(result))
}

func (n *Notifier) post(ctx context.Context, job, text string) {
	if n.webhookURL == "" {
		metrics.ObserveNotification("skipped")
		n.logger.Debug("webhook not configured, skipping notification", slog.String("job", job))
		return
	}
	if !n.breaker.AllowRequest() {
		metrics.ObserveNotification("skipped")
		n.logger.Warn("webhook circuit open, dropping notification", slog.String("job", job))
		return
	}

	err := slack.PostWebhookCustomHTTPContext(ctx, n.webhookURL, n.httpClient, &slack.WebhookMessage{Text: text})
	if err != nil {
		n.breaker.RecordFailure()
		metrics.ObserveNotification("failed")
		n.logger.Error("failed to post notification", slog.String("job", job), slog.String("error", err.Error()))
		return
	}
	n.breaker.RecordSuccess()
	metrics.ObserveNotification("sent")
}

// FormatMembership renders a membership sync result as Slack mrkdwn
func FormatMembership(r *domain.ReconciliationResult) string {
	var b strings.Builder
	writeHeader(&b, "GitHub membership sync", r.RunInfo)
	if !r.HasChanges() {
		b.WriteString(noChanges)
		return b.String()
	}

	if len(r.Invited) > 0 {
		fmt.Fprintf(&b, "*Invited (%d)*\n", len(r.Invited))
		for _, u := range r.Invited {
			fmt.Fprintf(&b, "• `%s` (%s)\n", u.Username, u.Email)
		}
	}
	if len(r.Removed) > 0 {
		fmt.Fprintf(&b, "*Removed (%d)*\n", len(r.Removed))
		for _, u := range r.Removed {
			fmt.Fprintf(&b, "• `%s`\n", u)
		}
	}
	writeErrors(&b, r.Errors)
	return strings.TrimRight(b.String(), "\n")
}

// FormatLifecycle renders a suspension or deletion result as Slack mrkdwn
func FormatLifecycle(r *domain.LifecycleResult) string {
	var b strings.Builder
	writeHeader(&b, lifecycleTitle(r.Job), r.RunInfo)
	if !r.HasChanges() {
		b.WriteString(noChanges)
		return b.String()
	}

	writeActions(&b, "Suspended", r.Suspended)
	writeActions(&b, "Deleted", r.Deleted)
	if len(r.Deleted) > 0 {
		b.WriteString("_Deletion starts the provider grace period; accounts are not removed immediately._\n")
	}
	writeErrors(&b, r.Errors)
	return strings.TrimRight(b.String(), "\n")
}

func lifecycleTitle(job string) string {
	switch job {
	case domain.JobInactivity90:
		return "Atlassian 90-day inactivity check"
	case domain.JobInactivity180:
		return "Atlassian 180-day inactivity check"
	default:
		return "Atlassian suspension sync"
	}
}

func writeHeader(b *strings.Builder, title string, info domain.RunInfo) {
	if info.DryRun {
		b.WriteString("[DRY RUN] ")
	}
	fmt.Fprintf(b, "*%s*", title)
	if info.RunID != "" {
		fmt.Fprintf(b, " (run %s)", info.RunID)
	}
	b.WriteString("\n")
}

func writeActions(b *strings.Builder, label string, actions []domain.LifecycleAction) {
	if len(actions) == 0 {
		return
	}
	fmt.Fprintf(b, "*%s (%d)*\n", label, len(actions))
	for _, a := range actions {
		fmt.Fprintf(b, "• %s (`%s`)", a.Email, a.AccountID)
		if a.LastActive != nil {
			fmt.Fprintf(b, " last active %s, %d days ago", a.LastActive.Format(time.DateOnly), a.InactiveDays)
		}
		b.WriteString("\n")
	}
}

func writeErrors(b *strings.Builder, errs []string) {
	if len(errs) == 0 {
		return
	}
	fmt.Fprintf(b, "*Errors (%d)*\n", len(errs))
	for _, e := range errs {
		fmt.Fprintf(b, "• %s\n", e)
	}
}
