package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"k8s.io/utils/clock"

	"github.com/aryan0dhankhar/identitysync/internal/handler"
	"github.com/aryan0dhankhar/identitysync/internal/infrastructure/atlassian"
	"github.com/aryan0dhankhar/identitysync/internal/infrastructure/github"
	"github.com/aryan0dhankhar/identitysync/internal/infrastructure/google"
	"github.com/aryan0dhankhar/identitysync/internal/infrastructure/logger"
	"github.com/aryan0dhankhar/identitysync/internal/infrastructure/slack"
	"github.com/aryan0dhankhar/identitysync/internal/observability/metrics"
	"github.com/aryan0dhankhar/identitysync/internal/observability/tracing"
	"github.com/aryan0dhankhar/identitysync/internal/security/audit"
	"github.com/aryan0dhankhar/identitysync/internal/security/auth"
	"github.com/aryan0dhankhar/identitysync/internal/security/middleware"
	"github.com/aryan0dhankhar/identitysync/internal/security/ratelimit"
	"github.com/aryan0dhankhar/identitysync/internal/service"
	"github.com/aryan0dhankhar/identitysync/internal/worker"
	"github.com/aryan0dhankhar/identitysync/pkg/config"
)

func main() {
	// 1. Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	// 2. Initialize structured logger
	log := logger.NewLogger(cfg.LogLevel)
	log.Info("starting identitysync server",
		slog.String("environment", cfg.Environment),
		slog.Bool("dry_run", cfg.DryRun),
	)
	if err := cfg.Validate(); err != nil {
		log.Error("invalid configuration", slog.String("error", err.Error()))
		os.Exit(1)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// 3. Tracing
	shutdownTracing, err := tracing.Init(ctx, log, cfg.OTLPEndpoint, "identitysync", cfg.Environment)
	if err != nil {
		log.Error("failed to initialize tracing", slog.String("error", err.Error()))
		os.Exit(1)
	}

	// 4. Initialize upstream clients
	directory, err := google.NewDirectoryClient(ctx, google.Config{
		CredentialsFile: cfg.Google.CredentialsFile,
		AdminEmail:      cfg.Google.AdminEmail,
		CustomerID:      cfg.Google.CustomerID,
		SchemaName:      cfg.Google.GitHubSchema,
		FieldName:       cfg.Google.GitHubField,
		Logger:          log,
	})
	if err != nil {
		log.Error("failed to initialize directory client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	githubClient, err := github.NewClient(github.Config{
		Token:    cfg.GitHub.Token,
		Org:      cfg.GitHub.Org,
		BaseURL:  cfg.GitHub.BaseURL,
		MaxPages: config.MaxListingPages,
		Logger:   log,
	})
	if err != nil {
		log.Error("failed to initialize github client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	atlassianClient, err := atlassian.NewClient(atlassian.Config{
		BaseURL:  cfg.Atlassian.BaseURL,
		APIKey:   cfg.Atlassian.APIKey,
		OrgID:    cfg.Atlassian.OrgID,
		MaxPages: config.MaxListingPages,
		Logger:   log,
	})
	if err != nil {
		log.Error("failed to initialize atlassian client", slog.String("error", err.Error()))
		os.Exit(1)
	}

	clk := clock.RealClock{}
	notifier := slack.NewNotifier(cfg.Slack.WebhookURL, nil, clk, log)
	auditLogger := audit.NewLogger(log)

	// 5. Reconciler
	reconciler := service.NewReconciler(service.Dependencies{
		Directory:     directory,
		SourceControl: githubClient,
		Tenant:        atlassianClient,
		Audit:         auditLogger,
		Logger:        log,
	}, service.Options{
		NeverRemove: cfg.RemoveStopList,
		SuspendStop: cfg.SuspendStopList,
		DryRun:      cfg.DryRun,
		GracePeriod: cfg.GracePeriod(),
		Pacer:       ratelimit.NewPacer(config.ActivityLookupInterval),
		Clock:       clk,
	})

	// 6. Handlers and security
	tokenManager, err := auth.NewTokenManager(cfg.JWTSecret, "identitysync")
	if err != nil {
		log.Error("failed to initialize token manager", slog.String("error", err.Error()))
		os.Exit(1)
	}
	rateLimiter := ratelimit.NewLimiter(10, time.Minute) // 10 manual triggers per minute per subject

	triggerHandler := handler.NewTriggerHandler(reconciler, notifier, log)
	healthHandler := handler.NewHealthHandler(map[string]handler.ReadinessCheck{
		"atlassian_directory": func(ctx context.Context) error {
			_, err := atlassianClient.DirectoryID(ctx)
			return err
		},
	}, log)

	mux := http.NewServeMux()
	mux.HandleFunc("POST /api/sync/{job}", triggerHandler.Sync)
	mux.HandleFunc("POST /api/cache/clear", triggerHandler.ClearCache)
	mux.HandleFunc("GET /healthz", healthHandler.Health)
	mux.HandleFunc("GET /readyz", healthHandler.Ready)
	mux.Handle("GET /metrics", promhttp.Handler())

	// Chain middleware: request ID -> path check -> JWT -> rate limit -> audit -> metrics
	rootHandler := middleware.RequestID(log)(
		middleware.RejectSuspiciousPaths(log)(
			middleware.JWTMiddleware(tokenManager, auditLogger, log)(
				middleware.RateLimitMiddleware(rateLimiter, log)(
					middleware.AuditMiddleware(auditLogger)(
						metrics.HTTPMetricsMiddleware(mux),
					),
				),
			),
		),
	)

	// 7. Start scheduler in background
	scheduler := worker.NewScheduler(reconciler, notifier, worker.Intervals{
		Members:     cfg.MemberSyncInterval,
		Suspensions: cfg.SuspensionSyncInterval,
		Inactivity:  cfg.InactivityCheckInterval,
	}, cfg.RunOnStart, clk, log)
	schedulerDone := make(chan struct{})
	go func() {
		scheduler.Start(ctx)
		close(schedulerDone)
	}()

	// 8. Start HTTP server. Manual inactivity checks pace lookups 2s apart,
	// so the write timeout is generous.
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.ServerPort),
		Handler:      rootHandler,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 30 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	log.Info("server starting",
		slog.Int("port", cfg.ServerPort),
		slog.String("auth", "jwt"),
	)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Error("server error", slog.String("error", err.Error()))
			sigChan <- syscall.SIGTERM
		}
	}()

	<-sigChan
	log.Info("shutdown signal received")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("shutdown error", slog.String("error", err.Error()))
	}

	cancel()
	<-schedulerDone
	rateLimiter.Stop()
	if err := shutdownTracing(shutdownCtx); err != nil {
		log.Error("tracing shutdown error", slog.String("error", err.Error()))
	}
	log.Info("server stopped")
}
