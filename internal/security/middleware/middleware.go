package middleware

import (
	"context"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/aryan0dhankhar/identitysync/internal/security/audit"
	"github.com/aryan0dhankhar/identitysync/internal/security/auth"
	"github.com/aryan0dhankhar/identitysync/internal/security/ratelimit"
)

type ClaimsContextKey struct{}

// isPublic reports whether path is served without authentication
func isPublic(path string) bool {
	return path == "/healthz" || path == "/readyz" || path == "/metrics"
}

// JWTMiddleware requires a bearer token with the trigger scope on /api routes
func JWTMiddleware(tm *auth.TokenManager, auditLog *audit.Logger, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			deny := func(subject, reason, body string, status int) {
				auditLog.LogDenied(r.Context(), subject, reason)
				log.Warn("request denied",
					slog.String("path", r.URL.Path),
					slog.String("reason", reason),
				)
				writeJSONError(w, body, status)
			}

			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				deny("", "missing authorization header", "missing auth", http.StatusUnauthorized)
				return
			}

			tokenString, err := auth.ExtractToken(authHeader)
			if err != nil {
				deny("", err.Error(), "invalid auth", http.StatusUnauthorized)
				return
			}

			claims, err := tm.ValidateToken(tokenString)
			if err != nil {
				deny("", err.Error(), "invalid token", http.StatusUnauthorized)
				return
			}
			if !claims.HasScope(auth.ScopeTrigger) {
				deny(claims.Subject, "missing scope "+auth.ScopeTrigger, "forbidden", http.StatusForbidden)
				return
			}

			ctx := context.WithValue(r.Context(), ClaimsContextKey{}, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// RateLimitMiddleware applies the per-subject limiter to authenticated routes
func RateLimitMiddleware(limiter *ratelimit.Limiter, log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if isPublic(r.URL.Path) {
				next.ServeHTTP(w, r)
				return
			}

			subject := GetSubjectFromContext(r.Context())
			if !limiter.Allow(subject) {
				log.Warn("rate limit exceeded", slog.String("subject", subject))
				writeJSONError(w, "rate limit exceeded", http.StatusTooManyRequests)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuditMiddleware writes a trigger line for every authenticated POST
func AuditMiddleware(auditLog *audit.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method == http.MethodPost && strings.HasPrefix(r.URL.Path, "/api/") {
				job := strings.TrimPrefix(r.URL.Path, "/api/")
				auditLog.LogTrigger(r.Context(), GetSubjectFromContext(r.Context()), job)
			}
			next.ServeHTTP(w, r)
		})
	}
}

// RequestID tags each request with an id for logs, audit lines and the
// X-Request-ID response header.
func RequestID(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			reqID := r.Header.Get("X-Request-ID")
			if reqID == "" || len(reqID) > 64 {
				reqID = uuid.NewString()
			}
			w.Header().Set("X-Request-ID", reqID)

			ctx := audit.WithRequestID(r.Context(), reqID)
			start := time.Now()

			next.ServeHTTP(w, r.WithContext(ctx))

			log.Info("request completed",
				slog.String("request_id", reqID),
				slog.String("method", r.Method),
				slog.String("path", r.URL.Path),
				slog.Duration("duration", time.Since(start)),
			)
		})
	}
}

func GetClaimsFromContext(ctx context.Context) *auth.Claims {
	if c, ok := ctx.Value(ClaimsContextKey{}).(*auth.Claims); ok {
		return c
	}
	return nil
}

func GetSubjectFromContext(ctx context.Context) string {
	if c := GetClaimsFromContext(ctx); c != nil {
		return c.Subject
	}
	return ""
}

func writeJSONError(w http.ResponseWriter, msg string, status int) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write([]byte(`{"error":"` + msg + `"}`))
}
