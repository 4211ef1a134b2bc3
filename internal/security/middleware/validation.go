package middleware

import (
	"log/slog"
	"net/http"
	"strings"
)

// RejectSuspiciousPaths refuses paths that try to traverse or double up separators
func RejectSuspiciousPaths(log *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if strings.Contains(r.URL.Path, "..") || strings.Contains(r.URL.Path, "//") {
				log.Warn("suspicious path pattern detected", slog.String("path", r.URL.Path))
				writeJSONError(w, "invalid path", http.StatusBadRequest)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
