package api

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/ahutchings/warden/internal/metrics"
)

// slogRequestLogger is a structured logging middleware using slog.
func slogRequestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		slog.Info("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration_ms", time.Since(start).Milliseconds(),
			"bytes", ww.BytesWritten(),
		)
	})
}

// metricsMiddleware records per-route Prometheus metrics. The route pattern
// is resolved after the handler runs so parameterized paths collapse into one
// label value.
func metricsMiddleware(m *metrics.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			start := time.Now()
			ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
			next.ServeHTTP(ww, r)

			pattern := chi.RouteContext(r.Context()).RoutePattern()
			if pattern == "" {
				pattern = "unmatched"
			}
			m.ObserveHTTPRequest(r.Method, pattern, ww.Status(), time.Since(start))
		})
	}
}

// adminAuthMiddleware guards admin routes with a shared key, accepted either
// as a bearer token or in the X-Admin-Key header.
func adminAuthMiddleware(adminKey string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if adminKey == "" {
				writeError(w, http.StatusServiceUnavailable, "admin_disabled", "admin key is not configured")
				return
			}

			presented := r.Header.Get("X-Admin-Key")
			if presented == "" {
				if h := r.Header.Get("Authorization"); strings.HasPrefix(h, "Bearer ") {
					presented = strings.TrimPrefix(h, "Bearer ")
				}
			}

			if subtle.ConstantTimeCompare([]byte(presented), []byte(adminKey)) != 1 {
				writeError(w, http.StatusUnauthorized, "unauthorized", "invalid admin key")
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
