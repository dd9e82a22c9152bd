package api

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/Priya8975/notify-delivery/internal/metrics"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

// LimitChecker is the sliding-window limit check behind the API rate limit.
type LimitChecker interface {
	IsOverLimit(ctx context.Context, key string, limit int64, window time.Duration) (bool, error)
}

// RateLimitKey is the per-service API rate limit counter.
func RateLimitKey(serviceID fmt.Stringer) string {
	return "rate_limit:" + serviceID.String()
}

// rateLimit rejects requests once a service exceeds limit calls per window.
// It must run after RequireService.
func rateLimit(checker LimitChecker, limit int64, window time.Duration, logger *slog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			svc := serviceFromContext(r.Context())
			if svc == nil || checker == nil || limit <= 0 {
				next.ServeHTTP(w, r)
				return
			}

			over, err := checker.IsOverLimit(r.Context(), RateLimitKey(svc.ID), limit, window)
			if err != nil {
				logger.Error("rate limit check failed", "service_id", svc.ID, "error", err)
			}
			if over {
				metrics.APIRateLimited.Inc()
				w.Header().Set("Retry-After", strconv.Itoa(int(window/time.Second)))
				respondError(w, http.StatusTooManyRequests,
					fmt.Sprintf("exceeded rate limit of %d requests per %s", limit, window))
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// instrument records request latency by route pattern.
func instrument(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := "unmatched"
		if rc := chi.RouteContext(r.Context()); rc != nil {
			if p := rc.RoutePattern(); p != "" {
				route = p
			}
		}
		metrics.RecordHTTPRequest(r.Method, route, strconv.Itoa(ww.Status()), time.Since(start))
	})
}

// corsMiddleware adds CORS headers for browser clients of the admin API.
func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PATCH, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == "OPTIONS" {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}
