package middleware

import (
	"net/http"
	"strconv"

	"github.com/apimarket/gateway/internal/httputil"
	"github.com/apimarket/gateway/internal/services"
)

// RateLimit enforces the general per-IP traffic quota in front of every
// gateway route.
func RateLimit(limiter *services.Limiter, quota services.Quota, metrics *services.Metrics) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			res := limiter.Consume(r.Context(), quota, ClientIP(r))

			w.Header().Set("X-RateLimit-Limit", strconv.Itoa(quota.Points))
			w.Header().Set("X-RateLimit-Remaining", strconv.Itoa(res.Remaining))

			if !res.Allowed {
				metrics.RateLimited.WithLabelValues(quota.Name).Inc()
				w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
				httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Rate limit exceeded. Try again later.")
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}
