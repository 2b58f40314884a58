package middleware

import (
	"context"
	"net"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/httputil"
	"github.com/apimarket/gateway/internal/models"
	"github.com/apimarket/gateway/internal/services"
)

type contextKey string

const identityContextKey contextKey = "identity"

// Identity is the resolved caller of an authenticated proxy request.
type Identity struct {
	UserID uuid.UUID
	Key    *models.APIKey
	IP     string
}

// GetIdentity extracts the caller identity from the request context.
func GetIdentity(ctx context.Context) *Identity {
	id, _ := ctx.Value(identityContextKey).(*Identity)
	return id
}

// WithIdentity returns ctx carrying the given identity. Used by tests and
// by the auth middleware itself.
func WithIdentity(ctx context.Context, id *Identity) context.Context {
	return context.WithValue(ctx, identityContextKey, id)
}

// APIKeyAuth authenticates requests via the X-API-Key header. Failed
// attempts consume from the auth quota per caller IP, so a brute-forcing
// client gets blocked while valid callers are unaffected.
func APIKeyAuth(store database.MetadataStore, limiter *services.Limiter, authQuota services.Quota, logger zerolog.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ip := ClientIP(r)

			fail := func(code, message string) {
				res := limiter.Consume(r.Context(), authQuota, ip)
				if !res.Allowed {
					w.Header().Set("Retry-After", retryAfterSeconds(res.RetryAfter))
					httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Too many authentication failures")
					return
				}
				httputil.RespondError(w, http.StatusUnauthorized, code, message)
			}

			raw := r.Header.Get("X-API-Key")
			if raw == "" {
				fail("missing_api_key", "Missing API key. Provide the X-API-Key header.")
				return
			}

			key, err := store.GetAPIKeyByKey(r.Context(), raw)
			if err != nil {
				logger.Error().Err(err).Msg("database error validating API key")
				httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
				return
			}
			if key == nil {
				fail("invalid_api_key", "Invalid API key")
				return
			}
			if key.ExpiresAt != nil && time.Now().After(*key.ExpiresAt) {
				fail("invalid_api_key", "API key has expired")
				return
			}

			ctx := WithIdentity(r.Context(), &Identity{UserID: key.UserID, Key: key, IP: ip})
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// ClientIP resolves the caller address, preferring proxy-provided headers.
func ClientIP(r *http.Request) string {
	if forwarded := r.Header.Get("X-Forwarded-For"); forwarded != "" {
		ips := strings.Split(forwarded, ",")
		return strings.TrimSpace(ips[0])
	}
	if realIP := r.Header.Get("X-Real-IP"); realIP != "" {
		return realIP
	}

	host, _, err := net.SplitHostPort(r.RemoteAddr)
	if err != nil {
		return r.RemoteAddr
	}
	return host
}

// retryAfterSeconds renders a Retry-After header value, rounding up so the
// caller never retries early.
func retryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if d > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
