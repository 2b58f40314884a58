package handlers

import (
	"context"
	"io"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/httputil"
	"github.com/apimarket/gateway/internal/middleware"
	"github.com/apimarket/gateway/internal/services"
)

// ProxyHandler serves the authenticated full-mode proxy path:
// match -> authorize -> rate-limit -> cache -> forward -> record.
type ProxyHandler struct {
	store        database.Store
	limiter      *services.Limiter
	cache        services.CacheStore
	forwarder    *services.Forwarder
	recorder     *services.Recorder
	metrics      *services.Metrics
	timeout      time.Duration
	apiBlock     time.Duration
	asyncTimeout time.Duration
	logger       zerolog.Logger
}

func NewProxyHandler(
	store database.Store,
	limiter *services.Limiter,
	cache services.CacheStore,
	forwarder *services.Forwarder,
	recorder *services.Recorder,
	metrics *services.Metrics,
	timeout, apiBlock, asyncTimeout time.Duration,
	logger zerolog.Logger,
) *ProxyHandler {
	return &ProxyHandler{
		store:        store,
		limiter:      limiter,
		cache:        cache,
		forwarder:    forwarder,
		recorder:     recorder,
		metrics:      metrics,
		timeout:      timeout,
		apiBlock:     apiBlock,
		asyncTimeout: asyncTimeout,
		logger:       logger,
	}
}

func (h *ProxyHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

	ident := middleware.GetIdentity(ctx)
	if ident == nil {
		httputil.RespondError(w, http.StatusUnauthorized, "unauthorized", "Authentication required")
		return
	}

	apiID, err := uuid.Parse(chi.URLParam(r, "apiID"))
	if err != nil {
		httputil.RespondError(w, http.StatusNotFound, "api_not_found", "API not found")
		return
	}

	api, err := h.store.GetAPIByID(ctx, apiID)
	if err != nil {
		h.logger.Error().Err(err).Msg("API lookup failed")
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if api == nil {
		httputil.RespondError(w, http.StatusNotFound, "api_not_found", "API not found")
		return
	}

	// Keys are issued per API; a key for another API must not grant access
	// here, nor share this API's usage counter.
	if ident.Key.APIID != apiID {
		httputil.RespondError(w, http.StatusForbidden, "key_api_mismatch", "API key was not issued for this API")
		return
	}

	path := "/" + chi.URLParam(r, "*")

	endpoints, err := h.store.ListEndpoints(ctx, apiID)
	if err != nil {
		h.logger.Error().Err(err).Msg("endpoint listing failed")
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	match := services.MatchEndpoint(endpoints, r.Method, path)
	if match == nil {
		httputil.RespondError(w, http.StatusNotFound, "endpoint_not_found", "No matching endpoint for this API")
		return
	}

	// Ownership/purchase is an existence query on every request, never cached.
	purchased := false
	if ident.UserID != api.OwnerID {
		purchased, err = h.store.HasPurchase(ctx, ident.UserID, apiID)
		if err != nil {
			h.logger.Error().Err(err).Msg("purchase lookup failed")
			httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
			return
		}
	}

	if services.FullAccess(api, ident.UserID, purchased) != services.ModeFull {
		httputil.RespondError(w, http.StatusForbidden, "purchase_required", "You do not own this API and have not purchased access")
		return
	}

	effLimit := services.EffectiveRateLimit(api, match.Endpoint, ident.Key)
	quota := services.Quota{Name: "api_usage", Points: effLimit, Window: time.Minute, Block: h.apiBlock}

	res := h.limiter.Consume(ctx, quota, ident.Key.Key)
	if !res.Allowed {
		h.metrics.RateLimited.WithLabelValues(quota.Name).Inc()
		w.Header().Set("Retry-After", RetryAfterSeconds(res.RetryAfter))
		httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "API rate limit exceeded")
		return
	}

	// Independent check against the call log, in case the counter store and
	// the log disagree. A breach here does get a logged attempt row.
	count, err := h.store.CountRecentCalls(ctx, apiID, ident.UserID, time.Now().Add(-time.Minute))
	if err != nil {
		h.logger.Warn().Err(err).Msg("recent call count failed, skipping check")
	} else if count >= effLimit {
		h.metrics.RateLimited.WithLabelValues(quota.Name).Inc()
		h.recorder.Record(services.CallRecord{
			APIID:        apiID,
			StatusCode:   http.StatusTooManyRequests,
			Duration:     time.Since(start),
			Endpoint:     match.Endpoint.Path,
			ConsumerID:   &ident.UserID,
			Country:      clientCountry(r),
			UserAgent:    r.UserAgent(),
			ErrorMessage: strPtr("rate limit exceeded"),
		})
		w.Header().Set("Retry-After", RetryAfterSeconds(time.Minute))
		httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "API rate limit exceeded")
		return
	}

	body, err := io.ReadAll(r.Body)
	if err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid_body", "Couldn't read request body")
		return
	}

	fingerprint := services.Fingerprint(apiID, r.Method, path, r.URL.Query(), body)

	if r.Method == http.MethodGet {
		if cached, ok := h.cache.Lookup(ctx, fingerprint); ok {
			h.metrics.CacheEvents.WithLabelValues("hit").Inc()
			h.respondCached(w, r, cached, start)
			h.recorder.Record(services.CallRecord{
				APIID:      apiID,
				StatusCode: cached.StatusCode,
				Duration:   time.Since(start),
				Endpoint:   match.Endpoint.Path,
				ConsumerID: &ident.UserID,
				Country:    clientCountry(r),
				UserAgent:  r.UserAgent(),
			})
			h.metrics.Requests.WithLabelValues("full", services.StatusClass(cached.StatusCode)).Inc()
			return
		}
		h.metrics.CacheEvents.WithLabelValues("miss").Inc()
	}

	uresp, err := h.forwarder.Forward(ctx, &services.UpstreamRequest{
		Method:  r.Method,
		BaseURL: api.BaseURL,
		Path:    match.Endpoint.Path,
		Params:  match.Params,
		Query:   r.URL.Query(),
		Headers: r.Header,
		Body:    body,
		APIKey:  ident.Key.Key,
		Timeout: h.timeout,
	})
	if err != nil {
		status := services.StatusFor(err)
		h.logger.Warn().Err(err).Str("api_id", apiID.String()).Msg("upstream call failed")
		h.recorder.Record(services.CallRecord{
			APIID:        apiID,
			StatusCode:   status,
			Duration:     time.Since(start),
			Endpoint:     match.Endpoint.Path,
			ConsumerID:   &ident.UserID,
			Country:      clientCountry(r),
			UserAgent:    r.UserAgent(),
			ErrorMessage: strPtr(err.Error()),
		})
		h.metrics.Requests.WithLabelValues("full", services.StatusClass(status)).Inc()
		services.RespondError(w, err)
		return
	}

	h.touchKeyAsync(ident.Key.ID)

	// Respond before the best-effort cache store and analytics writes; the
	// caller never waits on either.
	for key, values := range services.StripHopByHopHeaders(uresp.Headers) {
		for _, value := range values {
			w.Header().Add(key, value)
		}
	}
	w.Header().Set("X-API-Response-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	w.Header().Set("X-API-Cache", "MISS")
	w.WriteHeader(uresp.StatusCode)
	w.Write(uresp.Body)

	if r.Method == http.MethodGet && uresp.StatusCode >= 200 && uresp.StatusCode < 300 {
		go func() {
			storeCtx, cancel := context.WithTimeout(context.Background(), h.asyncTimeout)
			defer cancel()
			h.cache.Store(storeCtx, fingerprint, &services.CachedResponse{
				StatusCode: uresp.StatusCode,
				Headers:    services.FlattenHeaders(uresp.Headers),
				Body:       uresp.Body,
			})
		}()
	}

	h.recorder.Record(services.CallRecord{
		APIID:      apiID,
		StatusCode: uresp.StatusCode,
		Duration:   time.Since(start),
		Endpoint:   match.Endpoint.Path,
		ConsumerID: &ident.UserID,
		Country:    clientCountry(r),
		UserAgent:  r.UserAgent(),
	})
	h.metrics.Requests.WithLabelValues("full", services.StatusClass(uresp.StatusCode)).Inc()
	h.metrics.UpstreamDuration.WithLabelValues("full").Observe(uresp.Duration.Seconds())
}

func (h *ProxyHandler) respondCached(w http.ResponseWriter, r *http.Request, cached *services.CachedResponse, start time.Time) {
	for key, value := range cached.Headers {
		w.Header().Set(key, value)
	}
	w.Header().Set("X-API-Response-Time", strconv.FormatInt(time.Since(start).Milliseconds(), 10))
	w.Header().Set("X-API-Cache", "HIT")
	w.WriteHeader(cached.StatusCode)
	w.Write(cached.Body)
}

func (h *ProxyHandler) touchKeyAsync(keyID uuid.UUID) {
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), h.asyncTimeout)
		defer cancel()
		if err := h.store.TouchAPIKey(ctx, keyID); err != nil {
			h.logger.Warn().Err(err).Msg("couldn't update API key last_used")
		}
	}()
}

// clientCountry reads the CDN-resolved country for the caller IP, when the
// deployment provides one.
func clientCountry(r *http.Request) *string {
	if c := r.Header.Get("CF-IPCountry"); c != "" && c != "XX" {
		return &c
	}
	return nil
}

func strPtr(s string) *string { return &s }

// RetryAfterSeconds renders a Retry-After header value, rounded up so the
// caller never retries before the window resets.
func RetryAfterSeconds(d time.Duration) string {
	secs := int(d.Seconds())
	if d > time.Duration(secs)*time.Second {
		secs++
	}
	if secs < 1 {
		secs = 1
	}
	return strconv.Itoa(secs)
}
