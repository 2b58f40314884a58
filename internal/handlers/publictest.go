package handlers

import (
	"encoding/base64"
	"encoding/json"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/httputil"
	"github.com/apimarket/gateway/internal/middleware"
	"github.com/apimarket/gateway/internal/models"
	"github.com/apimarket/gateway/internal/services"
)

// PublicTestHandler serves unauthenticated test calls: stricter rate limit,
// shorter timeout, artificial latency for paid APIs, truncated responses.
// The transport status is always 200 once the call is admitted; the envelope
// carries the real outcome.
type PublicTestHandler struct {
	store     database.Store
	limiter   *services.Limiter
	forwarder *services.Forwarder
	recorder  *services.Recorder
	metrics   *services.Metrics
	quota     services.Quota
	timeout   time.Duration
	paidDelay time.Duration
	maxBody   int
	logger    zerolog.Logger
}

func NewPublicTestHandler(
	store database.Store,
	limiter *services.Limiter,
	forwarder *services.Forwarder,
	recorder *services.Recorder,
	metrics *services.Metrics,
	quota services.Quota,
	timeout, paidDelay time.Duration,
	maxBody int,
	logger zerolog.Logger,
) *PublicTestHandler {
	return &PublicTestHandler{
		store:     store,
		limiter:   limiter,
		forwarder: forwarder,
		recorder:  recorder,
		metrics:   metrics,
		quota:     quota,
		timeout:   timeout,
		paidDelay: paidDelay,
		maxBody:   maxBody,
		logger:    logger,
	}
}

func (h *PublicTestHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	start := time.Now()
	ctx := r.Context()

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

	var req services.TestCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}
	if !services.ValidMethod(req.Method) {
		httputil.RespondError(w, http.StatusBadRequest, "invalid_method", "method must be a standard HTTP verb")
		return
	}

	endpoint, err := h.resolveEndpoint(r, api, &req)
	if err != nil {
		services.RespondError(w, err)
		return
	}

	// Access is decided before any rate-limit consumption: a denied API
	// never burns quota.
	if services.PublicTestAccess(api, endpoint) == services.ModeDenied {
		httputil.RespondError(w, http.StatusForbidden, "public_testing_disabled", "Public testing is not available for this API")
		return
	}

	target, err := h.targetURL(api, endpoint, &req)
	if err != nil {
		services.RespondError(w, err)
		return
	}

	identity := middleware.ClientIP(r) + ":" + apiID.String()
	res := h.limiter.Consume(ctx, h.quota, identity)
	if !res.Allowed {
		h.metrics.RateLimited.WithLabelValues(h.quota.Name).Inc()
		w.Header().Set("Retry-After", RetryAfterSeconds(res.RetryAfter))
		httputil.RespondError(w, http.StatusTooManyRequests, "rate_limited", "Public testing rate limit exceeded")
		return
	}

	headers := make(http.Header, len(req.Headers))
	for k, v := range req.Headers {
		headers.Set(k, v)
	}
	authorization := applyAuth(headers, req.Auth)

	query := url.Values{}
	for k, v := range req.QueryParams {
		query.Set(k, v)
	}

	var body []byte
	if req.Body != nil {
		body, err = json.Marshal(req.Body)
		if err != nil {
			httputil.RespondError(w, http.StatusBadRequest, "invalid_body", "body is not serializable")
			return
		}
		if headers.Get("Content-Type") == "" {
			headers.Set("Content-Type", "application/json")
		}
	}

	uresp, forwardErr := h.forwarder.Forward(ctx, &services.UpstreamRequest{
		Method:        req.Method,
		BaseURL:       target,
		Headers:       headers,
		Query:         query,
		Body:          body,
		Authorization: authorization,
		Timeout:       h.timeout,
	})

	// Paid APIs get a deliberately degraded free tier: extra latency on the
	// wire and in the reported duration.
	duration := time.Since(start)
	if api.PricingModel == models.PricingPaid {
		time.Sleep(h.paidDelay)
		duration += h.paidDelay
	}

	envelope := services.PublicTestResponse{
		Duration: duration.Milliseconds(),
		Request:  services.PublicTestRequest{Method: strings.ToUpper(req.Method), URL: target},
		PublicTesting: services.PublicTestInfo{
			Limited: true,
			Message: services.PublicTestNotice,
			RateLimit: services.RateLimitInfo{
				Limit:        h.quota.Points,
				Remaining:    res.Remaining,
				ResetSeconds: int(res.Reset.Seconds()),
			},
		},
	}

	endpointPath := target
	if endpoint != nil {
		endpointPath = endpoint.Path
	}

	if forwardErr != nil {
		status := services.StatusFor(forwardErr)
		h.logger.Warn().Err(forwardErr).Str("api_id", apiID.String()).Msg("public test upstream call failed")
		envelope.Success = false
		envelope.Error = &services.PublicTestError{
			Code:    errorCode(forwardErr),
			Message: "The upstream API did not respond",
		}
		h.recorder.Record(services.CallRecord{
			APIID:        apiID,
			StatusCode:   status,
			Duration:     duration,
			Endpoint:     endpointPath,
			Country:      clientCountry(r),
			UserAgent:    r.UserAgent(),
			ErrorMessage: strPtr(forwardErr.Error()),
		})
		h.metrics.Requests.WithLabelValues("public_test", services.StatusClass(status)).Inc()
		httputil.RespondJSON(w, http.StatusOK, envelope)
		return
	}

	shaped, truncated := services.TruncateForPublicTest(uresp.Body, h.maxBody)
	envelope.Success = uresp.StatusCode < 400
	envelope.Response = &services.PublicTestUpstream{
		Status:  uresp.StatusCode,
		Headers: services.FlattenHeaders(services.StripHopByHopHeaders(uresp.Headers)),
		Body:    shaped,
	}
	envelope.PublicTesting.Truncated = truncated
	if truncated {
		envelope.PublicTesting.Message = services.TruncationNotice
	}

	h.recorder.Record(services.CallRecord{
		APIID:      apiID,
		StatusCode: uresp.StatusCode,
		Duration:   duration,
		Endpoint:   endpointPath,
		Country:    clientCountry(r),
		UserAgent:  r.UserAgent(),
	})
	h.metrics.Requests.WithLabelValues("public_test", services.StatusClass(uresp.StatusCode)).Inc()
	h.metrics.UpstreamDuration.WithLabelValues("public_test").Observe(uresp.Duration.Seconds())

	httputil.RespondJSON(w, http.StatusOK, envelope)
}

// resolveEndpoint finds the registered endpoint a test call targets: by id
// when the route names one, otherwise by matching method and path. A call
// that matches no endpoint still proceeds with nil; only endpoint-level
// restrictions need the record.
func (h *PublicTestHandler) resolveEndpoint(r *http.Request, api *models.RegisteredAPI, req *services.TestCallRequest) (*models.Endpoint, error) {
	if raw := chi.URLParam(r, "endpointID"); raw != "" {
		endpointID, err := uuid.Parse(raw)
		if err != nil {
			return nil, services.NewNotFound("endpoint_not_found", "Endpoint not found")
		}
		ep, err := h.store.GetEndpointByID(r.Context(), endpointID)
		if err != nil {
			return nil, services.NewInternal("internal_error", "Internal server error")
		}
		if ep == nil || ep.APIID != api.ID {
			return nil, services.NewNotFound("endpoint_not_found", "Endpoint not found")
		}
		return ep, nil
	}

	path := requestPath(req)
	if path == "" {
		return nil, nil
	}

	endpoints, err := h.store.ListEndpoints(r.Context(), api.ID)
	if err != nil {
		return nil, services.NewInternal("internal_error", "Internal server error")
	}
	if match := services.MatchEndpoint(endpoints, req.Method, path); match != nil {
		return match.Endpoint, nil
	}
	return nil, nil
}

// targetURL resolves where the test call goes: the explicit url when given,
// else the API base plus the named endpoint's path.
func (h *PublicTestHandler) targetURL(api *models.RegisteredAPI, endpoint *models.Endpoint, req *services.TestCallRequest) (string, error) {
	if req.URL != "" {
		if strings.HasPrefix(req.URL, "http://") || strings.HasPrefix(req.URL, "https://") {
			return req.URL, nil
		}
		return strings.TrimSuffix(api.BaseURL, "/") + "/" + strings.TrimPrefix(req.URL, "/"), nil
	}
	if endpoint != nil {
		return strings.TrimSuffix(api.BaseURL, "/") + endpoint.Path, nil
	}
	return "", services.NewBadRequest("missing_url", "url is required when no endpoint is named")
}

// requestPath extracts the path portion of the test call for endpoint
// matching.
func requestPath(req *services.TestCallRequest) string {
	if req.URL == "" {
		return ""
	}
	if strings.HasPrefix(req.URL, "/") {
		return req.URL
	}
	parsed, err := url.Parse(req.URL)
	if err != nil {
		return ""
	}
	return parsed.Path
}

// applyAuth maps the test call's auth config onto the upstream request.
// Basic and bearer credentials are returned separately so they survive the
// forwarder's stripping of the inbound Authorization header.
func applyAuth(headers http.Header, auth *services.AuthSpec) string {
	if auth == nil {
		return ""
	}
	switch auth.Type {
	case "basic":
		creds := auth.Username + ":" + auth.Password
		return "Basic " + base64.StdEncoding.EncodeToString([]byte(creds))
	case "bearer":
		return "Bearer " + auth.Token
	case "apiKey":
		name := auth.Header
		if name == "" {
			name = "x-api-key"
		}
		headers.Set(name, auth.Key)
	}
	return ""
}

func errorCode(err error) string {
	if gwErr, ok := err.(*services.Error); ok {
		return gwErr.Code
	}
	return "upstream_error"
}
