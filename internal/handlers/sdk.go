package handlers

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/httputil"
	"github.com/apimarket/gateway/internal/services"
)

// SDKHandler serves generated client code: per-API SDK snippets and the
// standalone request-to-cURL transform.
type SDKHandler struct {
	store  database.MetadataStore
	logger zerolog.Logger
}

func NewSDKHandler(store database.MetadataStore, logger zerolog.Logger) *SDKHandler {
	return &SDKHandler{store: store, logger: logger}
}

// GenerateSDK handles GET /api-proxy/{apiID}/sdk/{language}.
func (h *SDKHandler) GenerateSDK(w http.ResponseWriter, r *http.Request) {
	apiID, err := uuid.Parse(chi.URLParam(r, "apiID"))
	if err != nil {
		httputil.RespondError(w, http.StatusNotFound, "api_not_found", "API not found")
		return
	}

	api, err := h.store.GetAPIByID(r.Context(), apiID)
	if err != nil {
		h.logger.Error().Err(err).Msg("API lookup failed")
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}
	if api == nil {
		httputil.RespondError(w, http.StatusNotFound, "api_not_found", "API not found")
		return
	}

	endpoints, err := h.store.ListEndpoints(r.Context(), apiID)
	if err != nil {
		h.logger.Error().Err(err).Msg("endpoint listing failed")
		httputil.RespondError(w, http.StatusInternalServerError, "internal_error", "Internal server error")
		return
	}

	snippet, err := services.GenerateSDK(api, endpoints, chi.URLParam(r, "language"))
	if err != nil {
		services.RespondError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, snippet)
}

// GenerateCurl handles POST /generate-curl: a pure transform, no store or
// network access.
func (h *SDKHandler) GenerateCurl(w http.ResponseWriter, r *http.Request) {
	var req services.TestCallRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httputil.RespondError(w, http.StatusBadRequest, "invalid_body", "Request body must be valid JSON")
		return
	}

	command, err := services.GenerateCurl(&req)
	if err != nil {
		services.RespondError(w, err)
		return
	}

	httputil.RespondJSON(w, http.StatusOK, map[string]string{"curl": command})
}
