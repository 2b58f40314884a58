package handlers

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/httputil"
)

// Pinger is anything that can report reachability, i.e. the metadata store.
type Pinger interface {
	Ping(ctx context.Context) error
}

// HealthHandler reports gateway health and the state of its backing stores.
type HealthHandler struct {
	db        Pinger
	redis     *redis.Client
	startTime time.Time
	logger    zerolog.Logger
}

func NewHealthHandler(db Pinger, redisClient *redis.Client, logger zerolog.Logger) *HealthHandler {
	return &HealthHandler{
		db:        db,
		redis:     redisClient,
		startTime: time.Now(),
		logger:    logger,
	}
}

type HealthResponse struct {
	Status        string            `json:"status"`
	UptimeSeconds int64             `json:"uptime_seconds"`
	Services      map[string]string `json:"services"`
	Timestamp     string            `json:"timestamp"`
}

// ServeHTTP probes Postgres and Redis. A down Redis degrades (the gateway
// still serves via in-memory fallbacks); a down Postgres does too, but
// routing will fail, so both flip the status.
func (h *HealthHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	health := HealthResponse{
		Status:    "healthy",
		Services:  make(map[string]string),
		Timestamp: time.Now().Format(time.RFC3339),
	}

	if err := h.db.Ping(ctx); err != nil {
		health.Services["postgresql"] = "unhealthy: " + err.Error()
		health.Status = "degraded"
		h.logger.Warn().Err(err).Msg("postgres health check failed")
	} else {
		health.Services["postgresql"] = "healthy"
	}

	if err := h.redis.Ping(ctx).Err(); err != nil {
		health.Services["redis"] = "unhealthy: " + err.Error()
		health.Status = "degraded"
		h.logger.Warn().Err(err).Msg("redis health check failed")
	} else {
		health.Services["redis"] = "healthy"
	}

	health.UptimeSeconds = int64(time.Since(h.startTime).Seconds())

	status := http.StatusOK
	if health.Status == "degraded" {
		status = http.StatusServiceUnavailable
	}
	httputil.RespondJSON(w, status, health)
}
