package database

import (
	"context"
	"time"

	"github.com/google/uuid"

	"github.com/apimarket/gateway/internal/models"
)

// MetadataStore reads the marketplace records the gateway needs to route a
// call. All of them are owned by the marketplace application; the gateway
// treats them as read-mostly inputs.
type MetadataStore interface {
	GetAPIByID(ctx context.Context, id uuid.UUID) (*models.RegisteredAPI, error)
	ListEndpoints(ctx context.Context, apiID uuid.UUID) ([]models.Endpoint, error)
	GetEndpointByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error)
	GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error)
	TouchAPIKey(ctx context.Context, id uuid.UUID) error
	HasPurchase(ctx context.Context, userID, apiID uuid.UUID) (bool, error)
}

// AnalyticsStore records call outcomes: one append-only log row per call
// plus the per-API running aggregate.
type AnalyticsStore interface {
	InsertCallLog(ctx context.Context, entry *models.APICallLog) error
	UpdateAnalytics(ctx context.Context, apiID uuid.UUID, statusCode, responseTimeMs int) error
	CountRecentCalls(ctx context.Context, apiID, consumerID uuid.UUID, since time.Time) (int, error)
}

// Store combines all database operations used by the gateway.
type Store interface {
	MetadataStore
	AnalyticsStore
}
