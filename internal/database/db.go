package database

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"

	"github.com/apimarket/gateway/internal/models"
)

// DB is the Postgres-backed metadata and analytics store.
type DB struct {
	conn *sql.DB
}

// Connect opens the Postgres connection pool and verifies it.
func Connect(databaseURL string) (*DB, error) {
	conn, err := sql.Open("postgres", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("couldn't open database: %w", err)
	}

	if err := conn.Ping(); err != nil {
		return nil, fmt.Errorf("database not responding: %w", err)
	}

	conn.SetMaxOpenConns(25)
	conn.SetMaxIdleConns(5)
	conn.SetConnMaxLifetime(5 * time.Minute)

	return &DB{conn: conn}, nil
}

func (db *DB) Close() error {
	return db.conn.Close()
}

// Ping reports whether the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

func (db *DB) GetAPIByID(ctx context.Context, id uuid.UUID) (*models.RegisteredAPI, error) {
	query := `
		SELECT id, owner_id, name, base_url, pricing_model, price, rate_limit, allow_public_testing, created_at
		FROM registered_apis
		WHERE id = $1
	`

	api := &models.RegisteredAPI{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&api.ID,
		&api.OwnerID,
		&api.Name,
		&api.BaseURL,
		&api.PricingModel,
		&api.Price,
		&api.RateLimit,
		&api.AllowPublicTesting,
		&api.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return api, nil
}

// ListEndpoints returns an API's endpoints in stored order. The matcher
// relies on this ordering: first match wins.
func (db *DB) ListEndpoints(ctx context.Context, apiID uuid.UUID) ([]models.Endpoint, error) {
	query := `
		SELECT id, api_id, method, path, rate_limit, restrict_public_testing,
		       headers, request_body, response_schema, created_at
		FROM endpoints
		WHERE api_id = $1
		ORDER BY created_at
	`

	rows, err := db.conn.QueryContext(ctx, query, apiID)
	if err != nil {
		return nil, fmt.Errorf("couldn't list endpoints: %w", err)
	}
	defer rows.Close()

	var endpoints []models.Endpoint
	for rows.Next() {
		var ep models.Endpoint
		err := rows.Scan(
			&ep.ID,
			&ep.APIID,
			&ep.Method,
			&ep.Path,
			&ep.RateLimit,
			&ep.RestrictPublicTesting,
			&ep.Headers,
			&ep.RequestBody,
			&ep.ResponseSchema,
			&ep.CreatedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("scan error: %w", err)
		}
		endpoints = append(endpoints, ep)
	}

	return endpoints, rows.Err()
}

func (db *DB) GetEndpointByID(ctx context.Context, id uuid.UUID) (*models.Endpoint, error) {
	query := `
		SELECT id, api_id, method, path, rate_limit, restrict_public_testing,
		       headers, request_body, response_schema, created_at
		FROM endpoints
		WHERE id = $1
	`

	ep := &models.Endpoint{}
	err := db.conn.QueryRowContext(ctx, query, id).Scan(
		&ep.ID,
		&ep.APIID,
		&ep.Method,
		&ep.Path,
		&ep.RateLimit,
		&ep.RestrictPublicTesting,
		&ep.Headers,
		&ep.RequestBody,
		&ep.ResponseSchema,
		&ep.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return ep, nil
}

func (db *DB) GetAPIKeyByKey(ctx context.Context, key string) (*models.APIKey, error) {
	query := `
		SELECT id, user_id, api_id, key, is_active, expires_at, rate_limit, last_used, created_at
		FROM api_keys
		WHERE key = $1 AND is_active = true
	`

	apiKey := &models.APIKey{}
	err := db.conn.QueryRowContext(ctx, query, key).Scan(
		&apiKey.ID,
		&apiKey.UserID,
		&apiKey.APIID,
		&apiKey.Key,
		&apiKey.IsActive,
		&apiKey.ExpiresAt,
		&apiKey.RateLimit,
		&apiKey.LastUsed,
		&apiKey.CreatedAt,
	)

	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("database error: %w", err)
	}

	return apiKey, nil
}

func (db *DB) TouchAPIKey(ctx context.Context, id uuid.UUID) error {
	_, err := db.conn.ExecContext(ctx, `UPDATE api_keys SET last_used = NOW() WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("couldn't touch API key: %w", err)
	}
	return nil
}

func (db *DB) HasPurchase(ctx context.Context, userID, apiID uuid.UUID) (bool, error) {
	query := `SELECT EXISTS(SELECT 1 FROM purchased_apis WHERE user_id = $1 AND api_id = $2)`

	var exists bool
	if err := db.conn.QueryRowContext(ctx, query, userID, apiID).Scan(&exists); err != nil {
		return false, fmt.Errorf("database error: %w", err)
	}
	return exists, nil
}
