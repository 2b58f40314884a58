package database

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/apimarket/gateway/internal/models"
)

func (db *DB) InsertCallLog(ctx context.Context, entry *models.APICallLog) error {
	query := `
		INSERT INTO api_call_logs (api_id, status_code, response_time_ms, endpoint, consumer_id, country, user_agent, error_message, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		RETURNING id
	`

	err := db.conn.QueryRowContext(
		ctx,
		query,
		entry.APIID,
		entry.StatusCode,
		entry.ResponseTimeMs,
		entry.Endpoint,
		entry.ConsumerID,
		entry.Country,
		entry.UserAgent,
		entry.ErrorMessage,
		time.Now(),
	).Scan(&entry.ID)

	if err != nil {
		return fmt.Errorf("couldn't log call: %w", err)
	}

	return nil
}

// UpdateAnalytics applies one call outcome to the per-API aggregate:
// total += 1, success/failed split at status 400, error rate recomputed as a
// percentage, response time folded into the running mean. The whole
// read-modify-write runs as a single upsert so Postgres row locking
// serializes concurrent callers of the same API.
func (db *DB) UpdateAnalytics(ctx context.Context, apiID uuid.UUID, statusCode, responseTimeMs int) error {
	success := 0
	failed := 0
	if statusCode >= 200 && statusCode < 400 {
		success = 1
	} else {
		failed = 1
	}

	query := `
		INSERT INTO api_analytics (api_id, total_calls, success_calls, failed_calls, error_rate, response_time_avg, updated_at)
		VALUES ($1, 1, $2, $3, $3 * 100.0, $4, NOW())
		ON CONFLICT (api_id) DO UPDATE SET
			total_calls       = api_analytics.total_calls + 1,
			success_calls     = api_analytics.success_calls + $2,
			failed_calls      = api_analytics.failed_calls + $3,
			error_rate        = (api_analytics.failed_calls + $3) * 100.0 / (api_analytics.total_calls + 1),
			response_time_avg = (api_analytics.response_time_avg * api_analytics.total_calls + $4) / (api_analytics.total_calls + 1),
			updated_at        = NOW()
	`

	if _, err := db.conn.ExecContext(ctx, query, apiID, success, failed, responseTimeMs); err != nil {
		return fmt.Errorf("couldn't update analytics: %w", err)
	}

	return nil
}

// CountRecentCalls counts logged calls by one consumer against one API since
// the given instant. The proxy uses it as an independent check of the key's
// effective per-minute limit.
func (db *DB) CountRecentCalls(ctx context.Context, apiID, consumerID uuid.UUID, since time.Time) (int, error) {
	query := `
		SELECT COUNT(*)
		FROM api_call_logs
		WHERE api_id = $1 AND consumer_id = $2 AND created_at >= $3
	`

	var count int
	if err := db.conn.QueryRowContext(ctx, query, apiID, consumerID, since).Scan(&count); err != nil {
		return 0, fmt.Errorf("database error: %w", err)
	}
	return count, nil
}
