package models

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// PricingModel is the billing mode of a registered API.
type PricingModel string

const (
	PricingFree PricingModel = "FREE"
	PricingPaid PricingModel = "PAID"
)

// RegisteredAPI is a third-party API listed on the marketplace.
// PAID APIs carry a positive price; FREE APIs have none.
type RegisteredAPI struct {
	ID                 uuid.UUID    `json:"id"`
	OwnerID            uuid.UUID    `json:"owner_id"`
	Name               string       `json:"name"`
	BaseURL            string       `json:"base_url"`
	PricingModel       PricingModel `json:"pricing_model"`
	Price              *float64     `json:"price,omitempty"`
	RateLimit          int          `json:"rate_limit"` // requests per minute default
	AllowPublicTesting bool         `json:"allow_public_testing"`
	CreatedAt          time.Time    `json:"created_at"`
}

// Endpoint is a single routable operation of a RegisteredAPI. The path is a
// template and may contain {param} segments. Declared headers, request body
// and response schema are metadata for the matcher and code generator only;
// they are not enforced at call time.
type Endpoint struct {
	ID                    uuid.UUID       `json:"id"`
	APIID                 uuid.UUID       `json:"api_id"`
	Method                string          `json:"method"`
	Path                  string          `json:"path"`
	RateLimit             *int            `json:"rate_limit,omitempty"` // per-endpoint override
	RestrictPublicTesting bool            `json:"restrict_public_testing"`
	Headers               json.RawMessage `json:"headers,omitempty"`
	RequestBody           json.RawMessage `json:"request_body,omitempty"`
	ResponseSchema        json.RawMessage `json:"response_schema,omitempty"`
	CreatedAt             time.Time       `json:"created_at"`
}

// APIKey grants a user access to one registered API. Keys are created on
// purchase or by the API owner, never by the gateway; the gateway only
// validates them and touches last_used on forwarded calls.
type APIKey struct {
	ID        uuid.UUID  `json:"id"`
	UserID    uuid.UUID  `json:"user_id"`
	APIID     uuid.UUID  `json:"api_id"`
	Key       string     `json:"-"`
	IsActive  bool       `json:"is_active"`
	ExpiresAt *time.Time `json:"expires_at,omitempty"`
	RateLimit *int       `json:"rate_limit,omitempty"` // per-key override
	LastUsed  *time.Time `json:"last_used,omitempty"`
	CreatedAt time.Time  `json:"created_at"`
}

// APIAnalytics is the running aggregate for one API, created lazily on the
// first recorded call.
type APIAnalytics struct {
	APIID           uuid.UUID `json:"api_id"`
	TotalCalls      int64     `json:"total_calls"`
	SuccessCalls    int64     `json:"success_calls"`
	FailedCalls     int64     `json:"failed_calls"`
	ErrorRate       float64   `json:"error_rate"`        // percent
	ResponseTimeAvg float64   `json:"response_time_avg"` // milliseconds, running mean
	UpdatedAt       time.Time `json:"updated_at"`
}

// APICallLog is one append-only record of a proxied call.
type APICallLog struct {
	ID             uuid.UUID  `json:"id"`
	APIID          uuid.UUID  `json:"api_id"`
	StatusCode     int        `json:"status_code"`
	ResponseTimeMs int        `json:"response_time_ms"`
	Endpoint       string     `json:"endpoint"`
	ConsumerID     *uuid.UUID `json:"consumer_id,omitempty"`
	Country        *string    `json:"country,omitempty"`
	UserAgent      string     `json:"user_agent"`
	ErrorMessage   *string    `json:"error_message,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
}
