package services

import (
	"context"
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// CachedResponse is the stored shape of an upstream response. Hop-by-hop
// headers are excluded before storage.
type CachedResponse struct {
	StatusCode int               `json:"status_code"`
	Headers    map[string]string `json:"headers"`
	Body       []byte            `json:"body"`
}

// CacheStore is the response cache capability. Lookup and Store absorb
// infrastructure failures: a broken cache behaves like an empty one and
// never errors the request path.
type CacheStore interface {
	Lookup(ctx context.Context, key string) (*CachedResponse, bool)
	Store(ctx context.Context, key string, resp *CachedResponse)
}

// Fingerprint derives the content-addressed cache key for a call. Query
// parameters are serialized in sorted order so equivalent requests collide;
// the body participates only for mutating methods.
func Fingerprint(apiID uuid.UUID, method, path string, query url.Values, body []byte) string {
	method = strings.ToUpper(method)

	h := sha256.New()
	fmt.Fprintf(h, "%s:%s:%s:%s", apiID, method, path, query.Encode())
	switch method {
	case "POST", "PUT", "PATCH":
		h.Write(body)
	}

	return fmt.Sprintf("cache:%x", h.Sum(nil)[:16])
}

// RedisCache stores upstream responses in Redis with a fixed TTL.
type RedisCache struct {
	client *redis.Client
	ttl    time.Duration
	logger zerolog.Logger
}

func NewRedisCache(client *redis.Client, ttl time.Duration, logger zerolog.Logger) *RedisCache {
	return &RedisCache{
		client: client,
		ttl:    ttl,
		logger: logger,
	}
}

func (c *RedisCache) Lookup(ctx context.Context, key string) (*CachedResponse, bool) {
	data, err := c.client.Get(ctx, key).Bytes()
	if err == redis.Nil {
		return nil, false
	}
	if err != nil {
		c.logger.Warn().Err(err).Msg("cache lookup failed, treating as miss")
		return nil, false
	}

	var resp CachedResponse
	if err := json.Unmarshal(data, &resp); err != nil {
		c.logger.Warn().Err(err).Str("key", key).Msg("corrupt cache entry, treating as miss")
		return nil, false
	}

	return &resp, true
}

// Store writes one response. Only 2xx responses are ever cached; anything
// else is dropped here so call sites can't violate the invariant.
func (c *RedisCache) Store(ctx context.Context, key string, resp *CachedResponse) {
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return
	}

	stored := &CachedResponse{
		StatusCode: resp.StatusCode,
		Headers:    stripHopByHopFlat(resp.Headers),
		Body:       resp.Body,
	}

	data, err := json.Marshal(stored)
	if err != nil {
		c.logger.Warn().Err(err).Msg("couldn't encode response for cache")
		return
	}

	if err := c.client.Set(ctx, key, data, c.ttl).Err(); err != nil {
		c.logger.Warn().Err(err).Msg("cache store failed")
	}
}

// stripHopByHopFlat removes hop-by-hop headers from a flattened header map.
func stripHopByHopFlat(headers map[string]string) map[string]string {
	out := make(map[string]string, len(headers))
	for k, v := range headers {
		switch strings.ToLower(k) {
		case "content-length", "connection", "transfer-encoding":
			continue
		}
		out[k] = v
	}
	return out
}
