package config

import (
	"context"
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/sethvargo/go-envconfig"
)

// Config holds all configuration for the gateway.
type Config struct {
	Port          int      `env:"PORT,default=8080"`
	DatabaseURL   string   `env:"DATABASE_URL,required"`
	RedisAddr     string   `env:"REDIS_ADDR,default=localhost:6379"`
	RedisPassword string   `env:"REDIS_PASSWORD"`
	LogLevel      string   `env:"LOG_LEVEL,default=info"`
	Environment   string   `env:"ENVIRONMENT,default=development"`
	CORSOrigins   []string `env:"CORS_ORIGINS"`

	// HTTP server timeouts
	ReadTimeout  time.Duration `env:"HTTP_READ_TIMEOUT,default=15s"`
	WriteTimeout time.Duration `env:"HTTP_WRITE_TIMEOUT,default=60s"`
	IdleTimeout  time.Duration `env:"HTTP_IDLE_TIMEOUT,default=60s"`

	// Upstream forwarding
	UpstreamTimeout   time.Duration `env:"UPSTREAM_TIMEOUT,default=30s"`
	PublicTestTimeout time.Duration `env:"PUBLIC_TEST_TIMEOUT,default=15s"`

	// Response cache
	CacheTTL time.Duration `env:"CACHE_TTL,default=5m"`

	// Public-test shaping
	PaidTestDelay     time.Duration `env:"PAID_TEST_DELAY,default=500ms"`
	PublicTestMaxBody int           `env:"PUBLIC_TEST_MAX_BODY,default=5000"`

	// Rate limit quotas per scope
	GeneralLimit      int           `env:"RATE_LIMIT_GENERAL,default=60"` // per minute, per IP
	GeneralBlock      time.Duration `env:"RATE_LIMIT_GENERAL_BLOCK,default=2m"`
	AuthLimit         int           `env:"RATE_LIMIT_AUTH,default=5"` // failed attempts per minute, per IP
	AuthBlock         time.Duration `env:"RATE_LIMIT_AUTH_BLOCK,default=15m"`
	APIUsageBlock     time.Duration `env:"RATE_LIMIT_API_BLOCK,default=1m"`
	PublicTestLimit   int           `env:"RATE_LIMIT_PUBLIC_TEST,default=5"`
	PublicTestWindow  time.Duration `env:"RATE_LIMIT_PUBLIC_TEST_WINDOW,default=5m"`

	// Detached cache-store and analytics writes
	AsyncWriteTimeout time.Duration `env:"ASYNC_WRITE_TIMEOUT,default=10s"`
}

// Load reads configuration from the environment, after loading a .env file
// when one is present.
func Load() (*Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process(context.Background(), &cfg); err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *Config) validate() error {
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("PORT must be between 1 and 65535, got %d", c.Port)
	}
	if c.UpstreamTimeout <= 0 || c.PublicTestTimeout <= 0 {
		return fmt.Errorf("upstream timeouts must be positive")
	}
	if c.GeneralLimit <= 0 || c.AuthLimit <= 0 || c.PublicTestLimit <= 0 {
		return fmt.Errorf("rate limit quotas must be positive")
	}
	if c.PublicTestMaxBody <= 0 {
		return fmt.Errorf("PUBLIC_TEST_MAX_BODY must be positive")
	}
	return nil
}

// IsProduction reports whether the gateway runs in production mode.
// Development mode switches logging to the console writer.
func (c *Config) IsProduction() bool {
	return c.Environment == "production"
}
