package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/apimarket/gateway/internal/config"
	"github.com/apimarket/gateway/internal/database"
	"github.com/apimarket/gateway/internal/handlers"
	"github.com/apimarket/gateway/internal/middleware"
	"github.com/apimarket/gateway/internal/services"
)

func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "couldn't load config: %v\n", err)
		os.Exit(1)
	}

	logger := newLogger(cfg)
	logger.Info().Int("port", cfg.Port).Msg("starting gateway")

	db, err := database.Connect(cfg.DatabaseURL)
	if err != nil {
		logger.Fatal().Err(err).Msg("database connection failed")
	}
	defer db.Close()

	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	defer redisClient.Close()

	pingCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		// Not fatal: the limiter falls back to in-memory counters and the
		// cache degrades to misses until Redis comes back.
		logger.Warn().Err(err).Msg("redis unreachable, starting degraded")
	}
	cancel()

	registry := prometheus.NewRegistry()
	registry.MustRegister(collectors.NewGoCollector())
	metrics := services.NewMetrics(registry)

	limiter := services.NewLimiter(services.NewRedisQuotaStore(redisClient), logger)
	cache := services.NewRedisCache(redisClient, cfg.CacheTTL, logger)
	forwarder := services.NewForwarder(logger)
	recorder := services.NewRecorder(db, cfg.AsyncWriteTimeout, logger)

	generalQuota := services.Quota{Name: "general", Points: cfg.GeneralLimit, Window: time.Minute, Block: cfg.GeneralBlock}
	authQuota := services.Quota{Name: "auth", Points: cfg.AuthLimit, Window: time.Minute, Block: cfg.AuthBlock}
	publicTestQuota := services.Quota{Name: "public_test", Points: cfg.PublicTestLimit, Window: cfg.PublicTestWindow}

	proxyHandler := handlers.NewProxyHandler(db, limiter, cache, forwarder, recorder, metrics,
		cfg.UpstreamTimeout, cfg.APIUsageBlock, cfg.AsyncWriteTimeout, logger)
	publicTestHandler := handlers.NewPublicTestHandler(db, limiter, forwarder, recorder, metrics,
		publicTestQuota, cfg.PublicTestTimeout, cfg.PaidTestDelay, cfg.PublicTestMaxBody, logger)
	sdkHandler := handlers.NewSDKHandler(db, logger)
	healthHandler := handlers.NewHealthHandler(db, redisClient, logger)

	r := chi.NewRouter()
	r.Use(middleware.RequestLogger(logger))

	if len(cfg.CORSOrigins) > 0 {
		r.Use(cors.Handler(cors.Options{
			AllowedOrigins: cfg.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
			AllowedHeaders: []string{"*"},
			MaxAge:         300,
		}))
	}

	r.Method(http.MethodGet, "/health", healthHandler)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(registry, promhttp.HandlerOpts{}))

	r.Group(func(r chi.Router) {
		r.Use(middleware.RateLimit(limiter, generalQuota, metrics))

		r.Post("/generate-curl", sdkHandler.GenerateCurl)
		r.Method(http.MethodPost, "/api-proxy/public-test/{apiID}", publicTestHandler)
		r.Method(http.MethodPost, "/api-proxy/public-test/{apiID}/{endpointID}", publicTestHandler)
		r.Get("/api-proxy/{apiID}/sdk/{language}", sdkHandler.GenerateSDK)

		r.Group(func(r chi.Router) {
			r.Use(middleware.APIKeyAuth(db, limiter, authQuota, logger))
			r.Handle("/api-proxy/{apiID}/*", proxyHandler)
		})
	})

	srv := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      r,
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  cfg.IdleTimeout,
	}

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	select {
	case err := <-errCh:
		logger.Fatal().Err(err).Msg("server failed")
	case <-ctx.Done():
		logger.Info().Msg("shutting down")
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("server shutdown failed")
	}

	// Let in-flight analytics writes land before the stores close.
	recorder.Wait()
	logger.Info().Msg("stopped")
}

func newLogger(cfg *config.Config) zerolog.Logger {
	level, err := zerolog.ParseLevel(cfg.LogLevel)
	if err != nil {
		level = zerolog.InfoLevel
	}

	var out io.Writer = os.Stderr
	if !cfg.IsProduction() {
		out = zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339}
	}
	return zerolog.New(out).Level(level).With().Timestamp().Logger()
}
