package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metacircle/backend/internal/adapters/events"
	"github.com/metacircle/backend/internal/api/handlers"
	"github.com/metacircle/backend/internal/api/middleware"
	"github.com/metacircle/backend/internal/infrastructure/clients/redis"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	"github.com/metacircle/backend/pkg/config"
)

// The SSE server fans calendar events out to browsers. It shares nothing
// with the API except Redis pub/sub, so it can be scaled separately.
func main() {
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName+"-sse", cfg.Log.Environment, cfg.Log.Level)
	logger := observability.Component("sse")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Redis is required: events are published by the API process
	redisClient, err := redis.NewClient(&cfg.Redis, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize Redis client")
	}
	defer redisClient.Close()

	eventBus := events.NewRedisEventBus(redisClient.Client(), logger)
	sseHandler := handlers.NewSSEHandler(eventBus, logger)
	health := handlers.NewHealthHandler(sseHandler).AddCheck("redis", redisClient.Ping)

	mux := http.NewServeMux()
	mux.HandleFunc("GET /health", health.Health)
	mux.HandleFunc("GET /api/stream/communities/{id}/calendar", sseHandler.StreamCalendar)

	var handler http.Handler = mux
	handler = middleware.LoggingMiddleware(log.Logger)(handler)
	handler = middleware.CORSMiddleware(cfg.Server.AllowedOrigins)(handler)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 0,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Msg("SSE server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("SSE server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("SSE server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}
	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing event bus")
	}
	logger.Info().Msg("SSE server stopped")
}
