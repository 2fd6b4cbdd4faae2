package main

import (
	"context"
	"errors"
	"fmt"
	"math/rand/v2"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metacircle/backend/internal/adapters/cache"
	"github.com/metacircle/backend/internal/adapters/database"
	"github.com/metacircle/backend/internal/adapters/events"
	"github.com/metacircle/backend/internal/adapters/memory"
	"github.com/metacircle/backend/internal/adapters/ratelimit"
	"github.com/metacircle/backend/internal/api/handlers"
	"github.com/metacircle/backend/internal/api/middleware"
	"github.com/metacircle/backend/internal/api/routes"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	"github.com/metacircle/backend/internal/infrastructure/clients/redis"
	"github.com/metacircle/backend/internal/infrastructure/notifications"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	"github.com/metacircle/backend/pkg/config"
	"github.com/metacircle/backend/pkg/secrets"
)

func main() {
	if _, err := secrets.Apply(context.Background(), secrets.ConfigFromEnv(), log.Logger); err != nil {
		fmt.Fprintf(os.Stderr, "failed to load vault credentials: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	observability.InitLogger(cfg.OTEL.ServiceName, cfg.Log.Environment, cfg.Log.Level)
	logger := observability.Component("api")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize OpenTelemetry if enabled
	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName, cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				if err := shutdown(ctx); err != nil {
					logger.Error().Err(err).Msg("error shutting down OpenTelemetry")
				}
			}()
			logger.Info().Str("endpoint", cfg.OTEL.Endpoint).Msg("OpenTelemetry initialized")
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	// Redis is optional: without it the event bus and send log stay in-process
	var redisClient *redis.Client
	if cfg.Redis.Enabled {
		redisClient, err = redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Warn().Err(err).Msg("Redis unavailable, continuing without it")
			redisClient = nil
		} else {
			defer redisClient.Close()
		}
	}

	checks := map[string]handlers.HealthCheck{}

	var (
		appointmentRepo  repositories.AppointmentRepository
		availabilityRepo repositories.AvailabilityRepository
		subscriptionRepo repositories.SubscriptionRepository
		settingsRepo     repositories.SettingsRepository
		notificationRepo repositories.NotificationRepository
	)
	switch cfg.Server.StorageDriver {
	case "memory":
		store := memory.NewStore()
		appointmentRepo = store.Appointments()
		availabilityRepo = store.Availability()
		subscriptionRepo = store.Subscriptions()
		settingsRepo = store.Settings()
		notificationRepo = store.Notifications()
		logger.Warn().Msg("using in-memory storage; data is lost on restart")
	default:
		pgClient, err := postgres.NewClient(&cfg.Database, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
		}
		defer pgClient.Close()
		checks["postgres"] = pgClient.Ping

		appointmentRepo = database.NewAppointmentAdapter(pgClient)
		availabilityRepo = database.NewAvailabilityAdapter(pgClient)
		subscriptionRepo = database.NewSubscriptionAdapter(pgClient)
		settingsRepo = database.NewSettingsAdapter(pgClient)
		notificationRepo = database.NewNotificationAdapter(pgClient)
	}

	var eventBus providers.EventBus
	var sendLog providers.SendLogStore = ratelimit.NewMemorySendLog()
	if redisClient != nil {
		checks["redis"] = redisClient.Ping
		availabilityRepo = database.NewCachedAvailabilityAdapter(availabilityRepo, cache.NewRedisAdapter(redisClient), logger)
		eventBus = events.NewRedisEventBus(redisClient.Client(), logger)
		if cfg.RateLimit.SendLogBackend == "redis" {
			sendLog = ratelimit.NewRedisSendLog(redisClient.Client())
		}
	} else {
		eventBus = events.NewMemoryEventBus(logger)
		if cfg.RateLimit.SendLogBackend == "redis" {
			logger.Warn().Msg("RATE_SEND_LOG_BACKEND=redis but Redis is unavailable; using in-memory send log")
		}
	}

	loc, err := cfg.Scheduling.Location()
	if err != nil {
		logger.Fatal().Err(err).Msg("invalid scheduling timezone")
	}
	defaults := services.SchedulingDefaults{
		Location:        loc,
		SlotMinutes:     cfg.Scheduling.SlotMinutes,
		SenderAccountID: cfg.WhatsApp.DefaultAccountID,
	}

	availabilityService := services.NewAvailabilityService(availabilityRepo, appointmentRepo, settingsRepo, defaults, logger)
	notificationService := services.NewNotificationService(notificationRepo, settingsRepo, defaults, logger)
	appointmentService := services.NewAppointmentService(
		appointmentRepo,
		subscriptionRepo,
		availabilityService,
		notificationService,
		eventBus,
		metrics,
		logger,
	)
	policyService := services.NewPolicyService(settingsRepo, cfg.RateLimit)
	limiter := services.NewRateLimiterState(sendLog, policyService, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), logger)

	bridge, err := notifications.NewBridge(ctx, cfg.WhatsApp, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.WhatsApp.Provider).Msg("failed to initialize WhatsApp bridge")
	}
	defer bridge.Close()

	// A fresh session starts with a clean send history
	bridge.State.OnChange(func(accountID string, status entities.ConnectionStatus) {
		logger.Info().Str("account_id", accountID).Str("status", string(status)).Msg("sender connection changed")
		if status == entities.ConnectionStatusConnected || status == entities.ConnectionStatusLoggedOut {
			if err := limiter.Reset(context.Background(), accountID); err != nil {
				logger.Error().Err(err).Str("account_id", accountID).Msg("failed to reset limiter")
			}
		}
	})

	if cfg.Dispatcher.Enabled {
		dispatcher := services.NewDispatcher(
			notificationRepo,
			appointmentRepo,
			bridge.Sender,
			limiter,
			services.DispatcherConfig{
				Interval:    cfg.Dispatcher.Interval,
				BatchSize:   cfg.Dispatcher.BatchSize,
				MaxAttempts: cfg.Dispatcher.MaxAttempts,
				BackoffBase: cfg.Dispatcher.BackoffBase,
				BridgeRPS:   cfg.Dispatcher.BridgeRPS,
				BridgeBurst: cfg.Dispatcher.BridgeBurst,
				LeaseTTL:    cfg.Dispatcher.LeaseTTL,
			},
			metrics,
			logger,
		)
		go dispatcher.Run(ctx)
		logger.Info().Dur("interval", cfg.Dispatcher.Interval).Msg("notification dispatcher started")
	}

	var throttle *middleware.ThrottleStore
	if cfg.Throttle.RPS > 0 {
		throttle = middleware.NewThrottleStore(cfg.Throttle.RPS, cfg.Throttle.Burst)
		throttle.StartJanitor(ctx, time.Minute)
	}

	sseHandler := handlers.NewSSEHandler(eventBus, logger)
	health := handlers.NewHealthHandler(sseHandler)
	for name, check := range checks {
		health.AddCheck(name, check)
	}

	router := routes.NewRouter(
		handlers.NewAppointmentHandler(appointmentService, availabilityService, logger),
		handlers.NewAdminHandler(availabilityService, policyService, limiter, notificationService, bridge.State, logger),
		handlers.NewActivityHandler(notificationService, logger),
		sseHandler,
		health,
		throttle,
		cfg.Server.AllowedOrigins,
		metrics,
		log.Logger,
	)

	serverAddr := fmt.Sprintf("%s:%d", cfg.Server.Host, cfg.Server.Port)
	server := &http.Server{
		Addr:         serverAddr,
		Handler:      router.SetupRoutes(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 0, // calendar streams stay open
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		logger.Info().Str("addr", serverAddr).Str("storage", cfg.Server.StorageDriver).Msg("server starting")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal().Err(err).Msg("server failed to start")
		}
	}()

	<-ctx.Done()
	logger.Info().Msg("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error().Err(err).Msg("error during server shutdown")
	}
	if err := eventBus.Close(); err != nil {
		logger.Error().Err(err).Msg("error closing event bus")
	}

	logger.Info().Msg("server stopped")
}
