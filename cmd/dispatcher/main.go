package main

import (
	"context"
	"fmt"
	"math/rand/v2"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/metacircle/backend/internal/adapters/database"
	"github.com/metacircle/backend/internal/adapters/ratelimit"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/internal/infrastructure/clients/postgres"
	"github.com/metacircle/backend/internal/infrastructure/clients/redis"
	"github.com/metacircle/backend/internal/infrastructure/notifications"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	"github.com/metacircle/backend/pkg/config"
	"github.com/metacircle/backend/pkg/secrets"
)

// The standalone dispatcher drains the PostgreSQL outbox. Run it instead of
// the in-process dispatcher (DISPATCHER_ENABLED=false on the API) when the
// WhatsApp session should live in its own process.
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

	observability.InitLogger(cfg.OTEL.ServiceName+"-dispatcher", cfg.Log.Environment, cfg.Log.Level)
	logger := observability.Component("dispatcher")

	if cfg.Server.StorageDriver != "postgres" {
		logger.Fatal().Str("storage", cfg.Server.StorageDriver).Msg("standalone dispatcher requires STORAGE_DRIVER=postgres")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if cfg.OTEL.Enabled && cfg.OTEL.Endpoint != "" {
		shutdown, err := observability.Setup(ctx, cfg.OTEL.ServiceName+"-dispatcher", cfg.OTEL.ServiceVersion, cfg.OTEL.Endpoint)
		if err != nil {
			logger.Warn().Err(err).Msg("failed to set up OpenTelemetry")
		} else {
			defer func() {
				ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = shutdown(ctx)
			}()
		}
	}

	metrics, err := observability.InitMetrics()
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize metrics")
	}

	pgClient, err := postgres.NewClient(&cfg.Database, logger)
	if err != nil {
		logger.Fatal().Err(err).Msg("failed to initialize PostgreSQL client")
	}
	defer pgClient.Close()

	var sendLog providers.SendLogStore = ratelimit.NewMemorySendLog()
	if cfg.Redis.Enabled && cfg.RateLimit.SendLogBackend == "redis" {
		redisClient, err := redis.NewClient(&cfg.Redis, logger)
		if err != nil {
			logger.Fatal().Err(err).Msg("RATE_SEND_LOG_BACKEND=redis but Redis is unavailable")
		}
		defer redisClient.Close()
		sendLog = ratelimit.NewRedisSendLog(redisClient.Client())
	} else {
		logger.Warn().Msg("in-memory send log: caps and account leases are not shared, run no other dispatcher (DISPATCHER_ENABLED=false on the API)")
	}

	settingsRepo := database.NewSettingsAdapter(pgClient)
	policyService := services.NewPolicyService(settingsRepo, cfg.RateLimit)
	limiter := services.NewRateLimiterState(sendLog, policyService, rand.New(rand.NewPCG(uint64(time.Now().UnixNano()), 0)), logger)

	bridge, err := notifications.NewBridge(ctx, cfg.WhatsApp, logger)
	if err != nil {
		logger.Fatal().Err(err).Str("provider", cfg.WhatsApp.Provider).Msg("failed to initialize WhatsApp bridge")
	}
	defer bridge.Close()

	bridge.State.OnChange(func(accountID string, status entities.ConnectionStatus) {
		logger.Info().Str("account_id", accountID).Str("status", string(status)).Msg("sender connection changed")
		if status == entities.ConnectionStatusConnected || status == entities.ConnectionStatusLoggedOut {
			if err := limiter.Reset(context.Background(), accountID); err != nil {
				logger.Error().Err(err).Str("account_id", accountID).Msg("failed to reset limiter")
			}
		}
	})

	dispatcher := services.NewDispatcher(
		database.NewNotificationAdapter(pgClient),
		database.NewAppointmentAdapter(pgClient),
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

	logger.Info().
		Str("provider", cfg.WhatsApp.Provider).
		Dur("interval", cfg.Dispatcher.Interval).
		Msg("dispatcher started")
	dispatcher.Run(ctx)
	logger.Info().Msg("dispatcher stopped")
}
