package services

import (
	"context"
	"time"

	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"golang.org/x/time/rate"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/internal/infrastructure/observability"
	apperrors "github.com/metacircle/backend/pkg/errors"
	"github.com/metacircle/backend/pkg/retry"
)

// DispatcherConfig tunes queue draining
type DispatcherConfig struct {
	Interval    time.Duration
	BatchSize   int
	MaxAttempts int
	BackoffBase time.Duration
	// BridgeRPS caps bridge calls per second across all accounts; <= 0 disables it
	BridgeRPS   float64
	BridgeBurst int
	// LeaseTTL bounds how long one dispatcher may hold an account's queue
	LeaseTTL time.Duration
}

// DrainResult counts what one drain pass did
type DrainResult struct {
	Sent     int
	Deferred int
	Retried  int
	Failed   int
	// Busy counts accounts skipped because another dispatcher held them
	Busy int
}

// Dispatcher sends queued notifications, one account at a time and one
// message at a time per account, asking the RateLimiterState before each send.
// Throttled messages are deferred, never dropped.
type Dispatcher struct {
	queue        repositories.NotificationRepository
	appointments repositories.AppointmentRepository
	sender       providers.MessageSender
	limiter      *RateLimiterState
	bridge       *rate.Limiter
	cfg          DispatcherConfig
	backoff      retry.Config
	metrics      *observability.Metrics
	now          func() time.Time
	logger       zerolog.Logger
}

// NewDispatcher creates a dispatcher. metrics may be nil.
func NewDispatcher(
	queue repositories.NotificationRepository,
	appointments repositories.AppointmentRepository,
	sender providers.MessageSender,
	limiter *RateLimiterState,
	cfg DispatcherConfig,
	metrics *observability.Metrics,
	logger zerolog.Logger,
) *Dispatcher {
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 5
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = 30 * time.Second
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.LeaseTTL <= 0 {
		cfg.LeaseTTL = 2 * time.Minute
	}

	bridge := rate.NewLimiter(rate.Inf, 1)
	if cfg.BridgeRPS > 0 {
		burst := cfg.BridgeBurst
		if burst <= 0 {
			burst = 1
		}
		bridge = rate.NewLimiter(rate.Limit(cfg.BridgeRPS), burst)
	}

	return &Dispatcher{
		queue:        queue,
		appointments: appointments,
		sender:       sender,
		limiter:      limiter,
		bridge:       bridge,
		cfg:          cfg,
		backoff: retry.Config{
			MaxAttempts:   cfg.MaxAttempts,
			InitialDelay:  cfg.BackoffBase,
			MaxDelay:      time.Hour,
			BackoffFactor: 2,
		},
		metrics: metrics,
		now:     time.Now,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
	}
}

// WithClock replaces the wall clock, for tests
func (d *Dispatcher) WithClock(now func() time.Time) *Dispatcher {
	d.now = now
	return d
}

// Run drains the queue every Interval until ctx is cancelled
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.cfg.Interval)
	defer ticker.Stop()

	d.logger.Info().Dur("interval", d.cfg.Interval).Msg("notification dispatcher started")
	for {
		d.drainLogged(ctx)
		select {
		case <-ctx.Done():
			d.logger.Info().Msg("notification dispatcher stopped")
			return
		case <-ticker.C:
		}
	}
}

func (d *Dispatcher) drainLogged(ctx context.Context) {
	result, err := d.DrainOnce(ctx)
	if err != nil && ctx.Err() == nil {
		d.logger.Error().Err(err).Msg("queue drain failed")
		return
	}
	if result.Sent+result.Deferred+result.Retried+result.Failed > 0 {
		d.logger.Info().
			Int("sent", result.Sent).
			Int("deferred", result.Deferred).
			Int("retried", result.Retried).
			Int("failed", result.Failed).
			Int("busy", result.Busy).
			Msg("queue drained")
	}
}

// DrainOnce makes one pass over every account with due messages
func (d *Dispatcher) DrainOnce(ctx context.Context) (DrainResult, error) {
	var result DrainResult

	accounts, err := d.queue.DueAccounts(ctx, d.now())
	if err != nil {
		return result, err
	}

	for _, accountID := range accounts {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		if err := d.drainAccount(ctx, accountID, &result); err != nil {
			d.logger.Error().Err(err).Str("account_id", accountID).Msg("account drain stopped")
		}
	}
	return result, nil
}

func (d *Dispatcher) drainAccount(ctx context.Context, accountID string, result *DrainResult) error {
	logger := d.logger.With().Str("account_id", accountID).Logger()

	release, ok, err := d.limiter.Lease(ctx, accountID, d.cfg.LeaseTTL)
	if err != nil {
		return err
	}
	if !ok {
		result.Busy++
		logger.Debug().Msg("account queue held by another dispatcher")
		return nil
	}
	defer release()

	for i := 0; i < d.cfg.BatchSize; i++ {
		decision, err := d.limiter.Check(ctx, accountID)
		if err != nil {
			return err
		}
		if !decision.Allowed {
			until := d.now().Add(decision.RetryAfter)
			n, err := d.queue.Defer(ctx, accountID, until)
			if err != nil {
				return err
			}
			result.Deferred += int(n)
			observability.Count(ctx, d.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.NotificationsDeferred },
				attribute.String("reason", decision.Reason))
			logger.Debug().
				Str("reason", decision.Reason).
				Dur("retry_after", decision.RetryAfter).
				Int64("messages", n).
				Msg("rate limited, deferring queue")
			return nil
		}

		msg, err := d.queue.ClaimNext(ctx, accountID, d.now())
		if err != nil {
			return err
		}
		if msg == nil {
			return nil
		}

		if err := d.bridge.Wait(ctx); err != nil {
			return err
		}

		stop, err := d.deliver(ctx, msg, result, logger)
		if err != nil {
			return err
		}
		if stop {
			return nil
		}
	}
	return nil
}

// deliver sends one claimed message. stop reports that the account's bridge
// is unreachable and the rest of its queue should wait for the next pass.
func (d *Dispatcher) deliver(ctx context.Context, msg *entities.OutboundNotification, result *DrainResult, logger zerolog.Logger) (stop bool, err error) {
	messageID, sendErr := d.sender.SendMessage(ctx, msg.Recipient, msg.Body)
	if sendErr != nil {
		return d.handleFailure(ctx, msg, sendErr, result, logger)
	}

	// Count the send before anything else can fail, so caps stay honest.
	if err := d.limiter.RecordSend(ctx, msg.AccountID); err != nil {
		logger.Error().Err(err).Str("notification_id", msg.ID).Msg("failed to record send")
	}
	if err := d.queue.MarkSent(ctx, msg.ID, messageID, d.now()); err != nil {
		return false, err
	}
	if msg.AppointmentID != nil && msg.Kind == entities.NotificationAppointmentScheduled {
		if err := d.appointments.MarkWhatsAppSent(ctx, *msg.AppointmentID); err != nil {
			logger.Warn().Err(err).Str("appointment_id", *msg.AppointmentID).Msg("failed to flag appointment notification")
		}
	}

	result.Sent++
	observability.Count(ctx, d.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.NotificationsSent },
		attribute.String("kind", string(msg.Kind)))
	logger.Info().
		Str("notification_id", msg.ID).
		Str("kind", string(msg.Kind)).
		Str("message_id", messageID).
		Msg("notification sent")
	return false, nil
}

func (d *Dispatcher) handleFailure(ctx context.Context, msg *entities.OutboundNotification, sendErr error, result *DrainResult, logger zerolog.Logger) (bool, error) {
	attempts := msg.Attempts + 1
	reason := sendErr.Error()
	connection := apperrors.IsType(sendErr, apperrors.ErrorTypeConnection)

	observability.Count(ctx, d.metrics, func(m *observability.Metrics) metric.Int64Counter { return m.NotificationsFailed },
		attribute.String("kind", string(msg.Kind)),
		attribute.Bool("connection", connection))

	if attempts >= d.cfg.MaxAttempts {
		result.Failed++
		logger.Error().
			Err(sendErr).
			Str("notification_id", msg.ID).
			Int("attempts", attempts).
			Msg("notification failed permanently")
		return connection, d.queue.MarkFailed(ctx, msg.ID, reason)
	}

	next := d.now().Add(retry.Backoff(d.backoff, attempts))
	result.Retried++
	logger.Warn().
		Err(sendErr).
		Str("notification_id", msg.ID).
		Int("attempts", attempts).
		Time("next_attempt_at", next).
		Msg("notification send failed, will retry")
	return connection, d.queue.MarkRetry(ctx, msg.ID, reason, next)
}
