package repositories

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
)

// SettingsRepository holds operator configuration: per-community scheduling
// settings, sender accounts and rate-limit policies.
type SettingsRepository interface {
	GetSchedulingSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error)
	UpsertSchedulingSettings(ctx context.Context, settings *entities.SchedulingSettings) error

	GetSenderAccount(ctx context.Context, id string) (*entities.SenderAccount, error)

	// GetRateLimitPolicy returns a not found error when the tier has no stored override
	GetRateLimitPolicy(ctx context.Context, tier entities.AccountTier) (*entities.RateLimitPolicy, error)
	UpsertRateLimitPolicy(ctx context.Context, policy *entities.RateLimitPolicy) error
}
