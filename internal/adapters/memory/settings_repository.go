package memory

import (
	"context"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// SettingsRepository implements repositories.SettingsRepository
type SettingsRepository struct {
	store *Store
}

var _ repositories.SettingsRepository = (*SettingsRepository)(nil)

func (r *SettingsRepository) GetSchedulingSettings(ctx context.Context, communityID string) (*entities.SchedulingSettings, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	settings, ok := r.store.settings[communityID]
	if !ok {
		return nil, apperrors.NewNotFoundError("scheduling settings not found")
	}
	cp := *settings
	return &cp, nil
}

func (r *SettingsRepository) UpsertSchedulingSettings(ctx context.Context, settings *entities.SchedulingSettings) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cp := *settings
	r.store.settings[settings.CommunityID] = &cp
	return nil
}

func (r *SettingsRepository) GetSenderAccount(ctx context.Context, id string) (*entities.SenderAccount, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	account, ok := r.store.senders[id]
	if !ok {
		return nil, apperrors.NewNotFoundError("sender account not found")
	}
	cp := *account
	return &cp, nil
}

func (r *SettingsRepository) GetRateLimitPolicy(ctx context.Context, tier entities.AccountTier) (*entities.RateLimitPolicy, error) {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	policy, ok := r.store.policies[tier]
	if !ok {
		return nil, apperrors.NewNotFoundError("rate limit policy not found")
	}
	cp := *policy
	return &cp, nil
}

func (r *SettingsRepository) UpsertRateLimitPolicy(ctx context.Context, policy *entities.RateLimitPolicy) error {
	r.store.mu.Lock()
	defer r.store.mu.Unlock()

	cp := *policy
	r.store.policies[policy.Tier] = &cp
	return nil
}
