package services_test

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/adapters/memory"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/pkg/config"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

func rateDefaults() config.RateLimitConfig {
	return config.RateLimitConfig{
		New:           config.TierPolicy{MinDelay: time.Minute, MaxPerHour: 10, MaxPerDay: 50},
		Established:   config.TierPolicy{MinDelay: 20 * time.Second, MaxPerHour: 30, MaxPerDay: 300},
		NewAccountAge: 14 * 24 * time.Hour,
		DelayMin:      15 * time.Second,
		DelayMax:      45 * time.Second,
	}
}

func TestPolicyService_PolicyFor(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	store := memory.NewStore()
	store.PutSenderAccount(&entities.SenderAccount{ID: "fresh", RegisteredAt: now.Add(-24 * time.Hour)})
	store.PutSenderAccount(&entities.SenderAccount{ID: "veteran", RegisteredAt: now.Add(-90 * 24 * time.Hour)})

	svc := services.NewPolicyService(store.Settings(), rateDefaults()).WithClock(func() time.Time { return now })

	policy, err := svc.PolicyFor(ctx, "fresh")
	require.NoError(t, err)
	assert.Equal(t, entities.AccountTierNew, policy.Tier)
	assert.Equal(t, 10, policy.MaxPerHour)

	policy, err = svc.PolicyFor(ctx, "veteran")
	require.NoError(t, err)
	assert.Equal(t, entities.AccountTierEstablished, policy.Tier)
	assert.Equal(t, 30, policy.MaxPerHour)
	assert.Equal(t, 20*time.Second, policy.MinDelay)

	policy, err = svc.PolicyFor(ctx, "unknown")
	require.NoError(t, err)
	assert.Equal(t, entities.AccountTierNew, policy.Tier, "unregistered accounts get the cautious tier")
}

func TestPolicyService_StoredOverrideWins(t *testing.T) {
	ctx := context.Background()
	store := memory.NewStore()
	svc := services.NewPolicyService(store.Settings(), rateDefaults())

	override := &entities.RateLimitPolicy{
		Tier:             entities.AccountTierEstablished,
		MinDelay:         5 * time.Second,
		MaxPerHour:       60,
		MaxPerDay:        500,
		IntelligentDelay: true,
		DelayMin:         5 * time.Second,
		DelayMax:         10 * time.Second,
	}
	require.NoError(t, svc.UpdatePolicy(ctx, override))

	policy, err := svc.GetPolicy(ctx, entities.AccountTierEstablished)
	require.NoError(t, err)
	assert.Equal(t, *override, policy)

	policy, err = svc.GetPolicy(ctx, entities.AccountTierNew)
	require.NoError(t, err)
	assert.Equal(t, 10, policy.MaxPerHour)
}

func TestValidatePolicy(t *testing.T) {
	invalid := []entities.RateLimitPolicy{
		{Tier: "vip"},
		{Tier: entities.AccountTierNew, MaxPerHour: -1},
		{Tier: entities.AccountTierNew, MaxPerHour: 100, MaxPerDay: 10},
		{Tier: entities.AccountTierNew, IntelligentDelay: true, DelayMin: time.Minute, DelayMax: time.Second},
	}
	for _, p := range invalid {
		err := services.ValidatePolicy(&p)
		assert.True(t, apperrors.IsType(err, apperrors.ErrorTypeValidation), "%+v", p)
	}

	assert.NoError(t, services.ValidatePolicy(&entities.RateLimitPolicy{Tier: entities.AccountTierNew, MaxPerHour: 10}))
}
