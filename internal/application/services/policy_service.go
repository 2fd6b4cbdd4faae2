package services

import (
	"context"
	"fmt"
	"time"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/repositories"
	"github.com/metacircle/backend/pkg/config"
	apperrors "github.com/metacircle/backend/pkg/errors"
)

// PolicyService resolves rate-limit policies: stored overrides win over the
// env defaults, and the sender account's age picks the tier.
type PolicyService struct {
	repo     repositories.SettingsRepository
	defaults config.RateLimitConfig
	now      func() time.Time
}

// NewPolicyService creates a new policy service
func NewPolicyService(repo repositories.SettingsRepository, defaults config.RateLimitConfig) *PolicyService {
	return &PolicyService{repo: repo, defaults: defaults, now: time.Now}
}

// WithClock replaces the wall clock, for tests
func (s *PolicyService) WithClock(now func() time.Time) *PolicyService {
	s.now = now
	return s
}

// PolicyFor implements providers.PolicySource.
// Accounts missing from the store are treated as new.
func (s *PolicyService) PolicyFor(ctx context.Context, accountID string) (entities.RateLimitPolicy, error) {
	tier := entities.AccountTierNew

	account, err := s.repo.GetSenderAccount(ctx, accountID)
	switch {
	case err == nil:
		tier = account.Tier(s.now(), s.defaults.NewAccountAge)
	case apperrors.IsType(err, apperrors.ErrorTypeNotFound):
	default:
		return entities.RateLimitPolicy{}, fmt.Errorf("failed to load sender account: %w", err)
	}

	return s.GetPolicy(ctx, tier)
}

// GetPolicy returns the effective policy of a tier
func (s *PolicyService) GetPolicy(ctx context.Context, tier entities.AccountTier) (entities.RateLimitPolicy, error) {
	if !tier.Valid() {
		return entities.RateLimitPolicy{}, apperrors.NewValidationError(fmt.Sprintf("unknown tier %q", tier))
	}

	stored, err := s.repo.GetRateLimitPolicy(ctx, tier)
	if err == nil {
		return *stored, nil
	}
	if !apperrors.IsType(err, apperrors.ErrorTypeNotFound) {
		return entities.RateLimitPolicy{}, fmt.Errorf("failed to load rate limit policy: %w", err)
	}

	return s.defaultPolicy(tier), nil
}

func (s *PolicyService) defaultPolicy(tier entities.AccountTier) entities.RateLimitPolicy {
	base := s.defaults.Established
	if tier == entities.AccountTierNew {
		base = s.defaults.New
	}
	return entities.RateLimitPolicy{
		Tier:             tier,
		MinDelay:         base.MinDelay,
		MaxPerHour:       base.MaxPerHour,
		MaxPerDay:        base.MaxPerDay,
		IntelligentDelay: s.defaults.IntelligentDelay,
		DelayMin:         s.defaults.DelayMin,
		DelayMax:         s.defaults.DelayMax,
	}
}

// UpdatePolicy validates and stores a tier override
func (s *PolicyService) UpdatePolicy(ctx context.Context, policy *entities.RateLimitPolicy) error {
	if err := ValidatePolicy(policy); err != nil {
		return err
	}
	return s.repo.UpsertRateLimitPolicy(ctx, policy)
}

// ValidatePolicy rejects policies the limiter cannot honour
func ValidatePolicy(policy *entities.RateLimitPolicy) error {
	if !policy.Tier.Valid() {
		return apperrors.NewValidationError(fmt.Sprintf("unknown tier %q", policy.Tier))
	}
	if policy.MinDelay < 0 || policy.MaxPerHour < 0 || policy.MaxPerDay < 0 {
		return apperrors.NewValidationError("delays and caps must not be negative")
	}
	if policy.MaxPerHour > 0 && policy.MaxPerDay > 0 && policy.MaxPerHour > policy.MaxPerDay {
		return apperrors.NewValidationError("max_per_hour cannot exceed max_per_day")
	}
	if policy.IntelligentDelay && (policy.DelayMin < 0 || policy.DelayMin > policy.DelayMax) {
		return apperrors.NewValidationError("delay_min must be between 0 and delay_max")
	}
	return nil
}
