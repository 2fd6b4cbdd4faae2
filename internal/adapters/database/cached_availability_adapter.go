package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
	"github.com/metacircle/backend/internal/domain/repositories"
)

// Cache TTLs
const (
	windowsTTL = 5 * time.Minute
	blockedTTL = 2 * time.Minute
)

func windowsCacheKey(communityID string) string {
	return fmt.Sprintf("availability:windows:%s", communityID)
}

func blockedCacheKey(communityID, date string) string {
	return fmt.Sprintf("availability:blocked:%s:%s", communityID, date)
}

// CachedAvailabilityAdapter wraps an AvailabilityRepository with read-through
// caching of the weekly windows and blocked-day lookups that every slot
// listing performs. Writes go to the wrapped repository first, then evict.
type CachedAvailabilityAdapter struct {
	adapter repositories.AvailabilityRepository
	cache   providers.CacheProvider
	logger  zerolog.Logger
}

// NewCachedAvailabilityAdapter creates a new cached availability adapter
func NewCachedAvailabilityAdapter(adapter repositories.AvailabilityRepository, cache providers.CacheProvider, logger zerolog.Logger) repositories.AvailabilityRepository {
	return &CachedAvailabilityAdapter{
		adapter: adapter,
		cache:   cache,
		logger:  logger.With().Str("component", "availability_cache").Logger(),
	}
}

func (a *CachedAvailabilityAdapter) ListWindows(ctx context.Context, communityID string) ([]entities.AvailabilityWindow, error) {
	key := windowsCacheKey(communityID)

	if cached, err := a.cache.Get(ctx, key); err == nil {
		var windows []entities.AvailabilityWindow
		if err := json.Unmarshal(cached, &windows); err == nil {
			return windows, nil
		}
		a.logger.Warn().Err(err).Str("community_id", communityID).Msg("Discarding unreadable cached windows")
	}

	windows, err := a.adapter.ListWindows(ctx, communityID)
	if err != nil {
		return nil, err
	}

	if data, err := json.Marshal(windows); err == nil {
		if err := a.cache.Set(ctx, key, data, windowsTTL); err != nil {
			a.logger.Warn().Err(err).Str("community_id", communityID).Msg("Failed to cache windows")
		}
	}
	return windows, nil
}

func (a *CachedAvailabilityAdapter) ReplaceWindows(ctx context.Context, communityID string, windows []entities.AvailabilityWindow) error {
	if err := a.adapter.ReplaceWindows(ctx, communityID, windows); err != nil {
		return err
	}
	a.evict(ctx, windowsCacheKey(communityID))
	return nil
}

// ListBlockedDates is an admin read and is not cached
func (a *CachedAvailabilityAdapter) ListBlockedDates(ctx context.Context, communityID, from, to string) ([]entities.BlockedDate, error) {
	return a.adapter.ListBlockedDates(ctx, communityID, from, to)
}

func (a *CachedAvailabilityAdapter) IsBlocked(ctx context.Context, communityID, date string) (bool, error) {
	key := blockedCacheKey(communityID, date)

	if cached, err := a.cache.Get(ctx, key); err == nil && len(cached) == 1 {
		return cached[0] == '1', nil
	}

	blocked, err := a.adapter.IsBlocked(ctx, communityID, date)
	if err != nil {
		return false, err
	}

	value := []byte{'0'}
	if blocked {
		value[0] = '1'
	}
	if err := a.cache.Set(ctx, key, value, blockedTTL); err != nil {
		a.logger.Warn().Err(err).Str("community_id", communityID).Str("date", date).Msg("Failed to cache blocked flag")
	}
	return blocked, nil
}

func (a *CachedAvailabilityAdapter) AddBlockedDate(ctx context.Context, blocked *entities.BlockedDate) error {
	if err := a.adapter.AddBlockedDate(ctx, blocked); err != nil {
		return err
	}
	a.evict(ctx, blockedCacheKey(blocked.CommunityID, blocked.Date))
	return nil
}

func (a *CachedAvailabilityAdapter) RemoveBlockedDate(ctx context.Context, communityID, date string) error {
	if err := a.adapter.RemoveBlockedDate(ctx, communityID, date); err != nil {
		return err
	}
	a.evict(ctx, blockedCacheKey(communityID, date))
	return nil
}

func (a *CachedAvailabilityAdapter) evict(ctx context.Context, keys ...string) {
	if err := a.cache.Delete(ctx, keys...); err != nil {
		a.logger.Error().Err(err).Strs("keys", keys).Msg("Failed to evict availability cache")
	}
}
