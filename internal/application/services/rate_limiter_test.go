package services_test

import (
	"context"
	"errors"
	"math/rand/v2"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/metacircle/backend/internal/adapters/ratelimit"
	"github.com/metacircle/backend/internal/application/services"
	"github.com/metacircle/backend/internal/domain/entities"
)

func newLimiter(policy entities.RateLimitPolicy, clock *fakeClock, random services.RandomSource) *services.RateLimiterState {
	return services.NewRateLimiterState(ratelimit.NewMemorySendLog(), &staticPolicy{policy: policy}, random, zerolog.Nop()).
		WithClock(clock.Now)
}

func TestRateLimiter_MinDelay(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	limiter := newLimiter(entities.RateLimitPolicy{MinDelay: 20 * time.Second, MaxPerHour: 30, MaxPerDay: 300}, clock, nil)

	assert.True(t, limiter.CanSend(ctx, "acct"))
	require.NoError(t, limiter.RecordSend(ctx, "acct"))

	assert.False(t, limiter.CanSend(ctx, "acct"), "send right after a send must wait for the minimum delay")

	decision, err := limiter.Check(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, services.ReasonMinDelay, decision.Reason)
	assert.Equal(t, 20*time.Second, decision.RetryAfter)

	clock.Advance(19 * time.Second)
	assert.False(t, limiter.CanSend(ctx, "acct"))

	clock.Advance(time.Second)
	assert.True(t, limiter.CanSend(ctx, "acct"))
}

func TestRateLimiter_HourlyCap(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	limiter := newLimiter(entities.RateLimitPolicy{MaxPerHour: 30, MaxPerDay: 300}, clock, nil)

	for i := 0; i < 30; i++ {
		require.True(t, limiter.CanSend(ctx, "acct"), "send %d", i)
		require.NoError(t, limiter.RecordSend(ctx, "acct"))
		clock.Advance(time.Minute)
	}

	// 30 sends between 10:00 and 10:29, now 10:30
	decision, err := limiter.Check(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, services.ReasonHourlyCap, decision.Reason)
	assert.Equal(t, 30*time.Minute, decision.RetryAfter)

	clock.Set(start.Add(time.Hour - time.Second))
	assert.False(t, limiter.CanSend(ctx, "acct"))

	// the 10:00 send leaves the trailing hour
	clock.Set(start.Add(time.Hour))
	assert.True(t, limiter.CanSend(ctx, "acct"))
}

func TestRateLimiter_DailyCap(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	limiter := newLimiter(entities.RateLimitPolicy{MaxPerHour: 0, MaxPerDay: 5}, clock, nil)

	for i := 0; i < 5; i++ {
		require.NoError(t, limiter.RecordSend(ctx, "acct"))
		clock.Advance(2 * time.Hour)
	}

	decision, err := limiter.Check(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, services.ReasonDailyCap, decision.Reason)
	assert.Equal(t, 14*time.Hour, decision.RetryAfter)

	clock.Set(start.Add(24 * time.Hour))
	assert.True(t, limiter.CanSend(ctx, "acct"))
}

func TestRateLimiter_ZeroCapsAreUnlimited(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	limiter := newLimiter(entities.RateLimitPolicy{}, clock, nil)

	for i := 0; i < 100; i++ {
		require.True(t, limiter.CanSend(ctx, "acct"))
		require.NoError(t, limiter.RecordSend(ctx, "acct"))
	}
}

func TestRateLimiter_ReportsLongestWait(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	limiter := newLimiter(entities.RateLimitPolicy{MinDelay: time.Minute, MaxPerHour: 1}, clock, nil)

	require.NoError(t, limiter.RecordSend(ctx, "acct"))
	clock.Advance(10 * time.Second)

	decision, err := limiter.Check(ctx, "acct")
	require.NoError(t, err)
	assert.False(t, decision.Allowed)
	assert.Equal(t, services.ReasonHourlyCap, decision.Reason)
	assert.Equal(t, time.Hour-10*time.Second, decision.RetryAfter)
}

func TestRateLimiter_IntelligentDelayWithinBand(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	policy := entities.RateLimitPolicy{
		MinDelay:         time.Hour,
		IntelligentDelay: true,
		DelayMin:         15 * time.Second,
		DelayMax:         45 * time.Second,
	}
	limiter := newLimiter(policy, clock, rand.New(rand.NewPCG(42, 7)))

	seen := make(map[time.Duration]bool)
	for i := 0; i < 200; i++ {
		require.NoError(t, limiter.RecordSend(ctx, "acct"))
		stats, err := limiter.Stats(ctx, "acct")
		require.NoError(t, err)
		require.NotNil(t, stats.NextAllowedAt)

		delay := stats.NextAllowedAt.Sub(clock.Now())
		assert.GreaterOrEqual(t, delay, policy.DelayMin)
		assert.LessOrEqual(t, delay, policy.DelayMax)
		seen[delay] = true

		clock.Advance(delay)
	}
	assert.Greater(t, len(seen), 1, "delays should vary")
}

func TestRateLimiter_Reset(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	limiter := newLimiter(entities.RateLimitPolicy{MinDelay: time.Hour}, clock, nil)

	require.NoError(t, limiter.RecordSend(ctx, "acct"))
	require.False(t, limiter.CanSend(ctx, "acct"))

	require.NoError(t, limiter.Reset(ctx, "acct"))
	assert.True(t, limiter.CanSend(ctx, "acct"))
}

func TestRateLimiter_AccountsAreIndependent(t *testing.T) {
	ctx := context.Background()
	clock := newFakeClock(time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC))
	limiter := newLimiter(entities.RateLimitPolicy{MinDelay: time.Minute}, clock, nil)

	require.NoError(t, limiter.RecordSend(ctx, "a"))
	assert.False(t, limiter.CanSend(ctx, "a"))
	assert.True(t, limiter.CanSend(ctx, "b"))
}

func TestRateLimiter_FailsClosed(t *testing.T) {
	limiter := services.NewRateLimiterState(ratelimit.NewMemorySendLog(),
		&staticPolicy{err: errors.New("db down")}, nil, zerolog.Nop())

	assert.False(t, limiter.CanSend(context.Background(), "acct"))
}

func TestRateLimiter_Stats(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	clock := newFakeClock(start)
	limiter := newLimiter(entities.RateLimitPolicy{Tier: entities.AccountTierEstablished, MinDelay: 20 * time.Second}, clock, nil)

	require.NoError(t, limiter.RecordSend(ctx, "acct"))
	clock.Advance(2 * time.Hour)
	require.NoError(t, limiter.RecordSend(ctx, "acct"))
	clock.Advance(5 * time.Second)

	stats, err := limiter.Stats(ctx, "acct")
	require.NoError(t, err)
	assert.Equal(t, entities.AccountTierEstablished, stats.Tier)
	assert.Equal(t, 1, stats.SentLastHour)
	assert.Equal(t, 2, stats.SentLastDay)
	require.NotNil(t, stats.LastSendAt)
	assert.True(t, stats.LastSendAt.Equal(start.Add(2*time.Hour)))
	require.NotNil(t, stats.NextAllowedAt)
	assert.True(t, stats.NextAllowedAt.Equal(start.Add(2*time.Hour+20*time.Second)))
}

func TestRateLimiter_LeaseIsExclusiveAcrossLimiters(t *testing.T) {
	ctx := context.Background()
	shared := ratelimit.NewMemorySendLog()
	policy := &staticPolicy{}
	first := services.NewRateLimiterState(shared, policy, nil, zerolog.Nop())
	second := services.NewRateLimiterState(shared, policy, nil, zerolog.Nop())

	release, ok, err := first.Lease(ctx, "acct", time.Minute)
	require.NoError(t, err)
	require.True(t, ok)

	_, ok, err = second.Lease(ctx, "acct", time.Minute)
	require.NoError(t, err)
	assert.False(t, ok)

	release()
	releaseSecond, ok, err := second.Lease(ctx, "acct", time.Minute)
	require.NoError(t, err)
	assert.True(t, ok)
	releaseSecond()
}
