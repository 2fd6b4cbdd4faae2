package services

import (
	"context"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
)

// RandomSource draws the intelligent delay. *rand.Rand from math/rand/v2 satisfies it.
type RandomSource interface {
	Int64N(n int64) int64
}

// Decision is the outcome of a rate-limit check
type Decision struct {
	Allowed    bool
	RetryAfter time.Duration
	Reason     string
}

const (
	ReasonMinDelay   = "min_delay"
	ReasonHourlyCap  = "hourly_cap"
	ReasonDailyCap   = "daily_cap"
	ReasonCheckError = "check_error"
)

// RateLimiterState enforces per-account send caps. One instance is shared by
// every sender in the process; its history lives in the SendLogStore so a
// Redis-backed store extends the limits across instances. Callers that check
// and then send hold the account's Lease so no other instance can send in
// between.
type RateLimiterState struct {
	store    providers.SendLogStore
	policies providers.PolicySource
	now      func() time.Time
	random   RandomSource
	logger   zerolog.Logger

	// mu serialises check-and-record within this process
	mu sync.Mutex
}

// NewRateLimiterState creates the limiter
func NewRateLimiterState(store providers.SendLogStore, policies providers.PolicySource, random RandomSource, logger zerolog.Logger) *RateLimiterState {
	return &RateLimiterState{
		store:    store,
		policies: policies,
		now:      time.Now,
		random:   random,
		logger:   logger.With().Str("component", "rate_limiter").Logger(),
	}
}

// WithClock replaces the wall clock, for tests
func (r *RateLimiterState) WithClock(now func() time.Time) *RateLimiterState {
	r.now = now
	return r
}

// Check evaluates every rule and reports the longest wait among those that block.
func (r *RateLimiterState) Check(ctx context.Context, accountID string) (Decision, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.check(ctx, accountID, r.now())
}

func (r *RateLimiterState) check(ctx context.Context, accountID string, now time.Time) (Decision, error) {
	policy, err := r.policies.PolicyFor(ctx, accountID)
	if err != nil {
		return Decision{}, err
	}

	log, err := r.store.Load(ctx, accountID, now.Add(-24*time.Hour))
	if err != nil {
		return Decision{}, err
	}

	decision := Decision{Allowed: true}
	block := func(reason string, until time.Time) {
		wait := until.Sub(now)
		if wait <= 0 {
			wait = time.Second
		}
		if decision.Allowed || wait > decision.RetryAfter {
			decision.RetryAfter = wait
			decision.Reason = reason
		}
		decision.Allowed = false
	}

	if log.NextAllowedAt != nil && now.Before(*log.NextAllowedAt) {
		block(ReasonMinDelay, *log.NextAllowedAt)
	}

	if until, capped := windowRelease(log.Sends, now, time.Hour, policy.MaxPerHour); capped {
		block(ReasonHourlyCap, until)
	}
	if until, capped := windowRelease(log.Sends, now, 24*time.Hour, policy.MaxPerDay); capped {
		block(ReasonDailyCap, until)
	}

	return decision, nil
}

// windowRelease reports whether sends in the trailing window reached limit and,
// if so, when enough of them age out to allow one more. limit <= 0 is unlimited.
func windowRelease(sends []time.Time, now time.Time, window time.Duration, limit int) (time.Time, bool) {
	if limit <= 0 {
		return time.Time{}, false
	}
	cutoff := now.Add(-window)
	var recent []time.Time
	for _, at := range sends {
		if at.After(cutoff) {
			recent = append(recent, at)
		}
	}
	if len(recent) < limit {
		return time.Time{}, false
	}
	return recent[len(recent)-limit].Add(window), true
}

// CanSend reports whether the account may send right now. Errors deny.
func (r *RateLimiterState) CanSend(ctx context.Context, accountID string) bool {
	decision, err := r.Check(ctx, accountID)
	if err != nil {
		r.logger.Error().Err(err).Str("account_id", accountID).Msg("rate limit check failed, denying send")
		return false
	}
	return decision.Allowed
}

// RecordSend logs a send now and schedules the earliest next send
func (r *RateLimiterState) RecordSend(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	policy, err := r.policies.PolicyFor(ctx, accountID)
	if err != nil {
		return err
	}

	now := r.now()
	delay := r.nextDelay(policy)
	if err := r.store.Append(ctx, accountID, now, now.Add(delay)); err != nil {
		return err
	}

	r.logger.Debug().
		Str("account_id", accountID).
		Str("tier", string(policy.Tier)).
		Dur("next_delay", delay).
		Msg("send recorded")
	return nil
}

// nextDelay is MinDelay, or a uniform draw from [DelayMin, DelayMax] in intelligent mode
func (r *RateLimiterState) nextDelay(policy entities.RateLimitPolicy) time.Duration {
	if !policy.IntelligentDelay || r.random == nil {
		return policy.MinDelay
	}
	span := policy.DelayMax - policy.DelayMin
	if span <= 0 {
		return policy.DelayMin
	}
	return policy.DelayMin + time.Duration(r.random.Int64N(int64(span)+1))
}

// Reset clears the account's history. Called when a session reconnects.
func (r *RateLimiterState) Reset(ctx context.Context, accountID string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if err := r.store.Reset(ctx, accountID); err != nil {
		return err
	}
	r.logger.Info().Str("account_id", accountID).Msg("rate limiter state reset")
	return nil
}

// Lease grants exclusive check-and-send rights on the account's queue
// across every instance sharing the store. ok is false while another holder
// has it; release must be called when ok is true.
func (r *RateLimiterState) Lease(ctx context.Context, accountID string, ttl time.Duration) (release func(), ok bool, err error) {
	token, ok, err := r.store.AcquireLease(ctx, accountID, ttl)
	if err != nil || !ok {
		return func() {}, ok, err
	}
	return func() {
		// the caller's ctx may already be cancelled
		releaseCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := r.store.ReleaseLease(releaseCtx, accountID, token); err != nil {
			r.logger.Warn().Err(err).Str("account_id", accountID).Msg("failed to release send lease")
		}
	}, true, nil
}

// Stats summarises the account's current limiter state
func (r *RateLimiterState) Stats(ctx context.Context, accountID string) (*entities.SendStats, error) {
	policy, err := r.policies.PolicyFor(ctx, accountID)
	if err != nil {
		return nil, err
	}

	now := r.now()
	log, err := r.store.Load(ctx, accountID, now.Add(-24*time.Hour))
	if err != nil {
		return nil, err
	}

	stats := &entities.SendStats{
		AccountID:   accountID,
		Tier:        policy.Tier,
		SentLastDay: len(log.Sends),
		Policy:      policy,
	}
	hourAgo := now.Add(-time.Hour)
	for _, at := range log.Sends {
		if at.After(hourAgo) {
			stats.SentLastHour++
		}
	}
	if n := len(log.Sends); n > 0 {
		last := log.Sends[n-1]
		stats.LastSendAt = &last
	}
	if log.NextAllowedAt != nil && log.NextAllowedAt.After(now) {
		next := *log.NextAllowedAt
		stats.NextAllowedAt = &next
	}
	return stats, nil
}
