package ratelimit

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"

	"github.com/metacircle/backend/internal/domain/entities"
	"github.com/metacircle/backend/internal/domain/providers"
)

// RedisSendLog keeps send history in Redis so every API and dispatcher
// instance enforces the same caps. Each account has a sorted set of send
// timestamps (score = unix nanos) and a key holding next-allowed-at.
type RedisSendLog struct {
	rdb    *redis.Client
	prefix string
}

// RedisSendLogOption configures a RedisSendLog
type RedisSendLogOption func(*RedisSendLog)

// WithSendLogPrefix overrides the "ratelimit:sends" key prefix
func WithSendLogPrefix(prefix string) RedisSendLogOption {
	return func(s *RedisSendLog) { s.prefix = strings.Trim(prefix, ":") }
}

var _ providers.SendLogStore = (*RedisSendLog)(nil)

// NewRedisSendLog creates a Redis-backed send log
func NewRedisSendLog(rdb *redis.Client, opts ...RedisSendLogOption) *RedisSendLog {
	s := &RedisSendLog{rdb: rdb, prefix: "ratelimit:sends"}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// releaseLease deletes the lease key only while it still holds our token
var releaseLease = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
end
return 0
`)

func (s *RedisSendLog) leaseKey(accountID string) string {
	return s.prefix + ":" + accountID + ":lease"
}

func (s *RedisSendLog) sendsKey(accountID string) string {
	return s.prefix + ":" + accountID
}

func (s *RedisSendLog) nextKey(accountID string) string {
	return s.prefix + ":" + accountID + ":next"
}

// Append records the send, trims history past retention and pushes
// next-allowed-at forward, in one pipeline.
func (s *RedisSendLog) Append(ctx context.Context, accountID string, at, nextAllowedAt time.Time) error {
	sendsKey := s.sendsKey(accountID)
	nextKey := s.nextKey(accountID)
	score := float64(at.UnixNano())

	pipe := s.rdb.TxPipeline()
	pipe.ZAdd(ctx, sendsKey, redis.Z{
		Score:  score,
		Member: strconv.FormatInt(at.UnixNano(), 10),
	})
	pipe.ZRemRangeByScore(ctx, sendsKey, "-inf", "("+strconv.FormatInt(at.Add(-retention).UnixNano(), 10))
	pipe.Expire(ctx, sendsKey, retention+time.Hour)

	ttl := time.Until(nextAllowedAt)
	if ttl < time.Second {
		ttl = time.Second
	}
	pipe.Set(ctx, nextKey, nextAllowedAt.UnixNano(), ttl+time.Minute)

	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("failed to record send for %s: %w", accountID, err)
	}
	return nil
}

// Load returns sends at or after since, oldest first
func (s *RedisSendLog) Load(ctx context.Context, accountID string, since time.Time) (entities.SendLog, error) {
	var log entities.SendLog

	pipe := s.rdb.Pipeline()
	rangeCmd := pipe.ZRangeByScore(ctx, s.sendsKey(accountID), &redis.ZRangeBy{
		Min: strconv.FormatInt(since.UnixNano(), 10),
		Max: "+inf",
	})
	nextCmd := pipe.Get(ctx, s.nextKey(accountID))
	if _, err := pipe.Exec(ctx); err != nil && !errors.Is(err, redis.Nil) {
		return log, fmt.Errorf("failed to load send log for %s: %w", accountID, err)
	}

	members, err := rangeCmd.Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return log, err
	}
	for _, member := range members {
		nanos, err := strconv.ParseInt(member, 10, 64)
		if err != nil {
			continue
		}
		log.Sends = append(log.Sends, time.Unix(0, nanos))
	}

	nanos, err := nextCmd.Int64()
	switch {
	case err == nil:
		next := time.Unix(0, nanos)
		log.NextAllowedAt = &next
	case !errors.Is(err, redis.Nil):
		return log, err
	}

	return log, nil
}

// Reset forgets the account
func (s *RedisSendLog) Reset(ctx context.Context, accountID string) error {
	return s.rdb.Del(ctx, s.sendsKey(accountID), s.nextKey(accountID)).Err()
}

// AcquireLease takes the account's queue with SET NX PX, so only one
// dispatcher across all instances checks and sends for it at a time.
func (s *RedisSendLog) AcquireLease(ctx context.Context, accountID string, ttl time.Duration) (string, bool, error) {
	token := uuid.New().String()
	ok, err := s.rdb.SetNX(ctx, s.leaseKey(accountID), token, ttl).Result()
	if err != nil {
		return "", false, fmt.Errorf("failed to acquire send lease for %s: %w", accountID, err)
	}
	if !ok {
		return "", false, nil
	}
	return token, true, nil
}

// ReleaseLease drops the lease if token still holds it
func (s *RedisSendLog) ReleaseLease(ctx context.Context, accountID, token string) error {
	if err := releaseLease.Run(ctx, s.rdb, []string{s.leaseKey(accountID)}, token).Err(); err != nil && !errors.Is(err, redis.Nil) {
		return fmt.Errorf("failed to release send lease for %s: %w", accountID, err)
	}
	return nil
}
