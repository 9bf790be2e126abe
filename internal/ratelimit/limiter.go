// Package ratelimit provides Redis-backed fixed-window rate limiting with
// INCR + EXPIRE. Each player action (pick, reset, connect) is throttled per
// session or per client address.
package ratelimit

import (
	"context"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Rule defines a rate limiting policy: the Redis key prefix, maximum number of
// requests allowed in the window, and the window duration.
type Rule struct {
	Name   string        // action label used in frames and metrics
	Key    string        // Redis key prefix (e.g., "rl:pick:")
	Limit  int           // max count in the window
	Window time.Duration // time window
}

var (
	// RulePick allows 10 picks per 10 seconds per session. A pick can only
	// land once per reveal+transition cycle, so honest clients stay far below.
	RulePick = Rule{Name: "pick", Key: "rl:pick:", Limit: 10, Window: 10 * time.Second}

	// RuleReset allows 5 resets per minute per session.
	RuleReset = Rule{Name: "reset", Key: "rl:reset:", Limit: 5, Window: 1 * time.Minute}

	// RuleConnect allows 20 WebSocket connections per minute per IP.
	RuleConnect = Rule{Name: "connect", Key: "rl:conn:", Limit: 20, Window: 1 * time.Minute}
)

// Limiter performs rate limiting checks against Redis.
type Limiter struct {
	client *redis.Client
	log    *zap.Logger
}

// NewLimiter creates a Limiter backed by the given Redis client.
func NewLimiter(client *redis.Client, log *zap.Logger) *Limiter {
	if log == nil {
		log = zap.NewNop()
	}
	return &Limiter{client: client, log: log.Named("ratelimit")}
}

// Allow checks whether identifier is within the limit defined by rule,
// incrementing its counter and setting the expiry on first access.
//
// On Redis errors the method fails open (returns true) so that a Redis outage
// does not block legitimate traffic; the error is still returned.
func (l *Limiter) Allow(ctx context.Context, identifier string, rule Rule) (bool, error) {
	key := rule.Key + identifier

	count, err := l.client.Incr(ctx, key).Result()
	if err != nil {
		l.log.Warn("redis INCR failed, failing open", zap.String("key", key), zap.Error(err))
		return true, err
	}

	if count == 1 {
		if err := l.client.Expire(ctx, key, rule.Window).Err(); err != nil {
			l.log.Warn("redis EXPIRE failed, failing open", zap.String("key", key), zap.Error(err))
			// Without a TTL the key would block the identifier forever.
			l.client.Del(ctx, key)
			return true, err
		}
	}

	if int(count) > rule.Limit {
		return false, nil
	}

	return true, nil
}

// Remaining returns the number of requests the identifier has left in the
// current window. Returns the full limit if the key does not exist yet or on
// Redis errors.
func (l *Limiter) Remaining(ctx context.Context, identifier string, rule Rule) (int, error) {
	key := rule.Key + identifier

	count, err := l.client.Get(ctx, key).Int()
	if errors.Is(err, redis.Nil) {
		return rule.Limit, nil
	}
	if err != nil {
		l.log.Warn("redis GET failed, failing open", zap.String("key", key), zap.Error(err))
		return rule.Limit, err
	}

	remaining := rule.Limit - count
	if remaining < 0 {
		remaining = 0
	}
	return remaining, nil
}

// RetryAfter returns the whole seconds until identifier's window resets,
// at least 1. It falls back to the full window when the TTL is unknown.
func (l *Limiter) RetryAfter(ctx context.Context, identifier string, rule Rule) int {
	ttl, err := l.client.TTL(ctx, rule.Key+identifier).Result()
	if err != nil || ttl <= 0 {
		return int(rule.Window / time.Second)
	}
	secs := int((ttl + time.Second - 1) / time.Second)
	if secs < 1 {
		secs = 1
	}
	return secs
}
