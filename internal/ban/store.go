// Package ban blocks client addresses that keep hammering the server after
// being rate limited. Records are plain Redis keys with TTL-based expiry:
//
//	Key:   ban:<addr>        Value: <reason>   TTL: ban duration
//	Key:   violations:<addr> Value: <count>    TTL: ViolationWindow
//	Key:   offenses:<addr>   Value: <count>    TTL: OffenseTTL
package ban

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

const (
	BanPrefix       = "ban:"
	ViolationPrefix = "violations:"
	OffensePrefix   = "offenses:"

	// Escalating ban durations.
	Ban15Min  = 15 * time.Minute // 1st offense
	Ban1Hour  = 1 * time.Hour    // 2nd offense
	Ban24Hour = 24 * time.Hour   // 3rd+ offense

	// ViolationWindow is how long rate-limit violations are counted before
	// the counter resets.
	ViolationWindow = 10 * time.Minute

	// ViolationThreshold is the number of violations within ViolationWindow
	// that triggers a ban.
	ViolationThreshold = 3

	// OffenseTTL is how long past bans count toward escalation.
	OffenseTTL = 24 * time.Hour
)

// Store manages ban records in Redis.
type Store struct {
	client *redis.Client
}

// NewStore creates a new ban store using the provided Redis client.
func NewStore(client *redis.Client) *Store {
	return &Store{client: client}
}

// IsBanned reports whether addr is banned, with the remaining seconds and
// reason. Redis errors are returned so callers can fail open.
func (s *Store) IsBanned(ctx context.Context, addr string) (bool, int, string, error) {
	key := BanPrefix + addr

	reason, err := s.client.Get(ctx, key).Result()
	if errors.Is(err, redis.Nil) {
		return false, 0, "", nil
	}
	if err != nil {
		return false, 0, "", err
	}

	ttl, err := s.client.TTL(ctx, key).Result()
	if err != nil {
		// The ban exists even if its TTL cannot be read.
		return true, 0, reason, nil
	}

	remaining := 0
	if ttl > 0 {
		remaining = int(ttl.Seconds())
	}
	return true, remaining, reason, nil
}

// Ban blocks addr for duration.
func (s *Store) Ban(ctx context.Context, addr string, duration time.Duration, reason string) error {
	return s.client.Set(ctx, BanPrefix+addr, reason, duration).Err()
}

// Unban lifts a ban immediately.
func (s *Store) Unban(ctx context.Context, addr string) error {
	return s.client.Del(ctx, BanPrefix+addr).Err()
}

// escalationDuration returns the ban duration for a given offense count.
func escalationDuration(offenseCount int) time.Duration {
	switch {
	case offenseCount <= 1:
		return Ban15Min
	case offenseCount == 2:
		return Ban1Hour
	default:
		return Ban24Hour
	}
}

// incrWithTTL increments key, setting ttl on the first increment only so the
// window does not slide.
func (s *Store) incrWithTTL(ctx context.Context, key string, ttl time.Duration) (int64, error) {
	count, err := s.client.Incr(ctx, key).Result()
	if err != nil {
		return 0, err
	}
	if count == 1 {
		if err := s.client.Expire(ctx, key, ttl).Err(); err != nil {
			return 0, err
		}
	}
	return count, nil
}

// Offenses returns how many bans addr received within OffenseTTL.
func (s *Store) Offenses(ctx context.Context, addr string) (int, error) {
	val, err := s.client.Get(ctx, OffensePrefix+addr).Int()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	return val, nil
}

// Escalate records an offense for addr and bans it for a duration that grows
// with the offense count:
//
//	1st offense  -> 15 minutes
//	2nd offense  -> 1 hour
//	3rd+ offense -> 24 hours
func (s *Store) Escalate(ctx context.Context, addr string, reason string) (time.Duration, error) {
	count, err := s.incrWithTTL(ctx, OffensePrefix+addr, OffenseTTL)
	if err != nil {
		return 0, fmt.Errorf("ban: escalate: %w", err)
	}

	duration := escalationDuration(int(count))
	if err := s.Ban(ctx, addr, duration, reason); err != nil {
		return 0, fmt.Errorf("ban: escalate ban: %w", err)
	}
	return duration, nil
}

// RecordViolation counts one rate-limit violation by addr. When the count
// reaches ViolationThreshold within ViolationWindow the address is banned via
// Escalate and the counter is cleared. Returns (banned, duration, error).
func (s *Store) RecordViolation(ctx context.Context, addr string, action string) (bool, time.Duration, error) {
	key := ViolationPrefix + addr

	count, err := s.incrWithTTL(ctx, key, ViolationWindow)
	if err != nil {
		return false, 0, fmt.Errorf("ban: violation: %w", err)
	}
	if count < ViolationThreshold {
		return false, 0, nil
	}

	duration, err := s.Escalate(ctx, addr, "rate_limit_"+action)
	if err != nil {
		return false, 0, err
	}
	s.client.Del(ctx, key)
	return true, duration, nil
}
