package session

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/tunematch/arena/internal/arena"
)

const (
	// SessionPrefix is the Redis key prefix for all session hashes.
	SessionPrefix = "session:"

	// SessionTTL is the time-to-live for session keys in Redis.
	SessionTTL = 1 * time.Hour
)

// Session is the stored view of a player's session.
type Session struct {
	ID         string `redis:"id"`
	Status     string `redis:"status"` // arena state name
	Left       string `redis:"left"`   // ids on screen, empty when no pair
	Right      string `redis:"right"`
	PoolSize   int    `redis:"pool_size"`
	Shown      int    `redis:"shown"`
	Round      int    `redis:"round"`
	Exhausted  bool   `redis:"exhausted"`
	Reason     string `redis:"reason"`
	Server     string `redis:"server"`      // which WS server instance
	CreatedAt  int64  `redis:"created_at"`  // unix timestamp
	LastActive int64  `redis:"last_active"` // unix timestamp
}

// Store manages session state in Redis.
type Store struct {
	client     *redis.Client
	serverName string // identifier for this WS server instance
}

// Connect opens a Redis client and verifies the connection.
func Connect(ctx context.Context, addr string) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{Addr: addr})

	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		client.Close()
		return nil, fmt.Errorf("session: redis connection failed: %w", err)
	}
	return client, nil
}

// NewStore creates a session store on an existing client.
func NewStore(client *redis.Client, serverName string) *Store {
	return &Store{client: client, serverName: serverName}
}

// Create stores a new idle session with a 1h TTL.
func (s *Store) Create(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	now := time.Now().Unix()

	session := map[string]interface{}{
		"id":          sessionID,
		"status":      string(arena.StateIdle),
		"left":        "",
		"right":       "",
		"pool_size":   0,
		"shown":       0,
		"round":       0,
		"exhausted":   false,
		"reason":      "",
		"server":      s.serverName,
		"created_at":  now,
		"last_active": now,
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key, session)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Save overwrites the stored session fields with snap and refreshes the TTL.
func (s *Store) Save(ctx context.Context, sessionID string, snap arena.Snapshot) error {
	key := SessionPrefix + sessionID

	var left, right string
	if snap.Pair != nil {
		left, right = snap.Pair.Left, snap.Pair.Right
	}

	pipe := s.client.Pipeline()
	pipe.HSet(ctx, key,
		"id", sessionID,
		"status", string(snap.State),
		"left", left,
		"right", right,
		"pool_size", snap.PoolSize,
		"shown", snap.Shown,
		"round", snap.Round,
		"exhausted", snap.Exhausted,
		"reason", string(snap.Reason),
		"server", s.serverName,
		"last_active", time.Now().Unix(),
	)
	pipe.Expire(ctx, key, SessionTTL)
	_, err := pipe.Exec(ctx)
	return err
}

// Get retrieves a session from Redis. Returns nil if not found.
func (s *Store) Get(ctx context.Context, sessionID string) (*Session, error) {
	key := SessionPrefix + sessionID
	var session Session
	err := s.client.HGetAll(ctx, key).Scan(&session)
	if err != nil {
		return nil, err
	}
	if session.ID == "" {
		return nil, nil // not found
	}
	return &session, nil
}

// Delete removes a session from Redis.
func (s *Store) Delete(ctx context.Context, sessionID string) error {
	key := SessionPrefix + sessionID
	return s.client.Del(ctx, key).Err()
}

// Client returns the underlying Redis client for use by other packages.
func (s *Store) Client() *redis.Client {
	return s.client
}
