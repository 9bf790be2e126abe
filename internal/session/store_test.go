package session

import (
	"context"
	"testing"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tunematch/arena/internal/arena"
)

// newTestStore connects to a local Redis and removes test_* sessions before
// and after the test. Tests are skipped when Redis is not running.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, SessionPrefix+"test_*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewStore(client, "ws-test")
}

func TestCreateAndGet(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, store.Create(ctx, "test_create"))

	s, err := store.Get(ctx, "test_create")
	require.NoError(t, err)
	require.NotNil(t, s)
	assert.Equal(t, "test_create", s.ID)
	assert.Equal(t, string(arena.StateIdle), s.Status)
	assert.Equal(t, "ws-test", s.Server)
	assert.False(t, s.Exhausted)
	assert.NotZero(t, s.CreatedAt)

	ttl, err := store.Client().TTL(ctx, SessionPrefix+"test_create").Result()
	require.NoError(t, err)
	assert.Greater(t, ttl.Seconds(), 3500.0)
}

func TestGetMissing(t *testing.T) {
	store := newTestStore(t)

	s, err := store.Get(context.Background(), "test_missing")
	require.NoError(t, err)
	assert.Nil(t, s)
}

func TestSaveSnapshot(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "test_save"))

	require.NoError(t, store.Save(ctx, "test_save", arena.Snapshot{
		State:    arena.StateAwaitingPick,
		Pair:     &arena.Pair{Left: "person1", Right: "person4"},
		PoolSize: 6,
		Shown:    3,
		Round:    2,
	}))

	s, err := store.Get(ctx, "test_save")
	require.NoError(t, err)
	assert.Equal(t, "awaiting_pick", s.Status)
	assert.Equal(t, "person1", s.Left)
	assert.Equal(t, "person4", s.Right)
	assert.Equal(t, 6, s.PoolSize)
	assert.Equal(t, 2, s.Round)

	require.NoError(t, store.Save(ctx, "test_save", arena.Snapshot{
		State:     arena.StateExhausted,
		PoolSize:  1,
		Exhausted: true,
		Reason:    arena.ReasonTooFewCandidates,
	}))

	s, err = store.Get(ctx, "test_save")
	require.NoError(t, err)
	assert.True(t, s.Exhausted)
	assert.Empty(t, s.Left)
	assert.Equal(t, "too_few_candidates", s.Reason)
}

func TestDelete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	require.NoError(t, store.Create(ctx, "test_delete"))

	require.NoError(t, store.Delete(ctx, "test_delete"))
	s, err := store.Get(ctx, "test_delete")
	require.NoError(t, err)
	assert.Nil(t, s)
}
