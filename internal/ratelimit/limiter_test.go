package ratelimit

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestLimiter(t *testing.T) *Limiter {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: "localhost:6379"})
	ctx := context.Background()
	if err := client.Ping(ctx).Err(); err != nil {
		t.Skipf("redis not available: %v", err)
	}
	clean := func() {
		iter := client.Scan(ctx, 0, "rl:test:*", 100).Iterator()
		for iter.Next(ctx) {
			client.Del(ctx, iter.Val())
		}
	}
	clean()
	t.Cleanup(func() {
		clean()
		client.Close()
	})
	return NewLimiter(client, nil)
}

func TestAllow_BlocksAfterLimit(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 3, Window: time.Minute}

	for i := 0; i < 3; i++ {
		ok, err := l.Allow(ctx, "block", rule)
		require.NoError(t, err)
		assert.True(t, ok, "request %d should pass", i+1)
	}

	ok, err := l.Allow(ctx, "block", rule)
	require.NoError(t, err)
	assert.False(t, ok)

	remaining, err := l.Remaining(ctx, "block", rule)
	require.NoError(t, err)
	assert.Equal(t, 0, remaining)

	retry := l.RetryAfter(ctx, "block", rule)
	assert.GreaterOrEqual(t, retry, 1)
	assert.LessOrEqual(t, retry, 60)
}

func TestAllow_IdentifiersAreIndependent(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 1, Window: time.Minute}

	ok, _ := l.Allow(ctx, "one", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "two", rule)
	assert.True(t, ok)
	ok, _ = l.Allow(ctx, "one", rule)
	assert.False(t, ok)
}

func TestAllow_WindowExpires(t *testing.T) {
	l := newTestLimiter(t)
	ctx := context.Background()
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 1, Window: time.Second}

	ok, _ := l.Allow(ctx, "expire", rule)
	require.True(t, ok)
	ok, _ = l.Allow(ctx, "expire", rule)
	require.False(t, ok)

	time.Sleep(1100 * time.Millisecond)
	ok, _ = l.Allow(ctx, "expire", rule)
	assert.True(t, ok)
}

func TestRemaining_UnknownKey(t *testing.T) {
	l := newTestLimiter(t)
	rule := Rule{Name: "test", Key: "rl:test:", Limit: 4, Window: time.Minute}

	remaining, err := l.Remaining(context.Background(), "fresh", rule)
	require.NoError(t, err)
	assert.Equal(t, 4, remaining)
}

func TestAllow_FailsOpenWhenRedisIsDown(t *testing.T) {
	client := redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", DialTimeout: 50 * time.Millisecond})
	defer client.Close()
	l := NewLimiter(client, nil)

	ok, err := l.Allow(context.Background(), "x", RulePick)
	assert.True(t, ok)
	assert.Error(t, err)
	assert.Equal(t, 10, l.RetryAfter(context.Background(), "x", RulePick))
}

func TestDefaultRules(t *testing.T) {
	assert.Equal(t, 10, RulePick.Limit)
	assert.Equal(t, 10*time.Second, RulePick.Window)
	assert.Equal(t, 5, RuleReset.Limit)
	assert.Equal(t, 20, RuleConnect.Limit)
}
