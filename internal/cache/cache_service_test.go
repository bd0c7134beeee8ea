package cache

import (
	"context"
	"testing"
	"time"

	"trading-journal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func unreachable() *CacheService {
	client := redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		MaxRetries:  -1,
		DialTimeout: 50 * time.Millisecond,
	})
	return newWithClient(client, config.RedisConfig{Address: "127.0.0.1:1", PoolSize: 4}, zerolog.Nop())
}

func TestNewCacheService_Disabled(t *testing.T) {
	cs, err := NewCacheService(config.RedisConfig{Enabled: false}, zerolog.Nop())
	assert.Error(t, err)
	assert.Nil(t, cs)
}

func TestCircuitBreaker(t *testing.T) {
	cs := unreachable()
	defer cs.Close()
	ctx := context.Background()

	// Starts open until the first successful ping.
	_, err := cs.Get(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)

	cs.recordSuccess()
	require.True(t, cs.IsHealthy())

	for i := 0; i < 3; i++ {
		err := cs.Set(ctx, "k", "v", time.Minute)
		require.Error(t, err)
	}
	assert.False(t, cs.IsHealthy())
	assert.Equal(t, 3, cs.GetStats().FailureCount)

	err = cs.Delete(ctx, "k")
	assert.ErrorIs(t, err, ErrUnavailable)
}

func TestGetStats(t *testing.T) {
	cs := unreachable()
	defer cs.Close()

	stats := cs.GetStats()
	assert.False(t, stats.Healthy)
	assert.Equal(t, "127.0.0.1:1", stats.Address)
	assert.Equal(t, 4, stats.PoolSize)
}
