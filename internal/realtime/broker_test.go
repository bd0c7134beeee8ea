package realtime

import (
	"context"
	"os"
	"testing"
	"time"

	"trading-journal/internal/discipline"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func record(used int) discipline.DayRecord {
	return discipline.DayRecord{UserID: "u1", Date: "2026-10-15", MaxTrades: 5, UsedTrades: used, Status: discipline.StatusOpen}
}

func receive(t *testing.T, ch <-chan discipline.DayRecord) discipline.DayRecord {
	t.Helper()
	select {
	case rec, ok := <-ch:
		require.True(t, ok, "channel closed")
		return rec
	case <-time.After(2 * time.Second):
		t.Fatal("no update received")
	}
	return discipline.DayRecord{}
}

func TestLocalBroker_PublishSubscribe(t *testing.T) {
	b := NewLocalBroker(0)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "u1", "2026-10-15")
	require.NoError(t, err)
	defer cancel()

	other, cancelOther, err := b.Subscribe(ctx, "u1", "2026-10-16")
	require.NoError(t, err)
	defer cancelOther()

	require.NoError(t, b.Publish(ctx, record(2)))
	assert.Equal(t, 2, receive(t, ch).UsedTrades)

	select {
	case <-other:
		t.Fatal("update leaked to another date")
	default:
	}
}

func TestLocalBroker_DropsOldest(t *testing.T) {
	b := NewLocalBroker(2)
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "u1", "2026-10-15")
	require.NoError(t, err)
	defer cancel()

	for i := 1; i <= 5; i++ {
		require.NoError(t, b.Publish(ctx, record(i)))
	}

	assert.Equal(t, 4, receive(t, ch).UsedTrades)
	assert.Equal(t, 5, receive(t, ch).UsedTrades)
}

func TestLocalBroker_CancelClosesChannel(t *testing.T) {
	b := NewLocalBroker(0)

	ch, cancel, err := b.Subscribe(context.Background(), "u1", "2026-10-15")
	require.NoError(t, err)
	assert.Equal(t, 1, b.Subscribers("u1", "2026-10-15"))

	cancel()
	cancel()
	_, ok := <-ch
	assert.False(t, ok)
	assert.Equal(t, 0, b.Subscribers("u1", "2026-10-15"))

	// Publishing after cancel is harmless.
	require.NoError(t, b.Publish(context.Background(), record(1)))
}

func TestLocalBroker_ContextEndsSubscription(t *testing.T) {
	b := NewLocalBroker(0)
	ctx, cancelCtx := context.WithCancel(context.Background())

	ch, _, err := b.Subscribe(ctx, "u1", "2026-10-15")
	require.NoError(t, err)
	cancelCtx()

	select {
	case _, ok := <-ch:
		assert.False(t, ok)
	case <-time.After(time.Second):
		t.Fatal("subscription outlived its context")
	}
}

func TestChannel(t *testing.T) {
	assert.Equal(t, "discipline:day:u1:2026-10-15", Channel("u1", "2026-10-15"))
}

func TestRedisBroker(t *testing.T) {
	addr := os.Getenv("REDIS_ADDR")
	if addr == "" {
		t.Skip("REDIS_ADDR not set")
	}
	client := redis.NewClient(&redis.Options{Addr: addr})
	defer client.Close()

	b := NewRedisBroker(client, 0, zerolog.Nop())
	ctx := context.Background()

	ch, cancel, err := b.Subscribe(ctx, "u1", "2026-10-15")
	require.NoError(t, err)
	defer cancel()

	require.NoError(t, b.Publish(ctx, record(3)))
	assert.Equal(t, 3, receive(t, ch).UsedTrades)
}
