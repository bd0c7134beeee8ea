package realtime

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"

	"trading-journal/internal/discipline"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// ChannelPrefix namespaces day update channels: discipline:day:<user>:<date>.
const ChannelPrefix = "discipline:day"

// Channel returns the pub/sub channel for one (user, date).
func Channel(userID, date string) string {
	return fmt.Sprintf("%s:%s:%s", ChannelPrefix, userID, date)
}

// RedisBroker is a discipline.Feed over Redis pub/sub, so sessions connected
// to different instances see the same authoritative records.
type RedisBroker struct {
	client *redis.Client
	buffer int
	logger zerolog.Logger
}

// NewRedisBroker wraps an existing client; buffer <= 0 uses DefaultBuffer.
func NewRedisBroker(client *redis.Client, buffer int, logger zerolog.Logger) *RedisBroker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &RedisBroker{
		client: client,
		buffer: buffer,
		logger: logger.With().Str("component", "redis_broker").Logger(),
	}
}

// Publish sends rec on its channel.
func (b *RedisBroker) Publish(ctx context.Context, rec discipline.DayRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("failed to marshal day record: %w", err)
	}
	if err := b.client.Publish(ctx, Channel(rec.UserID, rec.Date), payload).Err(); err != nil {
		return fmt.Errorf("redis publish failed: %w", err)
	}
	publishedTotal.WithLabelValues("redis").Inc()
	return nil
}

// Subscribe listens on the (user, date) channel until cancel or ctx ends.
func (b *RedisBroker) Subscribe(ctx context.Context, userID, date string) (<-chan discipline.DayRecord, func(), error) {
	channel := Channel(userID, date)
	ps := b.client.Subscribe(ctx, channel)

	// Wait for the subscription confirmation so no publish after return is missed.
	if _, err := ps.Receive(ctx); err != nil {
		ps.Close()
		return nil, nil, fmt.Errorf("redis subscribe failed: %w", err)
	}

	out := make(chan discipline.DayRecord, b.buffer)
	done := make(chan struct{})
	var once sync.Once
	cancel := func() {
		once.Do(func() {
			close(done)
			ps.Close()
		})
	}
	context.AfterFunc(ctx, cancel)
	activeSubscriptions.Inc()

	go func() {
		defer func() {
			close(out)
			activeSubscriptions.Dec()
		}()
		msgs := ps.Channel()
		for {
			select {
			case <-done:
				return
			case msg, ok := <-msgs:
				if !ok {
					return
				}
				var rec discipline.DayRecord
				if err := json.Unmarshal([]byte(msg.Payload), &rec); err != nil {
					b.logger.Warn().Err(err).Str("channel", channel).Msg("Dropping malformed day update")
					continue
				}
				offer(out, rec)
			}
		}
	}()

	return out, cancel, nil
}

var _ discipline.Feed = (*RedisBroker)(nil)
