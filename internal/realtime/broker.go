// Package realtime fans authoritative day records out to live sessions,
// either inside one process or across instances through Redis pub/sub.
package realtime

import (
	"context"
	"sync"

	"trading-journal/internal/discipline"
)

// DefaultBuffer is the per-subscriber queue length. When a subscriber falls
// behind, the oldest queued record is dropped; the newest always lands.
const DefaultBuffer = 16

func topic(userID, date string) string {
	return userID + "|" + date
}

// offer delivers rec to ch, discarding the oldest queued record when full.
func offer(ch chan discipline.DayRecord, rec discipline.DayRecord) {
	for {
		select {
		case ch <- rec:
			return
		default:
		}
		select {
		case <-ch:
			droppedTotal.Inc()
		default:
		}
	}
}

type subscription struct {
	ch   chan discipline.DayRecord
	once sync.Once
}

// LocalBroker is an in-process discipline.Feed.
type LocalBroker struct {
	mu     sync.RWMutex
	subs   map[string]map[*subscription]struct{}
	buffer int
}

// NewLocalBroker creates a broker; buffer <= 0 uses DefaultBuffer.
func NewLocalBroker(buffer int) *LocalBroker {
	if buffer <= 0 {
		buffer = DefaultBuffer
	}
	return &LocalBroker{
		subs:   make(map[string]map[*subscription]struct{}),
		buffer: buffer,
	}
}

// Publish delivers rec to every subscriber of its (user, date).
func (b *LocalBroker) Publish(_ context.Context, rec discipline.DayRecord) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for sub := range b.subs[topic(rec.UserID, rec.Date)] {
		offer(sub.ch, *rec.Clone())
	}
	publishedTotal.WithLabelValues("local").Inc()
	return nil
}

// Subscribe registers for one (user, date). The channel is closed by cancel
// or when ctx ends.
func (b *LocalBroker) Subscribe(ctx context.Context, userID, date string) (<-chan discipline.DayRecord, func(), error) {
	sub := &subscription{ch: make(chan discipline.DayRecord, b.buffer)}
	key := topic(userID, date)

	b.mu.Lock()
	if b.subs[key] == nil {
		b.subs[key] = make(map[*subscription]struct{})
	}
	b.subs[key][sub] = struct{}{}
	b.mu.Unlock()
	activeSubscriptions.Inc()

	cancel := func() {
		sub.once.Do(func() {
			b.mu.Lock()
			delete(b.subs[key], sub)
			if len(b.subs[key]) == 0 {
				delete(b.subs, key)
			}
			close(sub.ch)
			b.mu.Unlock()
			activeSubscriptions.Dec()
		})
	}

	context.AfterFunc(ctx, cancel)

	return sub.ch, cancel, nil
}

// Subscribers returns the live subscription count for (user, date).
func (b *LocalBroker) Subscribers(userID, date string) int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subs[topic(userID, date)])
}

var _ discipline.Feed = (*LocalBroker)(nil)
