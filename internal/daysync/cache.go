// Package daysync keeps one session's view of the discipline days: cache-first
// reads with background revalidation, optimistic quick-logs and a live
// subscription whose pushes always override tentative values.
package daysync

import (
	"context"
	"errors"
	"sync"
	"time"

	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"

	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

// ErrClosed is returned by a Cache after Close.
var ErrClosed = errors.New("daysync: cache closed")

// Source is the authoritative backend a Cache reads and writes through.
// *discipline.Service satisfies it.
type Source interface {
	Day(ctx context.Context, userID, date string) (*discipline.DayRecord, error)
	WeeklyReview(ctx context.Context, userID, tz string) (*discipline.WeeklyReview, error)
	QuickLogTrade(ctx context.Context, userID, tz string) (*discipline.DayRecord, error)
}

// Options configure a Cache.
type Options struct {
	UserID   string
	Timezone string
	Clock    *dayclock.Resolver
	Logger   zerolog.Logger

	// StaleAfter is the age after which a cached entry is revalidated in
	// the background. Zero uses 30s.
	StaleAfter time.Duration
	// Buffer is the Updates channel length. Zero uses 16.
	Buffer int
	// RolloverCheck is how often the subscription checks for a new day.
	// Zero uses one minute.
	RolloverCheck time.Duration
}

type entry struct {
	day       *discipline.DayRecord
	week      *discipline.WeeklyReview
	tentative bool
	fetchedAt time.Time
}

// Cache is a per-session day cache. It is safe for concurrent use.
type Cache struct {
	src    Source
	feed   discipline.Subscriber
	opts   Options
	logger zerolog.Logger

	group singleflight.Group

	mu      sync.Mutex
	entries map[string]*entry
	updates chan discipline.DayRecord
	started bool
	closed  bool

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

// NewCache creates a session cache. feed may be nil, in which case no live
// subscription is opened.
func NewCache(src Source, feed discipline.Subscriber, opts Options) *Cache {
	if opts.StaleAfter <= 0 {
		opts.StaleAfter = 30 * time.Second
	}
	if opts.Buffer <= 0 {
		opts.Buffer = 16
	}
	if opts.RolloverCheck <= 0 {
		opts.RolloverCheck = time.Minute
	}
	if opts.Clock == nil {
		opts.Clock = dayclock.NewResolver()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Cache{
		src:     src,
		feed:    feed,
		opts:    opts,
		logger:  opts.Logger.With().Str("component", "daysync").Str("user_id", opts.UserID).Logger(),
		entries: make(map[string]*entry),
		updates: make(chan discipline.DayRecord, opts.Buffer),
		ctx:     ctx,
		cancel:  cancel,
	}
}

func dayKey(date string) string  { return "day:" + date }
func weekKey(first string) string { return "week:" + first }

// Updates delivers every day value the cache adopts, tentative ones included.
// It is closed by Close.
func (c *Cache) Updates() <-chan discipline.DayRecord {
	return c.updates
}

// UserID returns the session's user.
func (c *Cache) UserID() string {
	return c.opts.UserID
}

// Start opens the live subscription on today's record.
func (c *Cache) Start(ctx context.Context) error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return ErrClosed
	}
	if c.started {
		c.mu.Unlock()
		return nil
	}
	c.started = true
	c.mu.Unlock()

	if c.feed == nil || c.opts.UserID == "" {
		return nil
	}

	date := c.today()
	ch, unsubscribe, err := c.feed.Subscribe(c.ctx, c.opts.UserID, date)
	if err != nil {
		return err
	}

	c.wg.Add(1)
	go c.listen(date, ch, unsubscribe)

	c.logger.Debug().Str("date", date).Msg("Session started")
	return nil
}

// listen owns the subscription, re-subscribing when the local day rolls over.
func (c *Cache) listen(date string, ch <-chan discipline.DayRecord, unsubscribe func()) {
	defer c.wg.Done()
	defer func() { unsubscribe() }()

	ticker := time.NewTicker(c.opts.RolloverCheck)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case rec, ok := <-ch:
			if !ok {
				return
			}
			c.adopt(rec.Date, &rec)
		case <-ticker.C:
			today := c.today()
			if today == date {
				continue
			}
			next, nextUnsub, err := c.feed.Subscribe(c.ctx, c.opts.UserID, today)
			if err != nil {
				c.logger.Warn().Err(err).Str("date", today).Msg("Resubscribe after rollover failed")
				continue
			}
			unsubscribe()
			date, ch, unsubscribe = today, next, nextUnsub
			c.logger.Debug().Str("date", date).Msg("Subscription rolled over")
		}
	}
}

// Close ends the session: the subscription is released, background
// revalidations are awaited and Updates is closed. Close is idempotent.
func (c *Cache) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	c.closed = true
	c.mu.Unlock()

	c.cancel()
	c.wg.Wait()

	c.mu.Lock()
	close(c.updates)
	c.entries = make(map[string]*entry)
	c.mu.Unlock()

	c.logger.Debug().Msg("Session closed")
	return nil
}

func (c *Cache) today() string {
	return c.opts.Clock.Today(c.opts.Timezone)
}

func (c *Cache) isClosed() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closed
}

// ============================================================================
// READS
// ============================================================================

// Today returns today's record, nil when none exists yet.
func (c *Cache) Today(ctx context.Context) (*discipline.DayRecord, error) {
	return c.Day(ctx, c.today())
}

// Day returns the record for date from cache, fetching on a miss and
// revalidating in the background when stale. Elapsed days are not
// revalidated.
func (c *Cache) Day(ctx context.Context, date string) (*discipline.DayRecord, error) {
	if c.opts.UserID == "" {
		return nil, discipline.ErrUnauthenticated
	}

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[dayKey(date)]
	if ok {
		rec := e.day.Clone()
		// Only today is ever written; an elapsed day is final once fetched.
		settled := c.opts.Clock.HasElapsed(date, c.opts.Timezone)
		stale := e.tentative || (!settled && time.Since(e.fetchedAt) > c.opts.StaleAfter)
		c.mu.Unlock()
		if stale {
			c.revalidate(func(ctx context.Context) { _, _ = c.fetchDay(ctx, date) })
		}
		return rec, nil
	}
	c.mu.Unlock()

	return c.fetchDay(ctx, date)
}

// Week returns the review of the current week, cache-first.
func (c *Cache) Week(ctx context.Context) (*discipline.WeeklyReview, error) {
	if c.opts.UserID == "" {
		return nil, discipline.ErrUnauthenticated
	}

	dates := c.opts.Clock.WeekDates(c.opts.Timezone)
	key := weekKey(dates[0])

	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, ErrClosed
	}
	e, ok := c.entries[key]
	if ok && e.week != nil {
		review := *e.week
		stale := time.Since(e.fetchedAt) > c.opts.StaleAfter
		c.mu.Unlock()
		if stale {
			c.revalidate(func(ctx context.Context) { _, _ = c.fetchWeek(ctx, key) })
		}
		return &review, nil
	}
	c.mu.Unlock()

	return c.fetchWeek(ctx, key)
}

func (c *Cache) fetchDay(ctx context.Context, date string) (*discipline.DayRecord, error) {
	v, err, _ := c.group.Do(dayKey(date), func() (interface{}, error) {
		rec, err := c.src.Day(ctx, c.opts.UserID, date)
		if err != nil {
			return nil, err
		}
		c.adopt(date, rec)
		return rec, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*discipline.DayRecord).Clone(), nil
}

func (c *Cache) fetchWeek(ctx context.Context, key string) (*discipline.WeeklyReview, error) {
	v, err, _ := c.group.Do(key, func() (interface{}, error) {
		review, err := c.src.WeeklyReview(ctx, c.opts.UserID, c.opts.Timezone)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		if !c.closed {
			c.entries[key] = &entry{week: review, fetchedAt: time.Now()}
		}
		c.mu.Unlock()
		return review, nil
	})
	if err != nil {
		return nil, err
	}
	review := *v.(*discipline.WeeklyReview)
	return &review, nil
}

// revalidate runs fn in the background under the session lifetime.
func (c *Cache) revalidate(fn func(ctx context.Context)) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}
	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		fn(c.ctx)
	}()
}

// ============================================================================
// WRITES
// ============================================================================

// QuickLog applies a tentative increment, clamped to the allotment, then
// performs the authoritative call. On failure the entry is dropped and
// re-read; the original error is returned unchanged.
func (c *Cache) QuickLog(ctx context.Context) (*discipline.DayRecord, error) {
	if c.opts.UserID == "" {
		return nil, discipline.ErrUnauthenticated
	}
	if c.isClosed() {
		return nil, ErrClosed
	}

	date := c.today()
	c.optimisticIncrement(date)

	rec, err := c.src.QuickLogTrade(ctx, c.opts.UserID, c.opts.Timezone)
	if err != nil {
		c.invalidate(date)
		if _, ferr := c.fetchDay(ctx, date); ferr != nil {
			c.logger.Warn().Err(ferr).Str("date", date).Msg("Re-read after failed quick log failed")
		}
		return nil, err
	}

	c.adopt(date, rec)
	return rec.Clone(), nil
}

func (c *Cache) optimisticIncrement(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	e, ok := c.entries[dayKey(date)]
	if !ok || e.day == nil || c.closed {
		return
	}
	next := e.day.Clone()
	next.UsedTrades = min(next.UsedTrades+1, next.MaxTrades)
	c.entries[dayKey(date)] = &entry{day: next, tentative: true, fetchedAt: e.fetchedAt}
	c.emitLocked(*next)
}

// adopt stores an authoritative value. It replaces any tentative value, and
// replaces an authoritative value unless that one is strictly newer.
func (c *Cache) adopt(date string, rec *discipline.DayRecord) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return
	}

	cur, ok := c.entries[dayKey(date)]
	if ok && !cur.tentative && cur.day != nil && rec != nil && rec.UpdatedAt.Before(cur.day.UpdatedAt) {
		return
	}
	c.entries[dayKey(date)] = &entry{day: rec.Clone(), fetchedAt: time.Now()}
	c.expireWeek(date)
	if rec != nil {
		c.emitLocked(*rec.Clone())
	}
}

func (c *Cache) invalidate(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.entries, dayKey(date))
	c.expireWeek(date)
}

// expireWeek marks the week holding date stale.
func (c *Cache) expireWeek(date string) {
	dates, ok := dayclock.WeekOf(date)
	if !ok {
		return
	}
	if e, ok := c.entries[weekKey(dates[0])]; ok {
		e.fetchedAt = time.Time{}
	}
}

// emitLocked queues rec on Updates, discarding the oldest when full.
func (c *Cache) emitLocked(rec discipline.DayRecord) {
	for {
		select {
		case c.updates <- rec:
			return
		default:
		}
		select {
		case <-c.updates:
		default:
		}
	}
}

// Tentative reports whether the cached value for date is optimistic.
func (c *Cache) Tentative(date string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[dayKey(date)]
	return ok && e.tentative
}
