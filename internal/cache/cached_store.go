package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"trading-journal/internal/discipline"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

var cacheLookups = promauto.NewCounterVec(prometheus.CounterOpts{
	Name: "discipline_cache_lookups_total",
	Help: "Discipline cache lookups by kind and result (hit, miss, error).",
}, []string{"kind", "result"})

// Backend is the subset of CacheService the store decorator needs.
type Backend interface {
	IsHealthy() bool
	Get(ctx context.Context, key string) (string, error)
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	Delete(ctx context.Context, key string) error
}

// CachedStore is a read-through cache in front of a discipline.Store. Every
// mutation goes to the underlying store, which keeps the guarded increment
// atomic, and then evicts the key. Writes never populate the cache: two
// writes can return out of order, and only a read sees the committed row.
type CachedStore struct {
	store  discipline.Store
	cache  Backend
	ttl    time.Duration
	logger zerolog.Logger
}

// NewCachedStore wraps store. A zero ttl uses DefaultDayTTL.
func NewCachedStore(store discipline.Store, backend Backend, ttl time.Duration, logger zerolog.Logger) *CachedStore {
	if ttl <= 0 {
		ttl = DefaultDayTTL
	}
	return &CachedStore{
		store:  store,
		cache:  backend,
		ttl:    ttl,
		logger: logger.With().Str("component", "cached_store").Logger(),
	}
}

func (c *CachedStore) lookup(ctx context.Context, kind, key string, dest interface{}) bool {
	if !c.cache.IsHealthy() {
		cacheLookups.WithLabelValues(kind, "error").Inc()
		return false
	}
	data, err := c.cache.Get(ctx, key)
	if err != nil {
		if errors.Is(err, redis.Nil) {
			cacheLookups.WithLabelValues(kind, "miss").Inc()
		} else {
			cacheLookups.WithLabelValues(kind, "error").Inc()
			c.logger.Debug().Err(err).Str("key", key).Msg("Cache read failed, using store")
		}
		return false
	}
	if err := json.Unmarshal([]byte(data), dest); err != nil {
		cacheLookups.WithLabelValues(kind, "error").Inc()
		c.logger.Warn().Err(err).Str("key", key).Msg("Corrupt cache entry")
		_ = c.cache.Delete(ctx, key)
		return false
	}
	cacheLookups.WithLabelValues(kind, "hit").Inc()
	return true
}

func (c *CachedStore) put(ctx context.Context, key string, value interface{}) {
	if !c.cache.IsHealthy() {
		return
	}
	if err := c.cache.Set(ctx, key, value, c.ttl); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache write failed")
	}
}

// drop evicts a key after any write so a stale entry is never served.
func (c *CachedStore) drop(ctx context.Context, key string) {
	if err := c.cache.Delete(ctx, key); err != nil {
		c.logger.Debug().Err(err).Str("key", key).Msg("Cache delete failed")
	}
}

func (c *CachedStore) GetSettings(ctx context.Context, userID string) (*discipline.Settings, error) {
	var s discipline.Settings
	if c.lookup(ctx, "settings", SettingsKey(userID), &s) {
		return &s, nil
	}
	got, err := c.store.GetSettings(ctx, userID)
	if err != nil || got == nil {
		return got, err
	}
	c.put(ctx, SettingsKey(userID), got)
	return got, nil
}

func (c *CachedStore) SaveSettings(ctx context.Context, s *discipline.Settings) error {
	err := c.store.SaveSettings(ctx, s)
	c.drop(ctx, SettingsKey(s.UserID))
	return err
}

func (c *CachedStore) GetDay(ctx context.Context, userID, date string) (*discipline.DayRecord, error) {
	var rec discipline.DayRecord
	if c.lookup(ctx, "day", DayKey(userID, date), &rec) {
		return &rec, nil
	}
	got, err := c.store.GetDay(ctx, userID, date)
	if err != nil || got == nil {
		return got, err
	}
	c.put(ctx, DayKey(userID, date), got)
	return got, nil
}

// ListDays always reads the store; ranges are not cached.
func (c *CachedStore) ListDays(ctx context.Context, userID, from, to string) ([]*discipline.DayRecord, error) {
	return c.store.ListDays(ctx, userID, from, to)
}

func (c *CachedStore) EnsureDay(ctx context.Context, rec *discipline.DayRecord) (*discipline.DayRecord, error) {
	got, err := c.store.EnsureDay(ctx, rec)
	return c.after(ctx, rec.UserID, rec.Date, got, err)
}

func (c *CachedStore) MergeDay(ctx context.Context, userID, date string, patch discipline.DayPatch) (*discipline.DayRecord, error) {
	got, err := c.store.MergeDay(ctx, userID, date, patch)
	return c.after(ctx, userID, date, got, err)
}

func (c *CachedStore) IncrementUsed(ctx context.Context, userID, date string, late bool) (*discipline.DayRecord, error) {
	got, err := c.store.IncrementUsed(ctx, userID, date, late)
	return c.after(ctx, userID, date, got, err)
}

func (c *CachedStore) SubmitEOD(ctx context.Context, userID, date string, reported int, respected bool) (*discipline.DayRecord, error) {
	got, err := c.store.SubmitEOD(ctx, userID, date, reported, respected)
	return c.after(ctx, userID, date, got, err)
}

func (c *CachedStore) after(ctx context.Context, userID, date string, rec *discipline.DayRecord, err error) (*discipline.DayRecord, error) {
	if errors.Is(err, discipline.ErrMaxReached) || errors.Is(err, discipline.ErrNotFound) {
		// record unchanged
		return rec, err
	}
	c.drop(ctx, DayKey(userID, date))
	return rec, err
}

var _ discipline.Store = (*CachedStore)(nil)
