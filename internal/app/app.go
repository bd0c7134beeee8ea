// Package app assembles the journal's runtime from configuration: secrets,
// the storage driver, the Redis cache and live feed, and the services on top.
package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"trading-journal/config"
	"trading-journal/internal/api"
	"trading-journal/internal/auth"
	"trading-journal/internal/cache"
	"trading-journal/internal/database"
	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"
	"trading-journal/internal/events"
	"trading-journal/internal/realtime"
	"trading-journal/internal/rewards"
	"trading-journal/internal/sqlitestore"
	"trading-journal/internal/vault"

	"github.com/rs/zerolog"
)

// App holds the wired components and what must be released on exit.
type App struct {
	Config  *config.Config
	Bus     *events.EventBus
	Clock   *dayclock.Resolver
	Store   discipline.Store
	Rewards rewards.Store
	Feed    discipline.Feed
	Cache   *cache.CacheService // nil when Redis is disabled
	Vault   *vault.Client
	Service *discipline.Service
	Ledger  *rewards.Ledger // nil when rewards are disabled
	JWT     *auth.JWTManager
	Checks  map[string]api.HealthCheck
	Stats   map[string]func() interface{}

	migrate func(ctx context.Context) error
	closers []func()
	logger  zerolog.Logger
}

// Open connects the configured storage and, unless storeOnly, the cache,
// feed and services.
func Open(ctx context.Context, cfg *config.Config, logger zerolog.Logger, storeOnly bool) (*App, error) {
	a := &App{
		Config: cfg,
		Bus:    events.NewEventBus(),
		Checks: make(map[string]api.HealthCheck),
		Stats:  make(map[string]func() interface{}),
		logger: logger.With().Str("component", "app").Logger(),
	}

	vc, err := vault.NewClient(cfg.VaultConfig)
	if err != nil {
		return nil, fmt.Errorf("vault: %w", err)
	}
	a.Vault = vc
	if vc.IsEnabled() {
		a.Checks["vault"] = vc.Health
	}

	if err := a.openStore(ctx); err != nil {
		a.Close()
		return nil, err
	}
	if storeOnly {
		return a, nil
	}

	if err := a.openServices(ctx); err != nil {
		a.Close()
		return nil, err
	}
	return a, nil
}

func (a *App) openStore(ctx context.Context) error {
	cfg := a.Config.DatabaseConfig

	switch cfg.Driver {
	case "postgres":
		password, err := a.Vault.ResolveSecret(ctx, vault.KeyDatabasePassword, cfg.Password)
		if err != nil && !errors.Is(err, vault.ErrSecretNotFound) {
			return fmt.Errorf("database password: %w", err)
		}
		db, err := database.NewDB(ctx, database.Config{
			Host:     cfg.Host,
			Port:     cfg.Port,
			User:     cfg.User,
			Password: password,
			Database: cfg.Name,
			SSLMode:  cfg.SSLMode,
		}, a.logger)
		if err != nil {
			return fmt.Errorf("failed to connect to database: %w", err)
		}
		a.closers = append(a.closers, db.Close)
		repo := database.NewRepository(db)
		a.Store, a.Rewards = repo, repo
		a.Checks["database"] = repo.HealthCheck
		a.migrate = db.RunMigrations

	case "sqlite":
		st, err := sqlitestore.Open(cfg.SQLitePath)
		if err != nil {
			return fmt.Errorf("failed to open sqlite store: %w", err)
		}
		a.closers = append(a.closers, func() { st.Close() })
		a.Store, a.Rewards = st, st
		a.Checks["database"] = st.Ping
		a.migrate = func(context.Context) error { return nil } // schema is applied on open

	case "memory":
		a.Store, a.Rewards = discipline.NewMemoryStore(), rewards.NewMemoryStore()
		a.migrate = func(context.Context) error { return nil }

	default:
		return fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	a.logger.Info().Str("driver", cfg.Driver).Msg("Store ready")
	return nil
}

func (a *App) openServices(ctx context.Context) error {
	cfg := a.Config

	hour, minute, err := config.ParseCutoff(cfg.DisciplineConfig.LateCutoff)
	if err != nil {
		return err
	}
	a.Clock = dayclock.NewResolver(
		dayclock.WithDefaultZone(cfg.DisciplineConfig.DefaultTimezone),
		dayclock.WithCutoff(hour, minute),
	)

	store := a.Store
	a.Feed = realtime.NewLocalBroker(realtime.DefaultBuffer)

	if cfg.RedisConfig.Enabled {
		redisCfg := cfg.RedisConfig
		redisCfg.Password, err = a.Vault.ResolveSecret(ctx, vault.KeyRedisPassword, redisCfg.Password)
		if err != nil && !errors.Is(err, vault.ErrSecretNotFound) {
			return fmt.Errorf("redis password: %w", err)
		}
		cs, err := cache.NewCacheService(redisCfg, a.logger)
		if err != nil {
			// The cache is optional; keep serving from the store.
			a.logger.Warn().Err(err).Msg("Redis unavailable, continuing without cache")
		} else {
			a.Cache = cs
			a.closers = append(a.closers, func() { cs.Close() })
			a.Checks["redis"] = cs.Ping
			a.Stats["redis"] = func() interface{} { return cs.GetStats() }
			store = cache.NewCachedStore(store, cs, cfg.DisciplineConfig.DayCacheTTL, a.logger)
			a.Feed = realtime.NewRedisBroker(cs.GetClient(), realtime.DefaultBuffer, a.logger)
		}
	}

	if cfg.AuthConfig.Enabled {
		secret, err := a.Vault.ResolveSecret(ctx, vault.KeyJWTSecret, cfg.AuthConfig.JWTSecret)
		if err != nil {
			return fmt.Errorf("jwt secret: %w", err)
		}
		a.JWT = auth.NewJWTManager(secret, cfg.AuthConfig.AccessTokenDuration)
	}

	a.Service = discipline.NewService(store, a.Clock, a.logger,
		discipline.WithPublisher(a.Feed),
		discipline.WithEventBus(a.Bus),
		discipline.WithMinReasonLength(cfg.DisciplineConfig.OverrideMinReasonLen),
		discipline.WithDefaultMax(auth.DefaultMaxFromContext),
	)

	if cfg.RewardsConfig.Enabled {
		a.Ledger = rewards.NewLedger(a.Rewards, rewards.Config{
			XPPerCleanDay:   cfg.RewardsConfig.XPPerCleanDay,
			OverridePenalty: cfg.RewardsConfig.OverridePenalty,
		}, a.Bus, a.logger)
		a.Ledger.Attach(a.Bus)
	}

	// Sign-out drops the user's cached keys; the API closes their sessions.
	a.Bus.Subscribe(events.EventUserLogout, func(e events.Event) {
		if a.Cache == nil || e.UserID() == "" {
			return
		}
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.Cache.DeletePattern(ctx, cache.UserPattern(e.UserID())); err != nil {
			a.logger.Warn().Err(err).Str("user_id", e.UserID()).Msg("Failed to clear user cache")
		}
	})

	return nil
}

// Migrate brings the store schema up to date.
func (a *App) Migrate(ctx context.Context) error {
	if a.migrate == nil {
		return nil
	}
	return a.migrate(ctx)
}

// NewServer builds the HTTP server over the wired services.
func (a *App) NewServer() *api.Server {
	return api.NewServer(a.Config, api.Deps{
		Service: a.Service,
		Rewards: a.Ledger,
		Feed:    a.Feed,
		Bus:     a.Bus,
		JWT:     a.JWT,
		Checks:  a.Checks,
		Stats:   a.Stats,
		Logger:  a.logger,
	})
}

// Close releases connections in reverse order of opening.
func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
	a.closers = nil
}
