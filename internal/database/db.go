package database

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"
)

// DB wraps the PostgreSQL connection pool
type DB struct {
	Pool   *pgxpool.Pool
	logger zerolog.Logger
}

// Config holds database configuration
type Config struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
	MaxConns int32
}

// DSN builds the keyword/value connection string.
func (c Config) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, c.SSLMode,
	)
}

// NewDB creates a new database connection
func NewDB(ctx context.Context, cfg Config, logger zerolog.Logger) (*DB, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("unable to parse database config: %w", err)
	}

	poolConfig.MaxConns = 25
	if cfg.MaxConns > 0 {
		poolConfig.MaxConns = cfg.MaxConns
	}
	poolConfig.MinConns = 2
	poolConfig.MaxConnLifetime = time.Hour
	poolConfig.MaxConnIdleTime = 30 * time.Minute
	poolConfig.HealthCheckPeriod = time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolConfig)
	if err != nil {
		return nil, fmt.Errorf("unable to create connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("unable to ping database: %w", err)
	}

	logger = logger.With().Str("component", "database").Logger()
	logger.Info().Str("database", cfg.Database).Msg("Connected to PostgreSQL")

	return &DB{Pool: pool, logger: logger}, nil
}

// Close closes the database connection
func (db *DB) Close() {
	if db.Pool != nil {
		db.Pool.Close()
		db.logger.Info().Msg("Database connection closed")
	}
}

// migrations are applied in order on every start; each must be idempotent.
var migrations = []string{
	`CREATE TABLE IF NOT EXISTS discipline_settings (
		user_id VARCHAR(128) PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT FALSE,
		default_max INTEGER CHECK (default_max IS NULL OR default_max BETWEEN 1 AND 10),
		timezone VARCHAR(64) NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,

	// Status never holds 'skipped'; that classification is derived on read.
	`CREATE TABLE IF NOT EXISTS discipline_days (
		user_id VARCHAR(128) NOT NULL,
		day_key CHAR(10) NOT NULL,
		max_trades INTEGER NOT NULL CHECK (max_trades BETWEEN 1 AND 10),
		used_trades INTEGER NOT NULL DEFAULT 0 CHECK (used_trades >= 0),
		logged_trades INTEGER NOT NULL DEFAULT 0 CHECK (logged_trades >= 0),
		reported_trades INTEGER CHECK (reported_trades IS NULL OR reported_trades >= 0),
		status VARCHAR(16) NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'completed', 'broken')),
		respected_limit BOOLEAN NOT NULL DEFAULT FALSE,
		late_logging BOOLEAN NOT NULL DEFAULT FALSE,
		discipline_enabled BOOLEAN NOT NULL DEFAULT FALSE,
		overridden BOOLEAN NOT NULL DEFAULT FALSE,
		override_reason TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP,
		PRIMARY KEY (user_id, day_key)
	)`,
	`CREATE INDEX IF NOT EXISTS idx_discipline_days_status ON discipline_days(user_id, status)`,

	`CREATE TABLE IF NOT EXISTS reward_states (
		user_id VARCHAR(128) PRIMARY KEY,
		current_streak INTEGER NOT NULL DEFAULT 0,
		best_streak INTEGER NOT NULL DEFAULT 0,
		xp INTEGER NOT NULL DEFAULT 0 CHECK (xp >= 0),
		last_completed_date VARCHAR(10) NOT NULL DEFAULT '',
		last_override_date VARCHAR(10) NOT NULL DEFAULT '',
		updated_at TIMESTAMPTZ NOT NULL DEFAULT CURRENT_TIMESTAMP
	)`,
	`ALTER TABLE reward_states ADD COLUMN IF NOT EXISTS broken_date VARCHAR(10) NOT NULL DEFAULT ''`,
	`ALTER TABLE reward_states ADD COLUMN IF NOT EXISTS streak_before_break INTEGER NOT NULL DEFAULT 0`,

	`CREATE OR REPLACE FUNCTION update_updated_at_column()
	RETURNS TRIGGER AS $$
	BEGIN
		NEW.updated_at = CURRENT_TIMESTAMP;
		RETURN NEW;
	END;
	$$ language 'plpgsql'`,

	`DROP TRIGGER IF EXISTS update_discipline_days_updated_at ON discipline_days`,
	`CREATE TRIGGER update_discipline_days_updated_at BEFORE UPDATE ON discipline_days
	FOR EACH ROW EXECUTE FUNCTION update_updated_at_column()`,
}

// RunMigrations executes database migrations
func (db *DB) RunMigrations(ctx context.Context) error {
	db.logger.Info().Int("count", len(migrations)).Msg("Running database migrations")

	for i, migration := range migrations {
		if _, err := db.Pool.Exec(ctx, migration); err != nil {
			return fmt.Errorf("migration %d failed: %w", i+1, err)
		}
	}

	db.logger.Info().Msg("Database migrations completed successfully")
	return nil
}

// HealthCheck performs a database health check
func (db *DB) HealthCheck(ctx context.Context) error {
	return db.Pool.Ping(ctx)
}
