// Package sqlitestore provides a single-file SQLite implementation of the
// discipline and rewards stores for local installs.
package sqlitestore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"trading-journal/internal/discipline"
	"trading-journal/internal/rewards"

	_ "github.com/mattn/go-sqlite3"
)

// Store implements discipline.Store and rewards.Store using SQLite.
type Store struct {
	db  *sql.DB
	now func() time.Time
}

// Open opens (creating when needed) the database at path and applies the schema.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_foreign_keys=on")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	// One connection serializes writers; WAL snapshot upgrades would otherwise
	// fail with SQLITE_BUSY under concurrent quick-logs.
	db.SetMaxOpenConns(1)
	db.SetConnMaxLifetime(time.Hour)

	s := &Store{db: db, now: func() time.Time { return time.Now().UTC() }}
	if err := s.initSchema(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// Ping checks the database handle.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func (s *Store) initSchema() error {
	schema := `
	CREATE TABLE IF NOT EXISTS discipline_settings (
		user_id TEXT PRIMARY KEY,
		enabled BOOLEAN NOT NULL DEFAULT 0,
		default_max INTEGER NOT NULL DEFAULT 0,
		timezone TEXT NOT NULL DEFAULT '',
		updated_at DATETIME NOT NULL
	);

	CREATE TABLE IF NOT EXISTS discipline_days (
		user_id TEXT NOT NULL,
		day_key TEXT NOT NULL,
		max_trades INTEGER NOT NULL CHECK (max_trades BETWEEN 1 AND 10),
		used_trades INTEGER NOT NULL DEFAULT 0,
		logged_trades INTEGER NOT NULL DEFAULT 0,
		reported_trades INTEGER,
		status TEXT NOT NULL DEFAULT 'open' CHECK (status IN ('open', 'completed', 'broken')),
		respected_limit BOOLEAN NOT NULL DEFAULT 0,
		late_logging BOOLEAN NOT NULL DEFAULT 0,
		discipline_enabled BOOLEAN NOT NULL DEFAULT 0,
		overridden BOOLEAN NOT NULL DEFAULT 0,
		override_reason TEXT NOT NULL DEFAULT '',
		created_at DATETIME NOT NULL,
		updated_at DATETIME NOT NULL,
		PRIMARY KEY (user_id, day_key)
	);

	CREATE TABLE IF NOT EXISTS reward_states (
		user_id TEXT PRIMARY KEY,
		current_streak INTEGER NOT NULL DEFAULT 0,
		best_streak INTEGER NOT NULL DEFAULT 0,
		xp INTEGER NOT NULL DEFAULT 0,
		last_completed_date TEXT NOT NULL DEFAULT '',
		last_override_date TEXT NOT NULL DEFAULT '',
		broken_date TEXT NOT NULL DEFAULT '',
		streak_before_break INTEGER NOT NULL DEFAULT 0,
		updated_at DATETIME NOT NULL
	);
	`
	if _, err := s.db.Exec(schema); err != nil {
		return err
	}
	return s.addColumns("reward_states", map[string]string{
		"broken_date":         "TEXT NOT NULL DEFAULT ''",
		"streak_before_break": "INTEGER NOT NULL DEFAULT 0",
	})
}

// addColumns adds any missing columns to a table created by an older schema.
func (s *Store) addColumns(table string, cols map[string]string) error {
	rows, err := s.db.Query(`SELECT name FROM pragma_table_info(?)`, table)
	if err != nil {
		return err
	}
	have := make(map[string]bool)
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			rows.Close()
			return err
		}
		have[name] = true
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return err
	}

	for name, def := range cols {
		if have[name] {
			continue
		}
		if _, err := s.db.Exec(fmt.Sprintf("ALTER TABLE %s ADD COLUMN %s %s", table, name, def)); err != nil {
			return fmt.Errorf("add column %s.%s: %w", table, name, err)
		}
	}
	return nil
}

// ============================================================================
// SETTINGS
// ============================================================================

func (s *Store) GetSettings(ctx context.Context, userID string) (*discipline.Settings, error) {
	var st discipline.Settings
	err := s.db.QueryRowContext(ctx,
		`SELECT user_id, enabled, default_max, timezone, updated_at FROM discipline_settings WHERE user_id = ?`,
		userID,
	).Scan(&st.UserID, &st.Enabled, &st.DefaultMax, &st.Timezone, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get settings: %w", err)
	}
	return &st, nil
}

func (s *Store) SaveSettings(ctx context.Context, st *discipline.Settings) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discipline_settings (user_id, enabled, default_max, timezone, updated_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			enabled = excluded.enabled,
			default_max = excluded.default_max,
			timezone = excluded.timezone,
			updated_at = excluded.updated_at`,
		st.UserID, st.Enabled, st.DefaultMax, st.Timezone, st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save settings: %w", err)
	}
	return nil
}

// ============================================================================
// DAYS
// ============================================================================

const dayColumns = `user_id, day_key, max_trades, used_trades, logged_trades, reported_trades,
	status, respected_limit, late_logging, discipline_enabled, overridden, override_reason,
	created_at, updated_at`

type rowScanner interface {
	Scan(dest ...interface{}) error
}

func scanDay(row rowScanner) (*discipline.DayRecord, error) {
	var rec discipline.DayRecord
	var status string
	var reported sql.NullInt64
	err := row.Scan(
		&rec.UserID, &rec.Date, &rec.MaxTrades, &rec.UsedTrades, &rec.LoggedTrades, &reported,
		&status, &rec.RespectedLimit, &rec.LateLogging, &rec.DisciplineEnabled, &rec.Overridden, &rec.OverrideReason,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = discipline.Status(status)
	if reported.Valid {
		n := int(reported.Int64)
		rec.ReportedTrades = &n
	}
	return &rec, nil
}

func (s *Store) GetDay(ctx context.Context, userID, date string) (*discipline.DayRecord, error) {
	rec, err := scanDay(s.db.QueryRowContext(ctx,
		`SELECT `+dayColumns+` FROM discipline_days WHERE user_id = ? AND day_key = ?`, userID, date))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day %s: %w", date, err)
	}
	return rec, nil
}

func (s *Store) ListDays(ctx context.Context, userID, from, to string) ([]*discipline.DayRecord, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+dayColumns+` FROM discipline_days
		 WHERE user_id = ? AND day_key BETWEEN ? AND ?
		 ORDER BY day_key ASC`, userID, from, to)
	if err != nil {
		return nil, fmt.Errorf("failed to list days: %w", err)
	}
	defer rows.Close()

	var days []*discipline.DayRecord
	for rows.Next() {
		rec, err := scanDay(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan day: %w", err)
		}
		days = append(days, rec)
	}
	return days, rows.Err()
}

func (s *Store) EnsureDay(ctx context.Context, rec *discipline.DayRecord) (*discipline.DayRecord, error) {
	now := s.now()
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO discipline_days (user_id, day_key, max_trades, status, discipline_enabled, created_at, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id, day_key) DO NOTHING`,
		rec.UserID, rec.Date, rec.MaxTrades, string(rec.Status), rec.DisciplineEnabled, now, now,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to ensure day %s: %w", rec.Date, err)
	}

	stored, err := s.GetDay(ctx, rec.UserID, rec.Date)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, discipline.ErrNotFound
	}
	return stored, nil
}

func (s *Store) MergeDay(ctx context.Context, userID, date string, patch discipline.DayPatch) (*discipline.DayRecord, error) {
	var status interface{}
	if patch.Status != nil {
		status = string(*patch.Status)
	}

	rec, err := scanDay(s.db.QueryRowContext(ctx, `
		UPDATE discipline_days SET
			max_trades = COALESCE(?, max_trades),
			status = COALESCE(?, status),
			discipline_enabled = COALESCE(?, discipline_enabled),
			overridden = COALESCE(?, overridden),
			override_reason = COALESCE(?, override_reason),
			updated_at = ?
		WHERE user_id = ? AND day_key = ?
		RETURNING `+dayColumns,
		nullable(patch.MaxTrades), status, nullable(patch.DisciplineEnabled), nullable(patch.Overridden),
		nullable(patch.OverrideReason), s.now(), userID, date,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, discipline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update day %s: %w", date, err)
	}
	return rec, nil
}

func (s *Store) IncrementUsed(ctx context.Context, userID, date string, late bool) (*discipline.DayRecord, error) {
	rec, err := scanDay(s.db.QueryRowContext(ctx, `
		UPDATE discipline_days SET
			used_trades = used_trades + 1,
			logged_trades = logged_trades + 1,
			late_logging = (late_logging OR ?),
			updated_at = ?
		WHERE user_id = ? AND day_key = ?
		  AND (used_trades < max_trades OR overridden)
		RETURNING `+dayColumns,
		late, s.now(), userID, date,
	))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("failed to increment day %s: %w", date, err)
	}

	var exists bool
	if err := s.db.QueryRowContext(ctx,
		`SELECT EXISTS(SELECT 1 FROM discipline_days WHERE user_id = ? AND day_key = ?)`, userID, date,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check day %s: %w", date, err)
	}
	if exists {
		return nil, discipline.ErrMaxReached
	}
	return nil, discipline.ErrNotFound
}

func (s *Store) SubmitEOD(ctx context.Context, userID, date string, reported int, respected bool) (*discipline.DayRecord, error) {
	rec, err := scanDay(s.db.QueryRowContext(ctx, `
		UPDATE discipline_days SET
			reported_trades = ?1,
			used_trades = MAX(logged_trades, ?1),
			respected_limit = ?2,
			status = CASE WHEN ?2 AND NOT overridden THEN 'completed' ELSE 'broken' END,
			updated_at = ?3
		WHERE user_id = ?4 AND day_key = ?5
		RETURNING `+dayColumns,
		reported, respected, s.now(), userID, date,
	))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, discipline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit day %s: %w", date, err)
	}
	return rec, nil
}

// ============================================================================
// REWARDS
// ============================================================================

func (s *Store) GetRewards(ctx context.Context, userID string) (*rewards.State, error) {
	var st rewards.State
	err := s.db.QueryRowContext(ctx, `
		SELECT user_id, current_streak, best_streak, xp, last_completed_date, last_override_date,
			broken_date, streak_before_break, updated_at
		FROM reward_states WHERE user_id = ?`, userID,
	).Scan(&st.UserID, &st.CurrentStreak, &st.BestStreak, &st.XP, &st.LastCompletedDate, &st.LastOverrideDate,
		&st.BrokenDate, &st.StreakBeforeBreak, &st.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rewards: %w", err)
	}
	return &st, nil
}

func (s *Store) SaveRewards(ctx context.Context, st *rewards.State) error {
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO reward_states (user_id, current_streak, best_streak, xp, last_completed_date, last_override_date,
			broken_date, streak_before_break, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(user_id) DO UPDATE SET
			current_streak = excluded.current_streak,
			best_streak = excluded.best_streak,
			xp = excluded.xp,
			last_completed_date = excluded.last_completed_date,
			last_override_date = excluded.last_override_date,
			broken_date = excluded.broken_date,
			streak_before_break = excluded.streak_before_break,
			updated_at = excluded.updated_at`,
		st.UserID, st.CurrentStreak, st.BestStreak, st.XP, st.LastCompletedDate, st.LastOverrideDate,
		st.BrokenDate, st.StreakBeforeBreak, st.UpdatedAt.UTC(),
	)
	if err != nil {
		return fmt.Errorf("failed to save rewards: %w", err)
	}
	return nil
}

// nullable turns a nil pointer into SQL NULL.
func nullable[T any](p *T) interface{} {
	if p == nil {
		return nil
	}
	return *p
}

var (
	_ discipline.Store = (*Store)(nil)
	_ rewards.Store    = (*Store)(nil)
)
