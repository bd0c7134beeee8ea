package database

import (
	"context"
	"errors"
	"fmt"

	"trading-journal/internal/discipline"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// DISCIPLINE SETTINGS
// ============================================================================

// GetSettings returns the user's discipline settings, nil when never saved
func (r *Repository) GetSettings(ctx context.Context, userID string) (*discipline.Settings, error) {
	query := `
		SELECT user_id, enabled, COALESCE(default_max, 0), timezone, updated_at
		FROM discipline_settings
		WHERE user_id = $1
	`

	var s discipline.Settings
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.Enabled, &s.DefaultMax, &s.Timezone, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get discipline settings: %w", err)
	}
	return &s, nil
}

// SaveSettings upserts the whole settings row
func (r *Repository) SaveSettings(ctx context.Context, s *discipline.Settings) error {
	query := `
		INSERT INTO discipline_settings (user_id, enabled, default_max, timezone, updated_at)
		VALUES ($1, $2, NULLIF($3, 0), $4, $5)
		ON CONFLICT (user_id) DO UPDATE SET
			enabled = EXCLUDED.enabled,
			default_max = EXCLUDED.default_max,
			timezone = EXCLUDED.timezone,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query, s.UserID, s.Enabled, s.DefaultMax, s.Timezone, s.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to save discipline settings: %w", err)
	}
	return nil
}

// ============================================================================
// DISCIPLINE DAYS
// ============================================================================

const dayColumns = `user_id, day_key, max_trades, used_trades, logged_trades, reported_trades,
	status, respected_limit, late_logging, discipline_enabled, overridden, override_reason,
	created_at, updated_at`

func scanDay(row pgx.Row) (*discipline.DayRecord, error) {
	var rec discipline.DayRecord
	var status string
	err := row.Scan(
		&rec.UserID, &rec.Date, &rec.MaxTrades, &rec.UsedTrades, &rec.LoggedTrades, &rec.ReportedTrades,
		&status, &rec.RespectedLimit, &rec.LateLogging, &rec.DisciplineEnabled, &rec.Overridden, &rec.OverrideReason,
		&rec.CreatedAt, &rec.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.Status = discipline.Status(status)
	return &rec, nil
}

// GetDay returns one day record, nil when absent
func (r *Repository) GetDay(ctx context.Context, userID, date string) (*discipline.DayRecord, error) {
	query := `SELECT ` + dayColumns + ` FROM discipline_days WHERE user_id = $1 AND day_key = $2`

	rec, err := scanDay(r.db.Pool.QueryRow(ctx, query, userID, date))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get day %s: %w", date, err)
	}
	return rec, nil
}

// ListDays returns records in [from, to], oldest first
func (r *Repository) ListDays(ctx context.Context, userID, from, to string) ([]*discipline.DayRecord, error) {
	query := `
		SELECT ` + dayColumns + `
		FROM discipline_days
		WHERE user_id = $1 AND day_key BETWEEN $2 AND $3
		ORDER BY day_key ASC
	`

	rows, err := r.db.Pool.Query(ctx, query, userID, from, to)
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

// EnsureDay inserts rec when no row exists for its key and returns the stored row
func (r *Repository) EnsureDay(ctx context.Context, rec *discipline.DayRecord) (*discipline.DayRecord, error) {
	insert := `
		INSERT INTO discipline_days (user_id, day_key, max_trades, status, discipline_enabled)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (user_id, day_key) DO NOTHING
	`
	if _, err := r.db.Pool.Exec(ctx, insert,
		rec.UserID, rec.Date, rec.MaxTrades, string(rec.Status), rec.DisciplineEnabled,
	); err != nil {
		return nil, fmt.Errorf("failed to ensure day %s: %w", rec.Date, err)
	}

	stored, err := r.GetDay(ctx, rec.UserID, rec.Date)
	if err != nil {
		return nil, err
	}
	if stored == nil {
		return nil, discipline.ErrNotFound
	}
	return stored, nil
}

// MergeDay applies the non-nil patch fields to an existing row
func (r *Repository) MergeDay(ctx context.Context, userID, date string, patch discipline.DayPatch) (*discipline.DayRecord, error) {
	var status *string
	if patch.Status != nil {
		s := string(*patch.Status)
		status = &s
	}

	query := `
		UPDATE discipline_days SET
			max_trades = COALESCE($3::int, max_trades),
			status = COALESCE($4::varchar, status),
			discipline_enabled = COALESCE($5::boolean, discipline_enabled),
			overridden = COALESCE($6::boolean, overridden),
			override_reason = COALESCE($7::text, override_reason)
		WHERE user_id = $1 AND day_key = $2
		RETURNING ` + dayColumns

	rec, err := scanDay(r.db.Pool.QueryRow(ctx, query,
		userID, date, patch.MaxTrades, status, patch.DisciplineEnabled, patch.Overridden, patch.OverrideReason,
	))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, discipline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to update day %s: %w", date, err)
	}
	return rec, nil
}

// IncrementUsed performs the guarded quick-log increment in one statement.
func (r *Repository) IncrementUsed(ctx context.Context, userID, date string, late bool) (*discipline.DayRecord, error) {
	query := `
		UPDATE discipline_days SET
			used_trades = used_trades + 1,
			logged_trades = logged_trades + 1,
			late_logging = late_logging OR $3
		WHERE user_id = $1 AND day_key = $2
		  AND (used_trades < max_trades OR overridden)
		RETURNING ` + dayColumns

	rec, err := scanDay(r.db.Pool.QueryRow(ctx, query, userID, date, late))
	if err == nil {
		return rec, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return nil, fmt.Errorf("failed to increment day %s: %w", date, err)
	}

	// The guard or the key missed; tell them apart.
	var exists bool
	if err := r.db.Pool.QueryRow(ctx,
		`SELECT EXISTS(SELECT 1 FROM discipline_days WHERE user_id = $1 AND day_key = $2)`,
		userID, date,
	).Scan(&exists); err != nil {
		return nil, fmt.Errorf("failed to check day %s: %w", date, err)
	}
	if exists {
		return nil, discipline.ErrMaxReached
	}
	return nil, discipline.ErrNotFound
}

// SubmitEOD stores the self-report and resolves the final status
func (r *Repository) SubmitEOD(ctx context.Context, userID, date string, reported int, respected bool) (*discipline.DayRecord, error) {
	query := `
		UPDATE discipline_days SET
			reported_trades = $3,
			used_trades = GREATEST(logged_trades, $3),
			respected_limit = $4::boolean,
			status = CASE WHEN $4::boolean AND NOT overridden THEN 'completed' ELSE 'broken' END
		WHERE user_id = $1 AND day_key = $2
		RETURNING ` + dayColumns

	rec, err := scanDay(r.db.Pool.QueryRow(ctx, query, userID, date, reported, respected))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, discipline.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to submit day %s: %w", date, err)
	}
	return rec, nil
}

var _ discipline.Store = (*Repository)(nil)
