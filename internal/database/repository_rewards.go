package database

import (
	"context"
	"errors"
	"fmt"

	"trading-journal/internal/rewards"

	"github.com/jackc/pgx/v5"
)

// ============================================================================
// REWARDS
// ============================================================================

// GetRewards returns the user's streak and XP, nil when none recorded
func (r *Repository) GetRewards(ctx context.Context, userID string) (*rewards.State, error) {
	query := `
		SELECT user_id, current_streak, best_streak, xp, last_completed_date, last_override_date,
			broken_date, streak_before_break, updated_at
		FROM reward_states
		WHERE user_id = $1
	`

	var s rewards.State
	err := r.db.Pool.QueryRow(ctx, query, userID).Scan(
		&s.UserID, &s.CurrentStreak, &s.BestStreak, &s.XP,
		&s.LastCompletedDate, &s.LastOverrideDate,
		&s.BrokenDate, &s.StreakBeforeBreak, &s.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get rewards: %w", err)
	}
	return &s, nil
}

// SaveRewards upserts the reward row
func (r *Repository) SaveRewards(ctx context.Context, s *rewards.State) error {
	query := `
		INSERT INTO reward_states (user_id, current_streak, best_streak, xp, last_completed_date, last_override_date,
			broken_date, streak_before_break, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		ON CONFLICT (user_id) DO UPDATE SET
			current_streak = EXCLUDED.current_streak,
			best_streak = EXCLUDED.best_streak,
			xp = EXCLUDED.xp,
			last_completed_date = EXCLUDED.last_completed_date,
			last_override_date = EXCLUDED.last_override_date,
			broken_date = EXCLUDED.broken_date,
			streak_before_break = EXCLUDED.streak_before_break,
			updated_at = EXCLUDED.updated_at
	`

	_, err := r.db.Pool.Exec(ctx, query,
		s.UserID, s.CurrentStreak, s.BestStreak, s.XP, s.LastCompletedDate, s.LastOverrideDate,
		s.BrokenDate, s.StreakBeforeBreak, s.UpdatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save rewards: %w", err)
	}
	return nil
}

var _ rewards.Store = (*Repository)(nil)
