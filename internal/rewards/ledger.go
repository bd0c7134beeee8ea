// Package rewards keeps the streak and XP loop that sits on top of the
// discipline days: clean days build a streak, overrides reset it.
package rewards

import (
	"context"
	"fmt"
	"sync"
	"time"

	"trading-journal/internal/dayclock"
	"trading-journal/internal/events"

	"github.com/rs/zerolog"
)

// State is a user's reward standing. BrokenDate is the last date submitted as
// broken and StreakBeforeBreak the streak that date would have continued; the
// streak resumes from it if that date is revised to completed.
type State struct {
	UserID            string    `json:"user_id"`
	CurrentStreak     int       `json:"current_streak"`
	BestStreak        int       `json:"best_streak"`
	XP                int       `json:"xp"`
	LastCompletedDate string    `json:"last_completed_date,omitempty"`
	LastOverrideDate  string    `json:"last_override_date,omitempty"`
	BrokenDate        string    `json:"broken_date,omitempty"`
	StreakBeforeBreak int       `json:"streak_before_break,omitempty"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Store persists reward state.
type Store interface {
	// GetRewards returns nil, nil when the user has no state yet.
	GetRewards(ctx context.Context, userID string) (*State, error)
	SaveRewards(ctx context.Context, s *State) error
}

// Config tunes the XP economy.
type Config struct {
	XPPerCleanDay   int
	OverridePenalty int
}

// DefaultConfig returns the standard XP values.
func DefaultConfig() Config {
	return Config{XPPerCleanDay: 10, OverridePenalty: 25}
}

// Ledger applies day outcomes to reward state.
type Ledger struct {
	store  Store
	cfg    Config
	bus    *events.EventBus
	logger zerolog.Logger
	now    func() time.Time

	// serializes read-modify-write per process; events arrive on goroutines
	mu sync.Mutex
}

// NewLedger creates a new rewards ledger
func NewLedger(store Store, cfg Config, bus *events.EventBus, logger zerolog.Logger) *Ledger {
	return &Ledger{
		store:  store,
		cfg:    cfg,
		bus:    bus,
		logger: logger.With().Str("component", "rewards").Logger(),
		now:    time.Now,
	}
}

// Attach subscribes the ledger to day submissions and overrides.
func (l *Ledger) Attach(bus *events.EventBus) {
	bus.Subscribe(events.EventDaySubmitted, func(e events.Event) {
		status, _ := e.Data["status"].(string)
		date, _ := e.Data["date"].(string)
		if _, err := l.OnDaySubmitted(context.Background(), e.UserID(), date, status); err != nil {
			l.logger.Error().Err(err).Str("user_id", e.UserID()).Msg("Failed to apply day submission")
		}
	})
	bus.Subscribe(events.EventDayOverridden, func(e events.Event) {
		date, _ := e.Data["date"].(string)
		if _, err := l.OnDayOverridden(context.Background(), e.UserID(), date); err != nil {
			l.logger.Error().Err(err).Str("user_id", e.UserID()).Msg("Failed to apply override")
		}
	})
}

// Get returns the user's state, zero-valued when none exists.
func (l *Ledger) Get(ctx context.Context, userID string) (*State, error) {
	s, err := l.store.GetRewards(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("failed to get rewards: %w", err)
	}
	if s == nil {
		return &State{UserID: userID}, nil
	}
	return s, nil
}

// OnDaySubmitted extends the streak for a completed day and breaks it for a
// broken one. Re-submitting the same date is idempotent.
func (l *Ledger) OnDaySubmitted(ctx context.Context, userID, date, status string) (*State, error) {
	if userID == "" || !dayclock.ValidDate(date) {
		return nil, fmt.Errorf("invalid day submission for %q on %q", userID, date)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}

	switch status {
	case "completed":
		if s.LastCompletedDate == date {
			return s, nil
		}
		switch {
		case s.BrokenDate == date:
			// A broken submission was revised; resume the streak it reset.
			s.CurrentStreak = s.StreakBeforeBreak + 1
		case s.LastCompletedDate != "" && s.LastCompletedDate == PreviousTradingDay(date):
			s.CurrentStreak++
		default:
			s.CurrentStreak = 1
		}
		if s.CurrentStreak > s.BestStreak {
			s.BestStreak = s.CurrentStreak
		}
		s.XP += l.cfg.XPPerCleanDay
		s.LastCompletedDate = date
		s.BrokenDate, s.StreakBeforeBreak = "", 0
	case "broken":
		if s.BrokenDate == date {
			return s, nil
		}
		carried := 0
		switch {
		case s.LastCompletedDate == date:
			// A clean submission was revised; take back its XP.
			s.XP = floorZero(s.XP - l.cfg.XPPerCleanDay)
			s.LastCompletedDate = ""
			carried = s.CurrentStreak - 1
		case s.LastCompletedDate != "" && s.LastCompletedDate == PreviousTradingDay(date):
			carried = s.CurrentStreak
		}
		s.BrokenDate, s.StreakBeforeBreak = date, floorZero(carried)
		s.CurrentStreak = 0
	default:
		return s, nil
	}

	return l.save(ctx, s)
}

// OnDayOverridden resets the streak and deducts the penalty once per date.
func (l *Ledger) OnDayOverridden(ctx context.Context, userID, date string) (*State, error) {
	if userID == "" || !dayclock.ValidDate(date) {
		return nil, fmt.Errorf("invalid override for %q on %q", userID, date)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	s, err := l.Get(ctx, userID)
	if err != nil {
		return nil, err
	}
	if s.LastOverrideDate == date {
		return s, nil
	}

	s.CurrentStreak = 0
	s.XP = floorZero(s.XP - l.cfg.OverridePenalty)
	s.LastOverrideDate = date

	l.logger.Info().Str("user_id", userID).Str("date", date).Int("xp", s.XP).Msg("Streak reset by override")
	return l.save(ctx, s)
}

func (l *Ledger) save(ctx context.Context, s *State) (*State, error) {
	s.UpdatedAt = l.now()
	if err := l.store.SaveRewards(ctx, s); err != nil {
		return nil, fmt.Errorf("failed to save rewards: %w", err)
	}
	l.bus.Publish(events.Event{
		Type: events.EventRewardsUpdated,
		Data: map[string]interface{}{
			"user_id":        s.UserID,
			"current_streak": s.CurrentStreak,
			"best_streak":    s.BestStreak,
			"xp":             s.XP,
		},
	})
	return s, nil
}

// PreviousTradingDay returns the weekday before date, skipping weekends.
func PreviousTradingDay(date string) string {
	d, err := time.Parse(dayclock.DateLayout, date)
	if err != nil {
		return ""
	}
	d = d.AddDate(0, 0, -1)
	for d.Weekday() == time.Saturday || d.Weekday() == time.Sunday {
		d = d.AddDate(0, 0, -1)
	}
	return d.Format(dayclock.DateLayout)
}

func floorZero(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

// MemoryStore keeps reward state in process.
type MemoryStore struct {
	mu     sync.RWMutex
	states map[string]State
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{states: make(map[string]State)}
}

func (m *MemoryStore) GetRewards(_ context.Context, userID string) (*State, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.states[userID]
	if !ok {
		return nil, nil
	}
	return &s, nil
}

func (m *MemoryStore) SaveRewards(_ context.Context, s *State) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.states[s.UserID] = *s
	return nil
}
