package discipline

import (
	"context"
	"errors"
	"strings"
	"time"
	"unicode/utf8"

	"trading-journal/internal/dayclock"
	"trading-journal/internal/events"

	"github.com/rs/zerolog"
)

// Service runs the discipline state machine on top of a Store.
type Service struct {
	store        Store
	clock        *dayclock.Resolver
	feed         Publisher
	bus          *events.EventBus
	logger       zerolog.Logger
	minReasonLen int
	defaultMax   func(ctx context.Context, userID string) int
}

// Option configures a Service.
type Option func(*Service)

// WithPublisher pushes every authoritative write to live subscribers.
func WithPublisher(p Publisher) Option {
	return func(s *Service) { s.feed = p }
}

// WithEventBus publishes domain events for transitions.
func WithEventBus(bus *events.EventBus) Option {
	return func(s *Service) { s.bus = bus }
}

// WithMinReasonLength overrides the 30 character override justification.
func WithMinReasonLength(n int) Option {
	return func(s *Service) {
		if n > 0 {
			s.minReasonLen = n
		}
	}
}

// WithDefaultMax supplies the allotment for users without settings, e.g.
// derived from their subscription tier. The result is clamped to [1, 10].
func WithDefaultMax(fn func(ctx context.Context, userID string) int) Option {
	return func(s *Service) { s.defaultMax = fn }
}

// NewService creates a new discipline service
func NewService(store Store, clock *dayclock.Resolver, logger zerolog.Logger, opts ...Option) *Service {
	s := &Service{
		store:        store,
		clock:        clock,
		logger:       logger.With().Str("component", "discipline").Logger(),
		minReasonLen: MinReasonLength,
		defaultMax:   func(context.Context, string) int { return DefaultMaxTrades },
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Clock exposes the day resolver used by the service.
func (s *Service) Clock() *dayclock.Resolver {
	return s.clock
}

// MinReasonLength is the override justification threshold in characters.
func (s *Service) MinReasonLength() int {
	return s.minReasonLen
}

// ============================================================================
// SETTINGS
// ============================================================================

// Settings returns the user's settings, or disabled defaults when none exist.
func (s *Service) Settings(ctx context.Context, userID string) (*Settings, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}
	if settings == nil {
		return &Settings{UserID: userID}, nil
	}
	return settings, nil
}

// SetDisciplineMode turns discipline mode on or off. Enabling requires a
// default allotment in [1, 10]; existing day records are not touched.
func (s *Service) SetDisciplineMode(ctx context.Context, userID string, enabled bool, defaultMax *int) (settings *Settings, err error) {
	defer s.observe("set_mode", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if enabled && defaultMax == nil {
		return nil, validationError("default max is required when enabling discipline mode")
	}
	if defaultMax != nil && !ValidMax(*defaultMax) {
		return nil, validationError("default max must be between %d and %d", MinTrades, MaxTrades)
	}

	current, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}

	settings = &Settings{UserID: userID}
	if current != nil {
		*settings = *current
	}
	settings.Enabled = enabled
	if defaultMax != nil {
		settings.DefaultMax = *defaultMax
	}
	settings.UpdatedAt = s.clock.Now()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, storeError("save settings", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Bool("enabled", enabled).
		Int("default_max", settings.DefaultMax).
		Msg("Discipline mode updated")
	s.bus.PublishModeChanged(userID, enabled, settings.DefaultMax)

	return settings, nil
}

// SetTimezone stores the IANA zone used to compute the user's day keys.
func (s *Service) SetTimezone(ctx context.Context, userID, tz string) (settings *Settings, err error) {
	defer s.observe("set_timezone", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !dayclock.ValidZone(tz) {
		return nil, validationError("unknown time zone %q", tz)
	}

	current, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}
	settings = &Settings{UserID: userID}
	if current != nil {
		*settings = *current
	}
	settings.Timezone = tz
	settings.UpdatedAt = s.clock.Now()

	if err := s.store.SaveSettings(ctx, settings); err != nil {
		return nil, storeError("save settings", err)
	}
	return settings, nil
}

// Zone picks the zone for a user: stored settings first, then the caller's
// hint. An empty result makes the resolver use its default zone.
func (s *Service) Zone(ctx context.Context, userID, hint string) string {
	if userID != "" {
		if settings, err := s.store.GetSettings(ctx, userID); err == nil && settings != nil && settings.Timezone != "" {
			return settings.Timezone
		}
	}
	return hint
}

// ============================================================================
// DAY TRANSITIONS
// ============================================================================

// CheckInDay sets today's allotment. The record is created open when absent;
// a terminal status is preserved. The allotment cannot drop below the trades
// already used unless the day was overridden.
func (s *Service) CheckInDay(ctx context.Context, userID, tz string, maxTrades int) (rec *DayRecord, err error) {
	defer s.observe("check_in", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !ValidMax(maxTrades) {
		return nil, validationError("max trades must be between %d and %d", MinTrades, MaxTrades)
	}

	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}
	enabled := settings != nil && settings.Enabled

	date := s.clock.Today(tz)
	now := s.clock.Now()
	rec, err = s.store.EnsureDay(ctx, &DayRecord{
		UserID:            userID,
		Date:              date,
		MaxTrades:         maxTrades,
		Status:            StatusOpen,
		DisciplineEnabled: enabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, storeError("ensure day", err)
	}

	// Only an override may leave more trades used than allowed.
	if maxTrades < rec.UsedTrades && !rec.Overridden {
		return nil, validationError("max trades %d is below the %d already used today", maxTrades, rec.UsedTrades)
	}

	var patch DayPatch
	if rec.MaxTrades != maxTrades {
		patch.MaxTrades = intPtr(maxTrades)
	}
	if rec.DisciplineEnabled != enabled {
		patch.DisciplineEnabled = boolPtr(enabled)
	}
	if !patch.Empty() {
		rec, err = s.store.MergeDay(ctx, userID, date, patch)
		if err != nil {
			return nil, storeError("merge day", err)
		}
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("date", date).
		Int("max_trades", maxTrades).
		Msg("Day checked in")
	s.announce(ctx, events.EventDayCheckedIn, rec, map[string]interface{}{
		"max_trades": rec.MaxTrades,
	})

	return rec, nil
}

// QuickLogTrade counts one trade against today's allotment, creating the
// record lazily. MAX_REACHED leaves the record untouched.
func (s *Service) QuickLogTrade(ctx context.Context, userID, tz string) (rec *DayRecord, err error) {
	defer s.observe("quick_log", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}

	date := s.clock.Today(tz)
	late := s.clock.IsLate(tz)

	rec, err = s.store.IncrementUsed(ctx, userID, date, late)
	if errors.Is(err, ErrNotFound) {
		if _, err = s.ensureDay(ctx, userID, date); err != nil {
			return nil, err
		}
		rec, err = s.store.IncrementUsed(ctx, userID, date, late)
	}
	if errors.Is(err, ErrMaxReached) {
		maxReachedTotal.Inc()
		s.logger.Debug().Str("user_id", userID).Str("date", date).Msg("Quick log rejected: max reached")
		s.bus.PublishDayEvent(events.EventDayMaxReached, userID, date, nil)
		return nil, err
	}
	if err != nil {
		return nil, storeError("increment used trades", err)
	}

	s.logger.Debug().
		Str("user_id", userID).
		Str("date", date).
		Int("used", rec.UsedTrades).
		Int("max", rec.MaxTrades).
		Bool("late", late).
		Msg("Trade logged")
	s.announce(ctx, events.EventTradeLogged, rec, map[string]interface{}{
		"used_trades": rec.UsedTrades,
		"max_trades":  rec.MaxTrades,
		"late":        late,
	})

	return rec, nil
}

// OverrideDay breaks today's discipline with a written justification of at
// least the configured length (trimmed). A completed day cannot be overridden.
func (s *Service) OverrideDay(ctx context.Context, userID, tz, reason string) (rec *DayRecord, err error) {
	defer s.observe("override", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	trimmed := strings.TrimSpace(reason)
	if utf8.RuneCountInString(trimmed) < s.minReasonLen {
		return nil, validationError("override reason must be at least %d characters", s.minReasonLen)
	}

	date := s.clock.Today(tz)
	rec, err = s.ensureDay(ctx, userID, date)
	if err != nil {
		return nil, err
	}
	if rec.Status == StatusCompleted {
		return nil, validationError("day %s is already completed", date)
	}

	rec, err = s.store.MergeDay(ctx, userID, date, DayPatch{
		Status:         statusPtr(StatusBroken),
		Overridden:     boolPtr(true),
		OverrideReason: strPtr(trimmed),
	})
	if err != nil {
		return nil, storeError("merge day", err)
	}

	s.logger.Warn().
		Str("user_id", userID).
		Str("date", date).
		Int("used", rec.UsedTrades).
		Int("max", rec.MaxTrades).
		Msg("Day overridden")
	s.announce(ctx, events.EventDayOverridden, rec, map[string]interface{}{
		"reason":      trimmed,
		"used_trades": rec.UsedTrades,
		"max_trades":  rec.MaxTrades,
	})

	return rec, nil
}

// SubmitEOD reconciles today with the trader's self-report. Re-submission
// overwrites: used = max(logged, reported), never an accumulation.
func (s *Service) SubmitEOD(ctx context.Context, userID, tz string, actualCount int, respected bool) (rec *DayRecord, err error) {
	defer s.observe("submit_eod", time.Now(), &err)

	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if actualCount < 0 {
		return nil, validationError("actual trade count cannot be negative")
	}

	date := s.clock.Today(tz)
	if _, err = s.ensureDay(ctx, userID, date); err != nil {
		return nil, err
	}

	rec, err = s.store.SubmitEOD(ctx, userID, date, actualCount, respected)
	if err != nil {
		return nil, storeError("submit eod", err)
	}

	s.logger.Info().
		Str("user_id", userID).
		Str("date", date).
		Int("used", rec.UsedTrades).
		Bool("respected", respected).
		Str("status", string(rec.Status)).
		Msg("End of day submitted")
	s.announce(ctx, events.EventDaySubmitted, rec, map[string]interface{}{
		"status":          string(rec.Status),
		"used_trades":     rec.UsedTrades,
		"respected_limit": rec.RespectedLimit,
		"overridden":      rec.Overridden,
	})

	return rec, nil
}

// ============================================================================
// READS
// ============================================================================

// Today returns today's record, or nil when the user has not touched the day.
func (s *Service) Today(ctx context.Context, userID, tz string) (*DayRecord, error) {
	return s.Day(ctx, userID, s.clock.Today(tz))
}

// Day returns the record for date, or nil when absent.
func (s *Service) Day(ctx context.Context, userID, date string) (*DayRecord, error) {
	if userID == "" {
		return nil, ErrUnauthenticated
	}
	if !dayclock.ValidDate(date) {
		return nil, validationError("invalid date %q", date)
	}
	rec, err := s.store.GetDay(ctx, userID, date)
	if err != nil {
		return nil, storeError("get day", err)
	}
	return rec, nil
}

// ============================================================================
// HELPERS
// ============================================================================

func (s *Service) ensureDay(ctx context.Context, userID, date string) (*DayRecord, error) {
	settings, err := s.store.GetSettings(ctx, userID)
	if err != nil {
		return nil, storeError("get settings", err)
	}

	allotment := 0
	enabled := false
	if settings != nil {
		enabled = settings.Enabled
		allotment = settings.DefaultMax
	}
	if allotment == 0 {
		allotment = s.defaultMax(ctx, userID)
	}

	now := s.clock.Now()
	rec, err := s.store.EnsureDay(ctx, &DayRecord{
		UserID:            userID,
		Date:              date,
		MaxTrades:         ClampMax(allotment),
		Status:            StatusOpen,
		DisciplineEnabled: enabled,
		CreatedAt:         now,
		UpdatedAt:         now,
	})
	if err != nil {
		return nil, storeError("ensure day", err)
	}
	return rec, nil
}

// announce pushes rec to live subscribers and the event bus. Feed failures
// are logged; the write already succeeded.
func (s *Service) announce(ctx context.Context, eventType events.EventType, rec *DayRecord, data map[string]interface{}) {
	if s.feed != nil {
		if err := s.feed.Publish(ctx, *rec); err != nil {
			s.logger.Warn().Err(err).Str("user_id", rec.UserID).Str("date", rec.Date).Msg("Failed to publish day update")
		}
	}
	s.bus.PublishDayEvent(eventType, rec.UserID, rec.Date, data)
}

func (s *Service) observe(op string, start time.Time, errp *error) {
	result := "ok"
	if errp != nil && *errp != nil {
		result = strings.ToLower(string(CodeOf(*errp)))
		if result == "" {
			result = "error"
		}
	}
	operationsTotal.WithLabelValues(op, result).Inc()
	operationDuration.WithLabelValues(op).Observe(time.Since(start).Seconds())
}
