package discipline

import (
	"context"
	"errors"
	"strings"
	"testing"
	"time"

	"trading-journal/internal/dayclock"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/rs/zerolog"
)

func propertyService(now time.Time) (*Service, *MemoryStore) {
	store := NewMemoryStore()
	clock := dayclock.NewResolver(dayclock.WithClock(dayclock.NewFixedClock(now)))
	return NewService(store, clock, zerolog.Nop()), store
}

var propertyNow = time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC)

func TestDisciplineProperties(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 150
	properties := gopter.NewProperties(parameters)
	ctx := context.Background()

	properties.Property("quick-log never pushes used past max without override", prop.ForAll(
		func(max int, attempts int) bool {
			svc, _ := propertyService(propertyNow)
			if _, err := svc.CheckInDay(ctx, testUser, testTZ, max); err != nil {
				return false
			}
			for i := 0; i < attempts; i++ {
				rec, err := svc.QuickLogTrade(ctx, testUser, testTZ)
				if err == nil && rec.UsedTrades > rec.MaxTrades {
					return false
				}
				if err != nil && !errors.Is(err, ErrMaxReached) {
					return false
				}
			}
			rec, _ := svc.Today(ctx, testUser, testTZ)
			want := attempts
			if want > max {
				want = max
			}
			return rec.UsedTrades == want
		},
		gen.IntRange(MinTrades, MaxTrades),
		gen.IntRange(0, 25),
	))

	properties.Property("MAX_REACHED leaves the record unchanged", prop.ForAll(
		func(max int) bool {
			svc, store := propertyService(propertyNow)
			if _, err := svc.CheckInDay(ctx, testUser, testTZ, max); err != nil {
				return false
			}
			for i := 0; i < max; i++ {
				if _, err := svc.QuickLogTrade(ctx, testUser, testTZ); err != nil {
					return false
				}
			}
			before, _ := store.GetDay(ctx, testUser, "2026-10-15")
			_, err := svc.QuickLogTrade(ctx, testUser, testTZ)
			after, _ := store.GetDay(ctx, testUser, "2026-10-15")
			return errors.Is(err, ErrMaxReached) &&
				before.UsedTrades == after.UsedTrades &&
				before.LateLogging == after.LateLogging &&
				before.UpdatedAt.Equal(after.UpdatedAt)
		},
		gen.IntRange(MinTrades, MaxTrades),
	))

	properties.Property("override requires at least 30 trimmed characters", prop.ForAll(
		func(n int, pad int) bool {
			svc, _ := propertyService(propertyNow)
			reason := strings.Repeat(" ", pad) + strings.Repeat("r", n) + strings.Repeat("\t", pad)
			rec, err := svc.OverrideDay(ctx, testUser, testTZ, reason)
			if n < MinReasonLength {
				return errors.Is(err, ErrValidation)
			}
			return err == nil && rec.Status == StatusBroken && rec.Overridden
		},
		gen.IntRange(0, 60),
		gen.IntRange(0, 10),
	))

	properties.Property("check-in outside [1,10] is a validation error", prop.ForAll(
		func(max int) bool {
			svc, store := propertyService(propertyNow)
			_, err := svc.CheckInDay(ctx, testUser, testTZ, max)
			_, modeErr := svc.SetDisciplineMode(ctx, testUser, true, &max)
			rec, _ := store.GetDay(ctx, testUser, "2026-10-15")
			settings, _ := store.GetSettings(ctx, testUser)
			return errors.Is(err, ErrValidation) && errors.Is(modeErr, ErrValidation) && rec == nil && settings == nil
		},
		gen.OneGenOf(gen.IntRange(-100, 0), gen.IntRange(11, 100)),
	))

	properties.Property("EOD stores max(tracked, reported)", prop.ForAll(
		func(logged int, reported int, respected bool) bool {
			svc, _ := propertyService(propertyNow)
			if _, err := svc.CheckInDay(ctx, testUser, testTZ, MaxTrades); err != nil {
				return false
			}
			for i := 0; i < logged; i++ {
				if _, err := svc.QuickLogTrade(ctx, testUser, testTZ); err != nil {
					return false
				}
			}
			rec, err := svc.SubmitEOD(ctx, testUser, testTZ, reported, respected)
			if err != nil {
				return false
			}
			want := logged
			if reported > want {
				want = reported
			}
			return rec.UsedTrades == want && rec.RespectedLimit == respected
		},
		gen.IntRange(0, MaxTrades),
		gen.IntRange(0, 20),
		gen.Bool(),
	))

	properties.Property("late logging is set exactly from the local cutoff", prop.ForAll(
		func(minuteOfDay int) bool {
			// Midnight New York (EDT) on 2026-10-15.
			localMidnight := time.Date(2026, 10, 15, 4, 0, 0, 0, time.UTC)
			now := localMidnight.Add(time.Duration(minuteOfDay) * time.Minute)
			svc, _ := propertyService(now)
			rec, err := svc.QuickLogTrade(ctx, testUser, testTZ)
			if err != nil {
				return false
			}
			return rec.LateLogging == (minuteOfDay >= 16*60+10)
		},
		gen.IntRange(0, 24*60-1),
	))

	properties.Property("day key is the local calendar date", prop.ForAll(
		func(minutes int) bool {
			now := propertyNow.Add(time.Duration(minutes) * time.Minute)
			svc, _ := propertyService(now)
			rec, err := svc.CheckInDay(ctx, testUser, testTZ, 3)
			if err != nil {
				return false
			}
			loc, _ := time.LoadLocation(testTZ)
			return rec.Date == now.In(loc).Format(dayclock.DateLayout)
		},
		gen.IntRange(-3*24*60, 3*24*60),
	))

	properties.Property("re-check-in never leaves used above max without override", prop.ForAll(
		func(first, logged, second int) bool {
			svc, store := propertyService(propertyNow)
			if _, err := svc.CheckInDay(ctx, testUser, testTZ, first); err != nil {
				return false
			}
			for i := 0; i < logged; i++ {
				_, _ = svc.QuickLogTrade(ctx, testUser, testTZ)
			}
			_, err := svc.CheckInDay(ctx, testUser, testTZ, second)
			rec, _ := store.GetDay(ctx, testUser, "2026-10-15")
			if rec.UsedTrades > second {
				return errors.Is(err, ErrValidation) && rec.MaxTrades == first
			}
			return err == nil && rec.MaxTrades == second && rec.UsedTrades <= rec.MaxTrades
		},
		gen.IntRange(MinTrades, MaxTrades),
		gen.IntRange(0, 12),
		gen.IntRange(MinTrades, MaxTrades),
	))

	properties.Property("last EOD submission wins", prop.ForAll(
		func(first int, firstRespected bool, second int, secondRespected bool) bool {
			svc, _ := propertyService(propertyNow)
			if _, err := svc.CheckInDay(ctx, testUser, testTZ, 3); err != nil {
				return false
			}
			if _, err := svc.SubmitEOD(ctx, testUser, testTZ, first, firstRespected); err != nil {
				return false
			}
			rec, err := svc.SubmitEOD(ctx, testUser, testTZ, second, secondRespected)
			if err != nil {
				return false
			}
			return rec.UsedTrades == second &&
				rec.RespectedLimit == secondRespected &&
				rec.Status == EODStatus(secondRespected, false)
		},
		gen.IntRange(0, 20),
		gen.Bool(),
		gen.IntRange(0, 20),
		gen.Bool(),
	))

	properties.TestingRun(t)
}
