package discipline

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestClassify(t *testing.T) {
	today := "2026-10-15"
	open := &DayRecord{Date: "2026-10-13", Status: StatusOpen, DisciplineEnabled: true}
	broken := &DayRecord{Date: "2026-10-14", Status: StatusBroken, DisciplineEnabled: false}

	tests := []struct {
		name        string
		rec         *DayRecord
		date        string
		on          bool
		wantStatus  string
		wantNeutral bool
	}{
		{"elapsed without record", nil, "2026-10-12", true, "skipped", false},
		{"elapsed without record, mode off", nil, "2026-10-12", false, "skipped", true},
		{"elapsed open record", open, "2026-10-13", true, "open", false},
		{"record uses its own flag", broken, "2026-10-14", true, "broken", true},
		{"today without record", nil, today, true, ReviewPending, false},
		{"future", nil, "2026-10-16", true, ReviewUpcoming, false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			day := Classify(tt.rec, tt.date, today, tt.on)
			assert.Equal(t, tt.wantStatus, day.Status)
			assert.Equal(t, tt.wantNeutral, day.Neutral)
		})
	}
}

func TestWeeklyReview(t *testing.T) {
	svc, store, clock, _ := newTestService(t, "2026-10-12T14:00:00Z") // Monday
	ctx := context.Background()

	_, err := svc.SetDisciplineMode(ctx, testUser, true, intPtr(3))
	require.NoError(t, err)

	// Monday: clean day
	_, err = svc.CheckInDay(ctx, testUser, testTZ, 3)
	require.NoError(t, err)
	_, err = svc.SubmitEOD(ctx, testUser, testTZ, 1, true)
	require.NoError(t, err)

	// Tuesday: nothing (skipped)
	// Wednesday: override
	clock.Advance(48 * time.Hour)
	_, err = svc.OverrideDay(ctx, testUser, testTZ, validReason)
	require.NoError(t, err)

	// Thursday: today, checked in only
	clock.Advance(24 * time.Hour)
	_, err = svc.CheckInDay(ctx, testUser, testTZ, 2)
	require.NoError(t, err)

	review, err := svc.WeeklyReview(ctx, testUser, testTZ)
	require.NoError(t, err)
	require.Len(t, review.Days, 7)

	statuses := make([]string, 0, 7)
	for _, d := range review.Days {
		statuses = append(statuses, d.Status)
	}
	assert.Equal(t, []string{"completed", "skipped", "broken", "open", "upcoming", "upcoming", "upcoming"}, statuses)
	assert.Equal(t, 1, review.Completed)
	assert.Equal(t, 1, review.Broken)
	assert.Equal(t, 1, review.Skipped)
	assert.Equal(t, 1, review.Overrides)
	assert.Equal(t, testTZ, review.Timezone)

	// Skipped is never written back.
	rec, err := store.GetDay(ctx, testUser, "2026-10-13")
	require.NoError(t, err)
	assert.Nil(t, rec)
}
