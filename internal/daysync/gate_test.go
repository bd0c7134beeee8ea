package daysync

import (
	"context"
	"errors"
	"testing"
	"time"

	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestGate(t *testing.T, submit SubmitFunc) (*OverrideGate, *dayclock.FixedClock) {
	t.Helper()
	clock := dayclock.NewFixedClock(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))
	return NewOverrideGate(0, clock, submit), clock
}

func TestOverrideGate_HoldThenSubmit(t *testing.T) {
	calls := 0
	gate, clock := newTestGate(t, func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		calls++
		return &discipline.DayRecord{Overridden: true, OverrideReason: reason}, nil
	})

	_, err := gate.Confirm(context.Background(), "x")
	assert.ErrorIs(t, err, ErrOverrideNotArmed)

	readyAt := gate.Arm()
	assert.Equal(t, clock.Now().Add(DefaultOverrideHold), readyAt)
	assert.Equal(t, DefaultOverrideHold, gate.Remaining())

	clock.Advance(time.Second)
	_, err = gate.Confirm(context.Background(), "x")
	assert.ErrorIs(t, err, ErrOverrideHold)
	assert.Equal(t, 2*time.Second, gate.Remaining())

	clock.Advance(2 * time.Second)
	rec, err := gate.Confirm(context.Background(), "reason")
	require.NoError(t, err)
	assert.True(t, rec.Overridden)
	assert.Equal(t, 1, calls)

	// Success disarms.
	_, err = gate.Confirm(context.Background(), "reason")
	assert.ErrorIs(t, err, ErrOverrideNotArmed)
	assert.Zero(t, gate.Remaining())
}

func TestOverrideGate_StaysArmedOnFailure(t *testing.T) {
	fail := true
	gate, clock := newTestGate(t, func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		if fail {
			return nil, errors.New("too short")
		}
		return &discipline.DayRecord{}, nil
	})

	gate.Arm()
	clock.Advance(DefaultOverrideHold)
	_, err := gate.Confirm(context.Background(), "short")
	require.Error(t, err)

	fail = false
	_, err = gate.Confirm(context.Background(), "long enough now")
	require.NoError(t, err)
}

func TestOverrideGate_WindowExpires(t *testing.T) {
	gate, clock := newTestGate(t, func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		return &discipline.DayRecord{}, nil
	})

	gate.Arm()
	clock.Advance(DefaultOverrideWindow + time.Second)
	_, err := gate.Confirm(context.Background(), "reason")
	assert.ErrorIs(t, err, ErrOverrideNotArmed)
}

func TestOverrideGate_Disarm(t *testing.T) {
	gate, clock := newTestGate(t, func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		return &discipline.DayRecord{}, nil
	})

	gate.Arm()
	gate.Disarm()
	clock.Advance(DefaultOverrideHold)
	_, err := gate.Confirm(context.Background(), "reason")
	assert.ErrorIs(t, err, ErrOverrideNotArmed)
}

func TestOverrideGate_RejectsConcurrentConfirm(t *testing.T) {
	clock := dayclock.NewFixedClock(time.Date(2026, 10, 15, 14, 0, 0, 0, time.UTC))
	release := make(chan struct{})
	entered := make(chan struct{})
	gate := NewOverrideGate(time.Second, clock, func(ctx context.Context, reason string) (*discipline.DayRecord, error) {
		close(entered)
		<-release
		return &discipline.DayRecord{}, nil
	})
	ctx := context.Background()

	gate.Arm()
	clock.Advance(time.Second)

	done := make(chan error, 1)
	go func() {
		_, err := gate.Confirm(ctx, "x")
		done <- err
	}()
	<-entered

	_, err := gate.Confirm(ctx, "x")
	assert.Same(t, ErrOverrideInFlight, err)

	close(release)
	assert.NoError(t, <-done)
}

func TestGates_PerUser(t *testing.T) {
	gates := NewGates(time.Second, dayclock.NewFixedClock(time.Now()))
	submit := func(ctx context.Context, reason string) (*discipline.DayRecord, error) { return nil, nil }

	a := gates.For("a", submit)
	assert.Same(t, a, gates.For("a", submit))
	assert.NotSame(t, a, gates.For("b", submit))

	gates.Forget("a")
	assert.NotSame(t, a, gates.For("a", submit))
}
