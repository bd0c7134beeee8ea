package daysync

import (
	"context"
	"sync"
	"time"

	"trading-journal/internal/dayclock"
	"trading-journal/internal/discipline"
)

// Override gate defaults.
const (
	DefaultOverrideHold   = 3 * time.Second
	DefaultOverrideWindow = 2 * time.Minute
)

var (
	ErrOverrideNotArmed = &discipline.Error{Code: discipline.CodeValidation, Message: "override must be armed first"}
	ErrOverrideHold     = &discipline.Error{Code: discipline.CodeValidation, Message: "override hold has not elapsed"}
	ErrOverrideInFlight = &discipline.Error{Code: discipline.CodeValidation, Message: "override already being submitted"}
)

// SubmitFunc performs the override once the gate opens.
type SubmitFunc func(ctx context.Context, reason string) (*discipline.DayRecord, error)

// OverrideGate enforces the hold countdown before an override may be
// submitted. Arm starts the countdown; Confirm fails until it elapsed and
// after the arm window expired.
type OverrideGate struct {
	hold   time.Duration
	window time.Duration
	clock  dayclock.Clock
	submit SubmitFunc

	mu       sync.Mutex
	armedAt  time.Time
	inFlight bool
}

// NewOverrideGate creates a gate. hold <= 0 uses DefaultOverrideHold.
func NewOverrideGate(hold time.Duration, clock dayclock.Clock, submit SubmitFunc) *OverrideGate {
	if hold <= 0 {
		hold = DefaultOverrideHold
	}
	if clock == nil {
		clock = dayclock.SystemClock{}
	}
	return &OverrideGate{
		hold:   hold,
		window: DefaultOverrideWindow,
		clock:  clock,
		submit: submit,
	}
}

// Arm (re)starts the countdown and returns when Confirm becomes possible.
func (g *OverrideGate) Arm() time.Time {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armedAt = g.clock.Now()
	return g.armedAt.Add(g.hold)
}

// Disarm cancels a pending override.
func (g *OverrideGate) Disarm() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.armedAt = time.Time{}
}

// Remaining returns the hold time left, zero once ready or when unarmed.
func (g *OverrideGate) Remaining() time.Duration {
	g.mu.Lock()
	defer g.mu.Unlock()
	if g.armedAt.IsZero() {
		return 0
	}
	left := g.hold - g.clock.Now().Sub(g.armedAt)
	if left < 0 {
		return 0
	}
	return left
}

// Confirm submits the override when the gate is open. The gate disarms on
// success and stays armed on failure so the user can correct the reason.
func (g *OverrideGate) Confirm(ctx context.Context, reason string) (*discipline.DayRecord, error) {
	g.mu.Lock()
	if g.armedAt.IsZero() {
		g.mu.Unlock()
		return nil, ErrOverrideNotArmed
	}
	elapsed := g.clock.Now().Sub(g.armedAt)
	if elapsed > g.window {
		g.armedAt = time.Time{}
		g.mu.Unlock()
		return nil, ErrOverrideNotArmed
	}
	if elapsed < g.hold {
		g.mu.Unlock()
		return nil, ErrOverrideHold
	}
	if g.inFlight {
		g.mu.Unlock()
		return nil, ErrOverrideInFlight
	}
	g.inFlight = true
	g.mu.Unlock()

	rec, err := g.submit(ctx, reason)

	g.mu.Lock()
	g.inFlight = false
	if err == nil {
		g.armedAt = time.Time{}
	}
	g.mu.Unlock()
	return rec, err
}

// Gates holds one OverrideGate per user for request/response transports.
type Gates struct {
	hold  time.Duration
	clock dayclock.Clock

	mu    sync.Mutex
	gates map[string]*OverrideGate
}

// NewGates creates an empty registry.
func NewGates(hold time.Duration, clock dayclock.Clock) *Gates {
	return &Gates{hold: hold, clock: clock, gates: make(map[string]*OverrideGate)}
}

// For returns the user's gate, creating it with submit on first use.
func (g *Gates) For(userID string, submit SubmitFunc) *OverrideGate {
	g.mu.Lock()
	defer g.mu.Unlock()
	gate, ok := g.gates[userID]
	if !ok {
		gate = NewOverrideGate(g.hold, g.clock, submit)
		g.gates[userID] = gate
	}
	return gate
}

// Forget drops a user's gate, e.g. on sign-out.
func (g *Gates) Forget(userID string) {
	g.mu.Lock()
	defer g.mu.Unlock()
	delete(g.gates, userID)
}
