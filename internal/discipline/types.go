// Package discipline implements the daily trade allotment loop: check-in,
// quick-logging against the allotment, justified overrides and end-of-day
// reconciliation.
package discipline

import (
	"time"
)

// Status is the lifecycle state of a day.
type Status string

const (
	StatusOpen      Status = "open"
	StatusCompleted Status = "completed"
	StatusBroken    Status = "broken"
	// StatusSkipped is derived at read time and never persisted.
	StatusSkipped Status = "skipped"
)

// IsTerminal reports whether no regular transition may leave s.
func (s Status) IsTerminal() bool {
	return s == StatusCompleted || s == StatusBroken
}

// Bounds on the daily allotment.
const (
	MinTrades        = 1
	MaxTrades        = 10
	DefaultMaxTrades = 3
	MinReasonLength  = 30
)

// ValidMax reports whether n is an acceptable allotment.
func ValidMax(n int) bool {
	return n >= MinTrades && n <= MaxTrades
}

// ClampMax forces n into [MinTrades, MaxTrades].
func ClampMax(n int) int {
	if n < MinTrades {
		return MinTrades
	}
	if n > MaxTrades {
		return MaxTrades
	}
	return n
}

// DayRecord is the per-user, per-date discipline state.
type DayRecord struct {
	UserID            string    `json:"user_id"`
	Date              string    `json:"date"`
	MaxTrades         int       `json:"max_trades"`
	UsedTrades        int       `json:"used_trades"`
	LoggedTrades      int       `json:"logged_trades"`
	ReportedTrades    *int      `json:"reported_trades,omitempty"`
	Status            Status    `json:"status"`
	RespectedLimit    bool      `json:"respected_limit"`
	LateLogging       bool      `json:"late_logging"`
	DisciplineEnabled bool      `json:"discipline_enabled"`
	Overridden        bool      `json:"overridden"`
	OverrideReason    string    `json:"override_reason,omitempty"`
	CreatedAt         time.Time `json:"created_at"`
	UpdatedAt         time.Time `json:"updated_at"`
}

// Remaining returns the bullets left before the quick-log guard trips.
func (r *DayRecord) Remaining() int {
	if r.UsedTrades >= r.MaxTrades {
		return 0
	}
	return r.MaxTrades - r.UsedTrades
}

// Full reports whether a quick-log would be rejected.
func (r *DayRecord) Full() bool {
	return !r.Overridden && r.UsedTrades >= r.MaxTrades
}

// Clone returns a deep copy.
func (r *DayRecord) Clone() *DayRecord {
	if r == nil {
		return nil
	}
	c := *r
	if r.ReportedTrades != nil {
		v := *r.ReportedTrades
		c.ReportedTrades = &v
	}
	return &c
}

// Settings is the per-user discipline configuration.
type Settings struct {
	UserID     string    `json:"user_id"`
	Enabled    bool      `json:"enabled"`
	DefaultMax int       `json:"default_max,omitempty"` // 0 when never set
	Timezone   string    `json:"timezone,omitempty"`
	UpdatedAt  time.Time `json:"updated_at"`
}

// DayPatch is a partial update of a DayRecord. Nil fields are left untouched.
type DayPatch struct {
	MaxTrades         *int
	Status            *Status
	DisciplineEnabled *bool
	Overridden        *bool
	OverrideReason    *string
}

// Empty reports whether the patch changes nothing.
func (p DayPatch) Empty() bool {
	return p.MaxTrades == nil && p.Status == nil && p.DisciplineEnabled == nil &&
		p.Overridden == nil && p.OverrideReason == nil
}

// Apply merges the patch into r.
func (p DayPatch) Apply(r *DayRecord) {
	if p.MaxTrades != nil {
		r.MaxTrades = *p.MaxTrades
	}
	if p.Status != nil {
		r.Status = *p.Status
	}
	if p.DisciplineEnabled != nil {
		r.DisciplineEnabled = *p.DisciplineEnabled
	}
	if p.Overridden != nil {
		r.Overridden = *p.Overridden
	}
	if p.OverrideReason != nil {
		r.OverrideReason = *p.OverrideReason
	}
}

// EODStatus is the status a submission resolves to. An overridden day stays
// broken whatever the self-report says: respected=true on an overridden day
// still yields StatusBroken, and no later submission can complete it because
// nothing clears Overridden once set.
func EODStatus(respected, overridden bool) Status {
	if respected && !overridden {
		return StatusCompleted
	}
	return StatusBroken
}

// ReviewDay is one entry of the weekly review.
type ReviewDay struct {
	Date    string     `json:"date"`
	Status  string     `json:"status"`
	Neutral bool       `json:"neutral"`
	Record  *DayRecord `json:"record,omitempty"`
}

// Review classifications beyond the persisted statuses.
const (
	ReviewPending  = "pending"
	ReviewUpcoming = "upcoming"
)

// WeeklyReview summarizes seven days.
type WeeklyReview struct {
	UserID    string      `json:"user_id"`
	Timezone  string      `json:"timezone"`
	Days      []ReviewDay `json:"days"`
	Completed int         `json:"completed"`
	Broken    int         `json:"broken"`
	Skipped   int         `json:"skipped"`
	Overrides int         `json:"overrides"`
}

func intPtr(v int) *int          { return &v }
func boolPtr(v bool) *bool       { return &v }
func strPtr(v string) *string    { return &v }
func statusPtr(v Status) *Status { return &v }
