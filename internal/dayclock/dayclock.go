// Package dayclock maps instants to calendar day keys in a trader's own
// time zone. Day keys are "YYYY-MM-DD" strings and never derive from UTC
// midnight.
package dayclock

import (
	"sync"
	"time"
)

const (
	// DateLayout is the format of every day key.
	DateLayout = "2006-01-02"

	DefaultZone         = "America/New_York"
	DefaultCutoffHour   = 16
	DefaultCutoffMinute = 10
)

// Clock abstracts the current time.
type Clock interface {
	Now() time.Time
}

// SystemClock reads the wall clock.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// FixedClock returns a settable instant.
type FixedClock struct {
	mu sync.RWMutex
	t  time.Time
}

func NewFixedClock(t time.Time) *FixedClock {
	return &FixedClock{t: t}
}

func (c *FixedClock) Now() time.Time {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.t
}

func (c *FixedClock) Set(t time.Time) {
	c.mu.Lock()
	c.t = t
	c.mu.Unlock()
}

func (c *FixedClock) Advance(d time.Duration) {
	c.mu.Lock()
	c.t = c.t.Add(d)
	c.mu.Unlock()
}

// Resolver computes day keys and cutoff checks.
type Resolver struct {
	clock        Clock
	defaultZone  *time.Location
	cutoffHour   int
	cutoffMinute int

	mu    sync.RWMutex
	zones map[string]*time.Location
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithClock replaces the system clock.
func WithClock(c Clock) Option {
	return func(r *Resolver) { r.clock = c }
}

// WithCutoff sets the late-logging cutoff in local wall-clock time.
func WithCutoff(hour, minute int) Option {
	return func(r *Resolver) {
		r.cutoffHour = hour
		r.cutoffMinute = minute
	}
}

// WithDefaultZone sets the fallback zone. An unknown name keeps America/New_York.
func WithDefaultZone(name string) Option {
	return func(r *Resolver) {
		if loc, err := time.LoadLocation(name); err == nil && name != "" {
			r.defaultZone = loc
		}
	}
}

// NewResolver returns a Resolver using the system clock, America/New_York as
// the fallback zone and a 16:10 cutoff unless overridden.
func NewResolver(opts ...Option) *Resolver {
	r := &Resolver{
		clock:        SystemClock{},
		defaultZone:  mustLoad(DefaultZone),
		cutoffHour:   DefaultCutoffHour,
		cutoffMinute: DefaultCutoffMinute,
		zones:        make(map[string]*time.Location),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		// tzdata missing from the host; a fixed EST offset keeps day keys sane.
		return time.FixedZone("EST", -5*60*60)
	}
	return loc
}

// Now returns the resolver's current instant.
func (r *Resolver) Now() time.Time {
	return r.clock.Now()
}

// Location resolves tz, falling back to the default zone when tz is empty or
// unknown. It never fails.
func (r *Resolver) Location(tz string) *time.Location {
	if tz == "" {
		return r.defaultZone
	}

	r.mu.RLock()
	loc, ok := r.zones[tz]
	r.mu.RUnlock()
	if ok {
		return loc
	}

	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc = r.defaultZone
	}

	r.mu.Lock()
	r.zones[tz] = loc
	r.mu.Unlock()
	return loc
}

// ValidZone reports whether tz names a loadable IANA zone.
func ValidZone(tz string) bool {
	if tz == "" {
		return false
	}
	_, err := time.LoadLocation(tz)
	return err == nil
}

// Today returns the current day key in tz.
func (r *Resolver) Today(tz string) string {
	return r.clock.Now().In(r.Location(tz)).Format(DateLayout)
}

// IsAfterCutoff reports whether the local time in tz is at or past hour:minute.
func (r *Resolver) IsAfterCutoff(tz string, hour, minute int) bool {
	local := r.clock.Now().In(r.Location(tz))
	if local.Hour() != hour {
		return local.Hour() > hour
	}
	return local.Minute() >= minute
}

// IsLate reports whether a trade logged now counts as late logging.
func (r *Resolver) IsLate(tz string) bool {
	return r.IsAfterCutoff(tz, r.cutoffHour, r.cutoffMinute)
}

// WeekDates returns the seven day keys of the current week in tz, Monday first.
func (r *Resolver) WeekDates(tz string) []string {
	local := r.clock.Now().In(r.Location(tz))
	return weekOf(local)
}

// WeekOf returns the Monday-first week containing date. ok is false when the
// date cannot be parsed.
func WeekOf(date string) ([]string, bool) {
	d, err := time.Parse(DateLayout, date)
	if err != nil {
		return nil, false
	}
	return weekOf(d), true
}

func weekOf(local time.Time) []string {
	// Monday = 0 ... Sunday = 6
	offset := (int(local.Weekday()) + 6) % 7
	// Calendar arithmetic via AddDate stays correct across DST changes.
	monday := time.Date(local.Year(), local.Month(), local.Day(), 12, 0, 0, 0, local.Location()).AddDate(0, 0, -offset)

	dates := make([]string, 7)
	for i := range dates {
		dates[i] = monday.AddDate(0, 0, i).Format(DateLayout)
	}
	return dates
}

// HasElapsed reports whether date lies strictly before today in tz.
func (r *Resolver) HasElapsed(date, tz string) bool {
	return date < r.Today(tz)
}

// ValidDate reports whether s is a well-formed day key.
func ValidDate(s string) bool {
	_, err := time.Parse(DateLayout, s)
	return err == nil
}
