package discipline

import (
	"context"
)

// Store persists settings and day records. Implementations must make
// IncrementUsed and SubmitEOD atomic per (user, date).
type Store interface {
	// GetSettings returns nil, nil when the user has no settings.
	GetSettings(ctx context.Context, userID string) (*Settings, error)
	// SaveSettings overwrites the whole settings document.
	SaveSettings(ctx context.Context, s *Settings) error

	// GetDay returns nil, nil when no record exists.
	GetDay(ctx context.Context, userID, date string) (*DayRecord, error)
	// ListDays returns the records with from <= date <= to, ordered by date.
	ListDays(ctx context.Context, userID, from, to string) ([]*DayRecord, error)
	// EnsureDay inserts rec unless a record for its (user, date) exists, and
	// returns the stored record either way.
	EnsureDay(ctx context.Context, rec *DayRecord) (*DayRecord, error)
	// MergeDay applies patch to an existing record. ErrNotFound when absent.
	MergeDay(ctx context.Context, userID, date string, patch DayPatch) (*DayRecord, error)
	// IncrementUsed adds one trade when used < max or the day is overridden,
	// and ORs late into late_logging. ErrMaxReached when the guard fails,
	// ErrNotFound when the record is absent.
	IncrementUsed(ctx context.Context, userID, date string, late bool) (*DayRecord, error)
	// SubmitEOD records the self-report: used = max(logged, reported),
	// respected_limit, and the resulting status.
	SubmitEOD(ctx context.Context, userID, date string, reported int, respected bool) (*DayRecord, error)
}

// Publisher pushes authoritative day records to live subscribers.
type Publisher interface {
	Publish(ctx context.Context, rec DayRecord) error
}

// Subscriber delivers authoritative updates of one (user, date) key. The
// returned cancel func releases the subscription and closes the channel.
type Subscriber interface {
	Subscribe(ctx context.Context, userID, date string) (<-chan DayRecord, func(), error)
}

// Feed is a Publisher and Subscriber pair.
type Feed interface {
	Publisher
	Subscriber
}
