package discipline

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MemoryStore is an in-process Store used in tests and the "memory" driver.
type MemoryStore struct {
	mu       sync.Mutex
	settings map[string]*Settings
	days     map[string]*DayRecord
	now      func() time.Time
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		settings: make(map[string]*Settings),
		days:     make(map[string]*DayRecord),
		now:      time.Now,
	}
}

func dayKey(userID, date string) string {
	return userID + "|" + date
}

func (m *MemoryStore) GetSettings(_ context.Context, userID string) (*Settings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[userID]
	if !ok {
		return nil, nil
	}
	c := *s
	return &c, nil
}

func (m *MemoryStore) SaveSettings(_ context.Context, s *Settings) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	c := *s
	m.settings[s.UserID] = &c
	return nil
}

func (m *MemoryStore) GetDay(_ context.Context, userID, date string) (*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	return m.days[dayKey(userID, date)].Clone(), nil
}

func (m *MemoryStore) ListDays(_ context.Context, userID, from, to string) ([]*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var out []*DayRecord
	for _, r := range m.days {
		if r.UserID == userID && r.Date >= from && r.Date <= to {
			out = append(out, r.Clone())
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Date < out[j].Date })
	return out, nil
}

func (m *MemoryStore) EnsureDay(_ context.Context, rec *DayRecord) (*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := dayKey(rec.UserID, rec.Date)
	if existing, ok := m.days[key]; ok {
		return existing.Clone(), nil
	}
	c := rec.Clone()
	if c.Status == "" {
		c.Status = StatusOpen
	}
	if c.CreatedAt.IsZero() {
		c.CreatedAt = m.now()
	}
	c.UpdatedAt = c.CreatedAt
	m.days[key] = c
	return c.Clone(), nil
}

func (m *MemoryStore) MergeDay(_ context.Context, userID, date string, patch DayPatch) (*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.days[dayKey(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	patch.Apply(r)
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *MemoryStore) IncrementUsed(_ context.Context, userID, date string, late bool) (*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.days[dayKey(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	if r.Full() {
		return nil, ErrMaxReached
	}
	r.UsedTrades++
	r.LoggedTrades++
	r.LateLogging = r.LateLogging || late
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}

func (m *MemoryStore) SubmitEOD(_ context.Context, userID, date string, reported int, respected bool) (*DayRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	r, ok := m.days[dayKey(userID, date)]
	if !ok {
		return nil, ErrNotFound
	}
	r.ReportedTrades = intPtr(reported)
	r.UsedTrades = r.LoggedTrades
	if reported > r.UsedTrades {
		r.UsedTrades = reported
	}
	r.RespectedLimit = respected
	r.Status = EODStatus(respected, r.Overridden)
	r.UpdatedAt = m.now()
	return r.Clone(), nil
}
