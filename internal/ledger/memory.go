package ledger

import (
	"context"
	"sync"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
)

type dayKey struct {
	userID  string
	feature domain.Feature
	date    string
}

type monthKey struct {
	userID  string
	feature domain.Feature
	month   string
}

// Memory is an in-process Ledger guarded by a single mutex. It is used in
// tests and for local runs without a database.
type Memory struct {
	mu      sync.Mutex
	daily   map[dayKey]int
	monthly map[monthKey]int
	resets  map[dayKey]time.Time
	now     func() time.Time
}

// NewMemory creates an empty in-memory ledger.
func NewMemory() *Memory {
	return &Memory{
		daily:   make(map[dayKey]int),
		monthly: make(map[monthKey]int),
		resets:  make(map[dayKey]time.Time),
		now:     time.Now,
	}
}

func (m *Memory) keys(userID string, feature domain.Feature, day time.Time) (dayKey, monthKey) {
	return dayKey{userID, feature, day.Format("2006-01-02")},
		monthKey{userID, feature, day.Format("2006-01")}
}

func (m *Memory) snapshot(userID string, feature domain.Feature, day time.Time) domain.UsageRecord {
	dk, mk := m.keys(userID, feature, day)
	rec := emptyRecord(userID, feature, day)
	rec.DailyCount = m.daily[dk]
	rec.MonthlyCount = m.monthly[mk]
	if t, ok := m.resets[dk]; ok {
		rec.LastResetAt = t
	}
	return rec
}

func (m *Memory) increment(userID string, feature domain.Feature, day time.Time) domain.UsageRecord {
	dk, mk := m.keys(userID, feature, day)
	if _, ok := m.resets[dk]; !ok {
		m.resets[dk] = m.now()
	}
	m.daily[dk]++
	m.monthly[mk]++
	return m.snapshot(userID, feature, day)
}

func (m *Memory) GetUsage(_ context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.snapshot(userID, feature, day), nil
}

func (m *Memory) IncrementUsage(_ context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.increment(userID, feature, day), nil
}

func (m *Memory) IncrementWithin(_ context.Context, userID string, feature domain.Feature, day time.Time, limit domain.Limit) (domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	current := m.snapshot(userID, feature, day)
	if current.Exceeds(limit) != "" {
		return current, ErrLimitReached
	}
	return m.increment(userID, feature, day), nil
}

func (m *Memory) ListUsage(_ context.Context, userID string, day time.Time, features []domain.Feature) ([]domain.UsageRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]domain.UsageRecord, 0, len(features))
	for _, f := range features {
		out = append(out, m.snapshot(userID, f, day))
	}
	return out, nil
}
