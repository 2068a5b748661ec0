// Package ledger stores per-user, per-feature usage counters.
//
// Counts are kept per calendar day in the billing timezone. A new day starts
// a fresh daily counter without any explicit reset step: the first increment
// of a day creates its record, and a read for a day with no record returns a
// zero daily count. Monthly totals carry forward from the latest earlier day
// of the same month.
//
// Every backend must make IncrementWithin atomic: two concurrent callers
// racing for the last unit of a limit must not both succeed.
package ledger

import (
	"context"
	"errors"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
)

// ErrLimitReached is returned by IncrementWithin when the increment would
// exceed the daily or monthly limit. The counters are left unchanged.
var ErrLimitReached = errors.New("ledger: limit reached")

// Ledger is the durable usage store.
//
// The day argument is midnight of the calendar day in the billing timezone,
// as returned by Day.
type Ledger interface {
	// GetUsage returns the counters for one feature. A day with no usage
	// returns zero counts and never an error.
	GetUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error)

	// IncrementUsage unconditionally adds one use and returns the new counts.
	IncrementUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error)

	// IncrementWithin adds one use only if neither window of limit is already
	// used up. On ErrLimitReached the returned record holds the current
	// counts.
	IncrementWithin(ctx context.Context, userID string, feature domain.Feature, day time.Time, limit domain.Limit) (domain.UsageRecord, error)

	// ListUsage returns one record per requested feature, in the order given.
	ListUsage(ctx context.Context, userID string, day time.Time, features []domain.Feature) ([]domain.UsageRecord, error)
}

// Day returns midnight of the calendar day containing t in loc.
func Day(t time.Time, loc *time.Location) time.Time {
	if loc == nil {
		loc = time.UTC
	}
	t = t.In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// MonthStart returns midnight of the first day of day's month.
func MonthStart(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), 1, 0, 0, 0, 0, day.Location())
}

// NextDay returns the start of the day after day. This is when a daily
// window resets.
func NextDay(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day()+1, 0, 0, 0, 0, day.Location())
}

// NextMonth returns the first day of the month after day's month.
func NextMonth(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month()+1, 1, 0, 0, 0, 0, day.Location())
}

// dateValue converts a billing-timezone day into the UTC midnight value a
// DATE column stores, so the driver never shifts it across a day boundary.
func dateValue(day time.Time) time.Time {
	return time.Date(day.Year(), day.Month(), day.Day(), 0, 0, 0, 0, time.UTC)
}

func emptyRecord(userID string, feature domain.Feature, day time.Time) domain.UsageRecord {
	return domain.UsageRecord{
		UserID:      userID,
		Feature:     feature,
		Day:         day,
		LastResetAt: day,
	}
}
