package ledger

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/repository"
)

// Postgres is the Ledger backed by the usage_records table. Each increment is
// a single INSERT ... ON CONFLICT DO UPDATE statement, so the row lock taken
// by the conflict arbiter serialises concurrent writers for the same day.
type Postgres struct {
	queries *repository.Queries
}

// NewPostgres creates a ledger over the given queries.
func NewPostgres(queries *repository.Queries) *Postgres {
	return &Postgres{queries: queries}
}

func (p *Postgres) GetUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	const op = "ledger.postgres.get_usage"

	row, err := p.queries.GetUsageSnapshot(ctx, repository.GetUsageSnapshotParams{
		UserID:     userID,
		Feature:    string(feature),
		UsageDate:  dateValue(day),
		MonthStart: dateValue(MonthStart(day)),
	})
	if err != nil {
		return domain.UsageRecord{}, domain.StorageUnavailable(err, op, "Usage could not be read")
	}

	rec := emptyRecord(userID, feature, day)
	rec.DailyCount = int(row.DailyCount)
	rec.MonthlyCount = int(row.MonthlyCount)
	if row.LastResetAt.Valid {
		rec.LastResetAt = row.LastResetAt.Time
	}
	return rec, nil
}

func (p *Postgres) IncrementUsage(ctx context.Context, userID string, feature domain.Feature, day time.Time) (domain.UsageRecord, error) {
	const op = "ledger.postgres.increment_usage"

	row, err := p.queries.IncrementUsage(ctx, repository.IncrementUsageParams{
		UserID:     userID,
		Feature:    string(feature),
		UsageDate:  dateValue(day),
		MonthStart: dateValue(MonthStart(day)),
	})
	if err != nil {
		return domain.UsageRecord{}, domain.StorageUnavailable(err, op, "Usage could not be recorded")
	}
	return toRecord(row, day), nil
}

func (p *Postgres) IncrementWithin(ctx context.Context, userID string, feature domain.Feature, day time.Time, limit domain.Limit) (domain.UsageRecord, error) {
	const op = "ledger.postgres.increment_within"

	row, err := p.queries.IncrementUsageWithin(ctx, repository.IncrementUsageWithinParams{
		UserID:       userID,
		Feature:      string(feature),
		UsageDate:    dateValue(day),
		MonthStart:   dateValue(MonthStart(day)),
		DailyLimit:   int32(limit.Daily),
		MonthlyLimit: int32(limit.Monthly),
	})
	if errors.Is(err, sql.ErrNoRows) {
		// Nothing inserted or updated: one of the windows is used up.
		current, getErr := p.GetUsage(ctx, userID, feature, day)
		if getErr != nil {
			return domain.UsageRecord{}, getErr
		}
		return current, ErrLimitReached
	}
	if err != nil {
		return domain.UsageRecord{}, domain.StorageUnavailable(err, op, "Usage could not be recorded")
	}
	return toRecord(row, day), nil
}

func (p *Postgres) ListUsage(ctx context.Context, userID string, day time.Time, features []domain.Feature) ([]domain.UsageRecord, error) {
	const op = "ledger.postgres.list_usage"

	names := make([]string, len(features))
	for i, f := range features {
		names[i] = string(f)
	}

	rows, err := p.queries.ListUsageForDay(ctx, repository.ListUsageForDayParams{
		Features:   names,
		UserID:     userID,
		UsageDate:  dateValue(day),
		MonthStart: dateValue(MonthStart(day)),
	})
	if err != nil {
		return nil, domain.StorageUnavailable(err, op, "Usage could not be read")
	}

	byFeature := make(map[string]repository.ListUsageForDayRow, len(rows))
	for _, r := range rows {
		byFeature[r.Feature] = r
	}

	out := make([]domain.UsageRecord, 0, len(features))
	for _, f := range features {
		rec := emptyRecord(userID, f, day)
		if r, ok := byFeature[string(f)]; ok {
			rec.DailyCount = int(r.DailyCount)
			rec.MonthlyCount = int(r.MonthlyCount)
			if r.LastResetAt.Valid {
				rec.LastResetAt = r.LastResetAt.Time
			}
		}
		out = append(out, rec)
	}
	return out, nil
}

func toRecord(row repository.UsageRecord, day time.Time) domain.UsageRecord {
	return domain.UsageRecord{
		UserID:       row.UserID,
		Feature:      domain.Feature(row.Feature),
		Day:          day,
		DailyCount:   int(row.DailyCount),
		MonthlyCount: int(row.MonthlyCount),
		LastResetAt:  row.LastResetAt,
	}
}
