package ledger

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/repository"
)

var usageColumns = []string{"user_id", "feature", "usage_date", "daily_count", "monthly_count", "last_reset_at", "updated_at"}

func newMockLedger(t *testing.T) (*Postgres, sqlmock.Sqlmock) {
	t.Helper()
	db, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return NewPostgres(repository.New(db)), mock
}

func TestPostgres_IncrementWithin_Applied(t *testing.T) {
	p, mock := newMockLedger(t)
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	now := time.Now()

	mock.ExpectQuery("-- name: IncrementUsageWithin").
		WithArgs("user_1", "ai_generation", day, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC), int32(2), int32(10)).
		WillReturnRows(sqlmock.NewRows(usageColumns).
			AddRow("user_1", "ai_generation", day, 1, 4, now, now))

	rec, err := p.IncrementWithin(context.Background(), "user_1", domain.FeatureAIGeneration, day, domain.Limit{Daily: 2, Monthly: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, 4, rec.MonthlyCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_IncrementWithin_LimitReached(t *testing.T) {
	p, mock := newMockLedger(t)
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("-- name: IncrementUsageWithin").
		WillReturnRows(sqlmock.NewRows(usageColumns))
	mock.ExpectQuery("-- name: GetUsageSnapshot").
		WithArgs("user_1", "ai_generation", day, time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)).
		WillReturnRows(sqlmock.NewRows([]string{"daily_count", "monthly_count", "last_reset_at"}).
			AddRow(2, 7, day))

	rec, err := p.IncrementWithin(context.Background(), "user_1", domain.FeatureAIGeneration, day, domain.Limit{Daily: 2, Monthly: 10})
	assert.ErrorIs(t, err, ErrLimitReached)
	assert.Equal(t, 2, rec.DailyCount)
	assert.Equal(t, 7, rec.MonthlyCount)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestPostgres_StorageFailureIsUnavailable(t *testing.T) {
	p, mock := newMockLedger(t)
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("-- name: IncrementUsage :one").
		WillReturnError(errors.New("connection refused"))

	_, err := p.IncrementUsage(context.Background(), "user_1", domain.FeatureAIGeneration, day)
	require.Error(t, err)
	assert.Equal(t, domain.EUNAVAILABLE, domain.ErrorCode(err))
}

func TestPostgres_GetUsage_EmptyDay(t *testing.T) {
	p, mock := newMockLedger(t)
	day := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("-- name: GetUsageSnapshot").
		WillReturnRows(sqlmock.NewRows([]string{"daily_count", "monthly_count", "last_reset_at"}).
			AddRow(0, 3, nil))

	rec, err := p.GetUsage(context.Background(), "user_1", domain.FeatureAIGeneration, day)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.DailyCount)
	assert.Equal(t, 3, rec.MonthlyCount)
	assert.Equal(t, day, rec.LastResetAt)
}

func TestPostgres_ListUsageFillsMissingFeatures(t *testing.T) {
	p, mock := newMockLedger(t)
	day := time.Date(2024, 6, 11, 0, 0, 0, 0, time.UTC)

	mock.ExpectQuery("-- name: ListUsageForDay").
		WillReturnRows(sqlmock.NewRows([]string{"feature", "daily_count", "monthly_count", "last_reset_at"}).
			AddRow("gcode_generation", 1, 9, day))

	recs, err := p.ListUsage(context.Background(), "user_1", day, domain.Features)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, 0, recs[0].DailyCount)
	assert.Equal(t, 1, recs[1].DailyCount)
	assert.Equal(t, 9, recs[1].MonthlyCount)
	assert.Equal(t, 0, recs[2].MonthlyCount)
}
