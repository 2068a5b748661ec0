//go:build integration

package ledger

import (
	"context"
	"database/sql"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/pressly/goose/v3"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/modules/postgres"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/sync/errgroup"

	"github.com/DukeRupert/kerf/internal/domain"
	"github.com/DukeRupert/kerf/internal/migrations"
	"github.com/DukeRupert/kerf/internal/repository"
)

func setupPostgres(t *testing.T) *sql.DB {
	t.Helper()
	ctx := context.Background()

	container, err := postgres.Run(ctx, "postgres:16-alpine",
		postgres.WithDatabase("kerf_test"),
		postgres.WithUsername("kerf"),
		postgres.WithPassword("kerf"),
		testcontainers.WithWaitStrategy(
			wait.ForLog("database system is ready to accept connections").
				WithOccurrence(2).
				WithStartupTimeout(60*time.Second)),
	)
	require.NoError(t, err)
	t.Cleanup(func() { _ = container.Terminate(ctx) })

	dsn, err := container.ConnectionString(ctx, "sslmode=disable")
	require.NoError(t, err)

	db, err := sql.Open("pgx", dsn)
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	goose.SetBaseFS(migrations.FS)
	require.NoError(t, goose.SetDialect("postgres"))
	require.NoError(t, goose.Up(db, "."))
	return db
}

func TestPostgresIntegration_ConcurrentConsumeHonoursLimit(t *testing.T) {
	db := setupPostgres(t)
	db.SetMaxOpenConns(20)
	ledger := NewPostgres(repository.New(db))
	ctx := context.Background()
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	limit := domain.Limit{Daily: 5, Monthly: 100}

	var allowed atomic.Int32
	var g errgroup.Group
	for i := 0; i < 40; i++ {
		g.Go(func() error {
			_, err := ledger.IncrementWithin(ctx, "user_1", domain.FeatureAIGeneration, day, limit)
			if errors.Is(err, ErrLimitReached) {
				return nil
			}
			if err == nil {
				allowed.Add(1)
			}
			return err
		})
	}
	require.NoError(t, g.Wait())

	assert.Equal(t, int32(5), allowed.Load())
	rec, err := ledger.GetUsage(ctx, "user_1", domain.FeatureAIGeneration, day)
	require.NoError(t, err)
	assert.Equal(t, 5, rec.DailyCount)
	assert.Equal(t, 5, rec.MonthlyCount)
}

func TestPostgresIntegration_ConcurrentIncrementCountsEveryCall(t *testing.T) {
	db := setupPostgres(t)
	db.SetMaxOpenConns(20)
	ledger := NewPostgres(repository.New(db))
	ctx := context.Background()
	day := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	const calls = 50

	// No row exists yet, so every goroutine races on the first insert.
	var g errgroup.Group
	for i := 0; i < calls; i++ {
		g.Go(func() error {
			_, err := ledger.IncrementUsage(ctx, "user_1", domain.FeatureAIGeneration, day)
			return err
		})
	}
	require.NoError(t, g.Wait())

	rec, err := ledger.GetUsage(ctx, "user_1", domain.FeatureAIGeneration, day)
	require.NoError(t, err)
	assert.Equal(t, calls, rec.DailyCount)
	assert.Equal(t, calls, rec.MonthlyCount)
}

func TestPostgresIntegration_MonthlyCarriesAcrossDays(t *testing.T) {
	db := setupPostgres(t)
	ledger := NewPostgres(repository.New(db))
	ctx := context.Background()
	day1 := time.Date(2024, 6, 10, 0, 0, 0, 0, time.UTC)
	day2 := NextDay(day1)

	for i := 0; i < 2; i++ {
		_, err := ledger.IncrementUsage(ctx, "user_1", domain.FeatureGCodeGeneration, day1)
		require.NoError(t, err)
	}

	before, err := ledger.GetUsage(ctx, "user_1", domain.FeatureGCodeGeneration, day2)
	require.NoError(t, err)
	assert.Equal(t, 0, before.DailyCount)
	assert.Equal(t, 2, before.MonthlyCount)

	rec, err := ledger.IncrementWithin(ctx, "user_1", domain.FeatureGCodeGeneration, day2, domain.Limit{Daily: 2, Monthly: 3})
	require.NoError(t, err)
	assert.Equal(t, 1, rec.DailyCount)
	assert.Equal(t, 3, rec.MonthlyCount)

	_, err = ledger.IncrementWithin(ctx, "user_1", domain.FeatureGCodeGeneration, day2, domain.Limit{Daily: 2, Monthly: 3})
	assert.ErrorIs(t, err, ErrLimitReached, "monthly limit denies even though the daily window has room")

	nextMonth, err := ledger.GetUsage(ctx, "user_1", domain.FeatureGCodeGeneration, NextMonth(day2))
	require.NoError(t, err)
	assert.Equal(t, 0, nextMonth.MonthlyCount)
}
